package socketrpc

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/tinytelemetry/tally/internal/model"
)

var _ model.API = (*Client)(nil)

// Client implements model.API over a Unix domain socket.
type Client struct {
	conn    net.Conn
	mu      sync.Mutex
	nextID  int
	scanner *bufio.Scanner
	encoder *json.Encoder
	timeout time.Duration
}

// Dial connects to the socket RPC server at socketPath.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("socketrpc: dial: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	return &Client{
		conn:    conn,
		scanner: scanner,
		encoder: json.NewEncoder(conn),
		timeout: 30 * time.Second,
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call performs one request and unmarshals the result into dest.
func (c *Client) call(method string, params any, dest any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	req := Request{JSONRPC: "2.0", ID: c.nextID, Method: method}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("socketrpc: marshal params: %w", err)
		}
		req.Params = data
	}

	c.conn.SetDeadline(time.Now().Add(c.timeout))
	defer c.conn.SetDeadline(time.Time{})

	if err := c.encoder.Encode(req); err != nil {
		return fmt.Errorf("socketrpc: send: %w", err)
	}
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return fmt.Errorf("socketrpc: read: %w", err)
		}
		return fmt.Errorf("socketrpc: connection closed")
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("socketrpc: unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if dest != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, dest); err != nil {
			return fmt.Errorf("socketrpc: unmarshal result: %w", err)
		}
	}
	return nil
}

// RecordEvent forwards an event. A transport failure yields an empty id.
func (c *Client) RecordEvent(eventType string, payload map[string]any, userID string) string {
	var id string
	if err := c.call("RecordEvent", recordEventParams{Type: eventType, Payload: payload, UserID: userID}, &id); err != nil {
		log.WithError(err).Warn("RecordEvent")
		return ""
	}
	return id
}

func (c *Client) RecordMetric(metricID string, value float64, tags map[string]string, userID string) error {
	return c.call("RecordMetric", recordMetricParams{Metric: metricID, Value: value, Tags: tags, UserID: userID}, nil)
}

func (c *Client) GetMetricData(metricID, window, userID string) (*model.MetricData, error) {
	var md *model.MetricData
	err := c.call("GetMetricData", metricParams{Metric: metricID, Window: window, UserID: userID}, &md)
	return md, err
}

func (c *Client) GenerateReport(reportID string, opts model.ReportOptions) (*model.ReportResult, error) {
	var r *model.ReportResult
	err := c.call("GenerateReport", reportParams{Report: reportID, Window: opts.Window, UserID: opts.UserID}, &r)
	return r, err
}

func (c *Client) GetDashboard(dashboardID, userID string) (*model.DashboardView, error) {
	var v *model.DashboardView
	err := c.call("GetDashboard", dashboardParams{Dashboard: dashboardID, UserID: userID}, &v)
	return v, err
}

func (c *Client) ExportData(opts model.ExportOptions) (*model.ExportSnapshot, error) {
	var snap *model.ExportSnapshot
	err := c.call("ExportData", opts, &snap)
	return snap, err
}

// CleanupOldData asks the server to prune. Failures are logged and count
// as nothing removed.
func (c *Client) CleanupOldData(maxAge time.Duration) int64 {
	var removed int64
	if err := c.call("CleanupOldData", cleanupParams{MaxAgeMS: maxAge.Milliseconds()}, &removed); err != nil {
		log.WithError(err).Warn("CleanupOldData")
		return 0
	}
	return removed
}

// Stats fetches the server's SystemStats.
func (c *Client) Stats() (model.SystemStats, error) {
	var st model.SystemStats
	err := c.call("SystemStats", nil, &st)
	return st, err
}

// SystemStats is Stats with failures logged and reported as zero.
func (c *Client) SystemStats() model.SystemStats {
	st, err := c.Stats()
	if err != nil {
		log.WithError(err).Warn("SystemStats")
	}
	return st
}

// ListDashboards returns the server's dashboard definitions.
func (c *Client) ListDashboards() ([]model.DashboardDefinition, error) {
	var defs []model.DashboardDefinition
	err := c.call("ListDashboards", nil, &defs)
	return defs, err
}
