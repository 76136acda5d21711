// Package socketrpc serves the engine to local clients over JSON-RPC 2.0 on
// a Unix domain socket.
package socketrpc

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
	"github.com/tinytelemetry/tally/internal/model"
)

var log = logrus.WithField("component", "socketrpc")

const (
	// scannerInitBufSize is the initial buffer size for the per-connection scanner (1 MB).
	scannerInitBufSize = 1024 * 1024
	// scannerMaxTokenSize is the maximum token size the scanner will accept (10 MB).
	scannerMaxTokenSize = 10 * 1024 * 1024
)

// Catalog lists dashboard definitions for clients that pick one.
type Catalog interface {
	Dashboards() []model.DashboardDefinition
}

// Server exposes a model.API over a Unix domain socket.
type Server struct {
	socketPath string
	api        model.API
	catalog    Catalog
	listener   net.Listener
	wg         sync.WaitGroup
	quit       chan struct{}
	stopOnce   sync.Once

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

// NewServer creates a new socket RPC server. catalog may be nil.
func NewServer(socketPath string, api model.API, catalog Catalog) *Server {
	return &Server{
		socketPath: socketPath,
		api:        api,
		catalog:    catalog,
		quit:       make(chan struct{}),
		conns:      make(map[net.Conn]struct{}),
	}
}

// Start begins listening on the Unix socket and accepting connections.
func (s *Server) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("socketrpc: mkdir: %w", err)
	}

	// A socket file nobody answers on is stale.
	if _, err := os.Stat(s.socketPath); err == nil {
		conn, dialErr := net.DialTimeout("unix", s.socketPath, 500*time.Millisecond)
		if dialErr != nil {
			os.Remove(s.socketPath)
		} else {
			conn.Close()
			return fmt.Errorf("socketrpc: another server is already listening on %s", s.socketPath)
		}
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("socketrpc: listen: %w", err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptLoop()

	log.WithField("path", s.socketPath).Info("listening")
	return nil
}

// Stop closes the listener and open connections, waits for handlers and
// removes the socket file.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			s.listener.Close()
		}
		s.connsMu.Lock()
		for c := range s.conns {
			c.Close()
		}
		s.connsMu.Unlock()
		s.wg.Wait()
		os.Remove(s.socketPath)
	})
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				// transient (e.g. fd limit); keep accepting
				log.WithError(err).Warn("accept")
				continue
			}
		}
		s.connsMu.Lock()
		s.conns[conn] = struct{}{}
		s.connsMu.Unlock()

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.connsMu.Lock()
		delete(s.conns, conn)
		s.connsMu.Unlock()
		conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		select {
		case <-s.quit:
			return
		default:
		}

		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			_ = encoder.Encode(Response{JSONRPC: "2.0", Error: &RPCError{Code: codeParse, Message: "parse error"}})
			continue
		}
		if err := encoder.Encode(s.dispatch(req)); err != nil {
			return
		}
	}
}

// decode unmarshals params into dst. Empty or null params leave dst zero.
func decode(params json.RawMessage, dst any) error {
	if len(params) == 0 || string(params) == "null" {
		return nil
	}
	return json.Unmarshal(params, dst)
}

func (s *Server) dispatch(req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	result := func(v any, err error) Response {
		if err != nil {
			resp.Error = &RPCError{Code: codeApplication, Message: err.Error(), Data: errorKind(err)}
			return resp
		}
		data, merr := json.Marshal(v)
		if merr != nil {
			resp.Error = &RPCError{Code: codeInternal, Message: merr.Error()}
			return resp
		}
		resp.Result = data
		return resp
	}
	invalid := func(err error) Response {
		resp.Error = &RPCError{Code: codeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
		return resp
	}

	switch req.Method {
	case "RecordEvent":
		var p recordEventParams
		if err := decode(req.Params, &p); err != nil {
			return invalid(err)
		}
		if p.Type == "" {
			return invalid(fmt.Errorf("type is required"))
		}
		return result(s.api.RecordEvent(p.Type, p.Payload, p.UserID), nil)

	case "RecordMetric":
		var p recordMetricParams
		if err := decode(req.Params, &p); err != nil {
			return invalid(err)
		}
		return result(nil, s.api.RecordMetric(p.Metric, p.Value, p.Tags, p.UserID))

	case "GetMetricData":
		var p metricParams
		if err := decode(req.Params, &p); err != nil {
			return invalid(err)
		}
		return result(s.api.GetMetricData(p.Metric, p.Window, p.UserID))

	case "GenerateReport":
		var p reportParams
		if err := decode(req.Params, &p); err != nil {
			return invalid(err)
		}
		return result(s.api.GenerateReport(p.Report, model.ReportOptions{Window: p.Window, UserID: p.UserID}))

	case "GetDashboard":
		var p dashboardParams
		if err := decode(req.Params, &p); err != nil {
			return invalid(err)
		}
		return result(s.api.GetDashboard(p.Dashboard, p.UserID))

	case "ExportData":
		var p model.ExportOptions
		if err := decode(req.Params, &p); err != nil {
			return invalid(err)
		}
		return result(s.api.ExportData(p))

	case "CleanupOldData":
		var p cleanupParams
		if err := decode(req.Params, &p); err != nil {
			return invalid(err)
		}
		if p.MaxAgeMS <= 0 {
			return invalid(fmt.Errorf("max_age_ms must be positive"))
		}
		return result(s.api.CleanupOldData(model.MaxAgeFromMillis(p.MaxAgeMS)), nil)

	case "SystemStats":
		return result(s.api.SystemStats(), nil)

	case "ListDashboards":
		if s.catalog == nil {
			return result([]model.DashboardDefinition{}, nil)
		}
		return result(s.catalog.Dashboards(), nil)

	default:
		resp.Error = &RPCError{Code: codeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
		return resp
	}
}
