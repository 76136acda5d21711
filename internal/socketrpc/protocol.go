package socketrpc

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
	"github.com/tinytelemetry/tally/internal/model"
)

// JSON-RPC 2.0 Method Reference
//
// The socket RPC server exposes the engine over a Unix domain socket, one
// request and one response per line.
//
//   Method           Params                                                   Result
//   ──────────────   ──────────────────────────────────────────────────────   ───────────────────
//   RecordEvent      {type, payload, user_id}                                 string (event id)
//   RecordMetric     {metric, value, tags, user_id}                           null
//   GetMetricData    {metric, window, user_id}                                MetricData | null
//   GenerateReport   {report, window, user_id}                                ReportResult
//   GetDashboard     {dashboard, user_id}                                     DashboardView
//   ExportData       {window, format, include_metrics, include_events}        ExportSnapshot
//   CleanupOldData   {max_age_ms}                                             int64
//   SystemStats      (none)                                                   SystemStats
//   ListDashboards   (none)                                                   []DashboardDefinition
//
// Error codes follow JSON-RPC 2.0:
//   -32700  Parse error (malformed JSON)
//   -32601  Method not found
//   -32602  Invalid params
//   -32603  Internal error (marshal failure)
//   -32000  Application error; data names the engine error kind

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

// Unwrap restores the engine sentinel named by Data, so errors.Is works on
// the client side.
func (e *RPCError) Unwrap() error {
	return errorKinds[e.Data]
}

const (
	codeParse          = -32700
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
	codeApplication    = -32000
)

var errorKinds = map[string]error{
	"metric_not_found":    model.ErrMetricNotFound,
	"report_not_found":    model.ErrReportNotFound,
	"dashboard_not_found": model.ErrDashboardNotFound,
	"user_scope_required": model.ErrUserScopeRequired,
	"invalid_window":      model.ErrInvalidWindow,
	"unsupported_format":  model.ErrUnsupportedFormat,
	"non_finite_value":    model.ErrNonFiniteValue,
}

func errorKind(err error) string {
	for kind, sentinel := range errorKinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return ""
}

type recordEventParams struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
	UserID  string         `json:"user_id,omitempty"`
}

type recordMetricParams struct {
	Metric string            `json:"metric"`
	Value  float64           `json:"value"`
	Tags   map[string]string `json:"tags,omitempty"`
	UserID string            `json:"user_id,omitempty"`
}

type metricParams struct {
	Metric string `json:"metric"`
	Window string `json:"window,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

type reportParams struct {
	Report string `json:"report"`
	Window string `json:"window,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

type dashboardParams struct {
	Dashboard string `json:"dashboard"`
	UserID    string `json:"user_id,omitempty"`
}

type cleanupParams struct {
	MaxAgeMS int64 `json:"max_age_ms"`
}

// DefaultSocketPath returns the default Unix socket path.
// It prefers $XDG_RUNTIME_DIR/tally/tally.sock, falling back to
// ~/.local/state/tally/tally.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "tally", "tally.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/tally.sock"
	}
	return filepath.Join(home, ".local", "state", "tally", "tally.sock")
}
