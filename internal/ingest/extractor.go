package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// LineKind says what a decoded ingest line carries.
type LineKind int

const (
	LineEvent LineKind = iota + 1
	LineMetric
)

func (k LineKind) String() string {
	switch k {
	case LineEvent:
		return "event"
	case LineMetric:
		return "metric"
	}
	return "unknown"
}

// ErrUnrecognizedLine is returned for JSON objects that name neither an
// event type nor a metric.
var ErrUnrecognizedLine = errors.New("line is neither an event nor a metric")

// Line is one decoded ingest line.
type Line struct {
	Kind    LineKind
	Type    string
	Metric  string
	Value   float64
	Tags    map[string]string
	UserID  string
	Payload map[string]any
}

// ParseLine decodes one newline-delimited JSON object:
//
//	{"event":"user_message","user_id":"u1","payload":{...}}
//	{"metric":"response_time","value":12.5,"tags":{"endpoint":"/x"},"user_id":"u1"}
func ParseLine(line string) (*Line, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &raw); err != nil {
		return nil, fmt.Errorf("decode line: %w", err)
	}

	userID := ExtractStringField(raw, "user_id", "userId")

	if metric := ExtractStringField(raw, "metric", "metric_id"); metric != "" {
		value, err := numberField(raw, "value")
		if err != nil {
			return nil, fmt.Errorf("metric %s: %w", metric, err)
		}
		return &Line{
			Kind:   LineMetric,
			Metric: metric,
			Value:  value,
			Tags:   stringMap(raw["tags"]),
			UserID: userID,
		}, nil
	}

	if eventType := ExtractStringField(raw, "event", "type"); eventType != "" {
		payload, _ := raw["payload"].(map[string]any)
		if payload == nil {
			payload, _ = raw["data"].(map[string]any)
		}
		return &Line{
			Kind:    LineEvent,
			Type:    eventType,
			Payload: payload,
			UserID:  userID,
		}, nil
	}

	return nil, ErrUnrecognizedLine
}

// ExtractStringField returns the first non-empty string value found among the given keys.
func ExtractStringField(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k]; ok {
			if str := stringifyJSONValue(v); str != "" {
				return str
			}
		}
	}
	return ""
}

func stringMap(value any) map[string]string {
	obj, ok := value.(map[string]any)
	if !ok || len(obj) == 0 {
		return nil
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		if s := stringifyJSONValue(v); s != "" {
			out[k] = s
		}
	}
	return out
}

func stringifyJSONValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64, bool:
		return fmt.Sprintf("%v", v)
	case int, int64, uint64:
		return fmt.Sprintf("%d", v)
	default:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
	}
	return ""
}
