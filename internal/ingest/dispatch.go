package ingest

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/tinytelemetry/tally/internal/model"
)

// handler maps one event onto zero or more metric records.
type handler func(rec model.MetricRecorder, ev *model.Event) error

// handlers is the static event dispatch table.
var handlers = map[string]handler{
	"user_message": func(rec model.MetricRecorder, ev *model.Event) error {
		return errors.Join(
			record(rec, "messages_processed", 1, map[string]string{"type": "user"}, ev.UserID),
			record(rec, "user_sessions", 1, nil, ev.UserID),
		)
	},
	"document_analyzed": func(rec model.MetricRecorder, ev *model.Event) error {
		elapsed, err := numberField(ev.Payload, "processing_time")
		if err != nil {
			return err
		}
		return errors.Join(
			record(rec, "documents_analyzed", 1, tagsOf(ev.Payload, "document_type"), ev.UserID),
			record(rec, "document_processing_time", elapsed, nil, ev.UserID),
		)
	},
	"inn_check": func(rec model.MetricRecorder, ev *model.Event) error {
		result := "failure"
		if truthy(ev.Payload["result"]) {
			result = "success"
		}
		return record(rec, "inn_checks_performed", 1, map[string]string{"result": result}, ev.UserID)
	},
	"contract_generated": func(rec model.MetricRecorder, ev *model.Event) error {
		return record(rec, "contracts_generated", 1, tagsOf(ev.Payload, "template"), ev.UserID)
	},
	"ai_response": func(rec model.MetricRecorder, ev *model.Event) error {
		elapsed, err := numberField(ev.Payload, "processing_time")
		if err != nil {
			return err
		}
		return record(rec, "ai_processing_time", elapsed, tagsOf(ev.Payload, "model"), ev.UserID)
	},
	"response_time": func(rec model.MetricRecorder, ev *model.Event) error {
		elapsed, err := numberField(ev.Payload, "time")
		if err != nil {
			return err
		}
		return record(rec, "response_time", elapsed, tagsOf(ev.Payload, "endpoint"), ev.UserID)
	},
	"error": func(rec model.MetricRecorder, ev *model.Event) error {
		return record(rec, "error_rate", 1, tagsOf(ev.Payload, "error_type"), ev.UserID)
	},
	"system_failure":  failureHandler,
	"security_breach": failureHandler,
	"feature_used": func(rec model.MetricRecorder, ev *model.Event) error {
		return record(rec, "feature_usage", 1, tagsOf(ev.Payload, "feature_name"), ev.UserID)
	},
}

func failureHandler(rec model.MetricRecorder, ev *model.Event) error {
	return record(rec, "error_rate", 1, map[string]string{"error_type": ev.Type}, ev.UserID)
}

// criticalTypes are mapped synchronously inside RecordEvent.
var criticalTypes = map[string]struct{}{
	"error":           {},
	"system_failure":  {},
	"security_breach": {},
}

// IsCritical reports whether eventType takes the synchronous fast path.
func IsCritical(eventType string) bool {
	_, ok := criticalTypes[eventType]
	return ok
}

// EventTypes returns the mapped event types, sorted.
func EventTypes() []string {
	types := make([]string, 0, len(handlers))
	for t := range handlers {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Apply maps ev onto metric records. Unknown types map to nothing. Any
// failure, including a handler panic, comes back as *model.EventProcessingError.
func Apply(rec model.MetricRecorder, ev *model.Event) (err error) {
	h, ok := handlers[ev.Type]
	if !ok {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = &model.EventProcessingError{EventID: ev.ID, EventType: ev.Type, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if herr := h(rec, ev); herr != nil {
		return &model.EventProcessingError{EventID: ev.ID, EventType: ev.Type, Err: herr}
	}
	return nil
}

// record forwards to rec. An unregistered metric is already logged by the
// store and does not fail the event.
func record(rec model.MetricRecorder, metricID string, value float64, tags map[string]string, userID string) error {
	err := rec.RecordMetric(metricID, value, tags, userID)
	if errors.Is(err, model.ErrMetricNotFound) {
		return nil
	}
	return err
}

// numberField reads a numeric payload value.
func numberField(payload map[string]any, key string) (float64, error) {
	raw, ok := payload[key]
	if !ok || raw == nil {
		return 0, fmt.Errorf("payload field %q missing", key)
	}
	var v float64
	switch n := raw.(type) {
	case float64:
		v = n
	case float32:
		v = float64(n)
	case int:
		v = float64(n)
	case int32:
		v = float64(n)
	case int64:
		v = float64(n)
	case uint:
		v = float64(n)
	case uint32:
		v = float64(n)
	case uint64:
		v = float64(n)
	case interface{ Float64() (float64, error) }:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("payload field %q: %w", key, err)
		}
		v = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("payload field %q is not numeric: %q", key, n)
		}
		v = f
	default:
		return 0, fmt.Errorf("payload field %q is not numeric (%T)", key, raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("payload field %q is not finite", key)
	}
	return v, nil
}

// stringField renders a payload value as a tag value. Missing or nil is "".
func stringField(payload map[string]any, key string) string {
	switch v := payload[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// tagsOf builds a tag map from the named payload keys, skipping empty values.
func tagsOf(payload map[string]any, keys ...string) map[string]string {
	var tags map[string]string
	for _, k := range keys {
		if s := stringField(payload, k); s != "" {
			if tags == nil {
				tags = make(map[string]string, len(keys))
			}
			tags[k] = s
		}
	}
	return tags
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0 && !math.IsNaN(t)
	case int:
		return t != 0
	case int64:
		return t != 0
	}
	return true
}
