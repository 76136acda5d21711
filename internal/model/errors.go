package model

import (
	"errors"
	"fmt"
)

var (
	ErrMetricNotFound    = errors.New("metric not found")
	ErrReportNotFound    = errors.New("report not found")
	ErrDashboardNotFound = errors.New("dashboard not found")
	ErrUserScopeRequired = errors.New("user id required for user-specific dashboard")
	ErrInvalidWindow     = errors.New("invalid window")
	ErrUnsupportedFormat = errors.New("unsupported export format")
	ErrNonFiniteValue    = errors.New("value is not a finite number")
)

// EventProcessingError reports a failure mapping one event to metrics.
// The event is still marked processed; there is no retry.
type EventProcessingError struct {
	EventID   string
	EventType string
	Err       error
}

func (e *EventProcessingError) Error() string {
	return fmt.Sprintf("process event %s (%s): %v", e.EventID, e.EventType, e.Err)
}

func (e *EventProcessingError) Unwrap() error { return e.Err }
