package query

import (
	"sync"
	"time"

	"github.com/tinytelemetry/tally/internal/model"
)

// Usage counts report generations and dashboard accesses. It lives beside
// the immutable registry rather than inside it.
type Usage struct {
	mu         sync.Mutex
	reports    map[string]model.UsageStats
	dashboards map[string]model.UsageStats
}

// NewUsage creates an empty tracker.
func NewUsage() *Usage {
	return &Usage{
		reports:    make(map[string]model.UsageStats),
		dashboards: make(map[string]model.UsageStats),
	}
}

// ReportGenerated records one generation of reportID.
func (u *Usage) ReportGenerated(reportID string, at time.Time) model.UsageStats {
	return u.bump(u.reports, reportID, at)
}

// DashboardAccessed records one access of dashboardID.
func (u *Usage) DashboardAccessed(dashboardID string, at time.Time) model.UsageStats {
	return u.bump(u.dashboards, dashboardID, at)
}

func (u *Usage) bump(m map[string]model.UsageStats, id string, at time.Time) model.UsageStats {
	u.mu.Lock()
	defer u.mu.Unlock()
	s := m[id]
	s.Count++
	s.Last = at
	m[id] = s
	return s
}

// Report returns the generation stats of reportID.
func (u *Usage) Report(reportID string) model.UsageStats {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.reports[reportID]
}

// Dashboard returns the access stats of dashboardID.
func (u *Usage) Dashboard(dashboardID string) model.UsageStats {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.dashboards[dashboardID]
}
