package tui

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinytelemetry/tally/internal/model"
)

type fakeClient struct {
	defs  []model.DashboardDefinition
	views map[string]*model.DashboardView
	calls []string
}

func (c *fakeClient) ListDashboards() ([]model.DashboardDefinition, error) {
	return c.defs, nil
}

func (c *fakeClient) GetDashboard(id, userID string) (*model.DashboardView, error) {
	c.calls = append(c.calls, id+"/"+userID)
	if v, ok := c.views[id]; ok {
		return v, nil
	}
	return nil, model.ErrUserScopeRequired
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		defs: []model.DashboardDefinition{
			{ID: "executive_dashboard", Name: "Executive", RefreshInterval: 5 * time.Minute},
			{ID: "performance_dashboard", Name: "Performance", RefreshInterval: 30 * time.Second},
			{ID: "user_dashboard", Name: "User", UserSpecific: true},
		},
		views: map[string]*model.DashboardView{
			"executive_dashboard": {
				ID:              "executive_dashboard",
				Name:            "Executive",
				RefreshInterval: 5 * time.Minute,
				Widgets: []model.WidgetView{
					{
						WidgetDefinition: model.WidgetDefinition{Type: "metric_card", Title: "Daily Users"},
						Card:             &model.CardData{Value: 1200, Change: 12.5, FormattedValue: "1.2K"},
					},
					{
						WidgetDefinition: model.WidgetDefinition{Type: "chart", Title: "Engagement"},
						Chart: &model.ChartData{
							Window: model.Window7d,
							Labels: []string{"sum", "avg"},
							Datasets: []model.Dataset{
								{Metric: "messages_processed", Values: map[model.AggKind]float64{model.AggSum: 42, model.AggAvg: 1.5}},
								{Metric: "feature_usage", Values: map[model.AggKind]float64{model.AggSum: 7}},
							},
						},
					},
				},
			},
			"performance_dashboard": {ID: "performance_dashboard", Name: "Performance"},
		},
	}
}

func newTestPage(client DashboardClient, conf ...Config) *DashboardPage {
	p := NewDashboardPage(client, conf...)
	p.tick = func(time.Duration, func(time.Time) tea.Msg) tea.Cmd {
		return func() tea.Msg { return nil }
	}
	return p
}

// run executes cmd and feeds every resulting message back into the page.
func run(p *DashboardPage, cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	switch msg := cmd().(type) {
	case tea.BatchMsg:
		for _, c := range msg {
			run(p, c)
		}
	case nil:
	default:
		next, _ := p.Update(msg)
		run(p, next)
	}
}

func TestDashboardPageLoadsCatalogAndFirstDashboard(t *testing.T) {
	client := newFakeClient()
	p := newTestPage(client)
	run(p, p.Init())

	require.Len(t, p.dashboards, 3)
	require.NotNil(t, p.view)
	assert.Equal(t, "executive_dashboard", p.view.ID)
	assert.Equal(t, 5*time.Minute, p.refreshInterval())
	assert.Len(t, p.table.Rows(), 3, "two labels for messages, one for feature usage")

	out := p.View(120, 40)
	assert.Contains(t, out, "Daily Users")
	assert.Contains(t, out, "1.2K")
	assert.Contains(t, out, "12.5%")
	assert.Contains(t, out, "messages_processed")
}

func TestDashboardPageSwitchesAndReportsErrors(t *testing.T) {
	client := newFakeClient()
	p := newTestPage(client, Config{RefreshInterval: time.Minute})
	run(p, p.Init())

	cmd, _ := p.Update(tea.KeyMsg{Type: tea.KeyTab})
	run(p, cmd)
	assert.Equal(t, "performance_dashboard", p.view.ID)
	assert.Equal(t, 30*time.Second, p.refreshInterval())

	cmd, _ = p.Update(tea.KeyMsg{Type: tea.KeyTab})
	run(p, cmd)
	assert.Nil(t, p.view)
	assert.True(t, errors.Is(p.err, model.ErrUserScopeRequired))
	assert.Contains(t, p.View(80, 24), "error:")

	cmd, _ = p.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	run(p, cmd)
	assert.Equal(t, "performance_dashboard", p.view.ID)
}

func TestDashboardPagePreselectedDashboardAndUser(t *testing.T) {
	client := newFakeClient()
	p := newTestPage(client, Config{Dashboard: "performance_dashboard", UserID: "u1"})
	run(p, p.Init())

	assert.Equal(t, 1, p.idx)
	assert.Equal(t, []string{"performance_dashboard/u1"}, client.calls)
	assert.Contains(t, p.View(80, 24), "user u1")
}

func TestDashboardPageTicks(t *testing.T) {
	client := newFakeClient()
	p := newTestPage(client)
	run(p, p.Init())
	fetches := len(client.calls)

	// a tick from an older generation is ignored
	cmd, _ := p.Update(TickMsg{Gen: p.gen - 1})
	assert.Nil(t, cmd)

	run(p, func() tea.Msg { return TickMsg{Gen: p.gen} })
	assert.Len(t, client.calls, fetches+1)

	cmd, _ = p.Update(tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}})
	assert.Nil(t, cmd)
	assert.True(t, p.paused)
	run(p, func() tea.Msg { return TickMsg{Gen: p.gen} })
	assert.Len(t, client.calls, fetches+1, "paused pages do not fetch")
	assert.True(t, strings.Contains(p.View(80, 24), "PAUSED"))
}

func TestDashboardPageQuit(t *testing.T) {
	p := newTestPage(newFakeClient())
	cmd, _ := p.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestAppRoutesToPage(t *testing.T) {
	p := newTestPage(newFakeClient())
	app := NewApp(p)
	_, _ = app.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	assert.Equal(t, 100, p.width)
	assert.Contains(t, app.View(), "loading...")
}

func TestDatasetRowsSkipsCards(t *testing.T) {
	assert.Nil(t, datasetRows(nil))
	rows := datasetRows(&model.DashboardView{Widgets: []model.WidgetView{
		{Card: &model.CardData{Value: 1}},
	}})
	assert.Empty(t, rows)
	assert.Equal(t, "1.50", formatNumber(1.5))
	assert.Equal(t, "42", formatNumber(42))
}
