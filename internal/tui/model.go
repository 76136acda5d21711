package tui

import (
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/tinytelemetry/tally/internal/model"
)

// PageDashboards is the ID of the dashboard page.
const PageDashboards = "dashboards"

const minRefreshInterval = 500 * time.Millisecond

// DashboardClient is the read side the viewer polls.
type DashboardClient interface {
	ListDashboards() ([]model.DashboardDefinition, error)
	GetDashboard(dashboardID, userID string) (*model.DashboardView, error)
}

// TickMsg triggers a refresh. Ticks from an older generation are dropped so
// switching dashboards does not leave a second poll loop behind.
type TickMsg struct {
	Gen int
	At  time.Time
}

type catalogLoadedMsg struct {
	dashboards []model.DashboardDefinition
	err        error
}

type dashboardLoadedMsg struct {
	gen  int
	view *model.DashboardView
	err  error
}

// DashboardPage polls one dashboard at a time and renders its widgets.
type DashboardPage struct {
	client   DashboardClient
	userID   string
	fallback time.Duration
	keys     KeyMap
	help     help.Model
	table    table.Model
	tick     func(time.Duration, func(time.Time) tea.Msg) tea.Cmd

	dashboards []model.DashboardDefinition
	idx        int
	gen        int
	view       *model.DashboardView
	err        error
	inFlight   bool
	paused     bool
	lastFetch  time.Time
	width      int
	height     int
}

// Config tunes the dashboard page.
type Config struct {
	// UserID scopes user-specific dashboards.
	UserID string
	// Dashboard selects the initial dashboard by ID.
	Dashboard string
	// RefreshInterval applies when a dashboard does not define its own.
	RefreshInterval time.Duration
}

// NewDashboardPage creates the dashboard page.
func NewDashboardPage(client DashboardClient, conf ...Config) *DashboardPage {
	var c Config
	if len(conf) > 0 {
		c = conf[0]
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 30 * time.Second
	}
	t := table.New(
		table.WithColumns(datasetColumns(80)),
		table.WithFocused(true),
		table.WithHeight(8),
	)
	t.SetStyles(tableStyles())
	p := &DashboardPage{
		client:   client,
		userID:   c.UserID,
		fallback: c.RefreshInterval,
		keys:     DefaultKeyMap(),
		help:     help.New(),
		table:    t,
		tick:     tea.Tick,
	}
	if c.Dashboard != "" {
		p.dashboards = []model.DashboardDefinition{{ID: c.Dashboard, Name: c.Dashboard}}
	}
	return p
}

func (p *DashboardPage) ID() string { return PageDashboards }

func (p *DashboardPage) Init() tea.Cmd {
	return p.loadCatalogCmd()
}

// Update handles messages.
func (p *DashboardPage) Update(msg tea.Msg) (tea.Cmd, *PageNav) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		p.width = msg.Width
		p.height = msg.Height
		p.resizeTable()
		return nil, nil

	case tea.KeyMsg:
		return p.handleKey(msg), nil

	case catalogLoadedMsg:
		if msg.err != nil {
			p.err = msg.err
			return nil, nil
		}
		p.mergeCatalog(msg.dashboards)
		if len(p.dashboards) == 0 {
			p.err = errors.New("no dashboards registered")
			return nil, nil
		}
		return p.restart(), nil

	case TickMsg:
		if msg.Gen != p.gen {
			return nil, nil
		}
		next := p.tickCmd()
		if p.paused || p.inFlight {
			return next, nil
		}
		p.inFlight = true
		return tea.Batch(p.fetchCmd(), next), nil

	case dashboardLoadedMsg:
		if msg.gen != p.gen {
			return nil, nil
		}
		p.inFlight = false
		p.lastFetch = time.Now()
		p.err = msg.err
		if msg.err == nil {
			p.view = msg.view
			p.table.SetRows(datasetRows(msg.view))
		}
		return nil, nil
	}
	return nil, nil
}

func (p *DashboardPage) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, p.keys.Quit), key.Matches(msg, p.keys.ForceQuit):
		return tea.Quit
	case key.Matches(msg, p.keys.Next):
		if len(p.dashboards) > 1 {
			p.idx = (p.idx + 1) % len(p.dashboards)
			return p.restart()
		}
	case key.Matches(msg, p.keys.Prev):
		if len(p.dashboards) > 1 {
			p.idx = (p.idx - 1 + len(p.dashboards)) % len(p.dashboards)
			return p.restart()
		}
	case key.Matches(msg, p.keys.Refresh):
		if len(p.dashboards) > 0 {
			return p.restart()
		}
	case key.Matches(msg, p.keys.Pause):
		p.paused = !p.paused
	default:
		var cmd tea.Cmd
		p.table, cmd = p.table.Update(msg)
		return cmd
	}
	return nil
}

// restart bumps the generation, fetches now and starts a fresh tick loop.
func (p *DashboardPage) restart() tea.Cmd {
	p.gen++
	p.view = nil
	p.err = nil
	p.table.SetRows(nil)
	p.inFlight = true
	return tea.Batch(p.fetchCmd(), p.tickCmd())
}

// mergeCatalog keeps a preselected dashboard first.
func (p *DashboardPage) mergeCatalog(defs []model.DashboardDefinition) {
	var preselected string
	if len(p.dashboards) > 0 {
		preselected = p.dashboards[0].ID
	}
	p.dashboards = defs
	p.idx = 0
	for i, d := range defs {
		if d.ID == preselected {
			p.idx = i
			return
		}
	}
	if preselected != "" {
		p.dashboards = append([]model.DashboardDefinition{{ID: preselected, Name: preselected}}, defs...)
	}
}

func (p *DashboardPage) current() (model.DashboardDefinition, bool) {
	if p.idx < 0 || p.idx >= len(p.dashboards) {
		return model.DashboardDefinition{}, false
	}
	return p.dashboards[p.idx], true
}

// refreshInterval prefers the rendered view, then the definition, then the
// configured fallback.
func (p *DashboardPage) refreshInterval() time.Duration {
	d := p.fallback
	if def, ok := p.current(); ok && def.RefreshInterval > 0 {
		d = def.RefreshInterval
	}
	if p.view != nil && p.view.RefreshInterval > 0 {
		d = p.view.RefreshInterval
	}
	return max(d, minRefreshInterval)
}

func (p *DashboardPage) tickCmd() tea.Cmd {
	gen := p.gen
	return p.tick(p.refreshInterval(), func(t time.Time) tea.Msg {
		return TickMsg{Gen: gen, At: t}
	})
}

func (p *DashboardPage) fetchCmd() tea.Cmd {
	def, ok := p.current()
	if !ok || p.client == nil {
		return nil
	}
	gen, userID := p.gen, p.userID
	client := p.client
	return func() tea.Msg {
		view, err := client.GetDashboard(def.ID, userID)
		return dashboardLoadedMsg{gen: gen, view: view, err: err}
	}
}

func (p *DashboardPage) loadCatalogCmd() tea.Cmd {
	client := p.client
	if client == nil {
		return nil
	}
	return func() tea.Msg {
		defs, err := client.ListDashboards()
		return catalogLoadedMsg{dashboards: defs, err: err}
	}
}

func (p *DashboardPage) resizeTable() {
	if p.width > 0 {
		p.table.SetColumns(datasetColumns(p.width - 4))
		p.table.SetWidth(p.width - 2)
	}
	if p.height > 0 {
		p.table.SetHeight(max(p.height-cardBlockHeight-8, 3))
	}
}
