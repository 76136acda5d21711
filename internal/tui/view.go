package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/tinytelemetry/tally/internal/model"
)

const (
	cardWidth       = 24
	cardBlockHeight = 6
)

var (
	ColorAccent = lipgloss.Color("39")
	ColorDim    = lipgloss.Color("240")
	ColorGood   = lipgloss.Color("42")
	ColorBad    = lipgloss.Color("203")
	ColorWarn   = lipgloss.Color("220")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	dimStyle     = lipgloss.NewStyle().Foreground(ColorDim)
	errorStyle   = lipgloss.NewStyle().Foreground(ColorBad)
	pausedStyle  = lipgloss.NewStyle().Foreground(ColorWarn).Bold(true)
	tabStyle     = lipgloss.NewStyle().Padding(0, 1).Foreground(ColorDim)
	activeTab    = tabStyle.Foreground(ColorAccent).Bold(true).Underline(true)
	cardStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(ColorDim).Padding(0, 1).Width(cardWidth)
	cardTitle    = lipgloss.NewStyle().Foreground(ColorDim)
	cardValue    = lipgloss.NewStyle().Bold(true)
	changeUp     = lipgloss.NewStyle().Foreground(ColorGood)
	changeDown   = lipgloss.NewStyle().Foreground(ColorBad)
	sectionStyle = lipgloss.NewStyle().Bold(true).MarginTop(1)
)

func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.BorderStyle(lipgloss.NormalBorder()).BorderForeground(ColorDim).BorderBottom(true).Bold(true)
	s.Selected = s.Selected.Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	return s
}

// datasetColumns splits width across the fixed dataset columns.
func datasetColumns(width int) []table.Column {
	width = max(width, 60)
	metric := width / 4
	widget := width / 4
	rest := width - metric - widget
	return []table.Column{
		{Title: "Widget", Width: widget},
		{Title: "Metric", Width: metric},
		{Title: "Window", Width: rest / 4},
		{Title: "Agg", Width: rest / 4},
		{Title: "Value", Width: rest - 2*(rest/4)},
	}
}

// datasetRows flattens chart widgets into one row per dataset and label.
func datasetRows(view *model.DashboardView) []table.Row {
	if view == nil {
		return nil
	}
	var rows []table.Row
	for _, w := range view.Widgets {
		if w.Chart == nil {
			continue
		}
		for _, ds := range w.Chart.Datasets {
			for _, label := range w.Chart.Labels {
				v, ok := ds.Values[model.AggKind(label)]
				if !ok {
					continue
				}
				rows = append(rows, table.Row{
					w.Title,
					ds.Metric,
					string(w.Chart.Window),
					label,
					formatNumber(v),
				})
			}
		}
	}
	return rows
}

func formatNumber(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// View renders the page.
func (p *DashboardPage) View(width, height int) string {
	if width <= 0 {
		width = 80
	}
	var b strings.Builder
	b.WriteString(p.renderHeader(width))
	b.WriteString("\n")

	switch {
	case p.err != nil:
		b.WriteString("\n")
		b.WriteString(errorStyle.Render("error: " + p.err.Error()))
		b.WriteString("\n")
	case p.view == nil:
		b.WriteString("\n")
		b.WriteString(dimStyle.Render("loading..."))
		b.WriteString("\n")
	default:
		if cards := p.renderCards(width); cards != "" {
			b.WriteString(cards)
			b.WriteString("\n")
		}
		if rows := p.table.Rows(); len(rows) > 0 {
			b.WriteString(sectionStyle.Render("Charts"))
			b.WriteString("\n")
			b.WriteString(p.table.View())
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(p.renderStatusLine())
	b.WriteString("\n")
	b.WriteString(p.help.ShortHelpView(p.keys.ShortHelp()))
	return b.String()
}

func (p *DashboardPage) renderHeader(width int) string {
	tabs := make([]string, 0, len(p.dashboards))
	for i, d := range p.dashboards {
		name := d.Name
		if name == "" {
			name = d.ID
		}
		if i == p.idx {
			tabs = append(tabs, activeTab.Render(name))
		} else {
			tabs = append(tabs, tabStyle.Render(name))
		}
	}
	header := lipgloss.JoinHorizontal(lipgloss.Top, titleStyle.Render("tally"), " ", strings.Join(tabs, ""))
	if p.view != nil && p.view.Description != "" {
		header += "\n" + dimStyle.Render(p.view.Description)
	}
	return lipgloss.NewStyle().MaxWidth(width).Render(header)
}

func (p *DashboardPage) renderCards(width int) string {
	var cards []string
	for _, w := range p.view.Widgets {
		if w.Card == nil {
			continue
		}
		cards = append(cards, renderCard(w))
	}
	if len(cards) == 0 {
		return ""
	}
	perRow := max(width/(cardWidth+2), 1)
	var rows []string
	for i := 0; i < len(cards); i += perRow {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cards[i:min(i+perRow, len(cards))]...))
	}
	return lipgloss.JoinVertical(lipgloss.Left, rows...)
}

func renderCard(w model.WidgetView) string {
	change := dimStyle.Render("  0.0%")
	switch {
	case w.Card.Change > 0:
		change = changeUp.Render(fmt.Sprintf("▲ %.1f%%", w.Card.Change))
	case w.Card.Change < 0:
		change = changeDown.Render(fmt.Sprintf("▼ %.1f%%", -w.Card.Change))
	}
	body := lipgloss.JoinVertical(lipgloss.Left,
		cardTitle.Render(w.Title),
		cardValue.Render(w.Card.FormattedValue),
		change,
	)
	return cardStyle.Render(body)
}

func (p *DashboardPage) renderStatusLine() string {
	parts := []string{fmt.Sprintf("refresh %s", p.refreshInterval())}
	if p.userID != "" {
		parts = append(parts, "user "+p.userID)
	}
	if !p.lastFetch.IsZero() {
		parts = append(parts, "updated "+p.lastFetch.Format(time.TimeOnly))
	}
	line := dimStyle.Render(strings.Join(parts, " · "))
	if p.paused {
		line = pausedStyle.Render("PAUSED") + " " + line
	}
	return line
}
