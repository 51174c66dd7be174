package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mabhi256/gctune/internal/gc"
	"github.com/mabhi256/gctune/utils"
)

// header and help bar
const chromeHeight = 4

func NewModel(a *gc.Analysis, rec *gc.Recommendation, static *gc.StaticConfig, goals gc.Goals) *Model {
	return &Model{
		currentTab: SummaryTab,
		analysis:   a,
		rec:        rec,
		static:     static,
		goals:      goals,
		help:       help.New(),
		keys:       DefaultKeyMap(),
	}
}

func (m *Model) Init() tea.Cmd {
	return nil
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		bodyHeight := max(1, msg.Height-chromeHeight)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, bodyHeight)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = bodyHeight
		}
		m.help.Width = msg.Width
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.NextTab):
			m.switchTab(1)
			return m, nil
		case key.Matches(msg, m.keys.PrevTab):
			m.switchTab(-1)
			return m, nil
		}
	}

	if !m.ready {
		return m, nil
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) switchTab(direction int) {
	m.currentTab = utils.CycleEnum(m.currentTab, direction, RecommendationTab)
	m.refresh()
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.renderTab(m.width))
	m.viewport.GotoTop()
}

func (m *Model) renderTab(width int) string {
	switch m.currentTab {
	case SurvivorsTab:
		return m.renderSurvivors(width)
	case PausesTab:
		return m.renderPauses(width)
	case RecommendationTab:
		return m.renderRecommendation(width)
	default:
		return m.renderSummary(width)
	}
}

func (m *Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		m.viewport.View(),
		utils.HelpBarStyle.Width(m.width).Render(m.help.View(m.keys)),
	)
}

func (m *Model) renderHeader() string {
	tabs := make([]string, 0, len(tabNames))
	for i, name := range tabNames {
		style := utils.TabInactiveStyle
		indicator := " "
		if TabType(i) == m.currentTab {
			style = utils.TabActiveStyle
			indicator = "●"
		}
		tabs = append(tabs, style.Render(fmt.Sprintf("%s %s", indicator, name)))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		strings.Join(tabs, "  "),
		strings.Repeat("─", max(m.width, 0)),
	)
}

// Run blocks until the user quits.
func Run(a *gc.Analysis, rec *gc.Recommendation, static *gc.StaticConfig, goals gc.Goals) error {
	program := tea.NewProgram(
		NewModel(a, rec, static, goals),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	_, err := program.Run()
	return err
}
