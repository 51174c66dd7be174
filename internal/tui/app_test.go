package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mabhi256/gctune/internal/gc"
)

func testModel() *Model {
	a := &gc.Analysis{
		Survivor: gc.SurvivorAgeStats{
			{Age: 1, Samples: 4, Min: decimal.NewFromInt(80), Mean: decimal.NewFromInt(90), Max: decimal.NewFromInt(95), CumulativeSurvival: decimal.RequireFromString("0.1")},
			{Age: 2, Samples: 3, Min: decimal.NewFromInt(1), Mean: decimal.NewFromInt(2), Max: decimal.NewFromInt(3), CumulativeSurvival: decimal.RequireFromString("0.098")},
		},
		PauseSource:     gc.PauseSourceEvents,
		YoungPause:      gc.PauseStats{Count: 3, Min: decimal.NewFromInt(10), Mean: decimal.NewFromInt(20), Max: decimal.NewFromInt(80), Stdev: decimal.NewFromInt(5)},
		PausePercentile: gc.DefaultPausePercentile,
		YoungGCCount:    3,
	}
	rec := &gc.Recommendation{
		Stage:             gc.StageSurvivor,
		NewGenSize:        decimal.NewFromInt(11264),
		TenuringAge:       1,
		TenuringThreshold: decimal.NewFromInt(1),
		Messages: []gc.Diagnostic{
			{Severity: gc.SeverityWarning, Stage: gc.StageSurvivor, Text: "The calculated survivor ratio is less than 1."},
		},
	}
	return NewModel(a, rec, &gc.StaticConfig{MaxHeapSize: 100 << 20}, gc.DefaultGoals())
}

func sized(t *testing.T, m *Model) *Model {
	t.Helper()
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return updated.(*Model)
}

func TestViewBeforeWindowSize(t *testing.T) {
	assert.Equal(t, "Loading...", testModel().View())
}

func TestTabCycling(t *testing.T) {
	m := sized(t, testModel())
	assert.Equal(t, SummaryTab, m.currentTab)

	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, SurvivorsTab, m.currentTab)
	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, RecommendationTab, m.currentTab)
	m.Update(tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, SummaryTab, m.currentTab)

	m.Update(tea.KeyMsg{Type: tea.KeyShiftTab})
	assert.Equal(t, RecommendationTab, m.currentTab)
}

func TestQuit(t *testing.T) {
	m := sized(t, testModel())
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestTabContents(t *testing.T) {
	m := sized(t, testModel())

	view := m.View()
	assert.Contains(t, view, "Summary")
	assert.Contains(t, view, "Recommendation")
	assert.Contains(t, m.renderSummary(100), "100M")

	survivors := m.renderSurvivors(100)
	assert.Contains(t, survivors, "Cumulative alive")
	assert.Contains(t, survivors, "10.0% (4 samples)")
	assert.Contains(t, survivors, "Chosen tenuring age: 1st")

	pauses := m.renderPauses(100)
	assert.Contains(t, pauses, "80ms")
	assert.Contains(t, pauses, "no samples")

	rec := m.renderRecommendation(100)
	assert.Contains(t, rec, "survivor ratio is less than 1")
	assert.Contains(t, rec, "-Xmn11m")
	assert.NotContains(t, rec, "JVM arguments for G1")
}

func TestSurvivorsWithoutDistribution(t *testing.T) {
	m := testModel()
	m.analysis.Survivor = nil
	assert.Contains(t, m.renderSurvivors(80), "PrintTenuringDistribution")
}

func TestRenderBarClamps(t *testing.T) {
	line := renderBar(bar{Label: "max", Value: "80ms", Percent: 160}, 10)
	assert.Contains(t, line, "██████████")
	assert.NotContains(t, line, emptyChar)

	line = renderBar(bar{Label: "min", Value: "0ms"}, 10)
	assert.Contains(t, line, "▱▱▱▱▱▱▱▱▱▱")
}
