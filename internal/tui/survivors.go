package tui

import (
	"fmt"
	"strings"

	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/charmbracelet/lipgloss"

	"github.com/mabhi256/gctune/internal/gc"
	"github.com/mabhi256/gctune/utils"
)

const chartHeight = 10

var (
	deathStyle = lipgloss.NewStyle().Foreground(utils.GoodColor).Background(utils.GoodColor)
	nearStyle  = lipgloss.NewStyle().Foreground(utils.WarningColor).Background(utils.WarningColor)
)

func (m *Model) renderSurvivors(width int) string {
	stats := m.analysis.Survivor
	if len(stats) == 0 {
		return utils.MutedStyle.Render("No tenuring distribution was logged; run the JVM with -XX:+PrintTenuringDistribution.")
	}

	sections := []string{
		utils.TitleStyle.Render("Mean death rate by age"),
		deathRateChart(stats, m.goals, width),
		"",
		renderBars(utils.TitleStyle.Render("Cumulative alive"), survivalBars(stats), barWidth(width)),
		"",
		utils.MutedStyle.Render(fmt.Sprintf(
			"Ages dying slower than %s%% are highlighted; they are not worth keeping in the survivor spaces.",
			m.goals.NonReapingDeathPct.String())),
	}
	if m.rec != nil && m.rec.TenuringAge > 0 {
		sections = append(sections, utils.InfoStyle.Render(fmt.Sprintf("Chosen tenuring age: %s", utils.Ordinal(m.rec.TenuringAge))))
	}
	return strings.Join(sections, "\n")
}

// deathRateChart draws one bar per age. Ages whose mean death rate falls
// under the non-reaping threshold are drawn in the warning color.
func deathRateChart(stats gc.SurvivorAgeStats, goals gc.Goals, width int) string {
	barW := max(1, min(4, (width-2)/max(len(stats), 1)-1))
	chart := barchart.New(max(width-2, 10), chartHeight,
		barchart.WithBarGap(1),
		barchart.WithBarWidth(barW),
	)

	for _, stat := range stats {
		style := deathStyle
		if stat.Mean.LessThan(goals.NonReapingDeathPct) {
			style = nearStyle
		}
		chart.Push(barchart.BarData{
			Label: fmt.Sprint(stat.Age),
			Values: []barchart.BarValue{
				{Name: fmt.Sprintf("age %d", stat.Age), Value: max(stat.Mean.InexactFloat64(), 0), Style: style},
			},
		})
	}

	chart.Draw()
	return chart.View()
}

func survivalBars(stats gc.SurvivorAgeStats) []bar {
	bars := make([]bar, 0, len(stats))
	for _, stat := range stats {
		alive := stat.CumulativeSurvival.Mul(hundred)
		bars = append(bars, bar{
			Label:   "Age " + fmt.Sprint(stat.Age),
			Value:   fmt.Sprintf("%s%% (%d samples)", alive.StringFixed(1), stat.Samples),
			Percent: alive.InexactFloat64(),
			Style:   utils.InfoStyle,
		})
	}
	return bars
}
