package tui

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mabhi256/gctune/internal/gc"
	"github.com/mabhi256/gctune/utils"
)

var hundred = decimal.NewFromInt(100)

func (m *Model) renderPauses(width int) string {
	a := m.analysis
	goal := m.goals.YoungPauseGoalMS

	sections := []string{
		utils.TitleStyle.Render(fmt.Sprintf("Young pauses (%s, goal %sms)", a.PauseSource, goal.String())),
		renderBars("", pauseBars(a.YoungPause, goal, "ms", 0), barWidth(width)),
		"",
		utils.TitleStyle.Render(fmt.Sprintf("Young pauses at or below the %s percentile", utils.Ordinal(int(a.PausePercentile.IntPart())))),
		renderBars("", pauseBars(a.TrimmedYoung, goal, "ms", 0), barWidth(width)),
		"",
		utils.TitleStyle.Render("Full pauses"),
		renderBars("", pauseBars(a.FullPause, utils.Max(a.FullPauses), "ms", 0), barWidth(width)),
		"",
		utils.TitleStyle.Render("CMS sweep times"),
		renderBars("", pauseBars(a.Sweep, utils.Max(a.SweepTimes), "s", 3), barWidth(width)),
		"",
		fmt.Sprintf("Agg. YGC Time: %sms   Agg. FGC Time: %sms",
			a.AggYoungPause.StringFixed(0), a.AggFullPause.StringFixed(0)),
	}
	return strings.Join(sections, "\n")
}

// pauseBars scales min, mean and max against scale; values past it are
// drawn as critical.
func pauseBars(s gc.PauseStats, scale decimal.Decimal, unit string, places int32) []bar {
	if s.Count == 0 {
		return []bar{{Label: "none", Value: "no samples", Style: utils.MutedStyle}}
	}

	rows := []struct {
		label string
		value decimal.Decimal
	}{
		{"min", s.Min},
		{"mean", s.Mean},
		{"max", s.Max},
	}
	bars := make([]bar, 0, len(rows)+1)
	for _, row := range rows {
		percent := 100.0
		if scale.IsPositive() {
			percent = row.value.Div(scale).Mul(hundred).InexactFloat64()
		}
		style := utils.GoodStyle
		if percent > 100 {
			style = utils.CriticalStyle
		}
		bars = append(bars, bar{
			Label:   row.label,
			Value:   row.value.StringFixed(places) + unit,
			Percent: percent,
			Style:   style,
		})
	}
	bars = append(bars, bar{
		Label: "stdev",
		Value: fmt.Sprintf("%s (%d samples)", s.Stdev.StringFixed(2), s.Count),
		Style: utils.MutedStyle,
	})
	return bars
}
