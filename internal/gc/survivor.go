package gc

import (
	"github.com/shopspring/decimal"

	"github.com/mabhi256/gctune/utils"
)

var (
	two  = decimal.NewFromInt(2)
	kibi = decimal.NewFromInt(1024)
)

// sizeSurvivors picks the tenuring threshold from the survivor death rates,
// sizes the survivor spaces for it and folds them into the new generation.
func (e *Engine) sizeSurvivors(a *Analysis, rec *Recommendation, curr, adj decimal.Decimal) {
	age := e.tenuringAge(a, rec)
	rec.TenuringAge = age

	ngDelta := curr.Sub(adj)
	tenured := tenuredSizeAt(a.Events, age)
	mts := tenured.Mul(two).Add(ngDelta.Div(two))
	rec.MaxTenuringSize = mts

	switch {
	case !mts.IsPositive():
		rec.add(SeverityWarning, StageSurvivor,
			"No survivor occupancy was recorded, so the survivor ratio is left at its current value.")
		rec.SurvivorRatio = decimal.Zero
		rec.NewGenSize = adj
	default:
		ratio := adj.Div(mts)
		if ratio.LessThan(one) {
			rec.add(SeverityWarning, StageSurvivor,
				"The calculated survivor ratio of %s is less than 1, which is not possible. NewGen was grown by %s and the survivor ratio set to 1; watch closely after tuning.",
				ratio.StringFixed(2), utils.ReduceK(mts.Sub(adj), 2, true))
			rec.SurvivorRatio = one
			rec.SurvivorClamped = true
			rec.NewGenSize = mts
		} else {
			rec.SurvivorRatio = ratio
			rec.NewGenSize = adj.Add(mts)
		}
	}

	// Fewer or more frequent young collections age objects faster or slower,
	// so the threshold moves inversely to the new gen change.
	rec.TenuringThreshold = decimal.NewFromInt(int64(age)).Mul(curr).Div(adj)

	e.regimeMessage(a, rec)

	rec.add(SeverityInfo, StageSurvivor,
		"Looking at the survivor death rates for all ages, a MaxTenuringThreshold of %s is ideal.",
		rec.TenuringThreshold.StringFixed(0))
	rec.add(SeverityInfo, StageSurvivor,
		"The survivor size should be 2x the max size at the tenuring threshold given above; %s is ideal.",
		utils.ReduceK(rec.MaxTenuringSize, 0, true))
	if rec.SurvivorRatio.IsPositive() {
		rec.add(SeverityInfo, StageSurvivor,
			"To allocate enough survivor space, a SurvivorRatio of %s should be used.",
			rec.SurvivorRatio.StringFixed(0))
	}
}

// tenuringAge returns the first age whose cumulative survival is at or below
// the watermark, the start of the non-reaping tail when aging never gets
// there, or 0 when the data is inconclusive.
func (e *Engine) tenuringAge(a *Analysis, rec *Recommendation) int {
	g := e.Goals
	watermark := g.SurvivorWatermarkPct.Div(hundred)

	for _, stat := range a.Survivor {
		if stat.CumulativeSurvival.LessThanOrEqual(watermark) {
			return stat.Age
		}
	}

	if n := len(a.Survivor); n > 0 && a.MaxThreshold > 0 && n+1 >= a.MaxThreshold {
		last := a.Survivor[n-1]
		rec.add(SeverityWarning, StageSurvivor,
			"The survivor ages run out at %d with %s%% of objects still alive. Increase MaxTenuringThreshold and run the analysis again.",
			n+1, last.CumulativeSurvival.Mul(hundred).StringFixed(1))
	}

	// Ages with no death-rate samples carry no evidence either way.
	nonReaping, observed := 0, 0
	for _, stat := range a.Survivor {
		if stat.Samples == 0 {
			continue
		}
		observed++
		if stat.Mean.LessThanOrEqual(g.NonReapingDeathPct) {
			nonReaping++
		}
	}
	if observed > 0 && decimal.NewFromInt(int64(nonReaping*100)).GreaterThanOrEqual(g.NonReapingCohortShare.Mul(decimal.NewFromInt(int64(observed)))) {
		total := len(a.Survivor)
		tail := total
		for tail > 0 && (a.Survivor[tail-1].Samples == 0 || a.Survivor[tail-1].Mean.LessThanOrEqual(g.NonReapingDeathPct)) {
			tail--
		}
		age := a.Survivor[total-1].Age
		if tail < total {
			age = a.Survivor[tail].Age
		}
		rec.add(SeverityWarning, StageSurvivor,
			"Objects stop dying after age %d (%d of %d ages reap %s%% or less); tenuring them at that age.",
			age, nonReaping, observed, g.NonReapingDeathPct.String())
		return age
	}

	rec.add(SeverityWarning, StageSurvivor,
		"The survivor aging data is inconclusive for this sample period; the tenuring threshold falls back to 0. This JVM is either unhealthy or the sample period was too short.")
	return 0
}

// tenuredSizeAt is the largest running survivor total at age in KiB. Age 0
// uses the whole survivor occupancy.
func tenuredSizeAt(events []GCEvent, age int) decimal.Decimal {
	var largest int64
	for i := range events {
		if age == 0 {
			largest = max(largest, events[i].MaxAgeTotal())
			continue
		}
		if cohort := events[i].AgeAt(age); cohort.Seen() {
			largest = max(largest, cohort.BytesTotal)
		}
	}
	return decimal.NewFromInt(largest).Div(kibi)
}

func (e *Engine) regimeMessage(a *Analysis, rec *Recommendation) {
	g := e.Goals
	switch rec.Regime {
	case RegimeRate:
		rec.add(SeverityInfo, StageRegime,
			"With a mean young GC time goal of %sms, the suggested NewGen size (optimized for a young GC rate of %s/min, including survivor space) is %s (currently %s).",
			g.YoungPauseGoalMS.String(), rec.TargetYGCRate.StringFixed(2),
			utils.ReduceK(rec.NewGenSize, 0, true), utils.ReduceK(rec.CurrentNewGen, 0, true))
	case RegimeTime:
		rec.add(SeverityInfo, StageRegime,
			"With a mean young GC time goal of %sms, the suggested NewGen size (optimized for young GC time, including survivor space) is %s (currently %s).",
			g.YoungPauseGoalMS.String(), utils.ReduceK(rec.NewGenSize, 0, true), utils.ReduceK(rec.CurrentNewGen, 0, true))
	default:
		rec.add(SeverityInfo, StageRegime,
			"The young GC rate is %s/min and the mean young GC time is %sms (stdev of %s, which is %s).",
			a.YoungGCRate.StringFixed(2), rec.PauseMean.StringFixed(0), rec.PauseStdev.StringFixed(2), rec.Consistency)
		return
	}

	if rec.NewGenSize.LessThan(rec.CurrentNewGen) {
		rec.add(SeverityWarning, StageRegime,
			"Shrinking NewGen increases memory management work; its impact on the application is hard to predict, so watch it after tuning.")
	}
}
