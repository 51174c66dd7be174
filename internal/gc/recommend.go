package gc

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mabhi256/gctune/utils"
)

// Young GC rate bounds for the optimize scale: 0 favours latency (180/min),
// 11 favours throughput (1/min).
const (
	YoungRateUpperPerMin = 180
	YoungRateLowerPerMin = 1
	OptimizeMax          = 11
)

// Consistency labels, most consistent first.
const (
	ConsistencyVery         = "very consistent"
	ConsistencySomewhat     = "somewhat consistent"
	ConsistencyPretty       = "pretty inconsistent"
	ConsistencyInconsistent = "VERY inconsistent"
)

type Regime string

const (
	RegimeRate   Regime = "rate"
	RegimeTime   Regime = "time"
	RegimeRetain Regime = "retain"
)

// Goals are the tuning targets and thresholds of the sizing engine.
type Goals struct {
	YoungPauseGoalMS      decimal.Decimal
	PauseStdevGoalMS      decimal.Decimal
	Optimize              decimal.Decimal
	SurvivorWatermarkPct  decimal.Decimal
	NonReapingDeathPct    decimal.Decimal
	NonReapingCohortShare decimal.Decimal
	MinFullGCSamples      int
	MinYoungGCSamples     int
	PromotionPercentile   decimal.Decimal
	HeapLiveMultiplier    decimal.Decimal
	MetaspaceMultiplier   decimal.Decimal
}

func DefaultGoals() Goals {
	return Goals{
		YoungPauseGoalMS:      decimal.NewFromInt(50),
		PauseStdevGoalMS:      decimal.NewFromInt(5),
		Optimize:              decimal.NewFromInt(9),
		SurvivorWatermarkPct:  decimal.NewFromInt(10),
		NonReapingDeathPct:    decimal.NewFromInt(4),
		NonReapingCohortShare: decimal.NewFromInt(33),
		MinFullGCSamples:      3,
		MinYoungGCSamples:     10,
		PromotionPercentile:   decimal.NewFromInt(99),
		HeapLiveMultiplier:    decimal.RequireFromString("3.5"),
		MetaspaceMultiplier:   decimal.RequireFromString("1.5"),
	}
}

// TargetYoungGCRate maps Optimize linearly onto collections per minute.
func (g Goals) TargetYoungGCRate() decimal.Decimal {
	upper := decimal.NewFromInt(YoungRateUpperPerMin)
	span := upper.Sub(decimal.NewFromInt(YoungRateLowerPerMin))
	return upper.Sub(span.Mul(g.Optimize).Div(decimal.NewFromInt(OptimizeMax)))
}

// Recommendation is the engine's output. Sizes are KiB. Stage is the last
// stage that completed.
type Recommendation struct {
	Stage         Stage           `yaml:"stage" json:"stage"`
	Regime        Regime          `yaml:"regime,omitempty" json:"regime,omitempty"`
	TargetYGCRate decimal.Decimal `yaml:"target_ygc_rate" json:"target_ygc_rate"`

	PauseMean  decimal.Decimal `yaml:"pause_mean" json:"pause_mean"`
	PauseStdev decimal.Decimal `yaml:"pause_stdev" json:"pause_stdev"`

	CurrentNewGen     decimal.Decimal `yaml:"current_new_gen" json:"current_new_gen"`
	NewGenSize        decimal.Decimal `yaml:"new_gen_size" json:"new_gen_size"`
	SurvivorRatio     decimal.Decimal `yaml:"survivor_ratio" json:"survivor_ratio"`
	SurvivorClamped   bool            `yaml:"survivor_clamped" json:"survivor_clamped"`
	TenuringAge       int             `yaml:"tenuring_age" json:"tenuring_age"`
	TenuringThreshold decimal.Decimal `yaml:"tenuring_threshold" json:"tenuring_threshold"`
	MaxTenuringSize   decimal.Decimal `yaml:"max_tenuring_size" json:"max_tenuring_size"`

	LiveOldGen       decimal.Decimal `yaml:"live_old_gen" json:"live_old_gen"`
	CurrentMaxHeap   decimal.Decimal `yaml:"current_max_heap" json:"current_max_heap"`
	MaxHeapSize      decimal.Decimal `yaml:"max_heap_size" json:"max_heap_size"`
	PermGen          bool            `yaml:"perm_gen" json:"perm_gen"`
	CurrentMetaspace decimal.Decimal `yaml:"current_metaspace" json:"current_metaspace"`
	MetaspaceSize    decimal.Decimal `yaml:"metaspace_size" json:"metaspace_size"`

	OccupancyFraction int64 `yaml:"occupancy_fraction" json:"occupancy_fraction"`

	Consistency    string `yaml:"consistency" json:"consistency"`
	CollectorReady bool   `yaml:"collector_ready" json:"collector_ready"`

	Messages []Diagnostic `yaml:"messages" json:"messages"`
}

func (r *Recommendation) Reached(stage Stage) bool {
	return r.Stage >= stage
}

func (r *Recommendation) add(severity Severity, stage Stage, format string, args ...any) {
	r.Messages = append(r.Messages, Diagnostic{
		Severity: severity,
		Stage:    stage,
		Text:     fmt.Sprintf(format, args...),
	})
}

type Engine struct {
	Goals Goals
}

func NewEngine(goals Goals) *Engine {
	return &Engine{Goals: goals}
}

// Recommend runs the sizing stages in order. The returned Recommendation is
// never nil; when a stage lacks data the error wraps ErrInsufficientData and
// the Recommendation holds the stages that did complete.
func (e *Engine) Recommend(a *Analysis, static StaticConfig) (*Recommendation, error) {
	g := e.Goals
	rec := &Recommendation{
		Stage:         StageInput,
		TargetYGCRate: g.TargetYoungGCRate(),
		PauseMean:     a.TrimmedYoung.Mean,
		PauseStdev:    a.TrimmedYoung.Stdev,
	}
	rec.Consistency, rec.CollectorReady = e.consistency(rec.PauseStdev)

	if len(a.Events) < 2 {
		reason := fmt.Sprintf("at least 2 complete gc log records are needed (found %d)", len(a.Events))
		rec.add(SeverityCritical, StageInput, "There wasn't enough data to do any analysis: %s.", reason)
		return rec, &HaltError{Stage: StageInput, Reason: reason}
	}
	if !static.Complete() {
		rec.add(SeverityCritical, StageInput,
			"The JVM heap configuration is incomplete (MaxHeapSize, NewSize and SurvivorRatio are required); no sizing is possible.")
		return rec, fmt.Errorf("%w: heap configuration is incomplete", ErrSourceUnavailable)
	}

	for _, problem := range inconsistencies(a, static) {
		rec.add(SeverityWarning, StageInput, "%s: %s.", ErrInconsistentConfig, problem)
	}

	curr := utils.BytesToKiB(static.NewSize)
	rec.CurrentNewGen = curr
	rec.CurrentMaxHeap = utils.BytesToKiB(static.MaxHeapSize)

	adj := e.selectRegime(a, rec, curr)
	rec.Stage = StageRegime

	e.sizeSurvivors(a, rec, curr, adj)
	rec.Stage = StageSurvivor

	if err := e.sizeHeap(a, static, rec); err != nil {
		return rec, err
	}
	rec.Stage = StageHeap

	e.occupancy(a, static, rec, curr)
	rec.Stage = StageOccupancy

	e.readiness(rec, a.PausePercentile)
	rec.Stage = StageReadiness
	return rec, nil
}

// inconsistencies compares the jmap configuration against itself and the
// sampled counters.
func inconsistencies(a *Analysis, static StaticConfig) []string {
	var problems []string
	if static.NewSize > static.MaxHeapSize {
		problems = append(problems, fmt.Sprintf("NewSize %s exceeds MaxHeapSize %s",
			utils.ReduceK(utils.BytesToKiB(static.NewSize), 1, false),
			utils.ReduceK(utils.BytesToKiB(static.MaxHeapSize), 1, false)))
	}
	if a.Counters.Has(S0C) && !a.Counters.UsesCMS() {
		problems = append(problems, "the survivor spaces differ in capacity, which ParNew/CMS never does")
	}
	return problems
}

func (e *Engine) consistency(stdev decimal.Decimal) (string, bool) {
	goal := e.Goals.PauseStdevGoalMS
	switch {
	case stdev.GreaterThan(goal.Mul(decimal.NewFromInt(4))):
		return ConsistencyInconsistent, false
	case stdev.GreaterThan(goal.Mul(decimal.NewFromInt(2))):
		return ConsistencyPretty, false
	case stdev.GreaterThan(goal):
		return ConsistencySomewhat, true
	default:
		return ConsistencyVery, true
	}
}

// selectRegime picks the new generation size before survivor adjustment.
// The rate check deliberately runs before the time check.
func (e *Engine) selectRegime(a *Analysis, rec *Recommendation, curr decimal.Decimal) decimal.Decimal {
	g := e.Goals
	if len(a.YoungPauses) < g.MinYoungGCSamples {
		rec.add(SeverityWarning, StageRegime,
			"There were only %d young GC samples to analyse; more than %d give more realistic results.",
			len(a.YoungPauses), g.MinYoungGCSamples)
	}

	mean, stdev := rec.PauseMean, rec.PauseStdev
	target := rec.TargetYGCRate
	observed := a.YoungGCRate

	var adj decimal.Decimal
	switch {
	case target.GreaterThan(observed) && (stdev.GreaterThan(g.PauseStdevGoalMS) || mean.GreaterThan(g.YoungPauseGoalMS)):
		rec.Regime = RegimeRate
		adj = curr.Mul(observed).Div(target)
	case mean.GreaterThan(g.YoungPauseGoalMS):
		rec.Regime = RegimeTime
		adj = curr.Mul(g.YoungPauseGoalMS).Div(mean)
	default:
		rec.Regime = RegimeRetain
		adj = curr
	}

	if !adj.IsPositive() {
		rec.add(SeverityWarning, StageRegime,
			"No young collections were observed during the sample period, so NewGen is kept at its current size.")
		rec.Regime = RegimeRetain
		adj = curr
	}
	return adj
}

func (e *Engine) sizeHeap(a *Analysis, static StaticConfig, rec *Recommendation) error {
	g := e.Goals
	if len(a.FullPauses) < g.MinFullGCSamples {
		reason := fmt.Sprintf("at least %d full GC samples are needed before old gen sizing (found %d)",
			g.MinFullGCSamples, len(a.FullPauses))
		rec.add(SeverityCritical, StageHeap, "Stopping further analysis: %s.", reason)
		return &HaltError{Stage: StageHeap, Reason: reason}
	}

	live, ok := liveOldGen(a)
	if !ok {
		rec.add(SeverityWarning, StageHeap,
			"No old gen sample was taken after the first full GC; the live data estimate includes pre-collection data.")
	}
	rec.LiveOldGen = live
	rec.MaxHeapSize = g.HeapLiveMultiplier.Mul(live).Add(rec.MaxTenuringSize).Add(rec.NewGenSize)

	if !rec.MaxHeapSize.Equal(rec.CurrentMaxHeap) {
		rec.add(SeverityInfo, StageHeap,
			"The max heap should be 3-4x the live old gen size (%s), plus the recommended NewGen and survivor space. Recommended: %s (currently %s).",
			utils.ReduceK(live, 2, true), utils.ReduceK(rec.MaxHeapSize, 0, true), utils.ReduceK(rec.CurrentMaxHeap, 0, true))
	}

	e.sizeMetaspace(a, static, rec)
	return nil
}

// liveOldGen is the smallest old gen occupancy seen after the first full
// collection. The bool is false when it had to fall back to all samples.
func liveOldGen(a *Analysis) (decimal.Decimal, bool) {
	if a.Counters.Len() >= 2 && a.Counters.Has(OU) {
		var after, all []decimal.Decimal
		seenFull := false
		samples := a.Counters.Samples
		for i, sample := range samples {
			// The sample in which FGC first advances was taken after that
			// collection and counts.
			if i > 0 && !seenFull {
				prev, ok1 := samples[i-1].Get(FGC)
				cur, ok2 := sample.Get(FGC)
				seenFull = ok1 && ok2 && cur.GreaterThan(prev)
			}
			ou, ok := sample.Get(OU)
			if !ok {
				continue
			}
			all = append(all, ou)
			if seenFull {
				after = append(after, ou)
			}
		}
		if len(after) > 0 {
			return utils.Min(after), true
		}
		return utils.Min(all), false
	}

	var after, all []decimal.Decimal
	seenFull := false
	for i := range a.Events {
		event := &a.Events[i]
		if event.STW {
			seenFull = true
			continue
		}
		if !event.IsQualifying() {
			continue
		}
		used := decimal.NewFromInt(event.OldUsed)
		all = append(all, used)
		if seenFull {
			after = append(after, used)
		}
	}
	if len(after) > 0 {
		return utils.Min(after), true
	}
	return utils.Min(all), false
}

func (e *Engine) sizeMetaspace(a *Analysis, static StaticConfig, rec *Recommendation) {
	used := MU
	rec.PermGen = a.Counters.Has(PU) || static.HasPermGen()
	rec.CurrentMetaspace = utils.BytesToKiB(static.MetaspaceSize)
	if rec.PermGen {
		used = PU
		rec.CurrentMetaspace = utils.BytesToKiB(static.PermSize)
	}

	column := a.Counters.Column(used)
	if len(column) == 0 {
		rec.add(SeverityInfo, StageHeap, "No %s samples were collected, so metaspace sizing was skipped.", used)
		return
	}
	rec.MetaspaceSize = e.Goals.MetaspaceMultiplier.Mul(utils.Max(column))

	if rec.MetaspaceSize.Equal(rec.CurrentMetaspace) {
		return
	}
	if rec.PermGen {
		rec.add(SeverityInfo, StageHeap,
			"PermGen should be 1.2-1.5x (1.5x used) the live PermGen size. Recommended: %s (currently %s).",
			utils.ReduceK(rec.MetaspaceSize, 0, true), utils.ReduceK(rec.CurrentMetaspace, 0, true))
		return
	}
	rec.add(SeverityInfo, StageHeap,
		"The initial and max Metaspace should be 1.2-1.5x (1.5x used) the live Metaspace size. Recommended: %s (currently %s). Set MaxMetaspaceSize as well to bound native memory growth.",
		utils.ReduceK(rec.MetaspaceSize, 0, true), utils.ReduceK(rec.CurrentMetaspace, 0, true))
}

// occupancy finds the highest CMS trigger point that still leaves room for a
// full sweep's worth of young allocation and promotion.
func (e *Engine) occupancy(a *Analysis, static StaticConfig, rec *Recommendation, curr decimal.Decimal) {
	ratio := decimal.NewFromInt(static.SurvivorRatio)
	eden := curr.Mul(ratio).Div(ratio.Add(decimal.NewFromInt(2)))
	survivor := eden.Div(ratio)
	oldGen := rec.CurrentMaxHeap.Sub(eden).Sub(survivor)
	if !oldGen.IsPositive() {
		rec.add(SeverityWarning, StageOccupancy, "The current old gen size could not be derived, so no occupancy fraction is suggested.")
		return
	}

	if len(a.SweepTimes) == 0 {
		rec.add(SeverityInfo, StageOccupancy, "No CMS concurrent sweeps were observed; the occupancy fraction assumes instant sweeps.")
	}
	maxSweep := a.Sweep.Max
	maxAlloc := utils.Max(a.YoungAlloc.Rates())
	maxPromotion := utils.Max(utils.Percentile(a.Promotion.Rates(), e.Goals.PromotionPercentile))

	headroom := oldGen.Sub(maxAlloc.Mul(maxSweep)).Sub(maxSweep.Mul(maxPromotion))
	fraction := headroom.Div(oldGen).Mul(hundred).Floor().IntPart()
	if fraction < 0 {
		rec.add(SeverityWarning, StageOccupancy,
			"Allocation during a sweep exceeds the old gen size; the occupancy fraction was clamped to 0. Grow the old gen.")
		fraction = 0
	}
	rec.OccupancyFraction = min(fraction, 100)

	pct := int(e.Goals.PromotionPercentile.IntPart())
	rec.add(SeverityInfo, StageOccupancy,
		"With a max %s percentile old gen promotion rate of %s/s and a max CMS sweep time of %ss, the occupancy fraction should be no higher than %d.",
		utils.Ordinal(pct), utils.ReduceK(maxPromotion, 2, true), maxSweep.StringFixed(3), rec.OccupancyFraction)
}

func (e *Engine) readiness(rec *Recommendation, percentile decimal.Decimal) {
	pct := int(percentile.IntPart())
	if rec.CollectorReady {
		rec.add(SeverityInfo, StageReadiness,
			"With a young GC stdev of %s and a %s percentile mean of %sms, the configuration is good enough to move to G1; its consolidated heap should be %s.",
			rec.PauseStdev.StringFixed(2), utils.Ordinal(pct), rec.PauseMean.StringFixed(0), utils.ReduceK(rec.MaxHeapSize, 0, true))
		return
	}
	rec.add(SeverityWarning, StageReadiness,
		"With a young GC stdev of %s and a %s percentile mean of %sms, the configuration is probably not ready for G1. Tune the current collector first.",
		rec.PauseStdev.StringFixed(2), utils.Ordinal(pct), rec.PauseMean.StringFixed(0))
}
