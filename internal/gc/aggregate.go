package gc

import (
	"github.com/shopspring/decimal"

	"github.com/mabhi256/gctune/utils"
)

var (
	hundred  = decimal.NewFromInt(100)
	thousand = decimal.NewFromInt(1000)
	sixty    = decimal.NewFromInt(60)
	one      = decimal.NewFromInt(1)
)

// DefaultPausePercentile trims young pause samples before sizing decisions.
var DefaultPausePercentile = decimal.NewFromInt(75)

// RatePoint is one rate observation between two events or samples.
type RatePoint struct {
	Interval decimal.Decimal `yaml:"interval" json:"interval"`
	Rate     decimal.Decimal `yaml:"rate" json:"rate"`
}

// RateSeries rates are KiB per second.
type RateSeries []RatePoint

func (r RateSeries) Rates() []decimal.Decimal {
	rates := make([]decimal.Decimal, len(r))
	for i, p := range r {
		rates[i] = p.Rate
	}
	return rates
}

// AgeStat is the death rate of one survivor age across all event pairs.
// Min, Mean and Max are percentages; CumulativeSurvival is the fraction of
// objects still alive after this age.
type AgeStat struct {
	Age                int             `yaml:"age" json:"age"`
	Samples            int             `yaml:"samples" json:"samples"`
	Min                decimal.Decimal `yaml:"min" json:"min"`
	Mean               decimal.Decimal `yaml:"mean" json:"mean"`
	Max                decimal.Decimal `yaml:"max" json:"max"`
	CumulativeSurvival decimal.Decimal `yaml:"cumulative_survival" json:"cumulative_survival"`
}

type SurvivorAgeStats []AgeStat

// PauseStats are milliseconds, or seconds for sweeps.
type PauseStats struct {
	Count int             `yaml:"count" json:"count"`
	Min   decimal.Decimal `yaml:"min" json:"min"`
	Mean  decimal.Decimal `yaml:"mean" json:"mean"`
	Max   decimal.Decimal `yaml:"max" json:"max"`
	Stdev decimal.Decimal `yaml:"stdev" json:"stdev"`
}

func NewPauseStats(values []decimal.Decimal) PauseStats {
	return PauseStats{
		Count: len(values),
		Min:   utils.Min(values),
		Mean:  utils.Mean(values),
		Max:   utils.Max(values),
		Stdev: utils.Stdev(values),
	}
}

type PauseSource string

const (
	PauseSourceCounters PauseSource = "counters"
	PauseSourceEvents   PauseSource = "events"
)

// Analysis is everything the sizing engine and the report need, derived
// from one run's events and counter samples.
type Analysis struct {
	Events   []GCEvent
	Counters CounterSeries

	YoungAlloc  RateSeries
	YoungGrowth RateSeries
	Promotion   RateSeries

	Survivor        SurvivorAgeStats
	SurvivorLengths []decimal.Decimal
	MaxThreshold    int

	PauseSource     PauseSource
	YoungPauses     []decimal.Decimal
	FullPauses      []decimal.Decimal
	SweepTimes      []decimal.Decimal
	YoungPause      PauseStats
	TrimmedYoung    PauseStats
	FullPause       PauseStats
	Sweep           PauseStats
	PausePercentile decimal.Decimal

	YoungGCCount  int64
	FullGCCount   int64
	YoungGCRate   decimal.Decimal
	FullGCRate    decimal.Decimal
	SampleSeconds decimal.Decimal
	AggYoungPause decimal.Decimal
	AggFullPause  decimal.Decimal

	GCLoad           decimal.Decimal
	Efficiency       decimal.Decimal
	GCLoadSinceStart decimal.Decimal
	HasLoadSince     bool

	// OldGenCapacity is the latest old generation capacity in KiB.
	OldGenCapacity decimal.Decimal
}

// FullGCInterval estimates seconds until the old generation fills at rate.
func (a *Analysis) FullGCInterval(rate decimal.Decimal) decimal.Decimal {
	if !rate.IsPositive() {
		return decimal.Zero
	}
	return a.OldGenCapacity.Div(rate)
}

type Aggregator struct {
	PausePercentile decimal.Decimal
}

func NewAggregator() *Aggregator {
	return &Aggregator{PausePercentile: DefaultPausePercentile}
}

// Aggregate computes rates and distributions. It does not block and never
// fails; missing inputs leave the corresponding fields empty.
func (ag *Aggregator) Aggregate(events []GCEvent, counters CounterSeries) *Analysis {
	a := &Analysis{
		Events:          events,
		Counters:        counters,
		PausePercentile: ag.PausePercentile,
	}
	if n := len(events); n > 0 {
		a.MaxThreshold = events[n-1].MaxThreshold
	}

	ag.eventPairs(a)
	if len(a.Promotion) == 0 {
		a.Promotion = counterPromotion(counters)
	}
	ag.pauses(a)
	ag.load(a)
	return a
}

func (ag *Aggregator) eventPairs(a *Analysis) {
	deaths := make(map[int][]decimal.Decimal)
	highestAge := 0

	events := a.Events
	for i := 1; i < len(events); i++ {
		first, second := &events[i-1], &events[i]
		if !first.IsQualifying() || !second.IsQualifying() {
			continue
		}
		elapsed := utils.SecondsBetween(first.Timestamp, second.Timestamp)
		if !elapsed.IsPositive() {
			continue
		}

		alloc := decimal.NewFromInt(second.YoungBefore - first.YoungAfter).Div(elapsed)
		growth := decimal.NewFromInt(second.YoungAfter - first.YoungAfter).Div(elapsed)
		a.YoungAlloc = append(a.YoungAlloc, RatePoint{Interval: elapsed, Rate: alloc})
		a.YoungGrowth = append(a.YoungGrowth, RatePoint{Interval: elapsed, Rate: growth})

		// A shrinking old generation was reclaimed, not promoted into.
		if delta := second.OldUsed - first.OldUsed; delta > 0 {
			a.Promotion = append(a.Promotion, RatePoint{
				Interval: elapsed,
				Rate:     decimal.NewFromInt(delta).Div(elapsed),
			})
		}

		positive := 0
		for age := 1; age <= len(first.Ages) && age < len(second.Ages); age++ {
			rate, ok := deathRate(first.AgeAt(age), second.AgeAt(age+1))
			if !ok {
				continue
			}
			deaths[age] = append(deaths[age], rate)
			highestAge = max(highestAge, age)
			if rate.IsPositive() {
				positive++
			}
		}
		a.SurvivorLengths = append(a.SurvivorLengths, decimal.NewFromInt(int64(positive)))
	}

	survival := one
	for age := 1; age <= highestAge; age++ {
		rates := deaths[age]
		stat := AgeStat{
			Age:     age,
			Samples: len(rates),
			Min:     utils.Min(rates).Mul(hundred),
			Mean:    utils.Mean(rates).Mul(hundred),
			Max:     utils.Max(rates).Mul(hundred),
		}
		survival = survival.Mul(one.Sub(utils.Mean(rates)))
		stat.CumulativeSurvival = survival
		a.Survivor = append(a.Survivor, stat)
	}
}

// deathRate compares a cohort with the same objects one collection later.
func deathRate(before, after Cohort) (decimal.Decimal, bool) {
	if !after.Seen() || !before.Seen() || before.BytesUsed == 0 {
		return decimal.Zero, false
	}
	ratio := decimal.NewFromInt(after.BytesUsed).Div(decimal.NewFromInt(before.BytesUsed))
	return one.Sub(ratio), true
}

func counterPromotion(counters CounterSeries) RateSeries {
	var series RateSeries
	samples := counters.Samples
	for i := 1; i < len(samples); i++ {
		before, ok1 := samples[i-1].Get(OU)
		after, ok2 := samples[i].Get(OU)
		if !ok1 || !ok2 {
			continue
		}
		elapsed := utils.SecondsBetween(samples[i-1].Timestamp, samples[i].Timestamp)
		delta := after.Sub(before)
		if !elapsed.IsPositive() || !delta.IsPositive() {
			continue
		}
		series = append(series, RatePoint{Interval: elapsed, Rate: delta.Div(elapsed)})
	}
	return series
}

func (ag *Aggregator) pauses(a *Analysis) {
	for i := range a.Events {
		if a.Events[i].IsSweep() {
			a.SweepTimes = append(a.SweepTimes, a.Events[i].SweepTime)
		}
	}

	if a.Counters.Len() >= 2 {
		a.PauseSource = PauseSourceCounters
		a.YoungPauses = intervalPauses(a.Counters, YGC, YGCT)
		a.FullPauses = intervalPauses(a.Counters, FGC, FGCT)
	} else {
		a.PauseSource = PauseSourceEvents
		for i := range a.Events {
			event := &a.Events[i]
			switch {
			case event.STW:
				a.FullPauses = append(a.FullPauses, event.STWTime.Mul(thousand))
			case event.IsQualifying():
				a.YoungPauses = append(a.YoungPauses, event.YoungPause.Mul(thousand))
			}
		}
	}

	a.YoungPause = NewPauseStats(a.YoungPauses)
	a.TrimmedYoung = NewPauseStats(utils.Percentile(a.YoungPauses, ag.PausePercentile))
	a.FullPause = NewPauseStats(a.FullPauses)
	a.Sweep = NewPauseStats(a.SweepTimes)
}

// intervalPauses averages the collection time of each sampling interval in
// which the count advanced, in milliseconds.
func intervalPauses(counters CounterSeries, count, total Counter) []decimal.Decimal {
	var pauses []decimal.Decimal
	samples := counters.Samples
	for i := 1; i < len(samples); i++ {
		c0, ok1 := samples[i-1].Get(count)
		c1, ok2 := samples[i].Get(count)
		t0, ok3 := samples[i-1].Get(total)
		t1, ok4 := samples[i].Get(total)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			continue
		}
		collections := c1.Sub(c0)
		if !collections.IsPositive() {
			continue
		}
		pauses = append(pauses, t1.Sub(t0).Div(collections).Mul(thousand))
	}
	return pauses
}

func (ag *Aggregator) load(a *Analysis) {
	var pauseSeconds decimal.Decimal

	if a.Counters.Len() >= 2 {
		a.YoungGCCount = a.Counters.Delta(YGC).IntPart()
		a.FullGCCount = a.Counters.Delta(FGC).IntPart()
		a.SampleSeconds = a.Counters.Seconds()
		a.AggYoungPause = a.Counters.Delta(YGCT).Mul(thousand)
		a.AggFullPause = a.Counters.Delta(FGCT).Mul(thousand)
		a.OldGenCapacity = a.Counters.Last(OC)
		pauseSeconds = a.Counters.Delta(GCT)

		if n := len(a.Events); n > 0 && a.Events[n-1].Uptime.IsPositive() && a.Counters.Has(GCT) {
			a.GCLoadSinceStart = a.Counters.Last(GCT).Div(a.Events[n-1].Uptime).Mul(hundred)
			a.HasLoadSince = true
		}
	} else {
		for i := range a.Events {
			event := &a.Events[i]
			switch {
			case event.STW:
				a.FullGCCount++
				a.AggFullPause = a.AggFullPause.Add(event.STWTime.Mul(thousand))
				pauseSeconds = pauseSeconds.Add(event.STWTime)
			case event.IsQualifying():
				a.YoungGCCount++
				a.AggYoungPause = a.AggYoungPause.Add(event.YoungPause.Mul(thousand))
				pauseSeconds = pauseSeconds.Add(event.TotalPause)
				a.OldGenCapacity = decimal.NewFromInt(event.HeapTotal - event.YoungTotal)
			}
		}
		if n := len(a.Events); n >= 2 {
			a.SampleSeconds = utils.SecondsBetween(a.Events[0].Timestamp, a.Events[n-1].Timestamp)
		}
	}

	if a.SampleSeconds.IsPositive() {
		a.YoungGCRate = decimal.NewFromInt(a.YoungGCCount).Div(a.SampleSeconds).Mul(sixty)
		a.FullGCRate = decimal.NewFromInt(a.FullGCCount).Div(a.SampleSeconds).Mul(sixty)
		a.GCLoad = pauseSeconds.Div(a.SampleSeconds).Mul(hundred)
	}
	a.Efficiency = hundred.Sub(a.GCLoad)
}
