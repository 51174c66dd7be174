package gc_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mabhi256/gctune/internal/gc"
)

var epoch = time.Date(2017, 2, 2, 15, 16, 0, 0, time.UTC)

func youngEvent(offset time.Duration, before, after, old int64, pause string, ages ...gc.Cohort) gc.GCEvent {
	return gc.GCEvent{
		Timestamp:    epoch.Add(offset),
		Uptime:       decimal.NewFromInt(400).Add(decimal.NewFromFloat(offset.Seconds())),
		Type:         gc.GCTypeParNew,
		Valid:        true,
		MaxThreshold: len(ages),
		Ages:         ages,
		YoungBefore:  before,
		YoungAfter:   after,
		YoungTotal:   7680,
		YoungPause:   dec(pause),
		HeapAfter:    old + after,
		HeapTotal:    202240,
		TotalPause:   dec(pause),
		OldUsed:      old,
	}
}

func cohort(age int, used, total int64) gc.Cohort {
	return gc.Cohort{Age: age, BytesUsed: used, BytesTotal: total}
}

func unseen(age int) gc.Cohort {
	return gc.Cohort{Age: age, BytesUsed: gc.Unseen, BytesTotal: gc.Unseen}
}

func sampleEvents() []gc.GCEvent {
	return []gc.GCEvent{
		youngEvent(0, 5000, 200, 1000, "0.010",
			cohort(1, 1000, 1000), cohort(2, 500, 1500), unseen(3)),
		youngEvent(2*time.Second, 4200, 300, 1400, "0.020",
			cohort(1, 800, 800), cohort(2, 900, 1700), cohort(3, 250, 1950)),
		// Old gen shrank: no promotion sample for this pair.
		youngEvent(4*time.Second, 4300, 300, 1300, "0.030",
			cohort(1, 700, 700), unseen(2), cohort(3, 450, 1150)),
		{
			Timestamp: epoch.Add(5 * time.Second),
			Uptime:    decimal.NewFromInt(405),
			Type:      gc.GCTypeCMSSTW,
			Valid:     true,
			STW:       true,
			STWTime:   dec("0.5"),
		},
	}
}

func decimalsEqual(t *testing.T, want []string, got []decimal.Decimal) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		assert.True(t, dec(want[i]).Equal(got[i]), "index %d: want %s, got %s", i, want[i], got[i])
	}
}

func TestAggregateEventRates(t *testing.T) {
	t.Parallel()

	a := gc.NewAggregator().Aggregate(sampleEvents(), gc.CounterSeries{})

	decimalsEqual(t, []string{"2000", "2000"}, a.YoungAlloc.Rates())
	decimalsEqual(t, []string{"50", "0"}, a.YoungGrowth.Rates())
	decimalsEqual(t, []string{"200"}, a.Promotion.Rates())
	assert.True(t, a.YoungAlloc[0].Interval.Equal(decimal.NewFromInt(2)))
	decimalsEqual(t, []string{"2", "1"}, a.SurvivorLengths)
}

func TestAggregateSurvivorDeathRates(t *testing.T) {
	t.Parallel()

	a := gc.NewAggregator().Aggregate(sampleEvents(), gc.CounterSeries{})

	require.Len(t, a.Survivor, 2)

	// Age 1 of the second pair points at an unseen age 2 and is skipped.
	age1 := a.Survivor[0]
	assert.Equal(t, 1, age1.Age)
	assert.Equal(t, 1, age1.Samples)
	assert.True(t, age1.Mean.Equal(dec("10")), age1.Mean.String())
	assert.True(t, age1.CumulativeSurvival.Equal(dec("0.9")))

	age2 := a.Survivor[1]
	assert.Equal(t, 2, age2.Samples)
	assert.True(t, age2.Min.Equal(dec("50")))
	assert.True(t, age2.Max.Equal(dec("50")))
	assert.True(t, age2.CumulativeSurvival.Equal(dec("0.45")))
}

func TestAggregateEventPauses(t *testing.T) {
	t.Parallel()

	a := gc.NewAggregator().Aggregate(sampleEvents(), gc.CounterSeries{})

	assert.Equal(t, gc.PauseSourceEvents, a.PauseSource)
	decimalsEqual(t, []string{"10", "20", "30"}, a.YoungPauses)
	decimalsEqual(t, []string{"500"}, a.FullPauses)
	assert.Equal(t, 3, a.YoungPause.Count)
	assert.True(t, a.YoungPause.Mean.Equal(dec("20")))

	assert.Equal(t, int64(3), a.YoungGCCount)
	assert.Equal(t, int64(1), a.FullGCCount)
	assert.True(t, a.SampleSeconds.Equal(decimal.NewFromInt(5)))
	assert.True(t, a.YoungGCRate.Equal(decimal.NewFromInt(36)))
	assert.True(t, a.FullGCRate.Equal(decimal.NewFromInt(12)))
	assert.True(t, a.AggYoungPause.Equal(decimal.NewFromInt(60)))
	assert.True(t, a.GCLoad.Equal(dec("11.2")), a.GCLoad.String())
	assert.True(t, a.Efficiency.Equal(dec("88.8")))
	assert.True(t, a.OldGenCapacity.Equal(decimal.NewFromInt(202240-7680)))
}

func counterSeries(rows ...map[gc.Counter]string) gc.CounterSeries {
	var series gc.CounterSeries
	for i, row := range rows {
		values := make(map[gc.Counter]decimal.Decimal, len(row))
		for c, v := range row {
			values[c] = dec(v)
		}
		series.Append(gc.CounterSample{Timestamp: epoch.Add(time.Duration(i) * time.Second), Values: values})
	}
	return series
}

func TestAggregateCounterPauses(t *testing.T) {
	t.Parallel()

	counters := counterSeries(
		map[gc.Counter]string{gc.YGC: "10", gc.YGCT: "0.10", gc.FGC: "0", gc.FGCT: "0", gc.GCT: "0.10", gc.OC: "194560"},
		map[gc.Counter]string{gc.YGC: "12", gc.YGCT: "0.14", gc.FGC: "1", gc.FGCT: "0.3", gc.GCT: "0.44", gc.OC: "194560"},
		map[gc.Counter]string{gc.YGC: "12", gc.YGCT: "0.14", gc.FGC: "1", gc.FGCT: "0.3", gc.GCT: "0.44", gc.OC: "194560"},
		map[gc.Counter]string{gc.YGC: "16", gc.YGCT: "0.22", gc.FGC: "1", gc.FGCT: "0.3", gc.GCT: "0.50", gc.OC: "200000"},
	)

	a := gc.NewAggregator().Aggregate(sampleEvents(), counters)

	assert.Equal(t, gc.PauseSourceCounters, a.PauseSource)
	decimalsEqual(t, []string{"20", "20"}, a.YoungPauses)
	decimalsEqual(t, []string{"300"}, a.FullPauses)
	assert.Equal(t, int64(6), a.YoungGCCount)
	assert.Equal(t, int64(1), a.FullGCCount)
	assert.True(t, a.SampleSeconds.Equal(decimal.NewFromInt(3)))
	assert.True(t, a.YoungGCRate.Equal(decimal.NewFromInt(120)))
	assert.True(t, a.OldGenCapacity.Equal(decimal.NewFromInt(200000)))
	assert.True(t, a.HasLoadSince)
	assert.True(t, a.FullGCInterval(decimal.NewFromInt(1000)).Equal(decimal.NewFromInt(200)))
	assert.True(t, a.FullGCInterval(decimal.Zero).IsZero())
}

func TestAggregatePromotionFallsBackToCounters(t *testing.T) {
	t.Parallel()

	counters := counterSeries(
		map[gc.Counter]string{gc.OU: "100"},
		map[gc.Counter]string{gc.OU: "300"},
		map[gc.Counter]string{gc.OU: "250"},
	)

	a := gc.NewAggregator().Aggregate(nil, counters)

	decimalsEqual(t, []string{"200"}, a.Promotion.Rates())
	assert.Empty(t, a.YoungAlloc)
	assert.Empty(t, a.Survivor)
}

func TestAggregateSkipsNonQualifyingPairs(t *testing.T) {
	t.Parallel()

	events := sampleEvents()
	sweep := gc.GCEvent{Timestamp: epoch.Add(time.Second), Type: gc.GCTypeCMSSweep, Valid: true, SweepTime: dec("0.021")}
	withSweep := []gc.GCEvent{events[0], sweep, events[1]}

	a := gc.NewAggregator().Aggregate(withSweep, gc.CounterSeries{})

	assert.Empty(t, a.YoungAlloc)
	assert.Empty(t, a.Survivor)
	if diff := cmp.Diff([]string{"0.021"}, []string{a.SweepTimes[0].String()}); diff != "" {
		t.Errorf("sweep times mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, a.Sweep.Max.Equal(dec("0.021")))
}
