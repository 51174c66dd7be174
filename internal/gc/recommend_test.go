package gc_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mabhi256/gctune/internal/gc"
)

func repeat(value string, n int) []decimal.Decimal {
	values := make([]decimal.Decimal, n)
	for i := range values {
		values[i] = dec(value)
	}
	return values
}

// scenarioStatic is a 100 MiB heap with a 10 MiB new generation.
func scenarioStatic() gc.StaticConfig {
	return gc.StaticConfig{
		MaxHeapSize:   104857600,
		NewSize:       10485760,
		SurvivorRatio: 8,
		MetaspaceSize: 2048 * 1024,
	}
}

func scenarioAnalysis(ageOneTotal int64) *gc.Analysis {
	events := []gc.GCEvent{
		youngEvent(0, 5000, 200, 4800, "0.010", cohort(1, ageOneTotal, ageOneTotal)),
		youngEvent(time.Second, 5000, 200, 4900, "0.010", cohort(1, 1000, 1000)),
	}
	counters := counterSeries(
		map[gc.Counter]string{gc.OU: "5000", gc.FGC: "0", gc.MU: "1800"},
		map[gc.Counter]string{gc.OU: "6000", gc.FGC: "1", gc.MU: "2000"},
		map[gc.Counter]string{gc.OU: "4000", gc.FGC: "1", gc.MU: "1900"},
		map[gc.Counter]string{gc.OU: "4500", gc.FGC: "2", gc.MU: "2000"},
	)

	return &gc.Analysis{
		Events:          events,
		Counters:        counters,
		YoungAlloc:      gc.RateSeries{{Interval: decimal.NewFromInt(1), Rate: decimal.NewFromInt(1000)}},
		Promotion:       gc.RateSeries{{Interval: decimal.NewFromInt(1), Rate: decimal.NewFromInt(100)}},
		Survivor:        gc.SurvivorAgeStats{{Age: 1, Samples: 1, Mean: dec("95"), CumulativeSurvival: dec("0.05")}},
		MaxThreshold:    15,
		YoungPauses:     repeat("10", 10),
		FullPauses:      repeat("100", 3),
		SweepTimes:      repeat("2", 1),
		TrimmedYoung:    gc.PauseStats{Count: 10, Mean: dec("10"), Stdev: dec("1")},
		Sweep:           gc.PauseStats{Count: 1, Min: dec("2"), Mean: dec("2"), Max: dec("2")},
		PausePercentile: gc.DefaultPausePercentile,
		YoungGCRate:     decimal.NewFromInt(60),
	}
}

func messagesOf(rec *gc.Recommendation, severity gc.Severity) []string {
	var texts []string
	for _, m := range rec.Messages {
		if m.Severity == severity {
			texts = append(texts, m.Text)
		}
	}
	return texts
}

func TestTargetYoungGCRate(t *testing.T) {
	t.Parallel()

	goals := gc.DefaultGoals()

	goals.Optimize = decimal.Zero
	assert.True(t, goals.TargetYoungGCRate().Equal(decimal.NewFromInt(180)))

	goals.Optimize = decimal.NewFromInt(gc.OptimizeMax)
	assert.True(t, goals.TargetYoungGCRate().Equal(decimal.NewFromInt(1)))
}

func TestRecommendFullScenario(t *testing.T) {
	t.Parallel()

	rec, err := gc.NewEngine(gc.DefaultGoals()).Recommend(scenarioAnalysis(524288), scenarioStatic())
	require.NoError(t, err)

	assert.Equal(t, gc.StageReadiness, rec.Stage)
	assert.Equal(t, gc.RegimeRetain, rec.Regime)
	assert.True(t, rec.CurrentNewGen.Equal(decimal.NewFromInt(10240)))

	assert.Equal(t, 1, rec.TenuringAge)
	assert.True(t, rec.TenuringThreshold.Equal(decimal.NewFromInt(1)))
	assert.True(t, rec.MaxTenuringSize.Equal(decimal.NewFromInt(1024)))
	assert.True(t, rec.SurvivorRatio.Equal(decimal.NewFromInt(10)))
	assert.False(t, rec.SurvivorClamped)
	assert.True(t, rec.NewGenSize.Equal(decimal.NewFromInt(11264)), rec.NewGenSize.String())

	assert.True(t, rec.LiveOldGen.Equal(decimal.NewFromInt(4000)))
	assert.True(t, rec.MaxHeapSize.Equal(decimal.NewFromInt(26288)), rec.MaxHeapSize.String())
	assert.False(t, rec.PermGen)
	assert.True(t, rec.MetaspaceSize.Equal(decimal.NewFromInt(3000)))
	assert.True(t, rec.CurrentMetaspace.Equal(decimal.NewFromInt(2048)))

	assert.Equal(t, int64(97), rec.OccupancyFraction)

	assert.Equal(t, gc.ConsistencyVery, rec.Consistency)
	assert.True(t, rec.CollectorReady)
	assert.Empty(t, messagesOf(rec, gc.SeverityCritical))
	assert.Empty(t, messagesOf(rec, gc.SeverityWarning))

	last := rec.Messages[len(rec.Messages)-1]
	assert.Equal(t, gc.StageReadiness, last.Stage)
	assert.Contains(t, last.Text, "75th percentile mean of 10ms")
}

func TestRecommendClampsSurvivorRatio(t *testing.T) {
	t.Parallel()

	rec, err := gc.NewEngine(gc.DefaultGoals()).Recommend(scenarioAnalysis(8*1024*1024), scenarioStatic())
	require.NoError(t, err)

	assert.True(t, rec.MaxTenuringSize.Equal(decimal.NewFromInt(16384)))
	assert.True(t, rec.SurvivorClamped)
	assert.True(t, rec.SurvivorRatio.Equal(decimal.NewFromInt(1)))
	assert.True(t, rec.NewGenSize.Equal(decimal.NewFromInt(16384)))
	assert.True(t, rec.MaxHeapSize.Equal(decimal.NewFromInt(14000+16384+16384)))

	warnings := messagesOf(rec, gc.SeverityWarning)
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], "survivor ratio of 0.63 is less than 1")
}

func TestRecommendTimeRegime(t *testing.T) {
	t.Parallel()

	a := scenarioAnalysis(524288)
	a.TrimmedYoung.Mean = dec("100")
	a.YoungGCRate = decimal.NewFromInt(60)

	rec, err := gc.NewEngine(gc.DefaultGoals()).Recommend(a, scenarioStatic())
	require.NoError(t, err)

	assert.Equal(t, gc.RegimeTime, rec.Regime)
	assert.True(t, rec.MaxTenuringSize.Equal(decimal.NewFromInt(3584)))
	assert.True(t, rec.NewGenSize.Equal(decimal.NewFromInt(8704)), rec.NewGenSize.String())
	assert.True(t, rec.TenuringThreshold.Equal(decimal.NewFromInt(2)))
	assert.Contains(t, strings.Join(messagesOf(rec, gc.SeverityWarning), "\n"), "Shrinking NewGen")
}

func TestRecommendRateRegimeComesFirst(t *testing.T) {
	t.Parallel()

	a := scenarioAnalysis(524288)
	a.TrimmedYoung.Mean = dec("100")
	a.YoungGCRate = decimal.NewFromInt(10)

	rec, err := gc.NewEngine(gc.DefaultGoals()).Recommend(a, scenarioStatic())
	require.NoError(t, err)

	assert.Equal(t, gc.RegimeRate, rec.Regime)
	assert.True(t, rec.TenuringThreshold.GreaterThan(decimal.NewFromInt(1)))
}

func TestRecommendNoYoungCollectionsRetains(t *testing.T) {
	t.Parallel()

	a := scenarioAnalysis(524288)
	a.TrimmedYoung.Mean = dec("100")
	a.YoungGCRate = decimal.Zero

	rec, err := gc.NewEngine(gc.DefaultGoals()).Recommend(a, scenarioStatic())
	require.NoError(t, err)

	assert.Equal(t, gc.RegimeRetain, rec.Regime)
	assert.True(t, rec.NewGenSize.Equal(decimal.NewFromInt(11264)))
	assert.Contains(t, messagesOf(rec, gc.SeverityWarning)[0], "No young collections")
}

func TestRecommendHaltsWithoutEvents(t *testing.T) {
	t.Parallel()

	a := scenarioAnalysis(524288)
	a.Events = a.Events[:1]

	rec, err := gc.NewEngine(gc.DefaultGoals()).Recommend(a, scenarioStatic())
	require.Error(t, err)
	require.NotNil(t, rec)

	assert.True(t, errors.Is(err, gc.ErrInsufficientData))
	var halt *gc.HaltError
	require.True(t, errors.As(err, &halt))
	assert.Equal(t, gc.StageInput, halt.Stage)
	assert.Equal(t, gc.StageInput, rec.Stage)
	assert.Equal(t, gc.ConsistencyVery, rec.Consistency)
	assert.Len(t, messagesOf(rec, gc.SeverityCritical), 1)
}

func TestRecommendIncompleteStaticConfig(t *testing.T) {
	t.Parallel()

	static := scenarioStatic()
	static.SurvivorRatio = 0

	rec, err := gc.NewEngine(gc.DefaultGoals()).Recommend(scenarioAnalysis(524288), static)
	require.ErrorIs(t, err, gc.ErrSourceUnavailable)
	assert.Equal(t, gc.StageInput, rec.Stage)
}

func TestRecommendHaltKeepsEarlierStages(t *testing.T) {
	t.Parallel()

	a := scenarioAnalysis(524288)
	a.FullPauses = a.FullPauses[:2]

	rec, err := gc.NewEngine(gc.DefaultGoals()).Recommend(a, scenarioStatic())

	var halt *gc.HaltError
	require.ErrorAs(t, err, &halt)
	assert.Equal(t, gc.StageHeap, halt.Stage)
	assert.Equal(t, gc.StageSurvivor, rec.Stage)
	assert.True(t, rec.Reached(gc.StageRegime))
	assert.False(t, rec.Reached(gc.StageHeap))

	assert.True(t, rec.NewGenSize.Equal(decimal.NewFromInt(11264)))
	assert.True(t, rec.MaxHeapSize.IsZero())
	assert.Zero(t, rec.OccupancyFraction)
	assert.Equal(t, gc.ConsistencyVery, rec.Consistency)
}

func TestRecommendTenuringFallbacks(t *testing.T) {
	t.Parallel()

	stats := func(means ...string) gc.SurvivorAgeStats {
		var out gc.SurvivorAgeStats
		survival := decimal.NewFromInt(1)
		for i, m := range means {
			survival = survival.Mul(decimal.NewFromInt(1).Sub(dec(m).Div(decimal.NewFromInt(100))))
			out = append(out, gc.AgeStat{Age: i + 1, Samples: 1, Mean: dec(m), CumulativeSurvival: survival})
		}
		return out
	}

	t.Run("non-reaping tail", func(t *testing.T) {
		t.Parallel()

		a := scenarioAnalysis(524288)
		a.Survivor = stats("50", "3", "2", "1")

		rec, err := gc.NewEngine(gc.DefaultGoals()).Recommend(a, scenarioStatic())
		require.NoError(t, err)
		assert.Equal(t, 2, rec.TenuringAge)
		assert.Contains(t, strings.Join(messagesOf(rec, gc.SeverityWarning), "\n"), "Objects stop dying after age 2")
	})

	t.Run("unsampled ages are not counted as non-reaping", func(t *testing.T) {
		t.Parallel()

		observed := stats("50", "40", "30", "3")
		a := scenarioAnalysis(524288)
		a.Survivor = gc.SurvivorAgeStats{
			observed[0],
			{Age: 2, CumulativeSurvival: observed[0].CumulativeSurvival},
			{Age: 3, CumulativeSurvival: observed[0].CumulativeSurvival},
		}
		for i, stat := range observed[1:] {
			stat.Age = i + 4
			a.Survivor = append(a.Survivor, stat)
		}

		rec, err := gc.NewEngine(gc.DefaultGoals()).Recommend(a, scenarioStatic())
		require.NoError(t, err)
		assert.Equal(t, 0, rec.TenuringAge)
		warnings := strings.Join(messagesOf(rec, gc.SeverityWarning), "\n")
		assert.NotContains(t, warnings, "Objects stop dying")
		assert.Contains(t, warnings, "inconclusive")
	})

	t.Run("inconclusive", func(t *testing.T) {
		t.Parallel()

		a := scenarioAnalysis(524288)
		a.Survivor = stats("50", "40", "30")

		rec, err := gc.NewEngine(gc.DefaultGoals()).Recommend(a, scenarioStatic())
		require.NoError(t, err)
		assert.Equal(t, 0, rec.TenuringAge)
		assert.True(t, rec.TenuringThreshold.IsZero())
		assert.True(t, rec.MaxTenuringSize.Equal(decimal.NewFromInt(1024)))
		assert.Contains(t, strings.Join(messagesOf(rec, gc.SeverityWarning), "\n"), "inconclusive")
	})
}

func TestRecommendLiveOldGenIncludesFirstSampleAfterFullGC(t *testing.T) {
	t.Parallel()

	a := scenarioAnalysis(524288)
	a.Counters = counterSeries(
		map[gc.Counter]string{gc.OU: "5000", gc.FGC: "0", gc.MU: "1800"},
		map[gc.Counter]string{gc.OU: "1000", gc.FGC: "1", gc.MU: "2000"},
		map[gc.Counter]string{gc.OU: "3000", gc.FGC: "1", gc.MU: "1900"},
		map[gc.Counter]string{gc.OU: "4000", gc.FGC: "2", gc.MU: "2000"},
	)

	rec, err := gc.NewEngine(gc.DefaultGoals()).Recommend(a, scenarioStatic())
	require.NoError(t, err)
	assert.True(t, rec.LiveOldGen.Equal(decimal.NewFromInt(1000)), "live old gen %s", rec.LiveOldGen)
}

func TestRecommendOccupancyClampsAtZero(t *testing.T) {
	t.Parallel()

	a := scenarioAnalysis(524288)
	a.YoungAlloc = gc.RateSeries{{Interval: decimal.NewFromInt(1), Rate: decimal.NewFromInt(1_000_000)}}

	rec, err := gc.NewEngine(gc.DefaultGoals()).Recommend(a, scenarioStatic())
	require.NoError(t, err)
	assert.Zero(t, rec.OccupancyFraction)
	assert.Contains(t, strings.Join(messagesOf(rec, gc.SeverityWarning), "\n"), "clamped to 0")
}

func TestRecommendReportsInconsistentConfig(t *testing.T) {
	t.Parallel()

	a := scenarioAnalysis(524288)
	a.Counters.Samples[0].Values[gc.S0C] = dec("832")
	a.Counters.Samples[0].Values[gc.S1C] = dec("1024")
	static := scenarioStatic()
	static.NewSize = static.MaxHeapSize * 2

	rec, err := gc.NewEngine(gc.DefaultGoals()).Recommend(a, static)
	require.NoError(t, err)

	var inconsistent []gc.Diagnostic
	for _, m := range rec.Messages {
		if strings.HasPrefix(m.Text, gc.ErrInconsistentConfig.Error()) {
			inconsistent = append(inconsistent, m)
		}
	}
	require.Len(t, inconsistent, 2)
	assert.Equal(t, gc.SeverityWarning, inconsistent[0].Severity)
	assert.Equal(t, gc.StageInput, inconsistent[0].Stage)
	assert.Contains(t, inconsistent[0].Text, "NewSize 200 MiB exceeds MaxHeapSize 100 MiB")
	assert.Contains(t, inconsistent[1].Text, "survivor spaces differ")
}

func TestStageString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "heap sizing", gc.StageHeap.String())
	assert.Equal(t, "stage(9)", gc.Stage(9).String())

	err := &gc.HaltError{Stage: gc.StageHeap, Reason: "not enough"}
	assert.Equal(t, "insufficient data: halted at heap sizing: not enough", err.Error())
}
