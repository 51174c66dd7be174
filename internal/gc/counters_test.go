package gc_test

import (
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mabhi256/gctune/internal/gc"
)

func TestDecodeJstat(t *testing.T) {
	t.Parallel()

	f, err := os.Open("testdata/jstat.txt")
	require.NoError(t, err)
	defer f.Close()

	start := time.Date(2017, 2, 2, 15, 16, 0, 0, time.UTC)
	series, err := gc.DecodeJstat(f, start, 5*time.Second)
	require.NoError(t, err)

	require.Equal(t, 3, series.Len())
	assert.True(t, series.Delta(gc.FGC).Equal(decimal.NewFromInt(2)))
	assert.True(t, series.Delta(gc.YGC).Equal(decimal.NewFromInt(3)))
	assert.True(t, series.Seconds().Equal(decimal.NewFromInt(10)))
	assert.True(t, series.UsesCMS())
	assert.True(t, series.Last(gc.OU).Equal(decimal.NewFromInt(30100)))

	assert.Len(t, series.Column(gc.CCSC), 2)
	assert.False(t, series.Has(gc.PU))
	assert.True(t, series.Has(gc.MU))

	_, ok := series.Samples[2].Get(gc.CCSU)
	assert.False(t, ok)
	assert.Equal(t, start.Add(10*time.Second), series.Samples[2].Timestamp)
}

func TestJstatDecoderRows(t *testing.T) {
	t.Parallel()

	var d gc.JstatDecoder
	now := time.Now()

	_, ok := d.Decode("  10.0  20.0", now)
	assert.False(t, ok, "rows before a header are dropped")

	_, ok = d.Decode("Timestamp S0C S1C FGC", now)
	assert.False(t, ok)
	assert.Equal(t, []string{"Timestamp", "S0C", "S1C", "FGC"}, d.Columns())

	sample, ok := d.Decode("   12.5  512.0  512.0  3", now)
	require.True(t, ok)
	assert.Len(t, sample.Values, 3)
	fgc, _ := sample.Get(gc.FGC)
	assert.True(t, fgc.Equal(decimal.NewFromInt(3)))

	_, ok = d.Decode("12.5 512.0 512.0", now)
	assert.False(t, ok, "short row")

	_, ok = d.Decode("Could not attach to 4242", now)
	assert.False(t, ok)
	assert.Equal(t, "Timestamp", d.Columns()[0], "noise keeps the previous header")

	_, ok = d.Decode("", now)
	assert.False(t, ok)
}

func TestStopCondition(t *testing.T) {
	t.Parallel()

	series := gc.CounterSeries{}
	for i, fgc := range []int64{0, 1, 1, 3} {
		series.Append(gc.CounterSample{Values: map[gc.Counter]decimal.Decimal{
			gc.FGC: decimal.NewFromInt(fgc),
			gc.YGC: decimal.NewFromInt(int64(i * 4)),
		}})
	}

	tests := []struct {
		name string
		stop gc.StopCondition
		want bool
	}{
		{"disabled", gc.StopCondition{}, false},
		{"full gcs reached", gc.StopCondition{FullGCs: 3}, true},
		{"full gcs pending", gc.StopCondition{FullGCs: 4}, false},
		{"young gcs reached", gc.StopCondition{YoungGCs: 12}, true},
		{"samples reached", gc.StopCondition{Samples: 4}, true},
		{"samples pending", gc.StopCondition{Samples: 5, YoungGCs: 13}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.stop.Reached(series))
		})
	}
}

func TestDecodeJmapHeap(t *testing.T) {
	t.Parallel()

	f, err := os.Open("testdata/jmap_heap.txt")
	require.NoError(t, err)
	defer f.Close()

	config, err := gc.DecodeJmapHeap(f)
	require.NoError(t, err)

	assert.Equal(t, gc.StaticConfig{
		MinHeapFreeRatio:         40,
		MaxHeapFreeRatio:         70,
		MaxHeapSize:              209715200,
		NewSize:                  7864320,
		MaxNewSize:               69795840,
		OldSize:                  201850880,
		NewRatio:                 2,
		SurvivorRatio:            8,
		MetaspaceSize:            21807104,
		MaxMetaspaceSize:         math.MaxInt64,
		CompressedClassSpaceSize: 1073741824,
	}, config)
	assert.True(t, config.Complete())
	assert.False(t, config.HasPermGen())

	fields := config.Fields()
	require.NotEmpty(t, fields)
	assert.Equal(t, "MinHeapFreeRatio", fields[0].Name)
	assert.False(t, fields[0].Bytes)
}

func TestDecodeJmapHeapExactKeys(t *testing.T) {
	t.Parallel()

	out := strings.Join([]string{
		"   NewSizeThreadIncrease = 5320 (0.005MB)",
		"   MaxHeapSize = 104857600 (100.0MB)",
		"   SurvivorRatio = 6",
	}, "\n")

	config, err := gc.DecodeJmapHeap(strings.NewReader(out))
	require.ErrorIs(t, err, gc.ErrSourceUnavailable)
	assert.Zero(t, config.NewSize)
	assert.Equal(t, int64(104857600), config.MaxHeapSize)
	assert.False(t, config.Complete())
}

func TestStopTrackerIsIncremental(t *testing.T) {
	t.Parallel()

	tracker := gc.StopCondition{FullGCs: 2}.Tracker()
	sample := func(fgc int64) gc.CounterSample {
		return gc.CounterSample{Values: map[gc.Counter]decimal.Decimal{gc.FGC: decimal.NewFromInt(fgc)}}
	}

	for range 20000 {
		require.False(t, tracker.Observe(sample(5)))
	}
	assert.False(t, tracker.Observe(sample(6)))
	assert.False(t, tracker.Observe(gc.CounterSample{}))
	assert.True(t, tracker.Observe(sample(7)))
}
