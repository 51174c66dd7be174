package utils

import (
	"math"
	"slices"

	"github.com/shopspring/decimal"
)

// Min returns the smallest value, or zero for an empty slice.
func Min(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	return decimal.Min(values[0], values[1:]...)
}

// Max returns the largest value, or zero for an empty slice.
func Max(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	return decimal.Max(values[0], values[1:]...)
}

func Sum(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	return decimal.Sum(values[0], values[1:]...)
}

// Mean is the arithmetic mean over len(values).
func Mean(values []decimal.Decimal) decimal.Decimal {
	return MeanN(values, len(values))
}

// MeanN divides the sum of values by n. A non-positive n yields zero.
func MeanN(values []decimal.Decimal, n int) decimal.Decimal {
	if n <= 0 {
		return decimal.Zero
	}
	return Sum(values).Div(decimal.NewFromInt(int64(n)))
}

// Median returns the middle value, averaging the two middle values for even
// lengths. An empty slice yields zero.
func Median(values []decimal.Decimal) decimal.Decimal {
	n := len(values)
	if n == 0 {
		return decimal.Zero
	}
	sorted := sortedCopy(values)
	if n%2 == 0 {
		return sorted[n/2-1].Add(sorted[n/2]).Div(decimal.NewFromInt(2))
	}
	return sorted[n/2]
}

// Stdev is the sample standard deviation (n-1 denominator). The variance is
// exact; only the square root goes through float64.
func Stdev(values []decimal.Decimal) decimal.Decimal {
	if len(values) < 2 {
		return decimal.Zero
	}
	mean := Mean(values)
	squares := make([]decimal.Decimal, len(values))
	for i, v := range values {
		diff := v.Sub(mean)
		squares[i] = diff.Mul(diff)
	}
	variance, _ := MeanN(squares, len(squares)-1).Float64()
	return decimal.NewFromFloat(math.Sqrt(variance))
}

// Percentile keeps the values at or below the pct watermark, preserving their
// original order. The watermark is the sorted element at index
// round(pct/100*len + 0.5) - 1, clamped to the slice.
func Percentile(values []decimal.Decimal, pct decimal.Decimal) []decimal.Decimal {
	if len(values) == 0 {
		return nil
	}
	idx := pct.Div(decimal.NewFromInt(100)).
		Mul(decimal.NewFromInt(int64(len(values)))).
		Add(decimal.NewFromFloat(0.5)).
		Round(0).IntPart()
	idx = max(1, min(idx, int64(len(values))))

	watermark := sortedCopy(values)[idx-1]
	kept := make([]decimal.Decimal, 0, idx)
	for _, v := range values {
		if v.LessThanOrEqual(watermark) {
			kept = append(kept, v)
		}
	}
	return kept
}

func sortedCopy(values []decimal.Decimal) []decimal.Decimal {
	sorted := slices.Clone(values)
	slices.SortFunc(sorted, func(a, b decimal.Decimal) int { return a.Cmp(b) })
	return sorted
}

// Decimals converts int64 samples for use with the decimal helpers.
func Decimals(values []int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.NewFromInt(v)
	}
	return out
}
