package utils

import (
	"github.com/shopspring/decimal"
)

var (
	shortUnits = [8]string{"K", "M", "G", "T", "P", "E", "Z", "Y"}
	longUnits  = [8]string{"KiB", "MiB", "GiB", "TiB", "PiB", "EiB", "ZiB", "YiB"}

	kibi = decimal.NewFromInt(1024)
)

// ReduceK scales a size given in KiB up to the largest IEC unit that keeps the
// magnitude below 1024. Whole results drop their fraction, so 4096 renders as
// "4M" and 64738 at precision 1 renders as "63.2M". The long form separates
// the unit with a space ("4 MiB").
func ReduceK(size decimal.Decimal, precision int32, short bool) string {
	value := size
	place := 0
	for place < len(shortUnits)-1 && value.Abs().GreaterThanOrEqual(kibi) {
		value = value.Div(kibi)
		place++
	}

	value = value.RoundBank(precision)
	text := value.StringFixed(precision)
	if value.Equal(value.Truncate(0)) {
		text = value.Truncate(0).String()
	}

	if short {
		return text + shortUnits[place]
	}
	return text + " " + longUnits[place]
}

// BytesToKiB converts a byte count to KiB without rounding.
func BytesToKiB(bytes int64) decimal.Decimal {
	return decimal.NewFromInt(bytes).Div(kibi)
}
