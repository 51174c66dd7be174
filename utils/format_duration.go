package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ReduceSeconds compresses a number of seconds to its two most significant
// units: 2064 -> "34m24s", 64738 -> "17h58m", 129476 -> "1d11h".
func ReduceSeconds(secs decimal.Decimal) string {
	total := secs.IntPart()
	if total <= 0 {
		return "0s"
	}

	mins, s := total/60, total%60
	hours, mins := mins/60, mins%60
	days, hours := hours/24, hours%24

	var b strings.Builder
	if days > 0 {
		fmt.Fprintf(&b, "%dd", days)
	}
	if hours > 0 {
		fmt.Fprintf(&b, "%dh", hours)
		if days > 0 {
			return b.String()
		}
	}
	if mins > 0 {
		fmt.Fprintf(&b, "%dm", mins)
		if hours > 0 || days > 0 {
			return b.String()
		}
	}
	if s > 0 {
		fmt.Fprintf(&b, "%ds", s)
	}
	return b.String()
}

// SecondsBetween returns b - a in seconds with microsecond resolution.
func SecondsBetween(a, b time.Time) decimal.Decimal {
	return decimal.NewFromInt(b.Sub(a).Microseconds()).Shift(-6)
}
