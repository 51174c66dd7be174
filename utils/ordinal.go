package utils

import "strconv"

// Ordinal renders n with its English ordinal suffix (1st, 2nd, 3rd, 11th, 64738th).
func Ordinal(n int) string {
	suffix := "th"
	switch mod := n % 100; {
	case mod >= 4 && mod <= 20:
	case n%10 == 1:
		suffix = "st"
	case n%10 == 2:
		suffix = "nd"
	case n%10 == 3:
		suffix = "rd"
	}
	return strconv.Itoa(n) + suffix
}
