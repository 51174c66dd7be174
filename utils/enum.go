package utils

// CycleEnum steps an enum of values [0, last] by direction, wrapping at both ends.
func CycleEnum[T ~int](current T, direction int, last T) T {
	return (current + T(direction) + last + 1) % (last + 1)
}
