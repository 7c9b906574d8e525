package core

import (
	"math"
	"time"
)

// SaturatedAdd returns a+b, clamped to the int64 range instead of wrapping.
func SaturatedAdd(a, b int64) int64 {
	sum := a + b
	// overflow only happens when both operands share a sign the result lacks
	if (a >= 0) == (b >= 0) && (sum >= 0) != (a >= 0) {
		if a >= 0 {
			return math.MaxInt64
		}
		return math.MinInt64
	}
	return sum
}

// SaturatedMul returns a*b, clamped to the int64 range instead of wrapping.
func SaturatedMul(a, b int64) int64 {
	if a == 0 || b == 0 {
		return 0
	}
	product := a * b
	if product/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
		if (a > 0) == (b > 0) {
			return math.MaxInt64
		}
		return math.MinInt64
	}
	return product
}

// MillisToDuration converts milliseconds to a Duration, clamping values that do not
// fit in int64 nanoseconds. Negative input yields 0.
func MillisToDuration(millis int64) time.Duration {
	if millis <= 0 {
		return 0
	}
	if millis > math.MaxInt64/int64(time.Millisecond) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(millis) * time.Millisecond
}
