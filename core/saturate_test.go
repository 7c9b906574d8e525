package core

import (
	"math"
	"testing"
	"time"
)

func TestSaturatedAdd(t *testing.T) {
	tests := []struct {
		a, b, want int64
	}{
		{1, 2, 3},
		{math.MaxInt64, 1, math.MaxInt64},
		{math.MaxInt64 - 5, 10, math.MaxInt64},
		{math.MinInt64, -1, math.MinInt64},
		{-5, 3, -2},
	}
	for _, tt := range tests {
		if got := SaturatedAdd(tt.a, tt.b); got != tt.want {
			t.Errorf("SaturatedAdd(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestSaturatedMul(t *testing.T) {
	tests := []struct {
		a, b, want int64
	}{
		{0, math.MaxInt64, 0},
		{70, 33, 2310},
		{math.MaxInt64, 33, math.MaxInt64},
		{math.MaxInt64, -2, math.MinInt64},
		{math.MinInt64, -1, math.MaxInt64},
		{-1, math.MinInt64, math.MaxInt64},
	}
	for _, tt := range tests {
		if got := SaturatedMul(tt.a, tt.b); got != tt.want {
			t.Errorf("SaturatedMul(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestMillisToDuration(t *testing.T) {
	if got := MillisToDuration(-10); got != 0 {
		t.Errorf("MillisToDuration(-10) = %v, want 0", got)
	}
	if got := MillisToDuration(1500); got != 1500*time.Millisecond {
		t.Errorf("MillisToDuration(1500) = %v, want 1.5s", got)
	}
	if got := MillisToDuration(math.MaxInt64); got != time.Duration(math.MaxInt64) {
		t.Errorf("MillisToDuration(MaxInt64) = %v, want clamped max", got)
	}
}
