package util

import (
	"testing"
)

func TestFixedRand(t *testing.T) {
	tests := []struct {
		name  string
		fixed FixedRand
		n     int
		want  int
	}{
		{name: "in range", fixed: 2, n: 4, want: 2},
		{name: "clamped high", fixed: 9, n: 4, want: 3},
		{name: "negative", fixed: -1, n: 4, want: 0},
		{name: "empty range", fixed: 1, n: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fixed.IntN(tt.n); got != tt.want {
				t.Errorf("FixedRand(%d).IntN(%d) = %d, want %d", tt.fixed, tt.n, got, tt.want)
			}
		})
	}
}

func TestPickString(t *testing.T) {
	pool := []string{"a", "b", "c"}

	if got := PickString(FixedRand(1), pool); got != "b" {
		t.Errorf("PickString() = %q, want %q", got, "b")
	}
	if got := PickString(FixedRand(0), nil); got != "" {
		t.Errorf("PickString() on empty pool = %q, want empty", got)
	}
}

func TestPickString_DefaultRandStaysInPool(t *testing.T) {
	pool := []string{"a", "b", "c"}
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		got := PickString(nil, pool)
		if got != "a" && got != "b" && got != "c" {
			t.Fatalf("PickString() returned %q, not in pool", got)
		}
		seen[got] = true
	}
	if len(seen) < 2 {
		t.Errorf("expected more than one distinct pick over 200 draws, got %v", seen)
	}
}

type outOfRange struct{}

func (outOfRange) IntN(n int) int { return n + 5 }

func TestPickString_GuardsBadSource(t *testing.T) {
	if got := PickString(outOfRange{}, []string{"x", "y"}); got != "x" {
		t.Errorf("PickString() with out-of-range source = %q, want %q", got, "x")
	}
}
