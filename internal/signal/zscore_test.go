package signal

import (
	"errors"
	"math"
	"testing"

	"github.com/pairbot/statarb/internal/domain"
)

func TestZScoreLengthMatchesInput(t *testing.T) {
	for _, n := range []int{2, 5, 21, 50, 100} {
		spread := make([]float64, n)
		for i := range spread {
			spread[i] = math.Sin(float64(i))
		}
		zs, err := ZScore(spread, 21)
		if err != nil {
			t.Fatalf("n=%d: unexpected error: %v", n, err)
		}
		if len(zs) != n {
			t.Fatalf("n=%d: got %d zscores", n, len(zs))
		}
	}
}

func TestZScoreRejectsShortInput(t *testing.T) {
	for _, spread := range [][]float64{nil, {}, {1}} {
		if _, err := ZScore(spread, 21); !errors.Is(err, domain.ErrInsufficientData) {
			t.Fatalf("len=%d: expected ErrInsufficientData, got %v", len(spread), err)
		}
	}
}

func TestSpreadRejectsMismatchedSeries(t *testing.T) {
	if _, err := Spread([]float64{1, 2, 3}, []float64{1, 2}, 1); !errors.Is(err, domain.ErrLengthMismatch) {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}
	if _, err := Spread(nil, nil, 1); !errors.Is(err, domain.ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestZScoreSpikeValue(t *testing.T) {
	// Twenty equal samples followed by a jump of d give
	// z = (20/21) * sqrt(21) for any d > 0.
	spread := make([]float64, 50)
	for i := range spread {
		spread[i] = 3
	}
	spread[49] = 7

	z, err := Latest(mustZ(t, spread, 21))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := 20.0 / 21.0 * math.Sqrt(21)
	if math.Abs(z-want) > 1e-9 {
		t.Fatalf("z=%v, want %v", z, want)
	}
}

func TestLatestRejectsUndefinedValues(t *testing.T) {
	flat := []float64{1, 1, 1, 1, 1}
	zs := mustZ(t, flat, 3)
	if _, err := Latest(zs); !errors.Is(err, domain.ErrInsufficientData) {
		t.Fatalf("zero variance: expected ErrInsufficientData, got %v", err)
	}

	short := mustZ(t, []float64{1, 2, 3}, 21)
	if _, err := Latest(short); !errors.Is(err, domain.ErrInsufficientData) {
		t.Fatalf("short window: expected ErrInsufficientData, got %v", err)
	}
}

func TestCurrentZScore(t *testing.T) {
	b := make([]float64, 50)
	a := make([]float64, 50)
	for i := range b {
		b[i] = 10
		a[i] = 25 // spread = 25 - 2*10 = 5
	}
	a[49] = 21 // spread drops to 1

	z, err := CurrentZScore(a, b, 2, 21)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if z >= 0 {
		t.Fatalf("expected negative z after a drop, got %v", z)
	}
}

func mustZ(t *testing.T, spread []float64, window int) []float64 {
	t.Helper()
	zs, err := ZScore(spread, window)
	if err != nil {
		t.Fatalf("zscore: %v", err)
	}
	return zs
}
