package signal

import (
	"testing"

	"github.com/pairbot/statarb/internal/domain"
)

func TestEntryTriggered(t *testing.T) {
	tests := []struct {
		z    float64
		want bool
	}{
		{z: 1.49, want: false},
		{z: 1.5, want: true},
		{z: -1.5, want: true},
		{z: -0.2, want: false},
		{z: 3.1, want: true},
	}
	for _, tt := range tests {
		if got := EntryTriggered(tt.z, 1.5); got != tt.want {
			t.Fatalf("EntryTriggered(%v)=%v, want %v", tt.z, got, tt.want)
		}
	}
}

func TestExitTriggered(t *testing.T) {
	tests := []struct {
		name     string
		entry    float64
		current  float64
		wantExit bool
	}{
		{name: "crossed but below entry level", entry: -2.5, current: 0.1, wantExit: false},
		{name: "crossed beyond entry level", entry: -2.5, current: 2.6, wantExit: true},
		{name: "crossed exactly at entry level", entry: 2.0, current: -2.0, wantExit: true},
		{name: "same sign, further out", entry: -2.5, current: -3.0, wantExit: false},
		{name: "partial reversion", entry: 2.5, current: 1.0, wantExit: false},
		{name: "at the mean", entry: 2.5, current: 0, wantExit: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitTriggered(tt.entry, tt.current); got != tt.wantExit {
				t.Fatalf("ExitTriggered(%v, %v)=%v, want %v", tt.entry, tt.current, got, tt.wantExit)
			}
		})
	}
}

func TestEntrySidesAntisymmetric(t *testing.T) {
	for _, x := range []float64{0.5, 1.5, 2.5, 10} {
		negBase, negQuote := EntrySides(-x)
		posBase, posQuote := EntrySides(x)

		if negBase != domain.OrderSideBuy || negQuote != domain.OrderSideSell {
			t.Fatalf("z=-%v: got base=%s quote=%s", x, negBase, negQuote)
		}
		if posBase != negQuote || posQuote != negBase {
			t.Fatalf("z=±%v: sides not swapped: (%s,%s) vs (%s,%s)", x, negBase, negQuote, posBase, posQuote)
		}
	}
}
