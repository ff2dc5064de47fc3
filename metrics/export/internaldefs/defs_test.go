package internaldefs

import (
	"strings"
	"testing"
)

func TestCounterNamesUnique(t *testing.T) {
	seen := make(map[string]bool, len(CounterDefs))
	for _, def := range CounterDefs {
		if !strings.HasPrefix(def.Name, "gosession_") || !strings.HasSuffix(def.Name, "_total") {
			t.Fatalf("bad counter name %q", def.Name)
		}
		if seen[def.Name] {
			t.Fatalf("duplicate counter %q", def.Name)
		}
		seen[def.Name] = true
	}
}

func TestBoundsAlign(t *testing.T) {
	if len(HistogramBounds) != len(HistogramBoundSuffix) || len(HistogramBounds) != 8 {
		t.Fatalf("bounds %d, suffixes %d", len(HistogramBounds), len(HistogramBoundSuffix))
	}
}

func TestCumulativeBuckets(t *testing.T) {
	got := CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3}))
	want := [8]uint64{1, 3, 6, 6, 6, 6, 6, 6}
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}
