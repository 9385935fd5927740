package dsp

import (
	"math"
	"testing"
)

func TestHammingShape(t *testing.T) {
	cases := []struct {
		n    int
		want []float64
	}{
		{n: 0, want: []float64{}},
		{n: 1, want: []float64{1}},
		{n: 4, want: []float64{0.08, 0.77, 0.77, 0.08}},
		{n: 5, want: []float64{0.08, 0.54, 1, 0.54, 0.08}},
	}
	for _, tc := range cases {
		got := Hamming(tc.n)
		if len(got) != len(tc.want) {
			t.Fatalf("Hamming(%d) has %d points, want %d", tc.n, len(got), len(tc.want))
		}
		for i, w := range tc.want {
			if math.Abs(got[i]-w) > 1e-9 {
				t.Fatalf("Hamming(%d)[%d] = %.9f, want %.2f", tc.n, i, got[i], w)
			}
		}
	}
}

func TestWindowSumIsCoherentGain(t *testing.T) {
	if got := WindowSum(Hamming(4)); math.Abs(got-1.7) > 1e-9 {
		t.Fatalf("coherent gain of Hamming(4) = %v, want 1.7", got)
	}
	if got := WindowSum(nil); got != 0 {
		t.Fatalf("empty window sum = %v", got)
	}
}

func TestApplyWindowScalesBothRails(t *testing.T) {
	out := ApplyWindow([]complex64{complex(2, -4), complex(1, 1)}, []float64{0.5, 0.25})
	if len(out) != 2 || out[0] != complex(1, -2) || out[1] != complex(0.25, 0.25) {
		t.Fatalf("unexpected windowed block %v", out)
	}
	if out := ApplyWindow(make([]complex64, 3), Hamming(4)); len(out) != 0 {
		t.Fatalf("mismatched lengths must yield nothing, got %d values", len(out))
	}
}
