package dsp

import (
	"math"
	"testing"
)

func TestFFTAndDBFS(t *testing.T) {
	n := 8
	data := make([]complex64, n)
	for i := 0; i < n; i++ {
		phase := 2 * math.Pi * float64(i) / float64(n)
		data[i] = complex64(complex(math.Cos(phase), math.Sin(phase)))
	}
	fft, db := FFTAndDBFS(data)
	if len(fft) != n || len(db) != n {
		t.Fatalf("unexpected lengths")
	}
	maxIdx := 0
	maxMag := math.Inf(-1)
	for i, v := range fft {
		mag := real(v)*real(v) + imag(v)*imag(v)
		if mag > maxMag {
			maxMag = mag
			maxIdx = i
		}
	}
	expectedIdx := n/2 + 1
	if maxIdx != expectedIdx {
		t.Fatalf("expected peak at %d got %d", expectedIdx, maxIdx)
	}
	for _, v := range db {
		if math.IsNaN(v) {
			t.Fatalf("dbfs contains NaN")
		}
	}
}

func TestFFTShift(t *testing.T) {
	in := []complex128{0, 1, 2, 3}
	out := FFTShift(in)
	expected := []complex128{2, 3, 0, 1}
	for i := range expected {
		if out[i] != expected[i] {
			t.Fatalf("index %d expected %v got %v", i, expected[i], out[i])
		}
	}
}

func TestPeakAndBinFrequency(t *testing.T) {
	const n = 128
	const fs = 1.92e6
	tone := 120e3
	data := make([]complex64, n)
	for i := range data {
		phase := 2 * math.Pi * tone * float64(i) / fs
		data[i] = complex64(complex(math.Cos(phase), math.Sin(phase)))
	}
	p := Peak(data)
	if got := BinFrequency(p.Bin, n, fs); math.Abs(got-tone) > 1 {
		t.Fatalf("expected peak at %.0f Hz got %.0f (bin %d)", tone, got, p.Bin)
	}
	if math.Abs(p.DBFS) > 0.5 {
		t.Fatalf("full scale tone should be near 0 dBFS, got %.2f", p.DBFS)
	}
}

func TestRMSDBFS(t *testing.T) {
	if !math.IsInf(RMSDBFS(nil), -1) {
		t.Fatalf("empty block should be -Inf")
	}
	half := []complex64{0.5, 0.5i, -0.5, -0.5i}
	if got := RMSDBFS(half); math.Abs(got-(-6.0206)) > 1e-3 {
		t.Fatalf("expected -6.02 dBFS, got %.4f", got)
	}
}

func TestPeakOfPrecomputedSpectrum(t *testing.T) {
	p := PeakOf([]float64{-80, -3, math.Inf(-1), -40})
	if p.Bin != 1 || p.DBFS != -3 {
		t.Fatalf("unexpected peak %+v", p)
	}
	if empty := PeakOf(nil); empty.Bin != -1 {
		t.Fatalf("empty spectrum should report bin -1, got %d", empty.Bin)
	}
}
