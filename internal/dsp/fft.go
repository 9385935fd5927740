package dsp

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Samples on the stream path are float32 I/Q normalized to +-1, so full
// scale is 1.0.
const fullScale = 1.0

// FFTShift returns the FFT output shifted so that DC is centered.
func FFTShift(data []complex128) []complex128 {
	n := len(data)
	if n == 0 {
		return []complex128{}
	}
	half := n / 2
	shifted := make([]complex128, 0, n)
	shifted = append(shifted, data[half:]...)
	shifted = append(shifted, data[:half]...)
	return shifted
}

// FFTAndDBFS performs an FFT on the provided complex64 samples, applies a Hamming window,
// normalizes by the window sum, and converts the magnitude to dBFS.
func FFTAndDBFS(samples []complex64) ([]complex128, []float64) {
	if len(samples) == 0 {
		return []complex128{}, []float64{}
	}
	win := Hamming(len(samples))
	windowed := ApplyWindow(samples, win)
	fft := fourier.NewCmplxFFT(len(samples)).Coefficients(nil, windowed)
	sumWin := WindowSum(win)
	for i := range fft {
		fft[i] /= complex(sumWin, 0)
	}
	shifted := FFTShift(fft)
	dbfs := make([]float64, len(shifted))
	for i, v := range shifted {
		dbfs[i] = toDBFS(cmplx.Abs(v))
	}
	return shifted, dbfs
}

// PeakInfo locates the strongest bin of a block spectrum. Bin indexes the
// DC-centered spectrum.
type PeakInfo struct {
	Bin  int
	DBFS float64
}

// Peak returns the strongest spectral bin of samples.
func Peak(samples []complex64) PeakInfo {
	_, db := FFTAndDBFS(samples)
	return PeakOf(db)
}

// PeakOf returns the strongest bin of an already computed dBFS spectrum.
func PeakOf(db []float64) PeakInfo {
	best := PeakInfo{Bin: -1, DBFS: math.Inf(-1)}
	for i, v := range db {
		if v > best.DBFS {
			best = PeakInfo{Bin: i, DBFS: v}
		}
	}
	return best
}

// BinFrequency converts a DC-centered bin index into a baseband offset in Hz.
func BinFrequency(bin, n int, sampleRate float64) float64 {
	if n == 0 {
		return 0
	}
	return float64(bin-n/2) * sampleRate / float64(n)
}

// RMSDBFS returns the block's RMS level in dBFS.
func RMSDBFS(samples []complex64) float64 {
	if len(samples) == 0 {
		return math.Inf(-1)
	}
	sum := 0.0
	for _, v := range samples {
		re, im := float64(real(v)), float64(imag(v))
		sum += re*re + im*im
	}
	return toDBFS(math.Sqrt(sum / float64(len(samples))))
}

func toDBFS(mag float64) float64 {
	if mag == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(mag/fullScale)
}
