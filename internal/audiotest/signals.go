// SPDX-License-Identifier: MIT

// Package audiotest generates deterministic signals and scripted sources
// for tests of the analysis and engine packages.
package audiotest

import "math"

// Sine returns size samples of a sine at frequency with the given amplitude.
func Sine(size int, sampleRate, frequency, amplitude float64) []float32 {
	buf := make([]float32, size)
	for i := range buf {
		t := float64(i) / sampleRate
		buf[i] = float32(math.Sin(2*math.Pi*frequency*t) * amplitude)
	}
	return buf
}

// ComplexWave is a 440 Hz fundamental plus two harmonics at 0.9 full scale.
func ComplexWave(size int, sampleRate float64) []float32 {
	buf := make([]float32, size)
	for i := range buf {
		tm := float64(i) / sampleRate
		signal := math.Sin(2*math.Pi*440*tm)*0.5 +
			math.Sin(2*math.Pi*880*tm)*0.3 +
			math.Sin(2*math.Pi*1320*tm)*0.2
		buf[i] = float32(signal * 0.9)
	}
	return buf
}

// Silence returns size zero samples.
func Silence(size int) []float32 {
	return make([]float32, size)
}

// Burst is a broadband transient: alternating full-scale samples decaying
// over the block. It produces a large spectral flux after silence.
func Burst(size int, amplitude float64) []float32 {
	buf := make([]float32, size)
	seed := uint32(2463534242)
	for i := range buf {
		seed ^= seed << 13
		seed ^= seed >> 17
		seed ^= seed << 5
		noise := float64(seed)/float64(math.MaxUint32)*2 - 1
		env := math.Exp(-3 * float64(i) / float64(size))
		buf[i] = float32(noise * amplitude * env)
	}
	return buf
}

// FindPeakBin returns the index of the largest magnitude in [startBin, endBin].
func FindPeakBin(magnitudes []float64, startBin, endBin int) int {
	if len(magnitudes) == 0 {
		return 0
	}
	startBin = max(startBin, 0)
	endBin = min(endBin, len(magnitudes)-1)

	peakBin := startBin
	peakValue := magnitudes[startBin]
	for bin := startBin + 1; bin <= endBin; bin++ {
		if magnitudes[bin] > peakValue {
			peakValue = magnitudes[bin]
			peakBin = bin
		}
	}
	return peakBin
}
