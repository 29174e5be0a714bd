// SPDX-License-Identifier: MIT
package analysis

// SpectrumProvider exposes the latest magnitude spectrum to the band and
// onset stages without tying them to a concrete FFT implementation.
type SpectrumProvider interface {
	MagnitudesInto(dest []float64) error // MagnitudesInto copies the latest spectrum into dest.
	FrequencyForBin(bin int) float64     // FrequencyForBin returns the centre frequency (Hz) of a bin.
	BinForFrequency(hz float64) int      // BinForFrequency returns the bin nearest hz.
	Bins() int                           // Bins returns the number of magnitude bins (N/2 + 1).
	SampleRate() float64                 // SampleRate returns the analysis sample rate.
}

// BlockProcessor consumes one block of mono samples in [-1, 1].
// Implementations should be efficient as they run once per audio block.
type BlockProcessor interface {
	Process(block []float32)
}
