// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math"
	"math/cmplx"
	"strings"
	"sync"

	applog "circlights/internal/log"
	"circlights/pkg/bitint"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// WindowFunc defines the type for selecting an FFT window function.
type WindowFunc int

// Enum for available window functions.
const (
	BartlettHann WindowFunc = iota
	Blackman
	BlackmanNuttall
	Hann
	Hamming
	Lanczos
	Nuttall
)

func (w WindowFunc) String() string {
	switch w {
	case BartlettHann:
		return "bartletthann"
	case Blackman:
		return "blackman"
	case BlackmanNuttall:
		return "blackmannuttall"
	case Hann:
		return "hann"
	case Hamming:
		return "hamming"
	case Lanczos:
		return "lanczos"
	case Nuttall:
		return "nuttall"
	default:
		return fmt.Sprintf("window(%d)", int(w))
	}
}

// Pre-allocated buffers for FFT calculations.
type fftWorkspace struct {
	input     []float64    // Buffer for windowed input signal (float64).
	fftOutput []complex128 // Buffer for FFT complex results.
	magnitude []float64    // Buffer for calculated magnitudes.
	window    []float64    // Pre-calculated window coefficients.
	mu        sync.RWMutex // Protects concurrent access to magnitude buffer.
}

// FFTProcessor turns one block of mono samples into a magnitude spectrum.
// Blocks shorter than the FFT size are zero-padded. Magnitudes are scaled
// so that a full-scale sine at a bin centre reads close to 1.
type FFTProcessor struct {
	fftCalculator *fourier.FFT // Reusable FFT calculator instance.
	fftSize       int          // Number of points for the FFT (power of 2).
	sampleRate    float64      // Sample rate of the input audio (Hz).
	scale         float64      // 2 / sum(window), amplitude normalisation.
	workspace     fftWorkspace // Pre-allocated buffers.
}

// Compile-time checks for interface implementations.
var _ SpectrumProvider = (*FFTProcessor)(nil)
var _ BlockProcessor = (*FFTProcessor)(nil)

// NewFFTProcessor allocates every buffer the hot path needs up front.
func NewFFTProcessor(fftSize int, sampleRate float64, windowType WindowFunc) (*FFTProcessor, error) {
	if !bitint.IsPowerOfTwo(fftSize) {
		return nil, fmt.Errorf("fft size must be a power of 2, got %d", fftSize)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %f", sampleRate)
	}

	windowCoeffs := make([]float64, fftSize)
	applyWindow(windowCoeffs, windowType)
	var sum float64
	for _, w := range windowCoeffs {
		sum += w
	}

	// FFT output size for real input is N/2 + 1 complex values.
	magnitudeSize := fftSize/2 + 1

	applog.Debugf("Analysis: Initializing FFTProcessor (Size: %d, SampleRate: %.1f Hz, Window: %v)", fftSize, sampleRate, windowType)

	return &FFTProcessor{
		fftCalculator: fourier.NewFFT(fftSize),
		fftSize:       fftSize,
		sampleRate:    sampleRate,
		scale:         2 / sum,
		workspace: fftWorkspace{
			input:     make([]float64, fftSize),
			fftOutput: make([]complex128, magnitudeSize),
			magnitude: make([]float64, magnitudeSize),
			window:    windowCoeffs,
		},
	}, nil
}

// Process applies the window, runs the FFT and stores magnitudes.
// It does not allocate.
func (p *FFTProcessor) Process(block []float32) {
	p.workspace.mu.Lock()
	defer p.workspace.mu.Unlock()

	n := len(block)
	for i := range p.fftSize {
		if i < n {
			p.workspace.input[i] = float64(block[i]) * p.workspace.window[i]
		} else {
			p.workspace.input[i] = 0
		}
	}

	p.fftCalculator.Coefficients(p.workspace.fftOutput, p.workspace.input)

	for i, c := range p.workspace.fftOutput {
		p.workspace.magnitude[i] = cmplx.Abs(c) * p.scale
	}
}

// Magnitudes returns a copy of the latest spectrum.
func (p *FFTProcessor) Magnitudes() []float64 {
	p.workspace.mu.RLock()
	defer p.workspace.mu.RUnlock()
	out := make([]float64, len(p.workspace.magnitude))
	copy(out, p.workspace.magnitude)
	return out
}

// MagnitudesInto copies the latest spectrum into dest without allocating.
// dest must hold exactly Bins() values.
func (p *FFTProcessor) MagnitudesInto(dest []float64) error {
	p.workspace.mu.RLock()
	defer p.workspace.mu.RUnlock()

	if len(dest) != len(p.workspace.magnitude) {
		return fmt.Errorf("destination slice length %d does not match required length %d", len(dest), len(p.workspace.magnitude))
	}
	copy(dest, p.workspace.magnitude)
	return nil
}

// FrequencyForBin returns the centre frequency (Hz) of a bin.
func (p *FFTProcessor) FrequencyForBin(bin int) float64 {
	if bin < 0 || bin >= len(p.workspace.magnitude) {
		return 0
	}
	return float64(bin) * p.sampleRate / float64(p.fftSize)
}

// BinForFrequency returns the bin whose centre is nearest hz, clamped to
// the valid range.
func (p *FFTProcessor) BinForFrequency(hz float64) int {
	bin := int(math.Round(hz * float64(p.fftSize) / p.sampleRate))
	return min(max(bin, 0), len(p.workspace.magnitude)-1)
}

func (p *FFTProcessor) Size() int { return p.fftSize }

func (p *FFTProcessor) Bins() int { return len(p.workspace.magnitude) }

func (p *FFTProcessor) SampleRate() float64 { return p.sampleRate }

// ParseWindowFunc converts a string name (case-insensitive) to a WindowFunc
// enum, returns a known default (Hann) and an error if the name is unknown.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "bartletthann":
		return BartlettHann, nil
	case "blackman":
		return Blackman, nil
	case "blackmannuttall":
		return BlackmanNuttall, nil
	case "hann", "hanning", "":
		return Hann, nil
	case "hamming":
		return Hamming, nil
	case "lanczos":
		return Lanczos, nil
	case "nuttall":
		return Nuttall, nil
	default:
		return Hann, fmt.Errorf("unknown FFT window function name: '%s'", name)
	}
}

// applyWindow fills coeffs with the selected window. Unknown types fall
// back to Hann.
func applyWindow(coeffs []float64, windowType WindowFunc) {
	// The gonum window funcs scale in place, so start from ones.
	for i := range coeffs {
		coeffs[i] = 1.0
	}
	switch windowType {
	case BartlettHann:
		window.BartlettHann(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case Hann:
		window.Hann(coeffs)
	case Hamming:
		window.Hamming(coeffs)
	case Lanczos:
		window.Lanczos(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	default:
		applog.Warnf("Analysis: Unknown window function type %d, defaulting to Hann", windowType)
		window.Hann(coeffs)
	}
}
