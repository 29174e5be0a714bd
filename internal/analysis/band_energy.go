// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math"
	"strings"
)

// FrequencyBand is a named half-open range [LowHz, HighHz).
type FrequencyBand struct {
	Name   string
	LowHz  float64
	HighHz float64
}

// Default band edges.
var (
	BassBand  = FrequencyBand{Name: "bass", LowHz: 20, HighHz: 250}
	MidsBand  = FrequencyBand{Name: "mids", LowHz: 250, HighHz: 4000}
	HighsBand = FrequencyBand{Name: "highs", LowHz: 4000, HighHz: 20000}
)

// Normalization selects how raw band energy is mapped into [0,1].
type Normalization int

const (
	// NormalizeAGC divides by a slowly decaying running maximum.
	NormalizeAGC Normalization = iota
	// NormalizeFixed divides by a constant reference level.
	NormalizeFixed
)

// ParseNormalization accepts "agc" or "fixed".
func ParseNormalization(s string) (Normalization, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "agc", "":
		return NormalizeAGC, nil
	case "fixed":
		return NormalizeFixed, nil
	}
	return NormalizeAGC, fmt.Errorf("unknown band normalization %q", s)
}

func (n Normalization) String() string {
	if n == NormalizeFixed {
		return "fixed"
	}
	return "agc"
}

// BandConfig tunes BandEnergyProcessor.
type BandConfig struct {
	Bands         [3]FrequencyBand
	Normalization Normalization
	// Reference is the energy that maps to 1.0 in fixed mode.
	Reference float64
	// AGCDecay is the per-block multiplier applied to the running maximum.
	AGCDecay float64
	// AGCFloor keeps near-silence from being amplified to full scale.
	AGCFloor float64
	// Smoothing is the weight of the previous output in [0,1).
	Smoothing float64
}

// DefaultBandConfig returns bass/mids/highs with AGC normalisation.
func DefaultBandConfig() BandConfig {
	return BandConfig{
		Bands:         [3]FrequencyBand{BassBand, MidsBand, HighsBand},
		Normalization: NormalizeAGC,
		Reference:     0.25,
		AGCDecay:      0.995,
		AGCFloor:      0.01,
		Smoothing:     0.3,
	}
}

// bandBins is the resolved bin range of a band.
type bandBins struct {
	lo, hi int // [lo, hi)
}

// BandEnergyProcessor reduces a spectrum to three normalized band levels.
type BandEnergyProcessor struct {
	cfg       BandConfig
	provider  SpectrumProvider
	bins      [3]bandBins
	magnitude []float64
	peak      [3]float64
	levels    [3]float64
}

// NewBandEnergyProcessor resolves band edges against provider's bins.
func NewBandEnergyProcessor(cfg BandConfig, provider SpectrumProvider) (*BandEnergyProcessor, error) {
	if provider == nil {
		return nil, fmt.Errorf("band energy processor requires a spectrum provider")
	}
	if cfg.AGCDecay <= 0 || cfg.AGCDecay > 1 {
		return nil, fmt.Errorf("agc decay must be in (0,1], got %g", cfg.AGCDecay)
	}
	if cfg.Smoothing < 0 || cfg.Smoothing >= 1 {
		return nil, fmt.Errorf("band smoothing must be in [0,1), got %g", cfg.Smoothing)
	}
	if cfg.Normalization == NormalizeFixed && cfg.Reference <= 0 {
		return nil, fmt.Errorf("fixed normalization needs a positive reference, got %g", cfg.Reference)
	}

	p := &BandEnergyProcessor{
		cfg:       cfg,
		provider:  provider,
		magnitude: make([]float64, provider.Bins()),
	}
	nyquist := provider.SampleRate() / 2
	for i, b := range cfg.Bands {
		if b.LowHz >= b.HighHz {
			return nil, fmt.Errorf("band %s: low edge %g must be below high edge %g", b.Name, b.LowHz, b.HighHz)
		}
		hiHz := math.Min(b.HighHz, nyquist)
		lo := provider.BinForFrequency(b.LowHz)
		hi := provider.BinForFrequency(hiHz)
		if hi <= lo {
			hi = lo + 1
		}
		p.bins[i] = bandBins{lo: lo, hi: min(hi, provider.Bins())}
	}
	return p, nil
}

// Process reads the provider's latest spectrum and updates the levels.
func (p *BandEnergyProcessor) Process() [3]float64 {
	if err := p.provider.MagnitudesInto(p.magnitude); err != nil {
		return p.levels
	}
	for i, r := range p.bins {
		var sum float64
		for _, m := range p.magnitude[r.lo:r.hi] {
			sum += m * m
		}
		energy := math.Sqrt(sum)
		level := p.normalize(i, energy)
		p.levels[i] = p.cfg.Smoothing*p.levels[i] + (1-p.cfg.Smoothing)*level
	}
	return p.levels
}

func (p *BandEnergyProcessor) normalize(i int, energy float64) float64 {
	var v float64
	switch p.cfg.Normalization {
	case NormalizeFixed:
		v = energy / p.cfg.Reference
	default:
		p.peak[i] = math.Max(energy, p.peak[i]*p.cfg.AGCDecay)
		v = energy / math.Max(p.peak[i], p.cfg.AGCFloor)
	}
	return math.Min(math.Max(v, 0), 1)
}

// Reset clears smoothing and AGC history.
func (p *BandEnergyProcessor) Reset() {
	p.peak = [3]float64{}
	p.levels = [3]float64{}
}
