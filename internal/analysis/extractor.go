// SPDX-License-Identifier: MIT
package analysis

import (
	"fmt"
	"math"
	"time"

	"circlights/pkg/bitint"
)

// Features is the analysis result for one audio block. Values are in [0,1]
// except TempoBPM. A Stale value marks a stalled source: levels are zero and
// Beat is never set.
type Features struct {
	Seq      uint64  `json:"seq"`
	RMS      float64 `json:"rms"`
	Peak     float64 `json:"peak"`
	Bass     float64 `json:"bass"`
	Mids     float64 `json:"mids"`
	Highs    float64 `json:"highs"`
	Beat     bool    `json:"beat"`
	TempoBPM float64 `json:"tempo_bpm"`
	Flux     float64 `json:"flux"`
	Gated    bool    `json:"gated,omitempty"`
	Stale    bool    `json:"stale,omitempty"`
}

// Config describes one analysis pipeline.
type Config struct {
	SampleRate    float64
	BlockSize     int
	Window        WindowFunc
	Bands         BandConfig
	Onset         OnsetConfig
	Tempo         TempoConfig
	GateThreshold float64
}

func DefaultConfig() Config {
	return Config{
		SampleRate:    44100,
		BlockSize:     1024,
		Window:        Hann,
		Bands:         DefaultBandConfig(),
		Onset:         DefaultOnsetConfig(),
		Tempo:         DefaultTempoConfig(),
		GateThreshold: 0.001,
	}
}

// BlockPeriod is the stream time covered by one block.
func (c Config) BlockPeriod() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(c.BlockSize) / c.SampleRate * float64(time.Second))
}

// Extractor turns sample blocks into Features, one per block. It is not safe
// for concurrent use; the audio task owns it.
type Extractor struct {
	cfg    Config
	period time.Duration
	fft    *FFTProcessor
	bands  *BandEnergyProcessor
	onset  *OnsetDetector
	tempo  *TempoTracker
	gate   *Gate

	prevMag []float64
	curMag  []float64
	seq     uint64
	primed  bool
}

func NewExtractor(cfg Config) (*Extractor, error) {
	if cfg.BlockSize <= 0 {
		return nil, fmt.Errorf("block size must be positive, got %d", cfg.BlockSize)
	}
	fft, err := NewFFTProcessor(bitint.NextPowerOfTwo(cfg.BlockSize), cfg.SampleRate, cfg.Window)
	if err != nil {
		return nil, err
	}
	bands, err := NewBandEnergyProcessor(cfg.Bands, fft)
	if err != nil {
		return nil, err
	}
	onset, err := NewOnsetDetector(cfg.Onset)
	if err != nil {
		return nil, err
	}
	tempo, err := NewTempoTracker(cfg.Tempo)
	if err != nil {
		return nil, err
	}
	gate := NewGate()
	gate.SetThreshold(cfg.GateThreshold)

	return &Extractor{
		cfg:     cfg,
		period:  cfg.BlockPeriod(),
		fft:     fft,
		bands:   bands,
		onset:   onset,
		tempo:   tempo,
		gate:    gate,
		prevMag: make([]float64, fft.Bins()),
		curMag:  make([]float64, fft.Bins()),
	}, nil
}

// Process analyses one block. It allocates nothing.
func (e *Extractor) Process(block []float32) Features {
	e.seq++
	now := time.Duration(e.seq) * e.period

	var sumSq, peak float64
	for _, s := range block {
		v := float64(s)
		sumSq += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	rms := 0.0
	if len(block) > 0 {
		rms = math.Sqrt(sumSq / float64(len(block)))
	}

	e.fft.Process(block)
	levels := e.bands.Process()

	_ = e.fft.MagnitudesInto(e.curMag)
	flux := 0.0
	if e.primed {
		flux = SpectralFlux(e.prevMag, e.curMag)
	}
	e.prevMag, e.curMag = e.curMag, e.prevMag
	e.primed = true

	// Gated blocks feed the flux history but cannot fire or arm the
	// refractory interval.
	open := e.gate.Open(peak)
	beat := false
	if open {
		beat = e.onset.Detect(flux, now)
	} else {
		e.onset.Observe(flux)
	}
	if beat {
		e.tempo.Onset(now)
	}
	e.tempo.Advance(now)

	return Features{
		Seq:      e.seq,
		RMS:      math.Min(rms, 1),
		Peak:     math.Min(peak, 1),
		Bass:     levels[0],
		Mids:     levels[1],
		Highs:    levels[2],
		Beat:     beat,
		TempoBPM: e.tempo.BPM(),
		Flux:     flux,
		Gated:    !open,
	}
}

// Stale produces the features reported while the source is stalled. It
// consumes a sequence number so consumers see a new value.
func (e *Extractor) Stale() Features {
	e.seq++
	return Features{Seq: e.seq, TempoBPM: e.tempo.BPM(), Stale: true}
}

// Reset drops all history, as when the audio source changes.
func (e *Extractor) Reset() {
	e.bands.Reset()
	e.onset.Reset()
	e.tempo.Reset()
	clear(e.prevMag)
	e.primed = false
}

func (e *Extractor) Config() Config { return e.cfg }
