// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"fmt"
	"math"
	"os"
	"sync"

	applog "circlights/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// recordBitDepth is the PCM depth of recorded files.
const recordBitDepth = 32

// Recorder writes float sample blocks to a 32-bit PCM WAV file.
type Recorder struct {
	mu         sync.Mutex
	path       string
	outputFile *os.File
	wavEncoder *wav.Encoder
	sampleBuf  *audio.IntBuffer // Reusable buffer for format conversion
	frames     int
}

// NewRecorder creates path and prepares the encoder.
func NewRecorder(path string, sampleRate, channels int) (*Recorder, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("recorder needs a positive rate and channel count, got %d Hz x %d", sampleRate, channels)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &Recorder{
		path:       path,
		outputFile: file,
		wavEncoder: wav.NewEncoder(file, sampleRate, recordBitDepth, channels, 1),
		sampleBuf: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: channels,
				SampleRate:  sampleRate,
			},
			SourceBitDepth: recordBitDepth,
		},
	}, nil
}

// Write appends interleaved samples in [-1, 1].
func (r *Recorder) Write(samples []float32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wavEncoder == nil {
		return os.ErrClosed
	}

	if cap(r.sampleBuf.Data) < len(samples) {
		r.sampleBuf.Data = make([]int, len(samples))
	}
	r.sampleBuf.Data = r.sampleBuf.Data[:len(samples)]
	for i, s := range samples {
		v := max(-1, min(1, float64(s)))
		r.sampleBuf.Data[i] = int(v * math.MaxInt32)
	}
	if err := r.wavEncoder.Write(r.sampleBuf); err != nil {
		return err
	}
	r.frames += len(samples) / r.sampleBuf.Format.NumChannels
	return nil
}

// Frames returns how many frames were written.
func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

func (r *Recorder) Path() string { return r.path }

// Close finalizes the WAV header and closes the file. It is idempotent.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.wavEncoder != nil {
		if err := r.wavEncoder.Close(); err != nil {
			return err
		}
		r.wavEncoder = nil
	}

	if r.outputFile != nil {
		if err := r.outputFile.Close(); err != nil {
			return err
		}
		r.outputFile = nil
	}

	return nil
}

// recordingSource tees every block read from a source into a Recorder.
type recordingSource struct {
	Source
	rec    *Recorder
	failed bool
}

// Recording wraps src so that blocks it produces are also recorded. Closing
// the returned source closes both.
func Recording(src Source, rec *Recorder) Source {
	if p, ok := src.(Playback); ok {
		return &recordingPlayback{recordingSource: recordingSource{Source: src, rec: rec}, Playback: p}
	}
	return &recordingSource{Source: src, rec: rec}
}

func (s *recordingSource) ReadBlock(ctx context.Context, dst []float32) (int, error) {
	n, err := s.Source.ReadBlock(ctx, dst)
	if n > 0 && !s.failed {
		if werr := s.rec.Write(dst[:n]); werr != nil {
			// Recording is best effort; analysis keeps going.
			applog.Errorf("Audio: Error writing to WAV file %s: %v", s.rec.Path(), werr)
			s.failed = true
		}
	}
	return n, err
}

func (s *recordingSource) Close() error {
	err := s.Source.Close()
	if rerr := s.rec.Close(); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

// recordingPlayback keeps the playback controls of a wrapped file source
// reachable through type assertion.
type recordingPlayback struct {
	recordingSource
	Playback
}
