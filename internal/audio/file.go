// SPDX-License-Identifier: MIT
package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	apperrors "circlights/internal/errors"
	applog "circlights/internal/log"

	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

// FileOptions configures a decoded media source.
type FileOptions struct {
	// SampleRate is the pipeline rate the file is resampled to. Zero keeps
	// the file's own rate.
	SampleRate float64
	Loop       bool
	// Realtime paces ReadBlock at the block period, like a capture device.
	Realtime bool
}

// FileSource plays a decoded WAV, MP3 or Ogg Vorbis file. The whole file is
// decoded to mono at open so seeking is exact. While paused or after the end
// of a non-looping file it produces silence at the same cadence.
type FileSource struct {
	path       string
	sampleRate float64
	samples    []float32
	realtime   bool

	mu     sync.Mutex
	pos    int
	paused bool
	loop   bool
	ended  bool

	// next is the wall-clock time the next block is due. Only the reader
	// touches it.
	next time.Time
}

var (
	_ Source   = (*FileSource)(nil)
	_ Playback = (*FileSource)(nil)
)

type decodeFunc func(r io.Reader) (samples []float32, channels int, rate float64, err error)

var decoders = map[string]decodeFunc{
	".wav":  decodeWAV,
	".wave": decodeWAV,
	".mp3":  decodeMP3,
	".ogg":  decodeOgg,
	".oga":  decodeOgg,
}

// OpenFile decodes path and returns a source positioned at its start.
func OpenFile(path string, opts FileOptions) (*FileSource, error) {
	const op = "audio.file"
	if strings.TrimSpace(path) == "" {
		return nil, apperrors.New(apperrors.KindConfigurationInvalid, op, "file source needs a path")
	}
	ext := strings.ToLower(filepath.Ext(path))
	decode, ok := decoders[ext]
	if !ok {
		return nil, apperrors.Newf(apperrors.KindConfigurationInvalid, op, "unsupported audio file type %q", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.Newf(apperrors.KindConfigurationInvalid, op, "audio file %s does not exist", path)
		}
		return nil, apperrors.Wrap(apperrors.KindTransientIO, op, err)
	}

	interleaved, channels, rate, err := decode(bytes.NewReader(data))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindConfigurationInvalid, op, fmt.Errorf("decode %s: %w", path, err))
	}
	if channels <= 0 || rate <= 0 {
		return nil, apperrors.Newf(apperrors.KindConfigurationInvalid, op, "%s: invalid format (%d ch, %g Hz)", path, channels, rate)
	}

	mono := downmix(make([]float32, len(interleaved)/channels), interleaved, channels)
	target := opts.SampleRate
	if target <= 0 {
		target = rate
	}
	if target != rate {
		mono = resampleLinear(mono, rate, target)
	}

	applog.Infof("Audio: Loaded %s (%d ch, %.0f Hz -> %.0f Hz, %.1fs)",
		filepath.Base(path), channels, rate, target, float64(len(mono))/target)

	return &FileSource{
		path:       path,
		sampleRate: target,
		samples:    mono,
		realtime:   opts.Realtime,
		loop:       opts.Loop,
	}, nil
}

func (f *FileSource) Name() string { return "file:" + filepath.Base(f.path) }

func (f *FileSource) SampleRate() float64 { return f.sampleRate }

// ReadBlock copies the next block. At the end of a non-looping file the
// source pauses itself and marks the playback ended.
func (f *FileSource) ReadBlock(ctx context.Context, dst []float32) (int, error) {
	if err := f.pace(ctx, len(dst)); err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.paused || f.ended || len(f.samples) == 0 {
		clear(dst)
		return len(dst), nil
	}

	n := copy(dst, f.samples[f.pos:])
	f.pos += n
	for n < len(dst) {
		if !f.loop {
			clear(dst[n:])
			f.ended = true
			f.paused = true
			applog.Debugf("Audio: Reached end of %s", f.path)
			break
		}
		f.pos = copy(dst[n:], f.samples)
		n += f.pos
	}
	return len(dst), nil
}

// pace blocks until the block ending after n more samples is due.
func (f *FileSource) pace(ctx context.Context, n int) error {
	if !f.realtime {
		return ctx.Err()
	}
	period := time.Duration(float64(n) / f.sampleRate * float64(time.Second))
	now := time.Now()
	// Restart the schedule after a long gap instead of bursting to catch up.
	if f.next.IsZero() || now.Sub(f.next) > 4*period {
		f.next = now
	}
	f.next = f.next.Add(period)

	wait := f.next.Sub(now)
	if wait <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Play resumes playback, restarting from the top after the end.
func (f *FileSource) Play() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ended || f.pos >= len(f.samples) {
		f.pos = 0
		f.ended = false
	}
	f.paused = false
}

func (f *FileSource) Pause() {
	f.mu.Lock()
	f.paused = true
	f.mu.Unlock()
}

// Stop rewinds and pauses.
func (f *FileSource) Stop() {
	f.mu.Lock()
	f.pos = 0
	f.paused = true
	f.ended = false
	f.mu.Unlock()
}

// Seek moves to position, a fraction of the duration in [0,1].
func (f *FileSource) Seek(position float64) error {
	if !(position >= 0 && position <= 1) {
		return apperrors.Newf(apperrors.KindConfigurationInvalid, "audio.seek", "position must be in [0,1], got %g", position)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos = min(int(position*float64(len(f.samples))), len(f.samples))
	f.ended = false
	return nil
}

func (f *FileSource) SetLoop(loop bool) {
	f.mu.Lock()
	f.loop = loop
	f.mu.Unlock()
}

func (f *FileSource) Status() PlaybackStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := PlaybackStatus{
		Path:        f.path,
		Paused:      f.paused,
		Loop:        f.loop,
		Ended:       f.ended,
		Duration:    float64(len(f.samples)) / f.sampleRate,
		CurrentTime: float64(f.pos) / f.sampleRate,
	}
	if len(f.samples) > 0 {
		st.Position = float64(f.pos) / float64(len(f.samples))
	}
	return st
}

func (f *FileSource) Close() error { return nil }

func decodeWAV(r io.Reader) ([]float32, int, float64, error) {
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		return nil, 0, 0, errors.New("wav decoding needs a seekable reader")
	}
	decoder := wav.NewDecoder(rs)
	decoder.ReadInfo()
	if !decoder.IsValidFile() {
		return nil, 0, 0, errors.New("invalid WAV file format")
	}
	switch decoder.BitDepth {
	case 16, 24, 32:
	default:
		return nil, 0, 0, fmt.Errorf("unsupported bit depth: %d", decoder.BitDepth)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, err
	}
	divisor := float32(int64(1) << (decoder.BitDepth - 1))
	out := make([]float32, len(buf.Data))
	for i, s := range buf.Data {
		out[i] = float32(s) / divisor
	}
	return out, int(decoder.NumChans), float64(decoder.SampleRate), nil
}

// decodeMP3 reads the whole stream. go-mp3 always yields 16-bit
// little-endian stereo.
func decodeMP3(r io.Reader) ([]float32, int, float64, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, 0, 0, err
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, 0, 0, err
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / 32768.0
	}
	return out, 2, float64(dec.SampleRate()), nil
}

func decodeOgg(r io.Reader) ([]float32, int, float64, error) {
	samples, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, 0, 0, err
	}
	return samples, format.Channels, float64(format.SampleRate), nil
}

// resampleLinear converts mono samples between rates by linear
// interpolation.
func resampleLinear(in []float32, from, to float64) []float32 {
	if len(in) == 0 || from == to {
		return in
	}
	ratio := from / to
	n := int(float64(len(in)) / ratio)
	out := make([]float32, n)
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= last {
			out[i] = in[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j] + (in[j+1]-in[j])*frac
	}
	return out
}
