// SPDX-License-Identifier: MIT

/*
Package audio provides the sample sources that feed feature extraction:
live capture through PortAudio, capture from a loopback ("system") device,
and decoded media files paced at real time.

Every source delivers mono float32 blocks in [-1, 1] at its reported
sample rate. ReadBlock blocks until a full block is available or the
context ends, so the audio task is never driven by rendering or transport.
*/
package audio

import (
	"context"
	"strings"

	"circlights/internal/config"
	apperrors "circlights/internal/errors"
	applog "circlights/internal/log"
)

// Source produces fixed-size mono sample blocks.
type Source interface {
	Name() string
	SampleRate() float64
	// ReadBlock fills dst with the next block and returns the number of
	// samples written.
	ReadBlock(ctx context.Context, dst []float32) (int, error)
	Close() error
}

// Playback is implemented by sources that can be transported like a media
// player.
type Playback interface {
	Play()
	Pause()
	Stop()
	Seek(position float64) error
	Status() PlaybackStatus
}

// PlaybackStatus reports the transport state of a file source. Times are in
// seconds, Position is the fraction played in [0,1].
type PlaybackStatus struct {
	Path        string  `json:"path"`
	Paused      bool    `json:"paused"`
	Loop        bool    `json:"loop"`
	Ended       bool    `json:"ended"`
	Duration    float64 `json:"duration"`
	CurrentTime float64 `json:"current_time"`
	Position    float64 `json:"position"`
}

// Open builds the source cfg selects. Device and system sources need
// PortAudio to be initialized. A non-empty RecordPath wraps the source so
// every block it produces is also written to a WAV file.
func Open(cfg config.AudioConfig) (Source, error) {
	const op = "audio.open"

	var (
		src Source
		err error
	)
	switch strings.ToLower(cfg.Source) {
	case config.SourceFile:
		src, err = OpenFile(cfg.File, FileOptions{
			SampleRate: cfg.SampleRate,
			Loop:       cfg.Loop,
			Realtime:   true,
		})
	case config.SourceSystem:
		dev, derr := SystemDevice()
		if derr != nil {
			return nil, apperrors.Wrap(apperrors.KindFatal, op, derr)
		}
		src, err = OpenCapture(dev, captureOptions(cfg), config.SourceSystem)
	case config.SourceDevice, "":
		dev, derr := InputDevice(cfg.InputDevice)
		if derr != nil {
			return nil, apperrors.Wrap(apperrors.KindFatal, op, derr)
		}
		src, err = OpenCapture(dev, captureOptions(cfg), config.SourceDevice)
	default:
		return nil, apperrors.Newf(apperrors.KindConfigurationInvalid, op, "unknown audio source %q", cfg.Source)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RecordPath != "" {
		rec, err := NewRecorder(cfg.RecordPath, int(src.SampleRate()), 1)
		if err != nil {
			src.Close()
			return nil, apperrors.Wrap(apperrors.KindConfigurationInvalid, op, err)
		}
		applog.Infof("Audio: Recording %s to %s", src.Name(), cfg.RecordPath)
		src = Recording(src, rec)
	}
	return src, nil
}

func captureOptions(cfg config.AudioConfig) CaptureOptions {
	return CaptureOptions{
		SampleRate: cfg.SampleRate,
		BlockSize:  cfg.BlockSize,
		Channels:   cfg.Channels,
		LowLatency: cfg.LowLatency,
	}
}

// downmix averages interleaved frames into dst. dst must hold at least
// len(in)/channels samples.
func downmix(dst, in []float32, channels int) []float32 {
	if channels <= 1 {
		n := copy(dst, in)
		return dst[:n]
	}
	frames := len(in) / channels
	dst = dst[:frames]
	inv := 1 / float32(channels)
	for i := range frames {
		var sum float32
		for _, s := range in[i*channels : (i+1)*channels] {
			sum += s
		}
		dst[i] = sum * inv
	}
	return dst
}
