// SPDX-License-Identifier: MIT
package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	apperrors "circlights/internal/errors"
	applog "circlights/internal/log"

	"github.com/gordonklaus/portaudio"
	"github.com/smallnest/ringbuffer"
)

// ringBlocks is how many blocks of capture the ring holds before the
// oldest audio is dropped.
const ringBlocks = 8

// CaptureOptions configures an input stream.
type CaptureOptions struct {
	SampleRate float64
	BlockSize  int
	Channels   int
	LowLatency bool
}

// CaptureSource reads an input device through a PortAudio callback. The
// callback downmixes to mono and appends to a byte ring; ReadBlock drains
// whole blocks from it. When the reader falls behind, the oldest samples are
// dropped so analysis always works on recent audio.
type CaptureSource struct {
	name       string
	sampleRate float64
	channels   int
	stream     *portaudio.Stream

	ring     *ringbuffer.RingBuffer
	capacity int
	notify   chan struct{}

	// Callback-owned scratch.
	mono    []float32
	raw     []byte
	discard []byte

	// Reader-owned scratch.
	scratch []byte

	overruns  atomic.Uint64
	closeOnce sync.Once
	closed    chan struct{}
}

var _ Source = (*CaptureSource)(nil)

// OpenCapture opens and starts an input stream on dev. kind labels the
// source in status output ("device" or "system").
func OpenCapture(dev *portaudio.DeviceInfo, opts CaptureOptions, kind string) (*CaptureSource, error) {
	const op = "audio.capture"
	if dev == nil {
		return nil, apperrors.New(apperrors.KindFatal, op, "no input device")
	}
	if opts.BlockSize <= 0 {
		return nil, apperrors.Newf(apperrors.KindConfigurationInvalid, op, "block size must be positive, got %d", opts.BlockSize)
	}
	channels := opts.Channels
	if channels <= 0 {
		channels = 1
	}
	if dev.MaxInputChannels > 0 && channels > dev.MaxInputChannels {
		applog.Warnf("Audio: %s supports %d input channels, using %d instead of %d",
			dev.Name, dev.MaxInputChannels, dev.MaxInputChannels, channels)
		channels = dev.MaxInputChannels
	}
	rate := opts.SampleRate
	if rate <= 0 {
		rate = dev.DefaultSampleRate
	}

	c := newCaptureSource(fmt.Sprintf("%s:%s", kind, dev.Name), rate, channels, opts.BlockSize)

	latency := dev.DefaultHighInputLatency
	if opts.LowLatency {
		latency = dev.DefaultLowInputLatency
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Channels: channels,
			Device:   dev,
			Latency:  latency,
		},
		Output: portaudio.StreamDeviceParameters{
			Channels: 0, // No output device
			Device:   nil,
		},
		FramesPerBuffer: opts.BlockSize,
		SampleRate:      rate,
	}

	stream, err := portaudio.OpenStream(params, c.process)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindFatal, op, fmt.Errorf("open stream on %s: %w", dev.Name, err))
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, apperrors.Wrap(apperrors.KindFatal, op, fmt.Errorf("start stream on %s: %w", dev.Name, err))
	}
	c.stream = stream

	applog.Infof("Audio: Capturing from %s (%d ch, %.0f Hz, block %d, latency %v)",
		dev.Name, channels, rate, opts.BlockSize, latency)
	return c, nil
}

func newCaptureSource(name string, rate float64, channels, blockSize int) *CaptureSource {
	capacity := ringBlocks * blockSize * 4
	return &CaptureSource{
		name:       name,
		sampleRate: rate,
		channels:   channels,
		ring:       ringbuffer.New(capacity),
		capacity:   capacity,
		notify:     make(chan struct{}, 1),
		mono:       make([]float32, blockSize),
		raw:        make([]byte, blockSize*4),
		discard:    make([]byte, capacity),
		scratch:    make([]byte, blockSize*4),
		closed:     make(chan struct{}),
	}
}

func (c *CaptureSource) Name() string { return c.name }

func (c *CaptureSource) SampleRate() float64 { return c.sampleRate }

// Overruns counts callbacks that had to drop unread audio.
func (c *CaptureSource) Overruns() uint64 { return c.overruns.Load() }

// process is the PortAudio callback. It only touches pre-allocated buffers.
func (c *CaptureSource) process(in []float32) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	frames := min(len(in)/c.channels, len(c.mono))
	mono := downmix(c.mono, in[:frames*c.channels], c.channels)
	c.push(mono)
}

// push appends samples to the ring, dropping the oldest audio if needed.
func (c *CaptureSource) push(samples []float32) {
	b := c.raw[:len(samples)*4]
	for i, s := range samples {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(s))
	}
	if free := c.ring.Free(); free < len(b) {
		drop := len(b) - free
		c.ring.Read(c.discard[:drop])
		c.overruns.Add(1)
	}
	c.ring.Write(b)

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// ReadBlock waits until len(dst) samples are buffered and copies them out.
func (c *CaptureSource) ReadBlock(ctx context.Context, dst []float32) (int, error) {
	need := len(dst) * 4
	if need > c.capacity {
		return 0, apperrors.Newf(apperrors.KindConfigurationInvalid, "audio.capture",
			"block of %d samples exceeds capture buffer", len(dst))
	}
	if cap(c.scratch) < need {
		c.scratch = make([]byte, need)
	}
	buf := c.scratch[:need]

	for c.ring.Length() < need {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-c.closed:
			return 0, apperrors.New(apperrors.KindFatal, "audio.capture", "capture source closed")
		case <-c.notify:
		}
	}

	n, err := c.ring.Read(buf)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.KindTransientIO, "audio.capture", err)
	}
	samples := n / 4
	for i := range samples {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return samples, nil
}

// Close stops the stream and releases the device. It is idempotent.
func (c *CaptureSource) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.stream == nil {
			return
		}
		if stopErr := c.stream.Stop(); stopErr != nil {
			err = fmt.Errorf("stop stream: %w", stopErr)
		}
		if closeErr := c.stream.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close stream: %w", closeErr)
		}
		c.stream = nil
	})
	return err
}
