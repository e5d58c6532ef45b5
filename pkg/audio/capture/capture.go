// Package capture turns a live microphone into an ordered stream of fixed-size
// [audio.AudioFrame] values.
//
// A [Pipeline] acquires its [Source] on Start, re-chunks whatever buffer sizes
// the device delivers into frames of exactly FrameSize samples, and publishes
// them on a bounded channel in capture order. The stream is lazy and infinite
// until Stop is called; a stopped pipeline cannot be restarted.
//
// Backpressure: when the consumer falls behind and the channel is full, the
// device callback blocks until there is room or the pipeline is stopped. No
// frame is dropped on purpose.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/neurolink/pkg/audio"
	"github.com/MrWong99/neurolink/pkg/device"
)

// DefaultBuffer is the default frame channel capacity (64 frames, about 16 s
// of audio at 16 kHz with 4096-sample frames).
const DefaultBuffer = 64

var (
	// ErrStarted is returned by Start when the pipeline is already running.
	ErrStarted = errors.New("capture: pipeline already started")

	// ErrStopped is returned by Start after Stop; pipelines are single-use.
	ErrStopped = errors.New("capture: pipeline stopped")
)

// Format describes the stream a [Source] must deliver.
type Format struct {
	SampleRate int
	Channels   int
}

// Source acquires an input device.
type Source interface {
	// Open starts delivering mono float32 samples in [-1.0, 1.0] to data. data
	// is called sequentially from the device thread with buffers of arbitrary
	// size and may block. Closing the returned Closer releases the device; no
	// further calls to data are made after Close returns.
	//
	// Failure to acquire the device (permission denied, no hardware) must be
	// reported as an error wrapping [device.ErrUnavailable].
	Open(ctx context.Context, format Format, data func(samples []float32)) (io.Closer, error)
}

// Option configures a [Pipeline].
type Option func(*Pipeline)

// WithFrameSize overrides the number of samples per frame.
func WithFrameSize(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.frameSize = n
		}
	}
}

// WithSampleRate overrides the capture sample rate.
func WithSampleRate(hz int) Option {
	return func(p *Pipeline) {
		if hz > 0 {
			p.sampleRate = hz
		}
	}
}

// WithBuffer sets the capacity of the frame channel.
func WithBuffer(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.buffer = n
		}
	}
}

type pipelineState int

const (
	stateIdle pipelineState = iota
	stateRunning
	stateStopped
)

// Pipeline is a single-use microphone capture pipeline.
//
// All exported methods are safe for concurrent use.
type Pipeline struct {
	source     Source
	frameSize  int
	sampleRate int
	buffer     int

	mu     sync.Mutex
	state  pipelineState
	closer io.Closer
	frames chan audio.AudioFrame
	done   chan struct{}

	// emitMu serialises the device callback against Stop so that frames is
	// never written after it is closed.
	emitMu  sync.Mutex
	pending []float32
	seq     uint64
}

// New creates a Pipeline reading from source. Defaults: 16 kHz mono, 4096
// samples per frame, [DefaultBuffer] frames of buffering.
func New(source Source, opts ...Option) *Pipeline {
	p := &Pipeline{
		source:     source,
		frameSize:  audio.FrameSize,
		sampleRate: audio.InputSampleRate,
		buffer:     DefaultBuffer,
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start acquires the input device and returns the frame stream. The channel
// is closed when the pipeline stops, either by [Pipeline.Stop] or by ctx
// being cancelled.
//
// A device that cannot be acquired yields an error wrapping
// [device.ErrUnavailable]; the pipeline is then stopped and unusable.
func (p *Pipeline) Start(ctx context.Context) (<-chan audio.AudioFrame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateRunning:
		return nil, ErrStarted
	case stateStopped:
		return nil, ErrStopped
	}

	p.frames = make(chan audio.AudioFrame, p.buffer)
	p.pending = make([]float32, 0, p.frameSize*2)

	closer, err := p.source.Open(ctx, Format{SampleRate: p.sampleRate, Channels: 1}, p.onSamples)
	if err != nil {
		p.state = stateStopped
		close(p.done)
		close(p.frames)
		if !errors.Is(err, device.ErrUnavailable) {
			err = device.Unavailable("microphone", err)
		}
		return nil, fmt.Errorf("capture: start: %w", err)
	}
	p.closer = closer
	p.state = stateRunning

	go func() {
		select {
		case <-ctx.Done():
			_ = p.Stop()
		case <-p.done:
		}
	}()

	slog.Debug("capture: pipeline started", "sample_rate", p.sampleRate, "frame_size", p.frameSize)
	return p.frames, nil
}

// Stop releases the device and closes the frame channel. Samples that do not
// fill a whole frame are discarded. Stop is idempotent and may be called
// before Start, in which case the pipeline simply becomes unusable.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if p.state == stateStopped {
		p.mu.Unlock()
		return nil
	}
	wasRunning := p.state == stateRunning
	p.state = stateStopped
	close(p.done)
	closer := p.closer
	p.closer = nil
	p.mu.Unlock()

	if !wasRunning {
		return nil
	}

	var err error
	if closer != nil {
		if cerr := closer.Close(); cerr != nil {
			err = fmt.Errorf("capture: release device: %w", cerr)
		}
	}

	// Wait for any in-flight callback to observe done before closing frames.
	p.emitMu.Lock()
	close(p.frames)
	p.pending = nil
	p.emitMu.Unlock()

	slog.Debug("capture: pipeline stopped", "frames", p.seq)
	return err
}

// onSamples is the device callback. It accumulates samples and emits every
// complete frame in order, blocking while the frame channel is full.
func (p *Pipeline) onSamples(samples []float32) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	select {
	case <-p.done:
		return
	default:
	}

	p.pending = append(p.pending, samples...)
	for len(p.pending) >= p.frameSize {
		frame := audio.AudioFrame{
			Samples:    append([]float32(nil), p.pending[:p.frameSize]...),
			SampleRate: p.sampleRate,
			Seq:        p.seq,
			Timestamp:  frameOffset(p.seq, p.frameSize, p.sampleRate),
		}

		select {
		case p.frames <- frame:
		case <-p.done:
			return
		}
		p.seq++
		p.pending = append(p.pending[:0], p.pending[p.frameSize:]...)
	}
}

func frameOffset(seq uint64, frameSize, rate int) time.Duration {
	return time.Duration(seq * uint64(frameSize) * uint64(time.Second) / uint64(rate))
}
