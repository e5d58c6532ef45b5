package playback

import (
	"errors"
	"sync"
	"time"

	"github.com/MrWong99/neurolink/pkg/audio"
)

// Compile-time interface assertion.
var _ Output = (*Timeline)(nil)

var errClosed = errors.New("playback: output closed")

// Timeline is a software mixer implementing [Output]. Its clock is the number
// of samples rendered so far; a hardware device (or a test) pulls audio by
// calling Render.
//
// All exported methods are safe for concurrent use.
type Timeline struct {
	rate int

	mu     sync.Mutex
	pos    int64 // samples rendered
	voices []*voice
	closed bool
}

type voice struct {
	t       *Timeline
	samples []float32
	start   int64 // first sample index on the timeline
	ended   func()
}

// NewTimeline creates a mono timeline at rate Hz.
func NewTimeline(rate int) *Timeline {
	return &Timeline{rate: rate}
}

// SampleRate returns the timeline's rate in Hz.
func (t *Timeline) SampleRate() int { return t.rate }

// Now implements [Clock].
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.durationOf(t.pos)
}

// Play implements [Output]. Segments at a different rate are resampled. A
// start time already in the past is moved to the current render position.
func (t *Timeline) Play(seg audio.Segment, at time.Duration, ended func()) (Voice, error) {
	seg = seg.Resample(t.rate)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, errClosed
	}
	v := &voice{
		t:       t,
		samples: seg.Samples,
		start:   max(t.sampleAt(at), t.pos),
		ended:   ended,
	}
	t.voices = append(t.voices, v)
	return v, nil
}

// Render mixes every voice overlapping the next len(dst) samples into dst and
// advances the clock. Voices that finish inside the rendered span are removed
// and their ended callbacks run after the internal lock is released.
func (t *Timeline) Render(dst []float32) {
	clear(dst)

	t.mu.Lock()
	from := t.pos
	to := from + int64(len(dst))
	var finished []func()
	kept := t.voices[:0]
	for _, v := range t.voices {
		end := v.start + int64(len(v.samples))
		lo, hi := max(v.start, from), min(end, to)
		for i := lo; i < hi; i++ {
			dst[i-from] += v.samples[i-v.start]
		}
		if end <= to {
			if v.ended != nil {
				finished = append(finished, v.ended)
			}
			continue
		}
		kept = append(kept, v)
	}
	clear(t.voices[len(kept):])
	t.voices = kept
	t.pos = to
	t.mu.Unlock()

	for _, fn := range finished {
		fn()
	}
}

// Pending returns the number of voices not yet fully rendered.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.voices)
}

// Close silences all voices without running their ended callbacks and rejects
// further Play calls.
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.voices = nil
	return nil
}

func (v *voice) Stop() {
	t := v.t
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, other := range t.voices {
		if other == v {
			t.voices = append(t.voices[:i], t.voices[i+1:]...)
			return
		}
	}
}

func (t *Timeline) sampleAt(d time.Duration) int64 {
	return (int64(d)*int64(t.rate) + int64(time.Second)/2) / int64(time.Second)
}

func (t *Timeline) durationOf(samples int64) time.Duration {
	return time.Duration(samples * int64(time.Second) / int64(t.rate))
}
