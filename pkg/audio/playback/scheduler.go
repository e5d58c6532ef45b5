// Package playback schedules inbound speech segments back-to-back on an audio
// output so that consecutive chunks play without gaps, and supports dropping
// everything that is queued when the remote side interrupts (barge-in).
//
// The [Scheduler] keeps a cursor: the output-clock time at which the last
// scheduled segment ends. Each new segment starts at max(cursor, now), which
// keeps playback gapless while audio arrives faster than real time and
// restarts immediately after an underrun.
package playback

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/neurolink/pkg/audio"
)

// Clock reports the current time of an audio output, measured from the moment
// the output was opened.
type Clock interface {
	Now() time.Duration
}

// Voice is one segment that an [Output] has accepted for playback.
type Voice interface {
	// Stop silences the voice immediately. Stopping a voice that already
	// finished, or stopping twice, is a no-op.
	Stop()
}

// Output is an audio sink that can start segments at exact clock times.
type Output interface {
	Clock

	// Play schedules seg to start at the given output-clock time and returns a
	// handle to it. ended is invoked once, from the output's render thread,
	// after the last sample has been rendered. It is not invoked for voices
	// that were stopped. Play must not call ended synchronously.
	Play(seg audio.Segment, at time.Duration, ended func()) (Voice, error)

	// Close releases the output. Voices still playing are silenced.
	Close() error
}

// Opener creates the output on first use.
type Opener func() (Output, error)

// Handle is one scheduled segment. It is owned by the [Scheduler] from
// scheduling until it either ends naturally or is stopped by an interrupt.
type Handle struct {
	ID      uint64
	StartAt time.Duration
	EndAt   time.Duration
	voice   Voice
}

// Scheduler places segments on an output gaplessly. The output is opened
// lazily by the first Schedule call and torn down by Release.
//
// All exported methods are safe for concurrent use.
type Scheduler struct {
	open Opener

	mu     sync.Mutex
	out    Output
	cursor time.Duration
	run    run
	active map[uint64]*Handle
	nextID uint64
}

// run is the current stretch of back-to-back segments at one rate. The
// cursor is derived from its total sample count so that per-segment
// rounding never accumulates.
type run struct {
	at      time.Duration
	rate    int
	samples int64
}

// NewScheduler creates a Scheduler that opens its output with open.
func NewScheduler(open Opener) *Scheduler {
	return &Scheduler{
		open:   open,
		active: make(map[uint64]*Handle),
	}
}

// Schedule plays seg at max(cursor, now) and advances the cursor by the
// segment's duration. It returns the start time on the output clock.
func (s *Scheduler) Schedule(seg audio.Segment) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.out == nil {
		out, err := s.open()
		if err != nil {
			return 0, fmt.Errorf("playback: open output: %w", err)
		}
		s.out = out
	}

	n := int64(len(seg.Samples))
	startAt := max(s.cursor, s.out.Now())
	next := run{at: startAt, rate: seg.SampleRate, samples: n}
	if s.cursor > 0 && startAt == s.cursor && s.run.rate == seg.SampleRate {
		next = s.run
		next.samples += n
	}
	s.nextID++
	h := &Handle{
		ID:      s.nextID,
		StartAt: startAt,
		EndAt:   next.at + audio.SamplesDuration(next.samples, next.rate),
	}
	voice, err := s.out.Play(seg, startAt, func() { s.ended(h.ID) })
	if err != nil {
		return 0, fmt.Errorf("playback: schedule segment: %w", err)
	}
	h.voice = voice
	s.active[h.ID] = h
	s.cursor = h.EndAt
	s.run = next
	return startAt, nil
}

// ended removes a naturally finished handle. Handles released by Interrupt
// are already gone and the call is a no-op.
func (s *Scheduler) ended(id uint64) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

// Interrupt stops every active handle, clears the active set and resets the
// cursor to zero so the next segment starts at the current output time. It
// returns the number of handles released. Stop errors on handles that already
// finished are ignored.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	handles := make([]*Handle, 0, len(s.active))
	for _, h := range s.active {
		handles = append(handles, h)
	}
	clear(s.active)
	s.cursor = 0
	s.run = run{}
	s.mu.Unlock()

	for _, h := range handles {
		h.voice.Stop()
	}
	if len(handles) > 0 {
		slog.Debug("playback: interrupted", "released", len(handles))
	}
	return len(handles)
}

// Active returns the number of scheduled handles that have not yet ended.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Cursor returns the end time of the last scheduled segment, or zero after an
// interrupt.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Now returns the output clock, or zero while no output is open.
func (s *Scheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return 0
	}
	return s.out.Now()
}

// Release interrupts playback and closes the output. A later Schedule opens a
// fresh output. Release is idempotent.
func (s *Scheduler) Release() error {
	s.Interrupt()

	s.mu.Lock()
	out := s.out
	s.out = nil
	s.mu.Unlock()

	if out == nil {
		return nil
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("playback: close output: %w", err)
	}
	return nil
}
