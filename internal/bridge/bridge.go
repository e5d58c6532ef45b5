// Package bridge implements the live audio bridge: one object that owns the
// microphone capture pipeline, the live session channel and the playback
// scheduler for the lifetime of a voice dialogue.
//
// Lifecycle:
//
//	CLOSED --Start--> CONNECTING --connected--> OPEN --Stop--> CLOSING --> CLOSED
//	                       |                      |
//	                       +--connect failure-----+--remote close / transport error--> CLOSED
//
// Only one session is open at a time. Nothing is retried: after a failure the
// bridge rests in CLOSED until the caller starts it again.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/neurolink/internal/observe"
	"github.com/MrWong99/neurolink/internal/profile"
	"github.com/MrWong99/neurolink/pkg/audio"
	"github.com/MrWong99/neurolink/pkg/audio/capture"
	"github.com/MrWong99/neurolink/pkg/audio/playback"
	"github.com/MrWong99/neurolink/pkg/provider/live"
)

var (
	// ErrActive is returned by Start while a session is connecting or open.
	ErrActive = errors.New("bridge: a session is already active")

	// ErrPremiumRequired is returned by Start when the profile's tier does not
	// include live audio. [UpgradeHint] is the message shown to the user.
	ErrPremiumRequired = errors.New("bridge: live audio requires a PREMIUM profile")
)

// UpgradeHint is shown when a FREE profile asks for live audio.
const UpgradeHint = "Upgrade to Premium for AI Twin Audio Spark!"

// Config holds the dependencies of a [Bridge].
type Config struct {
	// Live opens the session channel.
	Live live.Provider

	// Session is sent with every Connect.
	Session live.SessionConfig

	// Source is the microphone. A fresh capture pipeline is built on it for
	// every session.
	Source capture.Source

	// CaptureOptions configure each capture pipeline (frame size, rate,
	// buffer).
	CaptureOptions []capture.Option

	// Output opens the speaker on the first scheduled segment.
	Output playback.Opener

	// OutputRate is the speaker rate. Inbound segments at another rate are
	// resampled. Default: [audio.OutputSampleRate].
	OutputRate int

	// Profile gates access. Only a PREMIUM profile may start a session.
	Profile *profile.Profile

	// Metrics receives bridge instruments. Default: [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// OnTranscript, if set, receives transcription events.
	OnTranscript func(live.Transcript)
}

// Bridge is the live audio bridge. All exported methods are safe for
// concurrent use.
type Bridge struct {
	cfg     Config
	sched   *playback.Scheduler
	metrics *observe.Metrics

	// lifeMu serialises Start and Stop. Stop waits for an in-progress Start.
	lifeMu sync.Mutex

	mu        sync.Mutex
	state     live.State
	current   *session
	lastErr   error
	observers []func(live.State)
}

// session is one open dialogue: the resources acquired by Start and
// released together by end.
type session struct {
	id      string
	log     *slog.Logger
	live    live.Session
	capture *capture.Pipeline
	cancel  context.CancelFunc
	started time.Time

	stopping bool // set under Bridge.mu by Stop before teardown
	wg       sync.WaitGroup
	endOnce  sync.Once
	done     chan struct{}
}

// New creates a closed bridge.
func New(cfg Config) *Bridge {
	if cfg.OutputRate <= 0 {
		cfg.OutputRate = audio.OutputSampleRate
	}
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Bridge{
		cfg:     cfg,
		sched:   playback.NewScheduler(cfg.Output),
		metrics: m,
		state:   live.StateClosed,
	}
}

// State returns the current session state.
func (b *Bridge) State() live.State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// SessionID returns the ID of the open session, or "" when closed.
func (b *Bridge) SessionID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return ""
	}
	return b.current.id
}

// OnStateChange registers fn to be called on every state transition. fn runs
// on the goroutine performing the transition and must not block or call
// Start/Stop.
func (b *Bridge) OnStateChange(fn func(live.State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, fn)
}

// Scheduler exposes the playback scheduler owned by the bridge.
func (b *Bridge) Scheduler() *playback.Scheduler { return b.sched }

// Start connects the session channel and, once it is open, starts capturing
// and forwarding microphone audio. A connect failure leaves the bridge CLOSED
// and wraps [live.ErrTransport]; a microphone failure closes the session again
// and wraps [device.ErrUnavailable]. Cancelling ctx ends the session.
func (b *Bridge) Start(ctx context.Context) error {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	b.mu.Lock()
	if b.state != live.StateClosed {
		b.mu.Unlock()
		return ErrActive
	}
	if !b.cfg.Profile.CanUseLiveAudio() {
		b.mu.Unlock()
		return ErrPremiumRequired
	}
	b.mu.Unlock()
	b.transition(live.StateConnecting)

	id := uuid.NewString()
	log := observe.SessionLogger(ctx, id)

	connectCtx, span := observe.StartSpan(ctx, "bridge.connect",
		trace.WithAttributes(attribute.String("session.id", id)))
	sess, err := b.cfg.Live.Connect(connectCtx, b.cfg.Session)
	observe.EndSpan(span, err)
	if err != nil {
		b.fail(err)
		log.Error("live session connect failed", "err", err)
		return fmt.Errorf("bridge: connect: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	pipe := capture.New(b.cfg.Source, b.cfg.CaptureOptions...)
	frames, err := pipe.Start(runCtx)
	if err != nil {
		cancel()
		if cerr := sess.Close(); cerr != nil {
			log.Warn("close session after capture failure", "err", cerr)
		}
		b.fail(err)
		log.Error("microphone unavailable", "err", err)
		return fmt.Errorf("bridge: start capture: %w", err)
	}

	s := &session{
		id:      id,
		log:     log,
		live:    sess,
		capture: pipe,
		cancel:  cancel,
		started: time.Now(),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	b.current = s
	b.lastErr = nil
	b.mu.Unlock()
	b.transition(live.StateOpen)
	b.metrics.ActiveSessions.Add(ctx, 1)

	s.wg.Add(3)
	go b.forward(runCtx, s, frames)
	go b.receive(runCtx, s)
	go func() {
		defer s.wg.Done()
		select {
		case <-runCtx.Done():
			b.end(s, nil)
		case <-s.done:
		}
	}()

	log.Info("live session open",
		"model", b.cfg.Session.Model,
		"voice", b.cfg.Session.Voice,
		"output_rate", b.cfg.OutputRate,
	)
	return nil
}

// Stop ends the open session: capture is stopped, the channel closed and
// pending playback released. Stop is idempotent and returns once every
// session goroutine has exited.
func (b *Bridge) Stop() error {
	b.lifeMu.Lock()
	defer b.lifeMu.Unlock()

	b.mu.Lock()
	s := b.current
	if s == nil {
		b.mu.Unlock()
		return nil
	}
	s.stopping = true
	b.mu.Unlock()

	b.transition(live.StateClosing)
	b.end(s, nil)
	s.wg.Wait()
	return nil
}

// Wait blocks until the open session ends and returns the error that ended
// it, or nil after Stop or a clean remote hangup. It returns immediately
// when no session is open.
func (b *Bridge) Wait() error {
	b.mu.Lock()
	s := b.current
	b.mu.Unlock()
	if s != nil {
		<-s.done
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// forward sends every captured frame, in capture order, exactly once.
func (b *Bridge) forward(ctx context.Context, s *session, frames <-chan audio.AudioFrame) {
	defer s.wg.Done()
	for frame := range frames {
		b.metrics.FramesCaptured.Add(ctx, 1)
		if err := s.live.Send(audio.EncodeBlob(frame)); err != nil {
			// The receiver observes the end of the stream and tears down.
			if !errors.Is(err, live.ErrClosed) {
				s.log.Warn("send audio frame", "seq", frame.Seq, "err", err)
			}
			return
		}
		b.metrics.FramesSent.Add(ctx, 1)
	}
}

// receive handles inbound events in transport order until the stream ends.
func (b *Bridge) receive(ctx context.Context, s *session) {
	defer s.wg.Done()
	for ev := range s.live.Events() {
		b.handle(ctx, s, ev)
	}

	err := s.live.Err()
	b.mu.Lock()
	local := s.stopping
	b.mu.Unlock()
	if !local && ctx.Err() == nil {
		if err != nil {
			s.log.Error("live session lost", "err", err)
		} else {
			s.log.Info("live session closed by remote")
		}
	}
	b.end(s, err)
}

func (b *Bridge) handle(ctx context.Context, s *session, ev live.Event) {
	switch {
	case ev.Audio != nil:
		b.metrics.ChunksReceived.Add(ctx, 1)
		seg, err := audio.DecodeBlob(*ev.Audio, audio.OutputSampleRate)
		if err != nil {
			b.metrics.ChunksDropped.Add(ctx, 1)
			s.log.Warn("dropping undecodable audio chunk", "mime", ev.Audio.MIMEType, "err", err)
			return
		}
		seg = seg.Resample(b.cfg.OutputRate)
		startAt, err := b.sched.Schedule(seg)
		if err != nil {
			s.log.Error("schedule audio chunk", "err", err)
			return
		}
		b.metrics.PlaybackLead.Record(ctx, (startAt - b.sched.Now()).Seconds())

	case ev.Interrupted:
		n := b.sched.Interrupt()
		b.metrics.RecordInterrupt(ctx, n)
		s.log.Info("model interrupted", "released", n)

	case ev.TurnComplete:
		s.log.Debug("model turn complete")

	case ev.Transcript != nil:
		s.log.Info("transcript", "role", string(ev.Transcript.Role), "text", ev.Transcript.Text)
		if b.cfg.OnTranscript != nil {
			b.cfg.OnTranscript(*ev.Transcript)
		}

	case ev.Err != nil:
		s.log.Warn("live service error", "err", ev.Err)
	}
}

// end releases every resource of s exactly once and moves the bridge to
// CLOSED. It is called by Stop, by the receiver when the stream ends, and on
// context cancellation; it never waits for the session goroutines.
func (b *Bridge) end(s *session, cause error) {
	s.endOnce.Do(func() {
		s.cancel()
		if err := s.capture.Stop(); err != nil {
			s.log.Warn("stop capture", "err", err)
		}
		if err := s.live.Close(); err != nil {
			s.log.Warn("close live session", "err", err)
		}
		if err := b.sched.Release(); err != nil {
			s.log.Warn("release playback", "err", err)
		}

		b.mu.Lock()
		if b.current == s {
			b.current = nil
		}
		b.lastErr = cause
		b.mu.Unlock()

		b.metrics.ActiveSessions.Add(context.Background(), -1)
		b.metrics.SessionDuration.Record(context.Background(), time.Since(s.started).Seconds())
		b.transition(live.StateClosed)
		s.log.Info("live session ended", "duration", time.Since(s.started).Round(time.Millisecond))
		close(s.done)
	})
}

// fail returns a session that never opened to CLOSED.
func (b *Bridge) fail(err error) {
	b.mu.Lock()
	b.lastErr = err
	b.mu.Unlock()
	b.transition(live.StateClosed)
}

func (b *Bridge) transition(to live.State) {
	b.mu.Lock()
	if b.state == to {
		b.mu.Unlock()
		return
	}
	from := b.state
	b.state = to
	observers := slices.Clone(b.observers)
	b.mu.Unlock()

	slog.Debug("bridge state", "from", from.String(), "to", to.String())
	for _, fn := range observers {
		fn(to)
	}
}
