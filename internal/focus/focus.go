// Package focus implements the camera focus probe: every interval it grabs a
// frame, shrinks it to a small JPEG, and asks a one-shot model whether the
// person in front of the screen is focused or distracted.
//
// The probe is biased towards FOCUSED: an unrecognised answer, a failed
// request, or an open circuit breaker all yield FOCUSED so a flaky service
// never raises a false distraction alert.
//
// Ticks are not cancelled or coalesced. When a classification is still in
// flight as the next tick fires, both requests run and each result
// overwrites the state as it arrives, so a slow older answer can replace a
// newer one. [WithDiscardStale] drops such late results instead.
package focus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/neurolink/internal/observe"
	"github.com/MrWong99/neurolink/internal/resilience"
	"github.com/MrWong99/neurolink/pkg/device"
	"github.com/MrWong99/neurolink/pkg/provider/generate"
	"github.com/MrWong99/neurolink/pkg/video"
)

// ErrActive is returned by [Probe.Start] when the probe is already running.
var ErrActive = errors.New("focus: probe already active")

// State is the focus signal.
type State int

const (
	// StateIdle is reported before the first result and after Stop.
	StateIdle State = iota
	StateFocused
	StateDistracted
)

// String returns the wire label of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateFocused:
		return "FOCUSED"
	case StateDistracted:
		return "DISTRACTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Classify maps a model answer to a state. Only the single words FOCUSED
// and DISTRACTED are recognised (case-insensitive, surrounding whitespace,
// quotes and a trailing period ignored); anything else is FOCUSED.
func Classify(text string) State {
	word := strings.ToUpper(strings.Trim(text, " \t\r\n'\"."))
	if word == "DISTRACTED" {
		return StateDistracted
	}
	return StateFocused
}

// Default probe settings.
const (
	DefaultInterval = 10 * time.Second

	// DefaultPrompt asks for a one-word verdict.
	DefaultPrompt = "Analyze this person. Are they focused on their work at the screen, or are they " +
		"distracted (looking away, on a phone, eyes closed, or absent)? " +
		"Respond with exactly one word: 'FOCUSED' or 'DISTRACTED'."
)

// ticker is the subset of *time.Ticker the probe needs.
type ticker interface {
	C() <-chan time.Time
	Reset(d time.Duration)
	Stop()
}

type timeTicker struct{ *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.Ticker.C }

func newTimeTicker(d time.Duration) ticker { return timeTicker{time.NewTicker(d)} }

// Option configures a [Probe].
type Option func(*Probe)

// WithInterval sets the sampling period. Default: [DefaultInterval].
func WithInterval(d time.Duration) Option {
	return func(p *Probe) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithSnapshot sets the JPEG snapshot size and quality.
// Default: 120x90 at quality 30.
func WithSnapshot(width, height, quality int) Option {
	return func(p *Probe) {
		if width > 0 && height > 0 {
			p.width, p.height = width, height
		}
		if quality > 0 {
			p.quality = quality
		}
	}
}

// WithPrompt overrides the classification prompt.
func WithPrompt(prompt string) Option {
	return func(p *Probe) {
		if prompt != "" {
			p.prompt = prompt
		}
	}
}

// WithModel selects the model of the one-shot provider.
func WithModel(model string) Option {
	return func(p *Probe) { p.model = model }
}

// WithDiscardStale drops results of requests older than the newest result
// already applied.
func WithDiscardStale(discard bool) Option {
	return func(p *Probe) { p.discardStale = discard }
}

// WithBreaker guards classification requests with cb.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(p *Probe) { p.breaker = cb }
}

// WithMetrics records request latency and applied states to m.
// providerName labels the provider in metrics.
func WithMetrics(m *observe.Metrics, providerName string) Option {
	return func(p *Probe) {
		p.metrics = m
		p.providerName = providerName
	}
}

// Probe is the focus probe. It is safe for concurrent use.
type Probe struct {
	camera video.Camera
	gen    generate.Provider

	interval        time.Duration
	width, height   int
	quality         int
	prompt, model   string
	discardStale    bool
	breaker         *resilience.CircuitBreaker
	metrics         *observe.Metrics
	providerName    string
	newTicker       func(time.Duration) ticker
	intervalChanges chan struct{}

	// lifeMu serialises Start and Stop. Stop waits for an in-progress Start.
	lifeMu sync.Mutex

	mu        sync.Mutex
	active    bool
	run       uint64 // incremented by every Start and Stop
	issued    uint64 // sequence of the latest request
	applied   uint64 // sequence of the latest applied result
	state     State
	observers []func(State)
	cancel    context.CancelFunc
	done      chan struct{}
	inflight  sync.WaitGroup
}

// New creates a stopped probe sampling camera and classifying with gen.
func New(camera video.Camera, gen generate.Provider, opts ...Option) *Probe {
	p := &Probe{
		camera:          camera,
		gen:             gen,
		interval:        DefaultInterval,
		width:           video.SnapshotWidth,
		height:          video.SnapshotHeight,
		quality:         video.SnapshotQuality,
		prompt:          DefaultPrompt,
		newTicker:       newTimeTicker,
		intervalChanges: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// OnChange registers fn to be called with every new state, including the
// reset to IDLE on Stop. Callbacks run on the goroutine that applied the
// result and must not block.
func (p *Probe) OnChange(fn func(State)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, fn)
}

// State returns the current focus state.
func (p *Probe) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Active reports whether the probe is running.
func (p *Probe) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Start acquires the camera and arms the sampling timer. The first sample is
// taken one interval after Start. On failure the probe stays stopped and the
// error wraps [device.ErrUnavailable]. Cancelling ctx stops the probe.
func (p *Probe) Start(ctx context.Context) error {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()
	if p.Active() {
		return ErrActive
	}

	// The camera may block on a permission prompt; State and Active stay
	// responsive meanwhile.
	g, err := p.camera.Open(ctx)
	if err != nil {
		if !errors.Is(err, device.ErrUnavailable) {
			err = device.Unavailable("camera", err)
		}
		return fmt.Errorf("focus: start: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = true
	p.run++
	p.cancel = cancel
	p.done = make(chan struct{})

	go p.loop(runCtx, p.run, g, p.done)

	slog.Info("focus probe started", "interval", p.interval, "discard_stale", p.discardStale)
	return nil
}

// Stop disarms the timer, releases the camera, and resets the state to
// IDLE. Results of requests still in flight are discarded. Idempotent.
func (p *Probe) Stop() {
	p.lifeMu.Lock()
	defer p.lifeMu.Unlock()
	cancel, done, changed := p.deactivate(0)
	if cancel == nil {
		return
	}
	cancel()
	<-done
	if changed {
		p.notify(StateIdle)
	}
	slog.Info("focus probe stopped")
}

// Wait blocks until all in-flight classification requests have returned.
func (p *Probe) Wait() {
	p.inflight.Wait()
}

// SetInterval changes the sampling period of a running or future run.
func (p *Probe) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	p.interval = d
	p.mu.Unlock()

	select {
	case p.intervalChanges <- struct{}{}:
	default:
	}
}

// deactivate flips the probe to stopped if it is active and, when run is
// non-zero, still on that run. It returns the cancel func and done channel of
// the run, or nil if nothing was stopped.
func (p *Probe) deactivate(run uint64) (context.CancelFunc, chan struct{}, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active || (run != 0 && run != p.run) {
		return nil, nil, false
	}
	p.active = false
	p.run++
	changed := p.state != StateIdle
	p.state = StateIdle
	return p.cancel, p.done, changed
}

func (p *Probe) loop(ctx context.Context, run uint64, g video.Grabber, done chan struct{}) {
	defer close(done)
	defer func() {
		if err := g.Close(); err != nil {
			slog.Warn("focus probe: release camera", "err", err)
		}
	}()

	p.mu.Lock()
	t := p.newTicker(p.interval)
	p.mu.Unlock()
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			// Parent cancellation without Stop still leaves a stopped probe.
			if _, _, changed := p.deactivate(run); changed {
				p.notify(StateIdle)
			}
			return
		case <-p.intervalChanges:
			p.mu.Lock()
			t.Reset(p.interval)
			p.mu.Unlock()
		case <-t.C():
			p.sample(ctx, run, g)
		}
	}
}

// sample grabs and encodes one frame synchronously, then classifies it in
// the background.
func (p *Probe) sample(ctx context.Context, run uint64, g video.Grabber) {
	img, err := g.Grab(ctx)
	if err != nil {
		slog.Warn("focus probe: grab frame", "err", err)
		return
	}
	jpeg, err := video.Snapshot(img, p.width, p.height, p.quality)
	if err != nil {
		slog.Warn("focus probe: snapshot", "err", err)
		return
	}

	p.mu.Lock()
	p.issued++
	seq := p.issued
	p.mu.Unlock()

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		p.apply(ctx, run, seq, p.classify(ctx, jpeg))
	}()
}

func (p *Probe) classify(ctx context.Context, jpeg []byte) State {
	ctx, span := observe.StartSpan(ctx, "focus.classify")

	req := generate.Request{
		Model:  p.model,
		Inline: generate.Blob{MIMEType: "image/jpeg", Data: jpeg},
		Prompt: p.prompt,
	}
	call := func() (string, error) { return p.gen.Generate(ctx, req) }

	start := time.Now()
	var (
		text string
		err  error
	)
	if p.breaker != nil {
		text, err = resilience.Call(p.breaker, call)
	} else {
		text, err = call()
	}
	if p.metrics != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		p.metrics.RecordGenerate(ctx, p.providerName, "focus", time.Since(start).Seconds(), err)
	}
	observe.EndSpan(span, err)

	if err != nil {
		if ctx.Err() == nil {
			observe.Logger(ctx).Warn("focus probe: classification failed, assuming focused", "err", err)
		}
		return StateFocused
	}
	state := Classify(text)
	slog.Debug("focus probe: classified", "answer", text, "state", state.String())
	return state
}

// apply stores the result of request seq from run, unless the probe has
// been stopped or restarted since, or the result is stale and stale results
// are discarded.
func (p *Probe) apply(ctx context.Context, run, seq uint64, s State) {
	p.mu.Lock()
	if !p.active || run != p.run {
		p.mu.Unlock()
		return
	}
	if p.discardStale && seq < p.applied {
		p.mu.Unlock()
		slog.Debug("focus probe: discarded stale result", "seq", seq, "applied", p.applied)
		return
	}
	p.applied = max(p.applied, seq)
	changed := p.state != s
	p.state = s
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.RecordFocus(ctx, s.String())
	}
	if changed {
		p.notify(s)
	}
}

func (p *Probe) notify(s State) {
	p.mu.Lock()
	observers := slices.Clone(p.observers)
	p.mu.Unlock()
	for _, fn := range observers {
		fn(s)
	}
}
