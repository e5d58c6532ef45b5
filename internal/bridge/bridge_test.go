package bridge_test

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/neurolink/internal/bridge"
	"github.com/MrWong99/neurolink/internal/profile"
	"github.com/MrWong99/neurolink/pkg/audio"
	"github.com/MrWong99/neurolink/pkg/audio/capture"
	"github.com/MrWong99/neurolink/pkg/audio/playback"
	"github.com/MrWong99/neurolink/pkg/device"
	"github.com/MrWong99/neurolink/pkg/provider/live"
	"github.com/MrWong99/neurolink/pkg/provider/live/mock"
)

// ── helpers ───────────────────────────────────────────────────────────────────

// fakeMic lets the test push samples as if they came from the device thread.
type fakeMic struct {
	mu      sync.Mutex
	data    func([]float32)
	openErr error
	closes  int
}

func (f *fakeMic) Open(_ context.Context, _ capture.Format, data func([]float32)) (io.Closer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.data = data
	return closerFunc(func() error {
		f.mu.Lock()
		f.closes++
		f.mu.Unlock()
		return nil
	}), nil
}

func (f *fakeMic) push(samples []float32) {
	f.mu.Lock()
	data := f.data
	f.mu.Unlock()
	data(samples)
}

func (f *fakeMic) closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type closerFunc func() error

func (c closerFunc) Close() error { return c() }

// stateLog records OnStateChange notifications.
type stateLog struct {
	mu     sync.Mutex
	states []live.State
}

func (l *stateLog) record(s live.State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) get() []live.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.states)
}

func premium() *profile.Profile {
	p := profile.New("Ada", 29, "Mathematics", nil, nil)
	p.Tier = profile.TierPremium
	return p
}

type fixture struct {
	bridge   *bridge.Bridge
	provider *mock.Provider
	session  *mock.Session
	mic      *fakeMic
	timeline *playback.Timeline
	states   *stateLog
}

func newFixture(t *testing.T, mutate ...func(*bridge.Config)) *fixture {
	t.Helper()
	f := &fixture{
		session:  mock.NewSession(),
		mic:      &fakeMic{},
		timeline: playback.NewTimeline(audio.OutputSampleRate),
		states:   &stateLog{},
	}
	f.provider = &mock.Provider{Session: f.session}
	cfg := bridge.Config{
		Live:           f.provider,
		Session:        live.SessionConfig{Model: "test-model", Voice: "Zephyr"},
		Source:         f.mic,
		CaptureOptions: []capture.Option{capture.WithFrameSize(4)},
		Output:         func() (playback.Output, error) { return f.timeline, nil },
		Profile:        premium(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	f.bridge = bridge.New(cfg)
	f.bridge.OnStateChange(f.states.record)
	t.Cleanup(func() { _ = f.bridge.Stop() })
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// speech returns a wire blob of d seconds of silence at rate.
func speech(d float64, rate int) *audio.WireBlob {
	n := int(d * float64(rate))
	return &audio.WireBlob{
		Data:     base64.StdEncoding.EncodeToString(make([]byte, n*2)),
		MIMEType: audio.MIMEType(rate),
	}
}

// ── lifecycle ─────────────────────────────────────────────────────────────────

func TestStart_OpensSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	if got := f.bridge.State(); got != live.StateOpen {
		t.Fatalf("state = %s, want OPEN", got)
	}
	if f.bridge.SessionID() == "" {
		t.Error("open session has no ID")
	}
	want := []live.State{live.StateConnecting, live.StateOpen}
	if got := f.states.get(); !slices.Equal(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
	calls := f.provider.Calls()
	if len(calls) != 1 || calls[0].Cfg.Model != "test-model" || calls[0].Cfg.Voice != "Zephyr" {
		t.Errorf("connect calls = %+v", calls)
	}
}

func TestOnStateChange_AllObservers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	extra, late := &stateLog{}, &stateLog{}
	f.bridge.OnStateChange(func(s live.State) {
		extra.record(s)
		// Registering from inside a notification must not deadlock.
		if s == live.StateOpen {
			f.bridge.OnStateChange(late.record)
		}
	})

	f.start(t)
	if err := f.bridge.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	want := []live.State{live.StateConnecting, live.StateOpen, live.StateClosing, live.StateClosed}
	if got := f.states.get(); !slices.Equal(got, want) {
		t.Errorf("first observer = %v, want %v", got, want)
	}
	if got := extra.get(); !slices.Equal(got, want) {
		t.Errorf("second observer = %v, want %v", got, want)
	}
	if got, want := late.get(), want[2:]; !slices.Equal(got, want) {
		t.Errorf("late observer = %v, want %v", got, want)
	}
}

func TestStart_Twice(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	if err := f.bridge.Start(context.Background()); !errors.Is(err, bridge.ErrActive) {
		t.Errorf("second Start: err = %v, want ErrActive", err)
	}
	if n := len(f.provider.Calls()); n != 1 {
		t.Errorf("connect calls = %d, want 1", n)
	}
}

func TestStart_RequiresPremium(t *testing.T) {
	t.Parallel()
	tests := map[string]*profile.Profile{
		"free":       profile.New("Ada", 29, "", nil, nil),
		"no profile": nil,
	}
	for name, p := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, func(c *bridge.Config) { c.Profile = p })
			err := f.bridge.Start(context.Background())
			if !errors.Is(err, bridge.ErrPremiumRequired) {
				t.Fatalf("err = %v, want ErrPremiumRequired", err)
			}
			if len(f.provider.Calls()) != 0 {
				t.Error("no connection may be attempted without PREMIUM")
			}
			if f.bridge.State() != live.StateClosed {
				t.Errorf("state = %s, want CLOSED", f.bridge.State())
			}
		})
	}
}

func TestStart_ConnectFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.provider.ConnectErr = fmt.Errorf("%w: dial: connection refused", live.ErrTransport)

	err := f.bridge.Start(context.Background())
	if !errors.Is(err, live.ErrTransport) {
		t.Fatalf("err = %v, want ErrTransport", err)
	}
	if f.bridge.State() != live.StateClosed {
		t.Errorf("state = %s, want CLOSED", f.bridge.State())
	}
	want := []live.State{live.StateConnecting, live.StateClosed}
	if got := f.states.get(); !slices.Equal(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
	if werr := f.bridge.Wait(); !errors.Is(werr, live.ErrTransport) {
		t.Errorf("Wait = %v, want the connect error", werr)
	}
}

func TestStart_MicrophoneUnavailable(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.mic.openErr = errors.New("permission denied")

	err := f.bridge.Start(context.Background())
	if !errors.Is(err, device.ErrUnavailable) {
		t.Fatalf("err = %v, want device.ErrUnavailable", err)
	}
	if f.bridge.State() != live.StateClosed {
		t.Errorf("state = %s, want CLOSED", f.bridge.State())
	}
	if f.session.CloseCalls() != 1 {
		t.Errorf("session closed %d times, want 1", f.session.CloseCalls())
	}
}

func TestStop_Idempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	for i := range 2 {
		if err := f.bridge.Stop(); err != nil {
			t.Fatalf("Stop #%d: %v", i+1, err)
		}
	}
	if f.bridge.State() != live.StateClosed {
		t.Errorf("state = %s, want CLOSED", f.bridge.State())
	}
	want := []live.State{live.StateConnecting, live.StateOpen, live.StateClosing, live.StateClosed}
	if got := f.states.get(); !slices.Equal(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
	if f.session.CloseCalls() != 1 {
		t.Errorf("session closed %d times, want 1", f.session.CloseCalls())
	}
	if f.mic.closed() != 1 {
		t.Errorf("microphone released %d times, want 1", f.mic.closed())
	}
	if err := f.bridge.Wait(); err != nil {
		t.Errorf("Wait after Stop = %v, want nil", err)
	}
}

func TestStop_BeforeStart(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if err := f.bridge.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if len(f.states.get()) != 0 {
		t.Error("Stop on a closed bridge must not change state")
	}
}

func TestRestart_AfterStop(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)
	first := f.bridge.SessionID()
	if err := f.bridge.Stop(); err != nil {
		t.Fatal(err)
	}

	f.provider.Session = mock.NewSession()
	f.start(t)
	if f.bridge.SessionID() == first {
		t.Error("a new session must get a new ID")
	}
	if f.bridge.State() != live.StateOpen {
		t.Errorf("state = %s, want OPEN", f.bridge.State())
	}
}

func TestRemoteFailure_ClosesBridge(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	f.session.Fail(fmt.Errorf("%w: connection reset", live.ErrTransport))
	if err := f.bridge.Wait(); !errors.Is(err, live.ErrTransport) {
		t.Errorf("Wait = %v, want ErrTransport", err)
	}
	if f.bridge.State() != live.StateClosed {
		t.Errorf("state = %s, want CLOSED", f.bridge.State())
	}
	waitFor(t, "microphone release", func() bool { return f.mic.closed() == 1 })
	// No automatic reconnect.
	if n := len(f.provider.Calls()); n != 1 {
		t.Errorf("connect calls = %d, want 1", n)
	}
}

func TestRemoteHangup_ClosesCleanly(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	f.session.Hangup()
	if err := f.bridge.Wait(); err != nil {
		t.Errorf("Wait = %v, want nil", err)
	}
	want := []live.State{live.StateConnecting, live.StateOpen, live.StateClosed}
	if got := f.states.get(); !slices.Equal(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
}

func TestParentCancel_ClosesBridge(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	if err := f.bridge.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := f.bridge.Wait(); err != nil {
		t.Errorf("Wait = %v, want nil", err)
	}
	if f.bridge.State() != live.StateClosed {
		t.Errorf("state = %s, want CLOSED", f.bridge.State())
	}
}

// ── forwarding ────────────────────────────────────────────────────────────────

func TestForward_EveryFrameInOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	// 40 labelled samples in uneven device buffers become 10 frames of 4.
	const total = 40
	label := func(i int) float32 { return float32(i) / 1000 }
	next := 0
	for _, n := range []int{3, 7, 1, 9, 4, 16} {
		buf := make([]float32, n)
		for i := range buf {
			buf[i] = label(next + i)
		}
		next += n
		f.mic.push(buf)
	}

	waitFor(t, "10 frames sent", func() bool { return len(f.session.Sent()) == total/4 })

	idx := 0
	for seq, blob := range f.session.Sent() {
		if blob.MIMEType != "audio/pcm;rate=16000" {
			t.Fatalf("frame %d MIME = %q", seq, blob.MIMEType)
		}
		seg, err := audio.DecodeBlob(blob, audio.InputSampleRate)
		if err != nil {
			t.Fatalf("frame %d: %v", seq, err)
		}
		for _, got := range seg.Samples {
			if math.Abs(float64(got-label(idx))) > 1.0/32768 {
				t.Fatalf("sample %d = %v, want %v", idx, got, label(idx))
			}
			idx++
		}
	}
}

// ── receiving ─────────────────────────────────────────────────────────────────

func TestReceive_SchedulesGaplessly(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	for _, d := range []float64{1.0, 0.5, 2.0} {
		f.session.Emit(live.Event{Audio: speech(d, audio.OutputSampleRate)})
	}
	sched := f.bridge.Scheduler()
	waitFor(t, "three scheduled segments", func() bool { return sched.Active() == 3 })

	if got := sched.Cursor(); got != 3500*time.Millisecond {
		t.Errorf("cursor = %v, want 3.5s", got)
	}
	if got := f.timeline.Pending(); got != 3 {
		t.Errorf("timeline voices = %d, want 3", got)
	}
}

func TestReceive_ResamplesToOutputRate(t *testing.T) {
	t.Parallel()
	tl := playback.NewTimeline(48000)
	f := newFixture(t, func(c *bridge.Config) {
		c.OutputRate = 48000
		c.Output = func() (playback.Output, error) { return tl, nil }
	})
	f.start(t)

	f.session.Emit(live.Event{Audio: speech(0.5, audio.OutputSampleRate)})
	sched := f.bridge.Scheduler()
	waitFor(t, "scheduled segment", func() bool { return sched.Active() == 1 })
	if got := sched.Cursor(); got != 500*time.Millisecond {
		t.Errorf("cursor = %v, want 500ms", got)
	}
}

func TestReceive_SkipsUndecodableChunk(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	f.session.Emit(live.Event{Audio: &audio.WireBlob{Data: "!!not base64!!", MIMEType: "audio/pcm;rate=24000"}})
	f.session.Emit(live.Event{Audio: &audio.WireBlob{Data: base64.StdEncoding.EncodeToString([]byte{1, 2, 3}), MIMEType: "audio/pcm"}})
	f.session.Emit(live.Event{Audio: speech(0.25, audio.OutputSampleRate)})

	sched := f.bridge.Scheduler()
	waitFor(t, "valid segment scheduled", func() bool { return sched.Active() == 1 })
	if got := sched.Cursor(); got != 250*time.Millisecond {
		t.Errorf("cursor = %v, want 250ms", got)
	}
	if f.bridge.State() != live.StateOpen {
		t.Errorf("a bad chunk must not end the session; state = %s", f.bridge.State())
	}
}

func TestReceive_InterruptResetsPlayback(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	f.session.Emit(live.Event{Audio: speech(1.0, audio.OutputSampleRate)})
	f.session.Emit(live.Event{Audio: speech(1.0, audio.OutputSampleRate)})
	sched := f.bridge.Scheduler()
	waitFor(t, "two segments", func() bool { return sched.Active() == 2 })

	// Play 250 ms, then barge in.
	f.timeline.Render(make([]float32, audio.OutputSampleRate/4))
	f.session.Emit(live.Event{Interrupted: true})
	waitFor(t, "interrupt", func() bool { return sched.Active() == 0 })
	if got := sched.Cursor(); got != 0 {
		t.Fatalf("cursor after interrupt = %v, want 0", got)
	}
	if got := f.timeline.Pending(); got != 0 {
		t.Errorf("timeline voices = %d, want 0", got)
	}

	f.session.Emit(live.Event{Audio: speech(0.5, audio.OutputSampleRate)})
	waitFor(t, "post-interrupt segment", func() bool { return sched.Active() == 1 })
	// The new segment starts at the current clock, not after the old cursor.
	if got, want := sched.Cursor(), 750*time.Millisecond; got != want {
		t.Errorf("cursor = %v, want %v", got, want)
	}
}

func TestReceive_Transcripts(t *testing.T) {
	t.Parallel()
	got := make(chan live.Transcript, 2)
	f := newFixture(t, func(c *bridge.Config) {
		c.OnTranscript = func(tr live.Transcript) { got <- tr }
	})
	f.start(t)

	f.session.Emit(live.Event{Transcript: &live.Transcript{Role: live.RoleUser, Text: "hello"}})
	f.session.Emit(live.Event{Err: fmt.Errorf("%w: quota", live.ErrServer)})
	f.session.Emit(live.Event{Transcript: &live.Transcript{Role: live.RoleModel, Text: "hi there"}})

	for _, want := range []live.Transcript{{Role: live.RoleUser, Text: "hello"}, {Role: live.RoleModel, Text: "hi there"}} {
		select {
		case tr := <-got:
			if tr != want {
				t.Errorf("transcript = %+v, want %+v", tr, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for transcript")
		}
	}
	if f.bridge.State() != live.StateOpen {
		t.Errorf("server error events must not end the session; state = %s", f.bridge.State())
	}
}

func TestStop_ReleasesPlayback(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.start(t)

	f.session.Emit(live.Event{Audio: speech(1.0, audio.OutputSampleRate)})
	sched := f.bridge.Scheduler()
	waitFor(t, "scheduled segment", func() bool { return sched.Active() == 1 })

	if err := f.bridge.Stop(); err != nil {
		t.Fatal(err)
	}
	if sched.Active() != 0 || sched.Cursor() != 0 {
		t.Errorf("after Stop: active = %d, cursor = %v", sched.Active(), sched.Cursor())
	}
}
