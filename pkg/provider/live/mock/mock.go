// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions.
// Use Session to push inbound events with Emit, end the stream remotely with
// Fail or Hangup, and inspect which chunks were sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Emit(live.Event{Interrupted: true})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/neurolink/pkg/audio"
	"github.com/MrWong99/neurolink/pkg/provider/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the session returned by Connect. If nil, Connect returns a
	// new Session from NewSession.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session == nil {
		p.Session = NewSession()
	}
	return p.Session, nil
}

// Calls returns a copy of the recorded Connect calls. Thread-safe.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectCall(nil), p.ConnectCalls...)
}

// Ensure Provider implements live.Provider at compile time.
var _ live.Provider = (*Provider)(nil)

// Session is a mock implementation of live.Session.
type Session struct {
	events chan live.Event

	mu         sync.Mutex
	sent       []audio.WireBlob
	sendErr    error
	err        error
	state      live.State
	ended      bool
	closeCalls int
	sentNotify chan struct{}
}

// NewSession returns an OPEN session with a buffered event stream.
func NewSession() *Session {
	return &Session{
		events:     make(chan live.Event, 64),
		state:      live.StateOpen,
		sentNotify: make(chan struct{}, 1),
	}
}

// Ensure Session implements live.Session at compile time.
var _ live.Session = (*Session)(nil)

// Send records blob, or returns the error set with SetSendErr.
func (s *Session) Send(blob audio.WireBlob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		if s.err != nil {
			return s.err
		}
		return live.ErrClosed
	}
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, blob)
	select {
	case s.sentNotify <- struct{}{}:
	default:
	}
	return nil
}

// SetSendErr makes subsequent Send calls fail with err.
func (s *Session) SetSendErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

// Sent returns a copy of every blob passed to Send, in order.
func (s *Session) Sent() []audio.WireBlob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.WireBlob(nil), s.sent...)
}

// SentNotify is signalled (non-blocking, capacity 1) after each successful Send.
func (s *Session) SentNotify() <-chan struct{} { return s.sentNotify }

// Emit delivers ev on the event stream. It is a no-op after the stream ended.
func (s *Session) Emit(ev live.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.events <- ev
}

// Fail ends the session remotely with a transport error.
func (s *Session) Fail(err error) {
	s.end(err)
}

// Hangup ends the session remotely without an error.
func (s *Session) Hangup() {
	s.end(nil)
}

func (s *Session) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.err = err
	s.state = live.StateClosed
	close(s.events)
}

// Events returns the inbound event stream.
func (s *Session) Events() <-chan live.Event { return s.events }

// Err returns the error passed to Fail.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// State returns OPEN until the session ends, then CLOSED.
func (s *Session) State() live.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close records the call and ends the stream. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closeCalls++
	s.mu.Unlock()
	s.end(nil)
	return nil
}

// CloseCalls returns how many times Close was called.
func (s *Session) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}
