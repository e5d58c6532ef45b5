// Package live defines the Session Channel: a bidirectional, long-lived
// connection to a remote conversational service that accepts small chunks of
// microphone audio and streams synthesised speech back.
//
// A [Provider] opens sessions. A [Session] carries outbound audio through Send
// and delivers inbound traffic as an ordered stream of [Event] values. There is
// no automatic reconnection: when the transport fails the event stream ends
// and [Session.Err] reports why. Opening a new session is the caller's
// decision.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"errors"

	"github.com/MrWong99/neurolink/pkg/audio"
)

var (
	// ErrTransport wraps failures of the underlying connection: dial errors,
	// setup rejection, unexpected closure, write failures.
	ErrTransport = errors.New("live: transport error")

	// ErrServer wraps error payloads reported by the remote service while the
	// session stays up.
	ErrServer = errors.New("live: server error")

	// ErrClosed is returned by Send after the session has been closed.
	ErrClosed = errors.New("live: session closed")
)

// State is the lifecycle state of a session channel.
type State int

const (
	// StateClosed means no connection exists. It is the initial and terminal state.
	StateClosed State = iota

	// StateConnecting means a connection attempt is in flight.
	StateConnecting

	// StateOpen means the transport is ready: audio can be sent and events arrive.
	StateOpen

	// StateClosing means a local close is in progress.
	StateClosing
)

// String returns the upper-case name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	default:
		return "UNKNOWN"
	}
}

// Role identifies who spoke a transcribed utterance.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Transcript is a piece of recognised or synthesised speech as text.
type Transcript struct {
	Role Role
	Text string
}

// Event is one inbound message from the remote service. Exactly one of the
// fields is set.
type Event struct {
	// Audio is a chunk of synthesised speech in wire form. Decoding is left to
	// the consumer so that malformed payloads surface where they are handled.
	Audio *audio.WireBlob

	// Interrupted reports that the remote side detected barge-in and that all
	// audio delivered so far for the current turn should be discarded.
	Interrupted bool

	// TurnComplete marks the end of the model's current turn.
	TurnComplete bool

	// Transcript carries input or output transcription text.
	Transcript *Transcript

	// Err is a non-fatal error reported by the service (wraps [ErrServer]).
	Err error
}

// SessionConfig is the initial configuration of a live session.
type SessionConfig struct {
	// Model is the remote model identifier. Empty uses the provider default.
	Model string

	// Voice is the prebuilt voice name for synthesised speech.
	Voice string

	// Instructions is the system instruction for the whole session.
	Instructions string

	// Transcribe requests input and output transcription events.
	Transcribe bool
}

// Session is an open session channel.
type Session interface {
	// Send queues one chunk of outbound audio. Chunks are transmitted in the
	// order Send is called. When the outbound queue is full Send blocks until
	// there is room or the session closes. After Close, or after the transport
	// failed, Send returns an error wrapping [ErrClosed] or [ErrTransport].
	Send(blob audio.WireBlob) error

	// Events returns the inbound event stream. The channel is closed when the
	// session ends for any reason.
	Events() <-chan Event

	// Err returns the transport error that ended the session, or nil if the
	// session is still open or was closed cleanly.
	Err() error

	// State returns the current lifecycle state (OPEN, CLOSING or CLOSED).
	State() State

	// Close tears down the connection. Queued but unsent audio is dropped.
	// Close is idempotent.
	Close() error
}

// Provider opens live sessions.
type Provider interface {
	// Connect opens a session and returns once the remote service has
	// acknowledged the setup. Failures wrap [ErrTransport].
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
}
