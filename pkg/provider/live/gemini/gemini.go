// Package gemini implements the live.Provider interface for Google's Gemini Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live endpoint
// and exchanges JSON messages according to the BidiGenerateContent protocol.
// Microphone audio is transmitted as base64-encoded PCM chunks through a
// bounded send queue; synthesised audio, interruptions, turn boundaries and
// transcriptions are surfaced as live.Event values in arrival order.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/neurolink/pkg/audio"
	"github.com/MrWong99/neurolink/pkg/provider/live"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var _ live.Provider = (*Provider)(nil)
var _ live.Session = (*session)(nil)

const (
	// DefaultModel is the native-audio dialogue model.
	DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

	// DefaultVoice is the prebuilt voice used when none is configured.
	DefaultVoice = "Zephyr"

	defaultBaseURL   = "wss://generativelanguage.googleapis.com/ws"
	defaultSendQueue = 32
	eventBuffer      = 64

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
	writeTimeout      = 10 * time.Second
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the default Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithSendQueue sets the capacity of the outbound audio queue. Send blocks
// while the queue is full.
func WithSendQueue(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.sendQueue = n
		}
	}
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements live.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey    string
	model     string
	baseURL   string
	sendQueue int
}

// New creates a new Gemini Live Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:    apiKey,
		model:     DefaultModel,
		baseURL:   defaultBaseURL,
		sendQueue: defaultSendQueue,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect dials the Gemini Live endpoint, sends the setup message and waits for
// setupComplete. The returned session is OPEN. All failures wrap
// [live.ErrTransport].
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, url.QueryEscape(p.apiKey),
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: gemini: dial: %w", live.ErrTransport, err)
	}
	conn.SetReadLimit(16 << 20)

	model := cfg.Model
	if model == "" {
		model = p.model
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:     conn,
		events:   make(chan live.Event, eventBuffer),
		sendCh:   make(chan audio.WireBlob, p.sendQueue),
		done:     make(chan struct{}),
		recvDone: make(chan struct{}),
		ctx:      sessCtx,
		cancel:   sessCancel,
	}

	if err := sess.handshake(ctx, model, cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("%w: gemini: setup: %w", live.ErrTransport, err)
	}
	sess.state.Store(int32(live.StateOpen))

	go sess.receiveLoop()
	go sess.sendLoop()
	go sess.keepaliveLoop()

	slog.Debug("gemini: live session open", "model", model)
	return sess, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string             `json:"model"`
	GenerationConfig         generationConfig   `json:"generationConfig"`
	SystemInstruction        *systemInstruction `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}          `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}          `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string          `json:"text,omitempty"`
	InlineData *audio.WireBlob `json:"inlineData,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []audio.WireBlob `json:"mediaChunks"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	GoAway        *json.RawMessage `json:"goAway,omitempty"`
	Error         *geminiError     `json:"error,omitempty"`
}

type geminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text string `json:"text"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   *websocket.Conn
	events chan live.Event
	sendCh chan audio.WireBlob
	state  atomic.Int32

	mu     sync.Mutex
	errVal error
	closed bool

	done     chan struct{} // closed by Close
	recvDone chan struct{} // closed when receiveLoop exits

	ctx    context.Context
	cancel context.CancelFunc
}

// handshake sends the BidiGenerateContent setup message and reads until the
// server acknowledges it.
func (s *session) handshake(ctx context.Context, model string, cfg live.SessionConfig) error {
	voice := cfg.Voice
	if voice == "" {
		voice = DefaultVoice
	}
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"AUDIO"},
				SpeechConfig: &speechConfig{
					VoiceConfig: voiceConfig{
						PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice},
					},
				},
			},
		},
	}
	if cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: cfg.Instructions}},
		}
	}
	if cfg.Transcribe {
		msg.Setup.InputAudioTranscription = &struct{}{}
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}

	if err := s.writeJSON(ctx, msg); err != nil {
		return err
	}

	for {
		_, data, err := s.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("await setupComplete: %w", err)
		}
		var reply serverMessage
		if err := json.Unmarshal(data, &reply); err != nil {
			continue // skip malformed frames
		}
		if reply.Error != nil {
			return fmt.Errorf("rejected: %s", describe(reply.Error))
		}
		if reply.SetupComplete != nil {
			return nil
		}
	}
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and dispatches them.
// It owns events: it closes the channel when it exits.
func (s *session) receiveLoop() {
	defer func() {
		s.state.Store(int32(live.StateClosed))
		s.cancel()
		close(s.events)
		close(s.recvDone)
	}()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// A local Close cancels the context; that is a clean shutdown.
			if s.ctx.Err() != nil {
				return
			}
			if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure {
				slog.Info("gemini: session closed by server")
				return
			}
			s.setErr(fmt.Errorf("%w: gemini: read: %w", live.ErrTransport, err))
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("gemini: skipping malformed server message", "err", err)
			continue
		}

		if !s.handleServerMessage(&msg) {
			return
		}
	}
}

// handleServerMessage converts msg into events. It returns false when the
// session context ended while delivering.
func (s *session) handleServerMessage(msg *serverMessage) bool {
	if msg.Error != nil {
		if !s.emit(live.Event{Err: fmt.Errorf("%w: gemini: %s", live.ErrServer, describe(msg.Error))}) {
			return false
		}
	}
	if msg.GoAway != nil {
		slog.Warn("gemini: server announced disconnect", "detail", string(*msg.GoAway))
	}
	if msg.ServerContent != nil {
		return s.handleServerContent(msg.ServerContent)
	}
	return true
}

func (s *session) handleServerContent(sc *serverContent) bool {
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData != nil && p.InlineData.Data != "" {
				blob := *p.InlineData
				if !s.emit(live.Event{Audio: &blob}) {
					return false
				}
			}
		}
	}

	// Audio carried in the same message precedes the interruption marker.
	if sc.Interrupted {
		if !s.emit(live.Event{Interrupted: true}) {
			return false
		}
	}

	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		if !s.emit(live.Event{Transcript: &live.Transcript{Role: live.RoleUser, Text: sc.InputTranscription.Text}}) {
			return false
		}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		if !s.emit(live.Event{Transcript: &live.Transcript{Role: live.RoleModel, Text: sc.OutputTranscription.Text}}) {
			return false
		}
	}

	if sc.TurnComplete {
		return s.emit(live.Event{TurnComplete: true})
	}
	return true
}

// emit delivers ev unless the session is shutting down.
func (s *session) emit(ev live.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// sendLoop drains the outbound queue one write at a time so that chunks reach
// the wire in Send order.
func (s *session) sendLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case blob := <-s.sendCh:
			msg := realtimeInputMessage{
				RealtimeInput: realtimeInput{MediaChunks: []audio.WireBlob{blob}},
			}
			wctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
			err := s.writeJSON(wctx, msg)
			cancel()
			if err != nil {
				if s.ctx.Err() != nil {
					return
				}
				s.setErr(fmt.Errorf("%w: gemini: write: %w", live.ErrTransport, err))
				s.conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

func describe(ge *geminiError) string {
	msg := "unknown error"
	if ge.Message != "" {
		msg = ge.Message
	}
	if ge.Status != "" {
		return fmt.Sprintf("%s (%s)", msg, ge.Status)
	}
	return msg
}

// ── live.Session methods ───────────────────────────────────────────────────────

// Send queues a PCM chunk for transmission.
func (s *session) Send(blob audio.WireBlob) error {
	s.mu.Lock()
	closed, errVal := s.closed, s.errVal
	s.mu.Unlock()
	if closed {
		return live.ErrClosed
	}
	if errVal != nil {
		return errVal
	}

	select {
	case s.sendCh <- blob:
		return nil
	case <-s.ctx.Done():
		if err := s.Err(); err != nil {
			return err
		}
		return live.ErrClosed
	}
}

// Events returns the inbound event stream.
func (s *session) Events() <-chan live.Event { return s.events }

// Err returns the first transport error that terminated the session.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// State returns the session's lifecycle state.
func (s *session) State() live.State { return live.State(s.state.Load()) }

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.recvDone
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.state.CompareAndSwap(int32(live.StateOpen), int32(live.StateClosing))
	s.cancel()    // unblocks receiveLoop, sendLoop and keepaliveLoop
	close(s.done) // signals keepaliveLoop via done channel
	if err := s.conn.Close(websocket.StatusNormalClosure, "session closed"); err != nil {
		slog.Debug("gemini: close handshake", "err", err)
	}
	<-s.recvDone
	s.state.Store(int32(live.StateClosed))
	return nil
}
