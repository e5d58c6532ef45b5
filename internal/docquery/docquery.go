// Package docquery answers questions about a PDF document with a single
// one-shot request per question.
//
// [Gateway.Ask] reports the explicit outcome. [Gateway.Query] is the
// user-facing boundary: it never fails and maps every failure to a fixed
// reply. Requests are never retried.
package docquery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/MrWong99/neurolink/internal/observe"
	"github.com/MrWong99/neurolink/internal/resilience"
	"github.com/MrWong99/neurolink/pkg/provider/generate"
)

// Fixed replies returned by [Gateway.Query].
const (
	// EmptyAnswerReply is returned when the service produced no text.
	EmptyAnswerReply = "I'm sorry, I couldn't process that request."

	// FailureReply is returned on any transport or service failure.
	FailureReply = "Error communicating with the neuro-link."

	// NoDocumentReply is returned when a question is asked before a document
	// was synced. No request is sent.
	NoDocumentReply = "Analyzing your query against your cognitive profile... " +
		"(Tip: Sync a PDF to use the Neuro-Link Communicator for deep document insights!)"
)

// DefaultPersona is the system instruction sent with every question.
const DefaultPersona = "You are the Neuro-Link Communicator. You have access to a PDF document provided by " +
	"the user's AI Twin. Answer all questions based strictly on the document's content, " +
	"maintaining a high-intelligence, supportive persona."

// DefaultMaxBytes caps the size of a document read by [LoadDocument].
const DefaultMaxBytes int64 = 20 << 20

// MIMEType is the media type of every document sent.
const MIMEType = "application/pdf"

var (
	// ErrNotPDF is returned by [LoadDocument] for files that are not PDFs.
	ErrNotPDF = errors.New("docquery: not a PDF document")

	// ErrTooLarge is returned by [LoadDocument] for files above the size cap.
	ErrTooLarge = errors.New("docquery: document too large")

	// ErrNoDocument is returned by [Gateway.Ask] when doc is nil.
	ErrNoDocument = errors.New("docquery: no document")

	// ErrEmptyAnswer is returned by [Gateway.Ask] when the service answered
	// without text.
	ErrEmptyAnswer = errors.New("docquery: empty answer")
)

var pdfMagic = []byte("%PDF-")

// Document is a PDF held in memory.
type Document struct {
	// Name is the base name of the source file.
	Name string

	// Data is the raw PDF content.
	Data []byte
}

// NewDocument validates data as a PDF and wraps it.
func NewDocument(name string, data []byte) (*Document, error) {
	if !bytes.HasPrefix(data, pdfMagic) {
		return nil, fmt.Errorf("%w: %s", ErrNotPDF, name)
	}
	return &Document{Name: name, Data: data}, nil
}

// LoadDocument reads the PDF at path. Files larger than maxBytes are
// rejected with [ErrTooLarge]; maxBytes <= 0 means [DefaultMaxBytes].
func LoadDocument(path string, maxBytes int64) (*Document, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("docquery: open document: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("docquery: read document: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, path, maxBytes)
	}
	return NewDocument(filepath.Base(path), data)
}

// Option configures a [Gateway].
type Option func(*Gateway)

// WithPersona overrides [DefaultPersona].
func WithPersona(persona string) Option {
	return func(g *Gateway) {
		if persona != "" {
			g.persona = persona
		}
	}
}

// WithModel selects the model of the one-shot provider.
func WithModel(model string) Option {
	return func(g *Gateway) { g.model = model }
}

// WithBreaker guards requests with cb. An open breaker fails fast.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(g *Gateway) { g.breaker = cb }
}

// WithMetrics records request latency to m, labelled with providerName.
func WithMetrics(m *observe.Metrics, providerName string) Option {
	return func(g *Gateway) {
		g.metrics = m
		g.providerName = providerName
	}
}

// Gateway is the document query gateway. It is stateless and safe for
// concurrent use.
type Gateway struct {
	gen          generate.Provider
	persona      string
	model        string
	breaker      *resilience.CircuitBreaker
	metrics      *observe.Metrics
	providerName string
}

// New creates a Gateway answering with gen.
func New(gen generate.Provider, opts ...Option) *Gateway {
	g := &Gateway{gen: gen, persona: DefaultPersona}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Ask sends one request with doc inline and question as text, and returns
// the answer verbatim.
func (g *Gateway) Ask(ctx context.Context, doc *Document, question string) (string, error) {
	if doc == nil {
		return "", ErrNoDocument
	}

	ctx, span := observe.StartSpan(ctx, "docquery.ask")

	req := generate.Request{
		Model:             g.model,
		Inline:            generate.Blob{MIMEType: MIMEType, Data: doc.Data},
		Prompt:            question,
		SystemInstruction: g.persona,
	}
	call := func() (string, error) { return g.gen.Generate(ctx, req) }

	start := time.Now()
	var (
		text string
		err  error
	)
	if g.breaker != nil {
		text, err = resilience.Call(g.breaker, call)
	} else {
		text, err = call()
	}
	if g.metrics != nil && !errors.Is(err, resilience.ErrCircuitOpen) {
		g.metrics.RecordGenerate(ctx, g.providerName, "document", time.Since(start).Seconds(), err)
	}
	observe.EndSpan(span, err)
	if err != nil {
		return "", fmt.Errorf("docquery: ask: %w", err)
	}
	if text == "" {
		return "", ErrEmptyAnswer
	}
	return text, nil
}

// Query is [Gateway.Ask] with every failure mapped to a fixed reply:
// [NoDocumentReply] without a document, [EmptyAnswerReply] for an empty
// answer and [FailureReply] for anything else.
func (g *Gateway) Query(ctx context.Context, doc *Document, question string) string {
	answer, err := g.Ask(ctx, doc, question)
	switch {
	case err == nil:
		return answer
	case errors.Is(err, ErrNoDocument):
		return NoDocumentReply
	case errors.Is(err, ErrEmptyAnswer):
		return EmptyAnswerReply
	default:
		observe.Logger(ctx).Warn("document query failed", "doc", doc.Name, "err", err)
		return FailureReply
	}
}
