// Package generate defines the Provider interface for one-shot multimodal
// generation: a single request carrying one inline attachment (a camera
// snapshot, a PDF) plus a text prompt, answered with text.
//
// Requests are never retried. Callers decide what a failure means; the focus
// probe treats it as "focused", the document gateway as a fixed apology.
package generate

import (
	"context"
	"errors"
	"strings"
)

// ErrService wraps every failure of a one-shot request: transport errors,
// non-success status codes, and responses without usable text.
var ErrService = errors.New("generate: service error")

// Blob is inline binary content sent with a request.
type Blob struct {
	MIMEType string
	Data     []byte
}

// Request is a single one-shot generation request.
type Request struct {
	// Model overrides the provider's default model when non-empty.
	Model string

	// Inline is the attachment, e.g. image/jpeg or application/pdf. A nil
	// Data slice sends a text-only request.
	Inline Blob

	// Prompt is the user's text.
	Prompt string

	// SystemInstruction sets the persona for this request.
	SystemInstruction string
}

// Provider answers one-shot requests.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Generate sends req once and returns the response text. The text may be
	// empty when the service produced no candidates. Errors wrap [ErrService].
	Generate(ctx context.Context, req Request) (string, error)
}

// JoinText concatenates text parts the way chat UIs render them.
func JoinText(parts []string) string {
	return strings.Join(parts, "")
}
