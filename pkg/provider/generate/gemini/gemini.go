// Package gemini implements generate.Provider on the Google Gen AI SDK
// (generateContent on the Gemini Developer API).
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/genai"

	"github.com/MrWong99/neurolink/pkg/provider/generate"
)

// Compile-time interface assertion.
var _ generate.Provider = (*Provider)(nil)

// DefaultModel is the model used for one-shot classification and document Q&A.
const DefaultModel = "gemini-3-flash-preview"

// Option is a functional option for configuring a Provider.
type Option func(*config)

type config struct {
	model   string
	baseURL string
	timeout time.Duration
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL overrides the API endpoint. Primarily used in tests.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Provider implements generate.Provider with genai.
type Provider struct {
	client *genai.Client
	model  string
}

// New creates a Provider authenticated with apiKey.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: apiKey must not be empty")
	}
	cfg := &config{model: DefaultModel}
	for _, o := range opts {
		o(cfg)
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.baseURL}
	}
	if cfg.timeout > 0 {
		cc.HTTPClient = &http.Client{Timeout: cfg.timeout}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Provider{client: client, model: cfg.model}, nil
}

// Generate implements generate.Provider.
func (p *Provider) Generate(ctx context.Context, req generate.Request) (string, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	var parts []*genai.Part
	if len(req.Inline.Data) > 0 {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{
			MIMEType: req.Inline.MIMEType,
			Data:     req.Inline.Data,
		}})
	}
	if req.Prompt != "" {
		parts = append(parts, &genai.Part{Text: req.Prompt})
	}
	contents := []*genai.Content{{Role: "user", Parts: parts}}

	var gcfg *genai.GenerateContentConfig
	if req.SystemInstruction != "" {
		gcfg = &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: req.SystemInstruction}}},
		}
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, gcfg)
	if err != nil {
		return "", fmt.Errorf("%w: gemini: generate content: %w", generate.ErrService, err)
	}
	return responseText(resp), nil
}

// responseText joins the text parts of the first candidate, skipping thought
// parts.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	c := resp.Candidates[0]
	if c == nil || c.Content == nil {
		return ""
	}
	var texts []string
	for _, part := range c.Content.Parts {
		if part == nil || part.Thought || part.Text == "" {
			continue
		}
		texts = append(texts, part.Text)
	}
	return generate.JoinText(texts)
}
