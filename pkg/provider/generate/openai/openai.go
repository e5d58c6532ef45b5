// Package openai implements generate.Provider on the OpenAI chat completions
// API, sending the attachment as an image or file content part.
package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/neurolink/pkg/provider/generate"
)

// Compile-time interface assertion.
var _ generate.Provider = (*Provider)(nil)

// Provider implements generate.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI generate Provider. Retries are disabled: a
// one-shot request is sent exactly once.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model}, nil
}

// Generate implements generate.Provider.
func (p *Provider) Generate(ctx context.Context, req generate.Request) (string, error) {
	params := p.buildParams(req)
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: openai: chat completion: %w", generate.ErrService, err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *Provider) buildParams(req generate.Request) oai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = p.model
	}

	var messages []oai.ChatCompletionMessageParamUnion
	if req.SystemInstruction != "" {
		messages = append(messages, oai.SystemMessage(req.SystemInstruction))
	}

	var parts []oai.ChatCompletionContentPartUnionParam
	if len(req.Inline.Data) > 0 {
		parts = append(parts, inlinePart(req.Inline))
	}
	if req.Prompt != "" {
		parts = append(parts, oai.TextContentPart(req.Prompt))
	}
	messages = append(messages, oai.UserMessage(parts))

	return oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}
}

// inlinePart maps an attachment to the content part type OpenAI expects:
// images travel as data URIs, everything else as a file part.
func inlinePart(b generate.Blob) oai.ChatCompletionContentPartUnionParam {
	dataURI := "data:" + b.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(b.Data)
	if strings.HasPrefix(b.MIMEType, "image/") {
		return oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{
			URL:    dataURI,
			Detail: "low",
		})
	}
	return oai.FileContentPart(oai.ChatCompletionContentPartFileFileParam{
		FileData: param.NewOpt(dataURI),
		Filename: param.NewOpt("document" + extension(b.MIMEType)),
	})
}

func extension(mimeType string) string {
	switch mimeType {
	case "application/pdf":
		return ".pdf"
	default:
		return ""
	}
}
