package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/neurolink/pkg/provider/generate"
)

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Error("expected error for empty api key")
	}
	if _, err := New("key", ""); err == nil {
		t.Error("expected error for empty model")
	}
}

// TestBuildParams_Image checks that images become data-URI image parts.
func TestBuildParams_Image(t *testing.T) {
	t.Parallel()

	p, err := New("key", "gpt-4o-mini")
	if err != nil {
		t.Fatal(err)
	}
	params := p.buildParams(generate.Request{
		Inline:            generate.Blob{MIMEType: "image/jpeg", Data: []byte{1, 2, 3}},
		Prompt:            "focused?",
		SystemInstruction: "persona",
	})
	if len(params.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].OfSystem == nil {
		t.Fatal("expected first message to be a system message")
	}
	user := params.Messages[1].OfUser
	if user == nil {
		t.Fatal("expected second message to be a user message")
	}
	parts := user.Content.OfArrayOfContentParts
	if len(parts) != 2 {
		t.Fatalf("expected 2 content parts, got %d", len(parts))
	}
	if parts[0].OfImageURL == nil {
		t.Fatal("expected image part first")
	}
	if got, want := parts[0].OfImageURL.ImageURL.URL, "data:image/jpeg;base64,AQID"; got != want {
		t.Errorf("image URL = %q, want %q", got, want)
	}
	if parts[1].OfText == nil || parts[1].OfText.Text != "focused?" {
		t.Errorf("expected text part with prompt, got %+v", parts[1])
	}
}

// TestBuildParams_PDF checks that non-image attachments become file parts.
func TestBuildParams_PDF(t *testing.T) {
	t.Parallel()

	p, err := New("key", "gpt-4o-mini")
	if err != nil {
		t.Fatal(err)
	}
	params := p.buildParams(generate.Request{
		Inline: generate.Blob{MIMEType: "application/pdf", Data: []byte("%PDF-1.4")},
		Prompt: "summarise",
	})
	parts := params.Messages[0].OfUser.Content.OfArrayOfContentParts
	if parts[0].OfFile == nil {
		t.Fatal("expected file part")
	}
	if got := parts[0].OfFile.File.Filename.Value; got != "document.pdf" {
		t.Errorf("filename = %q, want document.pdf", got)
	}
}

func TestGenerate_RoundTrip(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		_ = json.Unmarshal(body, &req)
		if req["model"] != "gpt-4o-mini" {
			t.Errorf("model = %v", req["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":0,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"DISTRACTED"}}]}`)
	}))
	defer srv.Close()

	p, err := New("key", "gpt-4o-mini", WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatal(err)
	}
	got, err := p.Generate(context.Background(), generate.Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "DISTRACTED" {
		t.Errorf("text = %q, want DISTRACTED", got)
	}
	if calls.Load() != 1 {
		t.Errorf("server called %d times, want 1", calls.Load())
	}
}

func TestGenerate_NoRetryOnError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	}))
	defer srv.Close()

	p, err := New("key", "gpt-4o-mini", WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Generate(context.Background(), generate.Request{Prompt: "hi"})
	if !errors.Is(err, generate.ErrService) {
		t.Fatalf("expected ErrService, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("server called %d times, want exactly 1 (no retry)", calls.Load())
	}
}
