// Package mock provides a test double for generate.Provider.
//
// Responses are consumed in order; when they run out the last one repeats.
// A Block channel lets tests hold a request in flight to exercise overlapping
// calls.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/neurolink/pkg/provider/generate"
)

// Response is one scripted reply.
type Response struct {
	Text string
	Err  error

	// Block, if non-nil, delays the reply until it is closed or receives a
	// value, or until ctx is done.
	Block <-chan struct{}
}

// Provider is a mock implementation of generate.Provider.
type Provider struct {
	mu sync.Mutex

	// Responses are returned in order. The last one is repeated.
	Responses []Response

	// Requests records every call in order.
	Requests []generate.Request

	next int
}

// Ensure Provider implements generate.Provider at compile time.
var _ generate.Provider = (*Provider)(nil)

// Generate records req and returns the next scripted response.
func (p *Provider) Generate(ctx context.Context, req generate.Request) (string, error) {
	p.mu.Lock()
	p.Requests = append(p.Requests, req)
	var resp Response
	if len(p.Responses) > 0 {
		resp = p.Responses[min(p.next, len(p.Responses)-1)]
		p.next++
	}
	p.mu.Unlock()

	if resp.Block != nil {
		select {
		case <-resp.Block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return resp.Text, resp.Err
}

// Calls returns the number of Generate calls so far.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}

// LastRequest returns the most recent request, or the zero Request.
func (p *Provider) LastRequest() generate.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Requests) == 0 {
		return generate.Request{}
	}
	return p.Requests[len(p.Requests)-1]
}
