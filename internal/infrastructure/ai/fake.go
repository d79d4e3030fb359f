package ai

import (
	"context"
	"strings"
	"sync"
	"time"
)

// FakeProvider replays a canned response in chunks. It is used by tests
// and by the "fake" provider setting for offline runs.
type FakeProvider struct {
	Response  string
	ChunkSize int
	Delay     time.Duration
	Err       error

	mu    sync.Mutex
	calls int
}

// NewFakeProvider creates a fake that streams response in chunks of size n.
func NewFakeProvider(response string, n int) *FakeProvider {
	return &FakeProvider{Response: response, ChunkSize: n}
}

// Name returns "fake".
func (p *FakeProvider) Name() string {
	return "fake"
}

// Calls returns how many times GenerateStreaming ran.
func (p *FakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// GenerateStreaming streams Response, honoring ctx between chunks.
func (p *FakeProvider) GenerateStreaming(ctx context.Context, _ string, onDelta func(string)) (string, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	if p.Err != nil {
		return "", p.Err
	}

	size := p.ChunkSize
	if size <= 0 {
		size = len(p.Response)
	}

	var full strings.Builder
	for i := 0; i < len(p.Response); i += size {
		if p.Delay > 0 {
			t := time.NewTimer(p.Delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return full.String(), ctx.Err()
			case <-t.C:
			}
		} else if err := ctx.Err(); err != nil {
			return full.String(), err
		}

		end := min(i+size, len(p.Response))
		chunk := p.Response[i:end]
		full.WriteString(chunk)
		if onDelta != nil {
			onDelta(chunk)
		}
	}
	return full.String(), nil
}
