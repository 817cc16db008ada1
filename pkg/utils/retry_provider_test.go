package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/loomgate/loomgate/pkg/providers"
)

type flakyProvider struct {
	failures int
	calls    int
}

func (p *flakyProvider) Name() string        { return "flaky" }
func (p *flakyProvider) ID() string          { return "flaky" }
func (p *flakyProvider) SupportsTools() bool { return true }

func (p *flakyProvider) Complete(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition) (*providers.CompletionResponse, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, errors.New("API request failed:\n  Status: 503")
	}
	return &providers.CompletionResponse{Text: "ok"}, nil
}

func (p *flakyProvider) Stream(ctx context.Context, messages []providers.Message) (<-chan providers.StreamEvent, error) {
	return nil, errors.New("not implemented")
}

func TestRetryingProvider_RetriesServerErrors(t *testing.T) {
	inner := &flakyProvider{failures: 2}
	p := WithRetry(inner, RetryPolicy{
		AttemptTimeouts: []time.Duration{time.Second, time.Second, time.Second},
		Backoffs:        []time.Duration{time.Millisecond, time.Millisecond},
		Sleep:           func(ctx context.Context, d time.Duration) error { return nil },
	})

	resp, err := p.Complete(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if resp.Text != "ok" {
		t.Fatalf("Complete() text = %q", resp.Text)
	}
	if inner.calls != 3 {
		t.Fatalf("inner calls = %d, want 3", inner.calls)
	}
}

func TestRetryingProvider_NonRetryableFailsFast(t *testing.T) {
	inner := &flakyProvider{failures: 10}
	p := WithRetry(inner, RetryPolicy{
		AttemptTimeouts: []time.Duration{time.Second, time.Second},
		Sleep:           func(ctx context.Context, d time.Duration) error { return nil },
	})

	// Swap the failure into a 400, which ClassifyRetryDecision rejects.
	inner401 := &staticErrProvider{err: errors.New("API request failed:\n  Status: 400")}
	p = WithRetry(inner401, p.policy)
	_, err := p.Complete(context.Background(), nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if inner401.calls != 1 {
		t.Fatalf("calls = %d, want 1 (no retry on 400)", inner401.calls)
	}
}

type staticErrProvider struct {
	err   error
	calls int
}

func (p *staticErrProvider) Name() string        { return "static" }
func (p *staticErrProvider) ID() string          { return "static" }
func (p *staticErrProvider) SupportsTools() bool { return false }

func (p *staticErrProvider) Complete(ctx context.Context, messages []providers.Message, tools []providers.ToolDefinition) (*providers.CompletionResponse, error) {
	p.calls++
	return nil, p.err
}

func (p *staticErrProvider) Stream(ctx context.Context, messages []providers.Message) (<-chan providers.StreamEvent, error) {
	return nil, p.err
}

func TestRetryingProvider_PreservesCapabilitySurface(t *testing.T) {
	inner := &flakyProvider{}
	p := WithRetry(inner, DefaultLLMRetryPolicy())
	if p.ID() != "flaky" || !p.SupportsTools() {
		t.Fatal("decorator must delegate the capability surface")
	}
}
