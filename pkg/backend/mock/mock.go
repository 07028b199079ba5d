// Package mock provides a test double for the backend.Client interface.
//
// Every operation records its calls, honors context cancellation, and returns
// the configured result or error. An optional Delay simulates round-trip time
// so tests can cancel requests mid-flight.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/susurrus-chat/susurrus/pkg/backend"
)

// Client is a mock implementation of backend.Client.
type Client struct {
	mu sync.Mutex

	// Delay, when positive, is waited (cancellably) before every operation
	// completes.
	Delay time.Duration

	// FetchWidgetConfigResult and friends are returned by the corresponding
	// operation; the Err fields take precedence when non-nil.
	FetchWidgetConfigResult backend.WidgetConfig
	FetchWidgetConfigErr    error
	VoiceInteractResult     backend.VoiceInteractResult
	VoiceInteractErr        error
	SynthesizeSpeechResult  backend.SpeechResult
	SynthesizeSpeechErr     error
	QueryResult             backend.QueryResult
	QueryErr                error
	SummarizeResult         backend.SummarizeResult
	SummarizeErr            error
	SendFeedbackErr         error

	// --- Call records ---

	FetchWidgetConfigCalls []string
	VoiceInteractCalls     []backend.VoiceInteractRequest
	SynthesizeSpeechCalls  []backend.SpeechRequest
	QueryCalls             []backend.QueryRequest
	SummarizeCalls         []backend.SummarizeRequest
	SendFeedbackCalls      []backend.Feedback
}

// wait blocks for Delay or until ctx is cancelled.
func (c *Client) wait(ctx context.Context) error {
	c.mu.Lock()
	d := c.Delay
	c.mu.Unlock()
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FetchWidgetConfig records the call and returns the configured result.
func (c *Client) FetchWidgetConfig(ctx context.Context, widgetID string) (backend.WidgetConfig, error) {
	c.mu.Lock()
	c.FetchWidgetConfigCalls = append(c.FetchWidgetConfigCalls, widgetID)
	c.mu.Unlock()
	if err := c.wait(ctx); err != nil {
		return backend.WidgetConfig{}, err
	}
	if c.FetchWidgetConfigErr != nil {
		return backend.WidgetConfig{}, c.FetchWidgetConfigErr
	}
	return c.FetchWidgetConfigResult, nil
}

// VoiceInteract records the call and returns the configured result.
func (c *Client) VoiceInteract(ctx context.Context, req backend.VoiceInteractRequest) (backend.VoiceInteractResult, error) {
	c.mu.Lock()
	c.VoiceInteractCalls = append(c.VoiceInteractCalls, req)
	c.mu.Unlock()
	if err := c.wait(ctx); err != nil {
		return backend.VoiceInteractResult{}, err
	}
	if c.VoiceInteractErr != nil {
		return backend.VoiceInteractResult{}, c.VoiceInteractErr
	}
	return c.VoiceInteractResult, nil
}

// SynthesizeSpeech records the call and returns the configured result.
func (c *Client) SynthesizeSpeech(ctx context.Context, req backend.SpeechRequest) (backend.SpeechResult, error) {
	c.mu.Lock()
	c.SynthesizeSpeechCalls = append(c.SynthesizeSpeechCalls, req)
	c.mu.Unlock()
	if err := c.wait(ctx); err != nil {
		return backend.SpeechResult{}, err
	}
	if c.SynthesizeSpeechErr != nil {
		return backend.SpeechResult{}, c.SynthesizeSpeechErr
	}
	return c.SynthesizeSpeechResult, nil
}

// Query records the call and returns the configured result.
func (c *Client) Query(ctx context.Context, req backend.QueryRequest) (backend.QueryResult, error) {
	c.mu.Lock()
	c.QueryCalls = append(c.QueryCalls, req)
	c.mu.Unlock()
	if err := c.wait(ctx); err != nil {
		return backend.QueryResult{}, err
	}
	if c.QueryErr != nil {
		return backend.QueryResult{}, c.QueryErr
	}
	return c.QueryResult, nil
}

// Summarize records the call and returns the configured result.
func (c *Client) Summarize(ctx context.Context, req backend.SummarizeRequest) (backend.SummarizeResult, error) {
	c.mu.Lock()
	c.SummarizeCalls = append(c.SummarizeCalls, req)
	c.mu.Unlock()
	if err := c.wait(ctx); err != nil {
		return backend.SummarizeResult{}, err
	}
	if c.SummarizeErr != nil {
		return backend.SummarizeResult{}, c.SummarizeErr
	}
	return c.SummarizeResult, nil
}

// SendFeedback records the call and returns SendFeedbackErr.
func (c *Client) SendFeedback(ctx context.Context, fb backend.Feedback) error {
	c.mu.Lock()
	c.SendFeedbackCalls = append(c.SendFeedbackCalls, fb)
	c.mu.Unlock()
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.SendFeedbackErr
}

// VoiceInteractCallCount returns the number of VoiceInteract calls so far.
func (c *Client) VoiceInteractCallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.VoiceInteractCalls)
}

// Ensure Client implements backend.Client at compile time.
var _ backend.Client = (*Client)(nil)
