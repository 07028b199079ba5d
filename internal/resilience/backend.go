package resilience

import (
	"context"
	"errors"

	"github.com/susurrus-chat/susurrus/pkg/backend"
)

// notBackendFault reports whether err should count against the backend's
// breaker. Cancellation is user-initiated and says nothing about backend
// health.
func notBackendFault(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// GuardedClient wraps a [backend.Client] with one circuit breaker per
// operation class, so a voice pipeline melting down does not also take the
// text path offline. When a breaker is open, operations fail fast with
// [ErrCircuitOpen] instead of piling up against a dead backend.
type GuardedClient struct {
	inner backend.Client

	voice     *CircuitBreaker
	speech    *CircuitBreaker
	query     *CircuitBreaker
	summarize *CircuitBreaker
	config    *CircuitBreaker
	feedback  *CircuitBreaker
}

// NewGuardedClient wraps inner with per-operation breakers tuned from cfg.
// The cfg.Name is used as a prefix for the per-operation breaker names, and
// cfg.IsFailure is overridden so cancellations never trip a breaker.
func NewGuardedClient(inner backend.Client, cfg CircuitBreakerConfig) *GuardedClient {
	mk := func(op string) *CircuitBreaker {
		c := cfg
		c.Name = cfg.Name + "/" + op
		c.IsFailure = notBackendFault
		return NewCircuitBreaker(c)
	}
	return &GuardedClient{
		inner:     inner,
		voice:     mk("voice-interact"),
		speech:    mk("speech"),
		query:     mk("query"),
		summarize: mk("summarize"),
		config:    mk("config"),
		feedback:  mk("feedback"),
	}
}

// FetchWidgetConfig implements backend.Client.
func (g *GuardedClient) FetchWidgetConfig(ctx context.Context, widgetID string) (backend.WidgetConfig, error) {
	var res backend.WidgetConfig
	err := g.config.Execute(func() error {
		var err error
		res, err = g.inner.FetchWidgetConfig(ctx, widgetID)
		return err
	})
	return res, err
}

// VoiceInteract implements backend.Client.
func (g *GuardedClient) VoiceInteract(ctx context.Context, req backend.VoiceInteractRequest) (backend.VoiceInteractResult, error) {
	var res backend.VoiceInteractResult
	err := g.voice.Execute(func() error {
		var err error
		res, err = g.inner.VoiceInteract(ctx, req)
		return err
	})
	return res, err
}

// SynthesizeSpeech implements backend.Client.
func (g *GuardedClient) SynthesizeSpeech(ctx context.Context, req backend.SpeechRequest) (backend.SpeechResult, error) {
	var res backend.SpeechResult
	err := g.speech.Execute(func() error {
		var err error
		res, err = g.inner.SynthesizeSpeech(ctx, req)
		return err
	})
	return res, err
}

// Query implements backend.Client.
func (g *GuardedClient) Query(ctx context.Context, req backend.QueryRequest) (backend.QueryResult, error) {
	var res backend.QueryResult
	err := g.query.Execute(func() error {
		var err error
		res, err = g.inner.Query(ctx, req)
		return err
	})
	return res, err
}

// Summarize implements backend.Client.
func (g *GuardedClient) Summarize(ctx context.Context, req backend.SummarizeRequest) (backend.SummarizeResult, error) {
	var res backend.SummarizeResult
	err := g.summarize.Execute(func() error {
		var err error
		res, err = g.inner.Summarize(ctx, req)
		return err
	})
	return res, err
}

// SendFeedback implements backend.Client.
func (g *GuardedClient) SendFeedback(ctx context.Context, fb backend.Feedback) error {
	return g.feedback.Execute(func() error {
		return g.inner.SendFeedback(ctx, fb)
	})
}

// Ensure GuardedClient implements backend.Client at compile time.
var _ backend.Client = (*GuardedClient)(nil)
