package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// RetryConfig holds transport-level retry configuration. This budget is
// distinct from the loop-level attempt budget: exhausting these retries
// within one model call counts as that attempt failing.
type RetryConfig struct {
	MaxRetries        int           // Maximum number of retries (default: 3)
	InitialBackoff    time.Duration // Initial backoff duration (default: 1s)
	MaxBackoff        time.Duration // Maximum backoff duration (default: 30s)
	BackoffMultiplier float64       // Backoff multiplier (default: 2.0)
	Timeout           time.Duration // Per-request timeout (default: 120s)

	// Circuit breaker settings
	CircuitBreakerEnabled bool
	FailureThreshold      int           // Failures before opening circuit (default: 5)
	SuccessThreshold      int           // Successes in half-open before closing (default: 2)
	OpenTimeout           time.Duration // How long to keep circuit open (default: 30s)

	// RequestsPerMinute caps the call rate across all sessions sharing the
	// gateway (0 = unlimited).
	RequestsPerMinute int

	// MaxConcurrentCalls limits concurrent provider calls (0 = unlimited).
	MaxConcurrentCalls int
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:            3,
		InitialBackoff:        1 * time.Second,
		MaxBackoff:            30 * time.Second,
		BackoffMultiplier:     2.0,
		Timeout:               120 * time.Second,
		CircuitBreakerEnabled: true,
		FailureThreshold:      5,
		SuccessThreshold:      2,
		OpenTimeout:           30 * time.Second,
		RequestsPerMinute:     60,
		MaxConcurrentCalls:    3,
	}
}

// Gateway wraps a Client with retry, backoff, rate limiting and circuit
// breaking. One Gateway per backend is shared process-wide; it is safe for
// concurrent use.
type Gateway struct {
	client  Client
	retry   RetryConfig
	breaker *CircuitBreaker
	limiter *rate.Limiter
	sem     *semaphore.Weighted
	log     *slog.Logger
}

// NewGateway builds a Gateway around a backend client.
func NewGateway(client Client, cfg RetryConfig, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}

	var breaker *CircuitBreaker
	if cfg.CircuitBreakerEnabled {
		breaker = NewCircuitBreaker(cfg.FailureThreshold, cfg.SuccessThreshold, cfg.OpenTimeout)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute)
	}

	var sem *semaphore.Weighted
	if cfg.MaxConcurrentCalls > 0 {
		sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentCalls))
	}

	return &Gateway{
		client:  client,
		retry:   cfg,
		breaker: breaker,
		limiter: limiter,
		sem:     sem,
		log:     log.With("backend", client.Name()),
	}
}

// Generate runs one model call under the transport retry policy. Transient
// failures are retried with exponential backoff up to MaxRetries; fatal
// failures return immediately. Every outcome is logged before control
// returns to the caller.
func (g *Gateway) Generate(ctx context.Context, req Request) (*Response, error) {
	if g.sem != nil {
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("failed to acquire call slot for %s: %w", req.Role, err)
		}
		defer g.sem.Release(1)
	}

	var lastErr error
	backoff := g.retry.InitialBackoff

	for attempt := 0; attempt <= g.retry.MaxRetries; attempt++ {
		if g.breaker != nil {
			if err := g.breaker.Allow(); err != nil {
				g.log.Warn("call blocked by circuit breaker",
					"role", req.Role, "model", req.Model, "state", g.breaker.GetState())
				return nil, &TransientError{Err: err}
			}
		}

		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("%s call canceled waiting for rate limiter: %w", req.Role, err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, g.retry.Timeout)
		start := time.Now()
		resp, err := g.client.Generate(attemptCtx, req)
		cancel()
		duration := time.Since(start)

		if err == nil {
			if g.breaker != nil {
				g.breaker.RecordSuccess()
			}
			g.log.Info("provider call succeeded",
				"role", req.Role, "model", req.Model,
				"input_tokens", resp.Usage.InputTokens,
				"output_tokens", resp.Usage.OutputTokens,
				"duration", duration, "retries", attempt)
			return resp, nil
		}

		err = Classify(err)
		lastErr = err

		if g.breaker != nil && IsTransient(err) {
			g.breaker.RecordFailure()
		}

		if IsFatal(err) {
			g.log.Error("provider call failed with non-retriable error",
				"role", req.Role, "model", req.Model, "duration", duration, "error", err)
			return nil, err
		}

		if attempt == g.retry.MaxRetries {
			break
		}

		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s call canceled: %w", req.Role, ctx.Err())
		}

		g.log.Warn("provider call failed, retrying",
			"role", req.Role, "model", req.Model,
			"attempt", attempt+1, "max_attempts", g.retry.MaxRetries+1,
			"backoff", backoff, "error", err)

		select {
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * g.retry.BackoffMultiplier)
			if backoff > g.retry.MaxBackoff {
				backoff = g.retry.MaxBackoff
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("%s call canceled during backoff: %w", req.Role, ctx.Err())
		}
	}

	g.log.Error("provider call exhausted retries",
		"role", req.Role, "model", req.Model, "attempts", g.retry.MaxRetries+1, "error", lastErr)
	return nil, fmt.Errorf("%s call failed after %d attempts: %w", req.Role, g.retry.MaxRetries+1, lastErr)
}

// Backend exposes the wrapped client for capability checks.
func (g *Gateway) Backend() Client { return g.client }
