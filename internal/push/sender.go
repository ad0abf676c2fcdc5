package push

import (
	"context"
	"math/rand"
	"time"

	"github.com/emberlink/emberlink/internal/infrastructure/config"
)

// Logger is the minimal logging interface used by the sender.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// jitterFraction spreads retry timing by ±25% so a burst of failed
// deliveries does not retry in lockstep against a recovering gateway.
const jitterFraction = 0.25

// Sender wraps a Transport with bounded retry for transient failures.
type Sender struct {
	transport      Transport
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         Logger

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSender creates a sender using the configured retry budget.
func NewSender(transport Transport, cfg config.PushConfig) *Sender {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Sender{
		transport:      transport,
		maxAttempts:    maxAttempts,
		initialBackoff: time.Duration(cfg.InitialBackoffMS) * time.Millisecond,
		maxBackoff:     time.Duration(cfg.MaxBackoffMS) * time.Millisecond,
		logger:         noopLogger{},
		sleep:          sleepCtx,
	}
}

// SetLogger replaces the sender's logger.
func (s *Sender) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Deliver sends the payload, retrying transient failures with
// exponential backoff and jitter until delivered, permanently failed,
// the attempt budget is spent, or ctx is cancelled. The returned
// Result's Outcome is OutcomeTransient only when the budget ran out.
func (s *Sender) Deliver(ctx context.Context, token string, payload Payload) Result {
	var lastErr error

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		outcome, err := s.transport.Send(ctx, token, payload)
		switch outcome {
		case OutcomeDelivered:
			return Result{Outcome: OutcomeDelivered, Attempts: attempt}
		case OutcomePermanent:
			return Result{Outcome: OutcomePermanent, Attempts: attempt, Err: err}
		}

		lastErr = err
		if attempt == s.maxAttempts {
			break
		}

		backoff := s.backoffFor(attempt)
		s.logger.Debug("push delivery retry",
			"event_id", payload.EventID,
			"attempt", attempt,
			"backoff", backoff)
		if err := s.sleep(ctx, backoff); err != nil {
			return Result{Outcome: OutcomeTransient, Attempts: attempt, Err: err}
		}
	}

	return Result{Outcome: OutcomeTransient, Attempts: s.maxAttempts, Err: lastErr}
}

// backoffFor computes the jittered delay after the given attempt:
// initial * 2^(attempt-1), capped, then ±25%.
func (s *Sender) backoffFor(attempt int) time.Duration {
	backoff := s.initialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= s.maxBackoff {
			backoff = s.maxBackoff
			break
		}
	}
	if backoff > s.maxBackoff {
		backoff = s.maxBackoff
	}

	jitter := 1 + jitterFraction*(2*rand.Float64()-1) //nolint:gosec // timing jitter, not security
	return time.Duration(float64(backoff) * jitter)
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
