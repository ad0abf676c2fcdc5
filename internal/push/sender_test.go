package push

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emberlink/emberlink/internal/infrastructure/config"
)

// scriptedTransport returns canned outcomes in sequence.
type scriptedTransport struct {
	outcomes []Outcome
	calls    int
}

func (t *scriptedTransport) Send(context.Context, string, Payload) (Outcome, error) {
	idx := t.calls
	t.calls++
	if idx >= len(t.outcomes) {
		idx = len(t.outcomes) - 1
	}
	outcome := t.outcomes[idx]
	if outcome == OutcomeDelivered {
		return outcome, nil
	}
	return outcome, errors.New("scripted failure")
}

func newTestSender(transport Transport, maxAttempts int) (*Sender, *[]time.Duration) {
	s := NewSender(transport, config.PushConfig{
		MaxAttempts:      maxAttempts,
		InitialBackoffMS: 100,
		MaxBackoffMS:     1000,
	})
	var slept []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return s, &slept
}

func TestDeliverFirstAttemptSuccess(t *testing.T) {
	transport := &scriptedTransport{outcomes: []Outcome{OutcomeDelivered}}
	sender, slept := newTestSender(transport, 5)

	result := sender.Deliver(context.Background(), "token", Payload{EventID: "e1"})
	if !result.Delivered() || result.Attempts != 1 {
		t.Errorf("result = %+v, want delivered on attempt 1", result)
	}
	if len(*slept) != 0 {
		t.Errorf("slept %d times, want 0", len(*slept))
	}
}

func TestDeliverRetriesTransientThenSucceeds(t *testing.T) {
	transport := &scriptedTransport{outcomes: []Outcome{
		OutcomeTransient, OutcomeTransient, OutcomeDelivered,
	}}
	sender, slept := newTestSender(transport, 5)

	result := sender.Deliver(context.Background(), "token", Payload{EventID: "e1"})
	if !result.Delivered() || result.Attempts != 3 {
		t.Errorf("result = %+v, want delivered on attempt 3", result)
	}
	if len(*slept) != 2 {
		t.Fatalf("slept %d times, want 2", len(*slept))
	}

	// Jittered exponential backoff: each delay within ±25% of
	// 100ms * 2^(n-1), and the second nominally double the first.
	for i, base := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond} {
		min := time.Duration(float64(base) * (1 - jitterFraction))
		max := time.Duration(float64(base) * (1 + jitterFraction))
		if (*slept)[i] < min || (*slept)[i] > max {
			t.Errorf("backoff[%d] = %v, want within [%v, %v]", i, (*slept)[i], min, max)
		}
	}
}

func TestDeliverExhaustsBudget(t *testing.T) {
	transport := &scriptedTransport{outcomes: []Outcome{OutcomeTransient}}
	sender, slept := newTestSender(transport, 3)

	result := sender.Deliver(context.Background(), "token", Payload{EventID: "e1"})
	if result.Outcome != OutcomeTransient || result.Attempts != 3 {
		t.Errorf("result = %+v, want transient after 3 attempts", result)
	}
	if result.Err == nil {
		t.Error("exhausted delivery should carry the last error")
	}
	if transport.calls != 3 {
		t.Errorf("transport called %d times, want 3", transport.calls)
	}
	if len(*slept) != 2 {
		t.Errorf("slept %d times, want 2 (no sleep after final attempt)", len(*slept))
	}
}

func TestDeliverPermanentFailureStopsImmediately(t *testing.T) {
	transport := &scriptedTransport{outcomes: []Outcome{OutcomePermanent}}
	sender, _ := newTestSender(transport, 5)

	result := sender.Deliver(context.Background(), "token", Payload{EventID: "e1"})
	if result.Outcome != OutcomePermanent || result.Attempts != 1 {
		t.Errorf("result = %+v, want permanent on attempt 1", result)
	}
	if transport.calls != 1 {
		t.Errorf("transport called %d times, want 1 (no retry on permanent)", transport.calls)
	}
}

func TestDeliverRespectsCancellation(t *testing.T) {
	transport := &scriptedTransport{outcomes: []Outcome{OutcomeTransient}}
	sender := NewSender(transport, config.PushConfig{
		MaxAttempts:      5,
		InitialBackoffMS: 100,
		MaxBackoffMS:     1000,
	})
	sender.sleep = func(ctx context.Context, _ time.Duration) error {
		return context.Canceled
	}

	result := sender.Deliver(context.Background(), "token", Payload{EventID: "e1"})
	if result.Outcome != OutcomeTransient {
		t.Errorf("outcome = %s, want transient", result.Outcome)
	}
	if !errors.Is(result.Err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", result.Err)
	}
	if transport.calls != 1 {
		t.Errorf("transport called %d times, want 1", transport.calls)
	}
}

func TestBackoffCapped(t *testing.T) {
	sender := NewSender(&scriptedTransport{outcomes: []Outcome{OutcomeTransient}}, config.PushConfig{
		MaxAttempts:      10,
		InitialBackoffMS: 500,
		MaxBackoffMS:     2000,
	})

	for attempt := 1; attempt <= 10; attempt++ {
		backoff := sender.backoffFor(attempt)
		ceiling := time.Duration(float64(2000*time.Millisecond) * (1 + jitterFraction))
		if backoff > ceiling {
			t.Errorf("backoffFor(%d) = %v, exceeds jittered cap %v", attempt, backoff, ceiling)
		}
	}
}
