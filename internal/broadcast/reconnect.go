package broadcast

import (
	"context"
	"errors"
	"time"
)

// ErrReconnectExhausted is returned when a session gave up reconnecting
// after the post-cooldown attempt budget was spent.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// ReconnectPolicy bounds a subscription session's reconnect behaviour so
// that flapping clients do not storm the broadcaster. After MaxAttempts
// consecutive failures the session cools down once, refreshes credentials
// if a callback is set, and retries with a fresh budget; a second
// exhaustion gives up. The policy is independent of the transport.
type ReconnectPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Cooldown    time.Duration
	// RefreshAuth, when set, is invoked once before the final retry
	// round, e.g. to renew an expired token.
	RefreshAuth func(ctx context.Context) error
}

// DefaultReconnectPolicy mirrors the client defaults: five attempts,
// exponential backoff from 500ms capped at 8s, 30s cooldown.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Cooldown:    30 * time.Second,
	}
}

// Run invokes connect until it returns nil, the context is cancelled, or
// the retry budget (including the one post-cooldown round) is exhausted.
// connect is expected to block for the lifetime of a healthy session and
// return an error when the session drops.
func (p ReconnectPolicy) Run(ctx context.Context, connect func(ctx context.Context) error) error {
	refreshed := false

	for round := 0; ; round++ {
		var lastErr error
		delay := p.BaseDelay

		for attempt := 0; attempt < p.MaxAttempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := connect(ctx); err == nil {
				return nil
			} else {
				lastErr = err
			}

			if err := sleep(ctx, delay); err != nil {
				return err
			}
			delay *= 2
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}

		if refreshed {
			if lastErr != nil {
				return errors.Join(ErrReconnectExhausted, lastErr)
			}
			return ErrReconnectExhausted
		}

		// One cooldown, one credential refresh, one more round.
		if err := sleep(ctx, p.Cooldown); err != nil {
			return err
		}
		if p.RefreshAuth != nil {
			if err := p.RefreshAuth(ctx); err != nil {
				return err
			}
		}
		refreshed = true
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
