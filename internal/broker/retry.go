package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/Lutefd/botkit-telemetry/internal/logger"
	"github.com/Lutefd/botkit-telemetry/internal/model"
)

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts: 5,
	BaseDelay:   time.Second,
	MaxDelay:    30 * time.Second,
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// DialWithRetry dials until it succeeds, the attempts run out or ctx is done.
// Any failure is reported as model.ErrBrokerUnavailable.
func DialWithRetry(ctx context.Context, d Dialer, p RetryPolicy) (Session, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		session, err := d.Dial(ctx)
		if err == nil {
			return session, nil
		}
		lastErr = err
		logger.Warnf("broker dial attempt %d/%d failed: %v", attempt, attempts, err)

		if attempt == attempts {
			break
		}
		timer := time.NewTimer(p.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %v", model.ErrBrokerUnavailable, ctx.Err())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("%w: %v", model.ErrBrokerUnavailable, lastErr)
}
