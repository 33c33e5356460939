package wait

import (
	"context"
	"math/rand"
	"time"
)

// A CheckFunc returns true when the condition being waited on holds.
type CheckFunc func(context.Context) (bool, error)

// RepeatUntil runs c every period until the context is done, c returns an
// error, or c reports the condition holds.
func RepeatUntil(ctx context.Context, period time.Duration, c CheckFunc) error {
	timer := time.NewTimer(period)
	defer func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		done, err := c(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		if period == 0 {
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(period)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Jitter returns a random duration ranging from base to base+base*factor.
func Jitter(base time.Duration, factor float64) time.Duration {
	//nolint:gosec
	return base + time.Duration(float64(base)*factor*rand.Float64())
}

// SleepWithJitter sleeps for a random duration ranging from base to
// base+base*factor, or until the context is done.
func SleepWithJitter(ctx context.Context, base time.Duration, factor float64) error {
	t := time.NewTimer(Jitter(base, factor))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
