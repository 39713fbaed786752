// Package try provides retry helpers.
package try

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Do calls fn until it succeeds, at most tries times, sleeping delay between
// attempts.
func Do(
	ctx context.Context,
	tries int,
	delay time.Duration,
	fn func(ctx context.Context) error,
) error {
	return DoExponentialBackoff(ctx, tries, delay, 1, delay, fn)
}

// DoExponentialBackoff calls fn until it succeeds, at most tries times. The
// delay is multiplied after each failure, up to maxBackoff.
func DoExponentialBackoff(
	ctx context.Context,
	tries int,
	delay time.Duration,
	multiplier int,
	maxBackoff time.Duration,
	fn func(ctx context.Context) error,
) (err error) {
	if tries <= 0 {
		log.Panic().Int("tries", tries).Msg("tries is 0 or negative")
	}
	for try := 0; try < tries; try++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		log.Warn().
			Err(err).
			Int("try", try).
			Int("maxTries", tries).
			Dur("backoff", delay).
			Msg("try failed")
		if try == tries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = delay * time.Duration(multiplier)
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}
	log.Warn().Err(err).Msg("failed all tries")
	return err
}
