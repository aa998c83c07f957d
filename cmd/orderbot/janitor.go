package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	janitorInterval = 10 * time.Minute
	outboxRetention = 7 * 24 * time.Hour
)

// sweep deletes rows that are no longer needed as of now.
type sweep struct {
	name string
	run  func(ctx context.Context, now time.Time) (int64, error)
}

// janitor periodically runs retention sweeps over the local stores. A failing
// sweep is logged and retried on the next tick.
type janitor struct {
	interval time.Duration
	sweeps   []sweep
	now      func() time.Time
	log      zerolog.Logger
}

func newJanitor(interval time.Duration, sweeps ...sweep) *janitor {
	if interval <= 0 {
		interval = janitorInterval
	}
	return &janitor{
		interval: interval,
		sweeps:   sweeps,
		now:      time.Now,
		log:      log.With().Str("component", "janitor").Logger(),
	}
}

// sweepOnce runs every sweep and returns the total number of removed rows.
func (j *janitor) sweepOnce(ctx context.Context) int64 {
	now := j.now().UTC()
	var total int64
	for _, s := range j.sweeps {
		n, err := s.run(ctx, now)
		if err != nil {
			j.log.Warn().Err(err).Str("sweep", s.name).Msg("sweep failed")
			continue
		}
		if n > 0 {
			j.log.Debug().Str("sweep", s.name).Int64("removed", n).Msg("sweep done")
		}
		total += n
	}
	return total
}

// loop blocks until ctx is cancelled.
func (j *janitor) loop(ctx context.Context) {
	if len(j.sweeps) == 0 {
		return
	}
	t := time.NewTicker(j.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			j.sweepOnce(ctx)
		}
	}
}
