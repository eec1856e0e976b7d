package worker

// sweep_cron.go
// Expires lapsed reservations on a ticker. The Redis lease keeps several
// server replicas from sweeping at the same moment; the sweep itself is
// idempotent, so a lost lease only costs duplicate work.

import (
	"context"
	"time"

	"nexopos/internal/infra"

	"github.com/rs/zerolog/log"
)

// ReservationSweeper is the part of the reservation manager the cron drives.
type ReservationSweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// SweepCronConfig holds the sweeper's dependencies. Lease may be nil.
type SweepCronConfig struct {
	Reservations ReservationSweeper
	Lease        *infra.Lease
	Interval     time.Duration
}

// StartReservationSweeper launches the sweep loop. It stops when ctx is cancelled.
func StartReservationSweeper(ctx context.Context, cfg SweepCronConfig) {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()

		log.Info().Dur("interval", cfg.Interval).Msg("sweep_cron: started")
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("sweep_cron: shutting down")
				return
			case <-ticker.C:
				SweepOnce(ctx, cfg)
			}
		}
	}()
}

// SweepOnce runs a single sweep under the lease and returns how many
// reservations expired. It is also the body of cmd/sweep.
func SweepOnce(ctx context.Context, cfg SweepCronConfig) int {
	if cfg.Lease != nil {
		ok, err := cfg.Lease.Acquire(ctx, leaseTTL(cfg.Interval))
		if err != nil {
			// Redis trouble must not stop expiry; sweeping twice is harmless.
			log.Warn().Err(err).Msg("sweep_cron: lease unavailable, sweeping anyway")
		} else if !ok {
			log.Debug().Msg("sweep_cron: another process holds the lease")
			return 0
		} else {
			defer func() {
				if err := cfg.Lease.Release(context.WithoutCancel(ctx)); err != nil {
					log.Warn().Err(err).Msg("sweep_cron: lease release failed")
				}
			}()
		}
	}

	n, err := cfg.Reservations.SweepExpired(ctx)
	if err != nil {
		log.Error().Err(err).Int("expired", n).Msg("sweep_cron: sweep failed")
		return n
	}
	if n > 0 {
		log.Info().Int("expired", n).Msg("sweep_cron: reservations expired")
	}
	return n
}

func leaseTTL(interval time.Duration) time.Duration {
	if interval <= 0 {
		return time.Minute
	}
	return interval
}
