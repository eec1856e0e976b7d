// Command sweep expires lapsed stock reservations once and exits. It is meant
// for external schedulers (cron, Kubernetes CronJob) when the in-process
// sweeper is disabled.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"nexopos/internal/config"
	"nexopos/internal/infra"
	"nexopos/internal/router"
	"nexopos/internal/worker"

	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	infra.ConfigureLogger(cfg.IsProduction(), cfg.LogLevel)

	db, err := infra.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	sweep := worker.SweepCronConfig{Interval: cfg.ReservationSweepInterval}
	// Redis only coordinates with running servers; without it we sweep anyway.
	if rdb, err := infra.NewRedis(ctx, cfg.RedisURL); err != nil {
		log.Warn().Err(err).Msg("redis unavailable, sweeping without lease")
	} else {
		defer rdb.Close()
		host, _ := os.Hostname()
		sweep.Lease = infra.NewLease(rdb, "lease:reservation-sweep", fmt.Sprintf("%s:%d:sweep", host, os.Getpid()))
	}

	sweep.Reservations = router.NewServices(cfg, db, nil).Reservations
	n := worker.SweepOnce(ctx, sweep)
	log.Info().Int("expired", n).Msg("sweep finished")
}
