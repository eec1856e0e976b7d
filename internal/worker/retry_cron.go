package worker

// retry_cron.go
// Periodically re-attempts invoices left in ERROR whose next_retry_at has
// passed. Skips ticks while the sidecar breaker is open.

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"nexopos/internal/infra"
	"nexopos/internal/model"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const retryTickInterval = 30 * time.Second

// RetryCronConfig holds all dependencies for the retry goroutine.
type RetryCronConfig struct {
	Worker  *InvoiceWorker
	Breaker *infra.CircuitBreaker
	RDB     *redis.Client
}

// StartRetryCron launches the retry loop. It stops when ctx is cancelled.
func StartRetryCron(ctx context.Context, cfg RetryCronConfig) {
	go func() {
		ticker := time.NewTicker(retryTickInterval)
		defer ticker.Stop()

		log.Info().Msg("retry_cron: started")
		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("retry_cron: shutting down")
				return
			case <-ticker.C:
				processRetries(ctx, cfg)
			}
		}
	}()
}

// processRetries runs one tick and returns how many invoices it attempted.
func processRetries(ctx context.Context, cfg RetryCronConfig) int {
	if cfg.Breaker != nil && cfg.Breaker.State() == infra.CBOpen {
		log.Debug().Msg("retry_cron: circuit breaker is open, skipping tick")
		return 0
	}
	w := cfg.Worker
	invoices, err := w.invoices.ListRetryable(ctx, w.now(), MaxInvoiceRetries)
	if err != nil {
		log.Error().Err(err).Msg("retry_cron: failed to query pending retries")
		return 0
	}

	attempted := 0
	for i := range invoices {
		inv := &invoices[i]
		// The breaker may trip mid-batch.
		if cfg.Breaker != nil && cfg.Breaker.State() == infra.CBOpen {
			log.Debug().Msg("retry_cron: circuit breaker opened mid-batch, stopping")
			break
		}
		sale, err := w.sales.FindByID(ctx, inv.SaleID)
		if err != nil {
			log.Error().Err(err).Str("invoice_id", inv.ID.String()).Msg("retry_cron: sale not found")
			continue
		}

		attempted++
		w.authorize(ctx, inv, sale, 1)
		if inv.Status == model.InvoiceError && inv.RetryCount >= MaxInvoiceRetries {
			inv.NextRetryAt = nil
			payload, _ := json.Marshal(InvoiceJobPayload{InvoiceID: inv.ID.String()})
			reason := fmt.Sprintf("max retries (%d) exceeded", MaxInvoiceRetries)
			if inv.LastError != nil {
				reason += ": " + *inv.LastError
			}
			park(ctx, cfg.RDB, QueueInvoice, Job{Type: "invoice", Payload: payload, Attempts: inv.RetryCount}, reason)
		}
		if inv.Status != model.InvoiceError && inv.PDFPath == nil {
			w.renderTicket(inv, sale)
		}
		if err := w.invoices.Update(ctx, inv); err != nil {
			log.Error().Err(err).Str("invoice_id", inv.ID.String()).Msg("retry_cron: failed to save invoice")
		}
	}
	if attempted > 0 {
		log.Info().Int("count", attempted).Msg("retry_cron: processed pending invoices")
	}
	return attempted
}
