package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DeadLetter is a job the system stopped retrying: a handler failure the pool
// gave up on, or an invoice the retry cron exhausted. Letters sit in
// DeadLetterKey(queue) until an operator replays or drops them.
type DeadLetter struct {
	Queue    string          `json:"queue"`
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Reason   string          `json:"reason"`
	Attempts int             `json:"attempts"`
	FailedAt time.Time       `json:"failed_at"`
}

// DeadLetterKey is the Redis list holding queue's dead letters.
func DeadLetterKey(queue string) string { return queue + ":dlq" }

// deadLetterQueues are the queues whose depth /health reports.
var deadLetterQueues = []string{QueueInvoice, QueueEmail}

// park moves job to its queue's dead letter list. Redis errors are logged;
// the job is lost only if Redis itself is gone.
func park(ctx context.Context, rdb *redis.Client, queue string, job Job, reason string) {
	if rdb == nil {
		log.Error().Str("queue", queue).Str("type", job.Type).Str("reason", reason).Msg("dead letter dropped: no redis client")
		return
	}
	data, err := json.Marshal(DeadLetter{
		Queue:    queue,
		Type:     job.Type,
		Payload:  job.Payload,
		Reason:   reason,
		Attempts: job.Attempts,
		FailedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("dead letter: marshal failed")
		return
	}
	key := DeadLetterKey(queue)
	if err := rdb.LPush(ctx, key, data).Err(); err != nil {
		log.Error().Err(err).Str("key", key).Msg("dead letter: push failed")
		return
	}
	log.Warn().
		Str("queue", queue).
		Str("type", job.Type).
		Str("reason", reason).
		Int("attempts", job.Attempts).
		Msg("job parked as dead letter")
}

// DeadLetterDepths returns the number of parked jobs per queue in one round trip.
func DeadLetterDepths(ctx context.Context, rdb *redis.Client) (map[string]int64, error) {
	cmds := make(map[string]*redis.IntCmd, len(deadLetterQueues))
	_, err := rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, q := range deadLetterQueues {
			cmds[q] = p.LLen(ctx, DeadLetterKey(q))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	depths := make(map[string]int64, len(cmds))
	for q, cmd := range cmds {
		depths[q] = cmd.Val()
	}
	return depths, nil
}
