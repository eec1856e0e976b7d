package handler

import (
	"context"
	"net/http"
	"time"

	"nexopos/internal/infra"
	"nexopos/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Health returns a JSON health check response.
// Checks DB and Redis connectivity and reports outbound breaker states and
// dead letter depths. An open breaker or a parked job degrades invoicing and
// receipts only, so neither fails the check.
func Health(db *gorm.DB, rdb *redis.Client, breakers ...*infra.CircuitBreaker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		dbStatus := "connected"
		sqlDB, err := db.DB()
		if err != nil || sqlDB.PingContext(ctx) != nil {
			dbStatus = "error"
		}

		redisStatus := "connected"
		var deadLetters map[string]int64
		if rdb == nil {
			redisStatus = "disabled"
		} else if rdb.Ping(ctx).Err() != nil {
			redisStatus = "error"
		} else if deadLetters, err = worker.DeadLetterDepths(ctx, rdb); err != nil {
			deadLetters = nil
		}

		states := make(map[string]string, len(breakers))
		for _, b := range breakers {
			if b != nil {
				states[b.Name()] = b.State().String()
			}
		}

		status := http.StatusOK
		if dbStatus != "connected" || redisStatus == "error" {
			status = http.StatusServiceUnavailable
		}

		c.JSON(status, gin.H{
			"ok":           status == http.StatusOK,
			"db":           dbStatus,
			"redis":        redisStatus,
			"breakers":     states,
			"dead_letters": deadLetters,
		})
	}
}
