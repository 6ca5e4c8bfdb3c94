package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/dispatch-backend/internal/logger"
	"github.com/yungbote/dispatch-backend/internal/utils"
)

// NewClient connects to the queue index from REDIS_* environment variables
// and verifies the connection with a ping before handing it out.
func NewClient(log *logger.Logger) (*goredis.Client, error) {
	addr := utils.GetEnv("REDIS_ADDR", "localhost:6379", log)
	password := utils.GetEnv("REDIS_PASSWORD", "", log)
	db := utils.GetEnvAsInt("REDIS_DB", 0, log)

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		Password:    password,
		DB:          db,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info("Connected to Redis", "addr", addr)
	return rdb, nil
}
