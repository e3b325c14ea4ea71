package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

// Redis блокировка на SET NX PX для нескольких экземпляров бота с общей базой
type Redis struct {
	cli    redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
	log    *zap.Logger
}

func NewRedis(cli redis.UniversalClient, log *zap.Logger) *Redis {
	return &Redis{cli: cli, prefix: "vpnbot:lock:", ttl: time.Minute, retry: 50 * time.Millisecond, log: log}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	full := r.prefix + key
	token := uuid.NewString()
	for {
		ok, err := r.cli.SetNX(ctx, full, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retry):
		}
	}
	return func() {
		uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := luaUnlock.Run(uctx, r.cli, []string{full}, token).Err(); err != nil {
			r.log.Warn("redis unlock failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}
