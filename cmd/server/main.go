package main

import (
	"context"
	"errors"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/lfgrelay/internal/logging"
	"github.com/Tyrowin/lfgrelay/internal/ratelimit"
	"github.com/Tyrowin/lfgrelay/internal/server"
	"github.com/Tyrowin/lfgrelay/internal/store"
)

func main() {
	log := logging.FromEnv(os.Stderr)
	log.Info().Msg("starting LFG relay")

	cfg := server.NewConfigFromEnv()

	st, err := store.Open(cfg.DatabasePath, log)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("failed to open database")
	}

	rdb, limiter := redisLimiter(cfg, log)

	srv := server.New(cfg, st, limiter, log)
	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	ops := map[string]gfshutdown.Operation{
		"server": func(ctx context.Context) error {
			err := srv.Shutdown(ctx)
			return errors.Join(err, st.Close())
		},
	}
	if rdb != nil {
		ops["redis"] = func(ctx context.Context) error {
			return rdb.Close()
		}
	}

	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout, ops)
	exitCode := <-wait
	log.Info().Int("code", exitCode).Msg("relay stopped")
	os.Exit(exitCode)
}

// redisLimiter connects the shared HTTP rate limiter when REDIS_ADDR is set.
// The server falls back to an in-process limiter when Redis is unreachable.
func redisLimiter(cfg *server.Config, log zerolog.Logger) (*redis.Client, ratelimit.Limiter) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, using in-process rate limiting")
		_ = rdb.Close()
		return nil, nil
	}

	log.Info().Str("addr", cfg.RedisAddr).Msg("using redis rate limiting")
	return rdb, ratelimit.NewRedis(rdb, "lfg:ratelimit:", cfg.HTTPRateLimit, time.Minute)
}
