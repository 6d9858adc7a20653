package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Connect establishes the shared-store connection once at process startup.
// It returns a nil client when url is empty or the store does not answer a
// ping, so "shared store unavailable" is an explicit state decided up front
// rather than a hidden first-use failure. Stores accept a nil client and
// run on their in-process maps alone.
func Connect(ctx context.Context, url string, log *zap.Logger) *redis.Client {
	if log == nil {
		log = zap.NewNop()
	}
	if url == "" {
		log.Info("no shared cache store configured, running in-process only")
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		log.Warn("invalid shared cache store url, running in-process only", zap.Error(err))
		return nil
	}
	client := redis.NewClient(opts)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		log.Warn("shared cache store unreachable, running in-process only",
			zap.String("addr", opts.Addr), zap.Error(err))
		client.Close()
		return nil
	}
	log.Info("shared cache store connected", zap.String("addr", opts.Addr))
	return client
}
