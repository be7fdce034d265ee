package cache

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	senderKeyPrefix     = "invoicedesk:email_sender:"
	redisSenderOpBudget = 250 * time.Millisecond
)

type SenderCacheParams struct {
	fx.In

	Client *redis.Client `optional:"true"`
	Log    *zap.Logger
}

// ProvideSenderCache shares sender registrations through redis when it is
// configured, so a sender removed by one process is dropped by every process.
// Without redis each process keeps its own cache and a removed sender may still
// be accepted elsewhere until its entry expires.
func ProvideSenderCache(p SenderCacheParams) SenderCache {
	if p.Client == nil {
		return NewSenderCache()
	}
	return NewRedisSenderCache(p.Client, p.Log)
}

type redisSenderCache struct {
	client     *redis.Client
	log        *zap.Logger
	hitTTL     time.Duration
	missingTTL time.Duration
}

func NewRedisSenderCache(client *redis.Client, log *zap.Logger) SenderCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &redisSenderCache{
		client:     client,
		log:        log.Named("cache.sender"),
		hitTTL:     defaultSenderTTL,
		missingTTL: defaultMissingSenderTTL,
	}
}

// Lookup treats a redis error as a miss; the caller falls back to the database.
func (c *redisSenderCache) Lookup(email string) (bool, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisSenderOpBudget)
	defer cancel()

	val, err := c.client.Get(ctx, senderKeyPrefix+senderKey(email)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("cache.sender.lookup_failed", zap.Error(err))
		}
		return false, false
	}
	return val == "1", true
}

func (c *redisSenderCache) Remember(email string, registered bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisSenderOpBudget)
	defer cancel()

	val, ttl := "0", c.missingTTL
	if registered {
		val, ttl = "1", c.hitTTL
	}
	if err := c.client.Set(ctx, senderKeyPrefix+senderKey(email), val, ttl).Err(); err != nil {
		c.log.Warn("cache.sender.remember_failed", zap.Error(err))
	}
}

func (c *redisSenderCache) Forget(email string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisSenderOpBudget)
	defer cancel()

	if err := c.client.Del(ctx, senderKeyPrefix+senderKey(email)).Err(); err != nil {
		c.log.Warn("cache.sender.forget_failed", zap.Error(err))
	}
}
