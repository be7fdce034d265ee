package cache

import (
	"strings"
	"time"
)

const (
	defaultSenderTTL        = 5 * time.Minute
	defaultMissingSenderTTL = 30 * time.Second
)

// SenderCache remembers whether a from-address is registered.
type SenderCache interface {
	Lookup(email string) (registered bool, ok bool)
	Remember(email string, registered bool)
	Forget(email string)
}

type senderCache struct {
	entries    Cache[string, bool]
	hitTTL     time.Duration
	missingTTL time.Duration
}

// NewSenderCache keeps misses for a shorter time than hits.
func NewSenderCache() SenderCache {
	return &senderCache{
		entries:    NewTTLCache[string, bool](),
		hitTTL:     defaultSenderTTL,
		missingTTL: defaultMissingSenderTTL,
	}
}

func (c *senderCache) Lookup(email string) (bool, bool) {
	return c.entries.Get(senderKey(email))
}

func (c *senderCache) Remember(email string, registered bool) {
	ttl := c.missingTTL
	if registered {
		ttl = c.hitTTL
	}
	c.entries.Set(senderKey(email), registered, ttl)
}

func (c *senderCache) Forget(email string) {
	c.entries.Delete(senderKey(email))
}

func senderKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
