// Package cache puts a Redis cache-aside layer in front of the link store.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"

	"github.com/axellelanca/shortlink/internal/config"
	apperrors "github.com/axellelanca/shortlink/internal/errors"
	"github.com/axellelanca/shortlink/internal/logger"
	"github.com/axellelanca/shortlink/internal/models"
	"github.com/axellelanca/shortlink/internal/shortkey"
)

// LinkFinder is the part of the link store the cache reads through to.
type LinkFinder interface {
	FindForResolution(ctx context.Context, id uint64) (*models.LinkProjection, error)
}

// ResolutionCache resolves short keys to link projections, reading Redis
// first and falling back to the store. Redis is never required for a
// correct answer: any Redis error is handled as a miss.
type ResolutionCache struct {
	rdb          redis.Cmdable
	store        LinkFinder
	prefix       string
	ttl          time.Duration
	writeTimeout time.Duration
	log          *logrus.Entry

	pending conc.WaitGroup
}

type Option func(*ResolutionCache)

func WithPrefix(prefix string) Option {
	return func(c *ResolutionCache) { c.prefix = prefix }
}

func WithTTL(d time.Duration) Option {
	return func(c *ResolutionCache) {
		if d > 0 {
			c.ttl = d
		}
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(c *ResolutionCache) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

func WithLogger(l *logrus.Entry) Option {
	return func(c *ResolutionCache) { c.log = l }
}

func NewResolutionCache(rdb redis.Cmdable, store LinkFinder, opts ...Option) *ResolutionCache {
	c := &ResolutionCache{
		rdb:          rdb,
		store:        store,
		prefix:       "urls:",
		ttl:          time.Hour,
		writeTimeout: 2 * time.Second,
		log:          logger.For("cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewRedisClient builds the pooled client from configuration.
func NewRedisClient(cfg config.CacheConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// Resolve returns the projection behind shortKey, or apperrors.ErrLinkNotFound
// when the key is malformed, unknown, inactive, deleted or carries the wrong
// salt. Store failures are returned wrapped.
func (c *ResolutionCache) Resolve(ctx context.Context, shortKey string) (*models.LinkProjection, error) {
	if p, ok := c.lookup(ctx, shortKey); ok {
		return p, nil
	}

	id, salt, ok := shortkey.Decode(shortKey)
	if !ok {
		return nil, apperrors.ErrLinkNotFound
	}

	p, err := c.store.FindForResolution(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", shortKey, err)
	}
	if p == nil || p.Salt != salt {
		return nil, apperrors.ErrLinkNotFound
	}

	c.writeBack(ctx, shortKey, p)
	return p, nil
}

func (c *ResolutionCache) lookup(ctx context.Context, shortKey string) (*models.LinkProjection, bool) {
	b, err := c.rdb.Get(ctx, c.key(shortKey)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WithError(err).WithField("short_key", shortKey).Warn("cache read failed, falling back to store")
		}
		return nil, false
	}
	p, err := decodeEntry(b)
	if err != nil {
		c.log.WithError(err).WithField("short_key", shortKey).Warn("discarding undecodable cache entry")
		return nil, false
	}
	if !strings.HasPrefix(shortKey, p.Salt[:shortkey.PrefixLen]) || !strings.HasSuffix(shortKey, p.Salt[shortkey.PrefixLen:]) {
		c.log.WithField("short_key", shortKey).Warn("discarding cache entry with foreign salt")
		return nil, false
	}
	return p, true
}

// writeBack stores p in the background. It outlives the request but not the
// write timeout.
func (c *ResolutionCache) writeBack(ctx context.Context, shortKey string, p *models.LinkProjection) {
	b, err := encodeEntry(p)
	if err != nil {
		c.log.WithError(err).WithField("short_key", shortKey).Error("failed to encode cache entry")
		return
	}

	c.pending.Go(func() {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.writeTimeout)
		defer cancel()
		if err := c.rdb.Set(wctx, c.key(shortKey), b, c.ttl).Err(); err != nil {
			c.log.WithError(err).WithField("short_key", shortKey).Warn("cache write-back failed")
		}
	})
}

// Wait blocks until every background write-back has finished.
func (c *ResolutionCache) Wait() {
	if r := c.pending.WaitAndRecover(); r != nil {
		c.log.WithField("panic", r.Value).Error("cache write-back panicked")
	}
}

// Ping reports whether Redis answers.
func (c *ResolutionCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *ResolutionCache) key(shortKey string) string {
	return c.prefix + shortKey
}
