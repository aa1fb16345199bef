package recognition

import (
	"context"
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/sodav/monitor/internal/errors"
	"github.com/sodav/monitor/internal/events"
	"github.com/sodav/monitor/internal/logging"
	"github.com/sodav/monitor/internal/observability"
)

// Provider is one external recognition backend.
type Provider interface {
	Name() string
	Enabled() bool
	Recognize(ctx context.Context, sample *Sample) (*Match, error)
}

const (
	cacheTTL     = 30 * time.Second
	cacheCleanup = time.Minute
)

// noMatch is the cached negative result.
var noMatch = &Match{}

// Chain tries providers in order. Transient failures fall through to the
// next provider; permanent failures disable the provider for the process
// lifetime. Results (including misses) are cached briefly by fingerprint
// hash so back-to-back windows of the same content cost one lookup.
type Chain struct {
	providers []Provider
	bus       *events.Bus
	metrics   *observability.Metrics
	cache     *gocache.Cache
	log       *slog.Logger

	mu       sync.Mutex
	disabled map[string]bool
}

// NewChain assembles a provider chain publishing operational errors on
// bus. bus and metrics may be nil.
func NewChain(bus *events.Bus, metrics *observability.Metrics, providers ...Provider) *Chain {
	return &Chain{
		providers: providers,
		bus:       bus,
		metrics:   metrics,
		cache:     gocache.New(cacheTTL, cacheCleanup),
		log:       logging.ForService("recognition"),
		disabled:  map[string]bool{},
	}
}

// Find asks each usable provider in order and returns the first match.
// A nil match with nil error means every provider came up empty.
func (c *Chain) Find(ctx context.Context, sample *Sample) (*Match, error) {
	key := c.cacheKey(sample)
	if key != "" {
		if cached, ok := c.cache.Get(key); ok {
			match := cached.(*Match)
			if match == noMatch {
				return nil, nil
			}
			return match, nil
		}
	}

	for _, provider := range c.providers {
		if !provider.Enabled() || c.isDisabled(provider.Name()) {
			continue
		}

		if c.metrics != nil {
			c.metrics.ProviderRequests.WithLabelValues(provider.Name()).Inc()
		}
		match, err := provider.Recognize(ctx, sample)
		if err != nil && c.metrics != nil {
			c.metrics.ProviderErrors.WithLabelValues(provider.Name()).Inc()
		}
		switch {
		case err == nil:
			if match == nil {
				continue
			}
			if key != "" {
				c.cache.SetDefault(key, match)
			}
			return match, nil
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.Is(err, ErrProviderPermanent):
			c.disable(provider.Name())
			c.log.Error("provider disabled", "provider", provider.Name(), "error", err)
			if c.bus != nil {
				c.bus.Publish(events.ErrorRaised("", "recognition", err))
			}
		default:
			c.log.Warn("provider failed, falling through", "provider", provider.Name(), "error", err)
		}
	}

	if key != "" {
		c.cache.SetDefault(key, noMatch)
	}
	return nil, nil
}

func (c *Chain) cacheKey(sample *Sample) string {
	if sample == nil || sample.Fingerprint == nil {
		return ""
	}
	return sample.Fingerprint.HexHash()
}

func (c *Chain) isDisabled(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disabled[name]
}

func (c *Chain) disable(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disabled[name] = true
}
