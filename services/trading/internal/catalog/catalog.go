package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AfshinJalili/stocktrade/services/trading/internal/storage"
	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultTTL     = 5 * time.Second
	defaultMaxCost = 10000
)

// Source is the authoritative instrument store.
type Source interface {
	GetInstrument(ctx context.Context, id uuid.UUID) (storage.Instrument, error)
	SearchInstruments(ctx context.Context, fragment string) ([]storage.Instrument, error)
	ListInstruments(ctx context.Context) ([]storage.Instrument, error)
}

type Options struct {
	// TTL bounds how stale a cached price may be. Zero disables caching.
	TTL     time.Duration
	MaxCost int64
}

type Metrics struct {
	lookups *prometheus.CounterVec
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalog_lookups_total",
			Help: "Instrument lookups by cache result.",
		}, []string{"result"}),
	}
	if registry != nil {
		registry.MustRegister(m.lookups)
	}
	return m
}

func (m *Metrics) observe(result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(result).Inc()
}

// Catalog serves instrument reads with a read-through cache keyed by id.
// Search and list always go to the source.
type Catalog struct {
	source  Source
	cache   *ristretto.Cache
	ttl     time.Duration
	metrics *Metrics
	logger  *slog.Logger
}

func New(source Source, opts Options, metrics *Metrics, logger *slog.Logger) (*Catalog, error) {
	if source == nil {
		return nil, fmt.Errorf("instrument source required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{source: source, ttl: opts.TTL, metrics: metrics, logger: logger}
	if opts.TTL <= 0 {
		return c, nil
	}

	maxCost := opts.MaxCost
	if maxCost <= 0 {
		maxCost = defaultMaxCost
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        maxCost * 10,
		MaxCost:            maxCost,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create instrument cache: %w", err)
	}
	c.cache = cache
	return c, nil
}

func (c *Catalog) LookupByID(ctx context.Context, id uuid.UUID) (storage.Instrument, error) {
	key := id.String()
	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			if inst, ok := v.(storage.Instrument); ok {
				c.metrics.observe("hit")
				return inst, nil
			}
		}
	}
	c.metrics.observe("miss")

	inst, err := c.source.GetInstrument(ctx, id)
	if err != nil {
		return storage.Instrument{}, err
	}
	if c.cache != nil {
		c.cache.SetWithTTL(key, inst, 1, c.ttl)
	}
	return inst, nil
}

func (c *Catalog) SearchBySymbol(ctx context.Context, fragment string) ([]storage.Instrument, error) {
	return c.source.SearchInstruments(ctx, fragment)
}

func (c *Catalog) ListAll(ctx context.Context) ([]storage.Instrument, error) {
	return c.source.ListInstruments(ctx)
}

// Invalidate drops a cached instrument so the next lookup reads through.
func (c *Catalog) Invalidate(id uuid.UUID) {
	if c.cache == nil {
		return
	}
	c.cache.Del(id.String())
	c.logger.Debug("instrument cache invalidated", "instrument_id", id)
}

// Wait blocks until buffered cache writes are applied.
func (c *Catalog) Wait() {
	if c.cache != nil {
		c.cache.Wait()
	}
}

func (c *Catalog) Close() {
	if c.cache != nil {
		c.cache.Close()
	}
}
