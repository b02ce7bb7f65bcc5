// Package chronikcache is a read-through, write-behind cache in front of
// a paginated blockchain indexer: it serves address, script and token
// transaction history from a durable local store, keeping it warm via the
// indexer's push notifications and rebuilding it in the background when
// it drifts.
package chronikcache

import (
	"context"
	"strings"

	"github.com/raipay/chronikcache/cacheengine"
	cerrors "github.com/raipay/chronikcache/errors"
	"github.com/raipay/chronikcache/indexer"
	"github.com/raipay/chronikcache/kvstore"
	"github.com/raipay/chronikcache/notify"
	"github.com/raipay/chronikcache/retry"
	"github.com/raipay/chronikcache/stats"
	"github.com/raipay/chronikcache/subject"
	"github.com/raipay/chronikcache/substore"
	"github.com/raipay/chronikcache/ulogger"
)

// Cache is the top-level handle: one per embedding indexer process. It
// owns the durable store's Go-side bookkeeping, the cache engine, and
// (optionally) the notification manager, and exposes the fluent builders
// and management operations.
type Cache struct {
	cfg      Config
	client   indexer.Client
	store    *substore.Store
	notifier *notify.Manager
	engine   *cacheengine.Engine
	logger   ulogger.Logger
}

// New builds a Cache over client (the indexer's read and, if
// WithTransport is supplied, subscribe surface) and kv (the durable
// key-value store backing it).
func New(client indexer.Client, kv kvstore.Store, logger ulogger.Logger, opts ...Option) (*Cache, error) {
	if client == nil {
		return nil, cerrors.New(cerrors.Config, "chronikcache: client is required")
	}
	if kv == nil {
		return nil, cerrors.New(cerrors.Config, "chronikcache: kv store is required")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if logger == nil {
		level := "info"
		if cfg.EnableLogging {
			level = "debug"
		}
		logger = ulogger.New("chronikcache", ulogger.WithLevel(level))
	}

	store := substore.New(kv, logger.New("substore"), nil)
	retryEnv := retry.New(cfg.Retry, logger.New("retry"))

	c := &Cache{cfg: cfg, client: client, store: store, logger: logger}

	var notifier *notify.Manager
	if cfg.Transport != nil {
		notifier = notify.New(cfg.Notify, cfg.Transport, logger.New("notify"), c.onEvict)
	}
	c.notifier = notifier

	c.engine = cacheengine.New(cfg.Engine, client, store, notifier, retryEnv, logger.New("cacheengine"))

	return c, nil
}

func (c *Cache) onEvict(sub subject.Subject) {
	c.logger.Infof("subscription evicted: %s", sub.Key())
}

// Address returns a fluent handle scoped to an address subject.
func (c *Cache) Address(id string) *Handle {
	return &Handle{c: c, sub: subject.Subject{Namespace: subject.Address, ID: id}}
}

// TokenID returns a fluent handle scoped to a token subject.
func (c *Cache) TokenID(id string) *Handle {
	return &Handle{c: c, sub: subject.Subject{Namespace: subject.Token, ID: id}}
}

// Script resolves (scriptType, hashHex) to an address via the configured
// resolver (WithAddressResolver), lower-casing hashHex first, then
// forwards to Address.
func (c *Cache) Script(scriptType subject.ScriptType, hashHex string) (*Handle, error) {
	hashHex = strings.ToLower(hashHex)
	addr, err := c.cfg.Resolver(scriptType, hashHex)
	if err != nil {
		return nil, err
	}
	return c.Address(addr), nil
}

// ClearAddressCache drops the address subject's cached data and state.
func (c *Cache) ClearAddressCache(ctx context.Context, id string) error {
	return c.engine.ClearSubject(ctx, subject.Subject{Namespace: subject.Address, ID: id})
}

// ClearTokenCache drops the token subject's cached data and state.
func (c *Cache) ClearTokenCache(ctx context.Context, id string) error {
	return c.engine.ClearSubject(ctx, subject.Subject{Namespace: subject.Token, ID: id})
}

// ClearAllCache drops every subject's in-memory state and subscription,
// then wipes the entire durable store.
func (c *Cache) ClearAllCache(ctx context.Context) error {
	c.engine.ResetAll(ctx)
	return c.store.ClearAll(ctx)
}

// GetCacheStatus reports the state of a single subject.
func (c *Cache) GetCacheStatus(id string, isToken bool) string {
	ns := subject.Address
	if isToken {
		ns = subject.Token
	}
	return c.engine.StateOf(subject.Subject{Namespace: ns, ID: id}).String()
}

// GetStatistics returns a full occupancy and configuration snapshot.
func (c *Cache) GetStatistics(ctx context.Context) (stats.Snapshot, error) {
	return stats.Collect(ctx, c.engine, c.store, c.notifier)
}

// Destroy tears down the background pools, memory-cache sweepers and
// subscriptions. It does not close the underlying kvstore.Store; the
// caller retains ownership of that.
func (c *Cache) Destroy() {
	c.engine.Destroy()
}
