package chronikcache

import (
	"time"

	"github.com/raipay/chronikcache/cacheengine"
	"github.com/raipay/chronikcache/notify"
	"github.com/raipay/chronikcache/retry"
	"github.com/raipay/chronikcache/subject"
)

// Config carries every construction-time tunable. It is built up by the
// functional Option values passed to New and never exposed directly.
type Config struct {
	Engine cacheengine.Config
	Notify notify.Config
	Retry  retry.Config

	// Resolver maps (scriptType, hashHex) to an address for Script().
	Resolver subject.AddressResolver

	// EnableLogging raises the default logger's level to debug. When
	// false, only info/warn/error are emitted.
	EnableLogging bool
	// EnableTimer is accepted for parity with the source configuration;
	// the bundled Badger kvstore always emits gocore timing stats
	// regardless, so this only matters to a caller-supplied kvstore.Store
	// implementation that chooses to consult it.
	EnableTimer bool

	// Transport is the subscription half of the indexer client. Nil
	// disables the notification manager entirely: History falls back to
	// probing the indexer on every non-LATEST call instead of waiting on
	// push events.
	Transport notify.Transport
}

func defaultConfig() Config {
	return Config{
		Engine:        cacheengine.DefaultConfig(),
		Notify:        notify.DefaultConfig(),
		Retry:         retry.DefaultConfig(),
		Resolver:      subject.ScriptToAddress,
		EnableLogging: false,
		EnableTimer:   false,
	}
}

// Option customizes a Config passed to New via functional-option
// constructors.
type Option func(*Config)

func WithMaxTxLimit(n int) Option {
	return func(c *Config) { c.Engine.MaxTxLimit = n }
}

func WithMaxCacheSize(bytes int64) Option {
	return func(c *Config) { c.Engine.MaxCacheSize = bytes }
}

func WithWSTimeout(d time.Duration) Option {
	return func(c *Config) { c.Notify.WSTimeout = d }
}

func WithWSExtendTimeout(d time.Duration) Option {
	return func(c *Config) { c.Notify.WSExtendTimeout = d }
}

func WithMaxSubscriptions(n int) Option {
	return func(c *Config) { c.Notify.MaxSubscriptions = n }
}

func WithRetryConfig(maxRetries int, retryDelay time.Duration, exponentialBackoff bool) Option {
	return func(c *Config) {
		c.Retry.MaxRetries = maxRetries
		c.Retry.RetryDelay = retryDelay
		c.Retry.ExponentialBackoff = exponentialBackoff
	}
}

func WithEnableLogging(enabled bool) Option {
	return func(c *Config) { c.EnableLogging = enabled }
}

func WithEnableTimer(enabled bool) Option {
	return func(c *Config) { c.EnableTimer = enabled }
}

func WithAddressResolver(resolver subject.AddressResolver) Option {
	return func(c *Config) { c.Resolver = resolver }
}

func WithTransport(t notify.Transport) Option {
	return func(c *Config) { c.Transport = t }
}

func WithHashCheckProbability(p float64) Option {
	return func(c *Config) { c.Engine.HashCheckProbability = p }
}

func WithMemCacheTTL(d time.Duration) Option {
	return func(c *Config) { c.Engine.MemCacheTTL = d }
}

func WithMemCacheExtend(d time.Duration) Option {
	return func(c *Config) { c.Engine.MemCacheExtend = d }
}

func WithDebounceWindow(d time.Duration) Option {
	return func(c *Config) { c.Engine.DebounceWindow = d }
}

func WithBuildConcurrency(n int) Option {
	return func(c *Config) { c.Engine.BuildConcurrency = n }
}

func WithRepairConcurrency(n int) Option {
	return func(c *Config) { c.Engine.RepairConcurrency = n }
}
