package cacheengine

import "time"

// Config carries the tunables that govern the cache engine's behavior (as
// opposed to the notification manager's, which live in notify.Config).
type Config struct {
	MaxTxLimit int
	MaxCacheSize int64

	// LargePageThreshold is the pageSize above which a cold subject
	// returns the "being prepared" envelope instead of a passthrough:
	// 200 by default.
	LargePageThreshold int
	// ProbePageSize is the page size used to probe apiNumTxs: 1.
	ProbePageSize int
	// ThrottleThreshold is the |txMap| size above which updateCache only
	// persists every ThrottleEvery-th iteration: 2000 by default.
	ThrottleThreshold int
	// ThrottleEvery is the persist interval once ThrottleThreshold is
	// crossed.
	ThrottleEvery int

	// MemCacheTTL is the initial memory-cache entry lifetime.
	MemCacheTTL time.Duration
	// MemCacheExtend is added to an entry's TTL on each access.
	MemCacheExtend time.Duration
	// SweepInterval is passed to the memory cache, which does not use it:
	// expired entries are removed by ttlcache's own cleanup loop, which
	// wakes when the next entry expires rather than on a fixed interval.
	SweepInterval time.Duration

	// HashCheckProbability is the chance ([0,1]) that page serving
	// verifies the loaded view's content hash against metadata. Treated
	// as a tunable, not a fixed 50%.
	HashCheckProbability float64

	// DebounceWindow coalesces notification-triggered work per
	// (subject, msgType).
	DebounceWindow time.Duration

	BuildConcurrency  int
	RepairConcurrency int
}

// DefaultConfig returns the default cache-engine settings.
func DefaultConfig() Config {
	return Config{
		MaxTxLimit:            10000,
		MaxCacheSize:          512 * 1024 * 1024,
		LargePageThreshold:    200,
		ProbePageSize:         1,
		ThrottleThreshold:     2000,
		ThrottleEvery:         10,
		MemCacheTTL:           120 * time.Second,
		MemCacheExtend:        10 * time.Second,
		SweepInterval:         10 * time.Second,
		HashCheckProbability:  0.5,
		DebounceWindow:        500 * time.Millisecond,
		BuildConcurrency:      2,
		RepairConcurrency:     5,
	}
}
