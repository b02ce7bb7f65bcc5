package cacheengine

import (
	"context"
	"strings"

	"github.com/raipay/chronikcache/subject"
)

// SubjectSample is one bounded-sample entry in a StateCount, carrying the
// metadata fields a caller needs to judge a subject's freshness without
// pulling its full transaction set.
type SubjectSample struct {
	Key          string
	CreatedAt    int64
	LastAccessAt int64
	AccessCount  int64
	NumTxs       int
}

// StateCount is one (namespace, state) bucket in a StateSummary, with a
// bounded sample of the subjects currently in it.
type StateCount struct {
	Namespace string
	State     string
	Count     int
	Samples   []SubjectSample
}

const maxStateSamples = 5

// StateSummary aggregates every subject the engine currently tracks state
// for, grouped by namespace and state, capped at maxStateSamples example
// subjects per bucket (with their metadata) so a caller with millions of
// subjects doesn't pull them all into a stats call.
func (e *Engine) StateSummary(ctx context.Context) []StateCount {
	e.statusMu.RLock()
	statuses := make(map[string]State, len(e.status))
	for k, v := range e.status {
		statuses[k] = v
	}
	e.statusMu.RUnlock()

	type bucketKey struct{ ns, state string }
	buckets := map[bucketKey]*StateCount{}

	for key, s := range statuses {
		ns, id, _ := strings.Cut(key, ":")
		bk := bucketKey{ns: ns, state: s.String()}
		b, ok := buckets[bk]
		if !ok {
			b = &StateCount{Namespace: ns, State: s.String()}
			buckets[bk] = b
		}
		b.Count++
		if len(b.Samples) < maxStateSamples {
			b.Samples = append(b.Samples, e.sampleFor(ctx, ns, id, key))
		}
	}

	out := make([]StateCount, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	return out
}

func (e *Engine) sampleFor(ctx context.Context, ns, id, key string) SubjectSample {
	namespace := subject.Address
	if ns == subject.Token.String() {
		namespace = subject.Token
	}

	sample := SubjectSample{Key: key}
	meta, err := e.store.ReadMetadata(ctx, subject.Subject{Namespace: namespace, ID: id})
	if err != nil || meta == nil {
		return sample
	}
	sample.CreatedAt = meta.CreatedAt
	sample.LastAccessAt = meta.LastAccessAt
	sample.AccessCount = meta.AccessCount
	sample.NumTxs = meta.NumTxs
	return sample
}

// BuildQueueLen and RepairQueueLen report each task queue's occupancy
// (queued plus running tasks), for Stats.
func (e *Engine) BuildQueueLen() int64  { return e.buildPool.Len() }
func (e *Engine) RepairQueueLen() int64 { return e.repairPool.Len() }

// MemCacheLen reports the number of subjects currently held in the
// memory-cache tier for the given namespace.
func (e *Engine) MemCacheLen(ns subject.Namespace) int {
	return e.memOf(ns).len()
}

// Config returns the engine's active configuration.
func (e *Engine) Config() Config { return e.cfg }
