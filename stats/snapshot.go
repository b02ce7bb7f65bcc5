package stats

import (
	"context"

	"github.com/raipay/chronikcache/cacheengine"
	"github.com/raipay/chronikcache/notify"
	"github.com/raipay/chronikcache/subject"
	"github.com/raipay/chronikcache/substore"
)

// SizeBreakdown splits the durable store's byte footprint by content
// class.
type SizeBreakdown struct {
	Transactions int64
	Metadata     int64
	Other        int64
}

// NamespaceOccupancy pairs an address-namespace and token-namespace
// figure, reused for memory-cache entries and live subscriptions.
type NamespaceOccupancy struct {
	Address int
	Token   int
}

// QueueOccupancy reports each task queue's pending-plus-running count.
type QueueOccupancy struct {
	Build  int64
	Repair int64
}

// Snapshot is a point-in-time view of the cache engine's occupancy and
// configuration.
type Snapshot struct {
	TotalSubjects int
	States        []cacheengine.StateCount
	Size          SizeBreakdown
	MemCache      NamespaceOccupancy
	Subscriptions NamespaceOccupancy
	Queues        QueueOccupancy
	Config        cacheengine.Config
}

// Collect gathers a Snapshot from the engine, the durable store, and
// (optionally) the notification manager.
func Collect(ctx context.Context, eng *cacheengine.Engine, store *substore.Store, notifier *notify.Manager) (Snapshot, error) {
	txBytes, metaBytes, otherBytes, err := store.SizeBreakdown(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	totalSubjects, err := store.CountSubjects(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		TotalSubjects: totalSubjects,
		States:        eng.StateSummary(ctx),
		Size: SizeBreakdown{
			Transactions: txBytes,
			Metadata:     metaBytes,
			Other:        otherBytes,
		},
		MemCache: NamespaceOccupancy{
			Address: eng.MemCacheLen(subject.Address),
			Token:   eng.MemCacheLen(subject.Token),
		},
		Queues: QueueOccupancy{
			Build:  eng.BuildQueueLen(),
			Repair: eng.RepairQueueLen(),
		},
		Config: eng.Config(),
	}

	if notifier != nil {
		snap.Subscriptions = NamespaceOccupancy{
			Address: notifier.Len(subject.Address),
			Token:   notifier.Len(subject.Token),
		}
	}

	return snap, nil
}
