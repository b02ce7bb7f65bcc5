// Package txorder implements the total order over transactions, newest
// first, that the content hash and page slicing depend on.
package txorder

import (
	"sort"

	"github.com/raipay/chronikcache/subject"
)

// Less reports whether a should sort before b under the newest-first
// order:
//
//  1. If both unconfirmed: larger timestamp first, tie-break larger
//     timeFirstSeen first. A missing timestamp is treated as 0.
//  2. If exactly one is unconfirmed: the unconfirmed one sorts first.
//  3. If both confirmed: larger block height first, tie-break larger
//     block timestamp first, final tie-break larger timeFirstSeen first.
func Less(a, b subject.Transaction) bool {
	aConfirmed, bConfirmed := a.IsConfirmed(), b.IsConfirmed()

	switch {
	case !aConfirmed && !bConfirmed:
		at, bt := ts(a), ts(b)
		if at != bt {
			return at > bt
		}
		return a.TimeFirstSeen > b.TimeFirstSeen

	case aConfirmed != bConfirmed:
		// The unconfirmed one sorts first.
		return !aConfirmed

	default:
		if a.Block.Height != b.Block.Height {
			return a.Block.Height > b.Block.Height
		}
		if a.Block.Timestamp != b.Block.Timestamp {
			return a.Block.Timestamp > b.Block.Timestamp
		}
		return a.TimeFirstSeen > b.TimeFirstSeen
	}
}

func ts(t subject.Transaction) int64 {
	if t.Block != nil {
		return t.Block.Timestamp
	}
	return 0
}

// Sort orders txs newest-first in place using Less. The sort is stable so
// that, given a unique timeFirstSeen per txid (the sort's totality
// assumption), repeated sorts of the same set converge to the same
// sequence.
func Sort(txs []subject.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		return Less(txs[i], txs[j])
	})
}

// SortIDs orders a txOrder slice (ids only) using a lookup into txMap.
func SortIDs(ids []string, txMap map[string]subject.Transaction) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, aok := txMap[ids[i]]
		b, bok := txMap[ids[j]]
		if !aok || !bok {
			// Unknown ids (shouldn't happen under the well-formedness
			// invariant) sort after known ones, deterministically by id.
			if aok != bok {
				return aok
			}
			return ids[i] < ids[j]
		}
		return Less(a, b)
	})
}
