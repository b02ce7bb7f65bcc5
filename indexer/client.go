// Package indexer defines the read/subscribe surface that chronikcache
// consumes from the embedding blockchain indexer: paginated history and
// the notification transport.
package indexer

import (
	"context"

	"github.com/raipay/chronikcache/subject"
)

// Page is one page of a subject's transaction history, as returned by the
// indexer's address(id).history/tokenId(id).history/script(t,h).history
// calls.
type Page struct {
	Txs      []subject.Transaction
	NumTxs   int
	NumPages int
}

// Client is the indexer's read surface. All calls are wrapped by the
// retry envelope at the cache-engine call sites, not here, so
// implementations should fail fast rather than retry internally.
type Client interface {
	AddressHistory(ctx context.Context, id string, page, size int) (Page, error)
	TokenHistory(ctx context.Context, id string, page, size int) (Page, error)
	ScriptHistory(ctx context.Context, scriptType subject.ScriptType, hashHex string, page, size int) (Page, error)
	Tx(ctx context.Context, txid string) (subject.Transaction, error)
}
