// Package notify implements the notification-channel manager: live
// per-subject subscriptions to the indexer's push transport, with
// capacity, timeout and eviction policies.
package notify

import (
	"context"

	"github.com/raipay/chronikcache/subject"
)

// MsgType identifies the kind of inbound transaction event.
type MsgType string

const (
	// TxAddedToMempool fires when a transaction first appears unconfirmed.
	TxAddedToMempool MsgType = "TX_ADDED_TO_MEMPOOL"
	// TxFinalized fires when a previously-seen transaction confirms.
	TxFinalized MsgType = "TX_FINALIZED"
)

// Event is a single inbound transaction notification.
type Event struct {
	Type    string
	MsgType MsgType
	TxID    string
}

// OnEvent is invoked once per matching subscription for each inbound
// event. Implementations must not block for long or panic; the manager
// recovers and logs panics, but callbacks should already be well-behaved
// rather than relying on that safety net.
type OnEvent func(sub subject.Subject, txid string, msgType MsgType)

// Transport is the subscription half of ChronikClientInterface: it
// establishes and tears down a live per-subject channel and reports
// connection lifecycle events. A single Transport instance is shared by
// both the address and token namespaces.
type Transport interface {
	SubscribeToAddress(ctx context.Context, id string, onEvent OnEvent) error
	UnsubscribeFromAddress(ctx context.Context, id string) error
	SubscribeToTokenID(ctx context.Context, id string, onEvent OnEvent) error
	UnsubscribeFromTokenID(ctx context.Context, id string) error

	// OnConnect/OnReconnect/OnError/OnEnd register lifecycle callbacks.
	// They may be called multiple times over the transport's life.
	OnConnect(func())
	OnReconnect(func())
	OnError(func(error))
	OnEnd(func())

	// WaitForOpen blocks until the transport has an active connection or
	// ctx is done.
	WaitForOpen(ctx context.Context) error

	// CloseNamespace closes the underlying channel/connection dedicated
	// to ns, once the manager has no remaining subscriptions there. A
	// Transport that shares one physical connection across namespaces
	// may treat this as a no-op until both namespaces are empty.
	CloseNamespace(ns subject.Namespace) error
}
