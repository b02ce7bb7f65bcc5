package cacheengine

import "github.com/raipay/chronikcache/subject"

// Status codes for the History response envelope.
const (
	StatusNone         = 0
	StatusBeingPrepared = 1
	StatusOverLimit     = 2
	StatusPassthrough   = 3
)

// Response is the envelope History returns.
type Response struct {
	Txs      []subject.Transaction
	NumPages int
	NumTxs   int
	Status   int
	Message  string
}
