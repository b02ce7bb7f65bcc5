// Package subject defines the Subject type: an address or a token id, plus
// the pure script-to-address resolver function.
package subject

import "strings"

// Namespace distinguishes the two disjoint subject kinds.
type Namespace int

const (
	// Address subjects are identified by an address-shaped opaque id.
	Address Namespace = iota
	// Token subjects are identified by a token id.
	Token
)

func (n Namespace) String() string {
	if n == Token {
		return "token"
	}
	return "address"
}

// Subject uniquely identifies a cached transaction-set owner.
type Subject struct {
	Namespace Namespace
	ID        string
}

// Key returns the storage key prefix for this subject, e.g. "address:<id>"
// or "token:<id>".
func (s Subject) Key() string {
	return s.Namespace.String() + ":" + s.ID
}

// MetadataKey returns the global metadata key for this subject, per the
// persisted state layout: metadata:address:<id> / metadata:token:<id>.
func (s Subject) MetadataKey() string {
	return "metadata:" + s.Key()
}

// AddressPrefix is the recognizable prefix carried by address subjects
// (chosen to match the eCash "ecash:" address encoding referenced by the
// script resolver below).
const AddressPrefix = "ecash:"

// ScriptType identifies the kind of script being resolved to an address.
type ScriptType string

const (
	ScriptTypeP2PKH   ScriptType = "p2pkh"
	ScriptTypeP2SH    ScriptType = "p2sh"
	ScriptTypeOther   ScriptType = "other"
)

// AddressResolver is a pure function mapping (script type, script hash) to
// an address string. The core treats address encoding as fully external;
// production callers plug in their chosen implementation (e.g. eCash's
// "ecash:" CashAddr encoding). ScriptToAddress below is the default,
// dependency-free resolver used when the caller supplies none.
type AddressResolver func(t ScriptType, hashHex string) (string, error)

// ScriptToAddress is a minimal pure resolver: it lower-cases the hash and
// returns "<AddressPrefix><scriptType>:<hash>" (e.g.
// "ecash:p2pkh:abcdef"), in the absence of a caller-supplied
// address-encoding scheme. It exists purely so the facade is usable
// out of the box; production deployments are expected to override it via
// WithAddressResolver.
func ScriptToAddress(t ScriptType, hashHex string) (string, error) {
	hashHex = strings.ToLower(hashHex)
	return AddressPrefix + string(t) + ":" + hashHex, nil
}
