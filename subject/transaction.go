package subject

import "encoding/json"

// BlockRef is the subset of block context the cache inspects.
type BlockRef struct {
	Height    int64 `json:"height"`
	Timestamp int64 `json:"timestamp,omitempty"`
}

// Transaction is the cache-relevant projection of an indexer transaction
// record. The full record is kept in Extra as raw JSON, so top-level fields
// outside the projection keep their original values (including numeric
// fields whose range exceeds 64 bits, which is why Extra is left as raw
// JSON rather than unmarshaled into Go numeric types). MarshalJSON
// re-encodes the merged object, so key order and whitespace are not
// preserved.
type Transaction struct {
	TxID          string          `json:"txid"`
	Block         *BlockRef       `json:"block,omitempty"`
	TimeFirstSeen int64           `json:"timeFirstSeen"`
	IsFinal       bool            `json:"isFinal"`
	Extra         json.RawMessage `json:"-"`
}

// MarshalJSON merges Extra back in with the cache-relevant fields so the
// persisted record and the indexer's field set agree.
func (t Transaction) MarshalJSON() ([]byte, error) {
	type alias Transaction
	base, err := json.Marshal(alias(t))
	if err != nil {
		return nil, err
	}
	if len(t.Extra) == 0 {
		return base, nil
	}

	merged := map[string]json.RawMessage{}
	if err := json.Unmarshal(t.Extra, &merged); err != nil {
		return base, nil //nolint:nilerr // Extra that isn't an object is preserved verbatim via base fields only
	}

	var baseMap map[string]json.RawMessage
	if err := json.Unmarshal(base, &baseMap); err != nil {
		return base, nil //nolint:nilerr
	}
	for k, v := range baseMap {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// UnmarshalJSON captures the cache-relevant fields and stashes the raw
// object as Extra.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	type alias Transaction
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*t = Transaction(a)
	t.Extra = append(json.RawMessage(nil), data...)
	return nil
}

// IsConfirmed reports whether the transaction carries block context.
func (t Transaction) IsConfirmed() bool {
	return t.Block != nil
}
