// Package substore implements the durable layout of cached transaction
// sets: chunked txMap/txOrder storage with content-hash invalidation,
// out-of-band metadata, an in-memory metadata LRU, size accounting and
// least-accessed eviction.
package substore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/raipay/chronikcache/datahash"
	cerrors "github.com/raipay/chronikcache/errors"
	"github.com/raipay/chronikcache/kvstore"
	"github.com/raipay/chronikcache/subject"
	"github.com/raipay/chronikcache/txorder"
	"github.com/raipay/chronikcache/ulogger"
)

// MaxItemsPerKey is the chunking threshold: subjects at or below this
// size are stored as flat keys; larger subjects are paginated.
const MaxItemsPerKey = 10000

// GlobalMetadataCacheLimit bounds the in-memory metadata LRU.
const GlobalMetadataCacheLimit = 10000

// Data is a subject's cached transaction set as loaded into memory.
type Data struct {
	TxMap   map[string]subject.Transaction
	TxOrder []string
	NumTxs  int
}

// Store is the durable per-subject layout.
type Store struct {
	kv     kvstore.Store
	logger ulogger.Logger
	now    func() int64

	metaMu sync.Mutex
	meta   *lru.Cache[string, Metadata]
}

// New builds a Store over kv. nowFn overrides the clock for tests; pass
// nil to use the wall clock.
func New(kv kvstore.Store, logger ulogger.Logger, nowFn func() int64) *Store {
	if logger == nil {
		logger = ulogger.New("substore")
	}
	if nowFn == nil {
		nowFn = nowMillis
	}

	cache, _ := lru.New[string, Metadata](GlobalMetadataCacheLimit)

	return &Store{kv: kv, logger: logger, now: nowFn, meta: cache}
}

// Read loads a subject's txMap/txOrder (preferring the chunked form when a
// page header exists), bumps accessCount/lastAccessAt, and returns the
// result. A subject with no stored data returns (nil, nil).
func (s *Store) Read(ctx context.Context, sub subject.Subject) (*Data, error) {
	base := sub.Key()

	order, err := s.readStrings(ctx, base+":txOrder")
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, nil
	}

	txMap, err := s.readTxMap(ctx, base+":txMap")
	if err != nil {
		return nil, err
	}

	meta, err := s.ReadMetadata(ctx, sub)
	if err != nil {
		return nil, err
	}
	if meta != nil {
		meta.AccessCount++
		meta.LastAccessAt = s.now()
		if err := s.WriteMetadata(ctx, sub, *meta); err != nil {
			return nil, err
		}
	}

	return &Data{TxMap: txMap, TxOrder: order, NumTxs: len(order)}, nil
}

// Write persists data for sub. If the new content hash equals the stored
// dataHash, the write is a no-op (invariant 4: idempotent writes).
func (s *Store) Write(ctx context.Context, sub subject.Subject, data *Data) error {
	newHash := datahash.Hash(data.TxOrder)

	meta, err := s.ReadMetadata(ctx, sub)
	if err != nil {
		return err
	}
	if meta != nil && meta.DataHash == newHash {
		return nil
	}

	base := sub.Key()
	if err := s.writeStrings(ctx, base+":txOrder", data.TxOrder); err != nil {
		return err
	}
	if err := s.writeTxMap(ctx, base+":txMap", data.TxMap); err != nil {
		return err
	}

	now := s.now()
	created := now
	if meta != nil {
		created = meta.CreatedAt
	}
	newMeta := Metadata{
		AccessCount:  metaAccessCount(meta),
		CreatedAt:    created,
		LastAccessAt: metaLastAccess(meta, now),
		UpdatedAt:    now,
		DataHash:     newHash,
		NumTxs:       len(data.TxOrder),
	}

	return s.WriteMetadata(ctx, sub, newMeta)
}

func metaAccessCount(m *Metadata) int64 {
	if m == nil {
		return 0
	}
	return m.AccessCount
}

func metaLastAccess(m *Metadata, now int64) int64 {
	if m == nil {
		return now
	}
	return m.LastAccessAt
}

// ReadMetadata returns the subject's metadata, checking the LRU before the
// durable store.
func (s *Store) ReadMetadata(ctx context.Context, sub subject.Subject) (*Metadata, error) {
	key := sub.MetadataKey()

	s.metaMu.Lock()
	if m, ok := s.meta.Get(key); ok {
		s.metaMu.Unlock()
		return &m, nil
	}
	s.metaMu.Unlock()

	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		if err == kvstore.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}

	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, cerrors.Wrap(cerrors.InternalInvariant, err, "decode metadata %s", key)
	}

	s.metaMu.Lock()
	s.meta.Add(key, m)
	s.metaMu.Unlock()

	return &m, nil
}

// WriteMetadata updates both the durable metadata key and the LRU.
func (s *Store) WriteMetadata(ctx context.Context, sub subject.Subject, m Metadata) error {
	key := sub.MetadataKey()

	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := s.kv.Put(ctx, key, b); err != nil {
		return err
	}

	s.metaMu.Lock()
	s.meta.Add(key, m)
	s.metaMu.Unlock()

	return nil
}

// DeleteMetadata removes the subject's metadata from both tiers.
func (s *Store) DeleteMetadata(ctx context.Context, sub subject.Subject) error {
	key := sub.MetadataKey()

	s.metaMu.Lock()
	s.meta.Remove(key)
	s.metaMu.Unlock()

	return s.kv.Delete(ctx, key)
}

// ClearSubject deletes both txMap and txOrder (paginated or flat) plus the
// subject's metadata.
func (s *Store) ClearSubject(ctx context.Context, sub subject.Subject) error {
	base := sub.Key()

	if err := s.deletePaginated(ctx, base+":txOrder"); err != nil {
		return err
	}
	if err := s.deletePaginated(ctx, base+":txMap"); err != nil {
		return err
	}
	return s.DeleteMetadata(ctx, sub)
}

// ClearAll wipes every key in the durable store and the metadata LRU.
func (s *Store) ClearAll(ctx context.Context) error {
	s.metaMu.Lock()
	s.meta.Purge()
	s.metaMu.Unlock()

	return s.kv.Clear(ctx)
}

// deletePaginated deletes a possibly-chunked key: if keyBase:meta exists,
// delete every keyBase:i plus the meta header; otherwise delete keyBase
// directly.
func (s *Store) deletePaginated(ctx context.Context, keyBase string) error {
	raw, err := s.kv.Get(ctx, keyBase+":meta")
	if err != nil {
		if err == kvstore.ErrNotFound {
			return s.kv.Delete(ctx, keyBase)
		}
		return err
	}

	var hdr pageHeader
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return cerrors.Wrap(cerrors.InternalInvariant, err, "decode page header %s", keyBase)
	}

	for i := 0; i < hdr.PageCount; i++ {
		if err := s.kv.Delete(ctx, fmt.Sprintf("%s:%d", keyBase, i)); err != nil {
			return err
		}
	}
	return s.kv.Delete(ctx, keyBase+":meta")
}

func (s *Store) readStrings(ctx context.Context, keyBase string) ([]string, error) {
	raw, err := s.kv.Get(ctx, keyBase+":meta")
	if err == nil {
		var hdr pageHeader
		if err := json.Unmarshal(raw, &hdr); err != nil {
			return nil, cerrors.Wrap(cerrors.InternalInvariant, err, "decode page header %s", keyBase)
		}
		out := make([]string, 0, hdr.TotalTxs)
		for i := 0; i < hdr.PageCount; i++ {
			chunkRaw, err := s.kv.Get(ctx, fmt.Sprintf("%s:%d", keyBase, i))
			if err != nil {
				return nil, err
			}
			var chunk []string
			if err := json.Unmarshal(chunkRaw, &chunk); err != nil {
				return nil, cerrors.Wrap(cerrors.InternalInvariant, err, "decode chunk %s:%d", keyBase, i)
			}
			out = append(out, chunk...)
		}
		return out, nil
	}
	if err != kvstore.ErrNotFound {
		return nil, err
	}

	flatRaw, err := s.kv.Get(ctx, keyBase)
	if err != nil {
		if err == kvstore.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var flat []string
	if err := json.Unmarshal(flatRaw, &flat); err != nil {
		return nil, cerrors.Wrap(cerrors.InternalInvariant, err, "decode flat %s", keyBase)
	}
	return flat, nil
}

func (s *Store) readTxMap(ctx context.Context, keyBase string) (map[string]subject.Transaction, error) {
	raw, err := s.kv.Get(ctx, keyBase+":meta")
	if err == nil {
		var hdr pageHeader
		if err := json.Unmarshal(raw, &hdr); err != nil {
			return nil, cerrors.Wrap(cerrors.InternalInvariant, err, "decode page header %s", keyBase)
		}
		out := make(map[string]subject.Transaction, hdr.TotalTxs)
		for i := 0; i < hdr.PageCount; i++ {
			chunkRaw, err := s.kv.Get(ctx, fmt.Sprintf("%s:%d", keyBase, i))
			if err != nil {
				return nil, err
			}
			var chunk map[string]subject.Transaction
			if err := json.Unmarshal(chunkRaw, &chunk); err != nil {
				return nil, cerrors.Wrap(cerrors.InternalInvariant, err, "decode chunk %s:%d", keyBase, i)
			}
			for k, v := range chunk {
				out[k] = v
			}
		}
		return out, nil
	}
	if err != kvstore.ErrNotFound {
		return nil, err
	}

	flatRaw, err := s.kv.Get(ctx, keyBase)
	if err != nil {
		if err == kvstore.ErrNotFound {
			return map[string]subject.Transaction{}, nil
		}
		return nil, err
	}
	var flat map[string]subject.Transaction
	if err := json.Unmarshal(flatRaw, &flat); err != nil {
		return nil, cerrors.Wrap(cerrors.InternalInvariant, err, "decode flat %s", keyBase)
	}
	return flat, nil
}

func (s *Store) writeStrings(ctx context.Context, keyBase string, order []string) error {
	if len(order) <= MaxItemsPerKey {
		if err := s.deleteChunksIfAny(ctx, keyBase); err != nil {
			return err
		}
		b, err := json.Marshal(order)
		if err != nil {
			return err
		}
		return s.kv.Put(ctx, keyBase, b)
	}

	pageCount := int(math.Ceil(float64(len(order)) / float64(MaxItemsPerKey)))
	for i := 0; i < pageCount; i++ {
		start := i * MaxItemsPerKey
		end := start + MaxItemsPerKey
		if end > len(order) {
			end = len(order)
		}
		b, err := json.Marshal(order[start:end])
		if err != nil {
			return err
		}
		if err := s.kv.Put(ctx, fmt.Sprintf("%s:%d", keyBase, i), b); err != nil {
			return err
		}
	}

	hdr, err := json.Marshal(pageHeader{PageCount: pageCount, TotalTxs: len(order)})
	if err != nil {
		return err
	}
	if err := s.kv.Put(ctx, keyBase+":meta", hdr); err != nil {
		return err
	}
	return s.kv.Delete(ctx, keyBase)
}

func (s *Store) writeTxMap(ctx context.Context, keyBase string, txMap map[string]subject.Transaction) error {
	ids := make([]string, 0, len(txMap))
	for id := range txMap {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if len(ids) <= MaxItemsPerKey {
		if err := s.deleteChunksIfAny(ctx, keyBase); err != nil {
			return err
		}
		b, err := json.Marshal(txMap)
		if err != nil {
			return err
		}
		return s.kv.Put(ctx, keyBase, b)
	}

	pageCount := int(math.Ceil(float64(len(ids)) / float64(MaxItemsPerKey)))
	for i := 0; i < pageCount; i++ {
		start := i * MaxItemsPerKey
		end := start + MaxItemsPerKey
		if end > len(ids) {
			end = len(ids)
		}
		chunk := make(map[string]subject.Transaction, end-start)
		for _, id := range ids[start:end] {
			chunk[id] = txMap[id]
		}
		b, err := json.Marshal(chunk)
		if err != nil {
			return err
		}
		if err := s.kv.Put(ctx, fmt.Sprintf("%s:%d", keyBase, i), b); err != nil {
			return err
		}
	}

	hdr, err := json.Marshal(pageHeader{PageCount: pageCount, TotalTxs: len(ids)})
	if err != nil {
		return err
	}
	if err := s.kv.Put(ctx, keyBase+":meta", hdr); err != nil {
		return err
	}
	return s.kv.Delete(ctx, keyBase)
}

func (s *Store) deleteChunksIfAny(ctx context.Context, keyBase string) error {
	raw, err := s.kv.Get(ctx, keyBase+":meta")
	if err != nil {
		if err == kvstore.ErrNotFound {
			return nil
		}
		return err
	}
	var hdr pageHeader
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return cerrors.Wrap(cerrors.InternalInvariant, err, "decode page header %s", keyBase)
	}
	for i := 0; i < hdr.PageCount; i++ {
		if err := s.kv.Delete(ctx, fmt.Sprintf("%s:%d", keyBase, i)); err != nil {
			return err
		}
	}
	return s.kv.Delete(ctx, keyBase+":meta")
}

// CalculateSize iterates every key in the store, summing UTF-8 byte
// lengths of key and value.
func (s *Store) CalculateSize(ctx context.Context) (int64, error) {
	it, err := s.kv.Iterator(ctx, "")
	if err != nil {
		return 0, err
	}
	defer it.Close()

	var total int64
	for it.Next() {
		e := it.Entry()
		total += int64(len(e.Key)) + int64(len(e.Value))
	}
	return total, it.Err()
}

// CountSubjects reports the number of distinct subjects with durable data,
// counted by iterating every *:txOrder* key (flat or chunked) and
// deduping by owning subject.
func (s *Store) CountSubjects(ctx context.Context) (int, error) {
	it, err := s.kv.Iterator(ctx, "")
	if err != nil {
		return 0, err
	}
	defer it.Close()

	seen := map[string]struct{}{}
	for it.Next() {
		key := it.Entry().Key
		if !strings.Contains(key, ":txOrder") {
			continue
		}
		sub, ok := subjectFromKey(key)
		if !ok {
			continue
		}
		seen[sub.Key()] = struct{}{}
	}
	return len(seen), it.Err()
}

// SizeBreakdown classifies every key's byte footprint into transaction
// data (every *:txMap* key, its chunk header included), out-of-band
// metadata (metadata:*), or other (txOrder keys, including their chunk
// header, and anything else).
func (s *Store) SizeBreakdown(ctx context.Context) (transactions, metadata, other int64, err error) {
	it, itErr := s.kv.Iterator(ctx, "")
	if itErr != nil {
		return 0, 0, 0, itErr
	}
	defer it.Close()

	for it.Next() {
		e := it.Entry()
		size := int64(len(e.Key)) + int64(len(e.Value))
		switch {
		case strings.HasPrefix(e.Key, "metadata:"):
			metadata += size
		case strings.Contains(e.Key, ":txMap"):
			transactions += size
		default:
			other += size
		}
	}
	return transactions, metadata, other, it.Err()
}

type subjectAccess struct {
	sub    subject.Subject
	access int64
	size   int64
}

// CleanLeastAccessed evicts the least-accessed subjects (as measured by
// their metadata accessCount) until total durable size is at or below
// ceiling. It fails with a LimitExceeded error if evicting everything
// still cannot reach the ceiling.
func (s *Store) CleanLeastAccessed(ctx context.Context, ceiling int64) error {
	total, err := s.CalculateSize(ctx)
	if err != nil {
		return err
	}
	if total <= ceiling {
		return nil
	}

	subjects, err := s.subjectSizes(ctx)
	if err != nil {
		return err
	}

	sort.Slice(subjects, func(i, j int) bool { return subjects[i].access < subjects[j].access })

	for _, sa := range subjects {
		if total <= ceiling {
			return nil
		}
		if err := s.ClearSubject(ctx, sa.sub); err != nil {
			return err
		}
		total -= sa.size
	}

	if total > ceiling {
		return cerrors.New(cerrors.LimitExceeded, "cannot shrink durable store to ceiling %d bytes (at %d)", ceiling, total)
	}
	return nil
}

// subjectSizes discovers every subject by scanning *:txOrder* keys and
// joins each with its metadata's accessCount.
func (s *Store) subjectSizes(ctx context.Context) ([]subjectAccess, error) {
	it, err := s.kv.Iterator(ctx, "")
	if err != nil {
		return nil, err
	}
	defer it.Close()

	sizes := map[string]int64{}
	subjects := map[string]subject.Subject{}

	for it.Next() {
		e := it.Entry()
		sub, ok := subjectFromKey(e.Key)
		if !ok {
			continue
		}
		sk := sub.Key()
		sizes[sk] += int64(len(e.Key)) + int64(len(e.Value))
		subjects[sk] = sub
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	out := make([]subjectAccess, 0, len(subjects))
	for sk, sub := range subjects {
		meta, err := s.ReadMetadata(ctx, sub)
		if err != nil {
			return nil, err
		}
		var access int64
		if meta != nil {
			access = meta.AccessCount
		}
		out = append(out, subjectAccess{sub: sub, access: access, size: sizes[sk]})
	}
	return out, nil
}

// subjectFromKey projects a data key (S:txOrder..., S:txMap...) or a
// metadata key (metadata:S:...) back to its owning Subject, so both a
// subject's data and its out-of-band metadata count toward the same
// footprint in subjectSizes.
func subjectFromKey(key string) (subject.Subject, bool) {
	rest, isMeta := strings.CutPrefix(key, "metadata:")
	ns, id, ok := strings.Cut(rest, ":")
	if !ok {
		return subject.Subject{}, false
	}

	if !isMeta {
		// ids may contain ':' (e.g. "ecash:..."), so cut at the last
		// data suffix rather than at the next colon.
		end := strings.LastIndex(id, ":txOrder")
		if i := strings.LastIndex(id, ":txMap"); i > end {
			end = i
		}
		if end < 0 {
			return subject.Subject{}, false
		}
		id = id[:end]
	}

	switch ns {
	case "address":
		return subject.Subject{Namespace: subject.Address, ID: id}, true
	case "token":
		return subject.Subject{Namespace: subject.Token, ID: id}, true
	default:
		return subject.Subject{}, false
	}
}

// Sort re-sorts a Data's txOrder in place using the txorder package.
func (d *Data) Sort() {
	txorder.SortIDs(d.TxOrder, d.TxMap)
}

func nowMillis() int64 {
	return timeNowUnixMilli()
}
