package kvstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v3"
	"github.com/ordishs/gocore"

	"github.com/raipay/chronikcache/ulogger"
)

// loggerWrapper adapts ulogger.Logger to badger's internal logger
// interface.
type loggerWrapper struct {
	log ulogger.Logger
}

func (l loggerWrapper) Errorf(format string, args ...interface{})   { l.log.Errorf(format, args...) }
func (l loggerWrapper) Warningf(format string, args ...interface{}) { l.log.Warnf(format, args...) }
func (l loggerWrapper) Infof(format string, args ...interface{})    { l.log.Infof(format, args...) }
func (l loggerWrapper) Debugf(format string, args ...interface{})   { l.log.Debugf(format, args...) }

// Badger is the durable KV store implementation backed by dgraph-io/badger.
// A single process is expected to hold the store open (single-writer
// discipline); writes to distinct keys may still race safely because
// badger serializes them internally, but chronikcache additionally
// serializes per-subject mutation with its own update lock (see
// cacheengine).
type Badger struct {
	mu     sync.Mutex
	db     *badger.DB
	logger ulogger.Logger
}

// Open opens (creating if necessary) a Badger store rooted at dir.
func Open(dir string, logger ulogger.Logger) (*Badger, error) {
	if logger == nil {
		logger = ulogger.New("kvstore")
	}

	opts := badger.DefaultOptions(dir).
		WithLogger(loggerWrapper{log: logger}).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("kvstore: open %s: %w", dir, err)
	}

	return &Badger{db: db, logger: logger}, nil
}

func (b *Badger) Get(_ context.Context, key string) ([]byte, error) {
	start := gocore.CurrentTime()
	defer func() { gocore.NewStat("chronikcache_kvstore", true).NewStat("Get").AddTime(start) }()

	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Badger) Put(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := gocore.CurrentTime()
	defer func() { gocore.NewStat("chronikcache_kvstore", true).NewStat("Put").AddTime(start) }()

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (b *Badger) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

func (b *Badger) Clear(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.db.DropAll()
}

func (b *Badger) Close() error {
	return b.db.Close()
}

func (b *Badger) Iterator(ctx context.Context, prefix string) (Iterator, error) {
	txn := b.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	it := txn.NewIterator(opts)

	bi := &badgerIterator{txn: txn, it: it, prefix: []byte(prefix), started: false}
	return bi, nil
}

type badgerIterator struct {
	txn     *badger.Txn
	it      *badger.Iterator
	prefix  []byte
	started bool
	cur     Entry
	err     error
}

func (bi *badgerIterator) Next() bool {
	if !bi.started {
		bi.it.Seek(bi.prefix)
		bi.started = true
	} else {
		bi.it.Next()
	}

	if !bi.it.ValidForPrefix(bi.prefix) {
		return false
	}

	item := bi.it.Item()
	key := string(item.KeyCopy(nil))
	val, err := item.ValueCopy(nil)
	if err != nil {
		bi.err = err
		return false
	}

	bi.cur = Entry{Key: key, Value: val}
	return true
}

func (bi *badgerIterator) Entry() Entry { return bi.cur }
func (bi *badgerIterator) Err() error   { return bi.err }

func (bi *badgerIterator) Close() error {
	bi.it.Close()
	bi.txn.Discard()
	return nil
}
