package cacheengine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raipay/chronikcache/indexer"
	"github.com/raipay/chronikcache/notify"
	"github.com/raipay/chronikcache/retry"
	"github.com/raipay/chronikcache/subject"
	"github.com/raipay/chronikcache/substore"
	"github.com/raipay/chronikcache/kvstore"
)

// fakeClient is an in-memory indexer.Client backed by a per-address
// slice of transactions, paginated the way the real indexer would.
type fakeClient struct {
	mu   sync.Mutex
	txs  map[string][]subject.Transaction
	byID map[string]subject.Transaction
}

func newFakeClient() *fakeClient {
	return &fakeClient{txs: map[string][]subject.Transaction{}, byID: map[string]subject.Transaction{}}
}

func (f *fakeClient) seed(id string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	txs := make([]subject.Transaction, n)
	for i := 0; i < n; i++ {
		tx := subject.Transaction{TxID: fmt.Sprintf("%s-tx%03d", id, i), TimeFirstSeen: int64(i)}
		txs[i] = tx
		f.byID[tx.TxID] = tx
	}
	f.txs[id] = txs
}

func (f *fakeClient) page(id string, page, size int) indexer.Page {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.txs[id]
	start := page * size
	if start >= len(all) {
		return indexer.Page{NumTxs: len(all), NumPages: numPages(len(all), size)}
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	out := make([]subject.Transaction, end-start)
	copy(out, all[start:end])
	return indexer.Page{Txs: out, NumTxs: len(all), NumPages: numPages(len(all), size)}
}

func (f *fakeClient) AddressHistory(ctx context.Context, id string, page, size int) (indexer.Page, error) {
	return f.page(id, page, size), nil
}
func (f *fakeClient) TokenHistory(ctx context.Context, id string, page, size int) (indexer.Page, error) {
	return f.page(id, page, size), nil
}
func (f *fakeClient) ScriptHistory(ctx context.Context, t subject.ScriptType, hashHex string, page, size int) (indexer.Page, error) {
	return indexer.Page{}, nil
}
func (f *fakeClient) Tx(ctx context.Context, txid string) (subject.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[txid], nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MemCacheTTL = time.Minute
	cfg.MemCacheExtend = time.Minute
	cfg.SweepInterval = time.Minute
	cfg.DebounceWindow = time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, client *fakeClient) *Engine {
	t.Helper()
	store := substore.New(kvstore.NewMemory(), nil, nil)
	retryEnv := retry.New(retry.Config{MaxRetries: 1}, nil)
	e := New(testConfig(), client, store, nil, retryEnv, nil)
	t.Cleanup(e.Destroy)
	return e
}

func TestHistoryColdSubjectReturnsPassthroughAndSchedulesBuild(t *testing.T) {
	client := newFakeClient()
	client.seed("abc", 5)
	e := newTestEngine(t, client)
	sub := subject.Subject{Namespace: subject.Address, ID: "abc"}

	resp, err := e.History(context.Background(), sub, 0, 10)
	require.NoError(t, err)
	require.Equal(t, StatusPassthrough, resp.Status)
	require.Len(t, resp.Txs, 5)

	require.Eventually(t, func() bool {
		return e.StateOf(sub) == Latest
	}, time.Second, 5*time.Millisecond)
}

func TestHistoryLargePageOnColdSubjectReturnsBeingPrepared(t *testing.T) {
	client := newFakeClient()
	client.seed("abc", 5)
	e := newTestEngine(t, client)
	e.cfg.LargePageThreshold = 3
	sub := subject.Subject{Namespace: subject.Address, ID: "abc"}

	resp, err := e.History(context.Background(), sub, 0, 10)
	require.NoError(t, err)
	require.Equal(t, StatusBeingPrepared, resp.Status)
}

func TestHistoryRejectsOverLimitSubject(t *testing.T) {
	client := newFakeClient()
	client.seed("abc", 50)
	e := newTestEngine(t, client)
	e.cfg.MaxTxLimit = 10
	sub := subject.Subject{Namespace: subject.Address, ID: "abc"}

	e.checkAndUpdate(context.Background(), sub, 50, false)
	require.Equal(t, Reject, e.StateOf(sub))

	resp, err := e.History(context.Background(), sub, 0, 5)
	require.NoError(t, err)
	require.Equal(t, StatusOverLimit, resp.Status)
	require.NotEmpty(t, resp.Message)
}

func TestServePageAfterBuildIsCacheHit(t *testing.T) {
	client := newFakeClient()
	client.seed("abc", 5)
	e := newTestEngine(t, client)
	sub := subject.Subject{Namespace: subject.Address, ID: "abc"}

	e.checkAndUpdate(context.Background(), sub, 5, false)
	require.Eventually(t, func() bool {
		return e.StateOf(sub) == Latest
	}, time.Second, 5*time.Millisecond)

	resp, err := e.servePage(context.Background(), sub, 0, 10)
	require.NoError(t, err)
	require.Equal(t, 5, resp.NumTxs)
	require.Len(t, resp.Txs, 5)
	require.Equal(t, StatusNone, resp.Status)
}

func TestCheckAndUpdateSkipsWhenBuildAlreadyInFlight(t *testing.T) {
	client := newFakeClient()
	client.seed("abc", 5)
	e := newTestEngine(t, client)
	sub := subject.Subject{Namespace: subject.Address, ID: "abc"}

	require.True(t, e.updateLocks.tryLock(sub.Key()))
	defer e.updateLocks.unlock(sub.Key())

	e.checkAndUpdate(context.Background(), sub, 5, false)
	require.NotEqual(t, Updating, e.StateOf(sub))
}

func TestClearSubjectResetsStateAndData(t *testing.T) {
	client := newFakeClient()
	client.seed("abc", 5)
	e := newTestEngine(t, client)
	sub := subject.Subject{Namespace: subject.Address, ID: "abc"}

	e.checkAndUpdate(context.Background(), sub, 5, false)
	require.Eventually(t, func() bool { return e.StateOf(sub) == Latest }, time.Second, 5*time.Millisecond)

	require.NoError(t, e.ClearSubject(context.Background(), sub))
	require.Equal(t, Unknown, e.StateOf(sub))

	data, err := e.store.Read(context.Background(), sub)
	require.NoError(t, err)
	require.Nil(t, data)
}

func TestResetAllClearsEveryTrackedSubject(t *testing.T) {
	client := newFakeClient()
	client.seed("a", 3)
	client.seed("b", 3)
	e := newTestEngine(t, client)
	subA := subject.Subject{Namespace: subject.Address, ID: "a"}
	subB := subject.Subject{Namespace: subject.Address, ID: "b"}

	e.checkAndUpdate(context.Background(), subA, 3, false)
	e.checkAndUpdate(context.Background(), subB, 3, false)
	require.Eventually(t, func() bool {
		return e.StateOf(subA) == Latest && e.StateOf(subB) == Latest
	}, time.Second, 5*time.Millisecond)

	e.ResetAll(context.Background())
	require.Equal(t, Unknown, e.StateOf(subA))
	require.Equal(t, Unknown, e.StateOf(subB))
}

func TestOnNotifyEventMempoolTriggersDebouncedProbe(t *testing.T) {
	client := newFakeClient()
	client.seed("abc", 2)
	e := newTestEngine(t, client)
	sub := subject.Subject{Namespace: subject.Address, ID: "abc"}

	e.checkAndUpdate(context.Background(), sub, 2, false)
	require.Eventually(t, func() bool { return e.StateOf(sub) == Latest }, time.Second, 5*time.Millisecond)

	client.seed("abc", 3) // a new tx appears
	e.onNotifyEvent(sub, "abc-tx002", notify.TxAddedToMempool)

	require.Eventually(t, func() bool {
		data, err := e.store.Read(context.Background(), sub)
		return err == nil && data != nil && data.NumTxs == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestUpdateUnconfirmedRewritesSingleTransaction(t *testing.T) {
	client := newFakeClient()
	client.seed("abc", 2)
	e := newTestEngine(t, client)
	sub := subject.Subject{Namespace: subject.Address, ID: "abc"}

	e.checkAndUpdate(context.Background(), sub, 2, false)
	require.Eventually(t, func() bool { return e.StateOf(sub) == Latest }, time.Second, 5*time.Millisecond)

	confirmed := subject.Transaction{TxID: "abc-tx001", TimeFirstSeen: 1, Block: &subject.BlockRef{Height: 100}}
	client.mu.Lock()
	client.byID["abc-tx001"] = confirmed
	client.mu.Unlock()

	require.NoError(t, e.updateUnconfirmed(context.Background(), sub, "abc-tx001"))

	data, err := e.store.Read(context.Background(), sub)
	require.NoError(t, err)
	require.True(t, data.TxMap["abc-tx001"].IsConfirmed())
}
