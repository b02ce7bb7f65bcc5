package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raipay/chronikcache/cacheengine"
	"github.com/raipay/chronikcache/indexer"
	"github.com/raipay/chronikcache/kvstore"
	"github.com/raipay/chronikcache/retry"
	"github.com/raipay/chronikcache/subject"
	"github.com/raipay/chronikcache/substore"
)

type fakeIndexerClient struct{}

func (fakeIndexerClient) AddressHistory(ctx context.Context, id string, page, size int) (indexer.Page, error) {
	return indexer.Page{}, nil
}
func (fakeIndexerClient) TokenHistory(ctx context.Context, id string, page, size int) (indexer.Page, error) {
	return indexer.Page{}, nil
}
func (fakeIndexerClient) ScriptHistory(ctx context.Context, t subject.ScriptType, hashHex string, page, size int) (indexer.Page, error) {
	return indexer.Page{}, nil
}
func (fakeIndexerClient) Tx(ctx context.Context, txid string) (subject.Transaction, error) {
	return subject.Transaction{}, nil
}

func TestCollectReportsEmptyStoreAndEngine(t *testing.T) {
	ctx := context.Background()
	store := substore.New(kvstore.NewMemory(), nil, nil)
	retryEnv := retry.New(retry.DefaultConfig(), nil)
	eng := cacheengine.New(cacheengine.DefaultConfig(), fakeIndexerClient{}, store, nil, retryEnv, nil)
	defer eng.Destroy()

	snap, err := Collect(ctx, eng, store, nil)
	require.NoError(t, err)
	require.Empty(t, snap.States)
	require.Equal(t, int64(0), snap.Queues.Build)
	require.Equal(t, int64(0), snap.Queues.Repair)
	require.Equal(t, 0, snap.MemCache.Address)
	require.Equal(t, NamespaceOccupancy{}, snap.Subscriptions)
}

func TestCollectReflectsSubjectSizeAfterWrite(t *testing.T) {
	ctx := context.Background()
	store := substore.New(kvstore.NewMemory(), nil, nil)
	retryEnv := retry.New(retry.DefaultConfig(), nil)
	eng := cacheengine.New(cacheengine.DefaultConfig(), fakeIndexerClient{}, store, nil, retryEnv, nil)
	defer eng.Destroy()

	sub := subject.Subject{Namespace: subject.Address, ID: "abc"}
	data := &substore.Data{
		TxMap:   map[string]subject.Transaction{"tx1": {TxID: "tx1"}},
		TxOrder: []string{"tx1"},
		NumTxs:  1,
	}
	require.NoError(t, store.Write(ctx, sub, data))

	snap, err := Collect(ctx, eng, store, nil)
	require.NoError(t, err)
	require.Positive(t, snap.Size.Metadata)
	require.Equal(t, 1, snap.TotalSubjects)
}

func TestCollectSamplesCarrySubjectMetadata(t *testing.T) {
	ctx := context.Background()
	store := substore.New(kvstore.NewMemory(), nil, nil)
	retryEnv := retry.New(retry.DefaultConfig(), nil)
	eng := cacheengine.New(cacheengine.DefaultConfig(), fakeIndexerClient{}, store, nil, retryEnv, nil)
	defer eng.Destroy()

	sub := subject.Subject{Namespace: subject.Address, ID: "abc"}
	_, err := eng.History(ctx, sub, 0, 10)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return eng.StateOf(sub) == cacheengine.Latest
	}, time.Second, 5*time.Millisecond)

	snap, err := Collect(ctx, eng, store, nil)
	require.NoError(t, err)
	require.Equal(t, 1, snap.TotalSubjects)
	require.Len(t, snap.States, 1)
	require.Len(t, snap.States[0].Samples, 1)
	sample := snap.States[0].Samples[0]
	require.Equal(t, "address:abc", sample.Key)
	require.NotZero(t, sample.CreatedAt)
}
