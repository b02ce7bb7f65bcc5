package txorder

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/raipay/chronikcache/subject"
)

func tx(id string, block *subject.BlockRef, firstSeen int64) subject.Transaction {
	return subject.Transaction{TxID: id, Block: block, TimeFirstSeen: firstSeen}
}

func TestLess(t *testing.T) {
	t.Run("unconfirmed sorts before confirmed", func(t *testing.T) {
		unconfirmed := tx("u", nil, 100)
		confirmed := tx("c", &subject.BlockRef{Height: 5}, 50)
		require.True(t, Less(unconfirmed, confirmed))
		require.False(t, Less(confirmed, unconfirmed))
	})

	t.Run("both unconfirmed orders by timeFirstSeen descending", func(t *testing.T) {
		a := tx("a", nil, 200)
		b := tx("b", nil, 100)
		require.True(t, Less(a, b))
		require.False(t, Less(b, a))
	})

	t.Run("both confirmed orders by block height descending", func(t *testing.T) {
		a := tx("a", &subject.BlockRef{Height: 10}, 0)
		b := tx("b", &subject.BlockRef{Height: 5}, 0)
		require.True(t, Less(a, b))
	})

	t.Run("confirmed tie-break on block timestamp then timeFirstSeen", func(t *testing.T) {
		a := tx("a", &subject.BlockRef{Height: 10, Timestamp: 999}, 5)
		b := tx("b", &subject.BlockRef{Height: 10, Timestamp: 500}, 999)
		require.True(t, Less(a, b))

		c := tx("c", &subject.BlockRef{Height: 10, Timestamp: 500}, 999)
		d := tx("d", &subject.BlockRef{Height: 10, Timestamp: 500}, 1)
		require.True(t, Less(c, d))
	})
}

func TestSortIsStableAndConverges(t *testing.T) {
	txs := []subject.Transaction{
		tx("a", &subject.BlockRef{Height: 1}, 1),
		tx("b", nil, 500),
		tx("c", &subject.BlockRef{Height: 3}, 2),
		tx("d", nil, 700),
	}

	Sort(txs)
	require.Equal(t, []string{"d", "b", "c", "a"}, ids(txs))

	// re-sorting an already-sorted set is a no-op.
	Sort(txs)
	require.Equal(t, []string{"d", "b", "c", "a"}, ids(txs))
}

func TestSortIDsUsesMapLookup(t *testing.T) {
	txMap := map[string]subject.Transaction{
		"a": tx("a", &subject.BlockRef{Height: 1}, 1),
		"b": tx("b", nil, 500),
	}
	order := []string{"a", "b"}

	SortIDs(order, txMap)
	require.Equal(t, []string{"b", "a"}, order)
}

func TestSortIDsUnknownIDsSortLast(t *testing.T) {
	txMap := map[string]subject.Transaction{
		"a": tx("a", &subject.BlockRef{Height: 1}, 1),
	}
	order := []string{"missing", "a"}

	SortIDs(order, txMap)
	require.Equal(t, []string{"a", "missing"}, order)
}

func ids(txs []subject.Transaction) []string {
	out := make([]string, len(txs))
	for i, t := range txs {
		out[i] = t.TxID
	}
	return out
}
