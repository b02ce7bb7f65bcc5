package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cerrors "github.com/raipay/chronikcache/errors"
)

func withFastSleep(t *testing.T) {
	t.Helper()
	orig := sleepFunc
	sleepFunc = func(ctx context.Context, d time.Duration) error { return nil }
	t.Cleanup(func() { sleepFunc = orig })
}

func TestBackoffDelay(t *testing.T) {
	base := 100 * time.Millisecond
	require.Equal(t, base, backoffDelay(base, 1, true))
	require.Equal(t, 2*base, backoffDelay(base, 2, true))
	require.Equal(t, 4*base, backoffDelay(base, 3, true))
	require.Equal(t, base, backoffDelay(base, 3, false))
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	withFastSleep(t)
	e := New(Config{MaxRetries: 3, RetryDelay: time.Millisecond}, nil)

	attempts := 0
	err := e.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestExecuteSurfacesLastErrorAfterExhaustion(t *testing.T) {
	withFastSleep(t)
	e := New(Config{MaxRetries: 2, RetryDelay: time.Millisecond}, nil)

	attempts := 0
	err := e.Execute(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("always fails")
	})

	require.Error(t, err)
	require.Equal(t, 2, attempts)
}

func TestExecuteRespectsCancelledContext(t *testing.T) {
	e := New(DefaultConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := e.Execute(ctx, func(ctx context.Context) error {
		t.Fatal("op should not run with an already-cancelled context")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestHandleDbOperationConvertsNotFoundToNil(t *testing.T) {
	withFastSleep(t)
	e := New(Config{MaxRetries: 1}, nil)

	err := e.HandleDbOperation(context.Background(), func(ctx context.Context) error {
		return cerrors.New(cerrors.NotFound, "no such key")
	})
	require.NoError(t, err)
}

func TestHandleDbOperationPropagatesOtherErrors(t *testing.T) {
	withFastSleep(t)
	e := New(Config{MaxRetries: 1}, nil)

	err := e.HandleDbOperation(context.Background(), func(ctx context.Context) error {
		return cerrors.New(cerrors.Transport, "connection refused")
	})
	require.Error(t, err)
}

func TestHandleWebSocketOperationWrapsAsTransport(t *testing.T) {
	withFastSleep(t)
	e := New(Config{MaxRetries: 1}, nil)

	err := e.HandleWebSocketOperation(context.Background(), "address:abc", func(ctx context.Context) error {
		return errors.New("ECONNRESET")
	})
	require.Error(t, err)
	require.Equal(t, cerrors.Transport, cerrors.KindOf(err))
}
