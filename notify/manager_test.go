package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/raipay/chronikcache/subject"
)

type fakeTransport struct {
	mu             sync.Mutex
	subscribed     map[string]OnEvent
	failNextSub    bool
	onReconnect    func()
	onError        func(error)
	onEnd          func()
	closedNS       []subject.Namespace
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{subscribed: make(map[string]OnEvent)}
}

func (f *fakeTransport) SubscribeToAddress(ctx context.Context, id string, onEvent OnEvent) error {
	return f.subscribe("address:"+id, onEvent)
}
func (f *fakeTransport) SubscribeToTokenID(ctx context.Context, id string, onEvent OnEvent) error {
	return f.subscribe("token:"+id, onEvent)
}
func (f *fakeTransport) subscribe(key string, onEvent OnEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNextSub {
		f.failNextSub = false
		return context.DeadlineExceeded
	}
	f.subscribed[key] = onEvent
	return nil
}
func (f *fakeTransport) UnsubscribeFromAddress(ctx context.Context, id string) error {
	return f.unsubscribe("address:" + id)
}
func (f *fakeTransport) UnsubscribeFromTokenID(ctx context.Context, id string) error {
	return f.unsubscribe("token:" + id)
}
func (f *fakeTransport) unsubscribe(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subscribed, key)
	return nil
}
func (f *fakeTransport) OnConnect(func())      {}
func (f *fakeTransport) OnReconnect(fn func()) { f.onReconnect = fn }
func (f *fakeTransport) OnError(fn func(error)) { f.onError = fn }
func (f *fakeTransport) OnEnd(fn func())       { f.onEnd = fn }
func (f *fakeTransport) WaitForOpen(ctx context.Context) error { return nil }
func (f *fakeTransport) CloseNamespace(ns subject.Namespace) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closedNS = append(f.closedNS, ns)
	return nil
}

func (f *fakeTransport) fire(key, txid string, msgType MsgType) {
	f.mu.Lock()
	onEvent := f.subscribed[key]
	f.mu.Unlock()
	if onEvent == nil {
		return
	}
	ns := subject.Address
	id := key[len("address:"):]
	if key[:6] == "token:" {
		ns, id = subject.Token, key[len("token:"):]
	}
	onEvent(subject.Subject{Namespace: ns, ID: id}, txid, msgType)
}

func TestAttachIsIdempotent(t *testing.T) {
	ft := newFakeTransport()
	m := New(Config{MaxSubscriptions: 5}, ft, nil, nil)

	sub := subject.Subject{Namespace: subject.Address, ID: "a"}
	require.NoError(t, m.Attach(context.Background(), sub, func(subject.Subject, string, MsgType) {}))
	require.NoError(t, m.Attach(context.Background(), sub, func(subject.Subject, string, MsgType) {}))

	require.Equal(t, 1, m.Len(subject.Address))
}

func TestAttachDeliversEvents(t *testing.T) {
	ft := newFakeTransport()
	m := New(Config{MaxSubscriptions: 5}, ft, nil, nil)

	sub := subject.Subject{Namespace: subject.Address, ID: "a"}
	got := make(chan MsgType, 1)
	require.NoError(t, m.Attach(context.Background(), sub, func(_ subject.Subject, _ string, mt MsgType) {
		got <- mt
	}))

	ft.fire("address:a", "tx1", TxAddedToMempool)

	select {
	case mt := <-got:
		require.Equal(t, TxAddedToMempool, mt)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestFifoEvictionInvokesOnEvictOnce(t *testing.T) {
	ft := newFakeTransport()
	var evicted []subject.Subject
	var mu sync.Mutex
	m := New(Config{MaxSubscriptions: 2}, ft, nil, func(sub subject.Subject) {
		mu.Lock()
		evicted = append(evicted, sub)
		mu.Unlock()
	})

	ctx := context.Background()
	noop := func(subject.Subject, string, MsgType) {}
	require.NoError(t, m.Attach(ctx, subject.Subject{Namespace: subject.Address, ID: "x"}, noop))
	require.NoError(t, m.Attach(ctx, subject.Subject{Namespace: subject.Address, ID: "y"}, noop))
	require.NoError(t, m.Attach(ctx, subject.Subject{Namespace: subject.Address, ID: "z"}, noop))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, evicted, 1)
	require.Equal(t, "x", evicted[0].ID)
	require.Equal(t, 2, m.Len(subject.Address))
}

func TestDetachClosesNamespaceWhenEmpty(t *testing.T) {
	ft := newFakeTransport()
	m := New(Config{MaxSubscriptions: 5}, ft, nil, nil)

	sub := subject.Subject{Namespace: subject.Token, ID: "t"}
	require.NoError(t, m.Attach(context.Background(), sub, func(subject.Subject, string, MsgType) {}))
	require.NoError(t, m.Detach(context.Background(), sub))

	require.Equal(t, []subject.Namespace{subject.Token}, ft.closedNS)
	require.Equal(t, 0, m.Len(subject.Token))
}

func TestRemainingTimeReportsNoActiveTimerInitially(t *testing.T) {
	ft := newFakeTransport()
	m := New(Config{MaxSubscriptions: 5}, ft, nil, nil)

	sub := subject.Subject{Namespace: subject.Address, ID: "a"}
	require.NoError(t, m.Attach(context.Background(), sub, func(subject.Subject, string, MsgType) {}))

	active, _, _ := m.RemainingTime(sub)
	require.False(t, active)
}

func TestResetTimerArmsAndExtends(t *testing.T) {
	ft := newFakeTransport()
	m := New(Config{MaxSubscriptions: 5, WSTimeout: time.Hour, WSExtendTimeout: 10 * time.Minute}, ft, nil, nil)

	sub := subject.Subject{Namespace: subject.Address, ID: "a"}
	require.NoError(t, m.Attach(context.Background(), sub, func(subject.Subject, string, MsgType) {}))

	m.ResetTimer(sub, nil)
	active, remaining, _ := m.RemainingTime(sub)
	require.True(t, active)
	require.InDelta(t, time.Hour.Seconds(), float64(remaining), 5)

	m.ResetTimer(sub, nil)
	_, remaining2, _ := m.RemainingTime(sub)
	require.Greater(t, remaining2, remaining)
}
