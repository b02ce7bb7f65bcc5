package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/raipay/chronikcache/subject"
	"github.com/raipay/chronikcache/ulogger"
)

// MaxSingleTimerDuration clamps any single timer sleep; an expiry
// further out than this must be re-armed on each firing-less tick.
const MaxSingleTimerDuration = 15 * 24 * time.Hour

// ReconnectWindow bounds how long the manager waits for a successful
// resubscribe-all after a transport reconnect before giving up on the
// affected subjects.
const ReconnectWindow = 5 * time.Second

// Config configures a Manager.
type Config struct {
	MaxSubscriptions int
	WSTimeout        time.Duration
	WSExtendTimeout  time.Duration
}

// DefaultConfig returns the default notification-manager settings.
func DefaultConfig() Config {
	return Config{
		MaxSubscriptions: 30,
		WSTimeout:        12 * time.Hour,
		WSExtendTimeout:  30 * time.Minute,
	}
}

// OnEvict is invoked exactly once per eviction/timeout, whether triggered
// by capacity pressure or by an expired timer, so the cache engine can
// drop the subject's state to UNKNOWN.
type OnEvict func(sub subject.Subject)

// Manager maintains the two logical subscription sets, address and token.
type Manager struct {
	cfg       Config
	transport Transport
	logger    ulogger.Logger
	onEvict   OnEvict

	addr  *subscriptionSet
	token *subscriptionSet

	mu       sync.Mutex
	onEvents map[string]OnEvent // keyed by subject.Key(), so resubscribe can reuse it
}

// New builds a Manager over transport. onEvict is called on capacity
// eviction and on timer expiry.
func New(cfg Config, transport Transport, logger ulogger.Logger, onEvict OnEvict) *Manager {
	if logger == nil {
		logger = ulogger.New("notify")
	}
	if cfg.MaxSubscriptions <= 0 {
		cfg.MaxSubscriptions = 30
	}
	if cfg.WSTimeout <= 0 {
		cfg.WSTimeout = 12 * time.Hour
	}
	if cfg.WSExtendTimeout <= 0 {
		cfg.WSExtendTimeout = 30 * time.Minute
	}

	m := &Manager{
		cfg:       cfg,
		transport: transport,
		logger:    logger,
		onEvict:   onEvict,
		addr:      newSubscriptionSet(cfg.MaxSubscriptions),
		token:     newSubscriptionSet(cfg.MaxSubscriptions),
		onEvents:  make(map[string]OnEvent),
	}

	transport.OnReconnect(m.handleReconnect)
	transport.OnError(func(err error) {
		logger.Warnf("transport error: %v", err)
	})
	transport.OnEnd(func() {
		logger.Warnf("transport ended")
	})

	return m
}

func (m *Manager) setOf(ns subject.Namespace) *subscriptionSet {
	if ns == subject.Token {
		return m.token
	}
	return m.addr
}

// Attach subscribes to sub if not already subscribed (idempotent). If the
// namespace's set is at capacity, the oldest subject is evicted (FIFO)
// and onEvict is invoked exactly once for it.
func (m *Manager) Attach(ctx context.Context, sub subject.Subject, onEvent OnEvent) error {
	set := m.setOf(sub.Namespace)

	evicted, hadEviction, already := set.insert(sub.ID)
	if already {
		m.logger.Infof("attach: subject %s already subscribed", sub.Key())
		return nil
	}

	if hadEviction {
		evictedSub := subject.Subject{Namespace: sub.Namespace, ID: evicted}
		m.forgetOnEvent(evictedSub)
		if err := m.unsubscribeTransport(ctx, evictedSub); err != nil {
			m.logger.Warnf("evict: unsubscribe %s failed: %v", evictedSub.Key(), err)
		}
		if m.onEvict != nil {
			m.onEvict(evictedSub)
		}
	}

	m.rememberOnEvent(sub, onEvent)

	wrapped := m.safeOnEvent(sub, onEvent)
	if err := m.subscribeTransport(ctx, sub, wrapped); err != nil {
		set.remove(sub.ID)
		m.forgetOnEvent(sub)
		return err
	}

	return nil
}

// Detach unsubscribes sub and clears any pending timer. If the namespace
// has no remaining subscriptions after removal, its transport channel is
// closed.
func (m *Manager) Detach(ctx context.Context, sub subject.Subject) error {
	set := m.setOf(sub.Namespace)
	if !set.remove(sub.ID) {
		return nil
	}
	m.forgetOnEvent(sub)

	err := m.unsubscribeTransport(ctx, sub)

	if set.len() == 0 {
		if cerr := m.transport.CloseNamespace(sub.Namespace); cerr != nil {
			m.logger.Warnf("close namespace %s: %v", sub.Namespace, cerr)
		}
	}

	return err
}

// DetachAll unsubscribes every subject in both namespaces.
func (m *Manager) DetachAll(ctx context.Context) {
	for _, ns := range []subject.Namespace{subject.Address, subject.Token} {
		set := m.setOf(ns)
		for _, id := range set.clear() {
			sub := subject.Subject{Namespace: ns, ID: id}
			m.forgetOnEvent(sub)
			if err := m.unsubscribeTransport(ctx, sub); err != nil {
				m.logger.Warnf("detachAll: unsubscribe %s failed: %v", sub.Key(), err)
			}
		}
		_ = m.transport.CloseNamespace(ns)
	}
}

// ResetTimer arms or extends sub's expiry timer. The first call sets
// expiry to now+wsTimeout; subsequent calls extend by wsExtendTimeout from
// the previous expiry. Firing detaches the subject and invokes onExpire.
func (m *Manager) ResetTimer(sub subject.Subject, onExpire func(subject.Subject)) {
	set := m.setOf(sub.Namespace)
	if !set.has(sub.ID) {
		return
	}

	existing := set.getTimer(sub.ID)

	var expiry time.Time
	if existing == nil {
		expiry = time.Now().Add(m.cfg.WSTimeout)
	} else {
		expiry = existing.expiry.Add(m.cfg.WSExtendTimeout)
	}

	ts := &timerState{expiry: expiry}
	ts.onExpire = func() {
		m.fireExpiry(sub, ts, onExpire)
	}
	m.armTimer(set, sub.ID, ts)
	set.setTimer(sub.ID, ts)
}

// armTimer schedules ts.timer to fire at ts.expiry, clamped to
// MaxSingleTimerDuration; a longer wait is re-armed (without firing) once
// the clamp elapses.
func (m *Manager) armTimer(set *subscriptionSet, id string, ts *timerState) {
	wait := time.Until(ts.expiry)
	if wait > MaxSingleTimerDuration {
		ts.timer = time.AfterFunc(MaxSingleTimerDuration, func() {
			m.armTimer(set, id, ts)
		})
		return
	}
	if wait < 0 {
		wait = 0
	}
	ts.timer = time.AfterFunc(wait, ts.onExpire)
}

func (m *Manager) fireExpiry(sub subject.Subject, ts *timerState, onExpire func(subject.Subject)) {
	set := m.setOf(sub.Namespace)
	if cur := set.getTimer(sub.ID); cur != ts {
		return // superseded by a later resetTimer/detach
	}

	_ = m.Detach(context.Background(), sub)
	if onExpire != nil {
		onExpire(sub)
	}
	if m.onEvict != nil {
		m.onEvict(sub)
	}
}

// RemainingTime reports whether sub's timer is live and how long remains.
func (m *Manager) RemainingTime(sub subject.Subject) (active bool, remainingSeconds int64, message string) {
	set := m.setOf(sub.Namespace)
	ts := set.getTimer(sub.ID)
	if ts == nil {
		return false, 0, "no active timer"
	}
	remaining := time.Until(ts.expiry)
	if remaining <= 0 {
		return false, 0, "timer already expired"
	}
	return true, int64(remaining.Seconds()), ""
}

func (m *Manager) rememberOnEvent(sub subject.Subject, onEvent OnEvent) {
	m.mu.Lock()
	m.onEvents[sub.Key()] = onEvent
	m.mu.Unlock()
}

func (m *Manager) forgetOnEvent(sub subject.Subject) {
	m.mu.Lock()
	delete(m.onEvents, sub.Key())
	m.mu.Unlock()
}

func (m *Manager) safeOnEvent(sub subject.Subject, onEvent OnEvent) OnEvent {
	return func(s subject.Subject, txid string, msgType MsgType) {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Errorf("panic in notification callback for %s: %v", sub.Key(), r)
			}
		}()
		onEvent(s, txid, msgType)
	}
}

func (m *Manager) subscribeTransport(ctx context.Context, sub subject.Subject, onEvent OnEvent) error {
	if sub.Namespace == subject.Token {
		return m.transport.SubscribeToTokenID(ctx, sub.ID, onEvent)
	}
	return m.transport.SubscribeToAddress(ctx, sub.ID, onEvent)
}

func (m *Manager) unsubscribeTransport(ctx context.Context, sub subject.Subject) error {
	if sub.Namespace == subject.Token {
		return m.transport.UnsubscribeFromTokenID(ctx, sub.ID)
	}
	return m.transport.UnsubscribeFromAddress(ctx, sub.ID)
}

// handleReconnect re-subscribes every known subject in both namespaces. A
// subject that fails to resubscribe within ReconnectWindow is detached and
// reported via onEvict so the cache engine resets its state to UNKNOWN.
func (m *Manager) handleReconnect() {
	ctx, cancel := context.WithTimeout(context.Background(), ReconnectWindow)
	defer cancel()

	for _, ns := range []subject.Namespace{subject.Address, subject.Token} {
		set := m.setOf(ns)
		for _, id := range set.ids() {
			sub := subject.Subject{Namespace: ns, ID: id}

			m.mu.Lock()
			onEvent, ok := m.onEvents[sub.Key()]
			m.mu.Unlock()
			if !ok {
				continue
			}

			if err := m.subscribeTransport(ctx, sub, m.safeOnEvent(sub, onEvent)); err != nil {
				m.logger.Warnf("reconnect: resubscribe %s failed: %v", sub.Key(), err)
				set.remove(sub.ID)
				m.forgetOnEvent(sub)
				if m.onEvict != nil {
					m.onEvict(sub)
				}
			}
		}
	}
}

// Len reports the number of live subscriptions in a namespace (used by
// Stats).
func (m *Manager) Len(ns subject.Namespace) int {
	return m.setOf(ns).len()
}

// Key is a small helper so callers building log lines/messages can share
// the same "<namespace>:<id>" format as Subject.Key without importing
// subject directly.
func Key(ns subject.Namespace, id string) string {
	return fmt.Sprintf("%s:%s", ns, id)
}
