package notify

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/raipay/chronikcache/subject"
	"github.com/raipay/chronikcache/ulogger"
)

// WSAdapter is a concrete Transport backed by a single gorilla/websocket
// connection to a Chronik-compatible push endpoint. Subscribe requests are
// sent as small JSON control frames; inbound frames are dispatched to the
// callback registered for the matching (namespace, id) pair. Callers with
// a different wire protocol implement Transport directly instead.
type WSAdapter struct {
	url    string
	logger ulogger.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	open     bool
	handlers map[string]OnEvent // keyed by "<namespace>:<id>"

	onConnect   func()
	onReconnect func()
	onError     func(error)
	onEnd       func()

	openCh chan struct{}
}

type wireControl struct {
	Action  string `json:"action"` // "subscribe" | "unsubscribe"
	NS      string `json:"ns"`     // "address" | "token"
	ID      string `json:"id"`
}

type wireEvent struct {
	Type    string `json:"type"`
	MsgType string `json:"msgType"`
	TxID    string `json:"txid"`
	NS      string `json:"ns"`
	ID      string `json:"id"`
}

// NewWSAdapter creates a WSAdapter targeting url. Dial happens lazily on
// the first Subscribe call or an explicit call to Connect.
func NewWSAdapter(url string, logger ulogger.Logger) *WSAdapter {
	if logger == nil {
		logger = ulogger.New("notify.ws")
	}
	return &WSAdapter{
		url:      url,
		logger:   logger,
		handlers: make(map[string]OnEvent),
		openCh:   make(chan struct{}),
	}
}

// Connect dials the websocket endpoint and starts the read loop. It is
// idempotent; subsequent calls are no-ops while already connected.
func (w *WSAdapter) Connect(ctx context.Context) error {
	w.mu.Lock()
	if w.open {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return err
	}

	w.mu.Lock()
	wasReconnect := w.conn != nil
	w.conn = conn
	w.open = true
	close(w.openCh)
	w.openCh = make(chan struct{})
	w.mu.Unlock()

	go w.readLoop(conn)

	if wasReconnect && w.onReconnect != nil {
		w.onReconnect()
	} else if w.onConnect != nil {
		w.onConnect()
	}

	return nil
}

func (w *WSAdapter) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			w.open = false
			w.mu.Unlock()

			if w.onError != nil {
				w.onError(err)
			}
			if w.onEnd != nil {
				w.onEnd()
			}
			return
		}

		var ev wireEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			w.logger.Warnf("discarding malformed frame: %v", err)
			continue
		}

		w.mu.Lock()
		handler, ok := w.handlers[ev.NS+":"+ev.ID]
		w.mu.Unlock()
		if !ok {
			continue
		}

		var sub subject.Subject
		if ev.NS == "token" {
			sub = subject.Subject{Namespace: subject.Token, ID: ev.ID}
		} else {
			sub = subject.Subject{Namespace: subject.Address, ID: ev.ID}
		}

		handler(sub, ev.TxID, MsgType(ev.MsgType))
	}
}

func (w *WSAdapter) send(v wireControl) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return context.DeadlineExceeded
	}
	return conn.WriteJSON(v)
}

func (w *WSAdapter) SubscribeToAddress(ctx context.Context, id string, onEvent OnEvent) error {
	return w.subscribe(ctx, "address", id, onEvent)
}

func (w *WSAdapter) SubscribeToTokenID(ctx context.Context, id string, onEvent OnEvent) error {
	return w.subscribe(ctx, "token", id, onEvent)
}

func (w *WSAdapter) subscribe(ctx context.Context, ns, id string, onEvent OnEvent) error {
	if err := w.Connect(ctx); err != nil {
		return err
	}

	w.mu.Lock()
	w.handlers[ns+":"+id] = onEvent
	w.mu.Unlock()

	return w.send(wireControl{Action: "subscribe", NS: ns, ID: id})
}

func (w *WSAdapter) UnsubscribeFromAddress(ctx context.Context, id string) error {
	return w.unsubscribe(ctx, "address", id)
}

func (w *WSAdapter) UnsubscribeFromTokenID(ctx context.Context, id string) error {
	return w.unsubscribe(ctx, "token", id)
}

func (w *WSAdapter) unsubscribe(_ context.Context, ns, id string) error {
	w.mu.Lock()
	delete(w.handlers, ns+":"+id)
	w.mu.Unlock()

	return w.send(wireControl{Action: "unsubscribe", NS: ns, ID: id})
}

func (w *WSAdapter) OnConnect(f func())    { w.onConnect = f }
func (w *WSAdapter) OnReconnect(f func())  { w.onReconnect = f }
func (w *WSAdapter) OnError(f func(error)) { w.onError = f }
func (w *WSAdapter) OnEnd(f func())        { w.onEnd = f }

func (w *WSAdapter) WaitForOpen(ctx context.Context) error {
	w.mu.Lock()
	if w.open {
		w.mu.Unlock()
		return nil
	}
	ch := w.openCh
	w.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseNamespace closes the connection once neither namespace has any
// remaining handlers, since a single physical connection is shared.
func (w *WSAdapter) CloseNamespace(_ subject.Namespace) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.handlers) > 0 || w.conn == nil {
		return nil
	}

	err := w.conn.Close()
	w.conn = nil
	w.open = false
	return err
}
