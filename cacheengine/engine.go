package cacheengine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/raipay/chronikcache/datahash"
	"github.com/raipay/chronikcache/indexer"
	"github.com/raipay/chronikcache/notify"
	"github.com/raipay/chronikcache/queue"
	"github.com/raipay/chronikcache/retry"
	"github.com/raipay/chronikcache/subject"
	"github.com/raipay/chronikcache/substore"
	"github.com/raipay/chronikcache/txorder"
	"github.com/raipay/chronikcache/ulogger"
)

// Engine drives the per-subject cache state machine: it decides when to
// serve from memory, when to fall through to the indexer, and when to
// schedule a background rebuild, coordinating the durable store, the
// notification manager and the two task queues.
type Engine struct {
	cfg    Config
	logger ulogger.Logger

	client indexer.Client
	store  *substore.Store
	notify *notify.Manager
	retry  *retry.Envelope

	buildPool  *queue.Pool
	repairPool *queue.Pool

	statusMu sync.RWMutex
	status   map[string]State

	updateLocks *keyedMutex
	debounce    *debouncer

	addrMem  *memCache
	tokenMem *memCache
}

// New builds an Engine. notifier may be nil, in which case Attach/timer
// scheduling is skipped: a subject still becomes LATEST after a build and
// is served from the cache, but no push events keep it current (suitable
// for callers with no push transport).
func New(cfg Config, client indexer.Client, store *substore.Store, notifier *notify.Manager, retryEnv *retry.Envelope, logger ulogger.Logger) *Engine {
	if logger == nil {
		logger = ulogger.New("cacheengine")
	}

	e := &Engine{
		cfg:         cfg,
		logger:      logger,
		client:      client,
		store:       store,
		notify:      notifier,
		retry:       retryEnv,
		buildPool:   queue.New("build", cfg.BuildConcurrency),
		repairPool:  queue.New("repair", cfg.RepairConcurrency),
		status:      make(map[string]State),
		updateLocks: newKeyedMutex(),
		debounce:    newDebouncer(cfg.DebounceWindow),
		addrMem:     newMemCache(cfg.MemCacheTTL, cfg.MemCacheExtend, cfg.SweepInterval),
		tokenMem:    newMemCache(cfg.MemCacheTTL, cfg.MemCacheExtend, cfg.SweepInterval),
	}

	return e
}

func (e *Engine) memOf(ns subject.Namespace) *memCache {
	if ns == subject.Token {
		return e.tokenMem
	}
	return e.addrMem
}

// StateOf reports sub's current state (used by GetCacheStatus).
func (e *Engine) StateOf(sub subject.Subject) State {
	return e.getState(sub)
}

func (e *Engine) getState(sub subject.Subject) State {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status[sub.Key()]
}

func (e *Engine) setState(sub subject.Subject, s State) {
	e.statusMu.Lock()
	e.status[sub.Key()] = s
	e.statusMu.Unlock()
}

// Destroy stops the background pools and memory-cache sweepers. It does
// not touch durable state.
func (e *Engine) Destroy() {
	e.buildPool.StopAndWait()
	e.repairPool.StopAndWait()
	e.addrMem.stop()
	e.tokenMem.stop()
	if e.notify != nil {
		e.notify.DetachAll(context.Background())
	}
}

// ClearSubject drops sub's durable data, memory-cache entry and in-memory
// state, and detaches its subscription.
func (e *Engine) ClearSubject(ctx context.Context, sub subject.Subject) error {
	e.memOf(sub.Namespace).invalidate(sub.Key())
	e.statusMu.Lock()
	delete(e.status, sub.Key())
	e.statusMu.Unlock()

	if e.notify != nil {
		_ = e.notify.Detach(ctx, sub)
	}
	return e.store.ClearSubject(ctx, sub)
}

// ResetAll drops every subject's in-memory state and detaches every
// subscription, without touching durable storage. Callers clear the
// durable store separately (e.g. substore.Store.ClearAll) before or after.
func (e *Engine) ResetAll(ctx context.Context) {
	e.statusMu.Lock()
	e.status = make(map[string]State)
	e.statusMu.Unlock()

	e.addrMem.invalidateAll()
	e.tokenMem.invalidateAll()

	if e.notify != nil {
		e.notify.DetachAll(ctx)
	}
}

func (e *Engine) fetchPage(ctx context.Context, sub subject.Subject, page, size int) (indexer.Page, error) {
	switch sub.Namespace {
	case subject.Token:
		return e.client.TokenHistory(ctx, sub.ID, page, size)
	default:
		return e.client.AddressHistory(ctx, sub.ID, page, size)
	}
}

func numPages(numTxs, pageSize int) int {
	if pageSize <= 0 {
		return 0
	}
	return int(math.Ceil(float64(numTxs) / float64(pageSize)))
}

// History serves a subject's history, per the entry contract: REJECT
// short-circuits to a size-bounded passthrough, a cold or warming subject
// probes the indexer and schedules a background build, and a LATEST
// subject is served from the two-tier cache with occasional hash
// verification.
func (e *Engine) History(ctx context.Context, sub subject.Subject, pageOffset, pageSize int) (Response, error) {
	state := e.getState(sub)

	if state == Reject {
		probeSize := pageSize
		if probeSize > e.cfg.LargePageThreshold {
			probeSize = e.cfg.LargePageThreshold
		}
		page, err := e.fetchPage(ctx, sub, pageOffset, probeSize)
		if err != nil {
			return Response{}, err
		}
		go e.checkAndUpdate(context.Background(), sub, page.NumTxs, false)
		return Response{
			Txs:      page.Txs,
			NumPages: page.NumPages,
			NumTxs:   page.NumTxs,
			Status:   StatusOverLimit,
			Message:  fmt.Sprintf("subject exceeds the %d transaction cache limit, results are not cached", e.cfg.MaxTxLimit),
		}, nil
	}

	if e.notify != nil {
		active, _, _ := e.notify.RemainingTime(sub)
		if !active && state == Latest {
			e.scheduleAttach(sub)
		}
		if active || state == Latest {
			e.notify.ResetTimer(sub, e.onExpire)
		}
	}

	if state != Latest {
		probe, err := e.fetchPage(ctx, sub, 0, e.cfg.ProbePageSize)
		if err != nil {
			return Response{}, err
		}

		if state != Updating {
			go e.checkAndUpdate(context.Background(), sub, probe.NumTxs, false)
		}

		if pageSize > e.cfg.LargePageThreshold {
			return Response{
				Status:  StatusBeingPrepared,
				Message: "cache is being prepared for this subject, retry with a smaller page size or again shortly",
			}, nil
		}

		page, err := e.fetchPage(ctx, sub, pageOffset, pageSize)
		if err != nil {
			return Response{}, err
		}
		return Response{
			Txs:      page.Txs,
			NumPages: page.NumPages,
			NumTxs:   page.NumTxs,
			Status:   StatusPassthrough,
		}, nil
	}

	return e.servePage(ctx, sub, pageOffset, pageSize)
}

func (e *Engine) onExpire(sub subject.Subject) {
	e.setState(sub, Unknown)
	e.memOf(sub.Namespace).invalidate(sub.Key())
}

func (e *Engine) scheduleAttach(sub subject.Subject) {
	if e.notify == nil {
		return
	}
	go func() {
		ctx := context.Background()
		err := e.retry.HandleWebSocketOperation(ctx, sub.Key(), func(ctx context.Context) error {
			return e.notify.Attach(ctx, sub, e.onNotifyEvent)
		})
		if err != nil {
			e.logger.Warnf("attach %s failed: %v", sub.Key(), err)
			return
		}
		e.notify.ResetTimer(sub, e.onExpire)
	}()
}

// onNotifyEvent is the OnEvent callback wired to every attached
// subscription: mempool arrivals invalidate and probe for a rebuild,
// finalization invalidates and repairs the single confirmed transaction.
func (e *Engine) onNotifyEvent(sub subject.Subject, txid string, msgType notify.MsgType) {
	e.memOf(sub.Namespace).invalidate(sub.Key())

	switch msgType {
	case notify.TxAddedToMempool:
		e.debounce.trigger(sub.Key()+":mempool", func() {
			ctx := context.Background()
			probe, err := e.fetchPage(ctx, sub, 0, e.cfg.ProbePageSize)
			if err != nil {
				e.logger.Warnf("mempool probe for %s failed: %v", sub.Key(), err)
				return
			}
			e.checkAndUpdate(ctx, sub, probe.NumTxs, false)
		})
	case notify.TxFinalized:
		e.debounce.trigger(sub.Key()+":finalized", func() {
			if err := e.updateUnconfirmed(context.Background(), sub, txid); err != nil {
				e.logger.Warnf("finalize repair for %s/%s failed: %v", sub.Key(), txid, err)
			}
		})
	}
}

// checkAndUpdate decides whether the durable cache is stale relative to
// apiNumTxs and, if so, enqueues a rebuild on the build pool. It is the
// sole place the UPDATING transition and the per-subject update lock are
// taken together, so at most one build per subject runs at a time.
func (e *Engine) checkAndUpdate(ctx context.Context, sub subject.Subject, apiNumTxs int, forceUpdate bool) {
	if apiNumTxs > e.cfg.MaxTxLimit {
		e.setState(sub, Reject)
		e.memOf(sub.Namespace).invalidate(sub.Key())
		return
	}

	key := sub.Key()
	if !e.updateLocks.tryLock(key) {
		e.logger.Debugf("checkAndUpdate: %s already has a build in flight", key)
		return
	}

	meta, err := e.store.ReadMetadata(ctx, sub)
	if err != nil {
		e.updateLocks.unlock(key)
		e.logger.Warnf("checkAndUpdate: read metadata for %s: %v", key, err)
		return
	}

	stale := meta == nil || meta.NumTxs != apiNumTxs || forceUpdate
	if !stale {
		e.updateLocks.unlock(key)
		e.setState(sub, Latest)
		e.scheduleAttach(sub)
		return
	}

	have := 0
	if meta != nil {
		have = meta.NumTxs
	}
	dynamicPageSize := apiNumTxs - have
	if dynamicPageSize < 1 {
		dynamicPageSize = 1
	}
	if dynamicPageSize > e.cfg.LargePageThreshold {
		dynamicPageSize = e.cfg.LargePageThreshold
	}

	e.setState(sub, Updating)
	queue.Enqueue(e.buildPool, func(ctx context.Context) (struct{}, error) {
		defer e.updateLocks.unlock(key)
		if err := e.updateCache(ctx, sub, apiNumTxs, dynamicPageSize); err != nil {
			e.logger.Errorf("updateCache %s failed: %v", key, err)
			e.setState(sub, Unknown)
		}
		return struct{}{}, nil
	})
}

// updateCache rebuilds a subject's durable txMap/txOrder by paging through
// the indexer until the known count is reached, persisting incrementally
// (throttled once the set grows past ThrottleThreshold) so a crash mid
// build loses at most one throttle window of progress.
func (e *Engine) updateCache(ctx context.Context, sub subject.Subject, totalNumTxs, pageSize int) error {
	if totalNumTxs > e.cfg.MaxTxLimit {
		e.setState(sub, Reject)
		e.memOf(sub.Namespace).invalidate(sub.Key())
		return nil
	}

	existing, err := e.store.Read(ctx, sub)
	if err != nil {
		return err
	}

	txMap := map[string]subject.Transaction{}
	var txOrder []string
	if existing != nil {
		txMap = existing.TxMap
		txOrder = existing.TxOrder
	}

	page := 0
	iteration := 0
	for len(txMap) < totalNumTxs {
		if err := ctx.Err(); err != nil {
			return err
		}

		var resp indexer.Page
		err := e.retry.Execute(ctx, func(ctx context.Context) error {
			var opErr error
			resp, opErr = e.fetchPage(ctx, sub, page, pageSize)
			return opErr
		})
		if err != nil {
			return err
		}
		if len(resp.Txs) == 0 {
			break // indexer has fewer transactions than apiNumTxs reported; stop here
		}

		added := false
		for _, tx := range resp.Txs {
			if _, ok := txMap[tx.TxID]; !ok {
				txOrder = append(txOrder, tx.TxID)
				added = true
			}
			txMap[tx.TxID] = tx
		}

		iteration++
		if added {
			txorder.SortIDs(txOrder, txMap)
			if len(txMap) < e.cfg.ThrottleThreshold || iteration%e.cfg.ThrottleEvery == 0 {
				if err := e.store.Write(ctx, sub, &substore.Data{TxMap: txMap, TxOrder: txOrder, NumTxs: len(txOrder)}); err != nil {
					return err
				}
			}
		}

		page++
	}

	if err := e.store.Write(ctx, sub, &substore.Data{TxMap: txMap, TxOrder: txOrder, NumTxs: len(txOrder)}); err != nil {
		return err
	}

	e.memOf(sub.Namespace).invalidate(sub.Key())
	e.setState(sub, Latest)
	e.scheduleAttach(sub)
	return nil
}

// servePage answers a LATEST subject from the two-tier cache: memory
// first, durable store on miss, with an occasional content-hash check
// against the durable header that triggers an invalidation and forced
// rebuild on drift, then a repair pass for any page entries missing block
// context.
func (e *Engine) servePage(ctx context.Context, sub subject.Subject, pageOffset, pageSize int) (Response, error) {
	mem := e.memOf(sub.Namespace)

	data, hit := mem.get(sub.Key())
	if !hit {
		loaded, err := e.store.Read(ctx, sub)
		if err != nil {
			return Response{}, err
		}
		if loaded == nil {
			return e.passthrough(ctx, sub, pageOffset, pageSize)
		}
		data = loaded
		mem.set(sub.Key(), data)
	}

	if rand.Float64() < e.cfg.HashCheckProbability {
		meta, err := e.store.ReadMetadata(ctx, sub)
		if err == nil && meta != nil {
			if datahash.Hash(data.TxOrder) != meta.DataHash {
				mem.invalidate(sub.Key())
				go e.checkAndUpdate(context.Background(), sub, meta.NumTxs, true)
			}
		}
	}

	start := pageOffset * pageSize
	if start >= len(data.TxOrder) {
		return Response{Txs: nil, NumPages: numPages(data.NumTxs, pageSize), NumTxs: data.NumTxs}, nil
	}
	end := start + pageSize
	if end > len(data.TxOrder) {
		end = len(data.TxOrder)
	}

	visible := make([]subject.Transaction, 0, end-start)
	for _, id := range data.TxOrder[start:end] {
		visible = append(visible, data.TxMap[id])
	}

	visible = e.repairPage(ctx, sub, data, visible)

	return Response{
		Txs:      visible,
		NumPages: numPages(data.NumTxs, pageSize),
		NumTxs:   data.NumTxs,
	}, nil
}

func (e *Engine) passthrough(ctx context.Context, sub subject.Subject, pageOffset, pageSize int) (Response, error) {
	page, err := e.fetchPage(ctx, sub, pageOffset, pageSize)
	if err != nil {
		return Response{}, err
	}
	go e.checkAndUpdate(context.Background(), sub, page.NumTxs, false)
	return Response{Txs: page.Txs, NumPages: page.NumPages, NumTxs: page.NumTxs, Status: StatusPassthrough}, nil
}

// repairPage refetches, on the repair pool, every visible transaction that
// is missing block context (an unconfirmed transaction the indexer has
// since confirmed but that a push notification was lost for), and
// persists any change it finds.
func (e *Engine) repairPage(ctx context.Context, sub subject.Subject, data *substore.Data, visible []subject.Transaction) []subject.Transaction {
	type repaired struct {
		idx int
		tx  subject.Transaction
	}

	var futures []*queue.Future[repaired]
	for i, tx := range visible {
		if tx.IsConfirmed() {
			continue
		}
		i, txid := i, tx.TxID
		futures = append(futures, queue.Enqueue(e.repairPool, func(ctx context.Context) (repaired, error) {
			fresh, err := e.client.Tx(ctx, txid)
			return repaired{idx: i, tx: fresh}, err
		}))
	}
	if len(futures) == 0 {
		return visible
	}

	changed := false
	for _, fut := range futures {
		r, err := fut.Wait(ctx)
		if err != nil {
			e.logger.Warnf("repair %s: refetch failed: %v", sub.Key(), err)
			continue
		}
		if r.tx.IsConfirmed() {
			visible[r.idx] = r.tx
			data.TxMap[r.tx.TxID] = r.tx
			changed = true
		}
	}

	if changed {
		data.Sort()
		if err := e.store.Write(ctx, sub, data); err != nil {
			e.logger.Warnf("repair %s: persist failed: %v", sub.Key(), err)
		}
		e.memOf(sub.Namespace).set(sub.Key(), data)
	}

	return visible
}

// updateUnconfirmed refetches a single transaction (used on TX_FINALIZED
// notifications) and rewrites it in place if the subject is cached,
// without triggering a full rebuild.
func (e *Engine) updateUnconfirmed(ctx context.Context, sub subject.Subject, txid string) error {
	fut := queue.Enqueue(e.repairPool, func(ctx context.Context) (subject.Transaction, error) {
		return e.client.Tx(ctx, txid)
	})
	fresh, err := fut.Wait(ctx)
	if err != nil {
		return err
	}

	data, err := e.store.Read(ctx, sub)
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}
	if _, ok := data.TxMap[txid]; !ok {
		return nil
	}

	data.TxMap[txid] = fresh
	data.Sort()
	if err := e.store.Write(ctx, sub, data); err != nil {
		return err
	}
	e.memOf(sub.Namespace).set(sub.Key(), data)
	return nil
}
