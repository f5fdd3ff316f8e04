package tracker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// State is a transaction lifecycle state. Pending is the only initial
// state; the other three are terminal.
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions can occur.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed || s == StateCancelled
}

// Transaction is one tracked submission. Mutated only by the tracker.
type Transaction struct {
	Hash          string            `json:"hash"`
	Type          string            `json:"type"`
	State         State             `json:"state"`
	From          string            `json:"from"`
	To            string            `json:"to"`
	Value         decimal.Decimal   `json:"value"`
	Confirmations uint64            `json:"confirmations"`
	BlockNumber   *uint64           `json:"block_number,omitempty"`
	GasUsed       *uint64           `json:"gas_used,omitempty"`
	SubmittedAt   time.Time         `json:"submitted_at"`
	ResolvedAt    *time.Time        `json:"resolved_at,omitempty"`
	Error         string            `json:"error,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Receipt is the outcome reported by the confirmation source.
type Receipt struct {
	Succeeded     bool
	BlockNumber   uint64
	GasUsed       uint64
	Confirmations uint64
	FailureReason string
}

// ConfirmationSource resolves a submitted hash out of band. It blocks
// until the transaction is confirmed at the required depth, fails, or ctx
// is done.
type ConfirmationSource interface {
	WaitForConfirmation(ctx context.Context, hash string) (Receipt, error)
}

// Store persists tracked transactions so pending entries survive restarts.
type Store interface {
	LoadTransactions(ctx context.Context) (map[string]Transaction, error)
	SaveTransaction(ctx context.Context, tx Transaction) error
	DeleteTransaction(ctx context.Context, hash string) error
}

// Callback receives a snapshot of the transaction on every state
// transition for the subscribed hash.
type Callback func(Transaction)

// Options tune the tracker.
type Options struct {
	// ConfirmTimeout bounds the background wait; on expiry the
	// transaction resolves to Failed rather than staying Pending.
	ConfirmTimeout time.Duration
}

// Tracker assigns every submitted transaction an identity, drives its
// state machine as confirmations arrive, and notifies subscribers.
// Subscriber notification is fire-and-forget: a slow or panicking
// subscriber never blocks a transition or other subscribers.
type Tracker struct {
	source ConfirmationSource
	store  Store
	opts   Options
	logger zerolog.Logger

	mu      sync.RWMutex
	txs     map[string]*Transaction
	subs    map[string]map[int64]Callback
	nextSub int64
	cancels map[string]context.CancelFunc

	wg sync.WaitGroup
}

// New constructs a tracker. A nil store disables persistence.
func New(source ConfirmationSource, store Store, opts Options, logger zerolog.Logger) *Tracker {
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 10 * time.Minute
	}
	return &Tracker{
		source:  source,
		store:   store,
		opts:    opts,
		logger:  logger.With().Str("component", "tx_tracker").Logger(),
		txs:     make(map[string]*Transaction),
		subs:    make(map[string]map[int64]Callback),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Restore reloads persisted transactions and resumes the confirmation
// wait for any still-pending entry. Call once before Submit.
func (t *Tracker) Restore(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	loaded, err := t.store.LoadTransactions(ctx)
	if err != nil {
		return fmt.Errorf("load transactions: %w", err)
	}

	var resume []string
	t.mu.Lock()
	for hash, tx := range loaded {
		copied := tx
		t.txs[hash] = &copied
		if copied.State == StatePending {
			resume = append(resume, hash)
		}
	}
	t.mu.Unlock()

	for _, hash := range resume {
		t.startWait(hash)
	}
	t.logger.Info().Int("total", len(loaded)).Int("pending", len(resume)).Msg("tracked transactions restored")
	return nil
}

// Submit registers a new pending transaction, returns it immediately,
// and begins an asynchronous wait for confirmation. Submitting a hash
// that is already tracked returns the existing entry unchanged.
func (t *Tracker) Submit(ctx context.Context, hash, txType, from, to string, value decimal.Decimal, metadata map[string]string) Transaction {
	t.mu.Lock()
	if existing, ok := t.txs[hash]; ok {
		snapshot := *existing
		t.mu.Unlock()
		return snapshot
	}

	tx := &Transaction{
		Hash:        hash,
		Type:        txType,
		State:       StatePending,
		From:        from,
		To:          to,
		Value:       value,
		SubmittedAt: time.Now().UTC(),
		Metadata:    metadata,
	}
	t.txs[hash] = tx
	snapshot := *tx
	t.mu.Unlock()

	t.persist(ctx, snapshot)
	t.startWait(hash)

	t.logger.Info().Str("hash", hash).Str("type", txType).Msg("transaction submitted")
	return snapshot
}

func (t *Tracker) startWait(hash string) {
	waitCtx, cancel := context.WithTimeout(context.Background(), t.opts.ConfirmTimeout)

	t.mu.Lock()
	t.cancels[hash] = cancel
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer cancel()
		t.wait(waitCtx, hash)
	}()
}

func (t *Tracker) wait(ctx context.Context, hash string) {
	receipt, err := t.source.WaitForConfirmation(ctx, hash)
	switch {
	case err != nil && ctx.Err() == context.Canceled:
		// Explicit cancellation or shutdown. Cancel() has already moved
		// the entry to Cancelled, or the process is stopping and the
		// still-pending entry will be resumed by Restore.
		return
	case err != nil:
		// Covers network failures, rejections, and the bounded timeout:
		// the transaction must never stay pending on error.
		msg := err.Error()
		if ctx.Err() == context.DeadlineExceeded {
			msg = fmt.Sprintf("confirmation wait timed out after %s", t.opts.ConfirmTimeout)
		}
		t.resolve(hash, func(tx *Transaction) {
			tx.State = StateFailed
			tx.Error = msg
		})
	case !receipt.Succeeded:
		reason := receipt.FailureReason
		if reason == "" {
			reason = "transaction reverted"
		}
		t.resolve(hash, func(tx *Transaction) {
			tx.State = StateFailed
			tx.Error = reason
			block := receipt.BlockNumber
			tx.BlockNumber = &block
		})
	default:
		t.resolve(hash, func(tx *Transaction) {
			tx.State = StateConfirmed
			tx.Confirmations = receipt.Confirmations
			block := receipt.BlockNumber
			gas := receipt.GasUsed
			tx.BlockNumber = &block
			tx.GasUsed = &gas
		})
	}
}

// resolve applies a terminal mutation if the transaction is still
// pending, then persists and notifies. Late resolutions after an explicit
// cancellation are dropped.
func (t *Tracker) resolve(hash string, mutate func(*Transaction)) {
	t.mu.Lock()
	tx, ok := t.txs[hash]
	if !ok || tx.State != StatePending {
		t.mu.Unlock()
		return
	}
	mutate(tx)
	if !tx.State.Terminal() {
		t.mu.Unlock()
		panic(fmt.Sprintf("tracker: resolve left %s in non-terminal state %s", hash, tx.State))
	}
	now := time.Now().UTC()
	tx.ResolvedAt = &now
	delete(t.cancels, hash)
	snapshot := *tx
	t.mu.Unlock()

	t.persist(context.Background(), snapshot)
	t.notify(snapshot)

	t.logger.Info().
		Str("hash", hash).
		Str("state", string(snapshot.State)).
		Str("error", snapshot.Error).
		Msg("transaction resolved")
}

func (t *Tracker) persist(ctx context.Context, tx Transaction) {
	if t.store == nil {
		return
	}
	if err := t.store.SaveTransaction(ctx, tx); err != nil {
		t.logger.Error().Err(err).Str("hash", tx.Hash).Msg("failed to persist transaction")
	}
}

func (t *Tracker) notify(tx Transaction) {
	t.mu.RLock()
	callbacks := make([]Callback, 0, len(t.subs[tx.Hash]))
	for _, cb := range t.subs[tx.Hash] {
		callbacks = append(callbacks, cb)
	}
	t.mu.RUnlock()

	for _, cb := range callbacks {
		go func(cb Callback) {
			defer func() {
				if r := recover(); r != nil {
					t.logger.Warn().Str("hash", tx.Hash).Interface("panic", r).Msg("subscriber panicked")
				}
			}()
			cb(tx)
		}(cb)
	}
}

// Get returns a snapshot of a tracked transaction.
func (t *Tracker) Get(hash string) (Transaction, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tx, ok := t.txs[hash]
	if !ok {
		return Transaction{}, false
	}
	return *tx, true
}

// ListByType returns snapshots of transactions with the given type tag,
// newest first.
func (t *Tracker) ListByType(txType string) []Transaction {
	return t.list(func(tx *Transaction) bool { return tx.Type == txType })
}

// ListByAddress returns snapshots of transactions sent from or to the
// address, newest first.
func (t *Tracker) ListByAddress(address string) []Transaction {
	return t.list(func(tx *Transaction) bool {
		return strings.EqualFold(tx.From, address) || strings.EqualFold(tx.To, address)
	})
}

func (t *Tracker) list(match func(*Transaction) bool) []Transaction {
	t.mu.RLock()
	var out []Transaction
	for _, tx := range t.txs {
		if match(tx) {
			out = append(out, *tx)
		}
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out
}

// Subscribe registers a callback for every state transition of hash and
// returns a deregistration capability.
func (t *Tracker) Subscribe(hash string, cb Callback) func() {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	if t.subs[hash] == nil {
		t.subs[hash] = make(map[int64]Callback)
	}
	t.subs[hash][id] = cb
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if subs, ok := t.subs[hash]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(t.subs, hash)
			}
		}
	}
}

// Cancel moves a still-pending transaction to Cancelled and stops its
// background wait. Returns false if the transaction is unknown or
// already terminal.
func (t *Tracker) Cancel(hash string) bool {
	t.mu.Lock()
	tx, ok := t.txs[hash]
	if !ok || tx.State != StatePending {
		t.mu.Unlock()
		return false
	}
	tx.State = StateCancelled
	now := time.Now().UTC()
	tx.ResolvedAt = &now
	cancel := t.cancels[hash]
	delete(t.cancels, hash)
	snapshot := *tx
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.persist(context.Background(), snapshot)
	t.notify(snapshot)

	t.logger.Info().Str("hash", hash).Msg("transaction cancelled by caller")
	return true
}

// ClearCompleted removes terminal transactions and reports how many were
// dropped. Callers must unsubscribe in-flight subscriptions for a hash
// before clearing it.
func (t *Tracker) ClearCompleted() int {
	return t.clear(func(tx *Transaction) bool { return tx.State.Terminal() })
}

// ClearAll removes every tracked transaction, cancelling pending waits.
func (t *Tracker) ClearAll() int {
	t.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(t.cancels))
	for _, c := range t.cancels {
		cancels = append(cancels, c)
	}
	t.cancels = make(map[string]context.CancelFunc)
	t.mu.Unlock()
	for _, c := range cancels {
		c()
	}
	return t.clear(func(*Transaction) bool { return true })
}

func (t *Tracker) clear(match func(*Transaction) bool) int {
	t.mu.Lock()
	var removed []string
	for hash, tx := range t.txs {
		if match(tx) {
			removed = append(removed, hash)
			delete(t.txs, hash)
		}
	}
	t.mu.Unlock()

	for _, hash := range removed {
		if t.store != nil {
			if err := t.store.DeleteTransaction(context.Background(), hash); err != nil {
				t.logger.Error().Err(err).Str("hash", hash).Msg("failed to delete persisted transaction")
			}
		}
	}
	return len(removed)
}

// Close cancels all pending waits and blocks until background goroutines
// finish. Pending transactions stay pending in the store and are resumed
// by Restore after a restart.
func (t *Tracker) Close() {
	t.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(t.cancels))
	for _, c := range t.cancels {
		cancels = append(cancels, c)
	}
	t.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	t.wg.Wait()
}
