package stellar

import (
	"context"
	"sync"
	"time"

	"github.com/stellar/go-stellar-sdk/clients/horizonclient"
	"github.com/stellar/go-stellar-sdk/protocols/horizon/operations"
	"go.uber.org/zap"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/errors"
)

// Deposit is a payment into the watched custody account.
type Deposit struct {
	ID              string
	From            liquidstake.Owner
	Token           liquidstake.TokenID
	Amount          liquidstake.Amount
	TransactionHash string
	Cursor          string
}

// DepositHandler processes a Deposit. A returned error is logged and streaming continues.
type DepositHandler func(Deposit) error

// Watcher streams payments into a custody account from Horizon, so reserve
// top-ups made outside the engine can be reported. It resumes from the last
// processed cursor and reconnects with exponential backoff.
type Watcher struct {
	client      horizonclient.ClientInterface
	account     liquidstake.Owner
	handlers    []DepositHandler
	cursor      string
	cursorSaver func(string) error

	initialBackoff time.Duration
	maxBackoff     time.Duration

	mu       sync.RWMutex
	stopChan chan struct{}
	stopOnce sync.Once
	running  bool
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithCursor sets the starting cursor. "now" skips historical payments.
func WithCursor(cursor string) WatcherOption {
	return func(w *Watcher) {
		w.cursor = cursor
	}
}

// WithCursorSaver is called with the paging token of every processed payment.
func WithCursorSaver(saver func(string) error) WatcherOption {
	return func(w *Watcher) {
		w.cursorSaver = saver
	}
}

// WithReconnectBackoff sets the initial and maximum reconnection wait.
// Default is 1s initial, 60s max with exponential growth.
func WithReconnectBackoff(initial, max time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.initialBackoff = initial
		w.maxBackoff = max
	}
}

// NewWatcher watches payments to account.
func NewWatcher(client horizonclient.ClientInterface, account liquidstake.Owner, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		client:         client,
		account:        account,
		cursor:         "now",
		initialBackoff: time.Second,
		maxBackoff:     60 * time.Second,
		stopChan:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnDeposit registers a handler. Handlers run in registration order.
func (w *Watcher) OnDeposit(handler DepositHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, handler)
}

// Cursor returns the paging token of the last processed payment.
func (w *Watcher) Cursor() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cursor
}

// Start streams until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.NewHostError(errors.PROTOCOL_VIOLATION, "watcher already running", nil)
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	backoff := w.initialBackoff
	attempt := 0

	for {
		select {
		case <-w.stopChan:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		req := horizonclient.OperationRequest{
			ForAccount: string(w.account),
			Cursor:     w.Cursor(),
			Order:      horizonclient.OrderAsc,
		}
		err := w.client.StreamPayments(ctx, req, func(op operations.Operation) {
			backoff = w.initialBackoff
			attempt = 0
			w.handle(op)
		})
		if err == nil {
			return nil
		}

		select {
		case <-w.stopChan:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		Logger().Warn("payment stream failed",
			zap.Int("attempt", attempt),
			zap.Duration("retry_in", backoff),
			zap.Error(err))

		select {
		case <-time.After(backoff):
		case <-w.stopChan:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

		attempt++
		backoff *= 2
		if backoff > w.maxBackoff {
			backoff = w.maxBackoff
		}
	}
}

// Stop ends Start. It's safe to call Stop multiple times.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	return nil
}

func (w *Watcher) handle(op operations.Operation) {
	base := op.GetBase()
	dep, ok := w.toDeposit(op)
	if ok {
		w.mu.RLock()
		handlers := w.handlers
		w.mu.RUnlock()
		for _, h := range handlers {
			if err := h(dep); err != nil {
				Logger().Warn("deposit handler failed", zap.String("payment", dep.ID), zap.Error(err))
			}
		}
	}

	w.mu.Lock()
	w.cursor = base.PT
	w.mu.Unlock()
	if w.cursorSaver != nil {
		if err := w.cursorSaver(base.PT); err != nil {
			Logger().Warn("failed to save cursor", zap.String("cursor", base.PT), zap.Error(err))
		}
	}
}

// toDeposit converts incoming payments and account creations. Outgoing
// payments and other operation types are skipped.
func (w *Watcher) toDeposit(op operations.Operation) (Deposit, bool) {
	base := op.GetBase()
	dep := Deposit{ID: base.ID, TransactionHash: base.TransactionHash, Cursor: base.PT}

	var to, amount string
	switch v := op.(type) {
	case operations.Payment:
		dep.From = liquidstake.Owner(v.From)
		dep.Token = tokenOf(v.Asset.Type, v.Asset.Code, v.Asset.Issuer)
		to, amount = v.To, v.Amount
	case operations.CreateAccount:
		dep.From = liquidstake.Owner(v.Funder)
		dep.Token = NativeToken
		to, amount = v.Account, v.StartingBalance
	default:
		return Deposit{}, false
	}
	if liquidstake.Owner(to) != w.account {
		return Deposit{}, false
	}
	parsed, err := liquidstake.ParseAmount(amount)
	if err != nil {
		Logger().Warn("skipping payment with bad amount", zap.String("payment", base.ID), zap.Error(err))
		return Deposit{}, false
	}
	dep.Amount = parsed
	return dep, true
}
