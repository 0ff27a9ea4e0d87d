package opal

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

// WatchState is the receipt watcher's position in its lifecycle:
//
//	Subscribed -> Polling -> Resolved | Cancelled | TimedOut | Failed
type WatchState int32

const (
	WatchSubscribed WatchState = iota
	WatchPolling
	WatchResolved
	WatchCancelled
	WatchTimedOut
	WatchFailed
)

func (s WatchState) String() string {
	switch s {
	case WatchSubscribed:
		return "subscribed"
	case WatchPolling:
		return "polling"
	case WatchResolved:
		return "resolved"
	case WatchCancelled:
		return "cancelled"
	case WatchTimedOut:
		return "timed out"
	case WatchFailed:
		return "failed"
	default:
		return fmt.Sprintf("WatchState(%d)", int32(s))
	}
}

// Terminal reports whether no further transitions can happen.
func (s WatchState) Terminal() bool {
	return s >= WatchResolved
}

// headBuffer is the capacity of the new-head channel handed to the node.
const headBuffer = 16

// ReceiptWatcher resolves transaction receipts with one lookup when the watch
// starts and one more on each new block.
type ReceiptWatcher struct {
	node    Node
	timeout time.Duration
	logger  log.Logger
}

// NewReceiptWatcher creates a watcher using node. Without WithWatchTimeout a
// watch only ends on receipt, cancellation or failure.
func NewReceiptWatcher(node Node, opts ...WatcherOption) *ReceiptWatcher {
	w := &ReceiptWatcher{
		node:   node,
		logger: log.Root().With("module", "opal/watcher"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Watch is one in-flight receipt lookup.
type Watch struct {
	hash   common.Hash
	cancel context.CancelFunc
	done   chan struct{}
	state  atomic.Int32
	polls  atomic.Int32

	receipt *types.Receipt
	err     error
}

// Start subscribes to new heads and begins watching for hash. The returned
// Watch is already terminal if the subscription could not be established.
func (w *ReceiptWatcher) Start(ctx context.Context, hash common.Hash) *Watch {
	ctx, cancel := context.WithCancel(ctx)
	watch := &Watch{hash: hash, cancel: cancel, done: make(chan struct{})}

	heads := make(chan *types.Header, headBuffer)
	sub, err := w.node.SubscribeNewHead(ctx, heads)
	if err != nil {
		watch.finish(WatchFailed, nil, fmt.Errorf("%w: subscribe: %v", ErrWatchFailed, err))
		cancel()
		close(watch.done)
		return watch
	}
	watch.setState(WatchSubscribed)
	w.logger.Debug("Watching for receipt", "hash", hash)

	var timeout <-chan time.Time
	if w.timeout > 0 {
		timer := time.NewTimer(w.timeout)
		timeout = timer.C
		go func() {
			<-watch.done
			timer.Stop()
		}()
	}
	go w.run(ctx, watch, sub, heads, timeout)
	return watch
}

// WaitReceipt starts a watch and blocks until it ends.
func (w *ReceiptWatcher) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return w.Start(ctx, hash).Wait()
}

func (w *ReceiptWatcher) run(ctx context.Context, watch *Watch, sub ethereum.Subscription, heads <-chan *types.Header, timeout <-chan time.Time) {
	defer close(watch.done)
	defer watch.cancel()
	defer sub.Unsubscribe()

	// The receipt may already exist. This first lookup is not counted as a poll.
	if w.check(ctx, watch, nil, 0) {
		return
	}
	watch.setState(WatchPolling)
	for {
		if err := ctx.Err(); err != nil {
			watch.finishContext(err)
			return
		}
		select {
		case <-ctx.Done():
			watch.finishContext(ctx.Err())
			return

		case <-timeout:
			watch.finish(WatchTimedOut, nil, ErrWatchTimeout)
			return

		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}
			watch.finish(WatchFailed, nil, fmt.Errorf("%w: %v", ErrWatchFailed, err))
			return

		case head := <-heads:
			if w.check(ctx, watch, head.Number, watch.polls.Add(1)) {
				return
			}
		}
	}
}

// check looks the receipt up once and reports whether the watch has ended.
func (w *ReceiptWatcher) check(ctx context.Context, watch *Watch, block *big.Int, polls int32) bool {
	receipt, err := w.node.TransactionReceipt(ctx, watch.hash)
	if err != nil && !errors.Is(err, ethereum.NotFound) {
		if ctx.Err() != nil {
			return false
		}
		watch.finish(WatchFailed, nil, fmt.Errorf("%w: receipt lookup: %v", ErrWatchFailed, err))
		return true
	}
	if receipt == nil {
		w.logger.Trace("Receipt not yet available", "hash", watch.hash, "block", block, "polls", polls)
		return false
	}
	w.logger.Info("Transaction mined", "hash", watch.hash, "block", receipt.BlockNumber,
		"status", receipt.Status, "contract", receipt.ContractAddress, "polls", polls)
	watch.finish(WatchResolved, receipt, nil)
	return true
}

// Hash returns the watched transaction hash.
func (w *Watch) Hash() common.Hash {
	return w.hash
}

// State returns the current state.
func (w *Watch) State() WatchState {
	return WatchState(w.state.Load())
}

// Polls returns how many new blocks triggered a receipt lookup. The lookup
// made when the watch starts is not counted.
func (w *Watch) Polls() int {
	return int(w.polls.Load())
}

// Done is closed once the watch has ended and unsubscribed.
func (w *Watch) Done() <-chan struct{} {
	return w.done
}

// Wait blocks until the watch ends and returns the receipt, or a *WatchError
// wrapping ErrWatchCancelled, ErrWatchTimeout or ErrWatchFailed.
func (w *Watch) Wait() (*types.Receipt, error) {
	<-w.done
	return w.receipt, w.err
}

// Cancel stops the watch and returns once the block subscription is gone.
func (w *Watch) Cancel() {
	w.cancel()
	<-w.done
}

func (w *Watch) setState(s WatchState) {
	w.state.Store(int32(s))
}

func (w *Watch) finishContext(err error) {
	if errors.Is(err, context.DeadlineExceeded) {
		w.finish(WatchTimedOut, nil, ErrWatchTimeout)
		return
	}
	w.finish(WatchCancelled, nil, ErrWatchCancelled)
}

func (w *Watch) finish(state WatchState, receipt *types.Receipt, err error) {
	w.receipt = receipt
	if err != nil {
		w.err = &WatchError{TxHash: w.hash, State: state, Polls: w.Polls(), Err: err}
	}
	w.setState(state)
}
