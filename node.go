package opal

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
)

// Node is the remote ledger handle every pipeline component is given.
// Implementations must be safe for concurrent use.
type Node interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)

	// TransactionReceipt returns (nil, nil) while the transaction is unmined.
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)

	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// DefaultPollInterval is the head polling period for transports without
// subscription support.
const DefaultPollInterval = 2 * time.Second

// maxHeadPollFailures ends a polling head subscription after this many
// consecutive failed header reads.
const maxHeadPollFailures = 5

// RPCNode implements Node over a JSON-RPC connection.
type RPCNode struct {
	rpc          *rpc.Client
	eth          *ethclient.Client
	pollInterval time.Duration
	logger       log.Logger
}

// Dial connects to the node at rawurl (http, ws or ipc).
func Dial(ctx context.Context, rawurl string, opts ...NodeOption) (*RPCNode, error) {
	c, err := rpc.DialContext(ctx, rawurl)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrNodeUnavailable, rawurl, err)
	}
	return NewRPCNode(c, opts...), nil
}

// NewRPCNode wraps an existing RPC client.
func NewRPCNode(c *rpc.Client, opts ...NodeOption) *RPCNode {
	n := &RPCNode{
		rpc:          c,
		eth:          ethclient.NewClient(c),
		pollInterval: DefaultPollInterval,
		logger:       log.Root().With("module", "opal/node"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Close closes the underlying connection.
func (n *RPCNode) Close() {
	n.rpc.Close()
}

func (n *RPCNode) ChainID(ctx context.Context) (*big.Int, error) {
	return n.eth.ChainID(ctx)
}

func (n *RPCNode) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return n.eth.PendingNonceAt(ctx, account)
}

func (n *RPCNode) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return n.eth.SuggestGasPrice(ctx)
}

// SendRawTransaction submits an RLP/typed-envelope encoded signed transaction.
func (n *RPCNode) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	var hash common.Hash
	if err := n.rpc.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Bytes(raw)); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

func (n *RPCNode) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	receipt, err := n.eth.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	return receipt, err
}

// SubscribeNewHead uses a native newHeads subscription when the transport
// supports one and falls back to polling the latest header otherwise.
func (n *RPCNode) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	sub, err := n.eth.SubscribeNewHead(ctx, ch)
	if err == nil {
		return sub, nil
	}
	if !errors.Is(err, rpc.ErrNotificationsUnsupported) {
		return nil, err
	}
	n.logger.Debug("Notifications unsupported, polling for new heads", "interval", n.pollInterval)
	return n.pollHeads(ch), nil
}

// pollHeads emits the head seen on the first poll and every newer one after it.
func (n *RPCNode) pollHeads(ch chan<- *types.Header) ethereum.Subscription {
	return event.NewSubscription(func(quit <-chan struct{}) error {
		ticker := time.NewTicker(n.pollInterval)
		defer ticker.Stop()

		var (
			last     *big.Int
			failures int
		)
		for {
			select {
			case <-quit:
				return nil
			case <-ticker.C:
			}
			ctx, cancel := context.WithTimeout(context.Background(), n.pollInterval)
			head, err := n.eth.HeaderByNumber(ctx, nil)
			cancel()
			if err != nil {
				failures++
				n.logger.Debug("Head poll failed", "failures", failures, "err", err)
				if failures >= maxHeadPollFailures {
					return fmt.Errorf("%w: %d consecutive head polls failed: %v", ErrNodeUnavailable, failures, err)
				}
				continue
			}
			failures = 0
			if last != nil && head.Number.Cmp(last) <= 0 {
				continue
			}
			last = head.Number
			select {
			case ch <- head:
			case <-quit:
				return nil
			}
		}
	})
}
