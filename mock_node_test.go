package opal

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Anvil default account 0.
const (
	testKeyHex  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddrHex = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

// mockNode is an in-memory Node recording every call.
type mockNode struct {
	mu sync.Mutex

	chainID  *big.Int
	gasPrice *big.Int
	pending  map[common.Address]uint64

	// advanceOnSend makes PendingNonceAt reflect accepted transactions.
	advanceOnSend bool
	// receiptAfter is the lookup count per hash at which the receipt appears; 0 never.
	receiptAfter int
	// autoMine emits a head every autoMine interval to each subscriber.
	autoMine time.Duration

	chainErr, gasErr, nonceErr, sendErr, receiptErr, subscribeErr error

	calls       []string
	sent        []*types.Transaction
	polls       map[common.Hash]int
	subs        []*mockSub
	subscribed  chan *mockSub
	unsubscribe atomic.Int32
}

func newMockNode() *mockNode {
	return &mockNode{
		chainID:    big.NewInt(31337),
		gasPrice:   big.NewInt(1_000_000_000),
		pending:    make(map[common.Address]uint64),
		polls:      make(map[common.Hash]int),
		subscribed: make(chan *mockSub, 16),
	}
}

func (n *mockNode) record(call string) {
	n.mu.Lock()
	n.calls = append(n.calls, call)
	n.mu.Unlock()
}

func (n *mockNode) Calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

func (n *mockNode) Sent() []*types.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*types.Transaction(nil), n.sent...)
}

func (n *mockNode) ChainID(ctx context.Context) (*big.Int, error) {
	n.record("ChainID")
	if n.chainErr != nil {
		return nil, n.chainErr
	}
	return new(big.Int).Set(n.chainID), nil
}

func (n *mockNode) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	n.record("SuggestGasPrice")
	if n.gasErr != nil {
		return nil, n.gasErr
	}
	if n.gasPrice == nil {
		return nil, nil
	}
	return new(big.Int).Set(n.gasPrice), nil
}

func (n *mockNode) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	n.record("PendingNonceAt")
	if n.nonceErr != nil {
		return 0, n.nonceErr
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pending[account], nil
}

func (n *mockNode) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	n.record("SendRawTransaction")
	if n.sendErr != nil {
		return common.Hash{}, n.sendErr
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, err
	}
	from, err := types.Sender(types.LatestSignerForChainID(n.chainID), tx)
	if err != nil {
		return common.Hash{}, err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, prev := range n.sent {
		if prev.Nonce() == tx.Nonce() {
			return common.Hash{}, errors.New("nonce too low")
		}
	}
	n.sent = append(n.sent, tx)
	if n.advanceOnSend {
		n.pending[from] = tx.Nonce() + 1
	}
	return tx.Hash(), nil
}

func (n *mockNode) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	n.record("TransactionReceipt")
	n.mu.Lock()
	defer n.mu.Unlock()
	n.polls[txHash]++
	if n.receiptErr != nil {
		return nil, n.receiptErr
	}
	if n.receiptAfter == 0 || n.polls[txHash] < n.receiptAfter {
		return nil, ethereum.NotFound
	}
	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      txHash,
		BlockNumber: big.NewInt(int64(n.polls[txHash])),
	}
	for _, tx := range n.sent {
		if tx.Hash() == txHash {
			from, _ := types.Sender(types.LatestSignerForChainID(n.chainID), tx)
			receipt.ContractAddress = crypto.CreateAddress(from, tx.Nonce())
		}
	}
	return receipt, nil
}

func (n *mockNode) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	n.record("SubscribeNewHead")
	if n.subscribeErr != nil {
		return nil, n.subscribeErr
	}
	sub := &mockSub{node: n, ch: ch, err: make(chan error, 1), quit: make(chan struct{})}
	n.mu.Lock()
	n.subs = append(n.subs, sub)
	n.mu.Unlock()
	if n.autoMine > 0 {
		go sub.mine(n.autoMine)
	}
	select {
	case n.subscribed <- sub:
	default:
	}
	return sub, nil
}

// Unsubscribes returns the total Unsubscribe calls across all subscriptions.
func (n *mockNode) Unsubscribes() int {
	return int(n.unsubscribe.Load())
}

// mockSub counts every Unsubscribe call, including repeated ones.
type mockSub struct {
	node   *mockNode
	ch     chan<- *types.Header
	err    chan error
	quit   chan struct{}
	once   sync.Once
	unsubs atomic.Int32
	block  atomic.Int64
}

func (s *mockSub) Unsubscribe() {
	s.unsubs.Add(1)
	s.node.unsubscribe.Add(1)
	s.once.Do(func() { close(s.quit) })
}

func (s *mockSub) Err() <-chan error {
	return s.err
}

// emit delivers the next block header.
func (s *mockSub) emit() {
	num := s.block.Add(1)
	select {
	case s.ch <- &types.Header{Number: big.NewInt(num)}:
	case <-s.quit:
	}
}

func (s *mockSub) mine(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.emit()
		}
	}
}

// staticCompiler returns fixed artifacts and counts invocations.
type staticCompiler struct {
	artifacts Artifacts
	err       error
	calls     atomic.Int32
}

func (c *staticCompiler) Compile(ctx context.Context, source string) (Artifacts, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.artifacts, nil
}

func newStaticCompiler(name string, code []byte) *staticCompiler {
	return &staticCompiler{artifacts: Artifacts{name: {Name: name, Bytecode: code}}}
}
