package opal

import (
	"context"
	"errors"
	"math/big"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/require"
)

// fakeEth serves the eth_ namespace methods RPCNode uses. Every
// eth_getBlockByNumber call advances the chain by one block and mines all
// pending transactions into it.
type fakeEth struct {
	mu      sync.Mutex
	head    atomic.Int64
	headErr atomic.Bool
	nonces  map[common.Address]uint64
	pending []*types.Transaction
	mined   map[common.Hash]*types.Receipt
}

func newFakeEth() *fakeEth {
	return &fakeEth{
		nonces: make(map[common.Address]uint64),
		mined:  make(map[common.Hash]*types.Receipt),
	}
}

func (s *fakeEth) ChainId() *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(31337))
}

func (s *fakeEth) GasPrice() *hexutil.Big {
	return (*hexutil.Big)(big.NewInt(2_000_000_000))
}

func (s *fakeEth) GetTransactionCount(addr common.Address, block string) hexutil.Uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return hexutil.Uint64(s.nonces[addr])
}

func (s *fakeEth) SendRawTransaction(raw hexutil.Bytes) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, err
	}
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(31337)), tx)
	if err != nil {
		return common.Hash{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.Nonce() != s.nonces[from] {
		return common.Hash{}, errors.New("invalid nonce")
	}
	s.nonces[from]++
	s.pending = append(s.pending, tx)
	return tx.Hash(), nil
}

func (s *fakeEth) GetTransactionReceipt(hash common.Hash) *types.Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mined[hash]
}

func (s *fakeEth) GetBlockByNumber(number string, full bool) (*types.Header, error) {
	if s.headErr.Load() {
		return nil, errors.New("header unavailable")
	}
	num := s.head.Add(1)

	s.mu.Lock()
	for _, tx := range s.pending {
		from, _ := types.Sender(types.LatestSignerForChainID(big.NewInt(31337)), tx)
		s.mined[tx.Hash()] = &types.Receipt{
			Type:              tx.Type(),
			Status:            types.ReceiptStatusSuccessful,
			CumulativeGasUsed: 21000,
			Logs:              []*types.Log{},
			TxHash:            tx.Hash(),
			ContractAddress:   crypto.CreateAddress(from, tx.Nonce()),
			GasUsed:           21000,
			BlockNumber:       big.NewInt(num),
		}
	}
	s.pending = nil
	s.mu.Unlock()

	return &types.Header{Number: big.NewInt(num), Difficulty: new(big.Int), Time: uint64(num)}, nil
}

func newHTTPNode(t *testing.T, eth *fakeEth) *RPCNode {
	t.Helper()
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", eth))
	httpSrv := httptest.NewServer(server)
	t.Cleanup(func() {
		httpSrv.Close()
		server.Stop()
	})

	node, err := Dial(context.Background(), httpSrv.URL, WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(node.Close)
	return node
}

func TestRPCNodeState(t *testing.T) {
	node := newHTTPNode(t, newFakeEth())
	ctx := context.Background()

	chainID, err := node.ChainID(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(31337), chainID.Int64())

	price, err := node.SuggestGasPrice(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2_000_000_000), price.Int64())

	nonce, err := node.PendingNonceAt(ctx, common.HexToAddress(testAddrHex))
	require.NoError(t, err)
	require.Zero(t, nonce)

	receipt, err := node.TransactionReceipt(ctx, common.HexToHash("0x01"))
	require.NoError(t, err, "an unknown transaction is not an error")
	require.Nil(t, receipt)
}

func TestRPCNodePollsHeadsOverHTTP(t *testing.T) {
	node := newHTTPNode(t, newFakeEth())

	heads := make(chan *types.Header, 4)
	sub, err := node.SubscribeNewHead(context.Background(), heads)
	require.NoError(t, err)
	defer sub.Unsubscribe()

	select {
	case head := <-heads:
		require.Equal(t, int64(1), head.Number.Int64(), "the first polled head is delivered")
	case err := <-sub.Err():
		t.Fatalf("subscription failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("no head delivered")
	}
}

func TestRPCNodeHeadPollFailures(t *testing.T) {
	eth := newFakeEth()
	eth.headErr.Store(true)
	node := newHTTPNode(t, eth)

	sub, err := node.SubscribeNewHead(context.Background(), make(chan *types.Header))
	require.NoError(t, err)
	defer sub.Unsubscribe()

	select {
	case err := <-sub.Err():
		require.ErrorIs(t, err, ErrNodeUnavailable)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not fail")
	}
}

func TestRPCNodeDeploy(t *testing.T) {
	eth := newFakeEth()
	node := newHTTPNode(t, eth)
	d := NewDeployer(node, newStaticCompiler("Query", queryCode), WithDeployWatchTimeout(5*time.Second))

	receipt, err := d.Deploy(context.Background(), queryDocument("6080604052348015"), testKey(t))
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	require.Equal(t, crypto.CreateAddress(common.HexToAddress(testAddrHex), 0), receipt.ContractAddress)

	// The node's pending nonce advanced, so the next deployment uses nonce 1.
	receipt, err = d.Deploy(context.Background(), queryDocument("6080604052348015"), testKey(t))
	require.NoError(t, err)
	require.Equal(t, crypto.CreateAddress(common.HexToAddress(testAddrHex), 1), receipt.ContractAddress)
}

func TestDialUnsupportedScheme(t *testing.T) {
	_, err := Dial(context.Background(), "ftp://127.0.0.1:21")
	require.ErrorIs(t, err, ErrNodeUnavailable)
}
