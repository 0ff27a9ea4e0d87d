package opal

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

// DefaultGasLimit covers contract creation plus the appended identifier word.
const DefaultGasLimit uint64 = 4_700_000

// UnsignedTransaction is a legacy transaction before signing.
// A nil To creates a contract.
type UnsignedTransaction struct {
	ChainID  *big.Int
	Nonce    uint64
	GasPrice *big.Int
	GasLimit uint64
	From     common.Address
	To       *common.Address
	Value    *big.Int
	Data     []byte
}

// Tx returns the go-ethereum transaction for signing.
func (u *UnsignedTransaction) Tx() *types.Transaction {
	value := u.Value
	if value == nil {
		value = new(big.Int)
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    u.Nonce,
		GasPrice: u.GasPrice,
		Gas:      u.GasLimit,
		To:       u.To,
		Value:    value,
		Data:     u.Data,
	})
}

// TxBuilder assembles transactions from live node state.
type TxBuilder struct {
	node     Node
	gasLimit uint64
	logger   log.Logger
}

// NewTxBuilder creates a builder reading state from node.
func NewTxBuilder(node Node, opts ...BuilderOption) *TxBuilder {
	b := &TxBuilder{
		node:     node,
		gasLimit: DefaultGasLimit,
		logger:   log.Root().With("module", "opal/builder"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// GasLimit returns the configured gas limit.
func (b *TxBuilder) GasLimit() uint64 {
	return b.gasLimit
}

// Build reads chain ID, gas price and the pending nonce of from, in that
// order, and returns the unsigned transaction carrying data. Any read failure
// is ErrNodeUnavailable; no default values are substituted.
func (b *TxBuilder) Build(ctx context.Context, data string, from common.Address, to *common.Address) (*UnsignedTransaction, error) {
	payload, err := decodeHex(data)
	if err != nil {
		return nil, err
	}
	chainID, err := b.node.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: chain id: %v", ErrNodeUnavailable, err)
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("%w: malformed chain id %v", ErrNodeUnavailable, chainID)
	}
	gasPrice, err := b.node.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: gas price: %v", ErrNodeUnavailable, err)
	}
	if gasPrice == nil || gasPrice.Sign() < 0 {
		return nil, fmt.Errorf("%w: malformed gas price %v", ErrNodeUnavailable, gasPrice)
	}
	nonce, err := b.node.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("%w: nonce for %s: %v", ErrNodeUnavailable, from.Hex(), err)
	}

	b.logger.Debug("Built transaction", "from", from, "nonce", nonce, "gasPrice", gasPrice, "gas", b.gasLimit, "size", len(payload))
	return &UnsignedTransaction{
		ChainID:  chainID,
		Nonce:    nonce,
		GasPrice: gasPrice,
		GasLimit: b.gasLimit,
		From:     from,
		To:       to,
		Data:     payload,
	}, nil
}
