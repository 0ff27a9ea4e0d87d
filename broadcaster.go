package opal

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
)

// SignTransaction signs tx with the private key in key. The ECDSA scalar and
// the working copy of the key bytes are zeroed before returning.
func SignTransaction(tx *UnsignedTransaction, key *KeyMaterial) (*types.Transaction, error) {
	if tx.ChainID == nil {
		return nil, fmt.Errorf("%w: missing chain id", ErrSigningFailed)
	}
	raw := make([]byte, len(key.PrivateKey))
	copy(raw, key.PrivateKey)
	defer clear(raw)

	priv, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %v", ErrSigningFailed, ErrInvalidPrivateKey, err)
	}
	defer priv.D.SetUint64(0)

	if signer := crypto.PubkeyToAddress(priv.PublicKey); signer != tx.From {
		return nil, fmt.Errorf("%w: %w: key is %s, sender is %s", ErrSigningFailed, ErrKeyMismatch, signer.Hex(), tx.From.Hex())
	}
	signed, err := types.SignTx(tx.Tx(), types.LatestSignerForChainID(tx.ChainID), priv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}
	return signed, nil
}

// Broadcaster signs transactions and submits them to a node.
type Broadcaster struct {
	node   Node
	logger log.Logger
}

// NewBroadcaster creates a broadcaster submitting to node.
func NewBroadcaster(node Node, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		node:   node,
		logger: log.Root().With("module", "opal/broadcaster"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SignAndBroadcast signs tx and sends it once. Signing failures wrap
// ErrSigningFailed and return a zero hash; submission failures wrap
// ErrBroadcastFailed and return the locally computed hash, since the node may
// have accepted the transaction anyway.
func (b *Broadcaster) SignAndBroadcast(ctx context.Context, tx *UnsignedTransaction, key *KeyMaterial) (common.Hash, error) {
	signed, err := SignTransaction(tx, key)
	if err != nil {
		return common.Hash{}, err
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: encode: %v", ErrSigningFailed, err)
	}
	local := signed.Hash()
	remote, err := b.node.SendRawTransaction(ctx, raw)
	if err != nil {
		return local, fmt.Errorf("%w: %w", ErrBroadcastFailed, err)
	}
	if remote != local {
		b.logger.Warn("Node returned unexpected transaction hash", "local", local, "remote", remote)
	}
	b.logger.Info("Submitted transaction", "hash", local, "nonce", tx.Nonce, "from", tx.From)
	return local, nil
}
