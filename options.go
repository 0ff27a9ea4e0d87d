package opal

import (
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// DeployerOption configures a Deployer.
type DeployerOption func(*Deployer)

// BuilderOption configures a TxBuilder.
type BuilderOption func(*TxBuilder)

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WatcherOption configures a ReceiptWatcher.
type WatcherOption func(*ReceiptWatcher)

// NodeOption configures an RPCNode.
type NodeOption func(*RPCNode)

// WithEnvelopeVerifier makes Deploy check the document envelope before
// anything else. Without it the envelope is not checked.
func WithEnvelopeVerifier(v EnvelopeVerifier) DeployerOption {
	return func(d *Deployer) {
		d.verifier = v
	}
}

// WithContractName sets the artifact used when a document does not name one.
func WithContractName(name string) DeployerOption {
	return func(d *Deployer) {
		d.contractName = name
	}
}

// WithDeployGasLimit sets the gas limit of deployment transactions.
// Default is DefaultGasLimit. Zero keeps the default.
func WithDeployGasLimit(limit uint64) DeployerOption {
	return func(d *Deployer) {
		if limit > 0 {
			d.gasLimit = limit
		}
	}
}

// WithDeployWatchTimeout bounds how long Deploy waits for a receipt.
// Zero (default) waits until the context is done.
func WithDeployWatchTimeout(timeout time.Duration) DeployerOption {
	return func(d *Deployer) {
		d.watchTimeout = timeout
	}
}

// WithNonceManager shares nonce coordination between deployers that use the
// same senders.
func WithNonceManager(m *NonceManager) DeployerOption {
	return func(d *Deployer) {
		d.nonces = m
	}
}

// WithDeployerLogger sets the deployer's logger.
func WithDeployerLogger(l log.Logger) DeployerOption {
	return func(d *Deployer) {
		d.logger = l
	}
}

// WithGasLimit sets the builder's gas limit. Zero keeps the default.
func WithGasLimit(limit uint64) BuilderOption {
	return func(b *TxBuilder) {
		if limit > 0 {
			b.gasLimit = limit
		}
	}
}

// WithBroadcasterLogger sets the broadcaster's logger.
func WithBroadcasterLogger(l log.Logger) BroadcasterOption {
	return func(b *Broadcaster) {
		b.logger = l
	}
}

// WithWatchTimeout ends a watch in WatchTimedOut after timeout.
// Zero or negative disables the deadline.
func WithWatchTimeout(timeout time.Duration) WatcherOption {
	return func(w *ReceiptWatcher) {
		if timeout < 0 {
			timeout = 0
		}
		w.timeout = timeout
	}
}

// WithWatcherLogger sets the watcher's logger.
func WithWatcherLogger(l log.Logger) WatcherOption {
	return func(w *ReceiptWatcher) {
		w.logger = l
	}
}

// WithPollInterval sets the head polling period used when the transport has
// no subscriptions. Non-positive values keep the default.
func WithPollInterval(d time.Duration) NodeOption {
	return func(n *RPCNode) {
		if d > 0 {
			n.pollInterval = d
		}
	}
}

// WithNodeLogger sets the node's logger.
func WithNodeLogger(l log.Logger) NodeOption {
	return func(n *RPCNode) {
		n.logger = l
	}
}
