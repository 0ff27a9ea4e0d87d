package opal

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

// Deployer runs the document-to-chain pipeline:
//
//	envelope -> validate -> encode -> derive -> build -> sign -> broadcast -> watch
//
// Nothing touches the node until the document has been validated. A Deployer
// is safe for concurrent use; deployments from the same sender serialize
// between nonce read and broadcast.
type Deployer struct {
	node     Node
	compiler Compiler
	verifier EnvelopeVerifier
	nonces   *NonceManager
	logger   log.Logger

	gasLimit     uint64
	contractName string
	watchTimeout time.Duration

	validator   *Validator
	builder     *TxBuilder
	broadcaster *Broadcaster
	watcher     *ReceiptWatcher
}

// NewDeployer creates a deployer that compiles with c and talks to node.
func NewDeployer(node Node, c Compiler, opts ...DeployerOption) *Deployer {
	d := &Deployer{
		node:     node,
		compiler: c,
		gasLimit: DefaultGasLimit,
		logger:   log.Root().With("module", "opal/deployer"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.nonces == nil {
		d.nonces = NewNonceManager()
	}
	d.validator = NewValidator(c, d.contractName)
	d.validator.logger = d.logger
	d.builder = NewTxBuilder(node, WithGasLimit(d.gasLimit))
	d.builder.logger = d.logger
	d.broadcaster = NewBroadcaster(node, WithBroadcasterLogger(d.logger))
	d.watcher = NewReceiptWatcher(node, WithWatchTimeout(d.watchTimeout), WithWatcherLogger(d.logger))
	return d
}

// Validator returns the deployer's document validator.
func (d *Deployer) Validator() *Validator {
	return d.validator
}

// Watcher returns the deployer's receipt watcher, for re-querying a
// transaction after a watch timeout or cancellation.
func (d *Deployer) Watcher() *ReceiptWatcher {
	return d.watcher
}

// Deploy creates the contract described by doc from the address of key and
// blocks until its receipt is available. Every failure is a *DeployError whose
// Submitted field tells whether a transaction may have reached the node.
func (d *Deployer) Deploy(ctx context.Context, doc *SignedDocument, key *KeyMaterial) (*types.Receipt, error) {
	logger := d.logger.With("queryURI", doc.Payload.QueryURI)

	if d.verifier != nil {
		if err := d.verifier.VerifyEnvelope(doc); err != nil {
			return nil, &DeployError{Stage: StageEnvelope, Err: err}
		}
	}
	if err := d.validator.Check(ctx, doc); err != nil {
		return nil, &DeployError{Stage: StageValidate, Err: err}
	}
	data, err := EncodePayload(doc.Payload.Bytecode, doc.Payload.QueryURI)
	if err != nil {
		return nil, &DeployError{Stage: StageEncode, Err: err}
	}
	from, err := key.Address()
	if err != nil {
		return nil, &DeployError{Stage: StageDerive, Err: err}
	}
	logger = logger.With("from", from)
	logger.Debug("Document validated")

	lease, err := d.nonces.Acquire(ctx, from)
	if err != nil {
		return nil, &DeployError{Stage: StageBuild, Err: err}
	}
	tx, err := d.builder.Build(ctx, data, from, nil)
	if err != nil {
		lease.Release()
		return nil, &DeployError{Stage: StageBuild, Err: err}
	}
	tx.Nonce = lease.Reserve(tx.Nonce)

	hash, err := d.broadcaster.SignAndBroadcast(ctx, tx, key)
	if err != nil {
		lease.Release()
		if errors.Is(err, ErrSigningFailed) {
			return nil, &DeployError{Stage: StageSign, Err: err}
		}
		return nil, &DeployError{Stage: StageBroadcast, Submitted: true, TxHash: hash, Err: err}
	}
	lease.Commit()
	logger.Info("Deployment submitted", "hash", hash, "nonce", tx.Nonce)

	receipt, err := d.watcher.Start(ctx, hash).Wait()
	if err != nil {
		return nil, &DeployError{Stage: StageWatch, Submitted: true, TxHash: hash, Err: err}
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		logger.Warn("Deployment transaction reverted", "hash", hash, "block", receipt.BlockNumber)
	}
	return receipt, nil
}
