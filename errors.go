package opal

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Sentinel errors for common failure conditions.
var (
	// ErrValidationFailed indicates the declared bytecode does not match the
	// bytecode compiled from the declared source.
	ErrValidationFailed = errors.New("opal: document validation failed")

	// ErrEnvelopeInvalid indicates the document's outer signature was rejected.
	ErrEnvelopeInvalid = errors.New("opal: document envelope invalid")

	// ErrArtifactNotFound indicates the compiler output has no artifact for the requested contract.
	ErrArtifactNotFound = errors.New("opal: contract artifact not found")

	// ErrInvalidPublicKey indicates public key bytes are not an uncompressed secp256k1 point.
	ErrInvalidPublicKey = errors.New("opal: invalid public key")

	// ErrInvalidPrivateKey indicates private key bytes are not a valid secp256k1 scalar.
	ErrInvalidPrivateKey = errors.New("opal: invalid private key")

	// ErrKeyMismatch indicates the private key does not belong to the sending address.
	ErrKeyMismatch = errors.New("opal: private key does not match sender")

	// ErrEmptyQueryURI indicates an empty query identifier.
	ErrEmptyQueryURI = errors.New("opal: empty query URI")

	// ErrQueryURITooLong indicates the hex-encoded query identifier exceeds one word.
	ErrQueryURITooLong = errors.New("opal: query URI exceeds one word (max 32 bytes)")

	// ErrInvalidBytecode indicates bytecode that is not valid hex.
	ErrInvalidBytecode = errors.New("opal: invalid bytecode hex")

	// ErrNodeUnavailable indicates chain state could not be read from the node.
	ErrNodeUnavailable = errors.New("opal: node unavailable")

	// ErrSigningFailed indicates the transaction could not be signed.
	ErrSigningFailed = errors.New("opal: transaction signing failed")

	// ErrBroadcastFailed indicates the signed transaction was rejected or undeliverable.
	ErrBroadcastFailed = errors.New("opal: transaction broadcast failed")

	// ErrWatchTimeout indicates the receipt did not appear before the watch deadline.
	ErrWatchTimeout = errors.New("opal: receipt watch timed out")

	// ErrWatchCancelled indicates the caller cancelled the receipt watch.
	ErrWatchCancelled = errors.New("opal: receipt watch cancelled")

	// ErrWatchFailed indicates the block subscription or receipt lookup failed.
	ErrWatchFailed = errors.New("opal: receipt watch failed")
)

// CompileError carries the compiler's diagnostic output.
type CompileError struct {
	Diagnostic string
	Err        error
}

func (e *CompileError) Error() string {
	if e.Diagnostic != "" {
		return fmt.Sprintf("opal: compile error: %v: %s", e.Err, e.Diagnostic)
	}
	return fmt.Sprintf("opal: compile error: %v", e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// Stage names the pipeline step a deployment failed in.
type Stage string

const (
	StageEnvelope  Stage = "envelope"
	StageValidate  Stage = "validate"
	StageEncode    Stage = "encode"
	StageDerive    Stage = "derive"
	StageBuild     Stage = "build"
	StageSign      Stage = "sign"
	StageBroadcast Stage = "broadcast"
	StageWatch     Stage = "watch"
)

// DeployError is returned by Deployer.Deploy for every failure.
// Submitted reports whether a signed transaction may have reached the node,
// in which case gas may have been spent and TxHash identifies it.
type DeployError struct {
	Stage     Stage
	Submitted bool
	TxHash    common.Hash
	Err       error
}

func (e *DeployError) Error() string {
	if e.Submitted {
		return fmt.Sprintf("opal: deploy %s (tx %s): %v", e.Stage, e.TxHash.Hex(), e.Err)
	}
	return fmt.Sprintf("opal: deploy %s: %v", e.Stage, e.Err)
}

func (e *DeployError) Unwrap() error {
	return e.Err
}

// WatchError records the watcher state when a watch ended without a receipt.
type WatchError struct {
	TxHash common.Hash
	State  WatchState
	Polls  int
	Err    error
}

func (e *WatchError) Error() string {
	return fmt.Sprintf("opal: watch %s ended in %s after %d polls: %v", e.TxHash.Hex(), e.State, e.Polls, e.Err)
}

func (e *WatchError) Unwrap() error {
	return e.Err
}
