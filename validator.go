package opal

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
)

// Validator proves that a document's declared source compiles to its declared
// bytecode. It never contacts the ledger.
type Validator struct {
	compiler     Compiler
	contractName string
	logger       log.Logger
}

// NewValidator creates a validator. contractName selects the artifact when the
// document does not name one.
func NewValidator(c Compiler, contractName string) *Validator {
	return &Validator{
		compiler:     c,
		contractName: contractName,
		logger:       log.Root().With("module", "opal/validator"),
	}
}

// Validate reports whether doc's bytecode equals the compiled source.
// Compiler failures count as validation failures.
func (v *Validator) Validate(ctx context.Context, doc *SignedDocument) bool {
	err := v.Check(ctx, doc)
	if err != nil {
		v.logger.Debug("Document rejected", "err", err)
	}
	return err == nil
}

// Check is Validate with the reason. Every returned error wraps
// ErrValidationFailed.
func (v *Validator) Check(ctx context.Context, doc *SignedDocument) error {
	declared, err := decodeHex(doc.Payload.Bytecode)
	if err != nil {
		return fmt.Errorf("%w: declared bytecode: %w", ErrValidationFailed, err)
	}
	artifacts, err := v.compiler.Compile(ctx, doc.Payload.Source)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	name := doc.Payload.Contract
	if name == "" {
		name = v.contractName
	}
	artifact, err := artifacts.Lookup(name)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	if !bytes.Equal(artifact.Bytecode, declared) {
		return fmt.Errorf("%w: bytecode of %s differs from compiled source (%d vs %d bytes)",
			ErrValidationFailed, artifact.Name, len(declared), len(artifact.Bytecode))
	}
	return nil
}
