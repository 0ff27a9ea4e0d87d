package opal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/compiler"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Compiler turns contract source into named artifacts.
type Compiler interface {
	Compile(ctx context.Context, source string) (Artifacts, error)
}

// CompilerFunc adapts a plain function to the Compiler interface.
type CompilerFunc func(ctx context.Context, source string) (Artifacts, error)

// Compile calls f(ctx, source).
func (f CompilerFunc) Compile(ctx context.Context, source string) (Artifacts, error) {
	return f(ctx, source)
}

// Artifact is the compiled form of a single contract.
type Artifact struct {
	Name     string
	Bytecode []byte
	ABI      abi.ABI
}

// Artifacts maps contract name to compiled artifact.
type Artifacts map[string]*Artifact

// Names returns the contract names in sorted order.
func (a Artifacts) Names() []string {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the artifact for name. An empty name selects the only
// artifact when exactly one exists.
func (a Artifacts) Lookup(name string) (*Artifact, error) {
	if name == "" {
		if len(a) == 1 {
			for _, art := range a {
				return art, nil
			}
		}
		return nil, fmt.Errorf("%w: no contract name given and compiler produced %d contracts %v",
			ErrArtifactNotFound, len(a), a.Names())
	}
	art, ok := a[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %v)", ErrArtifactNotFound, name, a.Names())
	}
	return art, nil
}

// ParseArtifacts decodes `solc --combined-json abi,bin` output.
// Contract keys of the form "<file>:<Name>" are reduced to "<Name>".
func ParseArtifacts(combinedJSON []byte, source string) (Artifacts, error) {
	contracts, err := compiler.ParseCombinedJSON(combinedJSON, source, "", "", "")
	if err != nil {
		return nil, fmt.Errorf("parse compiler output: %w", err)
	}
	out := make(Artifacts, len(contracts))
	for key, c := range contracts {
		name := key
		if i := strings.LastIndex(key, ":"); i >= 0 {
			name = key[i+1:]
		}
		code, err := hexutil.Decode(ensure0x(c.Code))
		if err != nil {
			return nil, fmt.Errorf("contract %s: %w: %v", name, ErrInvalidBytecode, err)
		}
		parsed, err := abiFromDefinition(c.Info.AbiDefinition)
		if err != nil {
			return nil, fmt.Errorf("contract %s: parse ABI: %w", name, err)
		}
		out[name] = &Artifact{Name: name, Bytecode: code, ABI: parsed}
	}
	return out, nil
}

// abiFromDefinition re-encodes the generic ABI value solc emits.
func abiFromDefinition(def interface{}) (abi.ABI, error) {
	if def == nil {
		return abi.ABI{}, nil
	}
	if s, ok := def.(string); ok {
		return ParseABI(s)
	}
	raw, err := json.Marshal(def)
	if err != nil {
		return abi.ABI{}, err
	}
	return ParseABI(string(raw))
}

// ParseABI parses a JSON ABI string into an abi.ABI.
func ParseABI(abiJSON string) (abi.ABI, error) {
	return abi.JSON(strings.NewReader(abiJSON))
}

// MustParseABI is like ParseABI but panics on error.
func MustParseABI(abiJSON string) abi.ABI {
	parsed, err := ParseABI(abiJSON)
	if err != nil {
		panic(err)
	}
	return parsed
}

// DefaultSolcArgs compiles source read from stdin with the optimizer enabled.
var DefaultSolcArgs = []string{"--optimize", "--combined-json", "abi,bin", "-"}

// SolcCompiler runs a solc executable.
type SolcCompiler struct {
	Path string
	Args []string
}

// NewSolcCompiler returns a compiler for the solc binary at path.
func NewSolcCompiler(path string, args ...string) *SolcCompiler {
	if path == "" {
		path = "solc"
	}
	if len(args) == 0 {
		args = DefaultSolcArgs
	}
	return &SolcCompiler{Path: path, Args: args}
}

// Compile feeds source to solc on stdin.
func (s *SolcCompiler) Compile(ctx context.Context, source string) (Artifacts, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.Path, s.Args...)
	cmd.Stdin = strings.NewReader(source)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &CompileError{Diagnostic: strings.TrimSpace(stderr.String()), Err: err}
		}
		return nil, &CompileError{Err: fmt.Errorf("run %s: %w", s.Path, err)}
	}
	artifacts, err := ParseArtifacts(stdout.Bytes(), source)
	if err != nil {
		return nil, &CompileError{Diagnostic: strings.TrimSpace(stderr.String()), Err: err}
	}
	return artifacts, nil
}

func ensure0x(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s
	}
	return "0x" + s
}
