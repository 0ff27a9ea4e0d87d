package integration

import (
	"context"
	"os"
	"testing"
	"time"

	opal "github.com/branched-services/go-opal"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Test private key (Anvil default account 0)
const testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// The identifier word appended to the creation code is read as the
// constructor argument.
const querySource = `// SPDX-License-Identifier: MIT
pragma solidity ^0.8.0;

contract Query {
    bytes32 public queryURI;

    constructor(bytes32 uri) {
        queryURI = uri;
    }
}
`

func nodeURL() string {
	if url := os.Getenv("OPAL_NODE_URL"); url != "" {
		return url
	}
	return "http://localhost:8545"
}

func solcPath() string {
	if path := os.Getenv("SOLC"); path != "" {
		return path
	}
	return "solc"
}

func TestDeployQueryContract(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "1" {
		t.Skip("Set INTEGRATION_TEST=1 to run integration tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// Compile once to produce the declared bytecode
	compiler := opal.NewSolcCompiler(solcPath())
	artifacts, err := compiler.Compile(ctx, querySource)
	if err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}
	artifact, err := artifacts.Lookup("Query")
	if err != nil {
		t.Fatalf("Failed to find artifact: %v", err)
	}
	t.Logf("Compiled Query: %d bytes", len(artifact.Bytecode))

	doc := &opal.SignedDocument{Payload: opal.DocumentPayload{
		Source:   querySource,
		Bytecode: common.Bytes2Hex(artifact.Bytecode),
		QueryURI: "42f0a1",
		Contract: "Query",
	}}

	// Connect to Anvil
	node, err := opal.Dial(ctx, nodeURL(), opal.WithPollInterval(200*time.Millisecond))
	if err != nil {
		t.Fatalf("Failed to connect to Anvil: %v", err)
	}
	defer node.Close()

	key, err := opal.KeyMaterialFromHex(testPrivateKey)
	if err != nil {
		t.Fatalf("Failed to parse private key: %v", err)
	}
	defer key.Wipe()

	deployer := opal.NewDeployer(node, compiler, opal.WithDeployWatchTimeout(time.Minute))
	receipt, err := deployer.Deploy(ctx, doc, key)
	if err != nil {
		t.Fatalf("Failed to deploy: %v", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		t.Fatalf("Deployment failed: status=%d", receipt.Status)
	}
	t.Logf("Query deployed at %s in block %d", receipt.ContractAddress.Hex(), receipt.BlockNumber)

	// Read the identifier back through the contract ABI
	client, err := ethclient.DialContext(ctx, nodeURL())
	if err != nil {
		t.Fatalf("Failed to connect to Anvil: %v", err)
	}
	defer client.Close()

	contract := bind.NewBoundContract(receipt.ContractAddress, artifact.ABI, client, client, client)
	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, "queryURI"); err != nil {
		t.Fatalf("Failed to call queryURI: %v", err)
	}
	word, err := opal.EncodeQueryURI(doc.Payload.QueryURI)
	if err != nil {
		t.Fatal(err)
	}
	got := common.Hash(out[0].([32]byte))
	if got != common.HexToHash(word) {
		t.Errorf("Expected queryURI %s, got %s", word, got.Hex())
	}
}

func TestRejectTamperedDocument(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "1" {
		t.Skip("Set INTEGRATION_TEST=1 to run integration tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	compiler := opal.NewSolcCompiler(solcPath())
	artifacts, err := compiler.Compile(ctx, querySource)
	if err != nil {
		t.Fatalf("Failed to compile: %v", err)
	}
	artifact, _ := artifacts.Lookup("Query")
	tampered := append([]byte(nil), artifact.Bytecode...)
	tampered[len(tampered)-1] ^= 0xff

	doc := &opal.SignedDocument{Payload: opal.DocumentPayload{
		Source:   querySource,
		Bytecode: common.Bytes2Hex(tampered),
		QueryURI: "42f0a1",
	}}
	if opal.NewValidator(compiler, "Query").Validate(ctx, doc) {
		t.Fatal("Tampered bytecode passed validation")
	}
}
