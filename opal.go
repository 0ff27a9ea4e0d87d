// Package opal deploys query contracts described by issuer-signed documents.
//
// A document claims that a contract source compiles to a given bytecode and
// names the query the contract will serve. Before anything reaches the ledger
// the claim is checked by recompiling the source locally:
//
//	node, err := opal.Dial(ctx, "ws://127.0.0.1:8546")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	deployer := opal.NewDeployer(node, opal.NewSolcCompiler("solc"),
//	    opal.WithContractName("Query"),
//	    opal.WithEnvelopeVerifier(opal.NewIssuerVerifier(issuer)),
//	)
//
//	doc, _ := opal.LoadDocument("query.json")
//	key, _ := opal.KeyMaterialFromHex(privHex)
//	receipt, err := deployer.Deploy(ctx, doc, key)
//
// # Pipeline
//
// Deploy runs these steps strictly in order and stops at the first failure:
//
//   - Envelope: the optional EnvelopeVerifier checks the issuer signature.
//   - Validate: the source is compiled and its bytecode must equal the
//     declared bytecode byte for byte.
//   - Encode: the query identifier is hex-encoded into one 32-byte word,
//     left-padded with zeros, and appended to the bytecode.
//   - Derive: the sender is keccak256(pubkey)[12:].
//   - Build: chain ID, gas price and pending nonce are read from the node.
//   - Sign and broadcast: the legacy transaction is signed and submitted once.
//   - Watch: every new block triggers one receipt lookup until the receipt
//     appears, the context ends or the watch timeout expires.
//
// # Errors
//
// Every Deploy failure is a *DeployError. Its Submitted field separates
// failures before broadcast (no gas spent) from failures after it, in which
// case TxHash can be passed to ReceiptWatcher.WaitReceipt later. The wrapped
// sentinel (ErrValidationFailed, ErrNodeUnavailable, ErrBroadcastFailed,
// ErrWatchTimeout, ...) identifies the cause.
//
// # Nonces
//
// Deployments from the same sender hold a per-sender lease from nonce read to
// broadcast. The lease hands out the larger of the node's pending nonce and
// one past the last nonce this process used, so concurrent deployments never
// collide even if the node has not yet seen the previous transaction.
package opal
