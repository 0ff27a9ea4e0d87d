package opal

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Envelope identifiers.
const (
	EnvelopeVersion   = "opal-sig-v1"
	EnvelopeAlgorithm = "secp256k1-keccak256"
)

// Envelope is the issuer's signature over a document payload.
type Envelope struct {
	Version   string `json:"version"`
	Algorithm string `json:"algorithm"`
	Issuer    string `json:"issuer"`
	Signature string `json:"signature"`
	IssuedAt  string `json:"issued_at"`
}

// EnvelopeVerifier checks that a document was endorsed by an authorized issuer.
type EnvelopeVerifier interface {
	VerifyEnvelope(doc *SignedDocument) error
}

// EnvelopeVerifierFunc adapts a function to EnvelopeVerifier.
type EnvelopeVerifierFunc func(doc *SignedDocument) error

// VerifyEnvelope calls f(doc).
func (f EnvelopeVerifierFunc) VerifyEnvelope(doc *SignedDocument) error {
	return f(doc)
}

// signedContent is the canonical JSON the issuer signs.
type signedContent struct {
	Version  string          `json:"version"`
	IssuedAt string          `json:"issued_at"`
	Payload  DocumentPayload `json:"payload"`
}

// EnvelopeDigest returns keccak256 over the canonical JSON of the payload and
// its issuance time.
func EnvelopeDigest(payload DocumentPayload, issuedAt string) (common.Hash, error) {
	b, err := json.Marshal(signedContent{Version: EnvelopeVersion, IssuedAt: issuedAt, Payload: payload})
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(b), nil
}

// SignDocument produces an envelope for payload signed by the issuer key.
func SignDocument(payload DocumentPayload, issuer *ecdsa.PrivateKey, issuedAt time.Time) (*Envelope, error) {
	ts := issuedAt.UTC().Format(time.RFC3339Nano)
	digest, err := EnvelopeDigest(payload, ts)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest[:], issuer)
	if err != nil {
		return nil, fmt.Errorf("opal: sign envelope: %w", err)
	}
	return &Envelope{
		Version:   EnvelopeVersion,
		Algorithm: EnvelopeAlgorithm,
		Issuer:    crypto.PubkeyToAddress(issuer.PublicKey).Hex(),
		Signature: hexutil.Encode(sig),
		IssuedAt:  ts,
	}, nil
}

// IssuerVerifier accepts envelopes signed by one of a fixed set of issuers.
type IssuerVerifier struct {
	trusted map[common.Address]struct{}
}

// NewIssuerVerifier trusts the given issuer addresses.
func NewIssuerVerifier(issuers ...common.Address) *IssuerVerifier {
	v := &IssuerVerifier{trusted: make(map[common.Address]struct{}, len(issuers))}
	for _, addr := range issuers {
		v.trusted[addr] = struct{}{}
	}
	return v
}

// VerifyEnvelope recovers the signer of doc's envelope and checks it is trusted
// and matches the declared issuer.
func (v *IssuerVerifier) VerifyEnvelope(doc *SignedDocument) error {
	env := doc.Envelope
	if env == nil {
		return fmt.Errorf("%w: missing envelope", ErrEnvelopeInvalid)
	}
	if strings.TrimSpace(env.Version) != EnvelopeVersion {
		return fmt.Errorf("%w: unsupported version %q", ErrEnvelopeInvalid, env.Version)
	}
	if strings.ToLower(strings.TrimSpace(env.Algorithm)) != EnvelopeAlgorithm {
		return fmt.Errorf("%w: unsupported algorithm %q", ErrEnvelopeInvalid, env.Algorithm)
	}
	issuedAt, err := time.Parse(time.RFC3339Nano, env.IssuedAt)
	if err != nil || !strings.HasSuffix(env.IssuedAt, "Z") || !issuedAt.Equal(issuedAt.UTC()) {
		return fmt.Errorf("%w: invalid issued_at %q", ErrEnvelopeInvalid, env.IssuedAt)
	}
	if !common.IsHexAddress(env.Issuer) {
		return fmt.Errorf("%w: invalid issuer %q", ErrEnvelopeInvalid, env.Issuer)
	}
	sig, err := hexutil.Decode(env.Signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return fmt.Errorf("%w: malformed signature", ErrEnvelopeInvalid)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	digest, err := EnvelopeDigest(doc.Payload, env.IssuedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEnvelopeInvalid, err)
	}
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return fmt.Errorf("%w: recover signer: %v", ErrEnvelopeInvalid, err)
	}
	signer := crypto.PubkeyToAddress(*pub)
	if signer != common.HexToAddress(env.Issuer) {
		return fmt.Errorf("%w: signature by %s, declared issuer %s", ErrEnvelopeInvalid, signer.Hex(), env.Issuer)
	}
	if _, ok := v.trusted[signer]; !ok {
		return fmt.Errorf("%w: issuer %s not trusted", ErrEnvelopeInvalid, signer.Hex())
	}
	return nil
}
