package opal

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Public key sizes accepted by DeriveAddress.
const (
	// RawPublicKeySize is an uncompressed point without the 0x04 prefix.
	RawPublicKeySize = 64

	// UncompressedPublicKeySize is an uncompressed point with the 0x04 prefix.
	UncompressedPublicKeySize = 65
)

// DeriveAddress returns the last 20 bytes of keccak256 over the uncompressed
// public key coordinates (X || Y). Keys that are not on the curve are rejected.
func DeriveAddress(publicKey []byte) (common.Address, error) {
	var point []byte
	switch len(publicKey) {
	case RawPublicKeySize:
		point = append([]byte{0x04}, publicKey...)
	case UncompressedPublicKeySize:
		point = publicKey
	default:
		return common.Address{}, fmt.Errorf("%w: want %d or %d bytes, got %d",
			ErrInvalidPublicKey, RawPublicKeySize, UncompressedPublicKeySize, len(publicKey))
	}
	if _, err := crypto.UnmarshalPubkey(point); err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	digest := crypto.Keccak256(point[1:])
	return common.BytesToAddress(digest[12:]), nil
}

// KeyMaterial is the sender's key pair for one deployment.
type KeyMaterial struct {
	PrivateKey []byte
	PublicKey  []byte
}

// KeyMaterialFromHex builds key material from a hex private key, deriving the
// uncompressed public key.
func KeyMaterialFromHex(privHex string) (*KeyMaterial, error) {
	raw, err := hexutil.Decode(ensure0x(privHex))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	priv, err := crypto.ToECDSA(raw)
	if err != nil {
		clear(raw)
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	pub := crypto.FromECDSAPub(&priv.PublicKey)
	priv.D.SetUint64(0)
	return &KeyMaterial{PrivateKey: raw, PublicKey: pub[1:]}, nil
}

// Address derives the sender address from the public key.
func (k *KeyMaterial) Address() (common.Address, error) {
	return DeriveAddress(k.PublicKey)
}

// Wipe zeroes the private key bytes.
func (k *KeyMaterial) Wipe() {
	clear(k.PrivateKey)
	k.PrivateKey = nil
}
