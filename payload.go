package opal

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Word encoding constants.
const (
	// WordSize is the EVM word size in bytes.
	WordSize = 32

	// WordHexLen is the number of hex characters in one word.
	WordHexLen = 2 * WordSize
)

// EncodeQueryURI converts uri to hex and left-pads the result with zeros to
// exactly one word. A 0x-prefixed hex string is taken as is, a string of
// decimal digits is encoded as a big-endian integer and anything else as its
// UTF-8 bytes. Identifiers longer than one word are rejected rather than
// truncated, so the contract always reads the full value.
func EncodeQueryURI(uri string) (string, error) {
	h, err := queryURIHex(uri)
	if err != nil {
		return "", err
	}
	if len(h) > WordHexLen {
		return "", fmt.Errorf("%w: %d hex digits", ErrQueryURITooLong, len(h))
	}
	return strings.Repeat("0", WordHexLen-len(h)) + h, nil
}

func queryURIHex(uri string) (string, error) {
	switch {
	case uri == "":
		return "", ErrEmptyQueryURI
	case has0xPrefix(uri) && isHexDigits(uri[2:]):
		if len(uri) == 2 {
			return "", ErrEmptyQueryURI
		}
		return strings.ToLower(uri[2:]), nil
	case isDecimalDigits(uri):
		n, _ := new(big.Int).SetString(uri, 10)
		return n.Text(16), nil
	default:
		return common.Bytes2Hex([]byte(uri)), nil
	}
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}

func isHexDigits(s string) bool {
	for _, c := range s {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}

func isDecimalDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return s != ""
}

// EncodePayload returns bytecode followed by the encoded query identifier, as
// unprefixed lowercase hex. The identifier word begins at len(bytecode).
func EncodePayload(bytecode, uri string) (string, error) {
	code, err := normalizeHex(bytecode)
	if err != nil {
		return "", err
	}
	word, err := EncodeQueryURI(uri)
	if err != nil {
		return "", err
	}
	return code + word, nil
}

// normalizeHex returns s as unprefixed lowercase hex.
func normalizeHex(s string) (string, error) {
	b, err := decodeHex(s)
	if err != nil {
		return "", err
	}
	return common.Bytes2Hex(b), nil
}

// decodeHex returns the bytes of a hex string with optional 0x prefix.
func decodeHex(s string) ([]byte, error) {
	b, err := hexutil.Decode(ensure0x(strings.TrimSpace(s)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBytecode, err)
	}
	return b, nil
}
