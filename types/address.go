package types

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// AddressLength is the byte length of an AccountAddress.
const AddressLength = 16

// AccountAddress identifies an on-chain account. Addresses are derived from
// the tail of the SHA3-256 digest of the account's public key.
type AccountAddress [AddressLength]byte

// DefaultAddress is the author of the genesis block.
var DefaultAddress = AccountAddress{}

// AddressFromPublicKey derives the address from an ed25519 public key.
func AddressFromPublicKey(pub ed25519.PublicKey) AccountAddress {
	digest := HashData(pub)
	var out AccountAddress
	copy(out[:], digest[HashLength-AddressLength:])
	return out
}

// AddressFromHexLiteral parses a 0x-prefixed hex literal, left padding short
// literals with zero bytes.
func AddressFromHexLiteral(literal string) (AccountAddress, error) {
	if len(literal) < 2 || literal[:2] != "0x" {
		return DefaultAddress, fmt.Errorf("address literal %q must start with 0x", literal)
	}
	hexPart := literal[2:]
	if len(hexPart)%2 != 0 {
		hexPart = "0" + hexPart
	}
	data, err := hex.DecodeString(hexPart)
	if err != nil {
		return DefaultAddress, err
	}
	if len(data) > AddressLength {
		return DefaultAddress, fmt.Errorf("address literal %q longer than %d bytes", literal, AddressLength)
	}
	var out AccountAddress
	copy(out[AddressLength-len(data):], data)
	return out, nil
}

// RandomAddress is only for tests.
func RandomAddress() AccountAddress {
	var out AccountAddress
	if _, err := rand.Read(out[:]); err != nil {
		panic(err)
	}
	return out
}

// Hash returns the address digest used as the account's state tree key.
func (a AccountAddress) Hash() HashValue {
	return HashData(a[:])
}

func (a AccountAddress) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a[:])
	return out
}

func (a AccountAddress) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// ShortString returns the first four bytes in hex, for log messages.
func (a AccountAddress) ShortString() string {
	return hex.EncodeToString(a[:4])
}

func (a AccountAddress) String() string {
	return a.Hex()
}

func (a AccountAddress) MarshalText() ([]byte, error) {
	return []byte(a.Hex()), nil
}

func (a *AccountAddress) UnmarshalText(text []byte) error {
	parsed, err := AddressFromHexLiteral(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
