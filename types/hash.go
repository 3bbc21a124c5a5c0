package types

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"

	"golang.org/x/crypto/sha3"
)

// HashLength is the byte length of a HashValue.
const HashLength = 32

// HashValue is a 32-byte SHA3-256 content hash. It is the identity of every
// persisted entity: blocks, headers, tree nodes and transactions.
type HashValue [HashLength]byte

// ZeroHash is the placeholder parent hash of the genesis block.
var ZeroHash = HashValue{}

func NewHasher() hash.Hash {
	return sha3.New256()
}

// HashData returns the SHA3-256 digest of data.
func HashData(data []byte) HashValue {
	h := NewHasher()
	h.Write(data)
	var out HashValue
	copy(out[:], h.Sum(nil))
	return out
}

// HashValueFromSlice converts a 32-byte slice into a HashValue.
func HashValueFromSlice(data []byte) (HashValue, error) {
	if len(data) != HashLength {
		return ZeroHash, fmt.Errorf("invalid hash length %d, expected %d", len(data), HashLength)
	}
	var out HashValue
	copy(out[:], data)
	return out, nil
}

// HashValueFromHex parses a hex string, with or without the 0x prefix.
func HashValueFromHex(s string) (HashValue, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return ZeroHash, err
	}
	return HashValueFromSlice(data)
}

// CreateLiteralHash builds a hash whose raw bytes are the literal itself,
// zero padded. Used for well-known placeholder hashes that must not collide
// with any real digest preimage.
func CreateLiteralHash(literal string) HashValue {
	if len(literal) > HashLength {
		panic(fmt.Sprintf("literal %q longer than %d bytes", literal, HashLength))
	}
	var out HashValue
	copy(out[:], literal)
	return out
}

// RandomHash is only for tests.
func RandomHash() HashValue {
	var out HashValue
	if _, err := rand.Read(out[:]); err != nil {
		panic(err)
	}
	return out
}

func (h HashValue) IsZero() bool {
	return h == ZeroHash
}

func (h HashValue) Bytes() []byte {
	out := make([]byte, HashLength)
	copy(out, h[:])
	return out
}

func (h HashValue) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

// ShortString returns the first four bytes in hex, for log messages.
func (h HashValue) ShortString() string {
	return hex.EncodeToString(h[:4])
}

func (h HashValue) String() string {
	return h.Hex()
}

func (h HashValue) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

func (h *HashValue) UnmarshalText(text []byte) error {
	parsed, err := HashValueFromHex(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// writeUint64 writes n big-endian into h. Shared helper for the canonical
// binary hashing of entities.
func writeUint64(h hash.Hash, n uint64) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	h.Write(buf)
}
