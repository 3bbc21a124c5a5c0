package types

import (
	"crypto/ed25519"

	"github.com/holiman/uint256"
)

// TransactionStatusKind distinguishes how an execution result affects the
// chain: Keep records the transaction with its (possibly failed) status and
// charges gas, Discard rejects it outright with no cost.
type TransactionStatusKind uint8

const (
	// StatusExecuted is a kept, successful execution.
	StatusExecuted TransactionStatusKind = iota
	// StatusKeptFailure is kept on chain, charged, but semantically failed.
	StatusKeptFailure
	// StatusDiscard rejects the transaction before it costs anything.
	StatusDiscard
)

// VMStatus is the executor's verdict for a transaction.
type VMStatus struct {
	Kind   TransactionStatusKind `json:"kind"`
	Reason string                `json:"reason,omitempty"`
}

func KeepStatus() VMStatus {
	return VMStatus{Kind: StatusExecuted}
}

func KeepFailureStatus(reason string) VMStatus {
	return VMStatus{Kind: StatusKeptFailure, Reason: reason}
}

func DiscardStatus(reason string) VMStatus {
	return VMStatus{Kind: StatusDiscard, Reason: reason}
}

func (s VMStatus) IsDiscard() bool {
	return s.Kind == StatusDiscard
}

// RawUserTransaction is the unsigned payload of a user transaction.
type RawUserTransaction struct {
	Sender AccountAddress `json:"sender"`
	// SequenceNumber orders transactions from the same sender.
	SequenceNumber uint64 `json:"sequence_number"`
	// Recipient of the transferred amount.
	Recipient AccountAddress `json:"recipient"`
	Amount    *uint256.Int   `json:"amount"`
	// MaxGasAmount bounds the gas this transaction may consume.
	MaxGasAmount uint64 `json:"max_gas_amount"`
	GasUnitPrice uint64 `json:"gas_unit_price"`
	// ExpirationTimestamp after which the transaction is invalid, in
	// milliseconds since epoch.
	ExpirationTimestamp uint64 `json:"expiration_timestamp"`
}

func (t *RawUserTransaction) Hash() HashValue {
	hasher := NewHasher()
	hasher.Write(t.Sender[:])
	writeUint64(hasher, t.SequenceNumber)
	hasher.Write(t.Recipient[:])
	amount := t.Amount.Bytes32()
	hasher.Write(amount[:])
	writeUint64(hasher, t.MaxGasAmount)
	writeUint64(hasher, t.GasUnitPrice)
	writeUint64(hasher, t.ExpirationTimestamp)
	var out HashValue
	copy(out[:], hasher.Sum(nil))
	return out
}

// SignedUserTransaction is a raw transaction plus the sender's signature.
type SignedUserTransaction struct {
	Raw       RawUserTransaction `json:"raw"`
	PublicKey []byte             `json:"public_key"`
	Signature []byte             `json:"signature"`
}

// SignTransaction signs raw with the sender's private key.
func SignTransaction(raw RawUserTransaction, priv ed25519.PrivateKey) SignedUserTransaction {
	digest := raw.Hash()
	return SignedUserTransaction{
		Raw:       raw,
		PublicKey: priv.Public().(ed25519.PublicKey),
		Signature: ed25519.Sign(priv, digest[:]),
	}
}

// ID is the content hash over the raw transaction and its signature.
func (t *SignedUserTransaction) ID() HashValue {
	hasher := NewHasher()
	raw := t.Raw.Hash()
	hasher.Write(raw[:])
	hasher.Write(t.PublicKey)
	hasher.Write(t.Signature)
	var out HashValue
	copy(out[:], hasher.Sum(nil))
	return out
}

// CheckSignature verifies the signature and that the declared public key
// derives the sender address.
func (t *SignedUserTransaction) CheckSignature() bool {
	if len(t.PublicKey) != ed25519.PublicKeySize {
		return false
	}
	pub := ed25519.PublicKey(t.PublicKey)
	if AddressFromPublicKey(pub) != t.Raw.Sender {
		return false
	}
	digest := t.Raw.Hash()
	return ed25519.Verify(pub, digest[:], t.Signature)
}

// TransactionInfo is the execution receipt of a single transaction; its
// hash is the accumulator leaf committing to the transaction's effect.
type TransactionInfo struct {
	TransactionHash HashValue `json:"transaction_hash"`
	StateRootHash   HashValue `json:"state_root_hash"`
	GasUsed         uint64    `json:"gas_used"`
	Status          VMStatus  `json:"status"`
}

func (info *TransactionInfo) ID() HashValue {
	hasher := NewHasher()
	hasher.Write(info.TransactionHash[:])
	hasher.Write(info.StateRootHash[:])
	writeUint64(hasher, info.GasUsed)
	hasher.Write([]byte{byte(info.Status.Kind)})
	hasher.Write([]byte(info.Status.Reason))
	var out HashValue
	copy(out[:], hasher.Sum(nil))
	return out
}

// WriteOp is one state mutation: the new account blob for an address, or a
// deletion when Blob is nil.
type WriteOp struct {
	Address AccountAddress `json:"address"`
	Blob    []byte         `json:"blob"`
}

// WriteSet is the ordered set of state mutations produced by executing one
// transaction. Identical (txn, state) inputs always produce an identical
// write set.
type WriteSet []WriteOp

// TransactionOutput is the deterministic result of executing a transaction.
type TransactionOutput struct {
	WriteSet WriteSet `json:"write_set"`
	GasUsed  uint64   `json:"gas_used"`
	Status   VMStatus `json:"status"`
}
