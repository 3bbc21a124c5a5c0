package types

import (
	"encoding/json"

	"github.com/holiman/uint256"
)

// AccountState is the leaf payload of the global state tree: the account's
// balance, sequence number and the roots of its per-account storage trees.
// A nil storage root slot means that storage kind is empty.
type AccountState struct {
	Balance        *uint256.Int `json:"balance"`
	SequenceNumber uint64       `json:"sequence_number"`
	StorageRoots   []*HashValue `json:"storage_roots"`
}

func NewAccountState(balance *uint256.Int) *AccountState {
	return &AccountState{
		Balance:        balance,
		SequenceNumber: 0,
		StorageRoots:   nil,
	}
}

// Encode serializes the account state into its leaf blob form.
func (s *AccountState) Encode() ([]byte, error) {
	return json.Marshal(s)
}

// DecodeAccountState parses a leaf blob back into an account state.
func DecodeAccountState(data []byte) (*AccountState, error) {
	var out AccountState
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
