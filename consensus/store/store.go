package store

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"bftcore/consensus/types"
	"bftcore/storage"
)

// Store persists consensus-related metadata such as the validator set.
type Store struct {
	db storage.Database
}

// New creates a consensus store backed by the provided database.
func New(db storage.Database) *Store {
	return &Store{db: db}
}

// Validator captures the minimal information required by consensus for a
// validator at genesis.
type Validator struct {
	Address []byte
	PubKey  []byte
	Power   uint64
	Moniker string
}

var validatorSetKey = []byte("consensus/validatorset")

// ErrNoValidators is returned by LoadValidators when no set has been saved.
var ErrNoValidators = errors.New("consensus store: no validator set persisted")

// SaveValidators persists the provided validator list. The caller must ensure
// deterministic ordering of the slice.
func (s *Store) SaveValidators(validators []Validator) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("consensus store uninitialised")
	}
	encoded, err := rlp.EncodeToBytes(validators)
	if err != nil {
		return err
	}
	return s.db.Put(validatorSetKey, encoded)
}

// LoadValidators returns the last validator set persisted by SaveValidators.
func (s *Store) LoadValidators() ([]Validator, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("consensus store uninitialised")
	}
	raw, err := s.db.Get(validatorSetKey)
	if err != nil {
		return nil, ErrNoValidators
	}
	var validators []Validator
	if err := rlp.DecodeBytes(raw, &validators); err != nil {
		return nil, err
	}
	return validators, nil
}

// ToNodes converts a persisted validator set into the authority.Manager's
// voting-power representation. A persisted Validator carries a single Power
// value, which is used as both the proposal weight and the vote weight; a
// separate proposal weight is not stored.
func ToNodes(validators []Validator) ([]types.Node, error) {
	nodes := make([]types.Node, 0, len(validators))
	for _, v := range validators {
		if len(v.Address) != len(types.Address{}) {
			return nil, fmt.Errorf("consensus store: validator %q has malformed address", v.Moniker)
		}
		var addr types.Address
		copy(addr[:], v.Address)
		nodes = append(nodes, types.Node{
			Address:        addr,
			ProposalWeight: v.Power,
			VoteWeight:     v.Power,
		})
	}
	return nodes, nil
}
