// Copyright 2014 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package state provides a journaled in-memory account store for the engine.
// It implements the execution-facing state interface with snapshot/revert
// semantics but no persistence: the caller seeds it, runs against it, and
// inspects the outcome.
package state

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/holiman/uint256"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/evmts/guillotine-go/common"
	"github.com/evmts/guillotine-go/core/types"
	"github.com/evmts/guillotine-go/crypto"
)

var emptyCodeHash = crypto.Keccak256Hash(nil)

// stateAccount is the in-memory representation of one account.
type stateAccount struct {
	balance        uint256.Int
	nonce          uint64
	code           []byte
	codeHash       common.Hash
	storage        map[common.Hash]common.Hash
	selfDestructed bool
}

func newStateAccount() *stateAccount {
	return &stateAccount{
		codeHash: emptyCodeHash,
		storage:  make(map[common.Hash]common.Hash),
	}
}

func (a *stateAccount) copy() *stateAccount {
	cpy := &stateAccount{
		balance:        a.balance,
		nonce:          a.nonce,
		code:           common.CopyBytes(a.code),
		codeHash:       a.codeHash,
		storage:        make(map[common.Hash]common.Hash, len(a.storage)),
		selfDestructed: a.selfDestructed,
	}
	for k, v := range a.storage {
		cpy.storage[k] = v
	}
	return cpy
}

// revision identifies one Snapshot call by the journal length at its time.
type revision struct {
	id           int
	journalIndex int
}

// StateDB holds accounts, storage, logs and the refund counter, with a change
// journal supporting nested snapshot/revert.
//
// A StateDB is not safe for concurrent use.
type StateDB struct {
	accounts map[common.Address]*stateAccount
	refund   uint64
	logs     []*types.Log

	journal        *journal
	validRevisions []revision
	nextRevisionID int
}

// New returns an empty state database.
func New() *StateDB {
	return &StateDB{
		accounts: make(map[common.Address]*stateAccount),
		journal:  newJournal(),
	}
}

func (s *StateDB) getStateObject(addr common.Address) *stateAccount {
	return s.accounts[addr]
}

func (s *StateDB) getOrNewStateObject(addr common.Address) *stateAccount {
	obj := s.accounts[addr]
	if obj == nil {
		obj = newStateAccount()
		s.accounts[addr] = obj
		s.journal.append(createAccountChange{account: addr})
	}
	return obj
}

// CreateAccount explicitly creates a new account in the state. Creating an
// account that already exists is a no-op; execution never recreates accounts
// here, balances survive.
func (s *StateDB) CreateAccount(addr common.Address) {
	s.getOrNewStateObject(addr)
}

// SubBalance subtracts amount from the account associated with addr.
func (s *StateDB) SubBalance(addr common.Address, amount *uint256.Int) {
	if amount.IsZero() {
		return
	}
	obj := s.getOrNewStateObject(addr)
	s.journal.append(balanceChange{account: addr, prev: obj.balance})
	obj.balance.Sub(&obj.balance, amount)
}

// AddBalance adds amount to the account associated with addr.
func (s *StateDB) AddBalance(addr common.Address, amount *uint256.Int) {
	obj := s.getOrNewStateObject(addr)
	if amount.IsZero() {
		return
	}
	s.journal.append(balanceChange{account: addr, prev: obj.balance})
	obj.balance.Add(&obj.balance, amount)
}

// SetBalance overwrites the balance of addr. Intended for seeding test and
// tooling state; execution only moves balances through Add/SubBalance.
func (s *StateDB) SetBalance(addr common.Address, amount *uint256.Int) {
	obj := s.getOrNewStateObject(addr)
	s.journal.append(balanceChange{account: addr, prev: obj.balance})
	obj.balance = *amount
}

// GetBalance retrieves the balance of addr, zero for non-existent accounts.
func (s *StateDB) GetBalance(addr common.Address) *uint256.Int {
	if obj := s.getStateObject(addr); obj != nil {
		return new(uint256.Int).Set(&obj.balance)
	}
	return new(uint256.Int)
}

// GetNonce retrieves the nonce of addr, zero for non-existent accounts.
func (s *StateDB) GetNonce(addr common.Address) uint64 {
	if obj := s.getStateObject(addr); obj != nil {
		return obj.nonce
	}
	return 0
}

// SetNonce sets the nonce of addr.
func (s *StateDB) SetNonce(addr common.Address, nonce uint64) {
	obj := s.getOrNewStateObject(addr)
	s.journal.append(nonceChange{account: addr, prev: obj.nonce})
	obj.nonce = nonce
}

// GetCodeHash returns the code hash of addr: the zero hash for non-existent
// accounts and the empty-code hash for existing code-less accounts.
func (s *StateDB) GetCodeHash(addr common.Address) common.Hash {
	if obj := s.getStateObject(addr); obj != nil {
		return obj.codeHash
	}
	return common.Hash{}
}

// GetCode retrieves the code of addr.
func (s *StateDB) GetCode(addr common.Address) []byte {
	if obj := s.getStateObject(addr); obj != nil {
		return obj.code
	}
	return nil
}

// SetCode stores code under addr, hashing it for GetCodeHash.
func (s *StateDB) SetCode(addr common.Address, code []byte) {
	obj := s.getOrNewStateObject(addr)
	s.journal.append(codeChange{account: addr, prevCode: obj.code, prevHash: obj.codeHash})
	obj.code = common.CopyBytes(code)
	obj.codeHash = crypto.Keccak256Hash(code)
}

// GetCodeSize returns the size of the code of addr.
func (s *StateDB) GetCodeSize(addr common.Address) int {
	if obj := s.getStateObject(addr); obj != nil {
		return len(obj.code)
	}
	return 0
}

// AddRefund adds gas to the refund counter.
func (s *StateDB) AddRefund(gas uint64) {
	s.journal.append(refundChange{prev: s.refund})
	s.refund += gas
}

// SubRefund removes gas from the refund counter. It panics if the refund
// counter goes below zero.
func (s *StateDB) SubRefund(gas uint64) {
	s.journal.append(refundChange{prev: s.refund})
	if gas > s.refund {
		panic(fmt.Sprintf("refund counter below zero (gas: %d > refund: %d)", gas, s.refund))
	}
	s.refund -= gas
}

// GetRefund returns the current value of the refund counter.
func (s *StateDB) GetRefund() uint64 {
	return s.refund
}

// GetState retrieves the value of key in the storage of addr.
func (s *StateDB) GetState(addr common.Address, key common.Hash) common.Hash {
	if obj := s.getStateObject(addr); obj != nil {
		return obj.storage[key]
	}
	return common.Hash{}
}

// SetState sets the value of key in the storage of addr.
func (s *StateDB) SetState(addr common.Address, key, value common.Hash) {
	obj := s.getOrNewStateObject(addr)
	prev, ok := obj.storage[key]
	if ok && prev == value {
		return
	}
	s.journal.append(storageChange{account: addr, key: key, prevValue: prev, prevSet: ok})
	obj.storage[key] = value
}

// SetStorage replaces the entire storage of addr. Seeding helper, unjournaled;
// call it before execution starts.
func (s *StateDB) SetStorage(addr common.Address, storage map[common.Hash]common.Hash) {
	obj := s.getOrNewStateObject(addr)
	obj.storage = make(map[common.Hash]common.Hash, len(storage))
	for k, v := range storage {
		obj.storage[k] = v
	}
}

// SelfDestruct marks addr as self-destructed and clears its balance. The
// account stays visible until the end of the transaction.
func (s *StateDB) SelfDestruct(addr common.Address) {
	obj := s.getStateObject(addr)
	if obj == nil {
		return
	}
	s.journal.append(selfDestructChange{
		account:     addr,
		prev:        obj.selfDestructed,
		prevBalance: obj.balance,
	})
	obj.selfDestructed = true
	obj.balance = uint256.Int{}
}

// HasSelfDestructed reports whether addr was self-destructed in this
// transaction.
func (s *StateDB) HasSelfDestructed(addr common.Address) bool {
	if obj := s.getStateObject(addr); obj != nil {
		return obj.selfDestructed
	}
	return false
}

// Exist reports whether the given account exists in state, including
// self-destructed accounts.
func (s *StateDB) Exist(addr common.Address) bool {
	return s.getStateObject(addr) != nil
}

// Empty reports whether the account is non-existent or empty per EIP-161
// (balance = nonce = code = 0).
func (s *StateDB) Empty(addr common.Address) bool {
	obj := s.getStateObject(addr)
	return obj == nil || (obj.balance.IsZero() && obj.nonce == 0 && len(obj.code) == 0)
}

// AddLog appends a log emitted by the current execution.
func (s *StateDB) AddLog(l *types.Log) {
	s.journal.append(addLogChange{})
	s.logs = append(s.logs, l)
}

// Logs returns all logs emitted so far.
func (s *StateDB) Logs() []*types.Log {
	return s.logs
}

// Snapshot returns an identifier for the current revision of the state.
func (s *StateDB) Snapshot() int {
	id := s.nextRevisionID
	s.nextRevisionID++
	s.validRevisions = append(s.validRevisions, revision{id, s.journal.length()})
	return id
}

// RevertToSnapshot reverts all state changes made since the given revision.
func (s *StateDB) RevertToSnapshot(revid int) {
	// Find the snapshot in the stack of valid snapshots.
	idx := sort.Search(len(s.validRevisions), func(i int) bool {
		return s.validRevisions[i].id >= revid
	})
	if idx == len(s.validRevisions) || s.validRevisions[idx].id != revid {
		panic(fmt.Errorf("revision id %v cannot be reverted", revid))
	}
	snapshot := s.validRevisions[idx].journalIndex

	s.journal.revert(s, snapshot)
	s.validRevisions = s.validRevisions[:idx]
}

// Copy creates a deep, independent copy of the state. Snapshots of the copied
// state cannot be applied to the copy.
func (s *StateDB) Copy() *StateDB {
	cpy := New()
	for addr, obj := range s.accounts {
		cpy.accounts[addr] = obj.copy()
	}
	cpy.refund = s.refund
	cpy.logs = make([]*types.Log, len(s.logs))
	for i, l := range s.logs {
		cpy.logs[i] = l.Copy()
	}
	return cpy
}

// Diff describes the first differences between two states, one line per
// divergent fact, addresses in sorted order. An empty string means the states
// agree on accounts, storage, logs and the refund counter.
func (s *StateDB) Diff(other *StateDB) string {
	var b strings.Builder
	addrs := maps.Keys(s.accounts)
	for addr := range other.accounts {
		if _, ok := s.accounts[addr]; !ok {
			addrs = append(addrs, addr)
		}
	}
	slices.SortFunc(addrs, func(a, b common.Address) int { return a.Cmp(b) })

	for _, addr := range addrs {
		a, b2 := s.accounts[addr], other.accounts[addr]
		switch {
		case a == nil:
			fmt.Fprintf(&b, "%s: missing on one side\n", addr.Hex())
			continue
		case b2 == nil:
			fmt.Fprintf(&b, "%s: missing on other side\n", addr.Hex())
			continue
		}
		if a.balance != b2.balance {
			fmt.Fprintf(&b, "%s: balance %s != %s\n", addr.Hex(), a.balance.Dec(), b2.balance.Dec())
		}
		if a.nonce != b2.nonce {
			fmt.Fprintf(&b, "%s: nonce %d != %d\n", addr.Hex(), a.nonce, b2.nonce)
		}
		if !bytes.Equal(a.code, b2.code) {
			fmt.Fprintf(&b, "%s: code differs\n", addr.Hex())
		}
		if a.selfDestructed != b2.selfDestructed {
			fmt.Fprintf(&b, "%s: selfdestructed %v != %v\n", addr.Hex(), a.selfDestructed, b2.selfDestructed)
		}
		diffStorage(&b, addr, a.storage, b2.storage)
	}
	if s.refund != other.refund {
		fmt.Fprintf(&b, "refund %d != %d\n", s.refund, other.refund)
	}
	if len(s.logs) != len(other.logs) {
		fmt.Fprintf(&b, "log count %d != %d\n", len(s.logs), len(other.logs))
	}
	return b.String()
}

// Equal reports whether two states carry the same accounts, storage, logs and
// refund counter.
func (s *StateDB) Equal(other *StateDB) bool {
	return s.Diff(other) == ""
}

func diffStorage(b *strings.Builder, addr common.Address, x, y map[common.Hash]common.Hash) {
	keys := maps.Keys(x)
	for k := range y {
		if _, ok := x[k]; !ok {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, func(a, b common.Hash) int { return a.Cmp(b) })
	for _, k := range keys {
		// Absent keys read as the zero hash, matching GetState.
		if x[k] != y[k] {
			fmt.Fprintf(b, "%s: storage %s: %s != %s\n", addr.Hex(), k.Hex(), x[k].Hex(), y[k].Hex())
		}
	}
}
