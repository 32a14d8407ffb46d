// Copyright 2016 The go-ethereum Authors
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

package state

import (
	"github.com/holiman/uint256"

	"github.com/evmts/guillotine-go/common"
)

// journalEntry is a modification entry in the state change journal that can be
// reverted on demand.
type journalEntry interface {
	// revert undoes the changes introduced by this journal entry.
	revert(*StateDB)
}

// journal contains the list of state modifications applied since the last state
// commit. These are tracked to be able to be reverted in the case of an execution
// exception or request for reversal.
type journal struct {
	entries []journalEntry
}

func newJournal() *journal {
	return &journal{}
}

// append inserts a new modification entry to the end of the change journal.
func (j *journal) append(entry journalEntry) {
	j.entries = append(j.entries, entry)
}

// revert undoes a batch of journalled modifications.
func (j *journal) revert(statedb *StateDB, snapshot int) {
	for i := len(j.entries) - 1; i >= snapshot; i-- {
		j.entries[i].revert(statedb)
	}
	j.entries = j.entries[:snapshot]
}

// length returns the current number of entries in the journal.
func (j *journal) length() int {
	return len(j.entries)
}

type (
	createAccountChange struct {
		account common.Address
	}
	balanceChange struct {
		account common.Address
		prev    uint256.Int
	}
	nonceChange struct {
		account common.Address
		prev    uint64
	}
	codeChange struct {
		account  common.Address
		prevCode []byte
		prevHash common.Hash
	}
	storageChange struct {
		account   common.Address
		key       common.Hash
		prevValue common.Hash
		prevSet   bool
	}
	refundChange struct {
		prev uint64
	}
	addLogChange struct{}
	selfDestructChange struct {
		account     common.Address
		prev        bool
		prevBalance uint256.Int
	}
)

func (ch createAccountChange) revert(s *StateDB) {
	delete(s.accounts, ch.account)
}

func (ch balanceChange) revert(s *StateDB) {
	s.accounts[ch.account].balance = ch.prev
}

func (ch nonceChange) revert(s *StateDB) {
	s.accounts[ch.account].nonce = ch.prev
}

func (ch codeChange) revert(s *StateDB) {
	obj := s.accounts[ch.account]
	obj.code = ch.prevCode
	obj.codeHash = ch.prevHash
}

func (ch storageChange) revert(s *StateDB) {
	obj := s.accounts[ch.account]
	if ch.prevSet {
		obj.storage[ch.key] = ch.prevValue
	} else {
		delete(obj.storage, ch.key)
	}
}

func (ch refundChange) revert(s *StateDB) {
	s.refund = ch.prev
}

func (ch addLogChange) revert(s *StateDB) {
	s.logs = s.logs[:len(s.logs)-1]
}

func (ch selfDestructChange) revert(s *StateDB) {
	obj := s.accounts[ch.account]
	obj.selfDestructed = ch.prev
	obj.balance = ch.prevBalance
}
