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
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmts/guillotine-go/common"
	"github.com/evmts/guillotine-go/core/types"
)

var (
	addrA = common.BytesToAddress([]byte{0xaa})
	addrB = common.BytesToAddress([]byte{0xbb})
	key1  = common.BytesToHash([]byte{1})
	val1  = common.BytesToHash([]byte{0x11})
)

func TestSnapshotRevertBalanceAndNonce(t *testing.T) {
	s := New()
	s.CreateAccount(addrA)
	s.SetBalance(addrA, uint256.NewInt(100))
	s.SetNonce(addrA, 1)

	snap := s.Snapshot()
	s.AddBalance(addrA, uint256.NewInt(50))
	s.SubBalance(addrA, uint256.NewInt(20))
	s.SetNonce(addrA, 7)
	require.Equal(t, uint64(130), s.GetBalance(addrA).Uint64())

	s.RevertToSnapshot(snap)
	assert.Equal(t, uint64(100), s.GetBalance(addrA).Uint64())
	assert.Equal(t, uint64(1), s.GetNonce(addrA))
}

func TestSnapshotRevertAccountCreation(t *testing.T) {
	s := New()
	snap := s.Snapshot()
	s.CreateAccount(addrA)
	s.SetBalance(addrA, uint256.NewInt(5))
	require.True(t, s.Exist(addrA))

	s.RevertToSnapshot(snap)
	assert.False(t, s.Exist(addrA))
	assert.True(t, s.GetBalance(addrA).IsZero())
}

func TestSnapshotRevertStorageAndCode(t *testing.T) {
	s := New()
	s.CreateAccount(addrA)
	s.SetState(addrA, key1, val1)
	s.SetCode(addrA, []byte{0x60, 0x00})

	snap := s.Snapshot()
	s.SetState(addrA, key1, common.BytesToHash([]byte{0x22}))
	s.SetState(addrA, common.BytesToHash([]byte{2}), val1)
	s.SetCode(addrA, []byte{0x60, 0x01})

	s.RevertToSnapshot(snap)
	assert.Equal(t, val1, s.GetState(addrA, key1))
	assert.Equal(t, common.Hash{}, s.GetState(addrA, common.BytesToHash([]byte{2})))
	assert.Equal(t, []byte{0x60, 0x00}, s.GetCode(addrA))
	assert.Equal(t, 2, s.GetCodeSize(addrA))
}

func TestNestedSnapshots(t *testing.T) {
	s := New()
	s.CreateAccount(addrA)
	s.SetBalance(addrA, uint256.NewInt(1))

	outer := s.Snapshot()
	s.SetBalance(addrA, uint256.NewInt(2))
	inner := s.Snapshot()
	s.SetBalance(addrA, uint256.NewInt(3))

	s.RevertToSnapshot(inner)
	assert.Equal(t, uint64(2), s.GetBalance(addrA).Uint64())
	s.RevertToSnapshot(outer)
	assert.Equal(t, uint64(1), s.GetBalance(addrA).Uint64())
}

func TestRevertDropsLogsAndRefund(t *testing.T) {
	s := New()
	s.AddLog(&types.Log{Address: addrA})
	snap := s.Snapshot()
	s.AddLog(&types.Log{Address: addrB})
	s.AddRefund(100)
	require.Len(t, s.Logs(), 2)
	require.Equal(t, uint64(100), s.GetRefund())

	s.RevertToSnapshot(snap)
	assert.Len(t, s.Logs(), 1)
	assert.Zero(t, s.GetRefund())
}

func TestSelfDestructRevert(t *testing.T) {
	s := New()
	s.CreateAccount(addrA)
	s.SetBalance(addrA, uint256.NewInt(42))

	snap := s.Snapshot()
	s.SelfDestruct(addrA)
	require.True(t, s.HasSelfDestructed(addrA))
	require.True(t, s.GetBalance(addrA).IsZero())
	require.True(t, s.Exist(addrA), "self-destructed accounts stay visible")

	s.RevertToSnapshot(snap)
	assert.False(t, s.HasSelfDestructed(addrA))
	assert.Equal(t, uint64(42), s.GetBalance(addrA).Uint64())
}

func TestEmpty(t *testing.T) {
	s := New()
	assert.True(t, s.Empty(addrA), "non-existent accounts are empty")
	s.CreateAccount(addrA)
	assert.True(t, s.Empty(addrA))
	s.SetNonce(addrA, 1)
	assert.False(t, s.Empty(addrA))
}

func TestCodeHash(t *testing.T) {
	s := New()
	assert.Equal(t, common.Hash{}, s.GetCodeHash(addrA), "zero hash for non-existent accounts")
	s.CreateAccount(addrA)
	assert.Equal(t, emptyCodeHash, s.GetCodeHash(addrA))
	s.SetCode(addrA, []byte{0x00})
	assert.NotEqual(t, emptyCodeHash, s.GetCodeHash(addrA))
}

func TestCopyIsIndependent(t *testing.T) {
	s := New()
	s.CreateAccount(addrA)
	s.SetBalance(addrA, uint256.NewInt(10))
	s.SetState(addrA, key1, val1)
	s.AddLog(&types.Log{Address: addrA})

	cpy := s.Copy()
	require.True(t, s.Equal(cpy))

	cpy.SetBalance(addrA, uint256.NewInt(99))
	cpy.SetState(addrA, key1, common.BytesToHash([]byte{0x99}))
	assert.Equal(t, uint64(10), s.GetBalance(addrA).Uint64())
	assert.Equal(t, val1, s.GetState(addrA, key1))
	assert.False(t, s.Equal(cpy))
}

func TestDiffReportsDivergence(t *testing.T) {
	a, b := New(), New()
	a.CreateAccount(addrA)
	b.CreateAccount(addrA)
	require.Empty(t, a.Diff(b))

	b.SetBalance(addrA, uint256.NewInt(3))
	assert.Contains(t, a.Diff(b), "balance")

	b.SetBalance(addrA, uint256.NewInt(0))
	b.SetState(addrA, key1, val1)
	assert.Contains(t, a.Diff(b), "storage")

	a.SetState(addrA, key1, val1)
	assert.Empty(t, a.Diff(b))
}

func TestRevertInvalidSnapshotPanics(t *testing.T) {
	s := New()
	snap := s.Snapshot()
	s.RevertToSnapshot(snap)
	assert.Panics(t, func() { s.RevertToSnapshot(snap) })
}
