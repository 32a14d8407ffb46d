// Copyright 2024 The go-ethereum Authors
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

package vm

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmts/guillotine-go/common"
	"github.com/evmts/guillotine-go/core/state"
)

// returnSlot0 loads storage slot 0 and returns it as one word.
var returnSlot0 = []byte{
	byte(PUSH1), 0, byte(SLOAD),
	byte(PUSH1), 0, byte(MSTORE),
	byte(PUSH1), 32, byte(PUSH1), 0, byte(RETURN),
}

// newShadowPair builds a primary/reference pair over two states seeded by the
// given mutators.
func newShadowPair(code []byte, granularity ShadowGranularity,
	seedPrimary, seedReference func(*state.StateDB)) (*Shadow, CallParams) {

	seed := func(sdb *state.StateDB, mutate func(*state.StateDB)) {
		sdb.CreateAccount(testCaller)
		sdb.SetBalance(testCaller, uint256.NewInt(1e18))
		sdb.CreateAccount(testContract)
		sdb.SetCode(testContract, code)
		if mutate != nil {
			mutate(sdb)
		}
	}
	primaryState, referenceState := state.New(), state.New()
	seed(primaryState, seedPrimary)
	seed(referenceState, seedReference)

	primary := NewEVM(testBlockContext(), TxContext{Origin: testCaller}, primaryState, Config{})
	reference := NewEVM(testBlockContext(), TxContext{Origin: testCaller}, referenceState, Config{})
	shadow := NewShadow(primary, reference, ShadowConfig{Granularity: granularity})
	return shadow, CallParams{
		Kind:      CallKindCall,
		Caller:    testCaller,
		Recipient: testContract,
		Gas:       200_000,
	}
}

func TestShadowCallAgreement(t *testing.T) {
	shadow, params := newShadowPair(returnSlot0, GranularityCall,
		func(s *state.StateDB) { s.SetState(testContract, common.Hash{}, common.BytesToHash([]byte{7})) },
		func(s *state.StateDB) { s.SetState(testContract, common.Hash{}, common.BytesToHash([]byte{7})) },
	)
	res, err := shadow.Execute(params)
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.Len(t, res.Output, 32)
	assert.Equal(t, byte(7), res.Output[31])
}

func TestShadowCallOutputMismatch(t *testing.T) {
	shadow, params := newShadowPair(returnSlot0, GranularityCall,
		func(s *state.StateDB) { s.SetState(testContract, common.Hash{}, common.BytesToHash([]byte{1})) },
		func(s *state.StateDB) { s.SetState(testContract, common.Hash{}, common.BytesToHash([]byte{2})) },
	)
	res, err := shadow.Execute(params)
	require.Error(t, err)
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "output", mismatch.Field)
	// The primary's result stays usable despite the divergence.
	assert.True(t, res.Success)
	assert.Equal(t, byte(1), res.Output[31])
}

func TestShadowCallGasMismatch(t *testing.T) {
	// Same output on both sides, different schedule on the reference: only
	// the gas diverges.
	shadow, params := newShadowPair(returnSlot0, GranularityCall, nil, nil)
	expensive := shadow.reference.gasTable
	expensive.SLoad += 100
	shadow.reference.Config.GasTable = &expensive
	shadow.reference.gasTable = expensive
	shadow.reference.interpreter = NewEVMInterpreter(shadow.reference)

	_, err := shadow.Execute(params)
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "gas left", mismatch.Field)
}

func TestShadowCompareStateHook(t *testing.T) {
	// Both sides store their slot-0 seed; outputs agree (nothing returned),
	// so only the state hook can see the divergence.
	storeCode := []byte{
		byte(PUSH1), 0, byte(SLOAD),
		byte(PUSH1), 1, byte(SSTORE),
		byte(STOP),
	}
	shadow, params := newShadowPair(storeCode, GranularityCall,
		func(s *state.StateDB) { s.SetState(testContract, common.Hash{}, common.BytesToHash([]byte{1})) },
		func(s *state.StateDB) { s.SetState(testContract, common.Hash{}, common.BytesToHash([]byte{2})) },
	)
	shadow.cfg.CompareState = func(primary, reference StateDB) (string, bool) {
		diff := primary.(*state.StateDB).Diff(reference.(*state.StateDB))
		return diff, diff == ""
	}
	_, err := shadow.Execute(params)
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "state", mismatch.Field)
	assert.Contains(t, mismatch.Primary, "storage")
}

func TestShadowBlockAgreement(t *testing.T) {
	shadow, params := newShadowPair(countdownLoop, GranularityBlock, nil, nil)
	res, err := shadow.Execute(params)
	require.NoError(t, err)
	assert.True(t, res.Success)
}

func TestShadowBlockAgreementWithSubCall(t *testing.T) {
	// The outer frame's CALL closes one block and opens the next, so the
	// boundaries bracket the sub-call; lock-step only checkpoints the
	// outermost frame and must see equal gas on both sides of it.
	calleeAddr := common.BytesToAddress([]byte("callee"))
	outer := []byte{
		byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0,
		byte(PUSH20),
	}
	outer = append(outer, calleeAddr.Bytes()...)
	outer = append(outer, byte(GAS), byte(CALL),
		byte(PUSH1), 0, byte(MSTORE),
		byte(PUSH1), 32, byte(PUSH1), 0, byte(RETURN),
	)
	seed := func(s *state.StateDB) {
		s.CreateAccount(calleeAddr)
		s.SetCode(calleeAddr, []byte{byte(PUSH1), 1, byte(POP), byte(STOP)})
	}
	shadow, params := newShadowPair(outer, GranularityBlock, seed, seed)
	res, err := shadow.Execute(params)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, byte(1), res.Output[31], "sub-call succeeded on both sides")
}

func TestShadowBlockControlFlowMismatch(t *testing.T) {
	// Slot 0 steers a JUMPI: the primary takes the jump, the reference falls
	// through and halts before ever reaching the jump target block.
	branchCode := []byte{
		byte(PUSH1), 0, byte(SLOAD),
		byte(PUSH1), 8, byte(JUMPI),
		byte(STOP),
		byte(INVALID),
		byte(JUMPDEST), byte(STOP),
	}
	shadow, params := newShadowPair(branchCode, GranularityBlock,
		func(s *state.StateDB) { s.SetState(testContract, common.Hash{}, common.BytesToHash([]byte{1})) },
		nil,
	)
	_, err := shadow.Execute(params)
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, GranularityBlock, mismatch.Granularity)
	assert.Equal(t, "control flow", mismatch.Field)
	assert.Equal(t, uint64(8), mismatch.BlockPC)
}

func TestShadowBlockStackMismatch(t *testing.T) {
	// Both sides reach the jump target, carrying different SLOAD results on
	// the stack into the next block.
	code := []byte{
		byte(PUSH1), 0, byte(SLOAD),
		byte(PUSH1), 6, byte(JUMP),
		byte(JUMPDEST), // pc 6, entered with [slot0]
		byte(POP), byte(STOP),
	}
	shadow, params := newShadowPair(code, GranularityBlock,
		func(s *state.StateDB) { s.SetState(testContract, common.Hash{}, common.BytesToHash([]byte{1})) },
		func(s *state.StateDB) { s.SetState(testContract, common.Hash{}, common.BytesToHash([]byte{2})) },
	)
	_, err := shadow.Execute(params)
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "stack[0]", mismatch.Field)
	assert.Equal(t, uint64(6), mismatch.BlockPC)
}
