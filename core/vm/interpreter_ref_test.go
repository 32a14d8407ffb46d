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
	"github.com/evmts/guillotine-go/params"
)

func newTestFrame(t *testing.T, code []byte, gas uint64) (*RefFrame, *Contract) {
	t.Helper()
	evm, _ := newTestEVM(Config{})
	contract := GetContract(testCaller, testContract, new(uint256.Int), gas)
	t.Cleanup(func() { ReturnContract(contract) })
	contract.SetCallCode(common.Hash{}, code)
	frame, err := NewRefFrame(evm, contract, nil)
	require.NoError(t, err)
	t.Cleanup(frame.release)
	return frame, contract
}

func TestRefFrameStepByStep(t *testing.T) {
	code := []byte{byte(PUSH1), 1, byte(PUSH1), 2, byte(ADD), byte(STOP)}
	frame, _ := newTestFrame(t, code, 100_000)

	obs, err := frame.Step()
	require.NoError(t, err)
	assert.Equal(t, PUSH1, obs.Op)
	assert.Equal(t, uint64(0), obs.PC)
	assert.Equal(t, uint64(2), obs.PCAfter)
	assert.Equal(t, params.GasFastestStep, obs.GasBefore-obs.GasAfter)
	assert.Equal(t, 1, obs.StackLen)

	obs, err = frame.Step()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), obs.PCAfter)
	assert.Equal(t, 2, obs.StackLen)

	obs, err = frame.Step()
	require.NoError(t, err)
	assert.Equal(t, ADD, obs.Op)
	assert.Equal(t, 1, obs.StackLen)
	assert.Equal(t, uint256.NewInt(3), frame.Stack().peek())

	obs, err = frame.Step()
	require.NoError(t, err)
	assert.Equal(t, STOP, obs.Op)
	assert.True(t, frame.IsStopped())
	output, oerr := frame.Output()
	assert.Nil(t, output)
	assert.NoError(t, oerr)
}

func TestRefFrameHaltedIsSticky(t *testing.T) {
	frame, contract := newTestFrame(t, []byte{byte(STOP)}, 100_000)

	_, err := frame.Step()
	require.NoError(t, err)
	require.True(t, frame.IsStopped())

	gasBefore := contract.Gas
	for i := 0; i < 3; i++ {
		obs, err := frame.Step()
		assert.ErrorIs(t, err, ErrHalted)
		assert.Equal(t, gasBefore, obs.GasAfter, "a halted frame never changes state")
	}
}

func TestRefFrameErrorHalts(t *testing.T) {
	// Jump to a non-JUMPDEST.
	code := []byte{byte(PUSH1), 3, byte(JUMP), byte(STOP)}
	frame, _ := newTestFrame(t, code, 100_000)

	_, err := frame.Step()
	require.NoError(t, err)
	_, err = frame.Step()
	assert.ErrorIs(t, err, ErrInvalidJump)
	assert.True(t, frame.IsStopped())
	_, oerr := frame.Output()
	assert.ErrorIs(t, oerr, ErrInvalidJump)

	_, err = frame.Step()
	assert.ErrorIs(t, err, ErrHalted)
}

func TestRefFrameTruncatedPush(t *testing.T) {
	frame, _ := newTestFrame(t, []byte{byte(PUSH2), 0xAA}, 100_000)

	_, err := frame.Step()
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(0xAA00), frame.Stack().peek(), "missing immediate bytes pad on the right")

	// Past the end the frame reads STOP and halts cleanly.
	_, err = frame.Step()
	require.NoError(t, err)
	assert.True(t, frame.IsStopped())
}

func TestRefFrameReset(t *testing.T) {
	code := []byte{byte(PUSH1), 1, byte(PUSH1), 2, byte(ADD), byte(STOP)}
	frame, _ := newTestFrame(t, code, 100_000)

	_, err := frame.Step()
	require.NoError(t, err)
	_, err = frame.Step()
	require.NoError(t, err)
	require.NotZero(t, frame.GasUsed())

	frame.Reset(50_000)
	assert.Equal(t, uint64(0), frame.PC())
	assert.Equal(t, uint64(50_000), frame.GasRemaining())
	assert.Zero(t, frame.GasUsed())
	assert.Equal(t, 0, frame.Stack().len())
	assert.False(t, frame.IsStopped())

	obs, err := frame.Step()
	require.NoError(t, err)
	assert.Equal(t, PUSH1, obs.Op)
	assert.Equal(t, uint64(0), obs.PC)
}

func TestRefFrameGasAccountingMatchesRun(t *testing.T) {
	code := append([]byte{}, countdownLoop...)
	const gas = uint64(100_000)

	frame, contract := newTestFrame(t, code, gas)
	for !frame.IsStopped() {
		if _, err := frame.Step(); err != nil {
			break
		}
	}
	stepped := gas - contract.Gas

	evm, _ := newTestEVM(Config{})
	ref := GetContract(testCaller, testContract, new(uint256.Int), gas)
	defer ReturnContract(ref)
	ref.SetCallCode(common.Hash{}, code)
	_, err := evm.interpreter.RunRef(ref, nil, false)
	require.NoError(t, err)
	assert.Equal(t, gas-ref.Gas, stepped)
}
