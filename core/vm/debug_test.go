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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmts/guillotine-go/common"
	"github.com/evmts/guillotine-go/core/tracing"
)

var debugTestCode = []byte{
	byte(PUSH1), 1, byte(PUSH1), 2, byte(ADD),
	byte(PUSH1), 0, byte(MSTORE),
	byte(PUSH1), 32, byte(PUSH1), 0, byte(RETURN),
}

func newDebugSession(user *tracing.Hooks) (*DebugSession, CallParams) {
	evm, sdb := newTestEVM(Config{})
	sdb.CreateAccount(testContract)
	sdb.SetCode(testContract, debugTestCode)
	session := NewDebugSession(evm, user)
	params := CallParams{
		Kind:      CallKindCall,
		Caller:    testCaller,
		Recipient: testContract,
		Gas:       200_000,
	}
	return session, params
}

func TestDebugSessionPauseAndResume(t *testing.T) {
	var steps int
	user := &tracing.Hooks{
		OnOpcode: func(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) tracing.Action {
			steps++
			if steps == 3 {
				return tracing.Pause
			}
			return tracing.Continue
		},
	}
	session, params := newDebugSession(user)

	_, point, err := session.Start(params)
	require.ErrorIs(t, err, ErrDebugPaused)
	require.NotNil(t, point)
	assert.Equal(t, uint64(4), point.PC, "paused on the third instruction")
	assert.Equal(t, ADD, point.Op)
	assert.Len(t, point.Stack, 2, "snapshot taken before the pending instruction runs")

	res, point, err := session.Resume()
	require.NoError(t, err)
	require.Nil(t, point)
	assert.True(t, res.Success)
	require.Len(t, res.Output, 32)
	assert.Equal(t, byte(3), res.Output[31])

	// The paused run must match an unobserved one bit for bit.
	plainRes, plainErr := func() (CallResult, error) {
		evm, sdb := newTestEVM(Config{})
		sdb.CreateAccount(testContract)
		sdb.SetCode(testContract, debugTestCode)
		return evm.Execute(params)
	}()
	require.NoError(t, plainErr)
	assert.Equal(t, plainRes.Output, res.Output)
	assert.Equal(t, plainRes.GasLeft, res.GasLeft)
}

func TestDebugSessionMultiplePauses(t *testing.T) {
	user := &tracing.Hooks{
		OnOpcode: func(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) tracing.Action {
			return tracing.Pause
		},
	}
	session, params := newDebugSession(user)

	var pcs []uint64
	_, point, err := session.Start(params)
	for err == ErrDebugPaused {
		pcs = append(pcs, point.PC)
		var res CallResult
		res, point, err = session.Resume()
		if err == nil {
			assert.True(t, res.Success)
		}
	}
	require.NoError(t, err)
	// Every instruction of the frame pauses exactly once.
	assert.Equal(t, []uint64{0, 2, 4, 5, 7, 8, 10, 12}, pcs)
}

func TestDebugSessionAbort(t *testing.T) {
	user := &tracing.Hooks{
		OnOpcode: func(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) tracing.Action {
			return tracing.Pause
		},
	}
	session, params := newDebugSession(user)

	_, point, err := session.Start(params)
	require.ErrorIs(t, err, ErrDebugPaused)
	require.NotNil(t, point)

	res, err := session.Abort()
	assert.ErrorIs(t, err, ErrDebugAborted)
	assert.False(t, res.Success)
}

func TestAbortReleasesPendingPause(t *testing.T) {
	// Unpark the execution goroutine without draining the next pause: it
	// ends up blocked handing over a pause point nobody is waiting for, and
	// Abort must still release it.
	parked := make(chan struct{}, 1)
	var steps int
	user := &tracing.Hooks{
		OnOpcode: func(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) tracing.Action {
			steps++
			if steps == 2 {
				parked <- struct{}{}
			}
			return tracing.Pause
		},
	}
	session, params := newDebugSession(user)

	_, point, err := session.Start(params)
	require.ErrorIs(t, err, ErrDebugPaused)
	require.NotNil(t, point)

	session.resumeCh <- struct{}{}
	<-parked

	res, err := session.Abort()
	assert.ErrorIs(t, err, ErrDebugAborted)
	assert.False(t, res.Success)
}

func TestDebugSessionAbortVerdict(t *testing.T) {
	user := &tracing.Hooks{
		OnOpcode: func(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) tracing.Action {
			return tracing.Abort
		},
	}
	session, params := newDebugSession(user)

	res, point, err := session.Start(params)
	require.Nil(t, point)
	assert.ErrorIs(t, err, ErrDebugAborted)
	assert.False(t, res.Success)
}

func TestDebugSessionStartTwice(t *testing.T) {
	session, params := newDebugSession(nil)
	_, _, err := session.Start(params)
	require.NoError(t, err)
	_, _, err = session.Start(params)
	assert.Error(t, err)
}

func TestPanickingHookAborts(t *testing.T) {
	user := &tracing.Hooks{
		OnOpcode: func(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) tracing.Action {
			panic("hook bug")
		},
	}
	session, params := newDebugSession(user)

	res, point, err := session.Start(params)
	require.Nil(t, point)
	assert.ErrorIs(t, err, ErrDebugAborted, "a panicking hook aborts instead of crashing")
	assert.False(t, res.Success)
}

func TestPauseOutsideSessionAborts(t *testing.T) {
	// A bare tracer returning Pause has no session to park in.
	cfg := Config{Tracer: &tracing.Hooks{
		OnOpcode: func(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) tracing.Action {
			return tracing.Pause
		},
	}}
	evm, sdb := newTestEVM(cfg)
	sdb.CreateAccount(testContract)
	sdb.SetCode(testContract, debugTestCode)

	_, err := evm.Execute(CallParams{
		Kind:      CallKindCall,
		Caller:    testCaller,
		Recipient: testContract,
		Gas:       100_000,
	})
	assert.ErrorIs(t, err, ErrDebugAborted)
}

func TestDebugSignalUnwindsNestedCalls(t *testing.T) {
	// Caller invokes the callee; the hook aborts inside the callee, and the
	// signal must surface unchanged instead of being swallowed as a failed
	// sub-call.
	calleeAddr := testContract
	callerAddr := testCaller

	var depthSeen int
	user := &tracing.Hooks{
		OnOpcode: func(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) tracing.Action {
			if depth > depthSeen {
				depthSeen = depth
			}
			if depth >= 2 {
				return tracing.Abort
			}
			return tracing.Continue
		},
	}

	evm, sdb := newTestEVM(Config{})
	callerCode := []byte{
		byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0,
		byte(PUSH20),
	}
	callerCode = append(callerCode, calleeAddr.Bytes()...)
	callerCode = append(callerCode, byte(GAS), byte(CALL), byte(STOP))
	callerContract := common.BytesToAddress([]byte("outer"))
	sdb.CreateAccount(callerContract)
	sdb.SetCode(callerContract, callerCode)
	sdb.CreateAccount(calleeAddr)
	sdb.SetCode(calleeAddr, debugTestCode)

	session := NewDebugSession(evm, user)
	res, point, err := session.Start(CallParams{
		Kind:      CallKindCall,
		Caller:    callerAddr,
		Recipient: callerContract,
		Gas:       500_000,
	})
	require.Nil(t, point)
	assert.ErrorIs(t, err, ErrDebugAborted)
	assert.False(t, res.Success)
	assert.Equal(t, 2, depthSeen)
}
