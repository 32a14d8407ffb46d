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
	"github.com/evmts/guillotine-go/core/tracing"
)

var (
	testCaller   = common.BytesToAddress([]byte("caller"))
	testContract = common.BytesToAddress([]byte("contract"))
)

func testBlockContext() BlockContext {
	return BlockContext{
		CanTransfer: func(db StateDB, addr common.Address, amount *uint256.Int) bool {
			return db.GetBalance(addr).Cmp(amount) >= 0
		},
		Transfer: func(db StateDB, sender, recipient common.Address, amount *uint256.Int) {
			db.SubBalance(sender, amount)
			db.AddBalance(recipient, amount)
		},
		GetHash:     func(uint64) common.Hash { return common.Hash{} },
		GasLimit:    10_000_000,
		BlockNumber: 1,
		Time:        1,
	}
}

func newTestEVM(cfg Config) (*EVM, *state.StateDB) {
	sdb := state.New()
	evm := NewEVM(testBlockContext(), TxContext{Origin: testCaller}, sdb, cfg)
	sdb.CreateAccount(testCaller)
	sdb.SetBalance(testCaller, uint256.NewInt(1e18))
	return evm, sdb
}

// callCode seeds code under the test contract address and calls it.
func callCode(cfg Config, code, input []byte, gas uint64) ([]byte, uint64, error) {
	evm, sdb := newTestEVM(cfg)
	sdb.CreateAccount(testContract)
	sdb.SetCode(testContract, code)
	return evm.Call(testCaller, testContract, input, gas, new(uint256.Int))
}

// countdownLoop decrements 5 to zero through a JUMPI back-edge, then halts.
var countdownLoop = []byte{
	byte(PUSH1), 5,
	byte(JUMPDEST), // pc 2
	byte(PUSH1), 1,
	byte(SWAP1), byte(SUB),
	byte(DUP1),
	byte(PUSH1), 2, byte(JUMPI),
	byte(STOP),
}

// returnGas stores the GAS observation and returns it as one word.
var returnGas = []byte{
	byte(GAS),
	byte(PUSH1), 0, byte(MSTORE),
	byte(PUSH1), 32, byte(PUSH1), 0, byte(RETURN),
}

func TestDispatchMatchesReference(t *testing.T) {
	tests := []struct {
		name  string
		code  []byte
		input []byte
	}{
		{
			name: "add and return",
			code: []byte{
				byte(PUSH1), 1, byte(PUSH1), 2, byte(ADD),
				byte(PUSH1), 0, byte(MSTORE),
				byte(PUSH1), 32, byte(PUSH1), 0, byte(RETURN),
			},
		},
		{
			name: "gas opcode sees the oracle value",
			code: returnGas,
		},
		{
			name: "countdown loop",
			code: countdownLoop,
		},
		{
			name: "dynamic jump",
			code: []byte{
				byte(PUSH1), 7, byte(PUSH1), 0, byte(POP), byte(JUMP),
				byte(INVALID), byte(JUMPDEST), byte(STOP),
			},
		},
		{
			name: "revert with data",
			code: []byte{
				byte(PUSH1), 0xee, byte(PUSH1), 0, byte(MSTORE),
				byte(PUSH1), 32, byte(PUSH1), 0, byte(REVERT),
			},
		},
		{
			name: "invalid static jump",
			code: []byte{byte(PUSH1), 3, byte(JUMP), byte(STOP)},
		},
		{
			name: "stack underflow at block entry",
			code: []byte{byte(ADD), byte(STOP)},
		},
		{
			name: "undefined opcode",
			code: []byte{byte(PUSH1), 1, 0x0c, byte(STOP)},
		},
		{
			name: "keccak of calldata",
			code: []byte{
				byte(PUSH1), 32, byte(PUSH1), 0, byte(CALLDATACOPY),
				byte(PUSH1), 32, byte(PUSH1), 0, byte(KECCAK256),
				byte(PUSH1), 0, byte(MSTORE),
				byte(PUSH1), 32, byte(PUSH1), 0, byte(RETURN),
			},
			input: common.FromHex("0xdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"),
		},
		{
			name: "storage roundtrip",
			code: []byte{
				byte(PUSH1), 42, byte(PUSH1), 1, byte(SSTORE),
				byte(PUSH1), 1, byte(SLOAD),
				byte(PUSH1), 0, byte(MSTORE),
				byte(PUSH1), 32, byte(PUSH1), 0, byte(RETURN),
			},
		},
		{
			name: "fall off the end",
			code: []byte{byte(PUSH1), 1, byte(PUSH1), 2, byte(ADD)},
		},
	}
	const gas = uint64(200_000)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ret, gasLeft, err := callCode(Config{}, tt.code, tt.input, gas)
			refRet, refGasLeft, refErr := callCode(Config{UseReferenceInterpreter: true}, tt.code, tt.input, gas)

			assert.Equal(t, refRet, ret, "output")
			assert.Equal(t, refGasLeft, gasLeft, "gas left")
			if refErr == nil {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestDispatchErrorKindsMatchReference(t *testing.T) {
	underflow := []byte{byte(ADD), byte(STOP)}
	_, _, err := callCode(Config{}, underflow, nil, 100_000)
	assert.True(t, IsStackErr(err), "got %v", err)

	undefined := []byte{0x0c, byte(STOP)}
	_, _, err = callCode(Config{}, undefined, nil, 100_000)
	var invalid *ErrInvalidOpCode
	assert.ErrorAs(t, err, &invalid)

	badJump := []byte{byte(PUSH1), 3, byte(JUMP), byte(STOP)}
	_, _, err = callCode(Config{}, badJump, nil, 100_000)
	assert.ErrorIs(t, err, ErrInvalidJump)

	revert := []byte{byte(PUSH1), 0, byte(PUSH1), 0, byte(REVERT)}
	_, gasLeft, err := callCode(Config{}, revert, nil, 100_000)
	assert.ErrorIs(t, err, ErrExecutionReverted)
	assert.NotZero(t, gasLeft, "revert keeps the remaining gas")
}

// TestEarlyBlockExitRefundsSuffix fails mid-block on the dynamic portion of
// MSTORE and checks that both tiers leave the same gas behind: the dispatch
// loop precharged the trailing PUSH1/POP/STOP and must give that back.
func TestEarlyBlockExitRefundsSuffix(t *testing.T) {
	code := []byte{byte(PUSH1), 1}
	code = append(code, byte(PUSH32))
	for i := 0; i < 32; i++ {
		code = append(code, 0xff)
	}
	code = append(code, byte(MSTORE), byte(PUSH1), 5, byte(POP), byte(STOP))

	const gas = uint64(100_000)
	run := func(useRef bool) (uint64, error) {
		evm, _ := newTestEVM(Config{})
		contract := GetContract(testCaller, testContract, new(uint256.Int), gas)
		defer ReturnContract(contract)
		contract.SetCallCode(common.Hash{}, code)
		var err error
		if useRef {
			_, err = evm.interpreter.RunRef(contract, nil, false)
		} else {
			_, err = evm.interpreter.Run(contract, nil, false)
		}
		return contract.Gas, err
	}

	gasLeft, err := run(false)
	refGasLeft, refErr := run(true)
	assert.ErrorIs(t, err, ErrGasUintOverflow)
	assert.ErrorIs(t, refErr, ErrGasUintOverflow)
	assert.Equal(t, refGasLeft, gasLeft)
}

// TestStackFailureRefundsBlockCharge enters a block whose bulk stack check
// fails and verifies the bulk gas charge was rolled back, matching the oracle
// which validates before charging.
func TestStackFailureRefundsBlockCharge(t *testing.T) {
	code := []byte{byte(ADD), byte(STOP)}
	const gas = uint64(50_000)

	evm, _ := newTestEVM(Config{})
	contract := GetContract(testCaller, testContract, new(uint256.Int), gas)
	defer ReturnContract(contract)
	contract.SetCallCode(common.Hash{}, code)
	_, err := evm.interpreter.Run(contract, nil, false)
	assert.True(t, IsStackErr(err))
	assert.Equal(t, gas, contract.Gas, "nothing ran, nothing charged")
}

func TestTracerForcesReferencePath(t *testing.T) {
	code := []byte{byte(PUSH1), 1, byte(PUSH1), 2, byte(ADD), byte(STOP)}
	var (
		pcs       []uint64
		stackLens []int
	)
	cfg := Config{Tracer: &tracing.Hooks{
		OnOpcode: func(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) tracing.Action {
			pcs = append(pcs, pc)
			stackLens = append(stackLens, len(scope.StackData()))
			return tracing.Continue
		},
	}}
	_, _, err := callCode(cfg, code, nil, 100_000)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0, 2, 4, 5}, pcs)
	assert.Equal(t, []int{0, 1, 2, 1}, stackLens)
}

func TestStaticCallBlocksWrites(t *testing.T) {
	// Callee stores to slot 0; caller reaches it via STATICCALL.
	callee := []byte{byte(PUSH1), 1, byte(PUSH1), 0, byte(SSTORE), byte(STOP)}
	calleeAddr := common.BytesToAddress([]byte("callee"))

	caller := []byte{
		byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0,
		byte(PUSH20),
	}
	caller = append(caller, calleeAddr.Bytes()...)
	caller = append(caller, byte(GAS), byte(STATICCALL),
		// Propagate the sub-call's status as the return value.
		byte(PUSH1), 0, byte(MSTORE),
		byte(PUSH1), 32, byte(PUSH1), 0, byte(RETURN),
	)

	for _, useRef := range []bool{false, true} {
		evm, sdb := newTestEVM(Config{UseReferenceInterpreter: useRef})
		sdb.CreateAccount(testContract)
		sdb.SetCode(testContract, caller)
		sdb.CreateAccount(calleeAddr)
		sdb.SetCode(calleeAddr, callee)

		ret, _, err := evm.Call(testCaller, testContract, nil, 200_000, new(uint256.Int))
		require.NoError(t, err)
		require.Len(t, ret, 32)
		assert.Equal(t, byte(0), ret[31], "write inside STATICCALL must fail")
		assert.Equal(t, common.Hash{}, sdb.GetState(calleeAddr, common.Hash{}))
	}
}

func TestNestedCallValueTransfer(t *testing.T) {
	// Callee returns CALLVALUE; caller forwards 7 wei.
	callee := []byte{
		byte(CALLVALUE), byte(PUSH1), 0, byte(MSTORE),
		byte(PUSH1), 32, byte(PUSH1), 0, byte(RETURN),
	}
	calleeAddr := common.BytesToAddress([]byte("callee"))

	caller := []byte{
		byte(PUSH1), 32, byte(PUSH1), 0, // ret
		byte(PUSH1), 0, byte(PUSH1), 0, // args
		byte(PUSH1), 7, // value
		byte(PUSH20),
	}
	caller = append(caller, calleeAddr.Bytes()...)
	caller = append(caller, byte(GAS), byte(CALL),
		byte(POP),
		byte(PUSH1), 32, byte(PUSH1), 0, byte(RETURN),
	)

	evm, sdb := newTestEVM(Config{})
	sdb.CreateAccount(testContract)
	sdb.SetCode(testContract, caller)
	sdb.SetBalance(testContract, uint256.NewInt(100))
	sdb.CreateAccount(calleeAddr)
	sdb.SetCode(calleeAddr, callee)

	ret, _, err := evm.Call(testCaller, testContract, nil, 500_000, new(uint256.Int))
	require.NoError(t, err)
	require.Len(t, ret, 32)
	assert.Equal(t, byte(7), ret[31])
	assert.Equal(t, uint64(7), sdb.GetBalance(calleeAddr).Uint64())
	assert.Equal(t, uint64(93), sdb.GetBalance(testContract).Uint64())
}

// TestCallGasForwardingMatchesReference asks for more gas than the caller
// has, so the 63/64 cap decides what the child receives. The child returns its
// GAS observation: if the caller's live gas counter still carried precharged
// block gas at the call site, the forwarded amount (and the child's output)
// would drift from the oracle.
func TestCallGasForwardingMatchesReference(t *testing.T) {
	calleeAddr := common.BytesToAddress([]byte("callee"))

	build := func(kind OpCode) []byte {
		code := []byte{
			byte(PUSH1), 32, byte(PUSH1), 0, // ret
			byte(PUSH1), 0, byte(PUSH1), 0, // args
		}
		if kind == CALL {
			code = append(code, byte(PUSH1), 0) // value
		}
		code = append(code, byte(PUSH20))
		code = append(code, calleeAddr.Bytes()...)
		code = append(code, byte(PUSH4), 0xff, 0xff, 0xff, 0xff, byte(kind),
			byte(POP),
			byte(PUSH1), 32, byte(PUSH1), 0, byte(RETURN),
		)
		return code
	}

	for _, kind := range []OpCode{CALL, STATICCALL} {
		t.Run(kind.String(), func(t *testing.T) {
			run := func(useRef bool) ([]byte, uint64, error) {
				evm, sdb := newTestEVM(Config{UseReferenceInterpreter: useRef})
				sdb.CreateAccount(calleeAddr)
				sdb.SetCode(calleeAddr, returnGas)
				sdb.CreateAccount(testContract)
				sdb.SetCode(testContract, build(kind))
				return evm.Call(testCaller, testContract, nil, 150_000, new(uint256.Int))
			}

			ret, gasLeft, err := run(false)
			refRet, refGasLeft, refErr := run(true)
			require.NoError(t, err)
			require.NoError(t, refErr)
			assert.Equal(t, refRet, ret, "child gas observation")
			assert.Equal(t, refGasLeft, gasLeft, "gas left")
		})
	}
}

func TestCreateDeploysRuntimeCode(t *testing.T) {
	// Initcode copying a 10-byte runtime that returns 42.
	initcode := common.FromHex("0x600a600c600039600a6000f3602a60005260206000f3")

	evm, sdb := newTestEVM(Config{})
	ret, addr, _, err := evm.Create(testCaller, initcode, 500_000, new(uint256.Int))
	require.NoError(t, err)
	assert.Equal(t, common.FromHex("0x602a60005260206000f3"), ret)
	assert.Equal(t, ret, sdb.GetCode(addr))
	assert.Equal(t, uint64(1), sdb.GetNonce(addr))

	out, _, err := evm.Call(testCaller, addr, nil, 100_000, new(uint256.Int))
	require.NoError(t, err)
	require.Len(t, out, 32)
	assert.Equal(t, byte(42), out[31])
}

func TestCancelHaltsLoop(t *testing.T) {
	// Infinite loop; cancelling from the outside must end the call without
	// an error, like an ordinary halt.
	code := []byte{byte(JUMPDEST), byte(PUSH1), 0, byte(JUMP)}
	evm, sdb := newTestEVM(Config{})
	sdb.CreateAccount(testContract)
	sdb.SetCode(testContract, code)
	evm.Cancel()
	require.True(t, evm.Cancelled())

	_, _, err := evm.Call(testCaller, testContract, nil, 100_000, new(uint256.Int))
	assert.NoError(t, err)
}

func TestAnalysisCacheReuse(t *testing.T) {
	code := []byte{byte(PUSH1), 1, byte(POP), byte(STOP)}
	evm, sdb := newTestEVM(Config{})
	sdb.CreateAccount(testContract)
	sdb.SetCode(testContract, code)

	hash := sdb.GetCodeHash(testContract)
	_, _, err := evm.Call(testCaller, testContract, nil, 100_000, new(uint256.Int))
	require.NoError(t, err)

	cached, ok := defaultAnalyzer.analyzed.Get(hash)
	require.True(t, ok, "analysis must be cached under the code hash")
	first := cached.(*CodeAnalysis)

	_, _, err = evm.Call(testCaller, testContract, nil, 100_000, new(uint256.Int))
	require.NoError(t, err)
	cached, ok = defaultAnalyzer.analyzed.Get(hash)
	require.True(t, ok)
	assert.Same(t, first, cached.(*CodeAnalysis), "second call reuses the artifact")
}
