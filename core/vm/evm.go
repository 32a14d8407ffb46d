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

package vm

import (
	"errors"
	"sync/atomic"

	"github.com/holiman/uint256"

	"github.com/evmts/guillotine-go/common"
	"github.com/evmts/guillotine-go/crypto"
	"github.com/evmts/guillotine-go/params"
)

// emptyCodeHash is the known hash of code-less accounts, used by the create
// collision check.
var emptyCodeHash = crypto.Keccak256Hash(nil)

type (
	// CanTransferFunc is the signature of a transfer guard function
	CanTransferFunc func(StateDB, common.Address, *uint256.Int) bool
	// TransferFunc is the signature of a transfer function
	TransferFunc func(StateDB, common.Address, common.Address, *uint256.Int)
	// GetHashFunc returns the n'th block hash in the blockchain
	// and is used by the BLOCKHASH EVM op code.
	GetHashFunc func(uint64) common.Hash
)

// BlockContext provides the EVM with auxiliary information. Once provided
// it shouldn't be modified.
type BlockContext struct {
	// CanTransfer returns whether the account contains
	// sufficient ether to transfer the value
	CanTransfer CanTransferFunc
	// Transfer transfers ether from one account to the other
	Transfer TransferFunc
	// GetHash returns the hash corresponding to n
	GetHash GetHashFunc

	// Block information
	Coinbase    common.Address // Provides information for COINBASE
	GasLimit    uint64         // Provides information for GASLIMIT
	BlockNumber uint64         // Provides information for NUMBER
	Time        uint64         // Provides information for TIMESTAMP
	Difficulty  *uint256.Int   // Provides information for DIFFICULTY
	BaseFee     *uint256.Int   // Provides information for BASEFEE
	ChainID     *uint256.Int   // Provides information for CHAINID
}

// TxContext provides the EVM with information about a transaction.
// All fields can change between transactions.
type TxContext struct {
	Origin   common.Address // Provides information for ORIGIN
	GasPrice *uint256.Int   // Provides information for GASPRICE
}

// EVM is the execution environment for one call tree. It provides the
// message-level operations on top of the interpreters and should never be
// reused across threads.
//
// The EVM should never be reused and is not thread safe.
type EVM struct {
	// Context provides auxiliary blockchain related information
	Context BlockContext
	// TxContext provides information about the current transaction
	TxContext
	// StateDB gives access to the underlying state
	StateDB StateDB
	// depth is the current call stack
	depth int

	// Config contains the interpreter configuration options
	Config Config

	// interpreter executes every frame of the call tree
	interpreter *EVMInterpreter

	// abort is used to abort the EVM calling operations. The dispatch
	// loop checks it at block boundaries, the oracle loop at jumps.
	abort atomic.Bool

	// callGasTemp holds the gas available for the current call. This is needed because the
	// available gas is calculated in gasCall* according to the 63/64 rule and later
	// applied in opCall*.
	callGasTemp uint64

	// gasTable prices the host-dependent opcodes.
	gasTable params.GasTable
}

// NewEVM constructs an EVM instance with the supplied block context and state
// database.
func NewEVM(blockCtx BlockContext, txCtx TxContext, statedb StateDB, config Config) *EVM {
	if blockCtx.Difficulty == nil {
		blockCtx.Difficulty = new(uint256.Int)
	}
	if blockCtx.BaseFee == nil {
		blockCtx.BaseFee = new(uint256.Int)
	}
	if blockCtx.ChainID == nil {
		blockCtx.ChainID = new(uint256.Int)
	}
	if txCtx.GasPrice == nil {
		txCtx.GasPrice = new(uint256.Int)
	}
	evm := &EVM{
		Context:   blockCtx,
		TxContext: txCtx,
		StateDB:   statedb,
		Config:    config,
		gasTable:  params.DefaultGasTable(),
	}
	if config.GasTable != nil {
		evm.gasTable = *config.GasTable
	}
	evm.interpreter = NewEVMInterpreter(evm)
	return evm
}

// Cancel cancels any running EVM operation. This may be called concurrently
// and it's safe to be called multiple times.
func (evm *EVM) Cancel() {
	evm.abort.Store(true)
}

// Cancelled returns true if Cancel has been called
func (evm *EVM) Cancelled() bool {
	return evm.abort.Load()
}

// Interpreter returns the current interpreter
func (evm *EVM) Interpreter() *EVMInterpreter {
	return evm.interpreter
}

// Depth returns the current call depth.
func (evm *EVM) Depth() int {
	return evm.depth
}

func (evm *EVM) run(contract *Contract, input []byte, readOnly bool) ([]byte, error) {
	return evm.interpreter.Run(contract, input, readOnly)
}

// captureBegin fires the enter hook for a new frame, converting an Abort
// verdict (or hook failure) into an error for the caller.
func (evm *EVM) captureBegin(typ OpCode, from, to common.Address, input []byte, gas uint64, value *uint256.Int) error {
	if evm.Config.Tracer == nil {
		return nil
	}
	return evm.observeEnter(typ, from, to, input, gas, value)
}

// captureEnd fires the exit hook for a finished frame.
func (evm *EVM) captureEnd(startGas, leftOverGas uint64, ret []byte, err error) {
	if evm.Config.Tracer == nil {
		return
	}
	evm.observeExit(ret, startGas-leftOverGas, err, errors.Is(err, ErrExecutionReverted))
}

// Call executes the contract associated with addr with the given input as
// parameters. It also handles any necessary value transfer required and takes
// the necessary steps to create accounts and reverses the state in case of an
// execution error or failed value transfer.
func (evm *EVM) Call(caller common.Address, addr common.Address, input []byte, gas uint64, value *uint256.Int) (ret []byte, leftOverGas uint64, err error) {
	// Fail if we're trying to execute above the call depth limit
	if evm.depth > int(params.CallCreateDepth) {
		return nil, gas, ErrDepth
	}
	// Fail if we're trying to transfer more than the available balance
	if !value.IsZero() && !evm.Context.CanTransfer(evm.StateDB, caller, value) {
		return nil, gas, ErrInsufficientBalance
	}
	if err := evm.captureBegin(CALL, caller, addr, input, gas, value); err != nil {
		return nil, gas, err
	}
	if evm.Config.Tracer != nil {
		defer func(startGas uint64) {
			evm.captureEnd(startGas, leftOverGas, ret, err)
		}(gas)
	}

	snapshot := evm.StateDB.Snapshot()
	if !evm.StateDB.Exist(addr) {
		evm.StateDB.CreateAccount(addr)
	}
	evm.Context.Transfer(evm.StateDB, caller, addr, value)

	if code := evm.StateDB.GetCode(addr); len(code) == 0 {
		ret, err = nil, nil // gas is unchanged
	} else {
		contract := GetContract(caller, addr, value, gas)
		defer ReturnContract(contract)
		contract.SetCallCode(evm.StateDB.GetCodeHash(addr), code)
		ret, err = evm.run(contract, input, false)
		gas = contract.Gas
	}
	if err != nil {
		evm.StateDB.RevertToSnapshot(snapshot)
		if err != ErrExecutionReverted && !isDebugSignal(err) {
			gas = 0
		}
	}
	return ret, gas, err
}

// CallCode executes the contract associated with addr with the given input as
// parameters. It differs from Call in that it executes the given address'
// code with the caller as context.
func (evm *EVM) CallCode(caller common.Address, addr common.Address, input []byte, gas uint64, value *uint256.Int) (ret []byte, leftOverGas uint64, err error) {
	if evm.depth > int(params.CallCreateDepth) {
		return nil, gas, ErrDepth
	}
	// Note although it's noop to transfer X ether to caller itself. But
	// if caller doesn't have enough balance, it would be an error to allow
	// over-charging itself. So the check here is necessary.
	if !evm.Context.CanTransfer(evm.StateDB, caller, value) {
		return nil, gas, ErrInsufficientBalance
	}
	if err := evm.captureBegin(CALLCODE, caller, addr, input, gas, value); err != nil {
		return nil, gas, err
	}
	if evm.Config.Tracer != nil {
		defer func(startGas uint64) {
			evm.captureEnd(startGas, leftOverGas, ret, err)
		}(gas)
	}

	snapshot := evm.StateDB.Snapshot()
	contract := GetContract(caller, caller, value, gas)
	defer ReturnContract(contract)
	contract.SetCallCode(evm.StateDB.GetCodeHash(addr), evm.StateDB.GetCode(addr))
	ret, err = evm.run(contract, input, false)
	gas = contract.Gas
	if err != nil {
		evm.StateDB.RevertToSnapshot(snapshot)
		if err != ErrExecutionReverted && !isDebugSignal(err) {
			gas = 0
		}
	}
	return ret, gas, err
}

// DelegateCall executes the contract associated with addr with the given
// input as parameters. It reuses the calling context entirely: originCaller
// stays the caller, caller stays the executing address, and the call value is
// inherited.
func (evm *EVM) DelegateCall(originCaller common.Address, caller common.Address, addr common.Address, input []byte, gas uint64, value *uint256.Int) (ret []byte, leftOverGas uint64, err error) {
	if evm.depth > int(params.CallCreateDepth) {
		return nil, gas, ErrDepth
	}
	if err := evm.captureBegin(DELEGATECALL, caller, addr, input, gas, nil); err != nil {
		return nil, gas, err
	}
	if evm.Config.Tracer != nil {
		defer func(startGas uint64) {
			evm.captureEnd(startGas, leftOverGas, ret, err)
		}(gas)
	}

	snapshot := evm.StateDB.Snapshot()
	contract := GetContract(originCaller, caller, value, gas)
	defer ReturnContract(contract)
	contract.SetCallCode(evm.StateDB.GetCodeHash(addr), evm.StateDB.GetCode(addr))
	ret, err = evm.run(contract, input, false)
	gas = contract.Gas
	if err != nil {
		evm.StateDB.RevertToSnapshot(snapshot)
		if err != ErrExecutionReverted && !isDebugSignal(err) {
			gas = 0
		}
	}
	return ret, gas, err
}

// StaticCall executes the contract associated with addr with the given input
// as parameters while disallowing any modifications to the state during the
// call.
func (evm *EVM) StaticCall(caller common.Address, addr common.Address, input []byte, gas uint64) (ret []byte, leftOverGas uint64, err error) {
	if evm.depth > int(params.CallCreateDepth) {
		return nil, gas, ErrDepth
	}
	if err := evm.captureBegin(STATICCALL, caller, addr, input, gas, nil); err != nil {
		return nil, gas, err
	}
	if evm.Config.Tracer != nil {
		defer func(startGas uint64) {
			evm.captureEnd(startGas, leftOverGas, ret, err)
		}(gas)
	}

	// We take a snapshot here. This is a bit counter-intuitive, and could
	// probably be skipped. However, even a staticcall is considered a
	// 'touch'.
	snapshot := evm.StateDB.Snapshot()

	contract := GetContract(caller, addr, new(uint256.Int), gas)
	defer ReturnContract(contract)
	contract.SetCallCode(evm.StateDB.GetCodeHash(addr), evm.StateDB.GetCode(addr))
	ret, err = evm.run(contract, input, true)
	gas = contract.Gas
	if err != nil {
		evm.StateDB.RevertToSnapshot(snapshot)
		if err != ErrExecutionReverted && !isDebugSignal(err) {
			gas = 0
		}
	}
	return ret, gas, err
}

// Create creates a new contract using code as deployment code.
func (evm *EVM) Create(caller common.Address, code []byte, gas uint64, value *uint256.Int) (ret []byte, contractAddr common.Address, leftOverGas uint64, err error) {
	contractAddr = crypto.CreateAddress(caller, evm.StateDB.GetNonce(caller))
	return evm.create(caller, code, gas, value, contractAddr, CREATE)
}

// Create2 creates a new contract using code as deployment code.
//
// The different between Create2 with Create is Create2 uses
// keccak256(0xff ++ msg.sender ++ salt ++ keccak256(init_code))[12:]
// instead of the usual sender-and-nonce-hash as the address where the contract is initialized at.
func (evm *EVM) Create2(caller common.Address, code []byte, gas uint64, endowment *uint256.Int, salt *uint256.Int) (ret []byte, contractAddr common.Address, leftOverGas uint64, err error) {
	inithash := crypto.Keccak256(code)
	contractAddr = crypto.CreateAddress2(caller, salt.Bytes32(), inithash)
	return evm.create(caller, code, gas, endowment, contractAddr, CREATE2)
}

// create creates a new contract using code as deployment code.
func (evm *EVM) create(caller common.Address, code []byte, gas uint64, value *uint256.Int, address common.Address, typ OpCode) (ret []byte, createdAddr common.Address, leftOverGas uint64, err error) {
	// Depth check execution. Fail if we're trying to execute above the limit.
	if evm.depth > int(params.CallCreateDepth) {
		return nil, common.Address{}, gas, ErrDepth
	}
	if !evm.Context.CanTransfer(evm.StateDB, caller, value) {
		return nil, common.Address{}, gas, ErrInsufficientBalance
	}
	if len(code) > params.MaxInitCodeSize {
		return nil, common.Address{}, gas, ErrMaxCodeSizeExceeded
	}
	if err := evm.captureBegin(typ, caller, address, code, gas, value); err != nil {
		return nil, common.Address{}, gas, err
	}
	if evm.Config.Tracer != nil {
		defer func(startGas uint64) {
			evm.captureEnd(startGas, leftOverGas, ret, err)
		}(gas)
	}

	nonce := evm.StateDB.GetNonce(caller)
	if nonce+1 < nonce {
		return nil, common.Address{}, gas, ErrNonceUintOverflow
	}
	evm.StateDB.SetNonce(caller, nonce+1)

	// Ensure there's no existing contract already at the designated address.
	contractHash := evm.StateDB.GetCodeHash(address)
	if evm.StateDB.GetNonce(address) != 0 || (contractHash != (common.Hash{}) && contractHash != emptyCodeHash) {
		return nil, common.Address{}, 0, ErrContractAddressCollision
	}
	// Create a new account on the state.
	snapshot := evm.StateDB.Snapshot()
	evm.StateDB.CreateAccount(address)
	evm.StateDB.SetNonce(address, 1)
	evm.Context.Transfer(evm.StateDB, caller, address, value)

	// Initialise a new contract and set the code that is to be used by the EVM.
	// Initcode carries no code hash, so it is analyzed per call, uncached.
	contract := GetContract(caller, address, value, gas)
	defer ReturnContract(contract)
	contract.SetCallCode(common.Hash{}, code)
	contract.IsDeployment = true

	ret, err = evm.run(contract, nil, false)

	// Check whether the max code size has been exceeded, assign err if the case.
	if err == nil && len(ret) > params.MaxCodeSize {
		err = ErrMaxCodeSizeExceeded
	}
	// if the contract creation ran successfully and no errors were returned
	// calculate the gas required to store the code. If the code could not
	// be stored due to not enough gas set an error.
	if err == nil {
		createDataGas := uint64(len(ret)) * params.CreateDataGas
		if contract.UseGas(createDataGas) {
			evm.StateDB.SetCode(address, ret)
		} else {
			err = ErrCodeStoreOutOfGas
		}
	}
	// When an error was returned by the EVM or when setting the creation code
	// above we revert to the snapshot and consume any gas remaining.
	if err != nil {
		evm.StateDB.RevertToSnapshot(snapshot)
		if err != ErrExecutionReverted && !isDebugSignal(err) {
			contract.UseGas(contract.Gas)
		}
	}
	return ret, address, contract.Gas, err
}
