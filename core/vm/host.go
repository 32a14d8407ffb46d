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
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/evmts/guillotine-go/common"
	"github.com/evmts/guillotine-go/core/types"
)

// StateDB is the pure-state capability the engine executes against. It is
// injected, not owned: the engine never persists or commits anything itself.
type StateDB interface {
	CreateAccount(common.Address)

	SubBalance(common.Address, *uint256.Int)
	AddBalance(common.Address, *uint256.Int)
	GetBalance(common.Address) *uint256.Int

	GetNonce(common.Address) uint64
	SetNonce(common.Address, uint64)

	GetCodeHash(common.Address) common.Hash
	GetCode(common.Address) []byte
	SetCode(common.Address, []byte)
	GetCodeSize(common.Address) int

	AddRefund(uint64)
	SubRefund(uint64)
	GetRefund() uint64

	GetState(common.Address, common.Hash) common.Hash
	SetState(common.Address, common.Hash, common.Hash)

	SelfDestruct(common.Address)
	HasSelfDestructed(common.Address) bool

	// Exist reports whether the given account exists in state.
	// Notably this should also return true for self-destructed accounts.
	Exist(common.Address) bool
	// Empty reports whether the given account is empty. Empty
	// is defined according to EIP161 (balance = nonce = code = 0).
	Empty(common.Address) bool

	AddLog(*types.Log)
	Logs() []*types.Log

	Snapshot() int
	RevertToSnapshot(int)
}

// CallKind tags the message flavor carried by CallParams.
type CallKind uint8

const (
	CallKindCall CallKind = iota
	CallKindCallCode
	CallKindDelegateCall
	CallKindStaticCall
	CallKindCreate
	CallKindCreate2
)

// String implements fmt.Stringer.
func (k CallKind) String() string {
	switch k {
	case CallKindCall:
		return "call"
	case CallKindCallCode:
		return "callcode"
	case CallKindDelegateCall:
		return "delegatecall"
	case CallKindStaticCall:
		return "staticcall"
	case CallKindCreate:
		return "create"
	case CallKindCreate2:
		return "create2"
	}
	return "unknown"
}

// opcode returns the raw opcode that would open this frame, as reported to
// the enter hook.
func (k CallKind) opcode() OpCode {
	switch k {
	case CallKindCallCode:
		return CALLCODE
	case CallKindDelegateCall:
		return DELEGATECALL
	case CallKindStaticCall:
		return STATICCALL
	case CallKindCreate:
		return CREATE
	case CallKindCreate2:
		return CREATE2
	}
	return CALL
}

// CallParams is the tagged-union message facade over the EVM's call variants.
type CallParams struct {
	Kind   CallKind
	Caller common.Address
	// Recipient is the called address. Unused for creates, where the
	// engine derives the address itself.
	Recipient common.Address
	Value     *uint256.Int
	// Input is the calldata, or the initcode for creates.
	Input []byte
	Gas   uint64
	// Salt is consumed by CallKindCreate2 only.
	Salt *uint256.Int
}

// CallResult is the uniform outcome of EVM.Execute. Execution failures land
// in Err with Success false; the returned error of Execute is reserved for
// engine-level signals such as a debug abort.
type CallResult struct {
	Output         []byte
	GasLeft        uint64
	Success        bool
	CreatedAddress common.Address
	Err            error
}

// Execute dispatches params to the call variant its kind names.
func (evm *EVM) Execute(params CallParams) (CallResult, error) {
	value := params.Value
	if value == nil {
		value = new(uint256.Int)
	}
	var (
		ret     []byte
		gasLeft uint64
		created common.Address
		err     error
	)
	switch params.Kind {
	case CallKindCall:
		ret, gasLeft, err = evm.Call(params.Caller, params.Recipient, params.Input, params.Gas, value)
	case CallKindCallCode:
		ret, gasLeft, err = evm.CallCode(params.Caller, params.Recipient, params.Input, params.Gas, value)
	case CallKindDelegateCall:
		// The facade has no parent frame, so the caller doubles as the
		// delegating context: recipient's code runs at the caller's
		// address.
		ret, gasLeft, err = evm.DelegateCall(params.Caller, params.Caller, params.Recipient, params.Input, params.Gas, value)
	case CallKindStaticCall:
		ret, gasLeft, err = evm.StaticCall(params.Caller, params.Recipient, params.Input, params.Gas)
	case CallKindCreate:
		ret, created, gasLeft, err = evm.Create(params.Caller, params.Input, params.Gas, value)
	case CallKindCreate2:
		if params.Salt == nil {
			return CallResult{}, errors.New("create2 requires a salt")
		}
		ret, created, gasLeft, err = evm.Create2(params.Caller, params.Input, params.Gas, value, params.Salt)
	default:
		return CallResult{}, errors.Errorf("unknown call kind %d", params.Kind)
	}
	res := CallResult{
		Output:         ret,
		GasLeft:        gasLeft,
		Success:        err == nil,
		CreatedAddress: created,
		Err:            err,
	}
	if isDebugSignal(err) {
		return res, err
	}
	return res, nil
}
