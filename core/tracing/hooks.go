// Copyright 2023 The go-ethereum Authors
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

// Package tracing defines the hooks an execution observer can attach to the
// VM. Step and message hooks return a verdict that lets a debugger keep
// running, pause the execution in place, or abort it altogether.
package tracing

import (
	"github.com/evmts/guillotine-go/common"
	"github.com/holiman/uint256"
)

// Action is the verdict a hook returns to the interpreter.
type Action uint8

const (
	// Continue resumes normal execution.
	Continue Action = iota
	// Pause suspends the execution before the observed instruction runs.
	// The driver obtains a resumable session; resuming executes the
	// pending instruction without observing it again.
	Pause
	// Abort unwinds the whole execution with a debug-abort failure.
	Abort
)

// String implements fmt.Stringer.
func (a Action) String() string {
	switch a {
	case Continue:
		return "continue"
	case Pause:
		return "pause"
	case Abort:
		return "abort"
	}
	return "unknown"
}

// OpContext provides read access to the execution scope of a single frame.
// Implementations must not allow the hook to mutate the scope.
type OpContext interface {
	// MemoryData returns the memory of the current frame. Callers must not
	// modify the contents of the returned slice.
	MemoryData() []byte
	// StackData returns the stack of the current frame, bottom first.
	// Callers must not modify the contents of the returned slice.
	StackData() []uint256.Int
	// Caller returns the address that initiated the current frame.
	Caller() common.Address
	// Address returns the address where the current frame executes.
	Address() common.Address
	// CallValue returns the value passed with the current frame.
	CallValue() *uint256.Int
	// CallInput returns the input of the current frame.
	CallInput() []byte
}

type (
	// OpcodeHook is invoked before the execution of each opcode. The gas
	// argument is the gas remaining before the instruction is charged, cost
	// the amount about to be charged for it.
	OpcodeHook = func(pc uint64, op byte, gas, cost uint64, scope OpContext, rData []byte, depth int, err error) Action

	// EnterHook is invoked when the VM starts a new frame, either the
	// outermost call or a sub-call/create reached during execution. typ is
	// the raw opcode that created the frame (CALL, CREATE, ...).
	EnterHook = func(depth int, typ byte, from common.Address, to common.Address, input []byte, gas uint64, value *uint256.Int) Action

	// ExitHook is invoked when a frame ends. reverted distinguishes a
	// REVERT from other failures.
	ExitHook = func(depth int, output []byte, gasUsed uint64, err error, reverted bool)

	// FaultHook is invoked when an instruction fails after its observation
	// already fired. It cannot change the outcome.
	FaultHook = func(pc uint64, op byte, gas, cost uint64, scope OpContext, depth int, err error)
)

// Hooks is the set of callbacks an observer registers with the VM. Any field
// may be nil; absent hooks cost a single nil check.
type Hooks struct {
	OnEnter  EnterHook
	OnExit   ExitHook
	OnOpcode OpcodeHook
	OnFault  FaultHook
}
