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
	"github.com/evmts/guillotine-go/common/math"
)

// RunRef is the oracle loop: a plain program-counter walk over the raw
// bytecode that validates the stack and charges gas for every instruction
// individually. The dispatch loop must be observationally equivalent to it.
//
// Error semantics are those of Run: any error is revert-and-consume-all-gas
// except ErrExecutionReverted.
func (in *EVMInterpreter) RunRef(contract *Contract, input []byte, readOnly bool) (ret []byte, err error) {
	// Increment the call depth which is restricted to 1024
	in.evm.depth++
	defer func() { in.evm.depth-- }()

	if readOnly && !in.readOnly {
		in.readOnly = true
		defer func() { in.readOnly = false }()
	}

	// Reset the previous call's return data.
	in.returnData = nil

	if len(contract.Code) == 0 {
		return nil, nil
	}
	// Jump validation goes through the analyzed bitmap here too, so both
	// tiers agree on destination classification.
	if contract.analysis == nil {
		if contract.analysis, err = in.analyzer.analysisFor(contract); err != nil {
			return nil, err
		}
	}

	var (
		mem         = NewMemory()
		stack       = newstack()
		callContext = &ScopeContext{Memory: mem, Stack: stack, Contract: contract}
		pc          uint64
		res         []byte
		debug       = in.evm.Config.Tracer != nil
	)
	defer func() {
		returnStack(stack)
		mem.Free()
	}()
	contract.Input = input

	for {
		res, err = in.stepRef(&pc, callContext, debug)
		if err != nil {
			break
		}
	}

	if err == errStopToken {
		err = nil // clear stop token error
	}
	return res, err
}

// stepRef validates, charges and executes exactly one instruction at *pc,
// advancing it. It is the shared core of RunRef and RefFrame.Step. Halting
// surfaces as errStopToken with the output as ret.
func (in *EVMInterpreter) stepRef(pc *uint64, scope *ScopeContext, debug bool) (ret []byte, err error) {
	var (
		contract  = scope.Contract
		op        = contract.GetOp(*pc)
		operation = in.table[op]
		cost      = operation.constantGas
	)
	if debug {
		// The hook fires before any charging so a pause lands on a clean
		// instruction boundary. cost is the constant portion about to be
		// charged.
		if err = in.observeOpcode(*pc, op, contract.Gas, cost, scope); err != nil {
			return nil, err
		}
	}
	// Validate stack
	if sLen := scope.Stack.len(); sLen < operation.minStack {
		return nil, &ErrStackUnderflow{stackLen: sLen, required: operation.minStack}
	} else if sLen > operation.maxStack {
		return nil, &ErrStackOverflow{stackLen: sLen, limit: operation.maxStack}
	}
	if !contract.UseGas(cost) {
		return nil, ErrOutOfGas
	}

	var memorySize uint64
	if operation.memorySize != nil {
		memSize, overflow := operation.memorySize(scope.Stack)
		if overflow {
			return nil, ErrGasUintOverflow
		}
		// memory is expanded in words of 32 bytes. Gas is also calculated
		// in words.
		if memorySize, overflow = math.SafeMul(toWordSize(memSize), 32); overflow {
			return nil, ErrGasUintOverflow
		}
	}
	if operation.dynamicGas != nil {
		var dynamicCost uint64
		if dynamicCost, err = operation.dynamicGas(in.evm, contract, scope.Stack, scope.Memory, memorySize); err != nil {
			return nil, err
		}
		cost += dynamicCost
		if !contract.UseGas(dynamicCost) {
			return nil, ErrOutOfGas
		}
	}
	if memorySize > 0 {
		scope.Memory.Resize(memorySize)
	}

	ret, err = operation.execute(pc, in, scope)
	if err != nil {
		if debug && err != errStopToken && in.evm.Config.Tracer.OnFault != nil {
			in.evm.Config.Tracer.OnFault(*pc, byte(op), contract.Gas, cost, scope, in.evm.depth, err)
		}
		return ret, err
	}
	*pc++
	return ret, nil
}

// StepObservation reports what one reference step did.
type StepObservation struct {
	Op        OpCode
	PC        uint64 // byte offset before the step
	PCAfter   uint64 // byte offset after the step
	GasBefore uint64
	GasAfter  uint64
	StackLen  int
}

// RefFrame is a single-stepping execution frame over the reference
// interpreter. It owns its stack and memory and advances one instruction per
// Step call, exposing the paused state in between.
type RefFrame struct {
	in       *EVMInterpreter
	scope    *ScopeContext
	pc       uint64
	gasLimit uint64
	output   []byte
	err      error
	stopped  bool
	released bool
}

// NewRefFrame prepares a frame executing code at contract with the given
// input. The contract's gas is the frame's budget.
func NewRefFrame(evm *EVM, contract *Contract, input []byte) (*RefFrame, error) {
	in := NewEVMInterpreter(evm)
	if contract.analysis == nil {
		analysis, err := in.analyzer.analysisFor(contract)
		if err != nil {
			return nil, err
		}
		contract.analysis = analysis
	}
	contract.Input = input
	return &RefFrame{
		in: in,
		scope: &ScopeContext{
			Memory:   NewMemory(),
			Stack:    newstack(),
			Contract: contract,
		},
		gasLimit: contract.Gas,
	}, nil
}

// Step executes exactly one instruction. After the frame has halted it keeps
// returning the halt observation with ErrHalted without touching any state.
func (f *RefFrame) Step() (StepObservation, error) {
	obs := StepObservation{
		Op:        f.CurrentOpcode(),
		PC:        f.pc,
		PCAfter:   f.pc,
		GasBefore: f.scope.Contract.Gas,
		GasAfter:  f.scope.Contract.Gas,
		StackLen:  f.scope.Stack.len(),
	}
	if f.stopped {
		return obs, ErrHalted
	}
	ret, err := f.in.stepRef(&f.pc, f.scope, false)
	obs.PCAfter = f.pc
	obs.GasAfter = f.scope.Contract.Gas
	obs.StackLen = f.scope.Stack.len()
	switch err {
	case nil:
		return obs, nil
	case errStopToken:
		f.stopped = true
		f.output = ret
		return obs, nil
	default:
		f.stopped = true
		f.output = ret
		f.err = err
		return obs, err
	}
}

// run drives the frame to completion and returns its outcome.
func (f *RefFrame) run() ([]byte, error) {
	for !f.stopped {
		if _, err := f.Step(); err != nil && err != ErrHalted {
			break
		}
	}
	return f.output, f.err
}

// Reset rewinds the frame for re-execution of the same code with a fresh gas
// budget, without re-analysis.
func (f *RefFrame) Reset(gas uint64) {
	f.pc = 0
	f.gasLimit = gas
	f.scope.Contract.Gas = gas
	f.scope.Stack.data = f.scope.Stack.data[:0]
	f.scope.Memory.store = f.scope.Memory.store[:0]
	f.scope.Memory.lastGasCost = 0
	f.output = nil
	f.err = nil
	f.stopped = false
}

// GasRemaining returns the gas left in the frame.
func (f *RefFrame) GasRemaining() uint64 {
	return f.scope.Contract.Gas
}

// GasUsed returns the gas consumed so far.
func (f *RefFrame) GasUsed() uint64 {
	return f.gasLimit - f.scope.Contract.Gas
}

// PC returns the byte offset of the next instruction.
func (f *RefFrame) PC() uint64 {
	return f.pc
}

// CurrentOpcode returns the opcode at the frame's pc; STOP past the end.
func (f *RefFrame) CurrentOpcode() OpCode {
	return f.scope.Contract.GetOp(f.pc)
}

// IsStopped reports whether the frame has halted, successfully or not.
func (f *RefFrame) IsStopped() bool {
	return f.stopped
}

// Output returns the frame's output and error once halted.
func (f *RefFrame) Output() ([]byte, error) {
	return f.output, f.err
}

// Stack returns the live stack of the frame for inspection.
func (f *RefFrame) Stack() *Stack {
	return f.scope.Stack
}

// release returns the frame's stack and memory to their pools. The frame must
// not be used afterwards.
func (f *RefFrame) release() {
	if f.released {
		return
	}
	f.released = true
	returnStack(f.scope.Stack)
	f.scope.Memory.Free()
}
