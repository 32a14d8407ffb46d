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
	"github.com/evmts/guillotine-go/common"
	"github.com/evmts/guillotine-go/common/math"
	"github.com/evmts/guillotine-go/core/tracing"
	"github.com/evmts/guillotine-go/crypto"
	"github.com/evmts/guillotine-go/params"
	"github.com/holiman/uint256"
)

// Config are the configuration options for the Interpreter.
type Config struct {
	// Tracer is the set of observation hooks. When the step hook is
	// attached, calls run through the per-instruction reference loop so
	// the observed pc and gas match the oracle exactly.
	Tracer *tracing.Hooks
	// GasTable overrides the default gas schedule. Analyses embed constant
	// gas, so a custom table gets a private analyzer instead of the shared
	// cache.
	GasTable *params.GasTable
	// UseReferenceInterpreter forces the per-instruction oracle loop for
	// every call.
	UseReferenceInterpreter bool
}

// ScopeContext contains the things that are per-call, such as stack and memory,
// but not transients like pc and gas
type ScopeContext struct {
	Memory   *Memory
	Stack    *Stack
	Contract *Contract
}

// MemoryData returns the underlying memory slice. Callers must not modify the contents
// of the returned data.
func (ctx *ScopeContext) MemoryData() []byte {
	if ctx.Memory == nil {
		return nil
	}
	return ctx.Memory.Data()
}

// StackData returns the stack data. Callers must not modify the contents
// of the returned data.
func (ctx *ScopeContext) StackData() []uint256.Int {
	if ctx.Stack == nil {
		return nil
	}
	return ctx.Stack.Data()
}

// Caller returns the current caller.
func (ctx *ScopeContext) Caller() common.Address {
	return ctx.Contract.Caller()
}

// Address returns the address where this scope of execution is taking place.
func (ctx *ScopeContext) Address() common.Address {
	return ctx.Contract.Address()
}

// CallValue returns the value supplied with this call.
func (ctx *ScopeContext) CallValue() *uint256.Int {
	return ctx.Contract.Value()
}

// CallInput returns the input/calldata with this call. Callers must not modify
// the contents of the returned data.
func (ctx *ScopeContext) CallInput() []byte {
	return ctx.Contract.Input
}

// ContractCode returns the code of the contract being executed.
func (ctx *ScopeContext) ContractCode() []byte {
	return ctx.Contract.Code
}

// blockHookFunc observes a basic-block boundary of the dispatch loop: the
// block's first byte offset, the gas remaining before the bulk charge, and
// the live stack. A non-nil return tears the frame down with that error.
type blockHookFunc func(blockPC uint64, gas uint64, stack *Stack) error

// EVMInterpreter executes analyzed bytecode block by block: one bulk gas
// charge and one stack bounds check per basic block, unchecked instructions
// inside.
type EVMInterpreter struct {
	evm      *EVM
	table    *JumpTable
	analyzer *analyzer

	hasher    crypto.KeccakState // Keccak256 hasher instance shared across opcodes
	hasherBuf common.Hash        // Keccak256 hasher result array shared across opcodes

	readOnly   bool   // Whether to throw on stateful modifications
	returnData []byte // Last CALL's return data for subsequent reuse

	// blockHook is installed by the shadow comparator for block-granular
	// lock-step comparison. Nil for everyone else.
	blockHook blockHookFunc
}

// NewEVMInterpreter returns a new instance of the Interpreter.
func NewEVMInterpreter(evm *EVM) *EVMInterpreter {
	az := defaultAnalyzer
	if evm.Config.GasTable != nil {
		az = newAnalyzer(*evm.Config.GasTable)
	}
	return &EVMInterpreter{evm: evm, table: &az.table, analyzer: az}
}

// Run loops and evaluates the contract's code with the given input data and returns
// the return byte-slice and an error if one occurred.
//
// It's important to note that any errors returned by the interpreter should be
// considered a revert-and-consume-all-gas operation except for
// ErrExecutionReverted which means revert-and-keep-gas-left.
func (in *EVMInterpreter) Run(contract *Contract, input []byte, readOnly bool) (ret []byte, err error) {
	// A step hook needs per-instruction observations, which the bulk
	// precharge cannot provide. Those executions take the oracle loop.
	if in.evm.Config.UseReferenceInterpreter ||
		(in.evm.Config.Tracer != nil && in.evm.Config.Tracer.OnOpcode != nil) {
		return in.RunRef(contract, input, readOnly)
	}

	// Increment the call depth which is restricted to 1024
	in.evm.depth++
	defer func() { in.evm.depth-- }()

	// Make sure the readOnly is only set if we aren't in readOnly yet.
	// This also makes sure that the readOnly flag isn't removed for child calls.
	if readOnly && !in.readOnly {
		in.readOnly = true
		defer func() { in.readOnly = false }()
	}

	// Reset the previous call's return data. It's unimportant to preserve the old buffer
	// as every returning call will return new data anyway.
	in.returnData = nil

	// Don't bother with the execution if there's no code.
	if len(contract.Code) == 0 {
		return nil, nil
	}

	if contract.analysis == nil {
		if contract.analysis, err = in.analyzer.analysisFor(contract); err != nil {
			return nil, err
		}
	}

	var (
		mem         = NewMemory()
		stack       = newstack()
		callContext = &ScopeContext{Memory: mem, Stack: stack, Contract: contract}
		analysis    = contract.analysis
		instrs      = analysis.instrs
		cur         *instr
		ip          int
		pc          uint64
		res         []byte
	)
	defer func() {
		returnStack(stack)
		mem.Free()
	}()
	contract.Input = input

	for {
		cur = &instrs[ip]
		switch cur.kind {
		case instrBeginBlock:
			block := &analysis.blocks[cur.dest]
			if in.blockHook != nil {
				if err = in.blockHook(block.StartPC, contract.Gas, stack); err != nil {
					break
				}
			}
			if in.evm.abort.Load() {
				err = errStopToken
				break
			}
			// The bulk intrinsic: one gas charge and one stack bounds
			// check stand in for every instruction of the block.
			if contract.Gas < block.StaticGas {
				err = ErrOutOfGas
				break
			}
			contract.Gas -= block.StaticGas
			if sLen := stack.len(); sLen < block.MinStack {
				contract.RefundGas(block.StaticGas)
				err = &ErrStackUnderflow{stackLen: sLen, required: block.MinStack}
			} else if sLen+block.MaxGrowth > int(params.StackLimit) {
				contract.RefundGas(block.StaticGas)
				err = &ErrStackOverflow{stackLen: sLen + block.MaxGrowth, limit: int(params.StackLimit)}
			}
			blocksExecuted.Inc()
			ip++

		case instrPush:
			stack.push(&cur.arg)
			ip++

		case instrExec:
			pc = cur.pc
			res, err = in.table[cur.op].execute(&pc, in, callContext)
			ip++

		case instrExecDyn:
			op := in.table[cur.op]
			var memorySize uint64
			// Calculate the new memory size and expand the memory to fit
			// the operation.
			if op.memorySize != nil {
				memSize, overflow := op.memorySize(stack)
				if overflow {
					err = ErrGasUintOverflow
					break
				}
				// memory is expanded in words of 32 bytes. Gas is also
				// calculated in words.
				if memorySize, overflow = math.SafeMul(toWordSize(memSize), 32); overflow {
					err = ErrGasUintOverflow
					break
				}
			}
			if op.dynamicGas != nil {
				var cost uint64
				if cost, err = op.dynamicGas(in.evm, contract, stack, mem, memorySize); err != nil {
					break
				}
				if !contract.UseGas(cost) {
					err = ErrOutOfGas
					break
				}
			}
			if memorySize > 0 {
				mem.Resize(memorySize)
			}
			pc = cur.pc
			res, err = op.execute(&pc, in, callContext)
			ip++

		case instrStaticJump:
			stack.pop() // target is baked into the instruction
			if in.evm.abort.Load() {
				err = errStopToken
				break
			}
			if cur.dest < 0 {
				err = ErrInvalidJump
				break
			}
			ip = int(cur.dest)

		case instrStaticJumpi:
			stack.pop() // target is baked into the instruction
			if cond := stack.pop(); !cond.IsZero() {
				if in.evm.abort.Load() {
					err = errStopToken
					break
				}
				if cur.dest < 0 {
					err = ErrInvalidJump
					break
				}
				ip = int(cur.dest)
			} else {
				ip++
			}

		case instrJump:
			if in.evm.abort.Load() {
				err = errStopToken
				break
			}
			pos := stack.pop()
			target, overflow := pos.Uint64WithOverflow()
			idx, ok := analysis.entryByPC[target]
			if overflow || !ok {
				err = ErrInvalidJump
				break
			}
			ip = int(idx)

		case instrJumpi:
			pos, cond := stack.pop(), stack.pop()
			if !cond.IsZero() {
				if in.evm.abort.Load() {
					err = errStopToken
					break
				}
				target, overflow := pos.Uint64WithOverflow()
				idx, ok := analysis.entryByPC[target]
				if overflow || !ok {
					err = ErrInvalidJump
					break
				}
				ip = int(idx)
			} else {
				ip++
			}

		case instrPC:
			// The stream index diverged from the byte offset; push the
			// original one.
			stack.push(new(uint256.Int).SetUint64(cur.pc))
			ip++

		case instrGas:
			// The block suffix was already precharged; adding it back
			// yields the value the oracle would observe here.
			stack.push(new(uint256.Int).SetUint64(contract.Gas + cur.suffix))
			ip++

		case instrStop:
			res, err = nil, errStopToken
		}

		if err != nil {
			break
		}
	}

	if err != nil && err != errStopToken && cur.kind != instrBeginBlock {
		// Early block exit: the constant gas of the instructions that
		// never ran was precharged at block entry. Give it back so the
		// observable total matches the oracle.
		contract.RefundGas(cur.suffix)
	}
	if err == errStopToken {
		err = nil // clear stop token error
	}
	return res, err
}
