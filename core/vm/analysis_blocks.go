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
	"github.com/evmts/guillotine-go/params"
	"github.com/holiman/uint256"
)

// instrKind tags the pre-decoded form of an instruction in the analyzed
// stream. The dispatch loop switches on the kind instead of the raw opcode, so
// everything resolvable at analysis time is resolved exactly once.
type instrKind uint8

const (
	// instrExec is a plain opcode. Constant gas and stack bounds were
	// accounted for by the enclosing block, so it runs unchecked.
	instrExec instrKind = iota
	// instrExecDyn is an opcode with a dynamic gas portion and/or a memory
	// sizing function. The dynamic part is still charged at run time.
	instrExecDyn
	// instrBeginBlock opens a basic block: one bulk gas charge and one
	// stack bounds check cover every instruction up to the block end.
	instrBeginBlock
	// instrPush is PUSH1..PUSH32 with the immediate pre-decoded into arg.
	instrPush
	// instrStaticJump / instrStaticJumpi carry a target resolved during
	// analysis: dest is the stream index of the target block's intrinsic,
	// or -1 when the pushed target is not a valid jump destination.
	instrStaticJump
	instrStaticJumpi
	// instrJump / instrJumpi pop their target at run time and check it
	// against the jumpdest bitmap.
	instrJump
	instrJumpi
	// instrPC pushes the original byte offset, which the stream index no
	// longer matches.
	instrPC
	// instrGas pushes contract.Gas corrected for the block suffix that was
	// precharged but not yet executed.
	instrGas
	// instrStop halts with success. The analyzer appends one past the end
	// of every code so falling off the end is an ordinary halt.
	instrStop
)

// instr is one element of the analyzed instruction stream.
type instr struct {
	kind instrKind
	op   OpCode
	// pc is the byte offset of the opcode in the original code.
	pc uint64
	// dest is the resolved stream index for static jumps (-1 when the
	// target is invalid) and the block index for instrBeginBlock.
	dest int32
	// suffix is the summed constant gas of the instructions after this one
	// up to the end of the block. It is the refund on an early block exit
	// and the correction added by instrGas.
	suffix uint64
	// arg holds the decoded immediate of instrPush.
	arg uint256.Int
}

// BasicBlock describes one maximal straight-line span of the analyzed code.
// The aggregates let the interpreter validate and charge the whole span with
// a single check at entry.
type BasicBlock struct {
	// StartPC and EndPC delimit the byte range [StartPC, EndPC) covered by
	// the block.
	StartPC uint64
	EndPC   uint64
	// First is the stream index of the block's instrBeginBlock.
	First int
	// StaticGas is the summed constant gas of every instruction in the block.
	StaticGas uint64
	// MinStack is the smallest entry stack height that keeps every pop in
	// the block in bounds.
	MinStack int
	// MaxGrowth is the largest intra-block net stack growth; entry height
	// plus MaxGrowth must stay within the stack limit.
	MaxGrowth int
}

// JumpInfo reports how the analyzer classified one JUMP/JUMPI site.
type JumpInfo struct {
	PC     uint64
	Op     OpCode
	Static bool
	// Target and Valid are only meaningful for static jumps.
	Target uint64
	Valid  bool
}

// CodeAnalysis is the reusable artifact produced by analyzing a bytecode. It
// is immutable after construction and safe for concurrent use.
type CodeAnalysis struct {
	jumpdests bitvec
	instrs    []instr
	blocks    []BasicBlock
	jumps     []JumpInfo
	// entryByPC maps a JUMPDEST byte offset to the stream index of the
	// block intrinsic guarding it. Dynamic jumps resolve through it.
	entryByPC map[uint64]int32
	codeLen   int
}

// isCode reports whether the byte at pc is an opcode rather than PUSH data.
func (a *CodeAnalysis) isCode(pc uint64) bool {
	return a.jumpdests.codeSegment(pc)
}

// Blocks returns the basic blocks of the analyzed code.
func (a *CodeAnalysis) Blocks() []BasicBlock {
	return a.blocks
}

// Jumps returns the classified jump sites of the analyzed code.
func (a *CodeAnalysis) Jumps() []JumpInfo {
	return a.jumps
}

// CodeLen returns the length of the analyzed bytecode.
func (a *CodeAnalysis) CodeLen() int {
	return a.codeLen
}

// Analyze analyzes code under the default gas schedule.
func Analyze(code []byte) (*CodeAnalysis, error) {
	return analyzeCode(code, &defaultAnalyzer.table)
}

// isBlockEnd reports whether op ends a basic block: control transfers,
// terminators, message ops, and undefined opcodes. Nothing after an undefined
// opcode is reachable without a fresh JUMPDEST, and aggregating past it would
// let the block intrinsic report a stack error where the oracle reports
// InvalidOpcode.
func isBlockEnd(op *operation, code OpCode) bool {
	if op.undefined {
		return true
	}
	switch code {
	case JUMP, JUMPI, STOP, RETURN, REVERT, SELFDESTRUCT:
		return true
	case CALL, CALLCODE, DELEGATECALL, STATICCALL, CREATE, CREATE2:
		// The 63/64 forwarding cap reads the live gas counter, so no
		// precharged suffix may sit on it at a call site. Ending the block
		// here keeps the counter oracle-equal when the cap binds.
		return true
	}
	return false
}

// analyzeCode decodes code into the instruction stream and its basic blocks.
// The analysis is pure: it never touches the host and is independent of gas
// limits and entry state.
func analyzeCode(code []byte, jt *JumpTable) (*CodeAnalysis, error) {
	if len(code) > params.MaxInitCodeSize {
		return nil, ErrBytecodeTooLarge
	}
	a := &CodeAnalysis{
		jumpdests: codeBitmap(code),
		instrs:    make([]instr, 0, len(code)+len(code)/8+2),
		entryByPC: make(map[uint64]int32),
		codeLen:   len(code),
	}

	type fixup struct {
		instr  int32  // stream index of the static jump
		target uint64 // byte offset it jumps to
	}
	var (
		fixups     []fixup
		blockStart = -1 // stream index of the open block's intrinsic, -1 when none
	)

	openBlock := func(pc uint64) {
		a.blocks = append(a.blocks, BasicBlock{StartPC: pc, First: len(a.instrs)})
		blockStart = len(a.instrs)
		a.instrs = append(a.instrs, instr{
			kind: instrBeginBlock,
			pc:   pc,
			dest: int32(len(a.blocks) - 1),
		})
	}
	closeBlock := func(endPC uint64) {
		if blockStart < 0 {
			return
		}
		blk := &a.blocks[len(a.blocks)-1]
		blk.EndPC = endPC
		// Aggregate gas and stack bounds, then fill the suffix gas of
		// every member in one backward sweep.
		var (
			delta     int // net stack change so far
			minStack  int
			maxGrowth int
		)
		for i := blockStart + 1; i < len(a.instrs); i++ {
			ins := &a.instrs[i]
			op := jt[ins.op]
			blk.StaticGas += op.constantGas
			pops, pushes := op.stackEffect()
			if need := pops - delta; need > minStack {
				minStack = need
			}
			delta += pushes - pops
			if delta > maxGrowth {
				maxGrowth = delta
			}
		}
		blk.MinStack = minStack
		blk.MaxGrowth = maxGrowth

		var suffix uint64
		for i := len(a.instrs) - 1; i > blockStart; i-- {
			a.instrs[i].suffix = suffix
			suffix += jt[a.instrs[i].op].constantGas
		}
		a.instrs[blockStart].suffix = suffix // == StaticGas
		blockStart = -1
	}

	for pc := uint64(0); pc < uint64(len(code)); {
		op := OpCode(code[pc])
		entry := jt[op]

		if op == JUMPDEST {
			closeBlock(pc)
			a.entryByPC[pc] = int32(len(a.instrs))
		}
		if blockStart < 0 {
			openBlock(pc)
		}

		switch {
		case op >= PUSH1 && op <= PUSH32:
			size := uint64(op - PUSH1 + 1)
			start := pc + 1
			end := start + size
			if end > uint64(len(code)) {
				end = uint64(len(code))
			}
			ins := instr{kind: instrPush, op: op, pc: pc}
			ins.arg.SetBytes(code[start:end])
			// A truncated immediate is padded with zeroes on the
			// right, as if the missing bytes were present.
			if missing := size - (end - start); missing > 0 {
				ins.arg.Lsh(&ins.arg, uint(8*missing))
			}
			a.instrs = append(a.instrs, ins)
			pc = start + size
			continue

		case op == JUMP || op == JUMPI:
			ins := instr{kind: instrJump, op: op, pc: pc, dest: -1}
			if op == JUMPI {
				ins.kind = instrJumpi
			}
			info := JumpInfo{PC: pc, Op: op}
			// A jump directly preceded by a PUSH in the same block
			// has a known target: classify it once here instead of
			// on every execution.
			if prev := len(a.instrs) - 1; prev > blockStart && a.instrs[prev].kind == instrPush {
				if ins.kind == instrJump {
					ins.kind = instrStaticJump
				} else {
					ins.kind = instrStaticJumpi
				}
				info.Static = true
				target, overflow := a.instrs[prev].arg.Uint64WithOverflow()
				if !overflow && target < uint64(len(code)) &&
					OpCode(code[target]) == JUMPDEST && a.jumpdests.codeSegment(target) {
					info.Target = target
					info.Valid = true
					fixups = append(fixups, fixup{instr: int32(len(a.instrs)), target: target})
				}
				// An invalid static target keeps dest == -1 and
				// fails with InvalidJump if control reaches it.
			}
			a.jumps = append(a.jumps, info)
			a.instrs = append(a.instrs, ins)

		case op == PC:
			a.instrs = append(a.instrs, instr{kind: instrPC, op: op, pc: pc})

		case op == GAS:
			a.instrs = append(a.instrs, instr{kind: instrGas, op: op, pc: pc})

		case op == STOP:
			a.instrs = append(a.instrs, instr{kind: instrStop, op: op, pc: pc})

		case entry.dynamicGas != nil || entry.memorySize != nil:
			a.instrs = append(a.instrs, instr{kind: instrExecDyn, op: op, pc: pc})

		default:
			a.instrs = append(a.instrs, instr{kind: instrExec, op: op, pc: pc})
		}

		pc++
		if isBlockEnd(entry, op) {
			closeBlock(pc)
		}
	}
	closeBlock(uint64(len(code)))

	// The implicit trailing STOP: running off the end of the code (or off
	// the end of the stream) halts like an explicit STOP would.
	openBlock(uint64(len(code)))
	a.instrs = append(a.instrs, instr{kind: instrStop, op: STOP, pc: uint64(len(code))})
	closeBlock(uint64(len(code)))

	for _, f := range fixups {
		a.instrs[f.instr].dest = a.entryByPC[f.target]
	}
	return a, nil
}
