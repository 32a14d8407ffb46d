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

	"github.com/evmts/guillotine-go/params"
)

func TestAnalyzeStraightLine(t *testing.T) {
	code := []byte{byte(PUSH1), 1, byte(PUSH1), 2, byte(ADD), byte(STOP)}
	analysis, err := Analyze(code)
	require.NoError(t, err)

	blocks := analysis.Blocks()
	require.Len(t, blocks, 2, "code block plus the implicit trailing halt")

	blk := blocks[0]
	assert.Equal(t, uint64(0), blk.StartPC)
	assert.Equal(t, uint64(6), blk.EndPC)
	assert.Equal(t, 3*params.GasFastestStep, blk.StaticGas, "two pushes and an add, stop is free")
	assert.Equal(t, 0, blk.MinStack, "pops are fed by pushes inside the block")
	assert.Equal(t, 2, blk.MaxGrowth)

	tail := blocks[1]
	assert.Equal(t, uint64(6), tail.StartPC)
	assert.Equal(t, uint64(6), tail.EndPC)
	assert.Equal(t, uint64(0), tail.StaticGas)
}

func TestAnalyzeMinStackFromBareConsumer(t *testing.T) {
	// ADD with nothing pushed beforehand needs two entries on the stack.
	code := []byte{byte(ADD), byte(STOP)}
	analysis, err := Analyze(code)
	require.NoError(t, err)
	require.NotEmpty(t, analysis.Blocks())
	assert.Equal(t, 2, analysis.Blocks()[0].MinStack)
	assert.Equal(t, 0, analysis.Blocks()[0].MaxGrowth, "net effect of ADD is -1")
}

func TestAnalyzeJumpdestSplitsBlocks(t *testing.T) {
	code := []byte{byte(PUSH1), 0, byte(POP), byte(JUMPDEST), byte(STOP)}
	analysis, err := Analyze(code)
	require.NoError(t, err)

	blocks := analysis.Blocks()
	require.Len(t, blocks, 3)
	assert.Equal(t, uint64(0), blocks[0].StartPC)
	assert.Equal(t, uint64(3), blocks[0].EndPC)
	assert.Equal(t, uint64(3), blocks[1].StartPC)
	assert.Equal(t, uint64(5), blocks[1].EndPC)
	assert.Equal(t, params.JumpdestGas, blocks[1].StaticGas)
}

func TestAnalyzeStaticJumpValid(t *testing.T) {
	// PUSH1 4; JUMP; INVALID; JUMPDEST; STOP
	code := []byte{byte(PUSH1), 4, byte(JUMP), byte(INVALID), byte(JUMPDEST), byte(STOP)}
	analysis, err := Analyze(code)
	require.NoError(t, err)

	jumps := analysis.Jumps()
	require.Len(t, jumps, 1)
	assert.Equal(t, uint64(2), jumps[0].PC)
	assert.True(t, jumps[0].Static)
	assert.True(t, jumps[0].Valid)
	assert.Equal(t, uint64(4), jumps[0].Target)
}

func TestAnalyzeStaticJumpInvalidTarget(t *testing.T) {
	// Target 3 is a STOP, not a JUMPDEST.
	code := []byte{byte(PUSH1), 3, byte(JUMP), byte(STOP)}
	analysis, err := Analyze(code)
	require.NoError(t, err)

	jumps := analysis.Jumps()
	require.Len(t, jumps, 1)
	assert.True(t, jumps[0].Static)
	assert.False(t, jumps[0].Valid)
}

func TestAnalyzeStaticJumpIntoPushData(t *testing.T) {
	// Byte 4 reads as JUMPDEST but lives inside the PUSH2 immediate.
	code := []byte{
		byte(PUSH1), 4, byte(JUMP),
		byte(PUSH2), byte(JUMPDEST), 0,
		byte(STOP),
	}
	analysis, err := Analyze(code)
	require.NoError(t, err)

	jumps := analysis.Jumps()
	require.Len(t, jumps, 1)
	assert.True(t, jumps[0].Static)
	assert.False(t, jumps[0].Valid, "push data is not a jump destination")
}

func TestAnalyzeDynamicJump(t *testing.T) {
	// The POP between the PUSH and the JUMP hides the target from the
	// analyzer: pc 5 must classify as dynamic.
	code := []byte{
		byte(PUSH1), 7, byte(PUSH1), 0, byte(POP), byte(JUMP),
		byte(INVALID), byte(JUMPDEST), byte(STOP),
	}
	analysis, err := Analyze(code)
	require.NoError(t, err)

	jumps := analysis.Jumps()
	require.Len(t, jumps, 1)
	assert.Equal(t, uint64(5), jumps[0].PC)
	assert.False(t, jumps[0].Static)
}

func TestAnalyzeTruncatedPushPadsRight(t *testing.T) {
	code := []byte{byte(PUSH2), 0xAA}
	analysis, err := Analyze(code)
	require.NoError(t, err)

	var push *instr
	for i := range analysis.instrs {
		if analysis.instrs[i].kind == instrPush {
			push = &analysis.instrs[i]
			break
		}
	}
	require.NotNil(t, push)
	assert.Equal(t, uint256.NewInt(0xAA00), &push.arg)
}

func TestAnalyzeUndefinedOpcodeEndsBlock(t *testing.T) {
	// 0x0c is unassigned. The block must end there so the bulk stack check
	// cannot fire for the unreachable ADD behind it.
	code := []byte{byte(PUSH1), 1, 0x0c, byte(ADD), byte(STOP)}
	analysis, err := Analyze(code)
	require.NoError(t, err)

	blocks := analysis.Blocks()
	require.Len(t, blocks, 3)
	assert.Equal(t, uint64(3), blocks[0].EndPC)
	assert.Equal(t, 2, blocks[1].MinStack, "the dead ADD still aggregates into its own block")
}

func TestAnalyzeCallEndsBlock(t *testing.T) {
	// GAS; ...; CALL; POP; STOP — the call must close its block so that no
	// constant gas of the instructions behind it is precharged when the
	// forwarding cap reads the live counter.
	code := []byte{
		byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0, byte(PUSH1), 0,
		byte(PUSH1), 0xcc, byte(GAS), byte(CALL), // pc 13
		byte(POP), byte(STOP),
	}
	analysis, err := Analyze(code)
	require.NoError(t, err)

	blocks := analysis.Blocks()
	require.Len(t, blocks, 3, "call block, continuation, implicit halt")
	assert.Equal(t, uint64(14), blocks[0].EndPC, "block ends right after CALL")
	assert.Equal(t, uint64(14), blocks[1].StartPC)

	// The call is the last member of its block, so nothing is precharged
	// past it.
	var call *instr
	for i := range analysis.instrs {
		if analysis.instrs[i].op == CALL {
			call = &analysis.instrs[i]
			break
		}
	}
	require.NotNil(t, call)
	assert.Equal(t, instrExecDyn, call.kind)
	assert.Zero(t, call.suffix)
}

func TestAnalyzeImplicitTrailingStop(t *testing.T) {
	code := []byte{byte(PUSH1), 1}
	analysis, err := Analyze(code)
	require.NoError(t, err)

	blocks := analysis.Blocks()
	require.NotEmpty(t, blocks)
	tail := blocks[len(blocks)-1]
	assert.Equal(t, uint64(len(code)), tail.StartPC)
	last := analysis.instrs[len(analysis.instrs)-1]
	assert.Equal(t, instrStop, last.kind)
}

func TestAnalyzeRejectsOversizedCode(t *testing.T) {
	code := make([]byte, params.MaxInitCodeSize+1)
	_, err := Analyze(code)
	assert.ErrorIs(t, err, ErrBytecodeTooLarge)
}

func TestAnalyzeEmptyCode(t *testing.T) {
	analysis, err := Analyze(nil)
	require.NoError(t, err)
	require.Len(t, analysis.Blocks(), 1, "only the implicit halt")
	assert.Equal(t, 0, analysis.CodeLen())
}
