// Copyright 2015 The go-ethereum Authors
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

package params

const (
	// StackLimit is the maximum size of the VM stack allowed.
	StackLimit uint64 = 1024
	// CallCreateDepth is the maximum depth of call/create stack.
	CallCreateDepth uint64 = 1024

	// GasLimitBoundDivisor is the bound divisor of the gas limit, used in update calculations.
	GasLimitBoundDivisor uint64 = 1024
	// MinGasLimit is the minimum the gas limit may ever be.
	MinGasLimit uint64 = 5000

	// QuadCoeffDiv is the divisor for the quadratic particle of the memory cost equation.
	QuadCoeffDiv uint64 = 512
	// MemoryGas is paid for every word when expanding memory.
	MemoryGas uint64 = 3

	// CallValueTransferGas is paid for CALL when the value transfer is non-zero.
	CallValueTransferGas uint64 = 9000
	// CallNewAccountGas is paid for CALL when the destination address didn't exist prior.
	CallNewAccountGas uint64 = 25000
	// CallStipend is the free gas given at the beginning of a value-bearing call.
	CallStipend uint64 = 2300

	// CreateGas is charged once per CREATE operation and contract-creation transaction.
	CreateGas uint64 = 32000
	// Create2Gas is charged once per CREATE2 operation.
	Create2Gas uint64 = 32000
	// CreateDataGas is charged per byte of code deposited by a create.
	CreateDataGas uint64 = 200
	// Keccak256WordGas is charged once per word of input hashed by CREATE2.
	Keccak256WordGas uint64 = 6
	// Keccak256Gas is charged once per KECCAK256 operation.
	Keccak256Gas uint64 = 30

	// CopyGas is charged per word copied by the *COPY operations.
	CopyGas uint64 = 3

	// LogGas is charged per LOG* operation.
	LogGas uint64 = 375
	// LogTopicGas is charged per LOG* topic.
	LogTopicGas uint64 = 375
	// LogDataGas is charged per byte in a LOG* operation's data.
	LogDataGas uint64 = 8

	// SstoreSetGas is charged when storage value changes from zero.
	SstoreSetGas uint64 = 20000
	// SstoreResetGas is charged when storage value changes to a different non-zero value.
	SstoreResetGas uint64 = 5000
	// SstoreClearGas is charged when storage value changes to zero.
	SstoreClearGas uint64 = 5000
	// SstoreRefundGas is refunded when storage value is set to zero.
	SstoreRefundGas uint64 = 15000

	// SelfdestructRefundGas is refunded for each SELFDESTRUCT operation.
	SelfdestructRefundGas uint64 = 24000

	// JumpdestGas is charged for each JUMPDEST reached.
	JumpdestGas uint64 = 1
	// ExpGas is the static portion of the EXP cost.
	ExpGas uint64 = 10

	// GasQuickStep is the cost tier of trivial operations.
	GasQuickStep uint64 = 2
	// GasFastestStep is the cost tier of arithmetic and stack shuffles.
	GasFastestStep uint64 = 3
	// GasFastStep is the cost tier of mul/div style operations.
	GasFastStep uint64 = 5
	// GasMidStep is the cost tier of addmod/mulmod/jump.
	GasMidStep uint64 = 8
	// GasSlowStep is the cost tier of jumpi.
	GasSlowStep uint64 = 10
	// GasExtStep is the cost tier of the cheap environment queries.
	GasExtStep uint64 = 20

	// MaxCodeSize is the maximum bytecode to permit for a contract.
	MaxCodeSize = 24576
	// MaxInitCodeSize is the maximum initcode to permit in a creation transaction
	// and create instructions. It also bounds the analyzer's input.
	MaxInitCodeSize = 2 * MaxCodeSize
)
