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

// Package runtime provides a basic execution model for executing EVM code
// against the in-memory state database, without a surrounding chain.
package runtime

import (
	"math"

	"github.com/holiman/uint256"

	"github.com/evmts/guillotine-go/common"
	"github.com/evmts/guillotine-go/core/state"
	"github.com/evmts/guillotine-go/core/vm"
	"github.com/evmts/guillotine-go/params"
)

// Config is a basic type specifying certain configuration flags for running
// the EVM.
type Config struct {
	Origin      common.Address
	Coinbase    common.Address
	BlockNumber uint64
	Time        uint64
	GasLimit    uint64
	GasPrice    *uint256.Int
	Value       *uint256.Int
	Difficulty  *uint256.Int
	BaseFee     *uint256.Int
	ChainID     *uint256.Int
	GetHashFn   func(n uint64) common.Hash

	State     *state.StateDB
	EVMConfig vm.Config
}

// setDefaults sets defaults on the config
func setDefaults(cfg *Config) {
	if cfg.GasLimit == 0 {
		cfg.GasLimit = math.MaxUint64
	}
	if cfg.GasPrice == nil {
		cfg.GasPrice = new(uint256.Int)
	}
	if cfg.Value == nil {
		cfg.Value = new(uint256.Int)
	}
	if cfg.Difficulty == nil {
		cfg.Difficulty = new(uint256.Int)
	}
	if cfg.BaseFee == nil {
		cfg.BaseFee = new(uint256.Int)
	}
	if cfg.ChainID == nil {
		cfg.ChainID = uint256.NewInt(1)
	}
	if cfg.GetHashFn == nil {
		cfg.GetHashFn = func(n uint64) common.Hash {
			return common.Hash{}
		}
	}
	if cfg.State == nil {
		cfg.State = state.New()
	}
}

// Execute executes the code using the input as call data during the execution.
// It returns the EVM's return value, the new state and an error if it failed.
//
// Execute sets up an in-memory, temporary, environment for the execution of
// the given code. It makes sure that it's restored to its original state
// afterwards.
func Execute(code, input []byte, cfg *Config) ([]byte, *state.StateDB, error) {
	if cfg == nil {
		cfg = new(Config)
	}
	setDefaults(cfg)

	var (
		address = common.BytesToAddress([]byte("contract"))
		evm     = NewEnv(cfg)
		sender  = cfg.Origin
	)
	cfg.State.CreateAccount(sender)
	cfg.State.SetBalance(sender, uint256.MustFromHex("0xffffffffffffffffffff"))
	cfg.State.CreateAccount(address)
	// set the receiver's (the executing contract) code for execution.
	cfg.State.SetCode(address, code)
	// Call the code with the given configuration.
	ret, _, err := evm.Call(
		sender,
		address,
		input,
		cfg.GasLimit,
		cfg.Value,
	)
	return ret, cfg.State, err
}

// Create executes the code using the EVM create method
func Create(input []byte, cfg *Config) ([]byte, common.Address, uint64, error) {
	if cfg == nil {
		cfg = new(Config)
	}
	setDefaults(cfg)

	evm := NewEnv(cfg)
	cfg.State.CreateAccount(cfg.Origin)
	cfg.State.SetBalance(cfg.Origin, uint256.MustFromHex("0xffffffffffffffffffff"))

	// Call the code with the given configuration.
	code, address, leftOverGas, err := evm.Create(
		cfg.Origin,
		input,
		cfg.GasLimit,
		cfg.Value,
	)
	return code, address, leftOverGas, err
}

// Call executes the code given by the contract's address. It will return the
// EVM's return value or an error if it failed.
//
// Call, unlike Execute, requires a config and also requires the State field to
// be set.
func Call(address common.Address, input []byte, cfg *Config) ([]byte, uint64, error) {
	setDefaults(cfg)

	evm := NewEnv(cfg)
	ret, leftOverGas, err := evm.Call(
		cfg.Origin,
		address,
		input,
		cfg.GasLimit,
		cfg.Value,
	)
	return ret, leftOverGas, err
}

// ExecuteShadow runs code on the block-dispatch engine and the reference
// oracle over two copies of the configured state, comparing them at the given
// granularity. It returns the primary's result; a divergence surfaces as a
// *vm.MismatchError.
func ExecuteShadow(code, input []byte, granularity vm.ShadowGranularity, cfg *Config) (vm.CallResult, error) {
	if cfg == nil {
		cfg = new(Config)
	}
	setDefaults(cfg)

	var (
		address = common.BytesToAddress([]byte("contract"))
		sender  = cfg.Origin
	)
	cfg.State.CreateAccount(sender)
	cfg.State.SetBalance(sender, uint256.MustFromHex("0xffffffffffffffffffff"))
	cfg.State.CreateAccount(address)
	cfg.State.SetCode(address, code)

	primaryCfg := *cfg
	referenceCfg := *cfg
	referenceCfg.State = cfg.State.Copy()

	primary := NewEnv(&primaryCfg)
	reference := NewEnv(&referenceCfg)

	shadow := vm.NewShadow(primary, reference, vm.ShadowConfig{
		Granularity:  granularity,
		CompareState: CompareState,
	})
	return shadow.Execute(vm.CallParams{
		Kind:      vm.CallKindCall,
		Caller:    sender,
		Recipient: address,
		Input:     input,
		Gas:       cfg.GasLimit,
		Value:     cfg.Value,
	})
}

// CompareState adapts the state database's Diff to the shadow comparator's
// host-effect hook. Non-*state.StateDB backends compare as equal.
func CompareState(primary, reference vm.StateDB) (string, bool) {
	ps, ok1 := primary.(*state.StateDB)
	rs, ok2 := reference.(*state.StateDB)
	if !ok1 || !ok2 {
		return "", true
	}
	diff := ps.Diff(rs)
	return diff, diff == ""
}

// GasTable exposes the schedule the runtime environment executes under, for
// callers assembling expected-gas fixtures.
func GasTable(cfg *Config) params.GasTable {
	if cfg != nil && cfg.EVMConfig.GasTable != nil {
		return *cfg.EVMConfig.GasTable
	}
	return params.DefaultGasTable()
}
