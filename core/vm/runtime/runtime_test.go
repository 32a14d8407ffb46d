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

package runtime

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evmts/guillotine-go/common"
	"github.com/evmts/guillotine-go/core/state"
	"github.com/evmts/guillotine-go/core/vm"
)

// runtimeTestCase is one differential scenario: the same code and input run
// on the block-dispatch engine and on the reference oracle, and every
// observable must agree.
type runtimeTestCase struct {
	name    string
	code    []byte
	input   []byte
	storage map[common.Hash]common.Hash
	wantErr bool
}

var runtimeTestCases = []runtimeTestCase{
	{
		name: "arithmetic and return",
		code: common.FromHex("0x600560040160005260206000f3"),
	},
	{
		name: "mstore8 byte soup",
		code: common.FromHex("0x60aa6000536001600153600260025360005160005260206000f3"),
	},
	{
		name: "calldata echo",
		code: common.FromHex("0x6020600060003760206000f3"),
		input: common.FromHex(
			"0x000000000000000000000000000000000000000000000000000000000000002a"),
	},
	{
		name: "storage write and read",
		code: common.FromHex("0x602a60005560005460005260206000f3"),
	},
	{
		name:    "storage seeded read",
		code:    common.FromHex("0x60005460005260206000f3"),
		storage: map[common.Hash]common.Hash{{}: common.BytesToHash([]byte{0x42})},
	},
	{
		name: "countdown loop",
		code: common.FromHex("0x60055b600190038060025700"),
	},
	{
		name: "gas introspection",
		code: common.FromHex("0x5a60005260206000f3"),
	},
	{
		name:    "revert with reason",
		code:    common.FromHex("0x60ee60005260206000fd"),
		wantErr: true,
	},
	{
		name:    "invalid jump",
		code:    common.FromHex("0x600356"),
		wantErr: true,
	},
	{
		name:    "stack underflow",
		code:    common.FromHex("0x0100"),
		wantErr: true,
	},
	{
		name:    "designated invalid opcode",
		code:    common.FromHex("0xfe"),
		wantErr: true,
	},
	{
		name: "keccak empty",
		code: common.FromHex("0x600060002060005260206000f3"),
	},
	{
		name: "exp",
		code: common.FromHex("0x600360020a60005260206000f3"),
	},
}

func seededConfig(tc runtimeTestCase, useRef bool) *Config {
	cfg := &Config{GasLimit: 1_000_000, State: state.New()}
	cfg.EVMConfig.UseReferenceInterpreter = useRef
	if tc.storage != nil {
		addr := common.BytesToAddress([]byte("contract"))
		cfg.State.CreateAccount(addr)
		cfg.State.SetStorage(addr, tc.storage)
	}
	return cfg
}

func TestEnginesAgree(t *testing.T) {
	for _, tc := range runtimeTestCases {
		t.Run(tc.name, func(t *testing.T) {
			ret, st, err := Execute(tc.code, tc.input, seededConfig(tc, false))
			refRet, refSt, refErr := Execute(tc.code, tc.input, seededConfig(tc, true))

			if tc.wantErr {
				assert.Error(t, err)
				assert.Error(t, refErr)
			} else {
				assert.NoError(t, err)
				assert.NoError(t, refErr)
			}
			assert.Equal(t, refRet, ret, "output")
			assert.Empty(t, st.Diff(refSt), "state")
		})
	}
}

func TestShadowAcceptsAllCases(t *testing.T) {
	for _, granularity := range []vm.ShadowGranularity{vm.GranularityCall, vm.GranularityBlock} {
		for _, tc := range runtimeTestCases {
			t.Run(granularity.String()+"/"+tc.name, func(t *testing.T) {
				res, err := ExecuteShadow(tc.code, tc.input, granularity, seededConfig(tc, false))
				require.NoError(t, err, "the two engines must agree on themselves")
				if tc.wantErr {
					assert.False(t, res.Success)
				} else {
					assert.True(t, res.Success)
				}
			})
		}
	}
}

func TestExecuteReturnsSum(t *testing.T) {
	// 5 + 4, returned as one word.
	ret, _, err := Execute(common.FromHex("0x600560040160005260206000f3"), nil, nil)
	require.NoError(t, err)
	require.Len(t, ret, 32)
	assert.Equal(t, byte(9), ret[31])
}

func TestCallUsesSeededState(t *testing.T) {
	cfg := &Config{GasLimit: 1_000_000, State: state.New()}
	addr := common.BytesToAddress([]byte{0xcc})
	cfg.State.CreateAccount(addr)
	cfg.State.SetCode(addr, common.FromHex("0x60005460005260206000f3"))
	cfg.State.SetStorage(addr, map[common.Hash]common.Hash{
		{}: common.BytesToHash([]byte{0x07}),
	})
	cfg.State.CreateAccount(cfg.Origin)
	cfg.State.SetBalance(cfg.Origin, uint256.NewInt(1e18))

	ret, gasLeft, err := Call(addr, nil, cfg)
	require.NoError(t, err)
	assert.Equal(t, byte(7), ret[31])
	assert.Less(t, gasLeft, cfg.GasLimit)
}

func TestCreateThenCall(t *testing.T) {
	// Initcode deploying a 10-byte runtime that returns 42.
	initcode := common.FromHex("0x600a600c600039600a6000f3602a60005260206000f3")
	cfg := &Config{GasLimit: 1_000_000, State: state.New()}

	code, addr, _, err := Create(initcode, cfg)
	require.NoError(t, err)
	assert.Equal(t, common.FromHex("0x602a60005260206000f3"), code)

	ret, _, err := Call(addr, nil, cfg)
	require.NoError(t, err)
	require.Len(t, ret, 32)
	assert.Equal(t, byte(42), ret[31])
}

func TestGasTableOverrideChangesCost(t *testing.T) {
	code := common.FromHex("0x60005460005260206000f3") // one SLOAD

	base := &Config{GasLimit: 1_000_000, State: state.New()}
	_, baseGasLeft, err := callOnFreshContract(code, base)
	require.NoError(t, err)

	expensive := GasTable(nil)
	expensive.SLoad += 500
	custom := &Config{GasLimit: 1_000_000, State: state.New()}
	custom.EVMConfig.GasTable = &expensive
	_, customGasLeft, err := callOnFreshContract(code, custom)
	require.NoError(t, err)

	assert.Equal(t, uint64(500), baseGasLeft-customGasLeft)
}

func callOnFreshContract(code []byte, cfg *Config) ([]byte, uint64, error) {
	setDefaults(cfg)
	addr := common.BytesToAddress([]byte("contract"))
	cfg.State.CreateAccount(addr)
	cfg.State.SetCode(addr, code)
	cfg.State.CreateAccount(cfg.Origin)
	cfg.State.SetBalance(cfg.Origin, uint256.NewInt(1e18))
	return Call(addr, nil, cfg)
}
