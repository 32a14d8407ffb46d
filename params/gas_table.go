// Copyright 2017 The go-ethereum Authors
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

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// GasTable organizes gas prices for different phases of the classic schedule.
// The interpreter builds its jump table from one of these, so embedders can
// tune the schedule without touching the instruction set.
type GasTable struct {
	ExtcodeSize uint64 `yaml:"extcodeSize"`
	ExtcodeCopy uint64 `yaml:"extcodeCopy"`
	ExtcodeHash uint64 `yaml:"extcodeHash"`
	Balance     uint64 `yaml:"balance"`
	SLoad       uint64 `yaml:"sload"`
	Calls       uint64 `yaml:"calls"`
	Suicide     uint64 `yaml:"suicide"`
	ExpByte     uint64 `yaml:"expByte"`

	// CreateBySuicide occurs when the beneficiary account of a SELFDESTRUCT
	// does not exist. This logic is similar to call. Zero means not charged.
	CreateBySuicide uint64 `yaml:"createBySuicide"`
}

var (
	// GasTableHomestead contains the gas prices for the homestead phase.
	GasTableHomestead = GasTable{
		ExtcodeSize: 20,
		ExtcodeCopy: 20,
		ExtcodeHash: 20,
		Balance:     20,
		SLoad:       50,
		Calls:       40,
		Suicide:     0,
		ExpByte:     10,
	}

	// GasTableEIP150 contains the gas re-prices introduced by the EIP-150
	// anti-DoS hard fork.
	GasTableEIP150 = GasTable{
		ExtcodeSize: 700,
		ExtcodeCopy: 700,
		ExtcodeHash: 400,
		Balance:     400,
		SLoad:       200,
		Calls:       700,
		Suicide:     5000,
		ExpByte:     10,

		CreateBySuicide: 25000,
	}

	// GasTableEIP158 additionally raises the EXP byte price.
	GasTableEIP158 = GasTable{
		ExtcodeSize: 700,
		ExtcodeCopy: 700,
		ExtcodeHash: 400,
		Balance:     400,
		SLoad:       200,
		Calls:       700,
		Suicide:     5000,
		ExpByte:     50,

		CreateBySuicide: 25000,
	}
)

// DefaultGasTable is the schedule used when the caller does not supply one.
func DefaultGasTable() GasTable {
	return GasTableEIP158
}

// LoadGasTable reads a YAML gas schedule override from path. Fields absent
// from the file keep their default value, so a partial override is valid.
func LoadGasTable(path string) (GasTable, error) {
	gt := DefaultGasTable()
	data, err := os.ReadFile(path)
	if err != nil {
		return gt, errors.Wrapf(err, "read gas table %s", path)
	}
	if err := yaml.Unmarshal(data, &gt); err != nil {
		return gt, errors.Wrapf(err, "parse gas table %s", path)
	}
	return gt, nil
}
