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

// Package types holds the data types shared between the VM and its hosts.
package types

import (
	"github.com/evmts/guillotine-go/common"
)

// Log represents a contract log event emitted by the LOG* instructions and
// recorded by the host.
type Log struct {
	// Address of the contract that generated the event.
	Address common.Address
	// Topics provided by the contract, at most four.
	Topics []common.Hash
	// Data is the abi-encoded payload, free form.
	Data []byte
}

// Copy returns a deep copy of the log.
func (l *Log) Copy() *Log {
	cpy := &Log{
		Address: l.Address,
		Topics:  make([]common.Hash, len(l.Topics)),
		Data:    common.CopyBytes(l.Data),
	}
	copy(cpy.Topics, l.Topics)
	return cpy
}
