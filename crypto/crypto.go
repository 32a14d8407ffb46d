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

// Package crypto implements the hashing primitives used by the VM.
package crypto

import (
	"hash"
	"sync"

	"github.com/evmts/guillotine-go/common"
	"golang.org/x/crypto/sha3"
)

// KeccakState wraps sha3.state. In addition to the usual hash methods, it also
// supports Read to get a variable amount of data from the hash state. Read is
// faster than Sum because it doesn't copy the internal state, but also modifies
// the internal state.
type KeccakState interface {
	hash.Hash
	Read([]byte) (int, error)
}

// NewKeccakState creates a new KeccakState.
func NewKeccakState() KeccakState {
	return sha3.NewLegacyKeccak256().(KeccakState)
}

var keccakPool = sync.Pool{
	New: func() interface{} { return NewKeccakState() },
}

// HashData hashes the provided data using the KeccakState and returns a 32 byte hash.
func HashData(kh KeccakState, data []byte) (h common.Hash) {
	kh.Reset()
	kh.Write(data)
	kh.Read(h[:])
	return h
}

// Keccak256 calculates and returns the Keccak256 hash of the input data.
func Keccak256(data ...[]byte) []byte {
	b := make([]byte, 32)
	d := keccakPool.Get().(KeccakState)
	defer keccakPool.Put(d)
	d.Reset()
	for _, b := range data {
		d.Write(b)
	}
	d.Read(b)
	return b
}

// Keccak256Hash calculates and returns the Keccak256 hash of the input data,
// converting it to an internal Hash data structure.
func Keccak256Hash(data ...[]byte) (h common.Hash) {
	d := keccakPool.Get().(KeccakState)
	defer keccakPool.Put(d)
	d.Reset()
	for _, b := range data {
		d.Write(b)
	}
	d.Read(h[:])
	return h
}

// CreateAddress creates an ethereum address given the bytes and the nonce.
// The address is the last 20 bytes of keccak256(rlp([sender, nonce])).
func CreateAddress(b common.Address, nonce uint64) common.Address {
	data := rlpAddressNonce(b, nonce)
	return common.BytesToAddress(Keccak256(data)[12:])
}

// CreateAddress2 creates an ethereum address given the address bytes, initial
// contract code hash and a salt.
func CreateAddress2(b common.Address, salt [32]byte, inithash []byte) common.Address {
	return common.BytesToAddress(Keccak256([]byte{0xff}, b.Bytes(), salt[:], inithash)[12:])
}

// rlpAddressNonce encodes the two element list [address, nonce]. The address
// is a fixed 20 byte string and the nonce a canonical RLP integer, which keeps
// the encoder tiny compared to a generic RLP implementation.
func rlpAddressNonce(addr common.Address, nonce uint64) []byte {
	nonceBytes := rlpUint(nonce)
	payloadLen := 1 + common.AddressLength + len(nonceBytes)
	out := make([]byte, 0, payloadLen+1)
	out = append(out, 0xc0+byte(payloadLen))
	out = append(out, 0x80+common.AddressLength)
	out = append(out, addr.Bytes()...)
	out = append(out, nonceBytes...)
	return out
}

// rlpUint encodes a uint64 in canonical RLP form: single bytes below 0x80
// encode as themselves, everything else as a length-prefixed big-endian string
// with no leading zeros.
func rlpUint(i uint64) []byte {
	switch {
	case i == 0:
		return []byte{0x80}
	case i < 0x80:
		return []byte{byte(i)}
	default:
		var buf [8]byte
		n := 0
		for v := i; v > 0; v >>= 8 {
			n++
		}
		for j := 0; j < n; j++ {
			buf[n-1-j] = byte(i >> (8 * uint(j)))
		}
		out := make([]byte, 0, n+1)
		out = append(out, 0x80+byte(n))
		out = append(out, buf[:n]...)
		return out
	}
}
