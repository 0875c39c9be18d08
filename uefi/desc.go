// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

import (
	"encoding/binary"
	"errors"
)

func unmarshalBinary(buf []byte, data any) (err error) {
	_, err = binary.Decode(buf, binary.LittleEndian, data)
	return
}

// readStruct decodes a little-endian structure from firmware memory.
func readStruct(mem Memory, addr uint64, data any) (err error) {
	if addr == 0 {
		return errors.New("invalid address")
	}

	buf := make([]byte, binary.Size(data))

	if err = mem.Read(addr, buf); err != nil {
		return
	}

	return unmarshalBinary(buf, data)
}

// readUint64s decodes an array of n little-endian 64-bit values from firmware
// memory.
func readUint64s(mem Memory, addr uint64, n int) (v []uint64, err error) {
	if n == 0 {
		return
	}

	buf := make([]byte, n*8)

	if err = mem.Read(addr, buf); err != nil {
		return
	}

	v = make([]uint64, n)

	for i := range v {
		v[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}

	return
}
