// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago

package uefi

import (
	"errors"

	"github.com/usbarmory/tamago/dma"
)

const align = 8

// dmaMemory implements [Memory] over physical memory, which is identity
// mapped while running as an EFI application.
type dmaMemory struct{}

func (dmaMemory) Read(addr uint64, buf []byte) (err error) {
	if addr == 0 {
		return errors.New("invalid address")
	}

	n := len(buf) + (len(buf) % align)

	r, err := dma.NewRegion(uint(addr), n, true)

	if err != nil {
		return
	}

	ptr, b := r.Reserve(len(buf), 0)
	defer r.Release(ptr)

	copy(buf, b)

	return
}

// Load decodes the firmware tables passed to the image entry point and
// returns the corresponding firmware environment, to be installed with
// [Init].
func Load(imageHandle uint64, systemTable uint64) (fw *Firmware, err error) {
	mem := dmaMemory{}
	t := &SystemTable{}

	if err = readStruct(mem, systemTable, t); err != nil {
		return
	}

	if t.Header.Signature != EFI_SYSTEM_TABLE_SIGNATURE {
		return nil, errors.New("EFI System Table pointer is invalid")
	}

	bs := &BootServices{base: t.BootServices}

	if err = readStruct(mem, t.BootServices, &bs.header); err != nil {
		return
	}

	rs := &RuntimeServices{base: t.RuntimeServices}

	if err = readStruct(mem, t.RuntimeServices, &rs.header); err != nil {
		return
	}

	fw = &Firmware{
		ImageHandle:        Handle(imageHandle),
		SystemTable:        t,
		SystemTableAddress: systemTable,
		Boot:               bs,
		Runtime:            rs,
		Memory:             mem,
	}

	return
}
