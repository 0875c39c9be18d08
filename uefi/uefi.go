// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package uefi implements resource management for Unified Extensible
// Firmware Interface (UEFI) applications following the specifications at:
//
//	https://uefi.org/specs/UEFI/2.10/
//
// Boot services are reachable only through a reference counted [BootHandle],
// firmware resources (opened protocols, raised task priority levels, pool
// buffers) are wrapped in guards which release them exactly once, and the
// transition to runtime services is performed through
// [Boot.ExitBootServices].
//
// On `GOOS=tamago` (see https://github.com/usbarmory/tamago) firmware tables
// are accessed directly through [Load], on other targets [Init] accepts any
// implementation of the firmware table interfaces, such as the one provided by
// package emu.
package uefi

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"unicode/utf16"
)

// EFI System Table Header Signature
const EFI_SYSTEM_TABLE_SIGNATURE = 0x5453595320494249 // TSYS IBI

// maximum FirmwareVendor string size in bytes
const maxVendorSize = 64

// EFI specification revisions
const (
	EFI_1_10_SYSTEM_TABLE_REVISION = 1<<16 | 10
	EFI_2_00_SYSTEM_TABLE_REVISION = 2<<16 | 00
	EFI_2_10_SYSTEM_TABLE_REVISION = 2<<16 | 100
	EFI_2_70_SYSTEM_TABLE_REVISION = 2<<16 | 70
)

// Handle represents an EFI_HANDLE.
type Handle uint64

// TableHeader represents the data structure that precedes all of the standard
// EFI table types.
type TableHeader struct {
	Signature  uint64
	Revision   uint32
	HeaderSize uint32
	CRC32      uint32
	Reserved   uint32
}

// Major returns the major revision number.
func (h TableHeader) Major() uint32 {
	return h.Revision >> 16
}

// Minor returns the minor revision number.
func (h TableHeader) Minor() uint32 {
	return h.Revision & 0xffff
}

// RevisionString returns the revision in `major.minor` format.
func (h TableHeader) RevisionString() string {
	minor := h.Minor()

	if minor%10 == 0 {
		return fmt.Sprintf("%d.%d", h.Major(), minor/10)
	}

	return fmt.Sprintf("%d.%d.%d", h.Major(), minor/10, minor%10)
}

// SystemTable represents the EFI System Table, containing pointers to the
// runtime and boot services tables.
type SystemTable struct {
	Header               TableHeader
	FirmwareVendor       uint64
	FirmwareRevision     uint32
	_                    uint32
	ConsoleInHandle      uint64
	ConIn                uint64
	ConsoleOutHandle     uint64
	ConOut               uint64
	StandardErrorHandle  uint64
	StdErr               uint64
	RuntimeServices      uint64
	BootServices         uint64
	NumberOfTableEntries uint64
	ConfigurationTable   uint64
}

// Firmware represents the firmware environment handed to the application
// entry point.
type Firmware struct {
	// ImageHandle is the handle of the running image.
	ImageHandle Handle
	// SystemTable is the decoded EFI System Table.
	SystemTable *SystemTable
	// SystemTableAddress is the EFI System Table location, when set the
	// decoded table is reloaded after services which update it.
	SystemTableAddress uint64

	// Boot provides EFI Boot Services.
	Boot BootTable
	// Runtime provides EFI Runtime Services.
	Runtime RuntimeTable
	// Memory provides access to firmware allocated memory.
	Memory Memory
}

// process wide environment
var (
	imageHandle     atomic.Uint64
	systemTable     atomic.Pointer[SystemTable]
	systemTableAddr atomic.Uint64
	bootEnv         atomic.Pointer[Boot]
	runtimeEnv      atomic.Pointer[Runtime]
)

// Init installs the firmware environment, it must be called once, early at
// startup, before any other function of this package.
//
// The function panics if boot handles from a previous environment are still
// outstanding.
func Init(fw *Firmware) (err error) {
	if n := bootHandleCount.Load(); n != 0 {
		panic(fmt.Sprintf("cannot initialize EFI environment with %d live boot handles", n))
	}

	if fw == nil || fw.SystemTable == nil {
		return errors.New("EFI System Table pointer is invalid")
	}

	if fw.SystemTable.Header.Signature != EFI_SYSTEM_TABLE_SIGNATURE {
		return errors.New("EFI System Table signature is invalid")
	}

	if fw.Boot == nil || fw.Runtime == nil || fw.Memory == nil {
		return errors.New("EFI services are unavailable")
	}

	imageHandle.Store(uint64(fw.ImageHandle))
	systemTable.Store(fw.SystemTable)
	systemTableAddr.Store(fw.SystemTableAddress)

	runtimeEnv.Store(nil)
	exitingBoot.Store(false)

	bootEnv.Store(&Boot{
		bt:  fw.Boot,
		rt:  fw.Runtime,
		mem: fw.Memory,
	})

	Log.enable()

	return
}

// ImageHandle returns the handle of the running image.
func ImageHandle() Handle {
	return Handle(imageHandle.Load())
}

// GetSystemTable returns the EFI System Table.
func GetSystemTable() (*SystemTable, error) {
	t := systemTable.Load()

	if t == nil {
		return nil, errors.New("EFI System Table is unavailable")
	}

	return t, nil
}

// BootServicesActive returns whether boot services are still available.
func BootServicesActive() bool {
	return bootEnv.Load() != nil && !exitingBoot.Load()
}

func currentMemory() (Memory, error) {
	if b := bootEnv.Load(); b != nil {
		return b.mem, nil
	}

	if r := runtimeEnv.Load(); r != nil {
		return r.mem, nil
	}

	return nil, errors.New("EFI environment is not initialized")
}

// FirmwareVendor returns the firmware vendor string from the EFI System Table.
func FirmwareVendor() (string, error) {
	var s []uint16

	t, err := GetSystemTable()

	if err != nil {
		return "", err
	}

	mem, err := currentMemory()

	if err != nil {
		return "", err
	}

	buf := make([]byte, maxVendorSize)

	if err = mem.Read(t.FirmwareVendor, buf); err != nil {
		return "", err
	}

	for i := 0; i < len(buf); i += 2 {
		c := binary.LittleEndian.Uint16(buf[i:])

		if c == 0 {
			break
		}

		s = append(s, c)
	}

	return string(utf16.Decode(s)), nil
}
