// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

import (
	"errors"
	"fmt"

	"github.com/u-root/u-root/pkg/boot/bzimage"
)

// Advanced Configuration and Power Interface Specification (ACPI)
// Version 6.0 - Table 15-312 Address Range Types12
const AddressRangePersistentMemory = 7

// memory map snapshots are allocated with room for additional descriptors, as
// the allocation itself might split existing entries
const extraDescriptors = 8

// EFI_MEMORY_DESCRIPTOR_VERSION
const MemoryDescriptorVersion = 1

// MemoryDescriptor represents an EFI Memory Descriptor
type MemoryDescriptor struct {
	Type          MemoryType
	_             uint32
	PhysicalStart uint64
	VirtualStart  uint64
	NumberOfPages uint64
	Attribute     uint64
}

// MemoryDescriptorSize is the size of the EFI Memory Descriptor fields known
// to this package, firmware descriptors might be larger.
const MemoryDescriptorSize = 40

// PhysicalEnd returns the descriptor physical end address.
func (d *MemoryDescriptor) PhysicalEnd() uint64 {
	return d.PhysicalStart + d.NumberOfPages*PageSize
}

// Size returns the descriptor size.
func (d *MemoryDescriptor) Size() int {
	return int(d.NumberOfPages * PageSize)
}

// E820 converts an EFI Memory Map entry to an x86 E820 one suitable for use
// after exiting EFI Boot Services.
func (d *MemoryDescriptor) E820() (bzimage.E820Entry, error) {
	e := bzimage.E820Entry{
		Addr: d.PhysicalStart,
		Size: d.NumberOfPages * PageSize,
	}

	// Unified Extensible Firmware Interface (UEFI) Specification
	// Version 2.10 - Table 7.10: Memory Type Usage after ExitBootServices()
	switch d.Type {
	case EfiLoaderCode, EfiLoaderData, EfiBootServicesCode, EfiBootServicesData, EfiConventionalMemory:
		e.MemType = bzimage.RAM
	case EfiPersistentMemory:
		e.MemType = AddressRangePersistentMemory
	case EfiACPIReclaimMemory:
		e.MemType = bzimage.ACPI
	case EfiACPIMemoryNVS:
		e.MemType = bzimage.NVS
	default:
		e.MemType = bzimage.Reserved
	}

	return e, nil
}

// MemoryMap represents an EFI Memory Map
type MemoryMap struct {
	MapSize           uint64
	Descriptors       []*MemoryDescriptor
	MapKey            uint64
	DescriptorSize    uint64
	DescriptorVersion uint32

	// Buffer is the firmware memory address of the raw memory map.
	Buffer uint64
}

// E820 converts the memory map to x86 E820 entries.
func (m *MemoryMap) E820() (entries []bzimage.E820Entry, err error) {
	for _, desc := range m.Descriptors {
		e, err := desc.E820()

		if err != nil {
			return nil, err
		}

		entries = append(entries, e)
	}

	return
}

// decode parses the raw memory map from firmware memory, descriptors are
// read with the firmware descriptor stride.
func (m *MemoryMap) decode(mem Memory) (err error) {
	if m.DescriptorSize < MemoryDescriptorSize {
		return fmt.Errorf("invalid descriptor size %d", m.DescriptorSize)
	}

	buf := make([]byte, m.MapSize)

	if err = mem.Read(m.Buffer, buf); err != nil {
		return
	}

	m.Descriptors = nil

	for i := uint64(0); i+m.DescriptorSize <= m.MapSize; i += m.DescriptorSize {
		d := &MemoryDescriptor{}

		if err = unmarshalBinary(buf[i:i+MemoryDescriptorSize], d); err != nil {
			return
		}

		m.Descriptors = append(m.Descriptors, d)
	}

	return
}

func getMemoryMapSize(bt BootTable) (size uint64, descSize uint64, err error) {
	var key uint64
	var version uint32

	status := bt.GetMemoryMap(&size, 0, &key, &descSize, &version)

	switch status {
	case EFI_BUFFER_TOO_SMALL:
		return
	case EFI_SUCCESS:
		return 0, 0, errors.New("invalid memory map size")
	default:
		return 0, 0, parseStatus(status)
	}
}

// memoryMapBacking represents a pool buffer suitable to hold memory map
// snapshots.
type memoryMapBacking struct {
	memoryType MemoryType
	addr       uint64
	size       uint64
}

func (b *memoryMapBacking) allocate(bt BootTable, size uint64, descSize uint64) (err error) {
	size += extraDescriptors * descSize

	if err = parseStatus(bt.AllocatePool(b.memoryType, size, &b.addr)); err != nil {
		return
	}

	b.size = size

	return
}

func (b *memoryMapBacking) free(bt BootTable) {
	if b.addr != 0 {
		bt.FreePool(b.addr)
	}

	b.addr = 0
	b.size = 0
}

// grow replaces the backing buffer with one large enough for the required
// map size.
func (b *memoryMapBacking) grow(bt BootTable, size uint64, descSize uint64) (err error) {
	b.free(bt)
	return b.allocate(bt, size, descSize)
}

// snapshot fills the backing buffer with the current memory map, on
// EFI_BUFFER_TOO_SMALL the map size holds the required one.
func (b *memoryMapBacking) snapshot(bt BootTable) (m *MemoryMap, status Status) {
	m = &MemoryMap{
		MapSize: b.size,
		Buffer:  b.addr,
	}

	status = bt.GetMemoryMap(&m.MapSize, m.Buffer, &m.MapKey, &m.DescriptorSize, &m.DescriptorVersion)

	return
}

func newMemoryMapBacking(bt BootTable, memoryType MemoryType) (b *memoryMapBacking, err error) {
	size, descSize, err := getMemoryMapSize(bt)

	if err != nil {
		return
	}

	b = &memoryMapBacking{
		memoryType: memoryType,
	}

	err = b.allocate(bt, size, descSize)

	return
}

// MemoryMapSize returns the current memory map size and the firmware
// descriptor size.
func (h *BootHandle) MemoryMapSize() (size uint64, descSize uint64, err error) {
	return getMemoryMapSize(h.table())
}

// GetMemoryMap calls EFI_BOOT_SERVICES.GetMemoryMap() on a pool buffer of the
// argument memory type, which is released before returning.
func (h *BootHandle) GetMemoryMap(memoryType MemoryType) (m *MemoryMap, err error) {
	bt := h.table()

	b, err := newMemoryMapBacking(bt, memoryType)

	if err != nil {
		return
	}

	defer b.free(bt)

	for {
		var status Status

		m, status = b.snapshot(bt)

		switch status {
		case EFI_SUCCESS:
			if err = m.decode(h.memory()); err != nil {
				return nil, err
			}

			m.Buffer = 0

			return
		case EFI_BUFFER_TOO_SMALL:
			if err = b.grow(bt, m.MapSize, m.DescriptorSize); err != nil {
				return nil, err
			}
		default:
			return nil, parseStatus(status)
		}
	}
}

// GetMemoryMap calls EFI_BOOT_SERVICES.GetMemoryMap() with a temporary boot
// handle.
func GetMemoryMap() (*MemoryMap, error) {
	return withBootHandle(func(h *BootHandle) (*MemoryMap, error) {
		return h.GetMemoryMap(EfiLoaderData)
	})
}
