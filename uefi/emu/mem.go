// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package emu

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/usbarmory/go-efi/uefi"
)

// EFI_MEMORY_WB
const memoryWB = 0x8

type allocation struct {
	addr       uint64
	pages      uint64
	memoryType uefi.MemoryType
}

func (a *allocation) end() uint64 {
	return a.addr + a.pages*uefi.PageSize
}

// memory represents a flat address space, split in a pool arena and a page
// allocation area.
type memory struct {
	base uint64
	buf  []byte

	poolEnd  uint64
	poolNext uint64
	pool     map[uint64]uint64

	pages []*allocation

	mapKey uint64
}

func (m *memory) init(base uint64, size int) {
	m.base = base
	m.buf = make([]byte, size)

	m.poolNext = base
	m.poolEnd = base + uint64(size/4)&^(uefi.PageSize-1)
	m.pool = make(map[uint64]uint64)

	m.mapKey = 1
}

func (m *memory) end() uint64 {
	return m.base + uint64(len(m.buf))
}

func (m *memory) contains(addr uint64, size int) bool {
	return addr >= m.base && size >= 0 && addr+uint64(size) <= m.end()
}

func (m *memory) write(addr uint64, data []byte) {
	if !m.contains(addr, len(data)) {
		panic(fmt.Sprintf("invalid write at %#x (%d bytes)", addr, len(data)))
	}

	copy(m.buf[addr-m.base:], data)
}

func (m *memory) writeUint64(addr uint64, v uint64) {
	m.write(addr, binary.LittleEndian.AppendUint64(nil, v))
}

// allocatePool returns an 8-byte aligned buffer from the pool arena.
func (m *memory) allocatePool(size uint64) (addr uint64, ok bool) {
	if size == 0 {
		size = 8
	}

	size = (size + 7) &^ 7

	if m.poolNext+size > m.poolEnd {
		return 0, false
	}

	addr = m.poolNext
	m.poolNext += size

	return addr, true
}

// firstFit returns the lowest page aligned address, within the page
// allocation area, which can hold the argument number of pages below max.
func (m *memory) firstFit(pages uint64, max uint64) (addr uint64, ok bool) {
	addr = m.poolEnd

	for _, a := range m.pages {
		if addr+pages*uefi.PageSize <= a.addr {
			break
		}

		if a.end() > addr {
			addr = a.end()
		}
	}

	end := addr + pages*uefi.PageSize

	if end > m.end() || end-1 > max {
		return 0, false
	}

	return addr, true
}

func (m *memory) overlaps(addr uint64, pages uint64) bool {
	end := addr + pages*uefi.PageSize

	for _, a := range m.pages {
		if addr < a.end() && a.addr < end {
			return true
		}
	}

	return false
}

func (m *memory) insertPages(a *allocation) {
	m.pages = append(m.pages, a)

	sort.Slice(m.pages, func(i, j int) bool {
		return m.pages[i].addr < m.pages[j].addr
	})

	m.mapKey++
}

// descriptors returns the current memory map.
func (m *memory) descriptors() (d []uefi.MemoryDescriptor) {
	d = append(d, uefi.MemoryDescriptor{
		Type:          uefi.EfiBootServicesData,
		PhysicalStart: m.base,
		NumberOfPages: (m.poolEnd - m.base) / uefi.PageSize,
		Attribute:     memoryWB,
	})

	addr := m.poolEnd

	for _, a := range m.pages {
		if a.addr > addr {
			d = append(d, uefi.MemoryDescriptor{
				Type:          uefi.EfiConventionalMemory,
				PhysicalStart: addr,
				NumberOfPages: (a.addr - addr) / uefi.PageSize,
				Attribute:     memoryWB,
			})
		}

		d = append(d, uefi.MemoryDescriptor{
			Type:          a.memoryType,
			PhysicalStart: a.addr,
			NumberOfPages: a.pages,
			Attribute:     memoryWB,
		})

		addr = a.end()
	}

	if end := m.end() &^ (uefi.PageSize - 1); end > addr {
		d = append(d, uefi.MemoryDescriptor{
			Type:          uefi.EfiConventionalMemory,
			PhysicalStart: addr,
			NumberOfPages: (end - addr) / uefi.PageSize,
			Attribute:     memoryWB,
		})
	}

	return
}

func encodeDescriptor(d uefi.MemoryDescriptor) []byte {
	buf := make([]byte, DescriptorSize)

	binary.LittleEndian.PutUint32(buf[0:], uint32(d.Type))
	binary.LittleEndian.PutUint64(buf[8:], d.PhysicalStart)
	binary.LittleEndian.PutUint64(buf[16:], d.VirtualStart)
	binary.LittleEndian.PutUint64(buf[24:], d.NumberOfPages)
	binary.LittleEndian.PutUint64(buf[32:], d.Attribute)

	return buf
}

func appendUint64(buf []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(buf, v)
}

// Read implements [uefi.Memory].
func (f *Firmware) Read(addr uint64, buf []byte) error {
	f.Lock()
	defer f.Unlock()

	if !f.contains(addr, len(buf)) {
		return fmt.Errorf("invalid address %#x (%d bytes)", addr, len(buf))
	}

	copy(buf, f.buf[addr-f.base:])

	return nil
}

// Write stores data in the emulated address space.
func (f *Firmware) Write(addr uint64, data []byte) error {
	f.Lock()
	defer f.Unlock()

	if !f.contains(addr, len(data)) {
		return fmt.Errorf("invalid address %#x (%d bytes)", addr, len(data))
	}

	f.write(addr, data)

	return nil
}

// allocateInternal returns a zeroed pool buffer which is not accounted as a
// caller allocation.
func (f *Firmware) allocateInternal(size int) uint64 {
	addr, ok := f.allocatePool(uint64(size))

	if !ok {
		panic("emulated pool exhausted")
	}

	return addr
}

// OutstandingPool returns the number of pool buffers, allocated on behalf of
// the caller, which have not been freed.
func (f *Firmware) OutstandingPool() int {
	f.Lock()
	defer f.Unlock()

	return len(f.pool)
}

// MapKey returns the current memory map key.
func (f *Firmware) MapKey() uint64 {
	f.Lock()
	defer f.Unlock()

	return f.mapKey
}

func validMemoryType(t uefi.MemoryType) bool {
	return t < uefi.EfiMaxMemoryType || t >= 0x70000000
}

// AllocatePages implements [uefi.BootTable].
func (s *BootServices) AllocatePages(allocateType uefi.AllocateType, memoryType uefi.MemoryType, pages uint64, addr *uint64) uefi.Status {
	var ok bool
	var start uint64

	s.Lock()
	defer s.Unlock()

	s.enter("AllocatePages")

	if addr == nil || pages == 0 || !validMemoryType(memoryType) {
		return uefi.EFI_INVALID_PARAMETER
	}

	switch allocateType {
	case uefi.AllocateAnyPages:
		start, ok = s.firstFit(pages, ^uint64(0))
	case uefi.AllocateMaxAddress:
		start, ok = s.firstFit(pages, *addr)
	case uefi.AllocateAddress:
		start = *addr

		if start%uefi.PageSize != 0 {
			return uefi.EFI_INVALID_PARAMETER
		}

		ok = start >= s.poolEnd && start+pages*uefi.PageSize <= s.end() && !s.overlaps(start, pages)

		if !ok {
			return uefi.EFI_NOT_FOUND
		}
	default:
		return uefi.EFI_INVALID_PARAMETER
	}

	if !ok {
		return uefi.EFI_OUT_OF_RESOURCES
	}

	s.insertPages(&allocation{
		addr:       start,
		pages:      pages,
		memoryType: memoryType,
	})

	*addr = start

	return uefi.EFI_SUCCESS
}

// FreePages implements [uefi.BootTable].
func (s *BootServices) FreePages(addr uint64, pages uint64) uefi.Status {
	s.Lock()
	defer s.Unlock()

	s.enter("FreePages")

	for i, a := range s.pages {
		if a.addr != addr {
			continue
		}

		if a.pages != pages {
			return uefi.EFI_INVALID_PARAMETER
		}

		s.pages = append(s.pages[:i], s.pages[i+1:]...)
		s.mapKey++

		return uefi.EFI_SUCCESS
	}

	return uefi.EFI_NOT_FOUND
}

// GetMemoryMap implements [uefi.BootTable].
func (s *BootServices) GetMemoryMap(size *uint64, buf uint64, key *uint64, descSize *uint64, descVersion *uint32) uefi.Status {
	s.Lock()
	defer s.Unlock()

	s.enter("GetMemoryMap")

	if size == nil || key == nil || descSize == nil || descVersion == nil {
		return uefi.EFI_INVALID_PARAMETER
	}

	d := s.descriptors()
	required := uint64(len(d) * DescriptorSize)

	*descSize = DescriptorSize
	*descVersion = uefi.MemoryDescriptorVersion

	if *size < required {
		*size = required
		return uefi.EFI_BUFFER_TOO_SMALL
	}

	if !s.contains(buf, int(required)) {
		return uefi.EFI_INVALID_PARAMETER
	}

	for i, desc := range d {
		s.write(buf+uint64(i*DescriptorSize), encodeDescriptor(desc))
	}

	*size = required
	*key = s.mapKey

	if s.mapInvalidations > 0 {
		s.mapInvalidations--
		s.mapKey++
	}

	return uefi.EFI_SUCCESS
}

// AllocatePool implements [uefi.BootTable].
func (s *BootServices) AllocatePool(memoryType uefi.MemoryType, size uint64, addr *uint64) uefi.Status {
	s.Lock()
	defer s.Unlock()

	s.enter("AllocatePool")

	if addr == nil || !validMemoryType(memoryType) {
		return uefi.EFI_INVALID_PARAMETER
	}

	p, ok := s.allocatePool(size)

	if !ok {
		return uefi.EFI_OUT_OF_RESOURCES
	}

	s.pool[p] = size
	s.mapKey++
	*addr = p

	return uefi.EFI_SUCCESS
}

// FreePool implements [uefi.BootTable].
func (s *BootServices) FreePool(addr uint64) uefi.Status {
	s.Lock()
	defer s.Unlock()

	s.enter("FreePool")

	if _, ok := s.pool[addr]; !ok {
		return uefi.EFI_INVALID_PARAMETER
	}

	delete(s.pool, addr)
	s.mapKey++

	return uefi.EFI_SUCCESS
}

// poolCopy allocates a caller owned pool buffer holding data, it must be
// called with the lock held.
func (f *Firmware) poolCopy(data []byte) (addr uint64, ok bool) {
	if addr, ok = f.allocatePool(uint64(len(data))); !ok {
		return
	}

	f.write(addr, data)
	f.pool[addr] = uint64(len(data))
	f.mapKey++

	return
}
