// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/u-root/u-root/pkg/boot/bzimage"

	"github.com/usbarmory/go-efi/uefi"
	"github.com/usbarmory/go-efi/uefi/emu"
)

func totalSize(m *uefi.MemoryMap) (size int) {
	for _, d := range m.Descriptors {
		size += d.Size()
	}

	return
}

func TestGetMemoryMap(t *testing.T) {
	fw := setup(t)

	m, err := uefi.GetMemoryMap()
	require.NoError(t, err)

	assert.EqualValues(t, emu.DescriptorSize, m.DescriptorSize)
	assert.EqualValues(t, uefi.MemoryDescriptorVersion, m.DescriptorVersion)
	assert.Zero(t, m.Buffer)

	require.NotEmpty(t, m.Descriptors)
	assert.Equal(t, uefi.EfiBootServicesData, m.Descriptors[0].Type)
	assert.EqualValues(t, emu.DefaultBase, m.Descriptors[0].PhysicalStart)
	assert.Equal(t, emu.DefaultMemorySize, totalSize(m))

	// descriptors are contiguous
	for i := 1; i < len(m.Descriptors); i++ {
		assert.Equal(t, m.Descriptors[i-1].PhysicalEnd(), m.Descriptors[i].PhysicalStart)
	}

	assert.Zero(t, fw.OutstandingPool())
}

func TestAllocatePages(t *testing.T) {
	fw := setup(t)

	h := uefi.AcquireBootHandle()
	defer h.Release()

	key := fw.MapKey()

	addr, err := h.AllocatePages(uefi.AllocateAnyPages, uefi.EfiLoaderData, 3*uefi.PageSize+1, 0)
	require.NoError(t, err)
	assert.Zero(t, addr%uefi.PageSize)
	assert.NotEqual(t, key, fw.MapKey())

	m, err := h.GetMemoryMap(uefi.EfiLoaderData)
	require.NoError(t, err)

	var found *uefi.MemoryDescriptor

	for _, d := range m.Descriptors {
		if d.PhysicalStart == addr {
			found = d
		}
	}

	require.NotNil(t, found)
	assert.Equal(t, uefi.EfiLoaderData, found.Type)
	assert.EqualValues(t, 4, found.NumberOfPages)

	_, err = h.AllocatePages(uefi.AllocateAddress, uefi.EfiLoaderData, uefi.PageSize, addr)
	require.ErrorIs(t, err, uefi.ErrNotFound)

	require.NoError(t, h.FreePages(addr, 3*uefi.PageSize+1))
	require.ErrorIs(t, h.FreePages(addr, uefi.PageSize), uefi.ErrNotFound)

	fixed, err := h.AllocatePages(uefi.AllocateAddress, uefi.EfiLoaderCode, uefi.PageSize, addr)
	require.NoError(t, err)
	assert.Equal(t, addr, fixed)
	require.NoError(t, h.FreePages(fixed, uefi.PageSize))

	_, err = h.AllocatePages(uefi.AllocateAnyPages, uefi.EfiLoaderData, 2*emu.DefaultMemorySize, 0)
	require.ErrorIs(t, err, uefi.ErrOutOfResources)
}

func TestAllocatePool(t *testing.T) {
	fw := setup(t)

	h := uefi.AcquireBootHandle()
	defer h.Release()

	addr, err := h.AllocatePool(uefi.EfiLoaderData, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, fw.OutstandingPool())

	require.NoError(t, h.FreePool(addr))
	require.ErrorIs(t, h.FreePool(addr), uefi.ErrInvalidParameter)
	assert.Zero(t, fw.OutstandingPool())
}

func TestMemoryMapE820(t *testing.T) {
	m := &uefi.MemoryMap{
		Descriptors: []*uefi.MemoryDescriptor{
			{Type: uefi.EfiConventionalMemory, PhysicalStart: 0x100000, NumberOfPages: 16},
			{Type: uefi.EfiACPIReclaimMemory, PhysicalStart: 0x110000, NumberOfPages: 1},
			{Type: uefi.EfiRuntimeServicesData, PhysicalStart: 0x111000, NumberOfPages: 2},
		},
	}

	entries, err := m.E820()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, bzimage.E820Entry{Addr: 0x100000, Size: 0x10000, MemType: bzimage.RAM}, entries[0])
	assert.Equal(t, bzimage.ACPI, entries[1].MemType)
	assert.Equal(t, bzimage.Reserved, entries[2].MemType)
}

func TestMemoryTypeString(t *testing.T) {
	assert.Equal(t, "LoaderData", uefi.EfiLoaderData.String())
	assert.Equal(t, "OEM/OSV", uefi.MemoryType(0x80000000).String())
}
