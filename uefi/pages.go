// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

// AllocateType represents an EFI_ALLOCATE_TYPE.
type AllocateType uint32

// EFI_ALLOCATE_TYPE
const (
	AllocateAnyPages AllocateType = iota
	AllocateMaxAddress
	AllocateAddress
	MaxAllocateType
)

// MemoryType represents an EFI_MEMORY_TYPE.
type MemoryType uint32

// EFI_MEMORY_TYPE
const (
	EfiReservedMemoryType MemoryType = iota
	EfiLoaderCode
	EfiLoaderData
	EfiBootServicesCode
	EfiBootServicesData
	EfiRuntimeServicesCode
	EfiRuntimeServicesData
	EfiConventionalMemory
	EfiUnusableMemory
	EfiACPIReclaimMemory
	EfiACPIMemoryNVS
	EfiMemoryMappedIO
	EfiMemoryMappedIOPortSpace
	EfiPalCode
	EfiPersistentMemory
	EfiUnacceptedMemoryType
	EfiMaxMemoryType
)

var memoryTypeNames = []string{
	"Reserved",
	"LoaderCode",
	"LoaderData",
	"BootServicesCode",
	"BootServicesData",
	"RuntimeServicesCode",
	"RuntimeServicesData",
	"Conventional",
	"Unusable",
	"ACPIReclaim",
	"ACPIMemoryNVS",
	"MemoryMappedIO",
	"MemoryMappedIOPortSpace",
	"PalCode",
	"Persistent",
	"Unaccepted",
}

func (t MemoryType) String() string {
	if int(t) < len(memoryTypeNames) {
		return memoryTypeNames[t]
	}

	return "OEM/OSV"
}

// PageSize represents the EFI page size in bytes
const PageSize = 4096 // 4 KiB

func pages(size int) uint64 {
	return (uint64(size) + PageSize - 1) / PageSize
}

// AllocatePages calls EFI_BOOT_SERVICES.AllocatePages(), the physical address
// argument is only relevant for AllocateMaxAddress and AllocateAddress
// allocation types.
func (h *BootHandle) AllocatePages(allocateType AllocateType, memoryType MemoryType, size int, physicalAddress uint64) (addr uint64, err error) {
	addr = physicalAddress
	status := h.table().AllocatePages(allocateType, memoryType, pages(size), &addr)

	if err = parseStatus(status); err != nil {
		return 0, err
	}

	return
}

// FreePages calls EFI_BOOT_SERVICES.FreePages().
func (h *BootHandle) FreePages(physicalAddress uint64, size int) error {
	return parseStatus(h.table().FreePages(physicalAddress, pages(size)))
}

// AllocatePool calls EFI_BOOT_SERVICES.AllocatePool().
func (h *BootHandle) AllocatePool(memoryType MemoryType, size int) (addr uint64, err error) {
	status := h.table().AllocatePool(memoryType, uint64(size), &addr)

	if err = parseStatus(status); err != nil {
		return 0, err
	}

	return
}

// FreePool calls EFI_BOOT_SERVICES.FreePool().
func (h *BootHandle) FreePool(addr uint64) error {
	return parseStatus(h.table().FreePool(addr))
}
