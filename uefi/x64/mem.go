// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && amd64

package x64

import (
	"fmt"
	"runtime"
	_ "unsafe"

	"github.com/usbarmory/go-efi/uefi"
)

//go:linkname RamSize runtime/goos.RamSize
var RamSize uint64 = 0x2c000000 // 704MB

// allocateHeap reserves, in the EFI memory map, the runtime heap which
// follows the loaded image.
func allocateHeap() {
	h := uefi.AcquireBootHandle()
	defer h.Release()

	memoryMap, err := h.GetMemoryMap(uefi.EfiLoaderData)

	if err != nil {
		fmt.Printf("WARNING: could not get memory map, %v\n", err)
		return
	}

	heapStart := uint64(0)
	ramStart, ramEnd := runtime.MemRegion()

	// locate runtime heap offset within UEFI memory allocation
	for _, desc := range memoryMap.Descriptors {
		if desc.Type == uefi.EfiLoaderCode && desc.PhysicalStart == ramStart {
			heapStart = desc.PhysicalEnd()
			break
		}
	}

	if heapStart == 0 {
		fmt.Println("WARNING: could not find heap offset")
		return
	}

	if _, err := h.AllocatePages(
		uefi.AllocateAddress,
		uefi.EfiLoaderData,
		int(ramEnd-heapStart),
		heapStart,
	); err != nil {
		fmt.Printf("WARNING: could not allocate heap at %x, %v\n", heapStart, err)
	}
}
