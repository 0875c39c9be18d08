// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

import (
	"sync"
	"unsafe"
)

var mux sync.Mutex

// callService calls an EFI service through its function pointer address,
// firmware services are not reentrant, therefore calls are serialized.
func callService(fn uint64, args []uint64) (status Status) {
	mux.Lock()
	defer mux.Unlock()

	return Status(callFn(fn, len(args), args))
}

// This function helps preparing callService arguments, allowing a single call
// for all EFI services.
//
// Obtaining a pointer in this fashion is typically unsafe and tamago/dma
// package would be best to handle this. However, as arguments are prepared
// right before invoking Go assembly, it is considered safe as it is identical
// as having *uint64 as callService prototype.
func ptrval(ptr any) uint64 {
	var p unsafe.Pointer

	switch v := ptr.(type) {
	case *uint64:
		p = unsafe.Pointer(v)
	case *uint32:
		p = unsafe.Pointer(v)
	case *uint16:
		p = unsafe.Pointer(v)
	case *byte:
		p = unsafe.Pointer(v)
	case *GUID:
		p = unsafe.Pointer(v)
	case *Handle:
		p = unsafe.Pointer(v)
	case *Event:
		p = unsafe.Pointer(v)
	case *InputKey:
		p = unsafe.Pointer(v)
	default:
		panic("internal error, invalid ptrval")
	}

	return uint64(uintptr(p))
}
