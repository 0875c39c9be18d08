// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

import (
	"math"
	"sync/atomic"
)

// boot services lifecycle state
var (
	bootHandleCount atomic.Int64
	exitingBoot     atomic.Bool
)

// BootHandle represents a token proving that EFI Boot Services are available.
//
// Handles are counted, boot services cannot be exited while any handle is
// live. A handle must be released exactly once with [BootHandle.Release],
// the same holds for every copy obtained through [BootHandle.Clone].
type BootHandle struct {
	env      *Boot
	released atomic.Bool
}

// AcquireBootHandle returns a new boot handle.
//
// The function panics if boot services are not (or no longer) available.
func AcquireBootHandle() *BootHandle {
	// the counter is incremented before checking for an exit in progress,
	// this way the exit path either sees the new handle or we see its flag
	bootHandleCount.Add(1)

	env := bootEnv.Load()

	if exitingBoot.Load() || env == nil {
		bootHandleCount.Add(-1)
		panic("boot services are not active")
	}

	return &BootHandle{
		env: env,
	}
}

// BootHandleCount returns the number of live boot handles.
func BootHandleCount() int64 {
	return bootHandleCount.Load()
}

// Clone returns an additional handle, which must be released independently.
func (h *BootHandle) Clone() *BootHandle {
	h.check()

	if n := bootHandleCount.Add(1); n > math.MaxInt64/2 {
		bootHandleCount.Add(-1)
		panic("too many boot handles")
	}

	return &BootHandle{
		env: h.env,
	}
}

// Release gives back the handle, the handle must not be used afterwards.
func (h *BootHandle) Release() {
	if !h.released.CompareAndSwap(false, true) {
		panic("boot handle released twice")
	}

	if n := bootHandleCount.Add(-1); n < 0 {
		panic("corrupted boot handle counter")
	}
}

func (h *BootHandle) check() {
	if h == nil || h.released.Load() {
		panic("invalid boot handle use after release")
	}
}

func (h *BootHandle) table() BootTable {
	h.check()
	return h.env.bt
}

func (h *BootHandle) memory() Memory {
	h.check()
	return h.env.mem
}

// Header returns the EFI Boot Services table header.
func (h *BootHandle) Header() TableHeader {
	return h.table().Header()
}

// withBootHandle runs fn with a temporary boot handle.
func withBootHandle[T any](fn func(h *BootHandle) (T, error)) (T, error) {
	h := AcquireBootHandle()
	defer h.Release()

	return fn(h)
}

// bootRef represents a boot handle reference held by a guard, either
// borrowed from the caller or owned (released with the guard).
type bootRef struct {
	h     *BootHandle
	owned bool
}

func (r *bootRef) release() {
	if r.owned {
		r.h.Release()
	}

	r.h = nil
	r.owned = false
}

func (r *bootRef) static() bootRef {
	if r.owned {
		ref := *r
		r.h = nil
		r.owned = false
		return ref
	}

	return bootRef{
		h:     r.h.Clone(),
		owned: true,
	}
}
