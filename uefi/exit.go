// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
)

// number of memory map snapshots attempted before giving up on exiting boot
// services, the map key might be invalidated by firmware events in between
const exitAttempts = 2

// Boot represents the EFI System Table view while boot services are
// available.
type Boot struct {
	bt  BootTable
	rt  RuntimeTable
	mem Memory

	consumed atomic.Bool
}

// Runtime represents the EFI System Table view after boot services have been
// exited.
type Runtime struct {
	rt  RuntimeTable
	mem Memory
	st  *SystemTable
}

var (
	exitHooksMutex sync.Mutex
	exitHooks      []func()
)

// OnExitBootServices registers a function invoked right before boot services
// are exited, hooks run in registration order and must release any boot
// handle (or guard) they are responsible for.
func OnExitBootServices(fn func()) {
	exitHooksMutex.Lock()
	defer exitHooksMutex.Unlock()

	exitHooks = append(exitHooks, fn)
}

func runExitHooks() {
	exitHooksMutex.Lock()
	defer exitHooksMutex.Unlock()

	for _, fn := range exitHooks {
		fn()
	}
}

// SystemTableBoot returns the boot services view of the system table.
func SystemTableBoot() (*Boot, error) {
	b := bootEnv.Load()

	if b == nil || exitingBoot.Load() {
		return nil, errors.New("EFI Boot Services unavailable")
	}

	return b, nil
}

// SystemTableRuntime returns the runtime services view of the system table,
// which is only available after boot services have been exited.
func SystemTableRuntime() (*Runtime, error) {
	r := runtimeEnv.Load()

	if r == nil {
		return nil, errors.New("EFI Boot Services are still active")
	}

	return r, nil
}

// ExitBootServices calls EFI_BOOT_SERVICES.ExitBootServices() and returns the
// runtime view of the system table along with the final memory map, stored
// in a pool buffer of the argument memory type.
//
// Exit hooks are invoked first, boot services can no longer be used once they
// return and the package log output is disabled.
//
// The function panics if any boot handle is live. If boot services cannot be
// exited the platform is reset, as its state is unknown.
func (b *Boot) ExitBootServices(memoryType MemoryType) (*Runtime, *MemoryMap) {
	if !b.consumed.CompareAndSwap(false, true) {
		panic("boot services already exited")
	}

	log.Printf("exiting EFI boot services")

	// hooks release the boot handles held by long lived guards
	runExitHooks()

	exitingBoot.Store(true)

	if n := bootHandleCount.Load(); n != 0 {
		exitingBoot.Store(false)
		b.consumed.Store(false)
		panic(fmt.Sprintf("cannot exit boot services with %d live boot handles", n))
	}

	Log.disable()

	backing, err := newMemoryMapBacking(b.bt, memoryType)

	if err != nil {
		panic(fmt.Sprintf("could not allocate memory map, %v", err))
	}

	status := EFI_ABORTED

	for i := 0; i < exitAttempts; i++ {
		m, s := backing.snapshot(b.bt)

		switch s {
		case EFI_SUCCESS:
			s = b.bt.ExitBootServices(ImageHandle(), m.MapKey)
		case EFI_BUFFER_TOO_SMALL:
			if err := backing.grow(b.bt, m.MapSize, m.DescriptorSize); err != nil {
				s = StatusOf(err)
			}
		}

		if s == EFI_SUCCESS {
			return b.handOff(m)
		}

		status = s
	}

	b.rt.ResetSystem(EfiResetCold, status)

	panic(fmt.Sprintf("could not exit boot services (%v), reset failed", status))
}

func (b *Boot) handOff(m *MemoryMap) (*Runtime, *MemoryMap) {
	r := &Runtime{
		rt:  b.rt,
		mem: b.mem,
		st:  systemTable.Load(),
	}

	bootEnv.Store(nil)
	runtimeEnv.Store(r)

	if err := m.decode(b.mem); err != nil {
		// the map is still valid at m.Buffer
		m.Descriptors = nil
	}

	return r, m
}

// ExitBootServices exits boot services on the current boot view, see
// [Boot.ExitBootServices].
func ExitBootServices(memoryType MemoryType) (*Runtime, *MemoryMap, error) {
	b, err := SystemTableBoot()

	if err != nil {
		return nil, nil, err
	}

	r, m := b.ExitBootServices(memoryType)

	return r, m, nil
}

// Header returns the EFI Runtime Services table header.
func (r *Runtime) Header() TableHeader {
	return r.rt.Header()
}

// SystemTable returns the EFI System Table.
func (r *Runtime) SystemTable() *SystemTable {
	return r.st
}

// ResetSystem calls EFI_RUNTIME_SERVICES.ResetSystem(), it only returns on
// failure.
func (r *Runtime) ResetSystem(resetType ResetType, status Status) error {
	return parseStatus(r.rt.ResetSystem(resetType, status))
}

// ConfigurationTables returns the EFI Configuration Tables.
func (r *Runtime) ConfigurationTables() ([]*ConfigurationTable, error) {
	return configurationTables(r.mem, r.st)
}
