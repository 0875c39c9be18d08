// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// OpenProtocolAttributes represents EFI_BOOT_SERVICES.OpenProtocol() attributes.
type OpenProtocolAttributes uint32

// EFI_OPEN_PROTOCOL attributes
const (
	EFI_OPEN_PROTOCOL_BY_HANDLE_PROTOCOL  OpenProtocolAttributes = 0x01
	EFI_OPEN_PROTOCOL_GET_PROTOCOL        OpenProtocolAttributes = 0x02
	EFI_OPEN_PROTOCOL_TEST_PROTOCOL       OpenProtocolAttributes = 0x04
	EFI_OPEN_PROTOCOL_BY_CHILD_CONTROLLER OpenProtocolAttributes = 0x08
	EFI_OPEN_PROTOCOL_BY_DRIVER           OpenProtocolAttributes = 0x10
	EFI_OPEN_PROTOCOL_EXCLUSIVE           OpenProtocolAttributes = 0x20
)

// ErrProtocolClosed is returned by protocol instances used after their
// protocol has been closed.
var ErrProtocolClosed = errors.New("protocol closed")

// OpenProtocolParams represents the handles involved in opening a protocol,
// the same values are used when the protocol is closed.
type OpenProtocolParams struct {
	// Handle is the handle exposing the protocol.
	Handle Handle
	// Agent is the handle of the image opening the protocol.
	Agent Handle
	// Controller is the controller handle for drivers, zero otherwise.
	Controller Handle
}

// ScopedProtocol represents an opened protocol interface, which must be
// closed with [ScopedProtocol.Close].
type ScopedProtocol struct {
	ref    bootRef
	guid   GUID
	iface  uint64
	params OpenProtocolParams
	closed atomic.Bool
}

// OpenProtocol calls EFI_BOOT_SERVICES.OpenProtocol(), the returned guard
// borrows the boot handle.
//
// EFI_OPEN_PROTOCOL_TEST_PROTOCOL is not a valid attribute, use
// [BootHandle.TestProtocol] instead.
func (h *BootHandle) OpenProtocol(params OpenProtocolParams, guid GUID, attributes OpenProtocolAttributes) (p *ScopedProtocol, err error) {
	var iface uint64

	if attributes&EFI_OPEN_PROTOCOL_TEST_PROTOCOL != 0 {
		return nil, EFI_INVALID_PARAMETER.ErrData("test attribute")
	}

	status := h.table().OpenProtocol(params.Handle, &guid, &iface, params.Agent, params.Controller, attributes)

	if err = parseStatus(status); err != nil {
		return
	}

	p = &ScopedProtocol{
		ref:    bootRef{h: h},
		guid:   guid,
		iface:  iface,
		params: params,
	}

	return
}

// OpenProtocolExclusive opens a protocol on a handle with exclusive access on
// behalf of the running image, drivers using it are disconnected.
func (h *BootHandle) OpenProtocolExclusive(handle Handle, guid GUID) (*ScopedProtocol, error) {
	params := OpenProtocolParams{
		Handle: handle,
		Agent:  ImageHandle(),
	}

	return h.OpenProtocol(params, guid, EFI_OPEN_PROTOCOL_EXCLUSIVE)
}

// OpenProtocolExclusive opens a protocol on a handle with exclusive access,
// the returned guard owns its boot handle.
func OpenProtocolExclusive(handle Handle, guid GUID) (p *ScopedProtocol, err error) {
	h := AcquireBootHandle()

	if p, err = h.OpenProtocolExclusive(handle, guid); err != nil {
		h.Release()
		return
	}

	p.ref.owned = true

	return
}

// TestProtocol returns whether a protocol is supported by the handle, without
// opening it.
func (h *BootHandle) TestProtocol(params OpenProtocolParams, guid GUID) (bool, error) {
	status := h.table().OpenProtocol(params.Handle, &guid, nil, params.Agent, params.Controller, EFI_OPEN_PROTOCOL_TEST_PROTOCOL)

	switch status {
	case EFI_SUCCESS:
		return true, nil
	case EFI_UNSUPPORTED:
		return false, nil
	default:
		return false, parseStatus(status)
	}
}

// LocateProtocol calls EFI_BOOT_SERVICES.LocateProtocol() and returns the
// address of the first matching interface.
//
// The interface is not opened, therefore nothing prevents its removal.
// [BootHandle.OpenProtocol] should be preferred.
func (h *BootHandle) LocateProtocol(guid GUID) (addr uint64, err error) {
	status := h.table().LocateProtocol(&guid, 0, &addr)
	return addr, parseStatus(status)
}

// LocateProtocol calls EFI_BOOT_SERVICES.LocateProtocol() with a temporary boot
// handle.
func LocateProtocol(guid GUID) (uint64, error) {
	return withBootHandle(func(h *BootHandle) (uint64, error) {
		return h.LocateProtocol(guid)
	})
}

// GUID returns the protocol GUID.
func (p *ScopedProtocol) GUID() GUID {
	return p.guid
}

// Params returns the parameters used to open the protocol.
func (p *ScopedProtocol) Params() OpenProtocolParams {
	return p.params
}

// Interface returns the protocol interface address, the boolean is false when
// the protocol has no interface structure.
func (p *ScopedProtocol) Interface() (addr uint64, ok bool) {
	if p.closed.Load() {
		panic("protocol used after close")
	}

	return p.iface, p.iface != 0
}

// Address returns the protocol interface address, it panics if the protocol
// has no interface structure.
func (p *ScopedProtocol) Address() uint64 {
	addr, ok := p.Interface()

	if !ok {
		panic(fmt.Sprintf("protocol %s interface is null", p.guid))
	}

	return addr
}

// address returns the protocol interface address for wrappers issuing
// protocol calls, which fail once the protocol is closed.
func (p *ScopedProtocol) address() (uint64, error) {
	if p.closed.Load() {
		return 0, ErrProtocolClosed
	}

	if p.iface == 0 {
		return 0, fmt.Errorf("protocol %s interface is null", p.guid)
	}

	return p.iface, nil
}

// Close calls EFI_BOOT_SERVICES.CloseProtocol() with the parameters used when
// opening it, subsequent calls have no effect.
//
// Close panics if the firmware fails to close the protocol.
func (p *ScopedProtocol) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	status := p.ref.h.table().CloseProtocol(p.params.Handle, &p.guid, p.params.Agent, p.params.Controller)

	if status != EFI_SUCCESS {
		panic(fmt.Sprintf("could not close protocol %s, %v", p.guid, status))
	}

	p.ref.release()
}

// MakeStatic returns a guard which no longer depends on the lifetime of the
// boot handle used for its creation, the original guard becomes inert.
func (p *ScopedProtocol) MakeStatic() *ScopedProtocol {
	if p.closed.Load() {
		panic("cannot make a closed protocol static")
	}

	s := &ScopedProtocol{
		ref:    p.ref.static(),
		guid:   p.guid,
		iface:  p.iface,
		params: p.params,
	}

	p.closed.Store(true)

	return s
}
