// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

// SearchType represents an EFI_LOCATE_SEARCH_TYPE.
type SearchType uint32

// EFI_LOCATE_SEARCH_TYPE
const (
	AllHandles SearchType = iota
	ByRegisterNotify
	ByProtocol
)

// SearchKey represents a registration key returned by
// EFI_BOOT_SERVICES.RegisterProtocolNotify().
type SearchKey uint64

// Search represents handle search criteria.
type Search struct {
	Type     SearchType
	Protocol GUID
	Key      SearchKey
}

// SearchAll returns criteria matching all handles.
func SearchAll() Search {
	return Search{Type: AllHandles}
}

// SearchByProtocol returns criteria matching handles supporting a protocol.
func SearchByProtocol(guid GUID) Search {
	return Search{Type: ByProtocol, Protocol: guid}
}

// SearchByRegisterNotify returns criteria matching the next handle which
// installed a protocol registered for notification.
func SearchByRegisterNotify(key SearchKey) Search {
	return Search{Type: ByRegisterNotify, Key: key}
}

// poolBuffer represents a firmware allocated pool buffer, freed exactly once.
type poolBuffer struct {
	ref  bootRef
	addr uint64
	done bool
}

func (b *poolBuffer) close() {
	if b.done {
		return
	}

	b.done = true

	// nothing can be done on failure, the buffer is leaked
	_ = b.ref.h.FreePool(b.addr)
	b.ref.release()
}

func (b *poolBuffer) static() poolBuffer {
	if b.done {
		panic("cannot make a freed buffer static")
	}

	s := poolBuffer{
		ref:  b.ref.static(),
		addr: b.addr,
	}

	b.done = true

	return s
}

// HandleBuffer represents a firmware allocated array of handles, which must
// be released with [HandleBuffer.Close].
type HandleBuffer struct {
	buf     poolBuffer
	handles []Handle
}

// LocateHandleBuffer calls EFI_BOOT_SERVICES.LocateHandleBuffer(), the
// returned buffer borrows the boot handle.
func (h *BootHandle) LocateHandleBuffer(search Search) (hb *HandleBuffer, err error) {
	var count uint64
	var addr uint64
	var guid *GUID

	if search.Type == ByProtocol {
		guid = &search.Protocol
	}

	status := h.table().LocateHandleBuffer(search.Type, guid, search.Key, &count, &addr)

	if err = parseStatus(status); err != nil {
		return
	}

	hb = &HandleBuffer{
		buf: poolBuffer{
			ref:  bootRef{h: h},
			addr: addr,
		},
	}

	v, err := readUint64s(h.memory(), addr, int(count))

	if err != nil {
		hb.Close()
		return nil, err
	}

	for _, handle := range v {
		hb.handles = append(hb.handles, Handle(handle))
	}

	return
}

// LocateHandleBuffer calls EFI_BOOT_SERVICES.LocateHandleBuffer(), the
// returned buffer owns its boot handle.
func LocateHandleBuffer(search Search) (hb *HandleBuffer, err error) {
	h := AcquireBootHandle()

	if hb, err = h.LocateHandleBuffer(search); err != nil {
		h.Release()
		return
	}

	hb.buf.ref.owned = true

	return
}

// Handles returns the located handles.
func (hb *HandleBuffer) Handles() []Handle {
	if hb.buf.done {
		panic("handle buffer used after close")
	}

	return hb.handles
}

// Close calls EFI_BOOT_SERVICES.FreePool() on the firmware buffer, subsequent
// calls have no effect.
func (hb *HandleBuffer) Close() {
	hb.buf.close()
}

// MakeStatic returns a buffer which no longer depends on the lifetime of the
// boot handle used for its creation, the original buffer becomes inert.
func (hb *HandleBuffer) MakeStatic() *HandleBuffer {
	return &HandleBuffer{
		buf:     hb.buf.static(),
		handles: hb.handles,
	}
}

// FindHandles returns all handles supporting a protocol.
func (h *BootHandle) FindHandles(guid GUID) (handles []Handle, err error) {
	hb, err := h.LocateHandleBuffer(SearchByProtocol(guid))

	if err != nil {
		return
	}

	defer hb.Close()

	return append(handles, hb.Handles()...), nil
}

// FindHandles returns all handles supporting a protocol using a temporary boot
// handle.
func FindHandles(guid GUID) ([]Handle, error) {
	return withBootHandle(func(h *BootHandle) ([]Handle, error) {
		return h.FindHandles(guid)
	})
}

// ProtocolsPerHandle represents a firmware allocated array of protocol GUIDs
// installed on a handle, which must be released with
// [ProtocolsPerHandle.Close].
type ProtocolsPerHandle struct {
	buf       poolBuffer
	protocols []GUID
}

// ProtocolsPerHandle calls EFI_BOOT_SERVICES.ProtocolsPerHandle(), the
// returned buffer borrows the boot handle.
func (h *BootHandle) ProtocolsPerHandle(handle Handle) (pp *ProtocolsPerHandle, err error) {
	var count uint64
	var addr uint64

	status := h.table().ProtocolsPerHandle(handle, &addr, &count)

	if err = parseStatus(status); err != nil {
		return
	}

	pp = &ProtocolsPerHandle{
		buf: poolBuffer{
			ref:  bootRef{h: h},
			addr: addr,
		},
	}

	if err = pp.decode(h.memory(), int(count)); err != nil {
		pp.Close()
		return nil, err
	}

	return
}

// GetProtocolsPerHandle calls EFI_BOOT_SERVICES.ProtocolsPerHandle(), the
// returned buffer owns its boot handle.
func GetProtocolsPerHandle(handle Handle) (pp *ProtocolsPerHandle, err error) {
	h := AcquireBootHandle()

	if pp, err = h.ProtocolsPerHandle(handle); err != nil {
		h.Release()
		return
	}

	pp.buf.ref.owned = true

	return
}

// the firmware buffer is an array of pointers to GUIDs
func (pp *ProtocolsPerHandle) decode(mem Memory, count int) (err error) {
	ptrs, err := readUint64s(mem, pp.buf.addr, count)

	if err != nil {
		return
	}

	for _, ptr := range ptrs {
		var guid GUID

		if err = mem.Read(ptr, guid[:]); err != nil {
			return
		}

		pp.protocols = append(pp.protocols, guid)
	}

	return
}

// Protocols returns the installed protocol GUIDs.
func (pp *ProtocolsPerHandle) Protocols() []GUID {
	if pp.buf.done {
		panic("protocol buffer used after close")
	}

	return pp.protocols
}

// Close calls EFI_BOOT_SERVICES.FreePool() on the firmware buffer, subsequent
// calls have no effect.
func (pp *ProtocolsPerHandle) Close() {
	pp.buf.close()
}

// MakeStatic returns a buffer which no longer depends on the lifetime of the
// boot handle used for its creation, the original buffer becomes inert.
func (pp *ProtocolsPerHandle) MakeStatic() *ProtocolsPerHandle {
	return &ProtocolsPerHandle{
		buf:       pp.buf.static(),
		protocols: pp.protocols,
	}
}
