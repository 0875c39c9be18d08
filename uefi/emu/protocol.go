// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package emu

import (
	"sort"

	"github.com/usbarmory/go-efi/uefi"
)

// OpenRecord represents an EFI_OPEN_PROTOCOL_INFORMATION_ENTRY.
type OpenRecord struct {
	Handle     uefi.Handle
	GUID       uefi.GUID
	Agent      uefi.Handle
	Controller uefi.Handle
	Attributes uefi.OpenProtocolAttributes
}

func (r *OpenRecord) matches(handle uefi.Handle, guid uefi.GUID, agent uefi.Handle, controller uefi.Handle) bool {
	return r.Handle == handle && r.GUID == guid && r.Agent == agent && r.Controller == controller
}

func (r *OpenRecord) exclusive() bool {
	return r.Attributes&(uefi.EFI_OPEN_PROTOCOL_EXCLUSIVE|uefi.EFI_OPEN_PROTOCOL_BY_DRIVER) != 0
}

type handle struct {
	interfaces map[uefi.GUID]uint64
	order      []uefi.GUID
}

type registration struct {
	guid  uefi.GUID
	event uefi.Event
	queue []uefi.Handle
}

type protocols struct {
	handles    map[uefi.Handle]*handle
	nextHandle uefi.Handle

	// GUID storage for ProtocolsPerHandle()
	guids map[uefi.GUID]uint64

	opens  []OpenRecord
	closes []OpenRecord

	registrations map[uefi.SearchKey]*registration
	nextKey       uefi.SearchKey
}

func (p *protocols) init() {
	p.handles = make(map[uefi.Handle]*handle)
	p.nextHandle = 0x10000
	p.guids = make(map[uefi.GUID]uint64)
	p.registrations = make(map[uefi.SearchKey]*registration)
	p.nextKey = 0x20000
}

// sortedHandles returns all handles in creation order.
func (p *protocols) sortedHandles() (handles []uefi.Handle) {
	for h := range p.handles {
		handles = append(handles, h)
	}

	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })

	return
}

// installProtocol adds a protocol interface on a handle, a new handle is
// created when zero. It must be called with the lock held.
func (f *Firmware) installProtocol(h uefi.Handle, guid uefi.GUID, iface uint64) uefi.Handle {
	if h == 0 {
		f.nextHandle += 0x100
		h = f.nextHandle
	}

	hd, ok := f.handles[h]

	if !ok {
		hd = &handle{interfaces: make(map[uefi.GUID]uint64)}
		f.handles[h] = hd
	}

	if _, ok := hd.interfaces[guid]; !ok {
		hd.order = append(hd.order, guid)
	}

	hd.interfaces[guid] = iface

	if _, ok := f.guids[guid]; !ok {
		addr := f.allocateInternal(len(guid))
		f.write(addr, guid[:])
		f.guids[guid] = addr
	}

	return h
}

// notify queues a handle, which installed a protocol, on the matching
// notification registrations and signals their events. It must be called
// with the lock held.
func (f *Firmware) notify(h uefi.Handle, guid uefi.GUID) {
	keys := make([]uefi.SearchKey, 0, len(f.registrations))

	for key := range f.registrations {
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, key := range keys {
		r := f.registrations[key]

		if r.guid != guid {
			continue
		}

		r.queue = append(r.queue, h)

		if e, ok := f.active[r.event]; ok {
			f.signal(e)
		}
	}
}

// InstallProtocol adds a protocol interface on a handle, a new handle is
// created when zero. Events registered for notification on the protocol are
// signaled.
func (f *Firmware) InstallProtocol(h uefi.Handle, guid uefi.GUID, iface uint64) uefi.Handle {
	f.Lock()
	defer f.Unlock()

	h = f.installProtocol(h, guid, iface)
	f.notify(h, guid)
	f.run(f.dispatch())

	return h
}

// uninstallProtocol removes a protocol interface from a handle, the handle is
// deleted once it has no protocols left. It must be called with the lock
// held.
func (f *Firmware) uninstallProtocol(h uefi.Handle, guid uefi.GUID) uefi.Status {
	hd, ok := f.handles[h]

	if !ok {
		return uefi.EFI_NOT_FOUND
	}

	if _, ok = hd.interfaces[guid]; !ok {
		return uefi.EFI_NOT_FOUND
	}

	for _, r := range f.opens {
		if r.Handle == h && r.GUID == guid {
			return uefi.EFI_ACCESS_DENIED
		}
	}

	delete(hd.interfaces, guid)

	for i, g := range hd.order {
		if g == guid {
			hd.order = append(hd.order[:i], hd.order[i+1:]...)
			break
		}
	}

	if len(hd.interfaces) == 0 {
		delete(f.handles, h)
	}

	return uefi.EFI_SUCCESS
}

// UninstallProtocol removes a protocol interface from a handle, the handle is
// deleted once it has no protocols left.
func (f *Firmware) UninstallProtocol(h uefi.Handle, guid uefi.GUID) bool {
	f.Lock()
	defer f.Unlock()

	return f.uninstallProtocol(h, guid) == uefi.EFI_SUCCESS
}

// OpenRecords returns the currently open protocol records.
func (f *Firmware) OpenRecords() []OpenRecord {
	f.Lock()
	defer f.Unlock()

	return append([]OpenRecord(nil), f.opens...)
}

// Closes returns all successful EFI_BOOT_SERVICES.CloseProtocol()
// invocations.
func (f *Firmware) Closes() []OpenRecord {
	f.Lock()
	defer f.Unlock()

	return append([]OpenRecord(nil), f.closes...)
}

// unregister removes protocol notifications bound to a closed event, it must
// be called with the lock held.
func (f *Firmware) unregister(event uefi.Event) {
	for key, r := range f.registrations {
		if r.event == event {
			delete(f.registrations, key)
		}
	}
}

// OpenProtocol implements [uefi.BootTable].
func (s *BootServices) OpenProtocol(h uefi.Handle, guid *uefi.GUID, iface *uint64, agent uefi.Handle, controller uefi.Handle, attributes uefi.OpenProtocolAttributes) uefi.Status {
	s.Lock()
	defer s.Unlock()

	s.enter("OpenProtocol")

	if guid == nil {
		return uefi.EFI_INVALID_PARAMETER
	}

	hd, ok := s.handles[h]

	if !ok {
		return uefi.EFI_INVALID_PARAMETER
	}

	addr, ok := hd.interfaces[*guid]

	if !ok {
		return uefi.EFI_UNSUPPORTED
	}

	switch attributes {
	case uefi.EFI_OPEN_PROTOCOL_TEST_PROTOCOL:
		return uefi.EFI_SUCCESS
	case uefi.EFI_OPEN_PROTOCOL_BY_HANDLE_PROTOCOL, uefi.EFI_OPEN_PROTOCOL_GET_PROTOCOL:
	case uefi.EFI_OPEN_PROTOCOL_BY_CHILD_CONTROLLER:
		if agent == 0 || controller == 0 || controller == h {
			return uefi.EFI_INVALID_PARAMETER
		}
	case uefi.EFI_OPEN_PROTOCOL_BY_DRIVER, uefi.EFI_OPEN_PROTOCOL_BY_DRIVER | uefi.EFI_OPEN_PROTOCOL_EXCLUSIVE:
		if agent == 0 || controller == 0 {
			return uefi.EFI_INVALID_PARAMETER
		}
	case uefi.EFI_OPEN_PROTOCOL_EXCLUSIVE:
		if agent == 0 {
			return uefi.EFI_INVALID_PARAMETER
		}
	default:
		return uefi.EFI_INVALID_PARAMETER
	}

	if iface == nil {
		return uefi.EFI_INVALID_PARAMETER
	}

	if attributes&(uefi.EFI_OPEN_PROTOCOL_EXCLUSIVE|uefi.EFI_OPEN_PROTOCOL_BY_DRIVER) != 0 {
		for _, r := range s.opens {
			if r.Handle != h || r.GUID != *guid || !r.exclusive() {
				continue
			}

			if r.Agent == agent {
				return uefi.EFI_ALREADY_STARTED
			}

			return uefi.EFI_ACCESS_DENIED
		}
	}

	s.opens = append(s.opens, OpenRecord{
		Handle:     h,
		GUID:       *guid,
		Agent:      agent,
		Controller: controller,
		Attributes: attributes,
	})

	*iface = addr

	return uefi.EFI_SUCCESS
}

// CloseProtocol implements [uefi.BootTable].
func (s *BootServices) CloseProtocol(h uefi.Handle, guid *uefi.GUID, agent uefi.Handle, controller uefi.Handle) uefi.Status {
	s.Lock()
	defer s.Unlock()

	s.enter("CloseProtocol")

	if s.closeProtocolStatus != uefi.EFI_SUCCESS {
		return s.closeProtocolStatus
	}

	if guid == nil || agent == 0 {
		return uefi.EFI_INVALID_PARAMETER
	}

	if _, ok := s.handles[h]; !ok {
		return uefi.EFI_INVALID_PARAMETER
	}

	for i, r := range s.opens {
		if !r.matches(h, *guid, agent, controller) {
			continue
		}

		s.opens = append(s.opens[:i], s.opens[i+1:]...)
		s.closes = append(s.closes, r)

		return uefi.EFI_SUCCESS
	}

	return uefi.EFI_NOT_FOUND
}

// ProtocolsPerHandle implements [uefi.BootTable].
func (s *BootServices) ProtocolsPerHandle(h uefi.Handle, buf *uint64, count *uint64) uefi.Status {
	s.Lock()
	defer s.Unlock()

	s.enter("ProtocolsPerHandle")

	if buf == nil || count == nil {
		return uefi.EFI_INVALID_PARAMETER
	}

	hd, ok := s.handles[h]

	if !ok {
		return uefi.EFI_INVALID_PARAMETER
	}

	var ptrs []byte

	for _, guid := range hd.order {
		ptrs = appendUint64(ptrs, s.guids[guid])
	}

	addr, ok := s.poolCopy(ptrs)

	if !ok {
		return uefi.EFI_OUT_OF_RESOURCES
	}

	*buf = addr
	*count = uint64(len(hd.order))

	return uefi.EFI_SUCCESS
}

// LocateHandleBuffer implements [uefi.BootTable].
func (s *BootServices) LocateHandleBuffer(searchType uefi.SearchType, guid *uefi.GUID, key uefi.SearchKey, count *uint64, buf *uint64) uefi.Status {
	var handles []uefi.Handle

	s.Lock()
	defer s.Unlock()

	s.enter("LocateHandleBuffer")

	if count == nil || buf == nil {
		return uefi.EFI_INVALID_PARAMETER
	}

	switch searchType {
	case uefi.AllHandles:
		handles = s.sortedHandles()
	case uefi.ByProtocol:
		if guid == nil {
			return uefi.EFI_INVALID_PARAMETER
		}

		for _, h := range s.sortedHandles() {
			if _, ok := s.handles[h].interfaces[*guid]; ok {
				handles = append(handles, h)
			}
		}
	case uefi.ByRegisterNotify:
		r, ok := s.registrations[key]

		if !ok {
			return uefi.EFI_INVALID_PARAMETER
		}

		if len(r.queue) > 0 {
			handles = r.queue[:1]
			r.queue = r.queue[1:]
		}
	default:
		return uefi.EFI_INVALID_PARAMETER
	}

	if len(handles) == 0 {
		return uefi.EFI_NOT_FOUND
	}

	var data []byte

	for _, h := range handles {
		data = appendUint64(data, uint64(h))
	}

	addr, ok := s.poolCopy(data)

	if !ok {
		return uefi.EFI_OUT_OF_RESOURCES
	}

	*buf = addr
	*count = uint64(len(handles))

	return uefi.EFI_SUCCESS
}

// LocateProtocol implements [uefi.BootTable].
func (s *BootServices) LocateProtocol(guid *uefi.GUID, key uefi.SearchKey, iface *uint64) uefi.Status {
	s.Lock()
	defer s.Unlock()

	s.enter("LocateProtocol")

	if guid == nil || iface == nil {
		return uefi.EFI_INVALID_PARAMETER
	}

	if key != 0 {
		r, ok := s.registrations[key]

		if !ok || len(r.queue) == 0 {
			return uefi.EFI_NOT_FOUND
		}

		h := r.queue[0]
		r.queue = r.queue[1:]

		if hd, ok := s.handles[h]; ok {
			*iface = hd.interfaces[*guid]
			return uefi.EFI_SUCCESS
		}

		return uefi.EFI_NOT_FOUND
	}

	for _, h := range s.sortedHandles() {
		if addr, ok := s.handles[h].interfaces[*guid]; ok {
			*iface = addr
			return uefi.EFI_SUCCESS
		}
	}

	return uefi.EFI_NOT_FOUND
}

// InstallProtocolInterface implements [uefi.BootTable].
func (s *BootServices) InstallProtocolInterface(h *uefi.Handle, guid *uefi.GUID, ifaceType uefi.InterfaceType, iface uint64) uefi.Status {
	s.Lock()
	defer s.Unlock()

	s.enter("InstallProtocolInterface")

	if h == nil || guid == nil || ifaceType != uefi.EFI_NATIVE_INTERFACE {
		return uefi.EFI_INVALID_PARAMETER
	}

	if *h != 0 {
		hd, ok := s.handles[*h]

		if !ok {
			return uefi.EFI_INVALID_PARAMETER
		}

		if _, ok := hd.interfaces[*guid]; ok {
			return uefi.EFI_INVALID_PARAMETER
		}
	}

	*h = s.installProtocol(*h, *guid, iface)
	s.notify(*h, *guid)
	s.run(s.dispatch())

	return uefi.EFI_SUCCESS
}

// ReinstallProtocolInterface implements [uefi.BootTable].
func (s *BootServices) ReinstallProtocolInterface(h uefi.Handle, guid *uefi.GUID, oldIface uint64, newIface uint64) uefi.Status {
	s.Lock()
	defer s.Unlock()

	s.enter("ReinstallProtocolInterface")

	if guid == nil {
		return uefi.EFI_INVALID_PARAMETER
	}

	hd, ok := s.handles[h]

	if !ok {
		return uefi.EFI_NOT_FOUND
	}

	if iface, ok := hd.interfaces[*guid]; !ok || iface != oldIface {
		return uefi.EFI_NOT_FOUND
	}

	for _, r := range s.opens {
		if r.Handle == h && r.GUID == *guid && r.exclusive() {
			return uefi.EFI_ACCESS_DENIED
		}
	}

	hd.interfaces[*guid] = newIface
	s.notify(h, *guid)
	s.run(s.dispatch())

	return uefi.EFI_SUCCESS
}

// UninstallProtocolInterface implements [uefi.BootTable].
func (s *BootServices) UninstallProtocolInterface(h uefi.Handle, guid *uefi.GUID, iface uint64) uefi.Status {
	s.Lock()
	defer s.Unlock()

	s.enter("UninstallProtocolInterface")

	if guid == nil {
		return uefi.EFI_INVALID_PARAMETER
	}

	if hd, ok := s.handles[h]; !ok || hd.interfaces[*guid] != iface {
		return uefi.EFI_NOT_FOUND
	}

	return s.uninstallProtocol(h, *guid)
}

// RegisterProtocolNotify implements [uefi.BootTable].
func (s *BootServices) RegisterProtocolNotify(guid *uefi.GUID, event uefi.Event, key *uefi.SearchKey) uefi.Status {
	s.Lock()
	defer s.Unlock()

	s.enter("RegisterProtocolNotify")

	if guid == nil || key == nil {
		return uefi.EFI_INVALID_PARAMETER
	}

	if _, ok := s.active[event]; !ok {
		return uefi.EFI_INVALID_PARAMETER
	}

	s.nextKey += 0x10
	s.registrations[s.nextKey] = &registration{
		guid:  *guid,
		event: event,
	}

	*key = s.nextKey

	return uefi.EFI_SUCCESS
}
