// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

// BootTable represents the EFI Boot Services functions used by this package,
// methods map 1:1 to firmware functions and return their raw status.
type BootTable interface {
	Header() TableHeader

	RaiseTPL(tpl TPL) (old TPL)
	RestoreTPL(tpl TPL)

	AllocatePages(allocateType AllocateType, memoryType MemoryType, pages uint64, addr *uint64) Status
	FreePages(addr uint64, pages uint64) Status
	GetMemoryMap(size *uint64, buf uint64, key *uint64, descSize *uint64, descVersion *uint32) Status
	AllocatePool(memoryType MemoryType, size uint64, addr *uint64) Status
	FreePool(addr uint64) Status

	CreateEvent(eventType EventType, tpl TPL, notify NotifyFunc, context uint64, event *Event) Status
	CreateEventEx(eventType EventType, tpl TPL, notify NotifyFunc, context uint64, group *GUID, event *Event) Status
	SetTimer(event Event, delay TimerDelay, triggerTime uint64) Status
	WaitForEvent(events []Event, index *uint64) Status
	SignalEvent(event Event) Status
	CloseEvent(event Event) Status
	CheckEvent(event Event) Status
	RegisterProtocolNotify(guid *GUID, event Event, registration *SearchKey) Status

	OpenProtocol(handle Handle, guid *GUID, iface *uint64, agent Handle, controller Handle, attributes OpenProtocolAttributes) Status
	CloseProtocol(handle Handle, guid *GUID, agent Handle, controller Handle) Status
	ProtocolsPerHandle(handle Handle, buf *uint64, count *uint64) Status
	LocateHandleBuffer(searchType SearchType, guid *GUID, key SearchKey, count *uint64, buf *uint64) Status
	LocateProtocol(guid *GUID, registration SearchKey, iface *uint64) Status
	InstallProtocolInterface(handle *Handle, guid *GUID, ifaceType InterfaceType, iface uint64) Status
	ReinstallProtocolInterface(handle Handle, guid *GUID, oldIface uint64, newIface uint64) Status
	UninstallProtocolInterface(handle Handle, guid *GUID, iface uint64) Status
	InstallConfigurationTable(guid *GUID, table uint64) Status

	LoadImage(bootPolicy bool, parent Handle, devicePath uint64, buf []byte, image *Handle) Status
	StartImage(image Handle, exitDataSize *uint64, exitData *uint64) Status
	Exit(image Handle, status Status, exitDataSize uint64, exitData uint64) Status
	UnloadImage(image Handle) Status

	ConnectController(controller Handle, drivers []Handle, remainingDevicePath uint64, recursive bool) Status
	DisconnectController(controller Handle, driver Handle, child Handle) Status

	SetWatchdogTimer(timeout uint64, code uint64) Status
	Stall(microseconds uint64) Status
	ExitBootServices(image Handle, mapKey uint64) Status
}

// RuntimeTable represents the EFI Runtime Services functions used by this
// package.
type RuntimeTable interface {
	Header() TableHeader

	// ResetSystem does not return on success.
	ResetSystem(resetType ResetType, status Status) Status
}

// Memory represents access to firmware owned memory (e.g. pool buffers
// returned by boot services).
type Memory interface {
	Read(addr uint64, buf []byte) error
}

// EFI Boot Services offsets
const (
	raiseTPL               = 0x18
	restoreTPL             = 0x20
	allocatePages          = 0x28
	freePages              = 0x30
	getMemoryMap           = 0x38
	allocatePool           = 0x40
	freePool               = 0x48
	createEvent            = 0x50
	setTimer               = 0x58
	waitForEvent           = 0x60
	signalEvent            = 0x68
	closeEvent             = 0x70
	checkEvent             = 0x78
	installProtocolIface   = 0x80
	reinstallProtocolIface = 0x88
	uninstallProtocolIface = 0x90
	registerProtocolNotify = 0xa8
	installConfigTable     = 0xc0
	loadImage              = 0xc8
	startImage             = 0xd0
	exitImage              = 0xd8
	unloadImage            = 0xe0
	exitBootServices       = 0xe8
	stall                  = 0xf8
	setWatchdogTimer       = 0x100
	connectController      = 0x108
	disconnectController   = 0x110
	openProtocol           = 0x118
	closeProtocol          = 0x120
	protocolsPerHandle     = 0x130
	locateHandleBuffer     = 0x138
	locateProtocol         = 0x140
	createEventEx          = 0x170
)

// EFI Runtime Services offsets
const (
	resetSystem = 0x68
)

// BootServices represents an EFI Boot Services instance, its methods invoke
// firmware functions directly.
type BootServices struct {
	base   uint64
	header TableHeader
}

// RuntimeServices represents an EFI Runtime Services instance, its methods
// invoke firmware functions directly.
type RuntimeServices struct {
	base   uint64
	header TableHeader
}

func (s *BootServices) Header() TableHeader {
	return s.header
}

func (s *BootServices) RaiseTPL(tpl TPL) TPL {
	return TPL(callService(s.base+raiseTPL, []uint64{uint64(tpl)}))
}

func (s *BootServices) RestoreTPL(tpl TPL) {
	callService(s.base+restoreTPL, []uint64{uint64(tpl)})
}

func (s *BootServices) AllocatePages(allocateType AllocateType, memoryType MemoryType, pages uint64, addr *uint64) Status {
	return callService(s.base+allocatePages,
		[]uint64{
			uint64(allocateType),
			uint64(memoryType),
			pages,
			ptrval(addr),
		},
	)
}

func (s *BootServices) FreePages(addr uint64, pages uint64) Status {
	return callService(s.base+freePages,
		[]uint64{
			addr,
			pages,
		},
	)
}

func (s *BootServices) GetMemoryMap(size *uint64, buf uint64, key *uint64, descSize *uint64, descVersion *uint32) Status {
	return callService(s.base+getMemoryMap,
		[]uint64{
			ptrval(size),
			buf,
			ptrval(key),
			ptrval(descSize),
			ptrval(descVersion),
		},
	)
}

func (s *BootServices) AllocatePool(memoryType MemoryType, size uint64, addr *uint64) Status {
	return callService(s.base+allocatePool,
		[]uint64{
			uint64(memoryType),
			size,
			ptrval(addr),
		},
	)
}

func (s *BootServices) FreePool(addr uint64) Status {
	return callService(s.base+freePool, []uint64{addr})
}

func (s *BootServices) CreateEvent(eventType EventType, tpl TPL, notify NotifyFunc, context uint64, event *Event) Status {
	return callService(s.base+createEvent,
		[]uint64{
			uint64(eventType),
			uint64(tpl),
			uint64(notify),
			context,
			ptrval(event),
		},
	)
}

func (s *BootServices) CreateEventEx(eventType EventType, tpl TPL, notify NotifyFunc, context uint64, group *GUID, event *Event) Status {
	var g uint64

	if group != nil {
		g = ptrval(group)
	}

	return callService(s.base+createEventEx,
		[]uint64{
			uint64(eventType),
			uint64(tpl),
			uint64(notify),
			context,
			g,
			ptrval(event),
		},
	)
}

func (s *BootServices) SetTimer(event Event, delay TimerDelay, triggerTime uint64) Status {
	return callService(s.base+setTimer,
		[]uint64{
			uint64(event),
			uint64(delay),
			triggerTime,
		},
	)
}

func (s *BootServices) WaitForEvent(events []Event, index *uint64) Status {
	if len(events) == 0 {
		return EFI_INVALID_PARAMETER
	}

	return callService(s.base+waitForEvent,
		[]uint64{
			uint64(len(events)),
			ptrval(&events[0]),
			ptrval(index),
		},
	)
}

func (s *BootServices) SignalEvent(event Event) Status {
	return callService(s.base+signalEvent, []uint64{uint64(event)})
}

func (s *BootServices) CloseEvent(event Event) Status {
	return callService(s.base+closeEvent, []uint64{uint64(event)})
}

func (s *BootServices) CheckEvent(event Event) Status {
	return callService(s.base+checkEvent, []uint64{uint64(event)})
}

func (s *BootServices) RegisterProtocolNotify(guid *GUID, event Event, registration *SearchKey) Status {
	return callService(s.base+registerProtocolNotify,
		[]uint64{
			ptrval(guid),
			uint64(event),
			ptrval((*uint64)(registration)),
		},
	)
}

func (s *BootServices) OpenProtocol(handle Handle, guid *GUID, iface *uint64, agent Handle, controller Handle, attributes OpenProtocolAttributes) Status {
	var p uint64

	if iface != nil {
		p = ptrval(iface)
	}

	return callService(s.base+openProtocol,
		[]uint64{
			uint64(handle),
			ptrval(guid),
			p,
			uint64(agent),
			uint64(controller),
			uint64(attributes),
		},
	)
}

func (s *BootServices) CloseProtocol(handle Handle, guid *GUID, agent Handle, controller Handle) Status {
	return callService(s.base+closeProtocol,
		[]uint64{
			uint64(handle),
			ptrval(guid),
			uint64(agent),
			uint64(controller),
		},
	)
}

func (s *BootServices) ProtocolsPerHandle(handle Handle, buf *uint64, count *uint64) Status {
	return callService(s.base+protocolsPerHandle,
		[]uint64{
			uint64(handle),
			ptrval(buf),
			ptrval(count),
		},
	)
}

func (s *BootServices) LocateHandleBuffer(searchType SearchType, guid *GUID, key SearchKey, count *uint64, buf *uint64) Status {
	var g uint64

	if guid != nil {
		g = ptrval(guid)
	}

	return callService(s.base+locateHandleBuffer,
		[]uint64{
			uint64(searchType),
			g,
			uint64(key),
			ptrval(count),
			ptrval(buf),
		},
	)
}

func (s *BootServices) LocateProtocol(guid *GUID, registration SearchKey, iface *uint64) Status {
	return callService(s.base+locateProtocol,
		[]uint64{
			ptrval(guid),
			uint64(registration),
			ptrval(iface),
		},
	)
}

func (s *BootServices) InstallProtocolInterface(handle *Handle, guid *GUID, ifaceType InterfaceType, iface uint64) Status {
	return callService(s.base+installProtocolIface,
		[]uint64{
			ptrval(handle),
			ptrval(guid),
			uint64(ifaceType),
			iface,
		},
	)
}

func (s *BootServices) ReinstallProtocolInterface(handle Handle, guid *GUID, oldIface uint64, newIface uint64) Status {
	return callService(s.base+reinstallProtocolIface,
		[]uint64{
			uint64(handle),
			ptrval(guid),
			oldIface,
			newIface,
		},
	)
}

func (s *BootServices) UninstallProtocolInterface(handle Handle, guid *GUID, iface uint64) Status {
	return callService(s.base+uninstallProtocolIface,
		[]uint64{
			uint64(handle),
			ptrval(guid),
			iface,
		},
	)
}

func (s *BootServices) InstallConfigurationTable(guid *GUID, table uint64) Status {
	return callService(s.base+installConfigTable,
		[]uint64{
			ptrval(guid),
			table,
		},
	)
}

func (s *BootServices) LoadImage(bootPolicy bool, parent Handle, devicePath uint64, buf []byte, image *Handle) Status {
	var policy uint64
	var src uint64

	if bootPolicy {
		policy = 1
	}

	if len(buf) > 0 {
		src = ptrval(&buf[0])
	}

	return callService(s.base+loadImage,
		[]uint64{
			policy,
			uint64(parent),
			devicePath,
			src,
			uint64(len(buf)),
			ptrval(image),
		},
	)
}

func (s *BootServices) StartImage(image Handle, exitDataSize *uint64, exitData *uint64) Status {
	return callService(s.base+startImage,
		[]uint64{
			uint64(image),
			ptrval(exitDataSize),
			ptrval(exitData),
		},
	)
}

func (s *BootServices) Exit(image Handle, status Status, exitDataSize uint64, exitData uint64) Status {
	return callService(s.base+exitImage,
		[]uint64{
			uint64(image),
			uint64(status),
			exitDataSize,
			exitData,
		},
	)
}

func (s *BootServices) UnloadImage(image Handle) Status {
	return callService(s.base+unloadImage, []uint64{uint64(image)})
}

func (s *BootServices) ConnectController(controller Handle, drivers []Handle, remainingDevicePath uint64, recursive bool) Status {
	var list uint64
	var r uint64

	if len(drivers) > 0 {
		// the driver list is null terminated
		l := append(drivers[:len(drivers):len(drivers)], 0)
		list = ptrval(&l[0])
	}

	if recursive {
		r = 1
	}

	return callService(s.base+connectController,
		[]uint64{
			uint64(controller),
			list,
			remainingDevicePath,
			r,
		},
	)
}

func (s *BootServices) DisconnectController(controller Handle, driver Handle, child Handle) Status {
	return callService(s.base+disconnectController,
		[]uint64{
			uint64(controller),
			uint64(driver),
			uint64(child),
		},
	)
}

func (s *BootServices) SetWatchdogTimer(timeout uint64, code uint64) Status {
	return callService(s.base+setWatchdogTimer,
		[]uint64{
			timeout,
			code,
			0,
			0,
		},
	)
}

func (s *BootServices) Stall(microseconds uint64) Status {
	return callService(s.base+stall, []uint64{microseconds})
}

func (s *BootServices) ExitBootServices(image Handle, mapKey uint64) Status {
	return callService(s.base+exitBootServices,
		[]uint64{
			uint64(image),
			mapKey,
		},
	)
}

func (s *RuntimeServices) Header() TableHeader {
	return s.header
}

func (s *RuntimeServices) ResetSystem(resetType ResetType, status Status) Status {
	return callService(s.base+resetSystem,
		[]uint64{
			uint64(resetType),
			uint64(status),
			0,
			0,
		},
	)
}
