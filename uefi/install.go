// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

// InterfaceType represents an EFI_INTERFACE_TYPE.
type InterfaceType uint32

// EFI_INTERFACE_TYPE
const EFI_NATIVE_INTERFACE InterfaceType = 0

// InstallProtocolInterface calls EFI_BOOT_SERVICES.InstallProtocolInterface(),
// a new handle is created when the argument handle is zero.
func (h *BootHandle) InstallProtocolInterface(handle Handle, guid GUID, iface uint64) (Handle, error) {
	status := h.table().InstallProtocolInterface(&handle, &guid, EFI_NATIVE_INTERFACE, iface)
	return handle, parseStatus(status)
}

// ReinstallProtocolInterface calls
// EFI_BOOT_SERVICES.ReinstallProtocolInterface().
func (h *BootHandle) ReinstallProtocolInterface(handle Handle, guid GUID, oldIface uint64, newIface uint64) error {
	return parseStatus(h.table().ReinstallProtocolInterface(handle, &guid, oldIface, newIface))
}

// UninstallProtocolInterface calls
// EFI_BOOT_SERVICES.UninstallProtocolInterface(), the handle is destroyed by
// the firmware once its last protocol is removed.
func (h *BootHandle) UninstallProtocolInterface(handle Handle, guid GUID, iface uint64) error {
	return parseStatus(h.table().UninstallProtocolInterface(handle, &guid, iface))
}

// GetHandleForProtocol returns the first handle supporting a protocol.
func (h *BootHandle) GetHandleForProtocol(guid GUID) (Handle, error) {
	handles, err := h.FindHandles(guid)

	if err != nil {
		return 0, err
	}

	if len(handles) == 0 {
		return 0, EFI_NOT_FOUND.Err()
	}

	return handles[0], nil
}

// GetHandleForProtocol returns the first handle supporting a protocol using a
// temporary boot handle.
func GetHandleForProtocol(guid GUID) (Handle, error) {
	return withBootHandle(func(h *BootHandle) (Handle, error) {
		return h.GetHandleForProtocol(guid)
	})
}

// InstallConfigurationTable calls
// EFI_BOOT_SERVICES.InstallConfigurationTable(), a null table removes the
// entry.
//
// The EFI System Table view is reloaded on success, when its address is
// known.
func (h *BootHandle) InstallConfigurationTable(guid GUID, table uint64) (err error) {
	if err = parseStatus(h.table().InstallConfigurationTable(&guid, table)); err != nil {
		return
	}

	return h.reloadSystemTable()
}

func (h *BootHandle) reloadSystemTable() (err error) {
	addr := systemTableAddr.Load()

	if addr == 0 {
		return
	}

	t := &SystemTable{}

	if err = readStruct(h.memory(), addr, t); err != nil {
		return
	}

	systemTable.Store(t)

	return
}

// ConnectController calls EFI_BOOT_SERVICES.ConnectController(), when no
// driver is passed all drivers are considered.
func (h *BootHandle) ConnectController(controller Handle, recursive bool, drivers ...Handle) error {
	return parseStatus(h.table().ConnectController(controller, drivers, 0, recursive))
}

// DisconnectController calls EFI_BOOT_SERVICES.DisconnectController(), zero
// driver or child handles select all of them.
func (h *BootHandle) DisconnectController(controller Handle, driver Handle, child Handle) error {
	return parseStatus(h.table().DisconnectController(controller, driver, child))
}
