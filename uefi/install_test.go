// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usbarmory/go-efi/uefi"
	"github.com/usbarmory/go-efi/uefi/emu"
)

func TestInstallProtocolInterface(t *testing.T) {
	setup(t)

	h := uefi.AcquireBootHandle()
	defer h.Release()

	handle, err := h.InstallProtocolInterface(0, snp, 0x5000)
	require.NoError(t, err)
	require.NotZero(t, handle)

	params := uefi.OpenProtocolParams{
		Handle: handle,
		Agent:  uefi.ImageHandle(),
	}

	ok, err := h.TestProtocol(params, snp)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = h.InstallProtocolInterface(handle, snp, 0x5000)
	require.ErrorIs(t, err, uefi.ErrInvalidParameter)

	found, err := h.GetHandleForProtocol(snp)
	require.NoError(t, err)
	assert.Equal(t, handle, found)

	require.ErrorIs(t, h.ReinstallProtocolInterface(handle, snp, 0x4000, 0x6000), uefi.ErrNotFound)
	require.NoError(t, h.ReinstallProtocolInterface(handle, snp, 0x5000, 0x6000))

	addr, err := h.LocateProtocol(snp)
	require.NoError(t, err)
	assert.EqualValues(t, 0x6000, addr)

	require.ErrorIs(t, h.UninstallProtocolInterface(handle, snp, 0x5000), uefi.ErrNotFound)
	require.NoError(t, h.UninstallProtocolInterface(handle, snp, 0x6000))

	_, err = h.GetHandleForProtocol(snp)
	require.ErrorIs(t, err, uefi.ErrNotFound)

	// the last protocol is gone, so is the handle
	_, err = h.InstallProtocolInterface(handle, snp, 0x5000)
	require.ErrorIs(t, err, uefi.ErrInvalidParameter)
}

func TestInstallProtocolInterfaceNotify(t *testing.T) {
	fw := setup(t)
	notify, n := counter(fw)

	h := uefi.AcquireBootHandle()
	defer h.Release()

	event, err := h.CreateEvent(uefi.EVT_NOTIFY_SIGNAL, uefi.TPL_CALLBACK, notify, 0)
	require.NoError(t, err)
	defer h.CloseEvent(event)

	key, err := h.RegisterProtocolNotify(snp, event)
	require.NoError(t, err)

	handle, err := h.InstallProtocolInterface(0, snp, 0x5000)
	require.NoError(t, err)
	assert.Equal(t, 1, *n)

	require.NoError(t, h.ReinstallProtocolInterface(handle, snp, 0x5000, 0x6000))
	assert.Equal(t, 2, *n)

	hb, err := h.LocateHandleBuffer(uefi.SearchByRegisterNotify(key))
	require.NoError(t, err)
	assert.Equal(t, []uefi.Handle{handle}, hb.Handles())
	hb.Close()

	assert.Zero(t, fw.OutstandingPool())
}

func TestUninstallProtocolInterfaceOpen(t *testing.T) {
	fw := setup(t)
	handle := fw.InstallProtocol(0, snp, 0x5000)

	h := uefi.AcquireBootHandle()
	defer h.Release()

	p, err := h.OpenProtocolExclusive(handle, snp)
	require.NoError(t, err)

	require.ErrorIs(t, h.ReinstallProtocolInterface(handle, snp, 0x5000, 0x6000), uefi.ErrAccessDenied)
	require.ErrorIs(t, h.UninstallProtocolInterface(handle, snp, 0x5000), uefi.ErrAccessDenied)

	p.Close()

	require.NoError(t, h.UninstallProtocolInterface(handle, snp, 0x5000))
}

func TestGetHandleForProtocol(t *testing.T) {
	fw := setup(t)

	first := fw.InstallProtocol(0, snp, 0x5000)
	fw.InstallProtocol(0, snp, 0x6000)

	handle, err := uefi.GetHandleForProtocol(snp)
	require.NoError(t, err)
	assert.Equal(t, first, handle)

	_, err = uefi.GetHandleForProtocol(uefi.EFI_GRAPHICS_OUTPUT_PROTOCOL_GUID)
	require.ErrorIs(t, err, uefi.ErrNotFound)
}

func TestInstallConfigurationTable(t *testing.T) {
	fw := setup(t, emu.WithConfigurationTable(uefi.SMBIOS3_TABLE_GUID, 0xf0000))

	h := uefi.AcquireBootHandle()
	defer h.Release()

	require.NoError(t, h.InstallConfigurationTable(uefi.ACPI_20_TABLE_GUID, 0xe0000))

	st, err := uefi.GetSystemTable()
	require.NoError(t, err)
	assert.EqualValues(t, 2, st.NumberOfTableEntries)

	c, err := uefi.LocateConfiguration(uefi.ACPI_20_TABLE_GUID)
	require.NoError(t, err)
	assert.EqualValues(t, 0xe0000, c.VendorTable)

	require.NoError(t, h.InstallConfigurationTable(uefi.ACPI_20_TABLE_GUID, 0xd0000))

	c, err = uefi.LocateConfiguration(uefi.ACPI_20_TABLE_GUID)
	require.NoError(t, err)
	assert.EqualValues(t, 0xd0000, c.VendorTable)

	require.NoError(t, h.InstallConfigurationTable(uefi.ACPI_20_TABLE_GUID, 0))

	_, err = uefi.LocateConfiguration(uefi.ACPI_20_TABLE_GUID)
	require.Error(t, err)

	c, err = uefi.LocateConfiguration(uefi.SMBIOS3_TABLE_GUID)
	require.NoError(t, err)
	assert.EqualValues(t, 0xf0000, c.VendorTable)

	require.ErrorIs(t, h.InstallConfigurationTable(uefi.ACPI_20_TABLE_GUID, 0), uefi.ErrNotFound)

	assert.Equal(t, []uefi.ConfigurationTable{
		{GUID: uefi.SMBIOS3_TABLE_GUID, VendorTable: 0xf0000},
	}, fw.ConfigurationTables())
}

func TestConnectController(t *testing.T) {
	fw := setup(t)

	controller := fw.InstallProtocol(0, snp, 0x5000)
	driver := fw.InstallProtocol(0, uefi.EFI_LOADED_IMAGE_PROTOCOL_GUID, 0x6000)

	h := uefi.AcquireBootHandle()
	defer h.Release()

	require.NoError(t, h.ConnectController(controller, true, driver))
	require.ErrorIs(t, h.ConnectController(controller, false), uefi.ErrNotFound)
	require.NoError(t, h.DisconnectController(controller, driver, 0))
	require.ErrorIs(t, h.DisconnectController(0xdead00, 0, 0), uefi.ErrInvalidParameter)

	assert.Equal(t, []emu.ControllerRecord{
		{Connect: true, Controller: controller, Drivers: []uefi.Handle{driver}, Recursive: true},
		{Connect: true, Controller: controller},
		{Controller: controller, Drivers: []uefi.Handle{driver}},
	}, fw.Controllers())
}
