// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usbarmory/go-efi/uefi"
	"github.com/usbarmory/go-efi/uefi/emu"
)

func TestFirmwareVendor(t *testing.T) {
	setup(t)

	vendor, err := uefi.FirmwareVendor()
	require.NoError(t, err)
	assert.Equal(t, "emu", vendor)
}

func TestGraphicsOutput(t *testing.T) {
	fw := setup(t)

	st, err := uefi.GetSystemTable()
	require.NoError(t, err)

	gop := uint64(emu.DefaultBase + 0x800000)
	mode := gop + 0x100
	info := gop + 0x200

	// EFI_GRAPHICS_OUTPUT_PROTOCOL
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint64(buf[24:], mode)
	require.NoError(t, fw.Write(gop, buf))

	// EFI_GRAPHICS_OUTPUT_PROTOCOL_MODE
	buf = make([]byte, 40)
	binary.LittleEndian.PutUint32(buf[0:], 1)
	binary.LittleEndian.PutUint64(buf[8:], info)
	binary.LittleEndian.PutUint64(buf[24:], 0x80000000)
	require.NoError(t, fw.Write(mode, buf))

	// EFI_GRAPHICS_OUTPUT_MODE_INFORMATION
	buf = make([]byte, 36)
	binary.LittleEndian.PutUint32(buf[4:], 1024)
	binary.LittleEndian.PutUint32(buf[8:], 768)
	require.NoError(t, fw.Write(info, buf))

	fw.InstallProtocol(uefi.Handle(st.ConsoleOutHandle), uefi.EFI_GRAPHICS_OUTPUT_PROTOCOL_GUID, gop)

	h := uefi.AcquireBootHandle()
	defer h.Release()

	g, err := h.OpenGraphicsOutput()
	require.NoError(t, err)

	pm, err := g.GetMode()
	require.NoError(t, err)
	assert.EqualValues(t, 1, pm.MaxMode)
	assert.EqualValues(t, 0x80000000, pm.FrameBufferBase)

	m, err := g.GetInfo()
	require.NoError(t, err)
	assert.EqualValues(t, 1024, m.HorizontalResolution)
	assert.EqualValues(t, 768, m.VerticalResolution)

	g.Close()
	assert.Empty(t, fw.OpenRecords())

	_, err = g.GetInfo()
	require.ErrorIs(t, err, uefi.ErrProtocolClosed)

	err = g.Blt(make([]byte, 4), uefi.BltOperation(0), 0, 0, 0, 0, 1, 1, 0)
	require.ErrorIs(t, err, uefi.ErrProtocolClosed)
}

func TestGraphicsOutputNull(t *testing.T) {
	fw := setup(t)

	st, err := uefi.GetSystemTable()
	require.NoError(t, err)

	fw.InstallProtocol(uefi.Handle(st.ConsoleOutHandle), uefi.EFI_GRAPHICS_OUTPUT_PROTOCOL_GUID, 0)

	h := uefi.AcquireBootHandle()
	defer h.Release()

	_, err = h.OpenGraphicsOutput()
	require.Error(t, err)

	// the protocol is closed again
	assert.Empty(t, fw.OpenRecords())
	assert.Equal(t, 1, fw.Calls("CloseProtocol"))
}
