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
)

func TestLocateHandleBuffer(t *testing.T) {
	fw := setup(t)

	h1 := fw.InstallProtocol(0, snp, 0x5000)
	h2 := fw.InstallProtocol(0, snp, 0x6000)

	hb, err := uefi.LocateHandleBuffer(uefi.SearchByProtocol(snp))
	require.NoError(t, err)
	assert.EqualValues(t, 1, uefi.BootHandleCount())
	assert.Equal(t, []uefi.Handle{h1, h2}, hb.Handles())
	assert.Equal(t, 1, fw.OutstandingPool())

	hb.Close()
	hb.Close()

	assert.Equal(t, 1, fw.Calls("FreePool"))
	assert.Zero(t, fw.OutstandingPool())
	assert.EqualValues(t, 0, uefi.BootHandleCount())

	require.Panics(t, func() {
		hb.Handles()
	})
}

func TestLocateHandleBufferAll(t *testing.T) {
	fw := setup(t)
	handle := fw.InstallProtocol(0, snp, 0x5000)

	h := uefi.AcquireBootHandle()
	defer h.Release()

	hb, err := h.LocateHandleBuffer(uefi.SearchAll())
	require.NoError(t, err)
	defer hb.Close()

	handles := hb.Handles()

	require.NotEmpty(t, handles)
	assert.Equal(t, fw.ImageHandle(), handles[0])
	assert.Equal(t, handle, handles[len(handles)-1])
}

func TestLocateHandleBufferNotFound(t *testing.T) {
	fw := setup(t)

	_, err := uefi.LocateHandleBuffer(uefi.SearchByProtocol(snp))
	require.ErrorIs(t, err, uefi.ErrNotFound)
	assert.EqualValues(t, 0, uefi.BootHandleCount())

	handles, err := uefi.FindHandles(uefi.EFI_LOADED_IMAGE_PROTOCOL_GUID)
	require.NoError(t, err)
	assert.Equal(t, []uefi.Handle{fw.ImageHandle()}, handles)
	assert.Zero(t, fw.OutstandingPool())
}

func TestHandleBufferMakeStatic(t *testing.T) {
	fw := setup(t)
	fw.InstallProtocol(0, snp, 0x5000)

	h := uefi.AcquireBootHandle()

	hb, err := h.LocateHandleBuffer(uefi.SearchByProtocol(snp))
	require.NoError(t, err)

	s := hb.MakeStatic()
	h.Release()

	hb.Close()
	assert.Equal(t, 1, fw.OutstandingPool())

	assert.Len(t, s.Handles(), 1)

	s.Close()
	assert.Zero(t, fw.OutstandingPool())
	assert.EqualValues(t, 0, uefi.BootHandleCount())
}

func TestProtocolsPerHandle(t *testing.T) {
	fw := setup(t)

	handle := fw.InstallProtocol(0, snp, 0x5000)
	fw.InstallProtocol(handle, uefi.EFI_DEVICE_PATH_PROTOCOL_GUID, 0x6000)

	pp, err := uefi.GetProtocolsPerHandle(handle)
	require.NoError(t, err)

	assert.Equal(t, []uefi.GUID{snp, uefi.EFI_DEVICE_PATH_PROTOCOL_GUID}, pp.Protocols())

	pp.Close()
	pp.Close()

	assert.Zero(t, fw.OutstandingPool())
	assert.EqualValues(t, 0, uefi.BootHandleCount())

	_, err = uefi.GetProtocolsPerHandle(0xbad)
	require.ErrorIs(t, err, uefi.ErrInvalidParameter)
	assert.EqualValues(t, 0, uefi.BootHandleCount())
}
