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

func TestBootHandleCount(t *testing.T) {
	setup(t)

	h := uefi.AcquireBootHandle()
	assert.EqualValues(t, 1, uefi.BootHandleCount())

	c := h.Clone()
	assert.EqualValues(t, 2, uefi.BootHandleCount())

	h.Release()
	assert.EqualValues(t, 1, uefi.BootHandleCount())

	// clones are independent from their origin
	assert.Equal(t, uint32(emu.DefaultRevision), c.Header().Revision)

	c.Release()
	assert.EqualValues(t, 0, uefi.BootHandleCount())
}

func TestBootHandleReleaseTwice(t *testing.T) {
	setup(t)

	h := uefi.AcquireBootHandle()
	h.Release()

	require.PanicsWithValue(t, "boot handle released twice", h.Release)
	assert.EqualValues(t, 0, uefi.BootHandleCount())
}

func TestBootHandleUseAfterRelease(t *testing.T) {
	setup(t)

	h := uefi.AcquireBootHandle()
	h.Release()

	require.PanicsWithValue(t, "invalid boot handle use after release", func() {
		h.Header()
	})

	require.Panics(t, func() {
		h.Clone()
	})
}

func TestInitWithLiveHandles(t *testing.T) {
	setup(t)

	h := uefi.AcquireBootHandle()
	defer h.Release()

	require.Panics(t, func() {
		_ = emu.New().Init()
	})
}

func TestInitInvalid(t *testing.T) {
	fw := emu.New().Firmware()
	fw.SystemTable.Header.Signature = 0

	require.Error(t, uefi.Init(fw))
	require.Error(t, uefi.Init(nil))

	fw = emu.New().Firmware()
	fw.Memory = nil

	require.Error(t, uefi.Init(fw))
}

func TestSystemTable(t *testing.T) {
	fw := setup(t)

	assert.Equal(t, fw.ImageHandle(), uefi.ImageHandle())
	assert.True(t, uefi.BootServicesActive())

	st, err := uefi.GetSystemTable()
	require.NoError(t, err)
	assert.Equal(t, "2.7", st.Header.RevisionString())

	_, err = uefi.SystemTableBoot()
	require.NoError(t, err)

	_, err = uefi.SystemTableRuntime()
	require.Error(t, err)
}

func TestRevisionString(t *testing.T) {
	assert.Equal(t, "2.0", uefi.TableHeader{Revision: uefi.EFI_2_00_SYSTEM_TABLE_REVISION}.RevisionString())
	assert.Equal(t, "2.10", uefi.TableHeader{Revision: uefi.EFI_2_10_SYSTEM_TABLE_REVISION}.RevisionString())
	assert.Equal(t, "2.3.1", uefi.TableHeader{Revision: 2<<16 | 31}.RevisionString())
}
