// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi_test

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usbarmory/go-efi/uefi"
	"github.com/usbarmory/go-efi/uefi/emu"
)

func TestExitBootServices(t *testing.T) {
	fw := setup(t)

	r, m, err := uefi.ExitBootServices(uefi.EfiLoaderData)
	require.NoError(t, err)
	require.NotNil(t, r)
	require.NotNil(t, m)

	assert.True(t, fw.Exited())
	assert.Equal(t, 1, fw.ExitAttempts())
	assert.Empty(t, fw.Resets())
	assert.False(t, uefi.BootServicesActive())

	// the final map remains in its firmware buffer
	assert.NotZero(t, m.Buffer)
	assert.Equal(t, fw.MapKey(), m.MapKey)
	assert.Equal(t, emu.DefaultMemorySize, totalSize(m))

	rt, err := uefi.SystemTableRuntime()
	require.NoError(t, err)
	assert.Same(t, r, rt)

	_, err = uefi.SystemTableBoot()
	require.Error(t, err)

	_, _, err = uefi.ExitBootServices(uefi.EfiLoaderData)
	require.Error(t, err)

	require.PanicsWithValue(t, "boot services are not active", func() {
		uefi.AcquireBootHandle()
	})

	assert.EqualValues(t, 0, uefi.BootHandleCount())
}

func TestExitBootServicesRetry(t *testing.T) {
	fw := setup(t)
	fw.InvalidateMapKey(1)

	_, _, err := uefi.ExitBootServices(uefi.EfiLoaderData)
	require.NoError(t, err)

	assert.True(t, fw.Exited())
	assert.Equal(t, 2, fw.ExitAttempts())
	assert.Empty(t, fw.Resets())
}

func TestExitBootServicesReset(t *testing.T) {
	fw := setup(t)
	fw.InvalidateMapKey(2)

	b, err := uefi.SystemTableBoot()
	require.NoError(t, err)

	require.Panics(t, func() {
		b.ExitBootServices(uefi.EfiLoaderData)
	})

	assert.False(t, fw.Exited())
	assert.Equal(t, 2, fw.ExitAttempts())
	assert.Equal(t, []emu.Reset{{Type: uefi.EfiResetCold, Status: uefi.EFI_INVALID_PARAMETER}}, fw.Resets())

	// the boot view is consumed regardless of the outcome
	require.PanicsWithValue(t, "boot services already exited", func() {
		b.ExitBootServices(uefi.EfiLoaderData)
	})
}

func TestExitBootServicesLiveHandle(t *testing.T) {
	fw := setup(t)

	h := uefi.AcquireBootHandle()

	b, err := uefi.SystemTableBoot()
	require.NoError(t, err)

	require.PanicsWithValue(t, "cannot exit boot services with 1 live boot handles", func() {
		b.ExitBootServices(uefi.EfiLoaderData)
	})

	assert.Zero(t, fw.ExitAttempts())
	assert.True(t, uefi.BootServicesActive())

	// the boot handle remains usable
	assert.NotPanics(t, func() {
		h.Header()
	})

	h.Release()

	_, m := b.ExitBootServices(uefi.EfiLoaderData)
	assert.NotNil(t, m)
	assert.True(t, fw.Exited())
}

func TestExitBootServicesNotifications(t *testing.T) {
	fw := setup(t)
	notify, n := counter(fw)

	var hooks int
	var buf bytes.Buffer

	h := uefi.AcquireBootHandle()

	_, err := h.CreateEvent(uefi.EVT_SIGNAL_EXIT_BOOT_SERVICES, uefi.TPL_CALLBACK, notify, 0)
	require.NoError(t, err)

	h.Release()

	uefi.OnExitBootServices(func() {
		hooks++
	})

	uefi.Log.SetOutput(&buf)
	defer uefi.Log.SetOutput(nil)

	logger := log.New(uefi.Log, "", 0)
	logger.Print("before")

	_, _, err = uefi.ExitBootServices(uefi.EfiLoaderData)
	require.NoError(t, err)

	logger.Print("after")

	assert.Equal(t, 1, *n)
	assert.Equal(t, 1, hooks)
	assert.False(t, uefi.Log.Enabled())
	assert.Equal(t, "before\n", buf.String())
}

func TestExitBootServicesHookRelease(t *testing.T) {
	fw := setup(t)
	fw.InstallProtocol(0, snp, 0x8000)

	nic, err := uefi.OpenNetwork()
	require.NoError(t, err)

	uefi.OnExitBootServices(func() {
		if nic != nil {
			nic.Close()
			nic = nil
		}
	})

	_, _, err = uefi.ExitBootServices(uefi.EfiLoaderData)
	require.NoError(t, err)

	assert.Nil(t, nic)
	assert.Empty(t, fw.OpenRecords())
	assert.True(t, fw.Exited())
}

func TestResetSystem(t *testing.T) {
	fw := setup(t)

	require.NoError(t, uefi.ResetSystem(uefi.EfiResetWarm))

	_, _, err := uefi.ExitBootServices(uefi.EfiLoaderData)
	require.NoError(t, err)

	require.NoError(t, uefi.ResetSystem(uefi.EfiResetShutdown))

	assert.Equal(t, []emu.Reset{
		{Type: uefi.EfiResetWarm},
		{Type: uefi.EfiResetShutdown},
	}, fw.Resets())
}
