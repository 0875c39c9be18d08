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

var pe = []byte("MZ\x90\x00\x03\x00\x00\x00payload")

func TestLoadImage(t *testing.T) {
	fw := setup(t)

	h := uefi.AcquireBootHandle()
	defer h.Release()

	image, err := h.LoadImage(uefi.ImageHandle(), uefi.LoadImageSource{Buffer: pe})
	require.NoError(t, err)
	assert.Equal(t, []uefi.Handle{image}, fw.LoadedImages())

	li, err := h.LoadedImage(image)
	require.NoError(t, err)
	assert.EqualValues(t, fw.ImageHandle(), li.ParentHandle)
	assert.EqualValues(t, len(pe), li.ImageSize)
	assert.EqualValues(t, uefi.EfiLoaderCode, li.ImageCodeType)
	assert.Empty(t, fw.OpenRecords())

	buf := make([]byte, li.ImageSize)
	require.NoError(t, fw.Read(li.ImageBase, buf))
	assert.Equal(t, pe, buf)

	require.NoError(t, h.UnloadImage(image))
	assert.Empty(t, fw.LoadedImages())

	require.ErrorIs(t, h.UnloadImage(image), uefi.ErrInvalidParameter)
}

func TestLoadImageInvalid(t *testing.T) {
	fw := setup(t)

	h := uefi.AcquireBootHandle()
	defer h.Release()

	_, err := h.LoadImage(uefi.ImageHandle(), uefi.LoadImageSource{})
	require.ErrorIs(t, err, uefi.ErrInvalidParameter)
	assert.Zero(t, fw.Calls("LoadImage"))

	_, err = h.LoadImage(uefi.ImageHandle(), uefi.LoadImageSource{Buffer: []byte("\x7fELF")})
	assert.Equal(t, uefi.EFI_LOAD_ERROR, uefi.StatusOf(err))

	_, err = h.LoadImage(uefi.ImageHandle(), uefi.LoadImageSource{FilePath: 0x4000})
	require.ErrorIs(t, err, uefi.ErrNotFound)

	// the parent must be an image
	_, err = h.LoadImage(uefi.Handle(fw.Firmware().SystemTable.ConsoleInHandle), uefi.LoadImageSource{Buffer: pe})
	require.ErrorIs(t, err, uefi.ErrInvalidParameter)

	assert.Empty(t, fw.LoadedImages())
}

func TestStartImage(t *testing.T) {
	var started []byte

	fw := setup(t)

	fw.SetEntry(func(_ uefi.Handle, data []byte) (uefi.Status, string) {
		started = data
		return uefi.EFI_SUCCESS, ""
	})

	image, err := uefi.LoadImage(pe)
	require.NoError(t, err)

	h := uefi.AcquireBootHandle()
	defer h.Release()

	data, err := h.StartImage(image)
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.Equal(t, pe, started)

	// applications are unloaded once they return
	assert.Empty(t, fw.LoadedImages())

	_, err = h.StartImage(image)
	require.ErrorIs(t, err, uefi.ErrInvalidParameter)
}

func TestStartImageExitData(t *testing.T) {
	fw := setup(t)

	fw.SetEntry(func(uefi.Handle, []byte) (uefi.Status, string) {
		return uefi.EFI_ABORTED, "boot failed"
	})

	h := uefi.AcquireBootHandle()
	defer h.Release()

	image, err := h.LoadImage(uefi.ImageHandle(), uefi.LoadImageSource{Buffer: pe})
	require.NoError(t, err)

	data, err := h.StartImage(image)
	require.ErrorIs(t, err, uefi.ErrAborted)
	assert.Equal(t, "boot failed", data)
	assert.Contains(t, err.Error(), "boot failed")

	// the exit data buffer is freed
	assert.Equal(t, 1, fw.Calls("FreePool"))
	assert.Zero(t, fw.OutstandingPool())
}

func TestStartImageExit(t *testing.T) {
	fw := setup(t)

	h := uefi.AcquireBootHandle()
	defer h.Release()

	fw.SetEntry(func(image uefi.Handle, _ []byte) (uefi.Status, string) {
		assert.NoError(t, h.Exit(image, uefi.EFI_ACCESS_DENIED))
		return uefi.EFI_SUCCESS, ""
	})

	image, err := h.LoadImage(uefi.ImageHandle(), uefi.LoadImageSource{Buffer: pe})
	require.NoError(t, err)

	_, err = h.StartImage(image)
	require.ErrorIs(t, err, uefi.ErrAccessDenied)

	assert.Equal(t, []emu.ImageExit{
		{Image: image, Status: uefi.EFI_ACCESS_DENIED},
	}, fw.Exits())
}

func TestExitUnstartedImage(t *testing.T) {
	fw := setup(t)

	h := uefi.AcquireBootHandle()
	defer h.Release()

	image, err := h.LoadImage(uefi.ImageHandle(), uefi.LoadImageSource{Buffer: pe})
	require.NoError(t, err)

	require.NoError(t, h.Exit(image, uefi.EFI_SUCCESS))
	assert.Empty(t, fw.LoadedImages())

	require.ErrorIs(t, h.Exit(image, uefi.EFI_SUCCESS), uefi.ErrInvalidParameter)
}
