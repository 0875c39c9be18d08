// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

import (
	"encoding/binary"
	"unicode/utf16"
)

// LoadImageSource represents the origin of an image to be loaded.
type LoadImageSource struct {
	// Buffer holds the image contents, when empty the image is loaded from
	// FilePath.
	Buffer []byte
	// FilePath is the address of the image EFI_DEVICE_PATH_PROTOCOL, it may
	// be null for buffer sources.
	FilePath uint64
	// BootPolicy is set when the request originates from the boot manager.
	BootPolicy bool
}

// LoadedImage represents an EFI_LOADED_IMAGE_PROTOCOL.
type LoadedImage struct {
	Revision        uint32
	_               uint32
	ParentHandle    uint64
	SystemTable     uint64
	DeviceHandle    uint64
	FilePath        uint64
	Reserved        uint64
	LoadOptionsSize uint32
	_               uint32
	LoadOptions     uint64
	ImageBase       uint64
	ImageSize       uint64
	ImageCodeType   uint32
	ImageDataType   uint32
	Unload          uint64
}

// LoadImage calls EFI_BOOT_SERVICES.LoadImage() and returns the handle of the
// loaded image, which must be started or unloaded.
//
// Images failing authentication are unloaded before returning
// EFI_SECURITY_VIOLATION.
func (h *BootHandle) LoadImage(parent Handle, src LoadImageSource) (image Handle, err error) {
	if len(src.Buffer) == 0 && src.FilePath == 0 {
		return 0, EFI_INVALID_PARAMETER.ErrData("empty image source")
	}

	status := h.table().LoadImage(src.BootPolicy, parent, src.FilePath, src.Buffer, &image)

	if status == EFI_SECURITY_VIOLATION && image != 0 {
		_ = h.table().UnloadImage(image)
		return 0, status.Err()
	}

	if err = parseStatus(status); err != nil {
		return 0, err
	}

	return
}

// LoadImage loads an image, from a buffer, as child of the running image using
// a temporary boot handle.
func LoadImage(buf []byte) (Handle, error) {
	return withBootHandle(func(h *BootHandle) (Handle, error) {
		return h.LoadImage(ImageHandle(), LoadImageSource{Buffer: buf})
	})
}

// LoadedImage returns the EFI_LOADED_IMAGE_PROTOCOL of an image.
func (h *BootHandle) LoadedImage(image Handle) (li *LoadedImage, err error) {
	params := OpenProtocolParams{
		Handle: image,
		Agent:  ImageHandle(),
	}

	p, err := h.OpenProtocol(params, EFI_LOADED_IMAGE_PROTOCOL_GUID, EFI_OPEN_PROTOCOL_GET_PROTOCOL)

	if err != nil {
		return
	}

	defer p.Close()

	addr, err := p.address()

	if err != nil {
		return
	}

	li = &LoadedImage{}

	return li, readStruct(h.memory(), addr, li)
}

// StartImage calls EFI_BOOT_SERVICES.StartImage() and returns the image exit
// data string, the returned error carries it as well when the image fails.
//
// The exit data buffer is freed before returning.
func (h *BootHandle) StartImage(image Handle) (exitData string, err error) {
	var size uint64
	var addr uint64

	status := h.table().StartImage(image, &size, &addr)

	if addr != 0 {
		exitData, err = h.exitData(addr, size)
		_ = h.FreePool(addr)

		if err != nil {
			return
		}
	}

	if exitData == "" {
		return "", parseStatus(status)
	}

	return exitData, status.ErrData(exitData)
}

// exitData decodes the null terminated UTF-16 string at the beginning of an
// exit data buffer, any trailing binary data is ignored.
func (h *BootHandle) exitData(addr uint64, size uint64) (string, error) {
	var s []uint16

	buf := make([]byte, size&^1)

	if err := h.memory().Read(addr, buf); err != nil {
		return "", err
	}

	for i := 0; i < len(buf); i += 2 {
		c := binary.LittleEndian.Uint16(buf[i:])

		if c == 0 {
			break
		}

		s = append(s, c)
	}

	return string(utf16.Decode(s)), nil
}

// Exit calls EFI_BOOT_SERVICES.Exit() without exit data, the call does not
// return when image is the running image.
func (h *BootHandle) Exit(image Handle, status Status) error {
	return parseStatus(h.table().Exit(image, status, 0, 0))
}

// UnloadImage calls EFI_BOOT_SERVICES.UnloadImage().
func (h *BootHandle) UnloadImage(image Handle) error {
	return parseStatus(h.table().UnloadImage(image))
}
