// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

import (
	"errors"
)

// EFI Graphics Output Protocol offsets
const (
	blt = 0x10
)

// BltOperation represents an EFI_GRAPHICS_OUTPUT_BLT_OPERATION.
type BltOperation int

// EFI_GRAPHICS_OUTPUT_BLT_OPERATION
const (
	EfiBltVideoFill BltOperation = iota
	EfiBltVideoToBltBuffer
	EfiBltBufferToVideo
	EfiBltVideoToVideo
	EfiGraphicsOutputBltOperationMax
)

// ModeInformation represents an EFI Graphics Output Mode Information instance.
type ModeInformation struct {
	Version              uint32
	HorizontalResolution uint32
	VerticalResolution   uint32
	PixelFormat          uint32
	RedMask              uint32
	GreenMask            uint32
	BlueMask             uint32
	ReservedMask         uint32
	PixelsPerScanLine    uint32
}

// ProtocolMode represents an EFI Graphics Output Protocol Mode instance.
type ProtocolMode struct {
	MaxMode         uint32
	Mode            uint32
	Info            uint64
	SizeOfInfo      uint64
	FrameBufferBase uint64
	FrameBufferSize uint64
}

// GraphicsOutput represents an EFI Graphics Output Protocol instance.
type GraphicsOutput struct {
	proto *ScopedProtocol
	mem   Memory
}

// OpenGraphicsOutput opens the EFI Graphics Output Protocol of the console
// output handle, the returned instance borrows the boot handle and must be
// closed with [GraphicsOutput.Close].
//
// The protocol is opened in shared mode as it is also in use by the firmware
// console.
func (h *BootHandle) OpenGraphicsOutput() (gop *GraphicsOutput, err error) {
	t, err := GetSystemTable()

	if err != nil {
		return
	}

	params := OpenProtocolParams{
		Handle: Handle(t.ConsoleOutHandle),
		Agent:  ImageHandle(),
	}

	p, err := h.OpenProtocol(params, EFI_GRAPHICS_OUTPUT_PROTOCOL_GUID, EFI_OPEN_PROTOCOL_GET_PROTOCOL)

	if err != nil {
		return
	}

	if _, ok := p.Interface(); !ok {
		p.Close()
		return nil, errors.New("graphics output interface is null")
	}

	gop = &GraphicsOutput{
		proto: p,
		mem:   h.memory(),
	}

	return
}

// Close closes the protocol instance, subsequent protocol calls return
// [ErrProtocolClosed].
func (gop *GraphicsOutput) Close() {
	gop.proto.Close()
}

// GetMode returns the EFI Graphics Output Mode instance.
func (gop *GraphicsOutput) GetMode() (pm *ProtocolMode, err error) {
	var data struct {
		QueryMode uint64
		SetMode   uint64
		Blt       uint64
		Mode      uint64
	}

	base, err := gop.proto.address()

	if err != nil {
		return
	}

	if err = readStruct(gop.mem, base, &data); err != nil {
		return
	}

	pm = &ProtocolMode{}
	err = readStruct(gop.mem, data.Mode, pm)

	return
}

// GetInfo returns the EFI Graphics Output Mode information instance.
func (gop *GraphicsOutput) GetInfo() (m *ModeInformation, err error) {
	pm, err := gop.GetMode()

	if err != nil {
		return
	}

	m = &ModeInformation{}
	err = readStruct(gop.mem, pm.Info, m)

	return
}

// Blt calls EFI_GRAPHICS_OUTPUT_PROTCOL.Blt().
func (gop *GraphicsOutput) Blt(buf []byte, op BltOperation, srcX, srcY, dstX, dstY, width, height, delta uint64) (err error) {
	base, err := gop.proto.address()

	if err != nil || len(buf) == 0 {
		return
	}

	status := callService(base+blt,
		[]uint64{
			base,
			ptrval(&buf[0]),
			uint64(op),
			srcX,
			srcY,
			dstX,
			dstY,
			width,
			height,
			delta,
		},
	)

	return parseStatus(status)
}
