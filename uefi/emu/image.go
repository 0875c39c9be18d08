// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package emu

import (
	"bytes"
	"encoding/binary"
	"unicode/utf16"

	"github.com/usbarmory/go-efi/uefi"
)

// DOS header signature, present on all PE/COFF images
var imageSignature = []byte("MZ")

// EFI_LOADED_IMAGE_PROTOCOL revision
const loadedImageRevision = 0x1000

// Entry represents an emulated image entry point, its return values are the
// image exit status and exit data.
type Entry func(image uefi.Handle, data []byte) (uefi.Status, string)

// ImageExit represents an EFI_BOOT_SERVICES.Exit() invocation.
type ImageExit struct {
	Image  uefi.Handle
	Status uefi.Status
	Data   string
}

// ControllerRecord represents an EFI_BOOT_SERVICES.ConnectController() or
// EFI_BOOT_SERVICES.DisconnectController() invocation.
type ControllerRecord struct {
	Connect    bool
	Controller uefi.Handle
	Drivers    []uefi.Handle
	Child      uefi.Handle
	Recursive  bool
}

type image struct {
	parent  uefi.Handle
	data    []byte
	started bool
	running bool

	// Exit() invoked while running
	exit *ImageExit
}

type images struct {
	loaded      map[uefi.Handle]*image
	entry       Entry
	exits       []ImageExit
	controllers []ControllerRecord
}

func (im *images) init() {
	im.loaded = make(map[uefi.Handle]*image)
}

// SetEntry sets the entry point invoked by EFI_BOOT_SERVICES.StartImage(),
// images exit with EFI_SUCCESS and no exit data when unset.
func (f *Firmware) SetEntry(fn Entry) {
	f.Lock()
	defer f.Unlock()

	f.entry = fn
}

// LoadedImages returns the handles of loaded images, excluding the running
// one.
func (f *Firmware) LoadedImages() (handles []uefi.Handle) {
	f.Lock()
	defer f.Unlock()

	for _, h := range f.sortedHandles() {
		if _, ok := f.loaded[h]; ok {
			handles = append(handles, h)
		}
	}

	return
}

// Exits returns all EFI_BOOT_SERVICES.Exit() invocations.
func (f *Firmware) Exits() []ImageExit {
	f.Lock()
	defer f.Unlock()

	return append([]ImageExit(nil), f.exits...)
}

// Controllers returns all EFI_BOOT_SERVICES.ConnectController() and
// EFI_BOOT_SERVICES.DisconnectController() invocations.
func (f *Firmware) Controllers() []ControllerRecord {
	f.Lock()
	defer f.Unlock()

	return append([]ControllerRecord(nil), f.controllers...)
}

// isImage returns whether a handle exposes EFI_LOADED_IMAGE_PROTOCOL, it must
// be called with the lock held.
func (f *Firmware) isImage(h uefi.Handle) bool {
	hd, ok := f.handles[h]

	if !ok {
		return false
	}

	_, ok = hd.interfaces[uefi.EFI_LOADED_IMAGE_PROTOCOL_GUID]

	return ok
}

// unload removes an image handle with all its protocols, it must be called
// with the lock held.
func (f *Firmware) unload(h uefi.Handle) {
	delete(f.loaded, h)
	delete(f.handles, h)

	opens := f.opens[:0]

	for _, r := range f.opens {
		if r.Handle != h && r.Agent != h {
			opens = append(opens, r)
		}
	}

	f.opens = opens
}

// LoadImage implements [uefi.BootTable], only buffer sources are supported.
func (s *BootServices) LoadImage(bootPolicy bool, parent uefi.Handle, devicePath uint64, buf []byte, out *uefi.Handle) uefi.Status {
	s.Lock()
	defer s.Unlock()

	s.enter("LoadImage")

	if out == nil || !s.isImage(parent) {
		return uefi.EFI_INVALID_PARAMETER
	}

	if len(buf) == 0 {
		if devicePath == 0 || bootPolicy {
			return uefi.EFI_INVALID_PARAMETER
		}

		// no file system is emulated
		return uefi.EFI_NOT_FOUND
	}

	if !bytes.HasPrefix(buf, imageSignature) {
		return uefi.EFI_LOAD_ERROR
	}

	data := append([]byte(nil), buf...)
	base := s.allocateInternal(len(data))
	s.write(base, data)

	li := &uefi.LoadedImage{
		Revision:      loadedImageRevision,
		ParentHandle:  uint64(parent),
		SystemTable:   s.systemTableAddr,
		FilePath:      devicePath,
		ImageBase:     base,
		ImageSize:     uint64(len(data)),
		ImageCodeType: uint32(uefi.EfiLoaderCode),
		ImageDataType: uint32(uefi.EfiLoaderData),
	}

	b, err := binary.Append(nil, binary.LittleEndian, li)

	if err != nil {
		return uefi.EFI_LOAD_ERROR
	}

	addr := s.allocateInternal(len(b))
	s.write(addr, b)

	h := s.installProtocol(0, uefi.EFI_LOADED_IMAGE_PROTOCOL_GUID, addr)

	s.loaded[h] = &image{
		parent: parent,
		data:   data,
	}

	*out = h

	return uefi.EFI_SUCCESS
}

// StartImage implements [uefi.BootTable], the image entry point runs with the
// lock released and the image is unloaded once it returns.
func (s *BootServices) StartImage(h uefi.Handle, exitDataSize *uint64, exitData *uint64) uefi.Status {
	s.Lock()
	defer s.Unlock()

	s.enter("StartImage")

	im, ok := s.loaded[h]

	if !ok || im.started {
		return uefi.EFI_INVALID_PARAMETER
	}

	im.started = true
	im.running = true

	status := uefi.EFI_SUCCESS
	data := ""

	if entry := s.entry; entry != nil {
		s.Unlock()
		status, data = entry(h, im.data)
		s.Lock()
	}

	im.running = false

	if im.exit != nil {
		status, data = im.exit.Status, im.exit.Data
	}

	s.unload(h)

	if data == "" || exitDataSize == nil || exitData == nil {
		return status
	}

	var buf []byte

	for _, c := range utf16.Encode([]rune(data)) {
		buf = binary.LittleEndian.AppendUint16(buf, c)
	}

	buf = append(buf, 0, 0)

	if addr, ok := s.poolCopy(buf); ok {
		*exitData = addr
		*exitDataSize = uint64(len(buf))
	}

	return status
}

// Exit implements [uefi.BootTable].
//
// On the running image the exit is recorded and the call returns, on a
// started image the exit status replaces its entry point return values.
func (s *BootServices) Exit(h uefi.Handle, status uefi.Status, exitDataSize uint64, exitData uint64) uefi.Status {
	s.Lock()
	defer s.Unlock()

	s.enter("Exit")

	e := ImageExit{
		Image:  h,
		Status: status,
	}

	if exitData != 0 && exitDataSize >= 2 {
		buf := make([]byte, exitDataSize&^1)

		if !s.contains(exitData, len(buf)) {
			return uefi.EFI_INVALID_PARAMETER
		}

		copy(buf, s.buf[exitData-s.base:])

		var c []uint16

		for i := 0; i < len(buf); i += 2 {
			v := binary.LittleEndian.Uint16(buf[i:])

			if v == 0 {
				break
			}

			c = append(c, v)
		}

		e.Data = string(utf16.Decode(c))
	}

	if h == s.imageHandle {
		s.exits = append(s.exits, e)
		return uefi.EFI_SUCCESS
	}

	im, ok := s.loaded[h]

	if !ok {
		return uefi.EFI_INVALID_PARAMETER
	}

	s.exits = append(s.exits, e)

	switch {
	case im.running:
		im.exit = &e
	case !im.started:
		s.unload(h)
	default:
		return uefi.EFI_INVALID_PARAMETER
	}

	return uefi.EFI_SUCCESS
}

// UnloadImage implements [uefi.BootTable], started images have no unload
// function.
func (s *BootServices) UnloadImage(h uefi.Handle) uefi.Status {
	s.Lock()
	defer s.Unlock()

	s.enter("UnloadImage")

	im, ok := s.loaded[h]

	if !ok {
		return uefi.EFI_INVALID_PARAMETER
	}

	if im.started {
		return uefi.EFI_UNSUPPORTED
	}

	s.unload(h)

	return uefi.EFI_SUCCESS
}

// ConnectController implements [uefi.BootTable], no driver binding is
// emulated therefore connections succeed only with explicit drivers.
func (s *BootServices) ConnectController(controller uefi.Handle, drivers []uefi.Handle, _ uint64, recursive bool) uefi.Status {
	s.Lock()
	defer s.Unlock()

	s.enter("ConnectController")

	if _, ok := s.handles[controller]; !ok {
		return uefi.EFI_INVALID_PARAMETER
	}

	for _, d := range drivers {
		if _, ok := s.handles[d]; !ok {
			return uefi.EFI_INVALID_PARAMETER
		}
	}

	s.controllers = append(s.controllers, ControllerRecord{
		Connect:    true,
		Controller: controller,
		Drivers:    append([]uefi.Handle(nil), drivers...),
		Recursive:  recursive,
	})

	if len(drivers) == 0 {
		return uefi.EFI_NOT_FOUND
	}

	return uefi.EFI_SUCCESS
}

// DisconnectController implements [uefi.BootTable].
func (s *BootServices) DisconnectController(controller uefi.Handle, driver uefi.Handle, child uefi.Handle) uefi.Status {
	s.Lock()
	defer s.Unlock()

	s.enter("DisconnectController")

	if _, ok := s.handles[controller]; !ok {
		return uefi.EFI_INVALID_PARAMETER
	}

	if driver != 0 {
		if _, ok := s.handles[driver]; !ok {
			return uefi.EFI_INVALID_PARAMETER
		}
	}

	s.controllers = append(s.controllers, ControllerRecord{
		Controller: controller,
		Drivers:    []uefi.Handle{driver},
		Child:      child,
	})

	return uefi.EFI_SUCCESS
}
