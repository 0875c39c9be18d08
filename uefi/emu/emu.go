// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package emu implements an emulated EFI firmware, providing boot and runtime
// services to package uefi outside of a real UEFI environment.
//
// The emulation follows the UEFI specification closely enough to exercise
// applications resource management: memory is allocated from a flat address
// space, protocols are installed on handles and track their open records,
// events honor task priority levels and timers run on the host clock.
//
// Fault injection and instrumentation functions allow to observe firmware
// interactions and reproduce firmware failures.
package emu

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/usbarmory/go-efi/uefi"
)

// Defaults
const (
	DefaultRevision   = uefi.EFI_2_70_SYSTEM_TABLE_REVISION
	DefaultMemorySize = 16 << 20
	DefaultBase       = 0x00100000

	// DescriptorSize is the memory map descriptor stride, larger than
	// EFI_MEMORY_DESCRIPTOR as on most firmware implementations.
	DescriptorSize = 48
)

// FirmwareVendor (UTF-16)
const vendor = "e\x00m\x00u\x00\x00\x00"

// Simple Text protocol interface size
const consoleSize = 0x50

// table header signatures
const (
	bootServicesSignature    = 0x56524553544f4f42 // BOOTSERV
	runtimeServicesSignature = 0x56524553544e5552 // RUNTSERV
)

// Option represents a firmware configuration option.
type Option func(*Firmware)

// WithRevision sets the firmware tables revision.
func WithRevision(revision uint32) Option {
	return func(f *Firmware) {
		f.revision = revision
	}
}

// WithMemorySize sets the size of the emulated address space.
func WithMemorySize(size int) Option {
	return func(f *Firmware) {
		f.size = size
	}
}

// WithConfigurationTable adds an entry to the EFI Configuration Table.
func WithConfigurationTable(guid uefi.GUID, vendorTable uint64) Option {
	return func(f *Firmware) {
		f.config = append(f.config, uefi.ConfigurationTable{
			GUID:        guid,
			VendorTable: vendorTable,
		})
	}
}

// Reset represents an invocation of EFI_RUNTIME_SERVICES.ResetSystem().
type Reset struct {
	Type   uefi.ResetType
	Status uefi.Status
}

// Firmware represents an emulated EFI firmware instance.
type Firmware struct {
	sync.Mutex

	revision uint32
	size     int
	config   []uefi.ConfigurationTable

	systemTable     *uefi.SystemTable
	systemTableAddr uint64
	imageHandle     uefi.Handle

	memory
	events
	protocols
	images

	exited       bool
	exitAttempts int
	watchdog     uint64
	resets       []Reset
	calls        map[string]int

	// fault injection
	mapInvalidations    int
	closeProtocolStatus uefi.Status
	closeEventStatus    uefi.Status
}

// New returns an emulated firmware instance, the running image is installed
// as its first handle.
func New(options ...Option) (f *Firmware) {
	f = &Firmware{
		revision: DefaultRevision,
		size:     DefaultMemorySize,
		calls:    make(map[string]int),
	}

	for _, opt := range options {
		opt(f)
	}

	f.memory.init(DefaultBase, f.size)
	f.events.init()
	f.protocols.init()
	f.images.init()

	f.imageHandle = f.installProtocol(0, uefi.EFI_LOADED_IMAGE_PROTOCOL_GUID, f.allocateInternal(uefi.PageSize))

	conIn := f.allocateInternal(consoleSize)
	conOut := f.allocateInternal(consoleSize)

	f.systemTable = &uefi.SystemTable{
		Header: uefi.TableHeader{
			Signature: uefi.EFI_SYSTEM_TABLE_SIGNATURE,
			Revision:  f.revision,
		},
		FirmwareVendor:       f.allocateInternal(len(vendor)),
		FirmwareRevision:     0x10000,
		ConsoleInHandle:      uint64(f.installProtocol(0, uefi.EFI_SIMPLE_TEXT_INPUT_PROTOCOL_GUID, conIn)),
		ConIn:                conIn,
		ConsoleOutHandle:     uint64(f.installProtocol(0, uefi.EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL_GUID, conOut)),
		ConOut:               conOut,
	}

	f.write(f.systemTable.FirmwareVendor, []byte(vendor))

	f.systemTableAddr = f.allocateInternal(binary.Size(f.systemTable))
	f.writeConfiguration()

	return
}

// writeConfiguration updates the EFI Configuration Table and the System Table
// in the emulated address space, it must be called with the lock held.
//
// The System Table is replaced rather than modified, as earlier copies are
// shared with package uefi.
func (f *Firmware) writeConfiguration() {
	var buf []byte

	st := *f.systemTable
	st.NumberOfTableEntries = uint64(len(f.config))
	st.ConfigurationTable = 0

	for _, t := range f.config {
		buf = append(buf, t.GUID[:]...)
		buf = appendUint64(buf, t.VendorTable)
	}

	if len(buf) > 0 {
		st.ConfigurationTable = f.allocateInternal(len(buf))
		f.write(st.ConfigurationTable, buf)
	}

	b, err := binary.Append(nil, binary.LittleEndian, &st)

	if err != nil {
		panic(err)
	}

	f.write(f.systemTableAddr, b)
	f.systemTable = &st
}

// Init installs the emulated firmware as the package uefi environment.
func (f *Firmware) Init() error {
	return uefi.Init(f.Firmware())
}

// Firmware returns the firmware environment handed to the image entry point.
func (f *Firmware) Firmware() *uefi.Firmware {
	return &uefi.Firmware{
		ImageHandle:        f.imageHandle,
		SystemTable:        f.systemTable,
		SystemTableAddress: f.systemTableAddr,
		Boot:               &BootServices{f},
		Runtime:            &RuntimeServices{f},
		Memory:             f,
	}
}

// ImageHandle returns the handle of the running image.
func (f *Firmware) ImageHandle() uefi.Handle {
	return f.imageHandle
}

// enter accounts a boot service invocation, it must be called with the lock
// held. Boot services invoked after exit are fatal.
func (f *Firmware) enter(name string) {
	f.calls[name]++

	if f.exited {
		panic(fmt.Sprintf("%s invoked after ExitBootServices", name))
	}
}

// Calls returns the number of invocations of a boot or runtime service, by
// its specification name (e.g. "CloseProtocol").
func (f *Firmware) Calls(name string) int {
	f.Lock()
	defer f.Unlock()

	return f.calls[name]
}

// Exited returns whether boot services have been exited.
func (f *Firmware) Exited() bool {
	f.Lock()
	defer f.Unlock()

	return f.exited
}

// ExitAttempts returns the number of EFI_BOOT_SERVICES.ExitBootServices()
// invocations.
func (f *Firmware) ExitAttempts() int {
	f.Lock()
	defer f.Unlock()

	return f.exitAttempts
}

// Resets returns all EFI_RUNTIME_SERVICES.ResetSystem() invocations.
func (f *Firmware) Resets() []Reset {
	f.Lock()
	defer f.Unlock()

	return append([]Reset(nil), f.resets...)
}

// Watchdog returns the current watchdog timeout in seconds.
func (f *Firmware) Watchdog() uint64 {
	f.Lock()
	defer f.Unlock()

	return f.watchdog
}

// InvalidateMapKey makes the next n memory map snapshots stale, as if an
// allocation happened right after each of them.
func (f *Firmware) InvalidateMapKey(n int) {
	f.Lock()
	defer f.Unlock()

	f.mapInvalidations = n
}

// FailCloseProtocol makes EFI_BOOT_SERVICES.CloseProtocol() return the
// argument status, EFI_SUCCESS restores normal behavior.
func (f *Firmware) FailCloseProtocol(status uefi.Status) {
	f.Lock()
	defer f.Unlock()

	f.closeProtocolStatus = status
}

// FailCloseEvent makes EFI_BOOT_SERVICES.CloseEvent() return the argument
// status, EFI_SUCCESS restores normal behavior.
func (f *Firmware) FailCloseEvent(status uefi.Status) {
	f.Lock()
	defer f.Unlock()

	f.closeEventStatus = status
}

// BootServices implements [uefi.BootTable] over an emulated firmware.
type BootServices struct {
	*Firmware
}

// Header implements [uefi.BootTable].
func (s *BootServices) Header() uefi.TableHeader {
	return uefi.TableHeader{
		Signature: bootServicesSignature,
		Revision:  s.revision,
	}
}

// ExitBootServices implements [uefi.BootTable].
func (s *BootServices) ExitBootServices(image uefi.Handle, mapKey uint64) uefi.Status {
	s.Lock()
	s.enter("ExitBootServices")
	s.exitAttempts++

	if image != s.imageHandle {
		s.Unlock()
		return uefi.EFI_INVALID_PARAMETER
	}

	if mapKey != s.mapKey {
		s.Unlock()
		return uefi.EFI_INVALID_PARAMETER
	}

	notify := s.exitNotifications()
	s.exited = true
	s.Unlock()

	for _, n := range notify {
		n()
	}

	return uefi.EFI_SUCCESS
}

// ConfigurationTables returns the current EFI Configuration Table entries.
func (f *Firmware) ConfigurationTables() []uefi.ConfigurationTable {
	f.Lock()
	defer f.Unlock()

	return append([]uefi.ConfigurationTable(nil), f.config...)
}

// InstallConfigurationTable implements [uefi.BootTable].
func (s *BootServices) InstallConfigurationTable(guid *uefi.GUID, table uint64) uefi.Status {
	s.Lock()
	defer s.Unlock()

	s.enter("InstallConfigurationTable")

	if guid == nil {
		return uefi.EFI_INVALID_PARAMETER
	}

	i := -1

	for j, t := range s.config {
		if t.GUID == *guid {
			i = j
			break
		}
	}

	switch {
	case i < 0 && table == 0:
		return uefi.EFI_NOT_FOUND
	case i < 0:
		s.config = append(s.config, uefi.ConfigurationTable{GUID: *guid, VendorTable: table})
	case table == 0:
		s.config = append(s.config[:i], s.config[i+1:]...)
	default:
		s.config[i].VendorTable = table
	}

	s.writeConfiguration()

	return uefi.EFI_SUCCESS
}

// SetWatchdogTimer implements [uefi.BootTable].
func (s *BootServices) SetWatchdogTimer(timeout uint64, _ uint64) uefi.Status {
	s.Lock()
	defer s.Unlock()

	s.enter("SetWatchdogTimer")
	s.watchdog = timeout

	return uefi.EFI_SUCCESS
}

// RuntimeServices implements [uefi.RuntimeTable] over an emulated firmware.
type RuntimeServices struct {
	*Firmware
}

// Header implements [uefi.RuntimeTable].
func (s *RuntimeServices) Header() uefi.TableHeader {
	return uefi.TableHeader{
		Signature: runtimeServicesSignature,
		Revision:  s.revision,
	}
}

// ResetSystem implements [uefi.RuntimeTable], the emulated platform records
// the request and returns.
func (s *RuntimeServices) ResetSystem(resetType uefi.ResetType, status uefi.Status) uefi.Status {
	s.Lock()
	defer s.Unlock()

	s.calls["ResetSystem"]++
	s.resets = append(s.resets, Reset{
		Type:   resetType,
		Status: status,
	})

	return uefi.EFI_SUCCESS
}
