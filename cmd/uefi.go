// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"time"

	"github.com/hako/durafmt"

	"github.com/usbarmory/go-efi/shell"
	"github.com/usbarmory/go-efi/uefi"
)

const guidPattern = `[[:xdigit:]]{8}-[[:xdigit:]]{4}-[[:xdigit:]]{4}-[[:xdigit:]]{4}-[[:xdigit:]]{12}`

func init() {
	shell.Add(shell.Cmd{
		Name: "uefi",
		Help: "UEFI information",
		Fn:   uefiCmd,
	})

	shell.Add(shell.Cmd{
		Name:    "protocol",
		Args:    1,
		Pattern: regexp.MustCompile(`^protocol (` + guidPattern + `)$`),
		Syntax:  "<registry format GUID>",
		Help:    "EFI_BOOT_SERVICES.LocateProtocol()",
		Fn:      bootCmd(locateCmd),
	})

	shell.Add(shell.Cmd{
		Name:    "handles",
		Args:    1,
		Pattern: regexp.MustCompile(`^handles(?: (` + guidPattern + `))?$`),
		Syntax:  "(registry format GUID)?",
		Help:    "EFI_BOOT_SERVICES.LocateHandleBuffer()",
		Fn:      bootCmd(handlesCmd),
	})

	shell.Add(shell.Cmd{
		Name: "memmap",
		Help: "EFI_BOOT_SERVICES.GetMemoryMap()",
		Fn:   bootCmd(memmapCmd),
	})

	shell.Add(shell.Cmd{
		Name: "e820",
		Help: "EFI_BOOT_SERVICES.GetMemoryMap() in E820 format",
		Fn:   bootCmd(e820Cmd),
	})

	shell.Add(shell.Cmd{
		Name:    "alloc",
		Args:    2,
		Pattern: regexp.MustCompile(`^alloc ([[:xdigit:]]+) (\d+)$`),
		Syntax:  "<hex offset> <size>",
		Help:    "EFI_BOOT_SERVICES.AllocatePages()",
		Fn:      bootCmd(allocCmd),
	})

	shell.Add(shell.Cmd{
		Name:    "free",
		Args:    2,
		Pattern: regexp.MustCompile(`^free ([[:xdigit:]]+) (\d+)$`),
		Syntax:  "<hex offset> <size>",
		Help:    "EFI_BOOT_SERVICES.FreePages()",
		Fn:      bootCmd(freeCmd),
	})

	shell.Add(shell.Cmd{
		Name:    "sleep",
		Args:    1,
		Pattern: regexp.MustCompile(`^sleep (\d+)$`),
		Syntax:  "<ms>",
		Help:    "wait on a timer event",
		Fn:      bootCmd(sleepCmd),
	})

	shell.Add(shell.Cmd{
		Name:    "watchdog",
		Args:    1,
		Pattern: regexp.MustCompile(`^watchdog (\d+)$`),
		Syntax:  "<seconds>",
		Help:    "EFI_BOOT_SERVICES.SetWatchdogTimer(), 0 disables",
		Fn:      bootCmd(watchdogCmd),
	})

	shell.Add(shell.Cmd{
		Name: "sev",
		Help: "AMD SEV-SNP configuration table",
		Fn:   sevCmd,
	})

	shell.Add(shell.Cmd{
		Name: "exit-boot",
		Help: "EFI_BOOT_SERVICES.ExitBootServices()",
		Fn:   bootCmd(exitBootCmd),
	})

	shell.Add(shell.Cmd{
		Name:    "reset",
		Args:    1,
		Pattern: regexp.MustCompile(`^reset(?: (cold|warm))?$`),
		Help:    "EFI_RUNTIME_SERVICES.ResetSystem()",
		Syntax:  "(cold|warm)?",
		Fn:      resetCmd,
	})

	shell.Add(shell.Cmd{
		Name:    "halt, shutdown",
		Args:    1,
		Pattern: regexp.MustCompile(`^(halt|shutdown)$`),
		Help:    "shutdown system",
		Fn:      shutdownCmd,
	})
}

// bootCmd wraps commands which require EFI Boot Services.
func bootCmd(fn shell.CmdFn) shell.CmdFn {
	return func(iface *shell.Interface, arg []string) (string, error) {
		if !uefi.BootServicesActive() {
			return "", errors.New("EFI Boot Services unavailable")
		}

		return fn(iface, arg)
	}
}

func uefiCmd(_ *shell.Interface, _ []string) (res string, err error) {
	var buf bytes.Buffer

	t, err := uefi.GetSystemTable()

	if err != nil {
		return
	}

	vendor, _ := uefi.FirmwareVendor()

	fmt.Fprintf(&buf, "Firmware Vendor ....: %s\n", vendor)
	fmt.Fprintf(&buf, "Firmware Revision ..: %#x\n", t.FirmwareRevision)
	fmt.Fprintf(&buf, "UEFI Revision ......: %s\n", t.Header.RevisionString())
	fmt.Fprintf(&buf, "Runtime Services  ..: %#x\n", t.RuntimeServices)
	fmt.Fprintf(&buf, "Boot Services ......: %#x\n", t.BootServices)
	fmt.Fprintf(&buf, "Boot Services Active: %v\n", uefi.BootServicesActive())
	fmt.Fprintf(&buf, "Boot Handles .......: %d\n", uefi.BootHandleCount())

	if uefi.BootServicesActive() {
		if info, err := screenInfo(); err == nil {
			fmt.Fprintf(&buf, "Frame Buffer .......: %dx%d\n", info.HorizontalResolution, info.VerticalResolution)
		}
	}

	fmt.Fprintf(&buf, "Configuration Tables: %#x\n", t.ConfigurationTable)

	var c []*uefi.ConfigurationTable

	if b, err := uefi.SystemTableBoot(); err == nil {
		c, _ = b.ConfigurationTables()
	} else if r, err := uefi.SystemTableRuntime(); err == nil {
		c, _ = r.ConfigurationTables()
	}

	for _, t := range c {
		fmt.Fprintf(&buf, "  %s (%#x) %s\n", t.GUID, t.VendorTable, t.GUID.Name())
	}

	return buf.String(), nil
}

func screenInfo() (*uefi.ModeInformation, error) {
	h := uefi.AcquireBootHandle()
	defer h.Release()

	gop, err := h.OpenGraphicsOutput()

	if err != nil {
		return nil, err
	}

	defer gop.Close()

	return gop.GetInfo()
}

func locateCmd(_ *shell.Interface, arg []string) (res string, err error) {
	guid, err := uefi.ParseGUID(arg[0])

	if err != nil {
		return
	}

	addr, err := uefi.LocateProtocol(guid)

	return fmt.Sprintf("%s: %#08x", arg[0], addr), err
}

func handlesCmd(_ *shell.Interface, arg []string) (res string, err error) {
	var buf bytes.Buffer

	search := uefi.SearchAll()

	if len(arg[0]) > 0 {
		guid, err := uefi.ParseGUID(arg[0])

		if err != nil {
			return "", err
		}

		search = uefi.SearchByProtocol(guid)
	}

	h := uefi.AcquireBootHandle()
	defer h.Release()

	hb, err := h.LocateHandleBuffer(search)

	if err != nil {
		return
	}

	defer hb.Close()

	for _, handle := range hb.Handles() {
		fmt.Fprintf(&buf, "%#08x\n", handle)

		pp, err := h.ProtocolsPerHandle(handle)

		if err != nil {
			fmt.Fprintf(&buf, "  %v\n", err)
			continue
		}

		for _, guid := range pp.Protocols() {
			fmt.Fprintf(&buf, "  %s %s\n", guid, guid.Name())
		}

		pp.Close()
	}

	return buf.String(), nil
}

func memmapCmd(_ *shell.Interface, _ []string) (res string, err error) {
	var buf bytes.Buffer

	memoryMap, err := uefi.GetMemoryMap()

	if err != nil {
		return
	}

	fmt.Fprintf(&buf, "Type Start            End              Pages            Attributes\n")

	for _, desc := range memoryMap.Descriptors {
		fmt.Fprintf(&buf, "%02d   %016x %016x %016x %016x\n",
			desc.Type, desc.PhysicalStart, desc.PhysicalEnd()-1, desc.NumberOfPages, desc.Attribute)
	}

	return buf.String(), err
}

func e820Cmd(_ *shell.Interface, _ []string) (res string, err error) {
	var buf bytes.Buffer

	memoryMap, err := uefi.GetMemoryMap()

	if err != nil {
		return
	}

	e820, err := memoryMap.E820()

	if err != nil {
		return
	}

	fmt.Fprintf(&buf, "Start            End              Type\n")

	for _, e := range e820 {
		fmt.Fprintf(&buf, "%016x %016x %d\n", e.Addr, e.Addr+e.Size-1, e.MemType)
	}

	return buf.String(), err
}

func parseRange(arg []string) (addr uint64, size uint64, err error) {
	if addr, err = strconv.ParseUint(arg[0], 16, 64); err != nil {
		return 0, 0, fmt.Errorf("invalid address, %v", err)
	}

	if size, err = strconv.ParseUint(arg[1], 10, 64); err != nil {
		return 0, 0, fmt.Errorf("invalid size, %v", err)
	}

	if addr%uefi.PageSize != 0 {
		return 0, 0, fmt.Errorf("address must be page aligned")
	}

	return
}

func allocCmd(_ *shell.Interface, arg []string) (res string, err error) {
	addr, size, err := parseRange(arg)

	if err != nil {
		return
	}

	log.Printf("allocating memory range %#08x - %#08x", addr, addr+size)

	h := uefi.AcquireBootHandle()
	defer h.Release()

	_, err = h.AllocatePages(
		uefi.AllocateAddress,
		uefi.EfiLoaderData,
		int(size),
		addr,
	)

	return
}

func freeCmd(_ *shell.Interface, arg []string) (res string, err error) {
	addr, size, err := parseRange(arg)

	if err != nil {
		return
	}

	h := uefi.AcquireBootHandle()
	defer h.Release()

	err = h.FreePages(addr, int(size))

	return
}

func sleepCmd(_ *shell.Interface, arg []string) (res string, err error) {
	ms, err := strconv.ParseUint(arg[0], 10, 32)

	if err != nil {
		return "", fmt.Errorf("invalid duration, %v", err)
	}

	h := uefi.AcquireBootHandle()
	defer h.Release()

	start := time.Now()

	if err = h.Sleep(time.Duration(ms) * time.Millisecond); err != nil {
		return
	}

	return fmt.Sprintf("slept %s", durafmt.Parse(time.Since(start)).LimitFirstN(2)), nil
}

func watchdogCmd(_ *shell.Interface, arg []string) (res string, err error) {
	sec, err := strconv.Atoi(arg[0])

	if err != nil {
		return "", fmt.Errorf("invalid timeout, %v", err)
	}

	h := uefi.AcquireBootHandle()
	defer h.Release()

	if err = h.SetWatchdogTimer(sec); err != nil {
		return
	}

	if sec == 0 {
		return "watchdog disabled", nil
	}

	return fmt.Sprintf("watchdog set to %s", durafmt.Parse(time.Duration(sec)*time.Second)), nil
}

func sevCmd(_ *shell.Interface, _ []string) (res string, err error) {
	var buf bytes.Buffer

	snp, err := uefi.GetSNPConfiguration()

	if err != nil {
		return
	}

	fmt.Fprintf(&buf, "Version ......: %d\n", snp.Version)
	fmt.Fprintf(&buf, "Secrets Page .: %#08x (%d bytes)\n", snp.SecretsPagePhysicalAddress, snp.SecretsPageSize)
	fmt.Fprintf(&buf, "CPUID Page ...: %#08x (%d bytes)\n", snp.CPUIDPagePhysicalAddress, snp.CPUIDPageSize)

	return buf.String(), nil
}

func exitBootCmd(_ *shell.Interface, _ []string) (res string, err error) {
	_, memoryMap, err := uefi.ExitBootServices(uefi.EfiLoaderData)

	if err != nil {
		return
	}

	return fmt.Sprintf("EFI Boot Services exited, %d memory map entries", len(memoryMap.Descriptors)), nil
}

func resetCmd(_ *shell.Interface, arg []string) (_ string, err error) {
	var resetType uefi.ResetType

	switch arg[0] {
	case "cold":
		resetType = uefi.EfiResetCold
	case "warm", "":
		resetType = uefi.EfiResetWarm
	case "shutdown":
		resetType = uefi.EfiResetShutdown
	}

	log.Printf("performing system reset type %d", resetType)
	err = uefi.ResetSystem(resetType)

	return
}

func shutdownCmd(_ *shell.Interface, _ []string) (_ string, err error) {
	return resetCmd(nil, []string{"shutdown"})
}
