// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && amd64

package cmd

import (
	_ "embed"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/u-root/u-root/pkg/boot/bzimage"
	_ "golang.org/x/crypto/x509roots/fallback"

	"github.com/usbarmory/armory-boot/exec"
	"github.com/usbarmory/tamago/dma"

	"github.com/usbarmory/go-efi/shell"
	"github.com/usbarmory/go-efi/uefi"
)

// TODO: calculate from exec.LinuxImage.Region()
const (
	memoryStart = 0x80000000
	memorySize  = 0x10000000
)

// CommandLine represents the Linux kernel boot parameters
var CommandLine = "console=ttyS0,115200,8n1\x00"

// remove trailing space below to embed
//
// go:embed bzImage
var bzImage []byte

func init() {
	shell.Add(shell.Cmd{
		Name:    "linux",
		Args:    1,
		Pattern: regexp.MustCompile(`^linux(.*)`),
		Syntax:  "(path|url)?",
		Help:    "boot Linux kernel bzImage",
		Fn:      linuxCmd,
	})
}

func readKernel(path string) ([]byte, error) {
	if isURL(path) && nic == nil {
		return nil, errors.New("network not initialized")
	}

	return fetch(path)
}

func findMemory(m []bzimage.E820Entry, start int, size int) (mem *dma.Region, err error) {
	for _, e := range m {
		if e.MemType != bzimage.RAM || e.Size < uint64(size) {
			continue
		}

		if uint64(start) < e.Addr || uint64(start) >= e.Addr+e.Size {
			continue
		}

		if mem, err = dma.NewRegion(uint(start), size, false); err != nil {
			return
		}

		log.Printf("allocating memory range %#08x - %#08x", start, start+size)
		mem.Reserve(size, 0)

		break
	}

	if mem == nil {
		err = errors.New("could not find memory for kernel loading")
	}

	return
}

func allocateRegion(mem *dma.Region) (err error) {
	h := uefi.AcquireBootHandle()
	defer h.Release()

	_, err = h.AllocatePages(
		uefi.AllocateAddress,
		uefi.EfiLoaderData,
		int(mem.Size()),
		uint64(mem.Start()),
	)

	return
}

func freeRegion(mem *dma.Region) {
	if !uefi.BootServicesActive() {
		return
	}

	h := uefi.AcquireBootHandle()
	defer h.Release()

	h.FreePages(uint64(mem.Start()), int(mem.Size()))
}

func cleanup() {
	if _, _, err := uefi.ExitBootServices(uefi.EfiLoaderData); err != nil {
		log.Printf("could not exit EFI boot services, %v\n", err)
	}
}

func linuxCmd(_ *shell.Interface, arg []string) (res string, err error) {
	var mem *dma.Region
	var mmap []bzimage.E820Entry

	path := strings.TrimSpace(arg[0])

	if len(path) != 0 {
		if bzImage, err = readKernel(path); err != nil {
			return
		}
	}

	if len(bzImage) == 0 {
		return "", errors.New("no kernel image available")
	}

	if err = authenticate(path, bzImage); err != nil {
		return
	}

	if !uefi.BootServicesActive() {
		return "", errors.New("EFI Boot Services unavailable")
	}

	// build E820 memory map

	memoryMap, err := uefi.GetMemoryMap()

	if err != nil {
		return
	}

	if mmap, err = memoryMap.E820(); err != nil {
		return
	}

	// find and reserve memory for kernel loading

	if mem, err = findMemory(mmap, memoryStart, memorySize); err != nil {
		return
	}

	// free reserved memory in case of error
	defer mem.Release(mem.Start())

	if err = allocateRegion(mem); err != nil {
		return
	}

	// free allocated pages in case of error
	defer freeRegion(mem)

	image := &exec.LinuxImage{
		Memory:  mmap,
		Region:  mem,
		Kernel:  bzImage,
		CmdLine: CommandLine,
	}

	// load kernel

	log.Printf("loading kernel@%0.8x", mem.Start())

	if err = image.Load(); err != nil {
		return "", fmt.Errorf("could not load kernel, %v", err)
	}

	// boot kernel

	log.Printf("starting kernel@%0.8x", image.Entry())

	// does not return on success
	return "", image.Boot(cleanup)
}
