// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && amd64

package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"runtime"

	"github.com/usbarmory/go-efi/cmd"
	"github.com/usbarmory/go-efi/shell"
	"github.com/usbarmory/go-efi/uefi"
	"github.com/usbarmory/go-efi/uefi/x64"
)

func init() {
	log.SetFlags(0)

	cmd.Banner = fmt.Sprintf("%s/%s (%s) • UEFI",
		runtime.GOOS, runtime.GOARCH, runtime.Version())
}

func main() {
	logFile, _ := os.OpenFile("/runtime.log", os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)

	// EFI console output is disabled once boot services are exited
	uefi.Log.SetOutput(x64.Console)
	log.SetOutput(io.MultiWriter(uefi.Log, logFile))

	uefi.OnExitBootServices(func() {
		log.SetOutput(io.MultiWriter(x64.UART0, logFile))
	})

	console := &shell.Interface{
		Banner:     cmd.Banner,
		Log:        logFile,
		ReadWriter: x64.Terminal,
	}

	console.Start()

	if uefi.BootServicesActive() {
		if _, _, err := uefi.ExitBootServices(uefi.EfiLoaderData); err != nil {
			log.Printf("could not exit EFI boot services, %v", err)
		}
	}

	runtime.Exit(0)
}
