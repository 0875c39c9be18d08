// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && amd64

package x64

import (
	"io"
	"sync/atomic"
	_ "unsafe"

	"github.com/usbarmory/go-efi/uefi"
)

// Console represents the UEFI services console, used for standard output
// until boot services are exited.
var Console = &uefi.Console{
	ForceLine: true,
	In:        conIn,
	Out:       conOut,
}

// Terminal represents the active console, the EFI console until boot
// services are exited and the serial port afterwards.
var Terminal io.ReadWriter = &terminal{}

var serial atomic.Bool

type terminal struct{}

func (t *terminal) Read(p []byte) (int, error) {
	if serial.Load() {
		return UART0.Read(p)
	}

	return Console.Read(p)
}

func (t *terminal) Write(p []byte) (int, error) {
	if serial.Load() {
		return UART0.Write(p)
	}

	return Console.Write(p)
}

func useSerial() {
	serial.Store(true)
}

//go:linkname printk runtime/goos.Printk
func printk(c byte) {
	if serial.Load() {
		UART0.Tx(c)
		return
	}

	Console.Output([]byte{c, 0x00})

	if c == 0x0a && Console.ForceLine { // LF
		Console.Output([]byte{0x0d, 0x00}) // CR
	}
}
