// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cmd

import (
	"bytes"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usbarmory/go-efi/shell"
	"github.com/usbarmory/go-efi/uefi"
	"github.com/usbarmory/go-efi/uefi/emu"
)

func setup(t *testing.T) *emu.Firmware {
	t.Helper()

	fw := emu.New()
	require.NoError(t, fw.Init())

	t.Cleanup(func() {
		assert.Zero(t, uefi.BootHandleCount(), "leaked boot handles")
	})

	return fw
}

func run(t *testing.T, line string) (string, error) {
	t.Helper()

	var buf bytes.Buffer

	iface := &shell.Interface{}
	err := iface.Exec(line, &buf)

	return buf.String(), err
}

func TestUEFICmd(t *testing.T) {
	setup(t)

	res, err := run(t, "uefi")
	require.NoError(t, err)
	assert.Contains(t, res, "Firmware Vendor ....: emu\n")
	assert.Contains(t, res, "UEFI Revision ......: 2.7\n")
	assert.Contains(t, res, "Boot Services Active: true\n")
	assert.Contains(t, res, "Boot Handles .......: 0\n")
}

func TestHandlesCmd(t *testing.T) {
	fw := setup(t)

	st, err := uefi.GetSystemTable()
	require.NoError(t, err)

	image := fmt.Sprintf("%#08x\n", fw.ImageHandle())
	conIn := fmt.Sprintf("%#08x\n", st.ConsoleInHandle)

	res, err := run(t, "handles")
	require.NoError(t, err)
	assert.Contains(t, res, image)
	assert.Contains(t, res, conIn)
	assert.Contains(t, res, uefi.EFI_LOADED_IMAGE_PROTOCOL_GUID.String())
	assert.Contains(t, res, uefi.EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL_GUID.String())

	res, err = run(t, "handles "+uefi.EFI_SIMPLE_TEXT_INPUT_PROTOCOL_GUID.String())
	require.NoError(t, err)
	assert.Contains(t, res, conIn)
	assert.NotContains(t, res, image)

	_, err = run(t, "handles "+uefi.EFI_SIMPLE_NETWORK_PROTOCOL_GUID.String())
	require.ErrorIs(t, err, uefi.ErrNotFound)
}

func TestProtocolCmd(t *testing.T) {
	setup(t)

	guid := uefi.EFI_LOADED_IMAGE_PROTOCOL_GUID.String()

	res, err := run(t, "protocol "+guid)
	require.NoError(t, err)
	assert.Contains(t, res, guid+": 0x")
}

func TestMemoryCmds(t *testing.T) {
	fw := setup(t)

	res, err := run(t, "memmap")
	require.NoError(t, err)
	assert.Contains(t, res, fmt.Sprintf("%02d   %016x", uefi.EfiBootServicesData, emu.DefaultBase))
	assert.Zero(t, fw.OutstandingPool())

	res, err = run(t, "e820")
	require.NoError(t, err)
	assert.Contains(t, res, "Start            End              Type\n")

	addr := fmt.Sprintf("%x", emu.DefaultBase+0x800000)

	_, err = run(t, "alloc "+addr+" 8192")
	require.NoError(t, err)

	_, err = run(t, "alloc "+addr+" 4096")
	require.ErrorIs(t, err, uefi.ErrNotFound)

	_, err = run(t, "free "+addr+" 8192")
	require.NoError(t, err)

	_, err = run(t, "alloc 900001 4096")
	require.ErrorContains(t, err, "page aligned")
}

func TestTimerCmds(t *testing.T) {
	fw := setup(t)

	res, err := run(t, "sleep 2")
	require.NoError(t, err)
	assert.Contains(t, res, "slept")
	assert.Zero(t, fw.Events())

	res, err = run(t, "watchdog 0")
	require.NoError(t, err)
	assert.Equal(t, "watchdog disabled\n", res)
}

func TestExitBootCmd(t *testing.T) {
	setup(t)

	res, err := run(t, "exit-boot")
	require.NoError(t, err)
	assert.Contains(t, res, "EFI Boot Services exited")

	res, err = run(t, "uefi")
	require.NoError(t, err)
	assert.Contains(t, res, "Boot Services Active: false\n")

	_, err = run(t, "memmap")
	require.Error(t, err)
}

func TestSEVCmd(t *testing.T) {
	setup(t)

	_, err := run(t, "sev")
	require.Error(t, err)
}

func TestExitCmd(t *testing.T) {
	res, err := run(t, "quit")
	require.ErrorIs(t, err, io.EOF)
	assert.Contains(t, res, "Goodbye")
}

func TestDeviceClosed(t *testing.T) {
	fw := setup(t)
	fw.InstallProtocol(0, uefi.EFI_SIMPLE_NETWORK_PROTOCOL_GUID, 0x8000)

	sn, err := uefi.OpenNetwork()
	require.NoError(t, err)

	dev := &device{sn}
	dev.Close()

	_, _, err = uefi.ExitBootServices(uefi.EfiLoaderData)
	require.NoError(t, err)

	require.NoError(t, dev.Transmit(make([]byte, 64)))

	received := make(chan struct{})

	go func() {
		dev.Receive(make([]byte, 64))
		close(received)
	}()

	select {
	case <-received:
		t.Fatal("receive loop not stopped after close")
	case <-time.After(50 * time.Millisecond):
	}
}
