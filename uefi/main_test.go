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

// setup installs a fresh emulated firmware, leaked boot handles fail the
// test as they prevent further initializations.
func setup(t *testing.T, options ...emu.Option) *emu.Firmware {
	t.Helper()

	fw := emu.New(options...)
	require.NoError(t, fw.Init())

	t.Cleanup(func() {
		assert.Zero(t, uefi.BootHandleCount(), "leaked boot handles")
	})

	return fw
}

// counter returns an emulated notification function counting its
// invocations.
func counter(fw *emu.Firmware) (uefi.NotifyFunc, *int) {
	n := new(int)

	fn := fw.RegisterCallback(func(uefi.Event, uint64) {
		*n++
	})

	return fn, n
}
