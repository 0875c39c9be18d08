// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usbarmory/go-efi/uefi"
)

var pe = []byte("MZ\x90\x00\x03\x00\x00\x00payload")

func TestStartCmd(t *testing.T) {
	var image uefi.Handle

	fw := setup(t)

	fw.SetEntry(func(h uefi.Handle, data []byte) (uefi.Status, string) {
		image = h
		assert.Equal(t, pe, data)
		return uefi.EFI_SUCCESS, "done"
	})

	path := filepath.Join(t.TempDir(), "app.efi")
	require.NoError(t, os.WriteFile(path, pe, 0600))

	res, err := run(t, "start "+path)
	require.NoError(t, err)
	require.NotZero(t, image)
	assert.Equal(t, fmt.Sprintf("image %#x exited: done\n", image), res)

	assert.Empty(t, fw.LoadedImages())
	assert.Zero(t, fw.OutstandingPool())
}

func TestStartCmdHTTP(t *testing.T) {
	fw := setup(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/app.efi" {
			http.NotFound(w, r)
			return
		}

		w.Write(pe)
	}))
	defer srv.Close()

	res, err := run(t, "start "+srv.URL+"/app.efi")
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.Equal(t, 1, fw.Calls("StartImage"))

	_, err = run(t, "start "+srv.URL+"/missing.efi")
	require.ErrorContains(t, err, "404")
	assert.Equal(t, 1, fw.Calls("LoadImage"))
}

func TestStartCmdInvalid(t *testing.T) {
	fw := setup(t)

	path := filepath.Join(t.TempDir(), "app.elf")
	require.NoError(t, os.WriteFile(path, []byte("\x7fELF"), 0600))

	_, err := run(t, "start "+path)
	require.ErrorContains(t, err, "could not load image")
	assert.Equal(t, uefi.EFI_LOAD_ERROR, uefi.StatusOf(err))
	assert.Zero(t, fw.Calls("StartImage"))

	fw.SetEntry(func(uefi.Handle, []byte) (uefi.Status, string) {
		return uefi.EFI_SECURITY_VIOLATION, ""
	})

	path = filepath.Join(t.TempDir(), "app.efi")
	require.NoError(t, os.WriteFile(path, pe, 0600))

	_, err = run(t, "start "+path)
	require.ErrorIs(t, err, &uefi.Error{Status: uefi.EFI_SECURITY_VIOLATION})
}
