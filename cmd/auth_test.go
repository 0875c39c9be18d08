// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cmd

import (
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usbarmory/go-efi/transparency"
)

func btReset(t *testing.T) {
	t.Cleanup(func() { btMode = btNone })
}

func TestBtCmd(t *testing.T) {
	btReset(t)

	res, err := run(t, "bt")
	require.NoError(t, err)
	assert.Equal(t, "boot-transparency is disabled\n", res)

	if !transparency.Available {
		_, err = run(t, "bt offline")
		require.ErrorContains(t, err, "not available")
		assert.Equal(t, btNone, btMode)
		return
	}

	res, err = run(t, "bt online")
	require.NoError(t, err)
	assert.Equal(t, "boot-transparency is enabled in online mode\n", res)

	res, err = run(t, "bt none")
	require.NoError(t, err)
	assert.Equal(t, "boot-transparency is disabled\n", res)
}

func TestBundle(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.Mkdir(filepath.Join(dir, transparencyDir), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, transparencyDir, transparency.BootPolicy), []byte("[]"), 0600))

	fsys, err := bundle(filepath.Join(dir, "bzImage"))
	require.NoError(t, err)

	buf, err := fs.ReadFile(fsys, transparency.BootPolicy)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(buf))
}

func TestBundleHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/boot/transparency/") {
			http.NotFound(w, r)
			return
		}

		w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	fsys, err := bundle(srv.URL + "/boot/bzImage")
	require.NoError(t, err)

	buf, err := fs.ReadFile(fsys, transparency.ProofBundle)
	require.NoError(t, err)
	assert.Equal(t, "/boot/transparency/proof-bundle.json", string(buf))

	_, err = bundle(srv.URL + "/bzImage")
	require.ErrorContains(t, err, "404")
}

func TestAuthenticate(t *testing.T) {
	btReset(t)

	require.NoError(t, authenticate("", []byte("bzImage")))

	btMode = btOffline

	require.ErrorContains(t, authenticate("", []byte("bzImage")), "requires a kernel path")

	// no boot bundle configuration next to the kernel
	err := authenticate(filepath.Join(t.TempDir(), "bzImage"), []byte("bzImage"))
	require.ErrorContains(t, err, "boot-transparency validation failed")
}
