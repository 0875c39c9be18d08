// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package transparency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var kernel = []byte("bzImage")

func proofBundle(category uint, data []byte) []byte {
	sum := sha256.Sum256(data)

	return fmt.Appendf(nil, `{
	"format": 1,
	"statement": {
		"header": {"description": "Linux bundle", "revision": "v1"},
		"artifacts": [
			{"category": %d, "claims": {"file_hash": "%s", "tainted": false}}
		]
	}
}`, category, hex.EncodeToString(sum[:]))
}

func TestFetch(t *testing.T) {
	var urls []string

	get := func(url string) ([]byte, error) {
		urls = append(urls, url)
		return []byte(url), nil
	}

	fsys, err := Fetch("https://example.com/boot/transparency/", get)
	require.NoError(t, err)
	assert.Len(t, urls, 5)

	buf, err := fs.ReadFile(fsys, ProofBundle)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/boot/transparency/proof-bundle.json", string(buf))

	_, err = fs.ReadFile(fsys, LogKey)
	require.NoError(t, err)
}

func TestFetchError(t *testing.T) {
	get := func(url string) ([]byte, error) {
		return nil, errors.New("404 Not Found")
	}

	_, err := Fetch("https://example.com", get)
	require.ErrorContains(t, err, "cannot fetch policy.json")
}

func TestCheckArtifact(t *testing.T) {
	require.NoError(t, checkArtifact(proofBundle(1, kernel), 1, kernel))

	err := checkArtifact(proofBundle(1, []byte("other")), 1, kernel)
	require.ErrorIs(t, err, ErrHashMismatch)

	err = checkArtifact(proofBundle(2, kernel), 1, kernel)
	require.ErrorContains(t, err, "not present")

	err = checkArtifact([]byte("{"), 1, kernel)
	require.ErrorContains(t, err, "cannot parse proof bundle")
}
