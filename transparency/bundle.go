// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package transparency implements boot-transparency validation of boot
// bundles, authorizing a kernel only when its claims are logged on a
// transparency log and satisfy the boot policy.
package transparency

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing/fstest"
)

// Boot bundle configuration files
const (
	BootPolicy    = "policy.json"
	WitnessPolicy = "trust_policy"
	ProofBundle   = "proof-bundle.json"
	SubmitKey     = "submit-key.pub"
	LogKey        = "log-key.pub"
)

var files = []string{
	BootPolicy,
	WitnessPolicy,
	ProofBundle,
	SubmitKey,
	LogKey,
}

// ErrHashMismatch is returned when an artifact is not claimed by the proof
// bundle statement.
var ErrHashMismatch = errors.New("hash mismatch")

// Fetch retrieves the boot bundle configuration files, relative to a base
// location, and returns them as an in-memory file system.
func Fetch(base string, get func(string) ([]byte, error)) (fstest.MapFS, error) {
	fsys := fstest.MapFS{}
	base = strings.TrimSuffix(base, "/")

	for _, name := range files {
		buf, err := get(base + "/" + name)

		if err != nil {
			return nil, fmt.Errorf("cannot fetch %s, %v", name, err)
		}

		fsys[name] = &fstest.MapFile{Data: buf}
	}

	return fsys, nil
}

type statement struct {
	Statement struct {
		Artifacts []struct {
			Category uint `json:"category"`
			Claims   struct {
				FileHash string `json:"file_hash"`
			} `json:"claims"`
		} `json:"artifacts"`
	} `json:"statement"`
}

// checkArtifact verifies that the proof bundle statement claims the SHA-256
// hash of an artifact, for its category.
func checkArtifact(proofBundle []byte, category uint, data []byte) (err error) {
	var s statement

	if err = json.Unmarshal(proofBundle, &s); err != nil {
		return fmt.Errorf("cannot parse proof bundle, %v", err)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	for _, a := range s.Statement.Artifacts {
		if a.Category != category {
			continue
		}

		if strings.EqualFold(a.Claims.FileHash, hash) {
			return
		}

		return fmt.Errorf("%w for artifact category %d, hash %s", ErrHashMismatch, category, hash)
	}

	return fmt.Errorf("artifact category %d is not present in the proof bundle", category)
}
