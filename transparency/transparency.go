// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build transparency

package transparency

import (
	"fmt"
	"io/fs"

	"github.com/usbarmory/boot-transparency/artifact"
	"github.com/usbarmory/boot-transparency/engine/sigsum"
	"github.com/usbarmory/boot-transparency/policy"
	"github.com/usbarmory/boot-transparency/transparency"
)

// Available reports whether boot-transparency validation is compiled in.
const Available = true

// Check validates a kernel against the boot bundle configuration held in
// fsys: the kernel hash must be claimed by the logged statement, the
// statement inclusion proof must verify under the witness policy and its
// claims must satisfy the boot policy.
//
// In online mode a fresh inclusion proof is requested to the log.
func Check(fsys fs.FS, online bool, kernel []byte) (err error) {
	cfg := make(map[string][]byte)

	for _, name := range files {
		if cfg[name], err = fs.ReadFile(fsys, name); err != nil {
			return fmt.Errorf("cannot read %s, %v", name, err)
		}
	}

	if err = checkArtifact(cfg[ProofBundle], uint(artifact.LinuxKernel), kernel); err != nil {
		return
	}

	te, err := transparency.GetEngine(transparency.Sigsum)

	if err != nil {
		return fmt.Errorf("unable to configure the transparency engine, %w", err)
	}

	if err = te.SetKey([]string{string(cfg[LogKey])}, []string{string(cfg[SubmitKey])}); err != nil {
		return
	}

	wp, err := te.ParseWitnessPolicy(cfg[WitnessPolicy])

	if err != nil {
		return
	}

	if err = te.SetWitnessPolicy(wp); err != nil {
		return
	}

	pb, _, err := te.ParseProof(cfg[ProofBundle])

	if err != nil {
		return
	}

	b := pb.(*sigsum.ProofBundle)

	if online {
		pr, err := te.GetProof(pb)

		if err != nil {
			return err
		}

		b.Proof = string(pr)
	}

	// the co-signing quorum is part of the proof verification
	if err = te.VerifyProof(b); err != nil {
		return
	}

	r, err := policy.ParseRequirements(cfg[BootPolicy])

	if err != nil {
		return
	}

	c, err := policy.ParseStatement(b.Statement)

	if err != nil {
		return
	}

	return policy.Check(r, c)
}
