// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago

package cmd

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"log"
	"regexp"

	"github.com/gliderlabs/ssh"
	gossh "golang.org/x/crypto/ssh"

	"github.com/usbarmory/go-efi/shell"
)

func init() {
	shell.Add(shell.Cmd{
		Name:    "ssh",
		Args:    1,
		Pattern: regexp.MustCompile(`^ssh(?: (\S+))?$`),
		Syntax:  "(address)?",
		Help:    "start SSH server (requires `net`)",
		Fn:      sshCmd,
	})
}

// SSHAddress represents the default SSH server listening address
var SSHAddress = ":22"

func sshHandler(s ssh.Session) {
	_, _, isPty := s.Pty()

	log.Printf("ssh session from %s", s.RemoteAddr())

	iface := &shell.Interface{
		Banner:     Banner,
		ReadWriter: s,
		VT100:      isPty,
	}

	iface.Start()
	s.Exit(0)
}

func sshCmd(_ *shell.Interface, arg []string) (res string, err error) {
	addr := SSHAddress

	if len(arg[0]) > 0 {
		addr = arg[0]
	}

	if nic == nil {
		return "", fmt.Errorf("network not initialized")
	}

	_, key, err := ed25519.GenerateKey(rand.Reader)

	if err != nil {
		return "", fmt.Errorf("could not generate host key, %v", err)
	}

	signer, err := gossh.NewSignerFromKey(key)

	if err != nil {
		return "", fmt.Errorf("could not create signer, %v", err)
	}

	srv := &ssh.Server{
		Addr:    addr,
		Handler: sshHandler,
	}

	srv.AddHostKey(signer)

	go func() {
		log.Printf("ssh server stopped, %v", srv.ListenAndServe())
	}()

	return fmt.Sprintf("starting ssh server at %s (%s)", addr, gossh.FingerprintSHA256(signer.PublicKey())), nil
}
