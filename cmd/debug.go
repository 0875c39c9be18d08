// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && debug

package cmd

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"regexp"

	"github.com/arl/statsviz"

	"github.com/usbarmory/go-efi/shell"
)

func init() {
	statsviz.RegisterDefault()

	shell.Add(shell.Cmd{
		Name:    "debug",
		Args:    1,
		Pattern: regexp.MustCompile(`^debug(?: (\S+))?$`),
		Syntax:  "(address)?",
		Help:    "start pprof and statsviz HTTP server (requires `net`)",
		Fn:      debugCmd,
	})
}

// DebugAddress represents the default debug HTTP server listening address
var DebugAddress = ":80"

func debugCmd(_ *shell.Interface, arg []string) (res string, err error) {
	addr := DebugAddress

	if len(arg[0]) > 0 {
		addr = arg[0]
	}

	if nic == nil {
		return "", errors.New("network not initialized")
	}

	go func() {
		log.Printf("debug server stopped, %v", http.ListenAndServe(addr, nil))
	}()

	return fmt.Sprintf("debug server at http://%s/debug/statsviz", addr), nil
}
