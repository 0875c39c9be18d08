// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/usbarmory/go-efi/shell"
	"github.com/usbarmory/go-efi/transparency"
)

// boot-transparency modes
const (
	btNone    = "none"
	btOffline = "offline"
	btOnline  = "online"
)

// boot bundle configuration directory, relative to the kernel
const transparencyDir = "transparency"

var btMode = btNone

func init() {
	shell.Add(shell.Cmd{
		Name:    "bt",
		Args:    1,
		Pattern: regexp.MustCompile(`^bt(?: (none|offline|online))?$`),
		Syntax:  "(none|offline|online)?",
		Help:    "show/set boot-transparency status",
		Fn:      btCmd,
	})
}

func btCmd(_ *shell.Interface, arg []string) (res string, err error) {
	switch arg[0] {
	case "":
	case btNone:
		btMode = btNone
	default:
		if !transparency.Available {
			return "", errors.New("boot-transparency support not available")
		}

		btMode = arg[0]
	}

	if btMode == btNone {
		return "boot-transparency is disabled", nil
	}

	return fmt.Sprintf("boot-transparency is enabled in %s mode", btMode), nil
}

// bundle returns the boot bundle configuration located next to a kernel.
func bundle(kernelPath string) (fs.FS, error) {
	if isURL(kernelPath) {
		i := strings.LastIndex(kernelPath, "/")
		return transparency.Fetch(kernelPath[:i]+"/"+transparencyDir, fetch)
	}

	return os.DirFS(filepath.Join(filepath.Dir(kernelPath), transparencyDir)), nil
}

// authenticate applies boot-transparency validation to a kernel, when
// enabled.
func authenticate(kernelPath string, kernel []byte) error {
	if btMode == btNone {
		return nil
	}

	if kernelPath == "" {
		return errors.New("boot-transparency requires a kernel path")
	}

	fsys, err := bundle(kernelPath)

	if err != nil {
		return err
	}

	if err = transparency.Check(fsys, btMode == btOnline, kernel); err != nil {
		return fmt.Errorf("boot-transparency validation failed, %w", err)
	}

	return nil
}
