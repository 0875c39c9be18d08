// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cmd

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"regexp"
	"strings"

	"github.com/usbarmory/go-efi/shell"
	"github.com/usbarmory/go-efi/uefi"
)

func init() {
	shell.Add(shell.Cmd{
		Name:    "start",
		Args:    1,
		Pattern: regexp.MustCompile(`^start (\S+)$`),
		Syntax:  "<path|url>",
		Help:    "EFI_BOOT_SERVICES.LoadImage() and StartImage()",
		Fn:      bootCmd(startCmd),
	})
}

// isURL returns whether a path refers to an HTTP resource.
func isURL(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}

// fetch reads a file from the local file system or over HTTP.
func fetch(path string) ([]byte, error) {
	if !isURL(path) {
		return os.ReadFile(path)
	}

	log.Printf("downloading %s", path)

	resp, err := http.Get(path)

	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("could not download %s, %s", path, resp.Status)
	}

	return io.ReadAll(resp.Body)
}

func startCmd(_ *shell.Interface, arg []string) (res string, err error) {
	buf, err := fetch(arg[0])

	if err != nil {
		return
	}

	h := uefi.AcquireBootHandle()
	defer h.Release()

	image, err := h.LoadImage(uefi.ImageHandle(), uefi.LoadImageSource{Buffer: buf})

	if err != nil {
		return "", fmt.Errorf("could not load image, %w", err)
	}

	log.Printf("starting image %#x (%d bytes)", image, len(buf))

	data, err := h.StartImage(image)

	if err != nil {
		return "", fmt.Errorf("image %#x failed, %w", image, err)
	}

	if data != "" {
		res = fmt.Sprintf("image %#x exited: %s", image, data)
	}

	return
}
