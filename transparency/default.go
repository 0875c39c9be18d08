// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build !transparency

package transparency

import (
	"errors"
	"io/fs"
)

// Available reports whether boot-transparency validation is compiled in.
const Available = false

func Check(_ fs.FS, _ bool, _ []byte) error {
	return errors.New("boot-transparency support not available")
}
