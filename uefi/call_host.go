// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build !(tamago && amd64)

package uefi

// firmware calls are only possible on tamago/amd64, other targets use
// emulated services through Init()
func callFn(_ uint64, _ int, _ []uint64) uint64 {
	return uint64(EFI_UNSUPPORTED)
}
