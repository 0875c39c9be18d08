// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago && amd64

package uefi

// defined in call_amd64.s
func callFn(fn uint64, n int, args []uint64) (status uint64)
