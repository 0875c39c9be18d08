// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

import (
	"errors"
)

// ResetType represents an EFI_RESET_TYPE.
type ResetType uint32

// EFI_RESET_TYPE
const (
	EfiResetCold ResetType = iota
	EfiResetWarm
	EfiResetShutdown
	EfiResetPlatformSpecific
)

// ResetSystem calls EFI_RUNTIME_SERVICES.ResetSystem() while boot services are
// still available, it only returns on failure.
func (b *Boot) ResetSystem(resetType ResetType, status Status) error {
	return parseStatus(b.rt.ResetSystem(resetType, status))
}

// ResetSystem calls EFI_RUNTIME_SERVICES.ResetSystem() on the current system
// table view, it only returns on failure.
func ResetSystem(resetType ResetType) error {
	if b, err := SystemTableBoot(); err == nil {
		return b.ResetSystem(resetType, EFI_SUCCESS)
	}

	if r, err := SystemTableRuntime(); err == nil {
		return r.ResetSystem(resetType, EFI_SUCCESS)
	}

	return errors.New("EFI Runtime Services unavailable")
}
