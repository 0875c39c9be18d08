// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

import (
	"time"
)

// watchdog code reported by firmware on expiration
const watchdogCode = 0xba3e5e7a1

// SetWatchdogTimer calls EFI_BOOT_SERVICES.SetWatchdogTimer(), a zero
// timeout disables the watchdog.
func (h *BootHandle) SetWatchdogTimer(sec int) (err error) {
	return parseStatus(h.table().SetWatchdogTimer(uint64(sec), watchdogCode))
}

// Stall calls EFI_BOOT_SERVICES.Stall(), busy waiting for at least the
// argument duration with microsecond resolution.
func (h *BootHandle) Stall(d time.Duration) (err error) {
	return parseStatus(h.table().Stall(uint64(d / time.Microsecond)))
}
