// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cmd

import (
	"errors"

	"github.com/usbarmory/go-efi/uefi"
)

// device wraps the EFI Simple Network Protocol for the network stack, its
// receive loop is stopped once the protocol is closed.
type device struct {
	*uefi.SimpleNetwork
}

// Receive parks the calling receive loop forever once the protocol is closed.
func (d *device) Receive(buf []byte) (int, error) {
	n, err := d.SimpleNetwork.Receive(buf)

	if errors.Is(err, uefi.ErrProtocolClosed) {
		select {}
	}

	return n, err
}

// Transmit drops outgoing frames once the protocol is closed.
func (d *device) Transmit(buf []byte) error {
	err := d.SimpleNetwork.Transmit(buf)

	if errors.Is(err, uefi.ErrProtocolClosed) {
		return nil
	}

	return err
}
