// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

import (
	"errors"
)

const (
	EFI_SIMPLE_NETWORK_PROTOCOL_REVISION = 0x00010000

	EFI_SIMPLE_NETWORK_TRANSMIT_INTERRUPT = 0x02
)

// EFI Simple Network Protocol offsets
const (
	start      = 0x08
	stop       = 0x10
	initialize = 0x18
	getStatus  = 0x58
	transmit   = 0x60
	receive    = 0x68
)

// SimpleNetwork represents an EFI Simple Network Protocol instance.
type SimpleNetwork struct {
	proto *ScopedProtocol
}

// OpenNetwork opens, with exclusive access, the EFI Simple Network Protocol
// instance of the first handle supporting it.
//
// The protocol holds a boot handle until [SimpleNetwork.Close], therefore it
// must be closed before exiting boot services.
func OpenNetwork() (sn *SimpleNetwork, err error) {
	hb, err := LocateHandleBuffer(SearchByProtocol(EFI_SIMPLE_NETWORK_PROTOCOL_GUID))

	if err != nil {
		return
	}

	defer hb.Close()

	handles := hb.Handles()

	if len(handles) == 0 {
		return nil, errors.New("no network interface found")
	}

	p, err := OpenProtocolExclusive(handles[0], EFI_SIMPLE_NETWORK_PROTOCOL_GUID)

	if err != nil {
		return
	}

	if _, ok := p.Interface(); !ok {
		p.Close()
		return nil, errors.New("network interface is null")
	}

	return &SimpleNetwork{proto: p}, nil
}

// Close closes the protocol instance, subsequent protocol calls return
// [ErrProtocolClosed].
func (sn *SimpleNetwork) Close() {
	sn.proto.Close()
}

// Start calls EFI_SIMPLE_NETWORK.Start()
func (sn *SimpleNetwork) Start() (err error) {
	base, err := sn.proto.address()

	if err != nil {
		return
	}

	status := callService(base+start,
		[]uint64{
			base,
		},
	)

	return parseStatus(status)
}

// Stop calls EFI_SIMPLE_NETWORK.Stop()
func (sn *SimpleNetwork) Stop() (err error) {
	base, err := sn.proto.address()

	if err != nil {
		return
	}

	status := callService(base+stop,
		[]uint64{
			base,
		},
	)

	return parseStatus(status)
}

// Initialize calls EFI_SIMPLE_NETWORK.Initialize()
func (sn *SimpleNetwork) Initialize() (err error) {
	base, err := sn.proto.address()

	if err != nil {
		return
	}

	status := callService(base+initialize,
		[]uint64{
			base,
			0,
			0,
		},
	)

	return parseStatus(status)
}

// GetStatus calls EFI_SIMPLE_NETWORK.GetStatus()
func (sn *SimpleNetwork) GetStatus() (interruptStatus uint32, txBuf uint64, err error) {
	base, err := sn.proto.address()

	if err != nil {
		return
	}

	status := callService(base+getStatus,
		[]uint64{
			base,
			ptrval(&interruptStatus),
			ptrval(&txBuf),
		},
	)

	err = parseStatus(status)

	return
}

// Transmit calls EFI_SIMPLE_NETWORK.Transmit(), the function waits for
// EFI_SIMPLE_NETWORK.GetStatus() to report a transmit interrupt before
// returning.
func (sn *SimpleNetwork) Transmit(buf []byte) (err error) {
	var interruptStatus uint32

	base, err := sn.proto.address()

	if err != nil || len(buf) == 0 {
		return
	}

	status := callService(base+transmit,
		[]uint64{
			base,
			0,
			uint64(len(buf)),
			ptrval(&buf[0]),
			0,
			0,
			0,
		},
	)

	if err = parseStatus(status); err != nil {
		return
	}

	for {
		if interruptStatus, _, err = sn.GetStatus(); err != nil {
			return
		}

		if interruptStatus&EFI_SIMPLE_NETWORK_TRANSMIT_INTERRUPT != 0 {
			break
		}
	}

	return
}

// Receive calls EFI_SIMPLE_NETWORK.Receive()
func (sn *SimpleNetwork) Receive(buf []byte) (n int, err error) {
	size := uint64(len(buf))

	base, err := sn.proto.address()

	if err != nil || size == 0 {
		return
	}

	status := callService(base+receive,
		[]uint64{
			base,
			0,
			ptrval(&size),
			ptrval(&buf[0]),
			0,
			0,
			0,
		},
	)

	if status == EFI_NOT_READY {
		return 0, nil
	}

	if err = parseStatus(status); err != nil {
		return 0, err
	}

	return int(size), nil
}
