// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build tamago

package cmd

import (
	"errors"
	"fmt"
	"log"
	"net"
	"regexp"

	"github.com/usbarmory/go-net"

	"github.com/usbarmory/go-efi/shell"
	"github.com/usbarmory/go-efi/uefi"
)

// Resolver represents the default name server
var Resolver = "8.8.8.8:53"

// network interface, held open until boot services are exited
var nic *device

func init() {
	shell.Add(shell.Cmd{
		Name:    "net",
		Args:    2,
		Pattern: regexp.MustCompile(`^net (\S+) (\S+)$`),
		Syntax:  "<ip> <gateway>",
		Help:    "start UEFI networking",
		Fn:      netCmd,
	})

	shell.Add(shell.Cmd{
		Name:    "dns",
		Args:    1,
		Pattern: regexp.MustCompile(`^dns (.*)`),
		Syntax:  "<host>",
		Help:    "resolve domain",
		Fn:      dnsCmd,
	})

	net.SetDefaultNS([]string{Resolver})

	// the network protocol pins a boot handle
	uefi.OnExitBootServices(closeNetwork)
}

func closeNetwork() {
	if nic == nil {
		return
	}

	log.Printf("closing network interface")

	nic.Close()
	nic = nil
}

func netCmd(_ *shell.Interface, arg []string) (res string, err error) {
	if nic != nil {
		return "", errors.New("network already initialized")
	}

	sn, err := uefi.OpenNetwork()

	if err != nil {
		return "", fmt.Errorf("could not locate network protocol, %v", err)
	}

	if err = sn.Start(); err != nil && !errors.Is(err, uefi.ErrAlreadyStarted) {
		sn.Close()
		return "", fmt.Errorf("could not start interface, %v", err)
	}

	if err = sn.Initialize(); err != nil {
		sn.Close()
		return "", fmt.Errorf("could not initialize interface, %v", err)
	}

	iface := gnet.Interface{}

	dev := &device{sn}

	if err = iface.Init(dev, arg[0], "", arg[1]); err != nil {
		sn.Close()
		return "", fmt.Errorf("could not initialize networking, %v", err)
	}

	nic = dev

	iface.EnableICMP()
	go iface.NIC.Start()

	// hook interface into Go runtime
	net.SocketFunc = iface.Socket

	return "network initialized", nil
}

func dnsCmd(_ *shell.Interface, arg []string) (res string, err error) {
	cname, err := net.LookupHost(arg[0])

	if err != nil {
		return "", fmt.Errorf("query error: %v", err)
	}

	return fmt.Sprintf("%+v", cname), nil
}
