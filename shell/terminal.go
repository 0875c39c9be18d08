// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package shell implements a terminal console handler for user defined
// commands.
package shell

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"golang.org/x/term"
)

// Interface represents a terminal interface.
type Interface struct {
	// Banner represents the welcome message
	Banner string

	// Log represents the interface log file
	Log *os.File

	// ReadWriter represents the terminal connection
	ReadWriter io.ReadWriter

	// VT100 enables the colored prompt
	VT100 bool

	// Terminal is the line editor in use, valid within command handlers
	Terminal *term.Terminal
}

// Exec executes a command line, io.EOF is returned by commands terminating
// the session.
func (iface *Interface) Exec(line string, w io.Writer) (err error) {
	var res string

	if line == "" {
		return
	}

	if line == "help" {
		res, _ = iface.Help(nil)
		fmt.Fprint(w, res)
		return
	}

	match, arg := find(line)

	if match == nil {
		return errors.New("unknown command, type `help`")
	}

	res, err = match.Fn(iface, arg)

	if len(res) > 0 && (err == nil || err == io.EOF) {
		fmt.Fprintln(w, res)
	}

	return
}

func (iface *Interface) readLine(t *term.Terminal, w io.Writer) error {
	s, err := t.ReadLine()

	if err == io.EOF {
		return err
	}

	if err != nil {
		log.Printf("readline error, %v", err)
		return nil
	}

	if err = iface.Exec(s, w); err != nil {
		if err == io.EOF {
			return err
		}

		fmt.Fprintf(w, "command error, %v\n", err)
	}

	return nil
}

// Start handles registered commands over the interface ReadWriter, until the
// connection is closed or a command terminates the session.
func (iface *Interface) Start() {
	var w io.Writer

	t := term.NewTerminal(iface.ReadWriter, "> ")
	w = t

	if iface.VT100 {
		t.SetPrompt(string(t.Escape.Red) + "> " + string(t.Escape.Reset))
	}

	iface.Terminal = t

	fmt.Fprintf(t, "\n%s\n\n", iface.Banner)
	iface.Exec("help", w)

	for {
		if err := iface.readLine(t, w); err != nil {
			return
		}
	}
}
