// Copyright (c) WithSecure Corporation
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

import (
	"io"
	"sync"
	"sync/atomic"
	"unicode/utf16"
)

const (
	// EFI ConOut offset for OutputString
	outputString = 0x08
	// EFI ConOut offset for ClearScreen
	clearScreen = 0x30
	// EFI ConIn offset for ReadKeyStroke
	readKeyStroke = 0x08
)

// InputKey represents an EFI Input Key descriptor.
type InputKey struct {
	ScanCode    uint16
	UnicodeChar [2]byte
}

// Console implements the [io.ReadWriter] interface over EFI Simple Text
// Input/Output protocol.
type Console struct {
	// ForceLine controls whether line feeds (LF) should be supplemented
	// with a carriage return (CR).
	ForceLine bool

	// ReplaceTabs controls whether Console I/O output should have Tab
	// characters replaced with a number of spaces.
	ReplaceTabs int

	// In is the EFI Simple Text Input Protocol interface address
	In uint64
	// Out is the EFI Simple Text Output Protocol interface address
	Out uint64
}

// Input calls EFI_SIMPLE_TEXT_INPUT_PROTOCOL.ReadKeyStroke().
func (c *Console) Input(k *InputKey) (status Status) {
	if c.In == 0 {
		return EFI_NOT_READY
	}

	return callService(c.In+readKeyStroke,
		[]uint64{
			c.In,
			ptrval(k),
		},
	)
}

// Output calls EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL.OutputString() with an UTF-16
// encoded buffer.
func (c *Console) Output(p []byte) (status Status) {
	if c.Out == 0 || len(p) == 0 {
		return
	}

	if n := len(p); n < 2 || p[n-2] != 0x00 || p[n-1] != 0x00 {
		p = append(p, 0x00, 0x00)
	}

	return callService(c.Out+outputString,
		[]uint64{
			c.Out,
			ptrval(&p[0]),
		},
	)
}

// ClearScreen calls EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL.ClearScreen().
func (c *Console) ClearScreen() (err error) {
	if c.Out == 0 {
		return
	}

	return parseStatus(callService(c.Out+clearScreen, []uint64{c.Out}))
}

// Read available data to buffer from console.
func (c *Console) Read(p []byte) (n int, err error) {
	k := &InputKey{}

	for n = 0; n+1 < len(p); n += 2 {
		status := c.Input(k)

		switch status {
		case EFI_SUCCESS:
			copy(p[n:], k.UnicodeChar[:])
		case EFI_NOT_READY:
			return
		default:
			return n, parseStatus(status)
		}
	}

	return
}

// Write data from buffer to console.
func (c *Console) Write(p []byte) (n int, err error) {
	if len(p) == 0 {
		return
	}

	// We receive an UTF-8 string but we can output only UTF-16 ones.
	if status := c.Output(c.encode(p)); status != EFI_SUCCESS {
		return 0, parseStatus(status)
	}

	return len(p), nil
}

func (c *Console) encode(p []byte) (s []byte) {
	for _, r := range utf16.Encode([]rune(string(p))) {
		if r == 0x09 && c.ReplaceTabs > 0 { // Tab
			for i := 0; i < c.ReplaceTabs; i++ {
				s = append(s, 0x20, 0x00) // Space
			}
			continue
		}

		if r == 0x0a && c.ForceLine { // LF
			s = append(s, 0x0d, 0x00) // CR
		}

		s = append(s, byte(r&0xff), byte(r>>8))
	}

	return
}

// LogWriter represents the package log output, it forwards writes until boot
// services are exited.
type LogWriter struct {
	sync.Mutex

	out      io.Writer
	disabled atomic.Bool
}

// Log is the log output used by the standard logger of EFI applications
// (see [log.SetOutput]), output is discarded once boot services are exited
// as firmware consoles are no longer available.
var Log = &LogWriter{}

// SetOutput sets the log destination.
func (l *LogWriter) SetOutput(w io.Writer) {
	l.Lock()
	defer l.Unlock()

	l.out = w
}

// Enabled returns whether log output is forwarded.
func (l *LogWriter) Enabled() bool {
	return !l.disabled.Load()
}

func (l *LogWriter) enable() {
	l.disabled.Store(false)
}

func (l *LogWriter) disable() {
	l.disabled.Store(true)
}

// Write implements [io.Writer].
func (l *LogWriter) Write(p []byte) (int, error) {
	if l.disabled.Load() {
		return len(p), nil
	}

	l.Lock()
	defer l.Unlock()

	if l.out == nil {
		return len(p), nil
	}

	return l.out.Write(p)
}
