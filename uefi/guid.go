// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"regexp"
)

var guidPattern = regexp.MustCompile(`^([[:xdigit:]]{8})-([[:xdigit:]]{4})-([[:xdigit:]]{4})-([[:xdigit:]]{4})-([[:xdigit:]]{12})$`)

// GUID represents an EFI GUID (Globally Unique Identifier) as a 16-byte array
// with the native EFI byte order.
//
// Note: The registry string format (xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx)
// reorders the first three fields as little-endian. Internally, we keep the
// native EFI layout (as used in memory), i.e. 16 bytes where the first three
// fields are little-endian values.
type GUID [16]byte

// ParseGUID parses a GUID in registry string format into a native EFI GUID
// byte slice (len 16). On parse error it returns nil and an error.
func ParseGUID(s string) (out GUID, err error) {
	var off int
	var buf []byte

	m := guidPattern.FindStringSubmatch(s)

	if len(m) != 6 {
		return GUID{}, fmt.Errorf("invalid GUID format: %q", s)
	}

	m = m[1:]

	for i, b := range m {
		if buf, err = hex.DecodeString(b); err != nil {
			return GUID{}, err
		}

		switch i {
		case 0:
			out[off+0] = buf[3]
			out[off+1] = buf[2]
			out[off+2] = buf[1]
			out[off+3] = buf[0]
			off += 4
		case 1, 2:
			out[off+0] = buf[1]
			out[off+1] = buf[0]
			off += 2
		default:
			copy(out[off:], buf)
			off += len(buf)
		}
	}

	return out, nil
}

// MustParseGUID is like ParseGUID but panics on error. It is intended for package
// level GUID declarations.
func MustParseGUID(s string) (g GUID) {
	var err error

	if g, err = ParseGUID(s); err != nil {
		panic(err)
	}

	return
}

// String returns the registry format string representation of the GUID.
// https://uefi.org/specs/UEFI/2.10/Apx_A_GUID_and_Time_Formats.html
func (g GUID) String() string {
	// First three fields are little-endian 32/16/16
	return fmt.Sprintf("%08x-%04x-%04x-%x-%x",
		binary.LittleEndian.Uint32(g[0:4]),
		binary.LittleEndian.Uint16(g[4:6]),
		binary.LittleEndian.Uint16(g[6:8]),
		g[8:10],
		g[10:])
}

// EFI protocol GUIDs
var (
	EFI_LOADED_IMAGE_PROTOCOL_GUID       = MustParseGUID("5b1b31a1-9562-11d2-8e3f-00a0c969723b")
	EFI_DEVICE_PATH_PROTOCOL_GUID        = MustParseGUID("09576e91-6d3f-11d2-8e39-00a0c969723b")
	EFI_SIMPLE_TEXT_INPUT_PROTOCOL_GUID  = MustParseGUID("387477c1-69c7-11d2-8e39-00a0c969723b")
	EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL_GUID = MustParseGUID("387477c2-69c7-11d2-8e39-00a0c969723b")
	EFI_SIMPLE_NETWORK_PROTOCOL_GUID     = MustParseGUID("a19832b9-ac25-11d3-9a2d-0090273fc14d")
	EFI_GRAPHICS_OUTPUT_PROTOCOL_GUID    = MustParseGUID("9042a9de-23dc-4a38-96fb-7aded080516a")
	EFI_SIMPLE_FILE_SYSTEM_PROTOCOL_GUID = MustParseGUID("964e5b22-6459-11d2-8e39-00a0c969723b")
)

// EFI event group GUIDs
var (
	EFI_EVENT_GROUP_EXIT_BOOT_SERVICES     = MustParseGUID("27abf055-b1b8-4c26-8048-748f37baa2df")
	EFI_EVENT_GROUP_VIRTUAL_ADDRESS_CHANGE = MustParseGUID("13fa7698-c831-49c7-87ea-8f43fcc25196")
	EFI_EVENT_GROUP_MEMORY_MAP_CHANGE      = MustParseGUID("78bee926-692f-48fd-9edb-01422ef0d7ab")
	EFI_EVENT_GROUP_READY_TO_BOOT          = MustParseGUID("7ce88fb3-4bd7-4679-87a8-a8d8dee50d2b")
)

// EFI configuration table GUIDs
var (
	ACPI_20_TABLE_GUID = MustParseGUID("8868e871-e4f1-11d3-bc22-0080c73c8881")
	SMBIOS3_TABLE_GUID = MustParseGUID("f2fd1544-9794-4a2c-992e-e5bbcf20e394")
)

var guidNames = map[GUID]string{
	EFI_LOADED_IMAGE_PROTOCOL_GUID:         "LoadedImage",
	EFI_DEVICE_PATH_PROTOCOL_GUID:          "DevicePath",
	EFI_SIMPLE_TEXT_INPUT_PROTOCOL_GUID:    "SimpleTextInput",
	EFI_SIMPLE_TEXT_OUTPUT_PROTOCOL_GUID:   "SimpleTextOutput",
	EFI_SIMPLE_NETWORK_PROTOCOL_GUID:       "SimpleNetwork",
	EFI_GRAPHICS_OUTPUT_PROTOCOL_GUID:      "GraphicsOutput",
	EFI_SIMPLE_FILE_SYSTEM_PROTOCOL_GUID:   "SimpleFileSystem",
	EFI_EVENT_GROUP_EXIT_BOOT_SERVICES:     "ExitBootServices",
	EFI_EVENT_GROUP_VIRTUAL_ADDRESS_CHANGE: "VirtualAddressChange",
	EFI_EVENT_GROUP_MEMORY_MAP_CHANGE:      "MemoryMapChange",
	EFI_EVENT_GROUP_READY_TO_BOOT:          "ReadyToBoot",
	ACPI_20_TABLE_GUID:                     "ACPI 2.0",
	SMBIOS3_TABLE_GUID:                     "SMBIOS3",
}

// Name returns a short description for well known GUIDs, or an empty string.
func (g GUID) Name() string {
	return guidNames[g]
}
