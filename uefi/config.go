// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

import (
	"encoding/binary"
	"errors"
)

// ConfigurationTable represents an EFI Configuration Table entry.
type ConfigurationTable struct {
	GUID        GUID
	VendorTable uint64
}

func configurationTables(mem Memory, st *SystemTable) (c []*ConfigurationTable, err error) {
	if st == nil || st.NumberOfTableEntries == 0 || st.ConfigurationTable == 0 {
		return nil, errors.New("EFI Configuration Table is invalid")
	}

	entrySize := binary.Size(&ConfigurationTable{})
	buf := make([]byte, entrySize*int(st.NumberOfTableEntries))

	if err = mem.Read(st.ConfigurationTable, buf); err != nil {
		return
	}

	for i := 0; i < len(buf); i += entrySize {
		t := &ConfigurationTable{}

		if err = unmarshalBinary(buf[i:i+entrySize], t); err != nil {
			return
		}

		c = append(c, t)
	}

	return
}

func locateConfiguration(c []*ConfigurationTable, guid GUID) (*ConfigurationTable, error) {
	for _, t := range c {
		if t.GUID == guid {
			return t, nil
		}
	}

	return nil, errors.New("could not find configuration table")
}

// ConfigurationTables returns the EFI Configuration Tables.
func (b *Boot) ConfigurationTables() ([]*ConfigurationTable, error) {
	return configurationTables(b.mem, systemTable.Load())
}

// LocateConfiguration locates an EFI Configuration Table on the current system
// table view.
func LocateConfiguration(guid GUID) (t *ConfigurationTable, err error) {
	var c []*ConfigurationTable

	if b, e := SystemTableBoot(); e == nil {
		c, err = b.ConfigurationTables()
	} else if r, e := SystemTableRuntime(); e == nil {
		c, err = r.ConfigurationTables()
	} else {
		err = errors.New("EFI System Table is unavailable")
	}

	if err != nil {
		return
	}

	return locateConfiguration(c, guid)
}

// Header returns the EFI Boot Services table header.
func (b *Boot) Header() TableHeader {
	return b.bt.Header()
}
