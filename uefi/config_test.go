// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usbarmory/go-efi/uefi"
	"github.com/usbarmory/go-efi/uefi/emu"
)

func TestLocateConfiguration(t *testing.T) {
	setup(t,
		emu.WithConfigurationTable(uefi.SMBIOS3_TABLE_GUID, 0xf0000),
		emu.WithConfigurationTable(uefi.ACPI_20_TABLE_GUID, 0xe0000),
	)

	c, err := uefi.LocateConfiguration(uefi.ACPI_20_TABLE_GUID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xe0000), c.VendorTable)
	assert.Equal(t, "ACPI 2.0", c.GUID.Name())

	_, err = uefi.LocateConfiguration(uefi.EFI_SIMPLE_NETWORK_PROTOCOL_GUID)
	require.Error(t, err)

	// configuration tables outlive boot services
	_, _, err = uefi.ExitBootServices(uefi.EfiLoaderData)
	require.NoError(t, err)

	c, err = uefi.LocateConfiguration(uefi.SMBIOS3_TABLE_GUID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xf0000), c.VendorTable)
}

func TestLocateConfigurationEmpty(t *testing.T) {
	setup(t)

	_, err := uefi.LocateConfiguration(uefi.ACPI_20_TABLE_GUID)
	require.Error(t, err)
}

func TestWatchdog(t *testing.T) {
	fw := setup(t)

	h := uefi.AcquireBootHandle()
	defer h.Release()

	require.NoError(t, h.SetWatchdogTimer(300))
	assert.EqualValues(t, 300, fw.Watchdog())

	require.NoError(t, h.SetWatchdogTimer(0))
	assert.Zero(t, fw.Watchdog())

	start := time.Now()
	require.NoError(t, h.Stall(5*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestGUID(t *testing.T) {
	s := "a19832b9-ac25-11d3-9a2d-0090273fc14d"

	g, err := uefi.ParseGUID(s)
	require.NoError(t, err)
	assert.Equal(t, uefi.EFI_SIMPLE_NETWORK_PROTOCOL_GUID, g)
	assert.Equal(t, s, g.String())
	assert.Equal(t, byte(0xb9), g[0])
	assert.Equal(t, "SimpleNetwork", g.Name())

	_, err = uefi.ParseGUID("a19832b9-ac25-11d3-9a2d")
	require.Error(t, err)

	require.Panics(t, func() {
		uefi.MustParseGUID("invalid")
	})
}

func TestSNPConfiguration(t *testing.T) {
	addr := uint64(emu.DefaultBase + 0x800000)

	fw := setup(t, emu.WithConfigurationTable(uefi.EFI_SEV_SNP_CC_BLOB_GUID, addr))

	blob := make([]byte, 40)
	binary.LittleEndian.PutUint32(blob[0:], 0x45444d41)
	binary.LittleEndian.PutUint16(blob[4:], 2)
	binary.LittleEndian.PutUint64(blob[8:], 0x7000)
	binary.LittleEndian.PutUint32(blob[16:], 0x1000)
	binary.LittleEndian.PutUint64(blob[24:], 0x8000)
	binary.LittleEndian.PutUint32(blob[32:], 0x1000)
	require.NoError(t, fw.Write(addr, blob))

	snp, err := uefi.GetSNPConfiguration()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x7000), snp.SecretsPagePhysicalAddress)
	assert.Equal(t, uint64(0x8000), snp.CPUIDPagePhysicalAddress)

	// invalid version
	binary.LittleEndian.PutUint16(blob[4:], 1)
	require.NoError(t, fw.Write(addr, blob))

	_, err = uefi.GetSNPConfiguration()
	require.Error(t, err)
}

func TestSNPConfigurationMissing(t *testing.T) {
	setup(t)

	_, err := uefi.GetSNPConfiguration()
	require.Error(t, err)
}
