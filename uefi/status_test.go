// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usbarmory/go-efi/uefi"
)

func TestStatusClass(t *testing.T) {
	for _, s := range []uefi.Status{
		uefi.EFI_SUCCESS,
		uefi.EFI_NOT_FOUND,
		uefi.EFI_HTTP_ERROR,
		uefi.EFI_WARN_UNKNOWN_GLYPH,
		uefi.EFI_WARN_RESET_REQUIRED,
		uefi.Status(1<<63 | 0xffff),
	} {
		n := 0

		for _, v := range []bool{s.IsSuccess(), s.IsWarning(), s.IsError()} {
			if v {
				n++
			}
		}

		assert.Equal(t, 1, n, s.String())
	}

	assert.True(t, uefi.EFI_BUFFER_TOO_SMALL.IsError())
	assert.Equal(t, uint64(5), uefi.EFI_BUFFER_TOO_SMALL.Code())
	assert.Equal(t, uint64(35), uefi.EFI_HTTP_ERROR.Code())
	assert.True(t, uefi.EFI_WARN_STALE_DATA.IsWarning())
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "EFI_SUCCESS", uefi.EFI_SUCCESS.String())
	assert.Equal(t, "EFI_NOT_FOUND", uefi.EFI_NOT_FOUND.String())
	assert.Equal(t, "EFI_WARN_BUFFER_TOO_SMALL", uefi.EFI_WARN_BUFFER_TOO_SMALL.String())
	assert.Contains(t, uefi.Status(1<<63|0x1000).String(), "error")
	assert.Contains(t, uefi.Status(0x1000).String(), "warning")
}

func TestStatusErr(t *testing.T) {
	require.NoError(t, uefi.EFI_SUCCESS.Err())

	err := uefi.EFI_NOT_FOUND.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, uefi.ErrNotFound)
	assert.NotErrorIs(t, err, uefi.ErrUnsupported)
	assert.Equal(t, uefi.EFI_NOT_FOUND, uefi.StatusOf(err))

	// warnings are failures unless explicitly handled
	err = uefi.EFI_WARN_STALE_DATA.Err()
	require.Error(t, err)
	assert.Equal(t, uefi.EFI_WARN_STALE_DATA, uefi.StatusOf(err))
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, uefi.EFI_SUCCESS, uefi.StatusOf(nil))
	assert.Equal(t, uefi.EFI_ABORTED, uefi.StatusOf(errors.New("generic")))

	wrapped := fmt.Errorf("could not open, %w", uefi.EFI_ACCESS_DENIED.Err())
	assert.Equal(t, uefi.EFI_ACCESS_DENIED, uefi.StatusOf(wrapped))
	assert.ErrorIs(t, wrapped, uefi.ErrAccessDenied)
}

func TestErrorData(t *testing.T) {
	err := uefi.EFI_BUFFER_TOO_SMALL.ErrData(uint64(4096))

	var e *uefi.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, uint64(4096), e.Data)
	assert.Equal(t, "EFI_BUFFER_TOO_SMALL (4096)", err.Error())
	assert.ErrorIs(t, err, uefi.ErrBufferTooSmall)
}

func TestIgnoreWarning(t *testing.T) {
	warn := uefi.EFI_WARN_STALE_DATA.Err()
	fail := uefi.EFI_DEVICE_ERROR.Err()

	assert.NoError(t, uefi.IgnoreWarning(warn))
	assert.NoError(t, uefi.IgnoreWarning(warn, uefi.EFI_WARN_STALE_DATA))
	assert.Equal(t, warn, uefi.IgnoreWarning(warn, uefi.EFI_WARN_WRITE_FAILURE))
	assert.Equal(t, fail, uefi.IgnoreWarning(fail))
	assert.NoError(t, uefi.IgnoreWarning(nil))
}

func TestHandleWarning(t *testing.T) {
	var seen uefi.Status

	fn := func(e *uefi.Error) error {
		seen = e.Status
		return nil
	}

	assert.NoError(t, uefi.HandleWarning(uefi.EFI_WARN_DELETE_FAILURE.Err(), fn))
	assert.Equal(t, uefi.EFI_WARN_DELETE_FAILURE, seen)

	seen = 0
	err := uefi.EFI_LOAD_ERROR.Err()
	assert.Equal(t, err, uefi.HandleWarning(err, fn))
	assert.NoError(t, uefi.HandleWarning(nil, fn))
	assert.Zero(t, seen)
}
