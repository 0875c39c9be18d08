// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

import (
	"errors"
	"fmt"
	"slices"
)

// Status represents an EFI_STATUS value as returned by firmware services.
type Status uint64

const errorBit Status = 1 << 63

// EFI_STATUS success code
const EFI_SUCCESS Status = 0

// EFI_STATUS error codes
const (
	EFI_LOAD_ERROR Status = errorBit | (iota + 1)
	EFI_INVALID_PARAMETER
	EFI_UNSUPPORTED
	EFI_BAD_BUFFER_SIZE
	EFI_BUFFER_TOO_SMALL
	EFI_NOT_READY
	EFI_DEVICE_ERROR
	EFI_WRITE_PROTECTED
	EFI_OUT_OF_RESOURCES
	EFI_VOLUME_CORRUPTED
	EFI_VOLUME_FULL
	EFI_NO_MEDIA
	EFI_MEDIA_CHANGED
	EFI_NOT_FOUND
	EFI_ACCESS_DENIED
	EFI_NO_RESPONSE
	EFI_NO_MAPPING
	EFI_TIMEOUT
	EFI_NOT_STARTED
	EFI_ALREADY_STARTED
	EFI_ABORTED
	EFI_ICMP_ERROR
	EFI_TFTP_ERROR
	EFI_PROTOCOL_ERROR
	EFI_INCOMPATIBLE_VERSION
	EFI_SECURITY_VIOLATION
	EFI_CRC_ERROR
	EFI_END_OF_MEDIA
	_
	_
	EFI_END_OF_FILE
	EFI_INVALID_LANGUAGE
	EFI_COMPROMISED_DATA
	EFI_IP_ADDRESS_CONFLICT
	EFI_HTTP_ERROR
)

// EFI_STATUS warning codes
const (
	EFI_WARN_UNKNOWN_GLYPH Status = iota + 1
	EFI_WARN_DELETE_FAILURE
	EFI_WARN_WRITE_FAILURE
	EFI_WARN_BUFFER_TOO_SMALL
	EFI_WARN_STALE_DATA
	EFI_WARN_FILE_SYSTEM
	EFI_WARN_RESET_REQUIRED
)

var statusNames = map[Status]string{
	EFI_SUCCESS:               "EFI_SUCCESS",
	EFI_LOAD_ERROR:            "EFI_LOAD_ERROR",
	EFI_INVALID_PARAMETER:     "EFI_INVALID_PARAMETER",
	EFI_UNSUPPORTED:           "EFI_UNSUPPORTED",
	EFI_BAD_BUFFER_SIZE:       "EFI_BAD_BUFFER_SIZE",
	EFI_BUFFER_TOO_SMALL:      "EFI_BUFFER_TOO_SMALL",
	EFI_NOT_READY:             "EFI_NOT_READY",
	EFI_DEVICE_ERROR:          "EFI_DEVICE_ERROR",
	EFI_WRITE_PROTECTED:       "EFI_WRITE_PROTECTED",
	EFI_OUT_OF_RESOURCES:      "EFI_OUT_OF_RESOURCES",
	EFI_VOLUME_CORRUPTED:      "EFI_VOLUME_CORRUPTED",
	EFI_VOLUME_FULL:           "EFI_VOLUME_FULL",
	EFI_NO_MEDIA:              "EFI_NO_MEDIA",
	EFI_MEDIA_CHANGED:         "EFI_MEDIA_CHANGED",
	EFI_NOT_FOUND:             "EFI_NOT_FOUND",
	EFI_ACCESS_DENIED:         "EFI_ACCESS_DENIED",
	EFI_NO_RESPONSE:           "EFI_NO_RESPONSE",
	EFI_NO_MAPPING:            "EFI_NO_MAPPING",
	EFI_TIMEOUT:               "EFI_TIMEOUT",
	EFI_NOT_STARTED:           "EFI_NOT_STARTED",
	EFI_ALREADY_STARTED:       "EFI_ALREADY_STARTED",
	EFI_ABORTED:               "EFI_ABORTED",
	EFI_ICMP_ERROR:            "EFI_ICMP_ERROR",
	EFI_TFTP_ERROR:            "EFI_TFTP_ERROR",
	EFI_PROTOCOL_ERROR:        "EFI_PROTOCOL_ERROR",
	EFI_INCOMPATIBLE_VERSION:  "EFI_INCOMPATIBLE_VERSION",
	EFI_SECURITY_VIOLATION:    "EFI_SECURITY_VIOLATION",
	EFI_CRC_ERROR:             "EFI_CRC_ERROR",
	EFI_END_OF_MEDIA:          "EFI_END_OF_MEDIA",
	EFI_END_OF_FILE:           "EFI_END_OF_FILE",
	EFI_INVALID_LANGUAGE:      "EFI_INVALID_LANGUAGE",
	EFI_COMPROMISED_DATA:      "EFI_COMPROMISED_DATA",
	EFI_IP_ADDRESS_CONFLICT:   "EFI_IP_ADDRESS_CONFLICT",
	EFI_HTTP_ERROR:            "EFI_HTTP_ERROR",
	EFI_WARN_UNKNOWN_GLYPH:    "EFI_WARN_UNKNOWN_GLYPH",
	EFI_WARN_DELETE_FAILURE:   "EFI_WARN_DELETE_FAILURE",
	EFI_WARN_WRITE_FAILURE:    "EFI_WARN_WRITE_FAILURE",
	EFI_WARN_BUFFER_TOO_SMALL: "EFI_WARN_BUFFER_TOO_SMALL",
	EFI_WARN_STALE_DATA:       "EFI_WARN_STALE_DATA",
	EFI_WARN_FILE_SYSTEM:      "EFI_WARN_FILE_SYSTEM",
	EFI_WARN_RESET_REQUIRED:   "EFI_WARN_RESET_REQUIRED",
}

// Sentinel errors for use with [errors.Is].
var (
	ErrInvalidParameter = &Error{Status: EFI_INVALID_PARAMETER}
	ErrUnsupported      = &Error{Status: EFI_UNSUPPORTED}
	ErrBufferTooSmall   = &Error{Status: EFI_BUFFER_TOO_SMALL}
	ErrNotReady         = &Error{Status: EFI_NOT_READY}
	ErrOutOfResources   = &Error{Status: EFI_OUT_OF_RESOURCES}
	ErrNotFound         = &Error{Status: EFI_NOT_FOUND}
	ErrAccessDenied     = &Error{Status: EFI_ACCESS_DENIED}
	ErrTimeout          = &Error{Status: EFI_TIMEOUT}
	ErrAlreadyStarted   = &Error{Status: EFI_ALREADY_STARTED}
	ErrAborted          = &Error{Status: EFI_ABORTED}
)

// IsSuccess returns whether the status is EFI_SUCCESS.
func (s Status) IsSuccess() bool {
	return s == EFI_SUCCESS
}

// IsWarning returns whether the status is a warning, warnings are non-zero
// codes without the error bit.
func (s Status) IsWarning() bool {
	return s != EFI_SUCCESS && s&errorBit == 0
}

// IsError returns whether the status has the error bit set.
func (s Status) IsError() bool {
	return s&errorBit != 0
}

// Code returns the status code without the error bit.
func (s Status) Code() uint64 {
	return uint64(s &^ errorBit)
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}

	if s.IsError() {
		return fmt.Sprintf("EFI_STATUS error %#x (%d)", uint64(s), s.Code())
	}

	return fmt.Sprintf("EFI_STATUS warning %#x (%d)", uint64(s), s.Code())
}

// Err converts the status to an error, warnings are treated as errors.
func (s Status) Err() error {
	return s.ErrData(nil)
}

// ErrData converts the status to an error carrying an optional payload,
// warnings are treated as errors.
func (s Status) ErrData(data any) error {
	if s == EFI_SUCCESS {
		return nil
	}

	return &Error{
		Status: s,
		Data:   data,
	}
}

// Error represents a failed EFI service invocation, Data optionally carries
// service specific information (e.g. required buffer size or the index of an
// invalid event).
type Error struct {
	Status Status
	Data   any
}

func (e *Error) Error() string {
	if e.Data == nil {
		return e.Status.String()
	}

	return fmt.Sprintf("%s (%v)", e.Status, e.Data)
}

// Is matches errors carrying the same status, regardless of their payload.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Status == e.Status
}

// StatusOf returns the EFI status carried by an error, nil errors map to
// EFI_SUCCESS and errors not originating from EFI services to EFI_ABORTED.
func StatusOf(err error) Status {
	var e *Error

	if err == nil {
		return EFI_SUCCESS
	}

	if errors.As(err, &e) {
		return e.Status
	}

	return EFI_ABORTED
}

// IgnoreWarning returns nil if the error carries one of the argument warning
// statuses (or any warning when none are passed), otherwise err is returned
// unchanged.
func IgnoreWarning(err error, warnings ...Status) error {
	s := StatusOf(err)

	if !s.IsWarning() {
		return err
	}

	if len(warnings) == 0 || slices.Contains(warnings, s) {
		return nil
	}

	return err
}

// HandleWarning invokes fn on warning statuses, its return value replaces err.
// Success and error statuses are returned unchanged.
func HandleWarning(err error, fn func(*Error) error) error {
	var e *Error

	if !errors.As(err, &e) || !e.Status.IsWarning() {
		return err
	}

	return fn(e)
}

func parseStatus(status Status) error {
	return status.Err()
}
