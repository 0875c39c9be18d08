// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

import (
	"time"
)

// Event represents an EFI_EVENT.
type Event uint64

// EventType represents EFI_BOOT_SERVICES.CreateEvent() event types.
type EventType uint32

// EFI event types
const (
	EVT_TIMER                         EventType = 0x80000000
	EVT_RUNTIME                       EventType = 0x40000000
	EVT_NOTIFY_WAIT                   EventType = 0x00000100
	EVT_NOTIFY_SIGNAL                 EventType = 0x00000200
	EVT_SIGNAL_EXIT_BOOT_SERVICES     EventType = 0x00000201
	EVT_SIGNAL_VIRTUAL_ADDRESS_CHANGE EventType = 0x60000202
)

// NotifyFunc represents the address of a firmware callable notification
// function (EFI_EVENT_NOTIFY), zero for events without notification.
type NotifyFunc uint64

// TimerDelay represents an EFI_TIMER_DELAY.
type TimerDelay uint32

// EFI_TIMER_DELAY
const (
	TimerCancel TimerDelay = iota
	TimerPeriodic
	TimerRelative
)

// TimerTrigger represents the arguments of EFI_BOOT_SERVICES.SetTimer().
type TimerTrigger struct {
	Delay TimerDelay
	// Time is expressed in 100ns units.
	Time uint64
}

// CancelTimer returns a trigger which cancels a timer.
func CancelTimer() TimerTrigger {
	return TimerTrigger{Delay: TimerCancel}
}

// PeriodicTimer returns a trigger firing every d, a zero duration fires on
// every timer tick.
func PeriodicTimer(d time.Duration) TimerTrigger {
	return TimerTrigger{Delay: TimerPeriodic, Time: timerUnits(d)}
}

// RelativeTimer returns a trigger firing once after d, a zero duration fires
// on the next timer tick.
func RelativeTimer(d time.Duration) TimerTrigger {
	return TimerTrigger{Delay: TimerRelative, Time: timerUnits(d)}
}

func timerUnits(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}

	return uint64(d / 100)
}

// CreateEvent calls EFI_BOOT_SERVICES.CreateEvent().
func (h *BootHandle) CreateEvent(eventType EventType, tpl TPL, notify NotifyFunc, context uint64) (event Event, err error) {
	status := h.table().CreateEvent(eventType, tpl, notify, context, &event)

	if err = parseStatus(status); err != nil {
		return 0, err
	}

	return
}

// CreateEventEx calls EFI_BOOT_SERVICES.CreateEventEx(), a nil group is
// equivalent to [BootHandle.CreateEvent].
//
// The function returns EFI_UNSUPPORTED on firmware older than UEFI 2.0, which
// lacks the service.
func (h *BootHandle) CreateEventEx(eventType EventType, tpl TPL, notify NotifyFunc, context uint64, group *GUID) (event Event, err error) {
	if revision() < EFI_2_00_SYSTEM_TABLE_REVISION {
		return 0, EFI_UNSUPPORTED.Err()
	}

	status := h.table().CreateEventEx(eventType, tpl, notify, context, group, &event)

	if err = parseStatus(status); err != nil {
		return 0, err
	}

	return
}

func revision() uint32 {
	if t := systemTable.Load(); t != nil {
		return t.Header.Revision
	}

	return 0
}

// SetTimer calls EFI_BOOT_SERVICES.SetTimer().
func (h *BootHandle) SetTimer(event Event, trigger TimerTrigger) error {
	return parseStatus(h.table().SetTimer(event, trigger.Delay, trigger.Time))
}

// WaitForEvent calls EFI_BOOT_SERVICES.WaitForEvent() and returns the index of
// the signaled event.
//
// On EFI_INVALID_PARAMETER the index of the offending event is returned, both
// directly and as error payload.
func (h *BootHandle) WaitForEvent(events []Event) (index int, err error) {
	var i uint64

	status := h.table().WaitForEvent(events, &i)

	switch status {
	case EFI_SUCCESS:
		return int(i), nil
	case EFI_INVALID_PARAMETER:
		return int(i), status.ErrData(int(i))
	default:
		return 0, parseStatus(status)
	}
}

// SignalEvent calls EFI_BOOT_SERVICES.SignalEvent().
func (h *BootHandle) SignalEvent(event Event) error {
	return parseStatus(h.table().SignalEvent(event))
}

// CloseEvent calls EFI_BOOT_SERVICES.CloseEvent(), the event must not be used
// afterwards regardless of the result.
func (h *BootHandle) CloseEvent(event Event) error {
	return parseStatus(h.table().CloseEvent(event))
}

// CheckEvent calls EFI_BOOT_SERVICES.CheckEvent() and returns whether the
// event is in the signaled state.
func (h *BootHandle) CheckEvent(event Event) (bool, error) {
	status := h.table().CheckEvent(event)

	switch status {
	case EFI_SUCCESS:
		return true, nil
	case EFI_NOT_READY:
		return false, nil
	default:
		return false, parseStatus(status)
	}
}

// RegisterProtocolNotify calls EFI_BOOT_SERVICES.RegisterProtocolNotify(), the
// event is signaled every time the protocol is installed, the returned key
// can be used with [SearchByRegisterNotify].
func (h *BootHandle) RegisterProtocolNotify(guid GUID, event Event) (key SearchKey, err error) {
	status := h.table().RegisterProtocolNotify(&guid, event, &key)

	if err = parseStatus(status); err != nil {
		return 0, err
	}

	return
}

// Sleep waits for the argument duration through a one-shot timer event.
func (h *BootHandle) Sleep(d time.Duration) (err error) {
	event, err := h.CreateEvent(EVT_TIMER, TPL_APPLICATION, 0, 0)

	if err != nil {
		return
	}

	defer func() {
		if e := h.CloseEvent(event); err == nil {
			err = e
		}
	}()

	if err = h.SetTimer(event, RelativeTimer(d)); err != nil {
		return
	}

	_, err = h.WaitForEvent([]Event{event})

	return
}
