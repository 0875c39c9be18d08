// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package emu

import (
	"fmt"
	"sort"
	"time"

	"github.com/usbarmory/go-efi/uefi"
)

// WaitForEvent polling interval
const pollInterval = 100 * time.Microsecond

// Callback represents an emulated notification function.
type Callback func(event uefi.Event, context uint64)

type event struct {
	id      uefi.Event
	typ     uefi.EventType
	tpl     uefi.TPL
	notify  uefi.NotifyFunc
	context uint64
	group   *uefi.GUID

	signaled bool
	pending  bool

	delay    uefi.TimerDelay
	period   time.Duration
	deadline time.Time
}

func (e *event) timer() bool {
	return e.typ&uefi.EVT_TIMER != 0
}

func (e *event) notifySignal() bool {
	return e.typ&uefi.EVT_NOTIFY_SIGNAL != 0
}

func (e *event) notifyWait() bool {
	return e.typ&uefi.EVT_NOTIFY_WAIT != 0
}

type events struct {
	tpl       uefi.TPL
	next      uefi.Event
	active    map[uefi.Event]*event
	callbacks map[uefi.NotifyFunc]Callback
	nextFn    uefi.NotifyFunc
}

func (ev *events) init() {
	ev.tpl = uefi.TPL_APPLICATION
	ev.next = 0x1000
	ev.active = make(map[uefi.Event]*event)
	ev.callbacks = make(map[uefi.NotifyFunc]Callback)
	ev.nextFn = 0xf000_0000
}

// RegisterCallback returns a notification function address which invokes fn
// when used in event creation.
func (f *Firmware) RegisterCallback(fn Callback) uefi.NotifyFunc {
	f.Lock()
	defer f.Unlock()

	f.nextFn += 0x10
	f.callbacks[f.nextFn] = fn

	return f.nextFn
}

// TPL returns the current task priority level.
func (f *Firmware) TPL() uefi.TPL {
	f.Lock()
	defer f.Unlock()

	return f.tpl
}

// Events returns the number of open events.
func (f *Firmware) Events() int {
	f.Lock()
	defer f.Unlock()

	return len(f.active)
}

// signal sets an event, and all events of its group, in the signaled state,
// it must be called with the lock held.
func (f *Firmware) signal(e *event) {
	if e.group == nil {
		f.set(e)
		return
	}

	for _, g := range f.active {
		if g.group != nil && *g.group == *e.group {
			f.set(g)
		}
	}
}

func (f *Firmware) set(e *event) {
	if e.notifySignal() {
		e.pending = true
		return
	}

	e.signaled = true
}

// tick fires expired timers, it must be called with the lock held.
func (f *Firmware) tick() {
	now := time.Now()

	for _, e := range f.active {
		if !e.timer() || e.delay == uefi.TimerCancel || now.Before(e.deadline) {
			continue
		}

		f.signal(e)

		switch e.delay {
		case uefi.TimerPeriodic:
			for !e.deadline.After(now) {
				e.deadline = e.deadline.Add(max(e.period, pollInterval))
			}
		case uefi.TimerRelative:
			e.delay = uefi.TimerCancel
		}
	}
}

// dispatch returns the pending notifications, by decreasing priority, which
// are allowed to run at the current task priority level. It must be called
// with the lock held.
func (f *Firmware) dispatch() (queue []func()) {
	var pending []*event

	for _, e := range f.active {
		if e.pending && e.tpl > f.tpl {
			pending = append(pending, e)
		}
	}

	sort.Slice(pending, func(i, j int) bool {
		if pending[i].tpl != pending[j].tpl {
			return pending[i].tpl > pending[j].tpl
		}

		return pending[i].id < pending[j].id
	})

	for _, e := range pending {
		e.pending = false

		if fn := f.callback(e); fn != nil {
			queue = append(queue, fn)
		}
	}

	return
}

// callback returns a function invoking the event notification function at
// the event priority level.
func (f *Firmware) callback(e *event) func() {
	fn, ok := f.callbacks[e.notify]

	if !ok {
		return nil
	}

	id, tpl, ctx := e.id, e.tpl, e.context

	return func() {
		f.Lock()
		old := f.tpl
		f.tpl = tpl
		f.Unlock()

		fn(id, ctx)

		f.Lock()
		f.tpl = old
		f.Unlock()
	}
}

// run invokes notification functions with the lock released, it must be
// called with the lock held.
func (f *Firmware) run(queue []func()) {
	if len(queue) == 0 {
		return
	}

	f.Unlock()
	defer f.Lock()

	for _, fn := range queue {
		fn()
	}
}

func validNotifyTPL(tpl uefi.TPL) bool {
	return tpl > uefi.TPL_APPLICATION && tpl <= uefi.TPL_HIGH_LEVEL
}

func (f *Firmware) createEvent(eventType uefi.EventType, tpl uefi.TPL, notify uefi.NotifyFunc, context uint64, group *uefi.GUID, out *uefi.Event) uefi.Status {
	if out == nil {
		return uefi.EFI_INVALID_PARAMETER
	}

	switch eventType {
	case uefi.EVT_SIGNAL_EXIT_BOOT_SERVICES:
		if group != nil {
			return uefi.EFI_INVALID_PARAMETER
		}

		group = &uefi.EFI_EVENT_GROUP_EXIT_BOOT_SERVICES
	case uefi.EVT_SIGNAL_VIRTUAL_ADDRESS_CHANGE:
		if group != nil {
			return uefi.EFI_INVALID_PARAMETER
		}

		group = &uefi.EFI_EVENT_GROUP_VIRTUAL_ADDRESS_CHANGE
	}

	wait := eventType&uefi.EVT_NOTIFY_WAIT != 0
	sig := eventType&uefi.EVT_NOTIFY_SIGNAL != 0

	if wait && sig {
		return uefi.EFI_INVALID_PARAMETER
	}

	if wait || sig {
		if notify == 0 || !validNotifyTPL(tpl) {
			return uefi.EFI_INVALID_PARAMETER
		}
	}

	if group != nil && !sig {
		return uefi.EFI_INVALID_PARAMETER
	}

	f.next += 0x10

	e := &event{
		id:      f.next,
		typ:     eventType,
		tpl:     tpl,
		notify:  notify,
		context: context,
	}

	if group != nil {
		g := *group
		e.group = &g
	}

	f.active[e.id] = e
	*out = e.id

	return uefi.EFI_SUCCESS
}

// exitNotifications returns the notifications of the exit boot services
// event group, it must be called with the lock held.
func (f *Firmware) exitNotifications() (queue []func()) {
	var ids []uefi.Event

	for id, e := range f.active {
		if e.group != nil && *e.group == uefi.EFI_EVENT_GROUP_EXIT_BOOT_SERVICES {
			ids = append(ids, id)
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		if fn, ok := f.callbacks[f.active[id].notify]; ok {
			e := f.active[id]
			queue = append(queue, func() { fn(e.id, e.context) })
		}
	}

	return
}

// RaiseTPL implements [uefi.BootTable], lowering the priority level through
// this function is fatal.
func (s *BootServices) RaiseTPL(tpl uefi.TPL) uefi.TPL {
	s.Lock()
	defer s.Unlock()

	s.enter("RaiseTPL")

	if tpl < s.tpl || tpl > uefi.TPL_HIGH_LEVEL {
		panic(fmt.Sprintf("RaiseTPL from %v to %v", s.tpl, tpl))
	}

	old := s.tpl
	s.tpl = tpl

	return old
}

// RestoreTPL implements [uefi.BootTable], raising the priority level through
// this function is fatal.
func (s *BootServices) RestoreTPL(tpl uefi.TPL) {
	s.Lock()
	defer s.Unlock()

	s.enter("RestoreTPL")

	if tpl > s.tpl {
		panic(fmt.Sprintf("RestoreTPL from %v to %v", s.tpl, tpl))
	}

	s.tpl = tpl
	s.tick()
	s.run(s.dispatch())
}

// CreateEvent implements [uefi.BootTable].
func (s *BootServices) CreateEvent(eventType uefi.EventType, tpl uefi.TPL, notify uefi.NotifyFunc, context uint64, event *uefi.Event) uefi.Status {
	s.Lock()
	defer s.Unlock()

	s.enter("CreateEvent")

	return s.createEvent(eventType, tpl, notify, context, nil, event)
}

// CreateEventEx implements [uefi.BootTable], the service is not available
// on firmware revisions older than 2.0.
func (s *BootServices) CreateEventEx(eventType uefi.EventType, tpl uefi.TPL, notify uefi.NotifyFunc, context uint64, group *uefi.GUID, event *uefi.Event) uefi.Status {
	s.Lock()
	defer s.Unlock()

	s.enter("CreateEventEx")

	if s.revision < uefi.EFI_2_00_SYSTEM_TABLE_REVISION {
		panic("CreateEventEx is not present on EFI 1.x firmware")
	}

	return s.createEvent(eventType, tpl, notify, context, group, event)
}

// SetTimer implements [uefi.BootTable].
func (s *BootServices) SetTimer(id uefi.Event, delay uefi.TimerDelay, triggerTime uint64) uefi.Status {
	s.Lock()
	defer s.Unlock()

	s.enter("SetTimer")

	e, ok := s.active[id]

	if !ok || !e.timer() || delay > uefi.TimerRelative {
		return uefi.EFI_INVALID_PARAMETER
	}

	d := time.Duration(triggerTime) * 100

	e.delay = delay
	e.period = d
	e.deadline = time.Now().Add(d)

	return uefi.EFI_SUCCESS
}

// check implements EFI_BOOT_SERVICES.CheckEvent() semantics, it must be
// called with the lock held.
func (s *BootServices) check(e *event) bool {
	if !e.signaled && e.notifyWait() && e.tpl > s.tpl {
		if fn := s.callback(e); fn != nil {
			s.run([]func(){fn})
		}
	}

	if e.signaled {
		e.signaled = false
		return true
	}

	return false
}

// WaitForEvent implements [uefi.BootTable], the host clock is polled until one
// of the events is signaled.
func (s *BootServices) WaitForEvent(ids []uefi.Event, index *uint64) uefi.Status {
	s.Lock()
	defer s.Unlock()

	s.enter("WaitForEvent")

	if len(ids) == 0 || index == nil {
		return uefi.EFI_INVALID_PARAMETER
	}

	if s.tpl != uefi.TPL_APPLICATION {
		return uefi.EFI_UNSUPPORTED
	}

	for {
		s.tick()
		s.run(s.dispatch())

		for i, id := range ids {
			e, ok := s.active[id]

			if !ok || e.notifySignal() {
				*index = uint64(i)
				return uefi.EFI_INVALID_PARAMETER
			}

			if s.check(e) {
				*index = uint64(i)
				return uefi.EFI_SUCCESS
			}
		}

		s.Unlock()
		time.Sleep(pollInterval)
		s.Lock()
	}
}

// SignalEvent implements [uefi.BootTable].
func (s *BootServices) SignalEvent(id uefi.Event) uefi.Status {
	s.Lock()
	defer s.Unlock()

	s.enter("SignalEvent")

	e, ok := s.active[id]

	if !ok {
		return uefi.EFI_INVALID_PARAMETER
	}

	s.signal(e)
	s.run(s.dispatch())

	return uefi.EFI_SUCCESS
}

// CloseEvent implements [uefi.BootTable].
func (s *BootServices) CloseEvent(id uefi.Event) uefi.Status {
	s.Lock()
	defer s.Unlock()

	s.enter("CloseEvent")

	if s.closeEventStatus != uefi.EFI_SUCCESS {
		return s.closeEventStatus
	}

	if _, ok := s.active[id]; !ok {
		return uefi.EFI_INVALID_PARAMETER
	}

	delete(s.active, id)
	s.unregister(id)

	return uefi.EFI_SUCCESS
}

// CheckEvent implements [uefi.BootTable].
func (s *BootServices) CheckEvent(id uefi.Event) uefi.Status {
	s.Lock()
	defer s.Unlock()

	s.enter("CheckEvent")

	e, ok := s.active[id]

	if !ok || e.notifySignal() {
		return uefi.EFI_INVALID_PARAMETER
	}

	s.tick()

	if s.check(e) {
		return uefi.EFI_SUCCESS
	}

	return uefi.EFI_NOT_READY
}

// Stall implements [uefi.BootTable].
func (s *BootServices) Stall(microseconds uint64) uefi.Status {
	s.Lock()
	s.enter("Stall")
	s.Unlock()

	time.Sleep(time.Duration(microseconds) * time.Microsecond)

	return uefi.EFI_SUCCESS
}
