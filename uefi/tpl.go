// Copyright (c) The go-boot authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package uefi

import (
	"fmt"
)

// TPL represents an EFI Task Priority Level.
type TPL uint64

// EFI_TPL
const (
	TPL_APPLICATION TPL = 4
	TPL_CALLBACK    TPL = 8
	TPL_NOTIFY      TPL = 16
	TPL_HIGH_LEVEL  TPL = 31
)

func (t TPL) String() string {
	switch t {
	case TPL_APPLICATION:
		return "TPL_APPLICATION"
	case TPL_CALLBACK:
		return "TPL_CALLBACK"
	case TPL_NOTIFY:
		return "TPL_NOTIFY"
	case TPL_HIGH_LEVEL:
		return "TPL_HIGH_LEVEL"
	}

	return fmt.Sprintf("TPL(%d)", uint64(t))
}

// TplGuard represents a raised task priority level, the previous level is
// restored with [TplGuard.Restore].
//
// Guards must be restored in the reverse order of their creation.
type TplGuard struct {
	ref      bootRef
	old      TPL
	restored bool
}

// RaiseTPL calls EFI_BOOT_SERVICES.RaiseTPL(), the returned guard borrows the
// boot handle.
func (h *BootHandle) RaiseTPL(tpl TPL) *TplGuard {
	old := h.table().RaiseTPL(tpl)

	return &TplGuard{
		ref: bootRef{h: h},
		old: old,
	}
}

// RaiseTPL calls EFI_BOOT_SERVICES.RaiseTPL() with a boot handle owned by the
// returned guard.
func RaiseTPL(tpl TPL) *TplGuard {
	h := AcquireBootHandle()

	g := h.RaiseTPL(tpl)
	g.ref.owned = true

	return g
}

// Previous returns the task priority level restored by the guard.
func (g *TplGuard) Previous() TPL {
	return g.old
}

// Restore calls EFI_BOOT_SERVICES.RestoreTPL() with the level in effect before
// the guard creation, subsequent calls have no effect.
func (g *TplGuard) Restore() {
	if g.restored {
		return
	}

	g.restored = true
	g.ref.h.table().RestoreTPL(g.old)
	g.ref.release()
}

// MakeStatic returns a guard which no longer depends on the lifetime of the
// boot handle used for its creation, the original guard becomes inert.
func (g *TplGuard) MakeStatic() *TplGuard {
	if g.restored {
		panic("cannot make a restored TPL guard static")
	}

	s := &TplGuard{
		ref: g.ref.static(),
		old: g.old,
	}

	g.restored = true

	return s
}
