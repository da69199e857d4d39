package hid

import (
	"github.com/chassisworks/kvmip/internal/logger"
)

// Keyboard translates per-session key events into boot keyboard
// reports. Each session owns one; modifier and pressed-key state is
// per connection, the device writes go through the shared Manager.
type Keyboard struct {
	mgr       *Manager
	modifiers byte
	// pressed maps HID usage -> implied shift, in press order capped at
	// the boot protocol's six slots.
	pressed []keyEntry
}

// NewKeyboard creates a keyboard translator bound to the manager.
func NewKeyboard(mgr *Manager) *Keyboard {
	return &Keyboard{mgr: mgr}
}

// KeyEvent applies one key press or release identified by its X11
// keysym and writes the resulting report. Unmapped keysyms are dropped.
func (k *Keyboard) KeyEvent(keysym uint32, down bool) {
	if mod := modifierUsage(keysym); mod != 0 {
		if down {
			k.modifiers |= mod
		} else {
			k.modifiers &^= mod
		}
		k.flush()
		return
	}

	entry, ok := lookupKeysym(keysym)
	if !ok {
		logger.WithComponent("hid").Debug().
			Uint32("keysym", keysym).Bool("down", down).
			Msg("unmapped keysym dropped")
		return
	}

	if down {
		k.press(entry)
	} else {
		k.release(entry)
	}
	k.flush()
}

// Reset releases everything held by this session. Called on session
// teardown so a disconnecting viewer cannot leave keys stuck down.
func (k *Keyboard) Reset() {
	if k.modifiers == 0 && len(k.pressed) == 0 {
		return
	}
	k.modifiers = 0
	k.pressed = nil
	k.flush()
}

func (k *Keyboard) press(entry keyEntry) {
	for _, p := range k.pressed {
		if p.usage == entry.usage {
			return // key repeat
		}
	}
	if len(k.pressed) >= 6 {
		// Boot protocol has six slots; drop the oldest.
		k.pressed = k.pressed[1:]
	}
	k.pressed = append(k.pressed, entry)
}

func (k *Keyboard) release(entry keyEntry) {
	for i, p := range k.pressed {
		if p.usage == entry.usage {
			k.pressed = append(k.pressed[:i], k.pressed[i+1:]...)
			return
		}
	}
}

func (k *Keyboard) flush() {
	var report [KeyboardReportLen]byte
	report[0] = k.modifiers
	for i, p := range k.pressed {
		report[2+i] = p.usage
		if p.shift {
			report[0] |= ModLeftShift
		}
	}
	k.mgr.WriteKeyboard(report)
}
