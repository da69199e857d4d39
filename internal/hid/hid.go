// Package hid translates protocol input events into USB boot-protocol
// HID reports and writes them to the gadget device files.
package hid

import (
	"os"
	"sync"

	"github.com/chassisworks/kvmip/internal/logger"
	"github.com/chassisworks/kvmip/internal/metrics"
)

const (
	// KeyboardReportLen is the boot-protocol keyboard report size:
	// modifier byte, reserved byte, six key-code slots.
	KeyboardReportLen = 8

	// PointerReportLen is the boot-protocol mouse report size:
	// buttons, relative x, relative y, wheel.
	PointerReportLen = 4
)

// Manager owns the keyboard and pointer gadget device paths and
// serializes writes per device so concurrent sessions never interleave
// report bytes. A write failure is logged and the event dropped; a
// misconfigured HID gadget must not disconnect viewers.
type Manager struct {
	keyboardPath string
	pointerPath  string

	kbMu  sync.Mutex
	ptrMu sync.Mutex
}

// NewManager creates a manager for the given gadget device paths.
// Missing devices are tolerated: each write reopens the device, so a
// gadget configured after startup starts working without a restart.
func NewManager(keyboardPath, pointerPath string) *Manager {
	log := logger.WithComponent("hid")
	for _, path := range []string{keyboardPath, pointerPath} {
		if _, err := os.Stat(path); err != nil {
			log.Warn().Str("device", path).Err(err).
				Msg("HID gadget device not present, input will be dropped")
		}
	}
	return &Manager{keyboardPath: keyboardPath, pointerPath: pointerPath}
}

// WriteKeyboard writes one 8-byte boot keyboard report.
func (m *Manager) WriteKeyboard(report [KeyboardReportLen]byte) {
	m.kbMu.Lock()
	defer m.kbMu.Unlock()
	m.write(m.keyboardPath, "keyboard", report[:])
}

// WritePointer writes one 4-byte boot mouse report.
func (m *Manager) WritePointer(report [PointerReportLen]byte) {
	m.ptrMu.Lock()
	defer m.ptrMu.Unlock()
	m.write(m.pointerPath, "pointer", report[:])
}

func (m *Manager) write(path, device string, report []byte) {
	log := logger.WithComponent("hid")

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		log.Warn().Str("device", device).Str("path", path).Err(err).
			Msg("failed to open HID device, event dropped")
		metrics.HIDWriteErrors.WithLabelValues(device).Inc()
		return
	}
	defer f.Close()

	if _, err := f.Write(report); err != nil {
		log.Warn().Str("device", device).Str("path", path).Err(err).
			Msg("HID write failed, event dropped")
		metrics.HIDWriteErrors.WithLabelValues(device).Inc()
		return
	}
	metrics.InputEvents.WithLabelValues(device).Inc()
}
