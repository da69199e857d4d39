package hid

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// newTestManager backs the manager with temp files so report bytes can
// be inspected. Writes are not appended, so each file holds the most
// recent report.
func newTestManager(t *testing.T) (*Manager, string, string) {
	t.Helper()
	dir := t.TempDir()
	kbPath := filepath.Join(dir, "hidg0")
	ptrPath := filepath.Join(dir, "hidg1")
	for _, p := range []string{kbPath, ptrPath} {
		if err := os.WriteFile(p, nil, 0o644); err != nil {
			t.Fatalf("failed to create fake device: %v", err)
		}
	}
	return NewManager(kbPath, ptrPath), kbPath, ptrPath
}

func lastReport(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read fake device: %v", err)
	}
	return data
}

func TestWriteKeyboardReport(t *testing.T) {
	mgr, kbPath, _ := newTestManager(t)

	report := [KeyboardReportLen]byte{0x02, 0x00, 0x04}
	mgr.WriteKeyboard(report)

	if got := lastReport(t, kbPath); !bytes.Equal(got, report[:]) {
		t.Errorf("keyboard device got %v, want %v", got, report)
	}
}

func TestWritePointerReport(t *testing.T) {
	mgr, _, ptrPath := newTestManager(t)

	report := [PointerReportLen]byte{0x01, 0x10, 0xf0, 0xff}
	mgr.WritePointer(report)

	if got := lastReport(t, ptrPath); !bytes.Equal(got, report[:]) {
		t.Errorf("pointer device got %v, want %v", got, report)
	}
}

func TestMissingDeviceDropsEvent(t *testing.T) {
	mgr := NewManager("/nonexistent/hidg0", "/nonexistent/hidg1")
	// Must not panic or block; the event is logged and dropped.
	mgr.WriteKeyboard([KeyboardReportLen]byte{})
	mgr.WritePointer([PointerReportLen]byte{})
}

func TestConcurrentWritesDoNotInterleave(t *testing.T) {
	mgr, kbPath, _ := newTestManager(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(fill byte) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				var report [KeyboardReportLen]byte
				for k := range report {
					report[k] = fill
				}
				mgr.WriteKeyboard(report)
			}
		}(byte(i + 1))
	}
	wg.Wait()

	// Whatever report landed last, all its bytes must come from the
	// same writer.
	got := lastReport(t, kbPath)
	if len(got) != KeyboardReportLen {
		t.Fatalf("report length = %d, want %d", len(got), KeyboardReportLen)
	}
	for _, b := range got {
		if b != got[0] {
			t.Fatalf("interleaved report bytes: %v", got)
		}
	}
}

func TestKeyEventLetter(t *testing.T) {
	mgr, kbPath, _ := newTestManager(t)
	kb := NewKeyboard(mgr)

	kb.KeyEvent('a', true)
	want := []byte{0, 0, 0x04, 0, 0, 0, 0, 0}
	if got := lastReport(t, kbPath); !bytes.Equal(got, want) {
		t.Errorf("press report = %v, want %v", got, want)
	}

	kb.KeyEvent('a', false)
	want = make([]byte, KeyboardReportLen)
	if got := lastReport(t, kbPath); !bytes.Equal(got, want) {
		t.Errorf("release report = %v, want %v", got, want)
	}
}

func TestKeyEventModifierCombination(t *testing.T) {
	mgr, kbPath, _ := newTestManager(t)
	kb := NewKeyboard(mgr)

	kb.KeyEvent(0xffe3, true) // Control_L
	kb.KeyEvent('c', true)
	want := []byte{ModLeftCtrl, 0, 0x06, 0, 0, 0, 0, 0}
	if got := lastReport(t, kbPath); !bytes.Equal(got, want) {
		t.Errorf("ctrl+c report = %v, want %v", got, want)
	}

	kb.KeyEvent('c', false)
	kb.KeyEvent(0xffe3, false)
	if got := lastReport(t, kbPath); !bytes.Equal(got, make([]byte, 8)) {
		t.Errorf("release report = %v, want zeros", got)
	}
}

func TestKeyEventShiftedSymbol(t *testing.T) {
	mgr, kbPath, _ := newTestManager(t)
	kb := NewKeyboard(mgr)

	// '!' is shift+1 on a US layout; the shift modifier is implied.
	kb.KeyEvent('!', true)
	want := []byte{ModLeftShift, 0, 0x1e, 0, 0, 0, 0, 0}
	if got := lastReport(t, kbPath); !bytes.Equal(got, want) {
		t.Errorf("shifted symbol report = %v, want %v", got, want)
	}
}

func TestKeyEventUnmappedDropped(t *testing.T) {
	mgr, kbPath, _ := newTestManager(t)
	kb := NewKeyboard(mgr)

	kb.KeyEvent(0xfe03, true) // ISO_Level3_Shift, unmapped
	if got := lastReport(t, kbPath); len(got) != 0 {
		t.Errorf("unmapped keysym produced report %v", got)
	}
}

func TestKeyboardReset(t *testing.T) {
	mgr, kbPath, _ := newTestManager(t)
	kb := NewKeyboard(mgr)

	kb.KeyEvent(0xffe1, true) // Shift_L
	kb.KeyEvent('x', true)
	kb.Reset()
	if got := lastReport(t, kbPath); !bytes.Equal(got, make([]byte, 8)) {
		t.Errorf("reset report = %v, want zeros", got)
	}
}

func TestKeysymTable(t *testing.T) {
	cases := []struct {
		name   string
		keysym uint32
		usage  byte
		shift  bool
	}{
		{"enter", 0xff0d, 0x28, false},
		{"escape", 0xff1b, 0x29, false},
		{"backspace", 0xff08, 0x2a, false},
		{"tab", 0xff09, 0x2b, false},
		{"space", ' ', 0x2c, false},
		{"digit 1", '1', 0x1e, false},
		{"digit 0", '0', 0x27, false},
		{"uppercase Z", 'Z', 0x1d, false},
		{"f1", 0xffbe, 0x3a, false},
		{"f12", 0xffc9, 0x45, false},
		{"left arrow", 0xff51, 0x50, false},
		{"question mark", '?', 0x38, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entry, ok := lookupKeysym(tc.keysym)
			if !ok {
				t.Fatalf("keysym %#x not mapped", tc.keysym)
			}
			if entry.usage != tc.usage || entry.shift != tc.shift {
				t.Errorf("keysym %#x = usage %#x shift %v, want usage %#x shift %v",
					tc.keysym, entry.usage, entry.shift, tc.usage, tc.shift)
			}
		})
	}
}

func TestPointerEventDeltas(t *testing.T) {
	mgr, _, ptrPath := newTestManager(t)
	ptr := NewPointer(mgr)

	// First event establishes the baseline: zero deltas.
	ptr.PointerEvent(0, 100, 100)
	want := []byte{0, 0, 0, 0}
	if got := lastReport(t, ptrPath); !bytes.Equal(got, want) {
		t.Errorf("baseline report = %v, want %v", got, want)
	}

	ptr.PointerEvent(0, 110, 95)
	dy := int8(-5)
	want = []byte{0, 10, byte(dy), 0}
	if got := lastReport(t, ptrPath); !bytes.Equal(got, want) {
		t.Errorf("delta report = %v, want %v", got, want)
	}
}

func TestPointerDeltaClamped(t *testing.T) {
	mgr, _, ptrPath := newTestManager(t)
	ptr := NewPointer(mgr)

	ptr.PointerEvent(0, 0, 1000)
	ptr.PointerEvent(0, 1000, 0)
	dyClamp := int8(-127)
	want := []byte{0, 127, byte(dyClamp), 0}
	if got := lastReport(t, ptrPath); !bytes.Equal(got, want) {
		t.Errorf("clamped report = %v, want %v", got, want)
	}
}

func TestPointerButtonsRemapped(t *testing.T) {
	mgr, _, ptrPath := newTestManager(t)
	ptr := NewPointer(mgr)

	// RFB: bit 0 left, bit 1 middle, bit 2 right.
	// Boot mouse: bit 0 left, bit 1 right, bit 2 middle.
	ptr.PointerEvent(rfbButtonMiddle|rfbButtonRight, 0, 0)
	got := lastReport(t, ptrPath)
	if got[0] != bootButtonMiddle|bootButtonRight {
		t.Errorf("buttons = %#x, want %#x", got[0], bootButtonMiddle|bootButtonRight)
	}
}

func TestPointerWheel(t *testing.T) {
	mgr, _, ptrPath := newTestManager(t)
	ptr := NewPointer(mgr)

	ptr.PointerEvent(rfbWheelUp, 0, 0)
	if got := lastReport(t, ptrPath); int8(got[3]) != 1 {
		t.Errorf("wheel up = %d, want 1", int8(got[3]))
	}
	ptr.PointerEvent(rfbWheelDown, 0, 0)
	if got := lastReport(t, ptrPath); int8(got[3]) != -1 {
		t.Errorf("wheel down = %d, want -1", int8(got[3]))
	}
}
