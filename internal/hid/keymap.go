package hid

// Modifier bits of the boot keyboard report's first byte.
const (
	ModLeftCtrl   = 1 << 0
	ModLeftShift  = 1 << 1
	ModLeftAlt    = 1 << 2
	ModLeftGUI    = 1 << 3
	ModRightCtrl  = 1 << 4
	ModRightShift = 1 << 5
	ModRightAlt   = 1 << 6
	ModRightGUI   = 1 << 7
)

// keyEntry maps an X11 keysym to a HID usage ID, with an implied shift
// for keysyms that only exist on the shifted layer of a US layout.
type keyEntry struct {
	usage byte
	shift bool
}

// modifierUsage returns the modifier bit for modifier keysyms, or 0.
func modifierUsage(keysym uint32) byte {
	switch keysym {
	case 0xffe1: // Shift_L
		return ModLeftShift
	case 0xffe2: // Shift_R
		return ModRightShift
	case 0xffe3: // Control_L
		return ModLeftCtrl
	case 0xffe4: // Control_R
		return ModRightCtrl
	case 0xffe9: // Alt_L
		return ModLeftAlt
	case 0xffea: // Alt_R
		return ModRightAlt
	case 0xffeb: // Super_L
		return ModLeftGUI
	case 0xffec: // Super_R
		return ModRightGUI
	}
	return 0
}

// lookupKeysym translates an X11 keysym into a HID usage. US layout;
// unmapped keysyms are dropped by the caller.
func lookupKeysym(keysym uint32) (keyEntry, bool) {
	// Letters: HID usages 0x04..0x1d. Uppercase keysyms arrive when the
	// client holds shift, which is already tracked as a modifier.
	if keysym >= 'a' && keysym <= 'z' {
		return keyEntry{usage: byte(keysym-'a') + 0x04}, true
	}
	if keysym >= 'A' && keysym <= 'Z' {
		return keyEntry{usage: byte(keysym-'A') + 0x04}, true
	}
	// Digits: 1..9 then 0.
	if keysym >= '1' && keysym <= '9' {
		return keyEntry{usage: byte(keysym-'1') + 0x1e}, true
	}
	if keysym == '0' {
		return keyEntry{usage: 0x27}, true
	}
	// F1..F12: keysyms 0xffbe..0xffc9, usages 0x3a..0x45.
	if keysym >= 0xffbe && keysym <= 0xffc9 {
		return keyEntry{usage: byte(keysym-0xffbe) + 0x3a}, true
	}

	e, ok := keysymTable[keysym]
	return e, ok
}

var keysymTable = map[uint32]keyEntry{
	// Control and editing keys.
	0xff08: {usage: 0x2a}, // BackSpace
	0xff09: {usage: 0x2b}, // Tab
	0xff0d: {usage: 0x28}, // Return
	0xff1b: {usage: 0x29}, // Escape
	0xff63: {usage: 0x49}, // Insert
	0xffff: {usage: 0x4c}, // Delete
	0xff50: {usage: 0x4a}, // Home
	0xff57: {usage: 0x4d}, // End
	0xff55: {usage: 0x4b}, // Page Up
	0xff56: {usage: 0x4e}, // Page Down
	0xff51: {usage: 0x50}, // Left
	0xff52: {usage: 0x52}, // Up
	0xff53: {usage: 0x4f}, // Right
	0xff54: {usage: 0x51}, // Down
	0xffe5: {usage: 0x39}, // Caps_Lock
	0xff13: {usage: 0x48}, // Pause
	0xff61: {usage: 0x46}, // Print

	// Unshifted punctuation.
	' ':  {usage: 0x2c},
	'-':  {usage: 0x2d},
	'=':  {usage: 0x2e},
	'[':  {usage: 0x2f},
	']':  {usage: 0x30},
	'\\': {usage: 0x31},
	';':  {usage: 0x33},
	'\'': {usage: 0x34},
	'`':  {usage: 0x35},
	',':  {usage: 0x36},
	'.':  {usage: 0x37},
	'/':  {usage: 0x38},

	// Shifted layer of the US layout.
	'!': {usage: 0x1e, shift: true},
	'@': {usage: 0x1f, shift: true},
	'#': {usage: 0x20, shift: true},
	'$': {usage: 0x21, shift: true},
	'%': {usage: 0x22, shift: true},
	'^': {usage: 0x23, shift: true},
	'&': {usage: 0x24, shift: true},
	'*': {usage: 0x25, shift: true},
	'(': {usage: 0x26, shift: true},
	')': {usage: 0x27, shift: true},
	'_': {usage: 0x2d, shift: true},
	'+': {usage: 0x2e, shift: true},
	'{': {usage: 0x2f, shift: true},
	'}': {usage: 0x30, shift: true},
	'|': {usage: 0x31, shift: true},
	':': {usage: 0x33, shift: true},
	'"': {usage: 0x34, shift: true},
	'~': {usage: 0x35, shift: true},
	'<': {usage: 0x36, shift: true},
	'>': {usage: 0x37, shift: true},
	'?': {usage: 0x38, shift: true},
}
