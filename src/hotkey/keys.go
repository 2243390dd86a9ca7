package hotkey

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrUnknownKey   = errors.New("unknown key")
	ErrNoTriggerKey = errors.New("hotkey needs a non-modifier key")
)

// Windows virtual key codes. Modifiers map to both left and right variants.
var keyRawcodes = map[string][]uint16{
	"ctrl":  {162, 163}, // VK_LCONTROL, VK_RCONTROL
	"alt":   {164, 165}, // VK_LMENU, VK_RMENU
	"shift": {160, 161}, // VK_LSHIFT, VK_RSHIFT
	"cmd":   {91, 92},   // VK_LWIN, VK_RWIN

	"space":     {32},
	"enter":     {13},
	"esc":       {27},
	"tab":       {9},
	"backspace": {8},
	"delete":    {46},
	"insert":    {45},
	"home":      {36},
	"end":       {35},
	"pageup":    {33},
	"pagedown":  {34},
	"left":      {37},
	"up":        {38},
	"right":     {39},
	"down":      {40},
}

var keyAliases = map[string]string{
	"control": "ctrl",
	"option":  "alt",
	"win":     "cmd",
	"super":   "cmd",
	"meta":    "cmd",
	"command": "cmd",
	"return":  "enter",
	"escape":  "esc",
	"del":     "delete",
	"ins":     "insert",
	"pgup":    "pageup",
	"pgdn":    "pagedown",
}

var modifiers = map[string]bool{"ctrl": true, "alt": true, "shift": true, "cmd": true}

func init() {
	// A-Z are 0x41-0x5A, 0-9 are 0x30-0x39, F1-F24 start at 0x70.
	for c := 'a'; c <= 'z'; c++ {
		keyRawcodes[string(c)] = []uint16{uint16(65 + c - 'a')}
	}
	for c := '0'; c <= '9'; c++ {
		keyRawcodes[string(c)] = []uint16{uint16(48 + c - '0')}
	}
	for n := 1; n <= 24; n++ {
		keyRawcodes[fmt.Sprintf("f%d", n)] = []uint16{uint16(111 + n)}
	}
}

// parseHotkey converts a hotkey string like "Ctrl+Alt+q" to normalized key names.
// Electron-style accelerator names (CommandOrControl, Super) are accepted.
func parseHotkey(hotkeyConfig string) []string {
	parts := strings.Split(strings.ToLower(hotkeyConfig), "+")
	var keys []string
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if part == "commandorcontrol" || part == "cmdorctrl" {
			part = "ctrl"
		}
		if alias, ok := keyAliases[part]; ok {
			part = alias
		}
		keys = append(keys, part)
	}
	return keys
}

// keyNameToRawcodes maps a normalized key name to its rawcodes, nil if unknown.
func keyNameToRawcodes(keyName string) []uint16 {
	keyName = strings.ToLower(strings.TrimSpace(keyName))
	if alias, ok := keyAliases[keyName]; ok {
		keyName = alias
	}
	return keyRawcodes[keyName]
}

// combo is a parsed hotkey: one rawcode set per key.
type combo struct {
	keys [][]uint16
	// mods are the modifier names the combo uses; any other held modifier
	// keeps it from matching.
	mods map[string]bool
	// signature is the sorted key set, used to detect conflicting bindings.
	signature string
}

func parseCombo(s string) (combo, error) {
	names := parseHotkey(s)
	if len(names) == 0 {
		return combo{}, fmt.Errorf("empty hotkey %q", s)
	}

	seen := make(map[string]bool, len(names))
	c := combo{mods: make(map[string]bool)}
	hasTrigger := false
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		codes := keyNameToRawcodes(name)
		if codes == nil {
			return combo{}, fmt.Errorf("%w %q in %q", ErrUnknownKey, name, s)
		}
		if modifiers[name] {
			c.mods[name] = true
		} else {
			hasTrigger = true
		}
		c.keys = append(c.keys, codes)
	}
	if !hasTrigger {
		return combo{}, fmt.Errorf("%w: %q", ErrNoTriggerKey, s)
	}

	sig := make([]string, 0, len(seen))
	for name := range seen {
		sig = append(sig, name)
	}
	sort.Strings(sig)
	c.signature = strings.Join(sig, "+")
	return c, nil
}

// satisfied reports whether every key of c is held and no other modifier is.
func (c combo) satisfied(pressed map[uint16]bool) bool {
	for name := range modifiers {
		if c.mods[name] {
			continue
		}
		for _, code := range keyRawcodes[name] {
			if pressed[code] {
				return false
			}
		}
	}
	for _, codes := range c.keys {
		held := false
		for _, code := range codes {
			if pressed[code] {
				held = true
				break
			}
		}
		if !held {
			return false
		}
	}
	return true
}
