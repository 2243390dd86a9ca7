package hotkey

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Action string

const (
	ActionStart         Action = "start"
	ActionStop          Action = "stop"
	ActionPause         Action = "pause"
	ActionOverlayToggle Action = "overlay-toggle"
	ActionAIGeneration  Action = "ai-generation"
	// ActionDiagnostics toggles debug logging. It is not user-configurable.
	ActionDiagnostics Action = "diagnostics"
)

// Actions lists the user-bindable actions in registration order.
var Actions = []Action{ActionStart, ActionStop, ActionPause, ActionOverlayToggle, ActionAIGeneration}

// Bindings maps an action to its accelerator string. An empty string leaves
// the action unbound.
type Bindings map[Action]string

func DefaultBindings() Bindings {
	return Bindings{
		ActionStart:         "Ctrl+Alt+S",
		ActionStop:          "Ctrl+Alt+X",
		ActionPause:         "Ctrl+Alt+P",
		ActionOverlayToggle: "Ctrl+Alt+O",
		ActionAIGeneration:  "Ctrl+Alt+G",
	}
}

func (b Bindings) Clone() Bindings {
	out := make(Bindings, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Validate rejects unknown actions, unparsable accelerators and two actions
// sharing the same key set.
func (b Bindings) Validate() error {
	known := make(map[Action]bool, len(Actions))
	for _, a := range Actions {
		known[a] = true
	}

	owners := make(map[string]Action)
	var errs []error
	for _, a := range Actions {
		raw := strings.TrimSpace(b[a])
		if raw == "" {
			continue
		}
		c, err := parseCombo(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", a, err))
			continue
		}
		if other, dup := owners[c.signature]; dup {
			errs = append(errs, fmt.Errorf("%s: %q is already used by %s", a, raw, other))
			continue
		}
		owners[c.signature] = a
	}
	for a := range b {
		if !known[a] {
			errs = append(errs, fmt.Errorf("unknown action %q", a))
		}
	}
	return errors.Join(errs...)
}

// LoadBindings reads the binding table. A missing file yields the defaults;
// actions absent from the file keep their default accelerator.
func LoadBindings(path string) (Bindings, error) {
	b := DefaultBindings()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return b, nil
		}
		return nil, fmt.Errorf("read hotkeys: %w", err)
	}
	var stored map[Action]string
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("unmarshal hotkeys: %w", err)
	}
	for a, combo := range stored {
		b[a] = combo
	}
	return b, nil
}

// SaveBindings rewrites the whole table.
func SaveBindings(path string, b Bindings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create hotkeys dir: %w", err)
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal hotkeys: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write hotkeys: %w", err)
	}
	return nil
}
