// Package settings holds the generation options the web UI persists and the
// pipeline reads once per run.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	MinResponseLength = 1
	MaxResponseLength = 5
)

// Generation is read-only input to a pipeline run. JSON keys match the UI's
// local storage keys.
type Generation struct {
	ResponseLength int    `json:"response_length"`
	GradeLevel     int    `json:"grade_level"`
	Tone           string `json:"tone"`
	Humanizer      bool   `json:"humanizer_enabled"`
	ReviewMode     bool   `json:"review_mode"`
	PasteMode      bool   `json:"paste_mode"`
	AIFiller       bool   `json:"ai_filler_enabled"`
	TypingProfile  string `json:"typing_profile"`
}

func Defaults() Generation {
	return Generation{
		ResponseLength: 3,
		GradeLevel:     10,
		Tone:           "Neutral",
		TypingProfile:  "Normal",
	}
}

func (g Generation) Validate() error {
	if g.ResponseLength < MinResponseLength || g.ResponseLength > MaxResponseLength {
		return fmt.Errorf("response_length must be between %d and %d, got %d", MinResponseLength, MaxResponseLength, g.ResponseLength)
	}
	if g.GradeLevel < 1 || g.GradeLevel > 20 {
		return fmt.Errorf("grade_level out of range: %d", g.GradeLevel)
	}
	if strings.TrimSpace(g.Tone) == "" {
		return errors.New("tone is required")
	}
	return nil
}

// Store keeps the current settings and persists them wholesale.
type Store struct {
	mu      sync.RWMutex
	path    string
	current Generation
}

// Open loads path, falling back to defaults when the file is missing.
func Open(path string) (*Store, error) {
	s := &Store{path: path, current: Defaults()}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	g := Defaults()
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}
	s.current = g
	return s, nil
}

// NewMemoryStore returns a store that never touches disk.
func NewMemoryStore(g Generation) *Store {
	return &Store{current: g}
}

// Snapshot returns a copy; later Replace calls do not affect it.
func (s *Store) Snapshot() Generation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Store) Replace(g Generation) error {
	if err := g.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path != "" {
		if err := writeJSON(s.path, g); err != nil {
			return err
		}
	}
	s.current = g
	return nil
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
