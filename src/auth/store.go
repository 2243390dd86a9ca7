package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// State is the persisted sign-in state shared with the web UI.
type State struct {
	Token     string    `json:"token"`
	Email     string    `json:"email,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store reads and rewrites the auth-token file wholesale.
type Store struct {
	mu    sync.RWMutex
	path  string
	state State
	now   func() time.Time
}

func Open(path string) (*Store, error) {
	s := &Store{path: path, now: time.Now}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read auth state: %w", err)
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("unmarshal auth state: %w", err)
	}
	return s, nil
}

func (s *Store) Get() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Token returns the current bearer token, empty when signed out.
func (s *Store) Token() string {
	return s.Get().Token
}

func (s *Store) Set(token, email string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := State{Token: token, Email: email, UpdatedAt: s.now().UTC()}
	if err := s.save(next); err != nil {
		return State{}, err
	}
	s.state = next
	return next, nil
}

func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove auth state: %w", err)
	}
	s.state = State{}
	return nil
}

func (s *Store) save(st State) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create auth dir: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal auth state: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write auth state: %w", err)
	}
	return nil
}
