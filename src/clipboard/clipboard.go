package clipboard

import (
	"sync"

	"golang.design/x/clipboard"
)

// Clipboard is the text clipboard shared by capture, delivery and the UI bridge.
type Clipboard interface {
	Read() (string, error)
	Write(text string) error
}

// System is the OS clipboard. Init must succeed before use.
type System struct {
	mu sync.Mutex
}

func Init() (*System, error) {
	if err := clipboard.Init(); err != nil {
		return nil, err
	}
	return &System{}, nil
}

func (s *System) Read() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(clipboard.Read(clipboard.FmtText)), nil
}

// Write performs a mutex-guarded clipboard write to prevent corruption under parallel writes.
func (s *System) Write(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clipboard.Write(clipboard.FmtText, []byte(text))
	return nil
}

// Memory is an in-process clipboard for headless runs and tests.
type Memory struct {
	mu     sync.Mutex
	text   string
	writes []string
	// OnWrite, when set, is called after every write with the lock released.
	OnWrite func(text string)
}

func NewMemory(initial string) *Memory { return &Memory{text: initial} }

func (m *Memory) Read() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text, nil
}

func (m *Memory) Write(text string) error {
	m.mu.Lock()
	m.text = text
	m.writes = append(m.writes, text)
	hook := m.OnWrite
	m.mu.Unlock()
	if hook != nil {
		hook(text)
	}
	return nil
}

// Writes returns every value written so far, oldest first.
func (m *Memory) Writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.writes...)
}
