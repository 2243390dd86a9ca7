package hotkey

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Failure records one binding that could not be registered.
type Failure struct {
	Action Action
	Combo  string
	Err    error
}

func (f Failure) Error() string {
	return fmt.Sprintf("register %s (%s): %v", f.Action, f.Combo, f.Err)
}

// Handler receives every triggered action.
type Handler func(Action)

type Registrar struct {
	backend    Backend
	diagnostic string
	handler    Handler
	log        *zap.SugaredLogger
}

func NewRegistrar(backend Backend, diagnosticCombo string, handler Handler, log *zap.SugaredLogger) *Registrar {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Registrar{backend: backend, diagnostic: diagnosticCombo, handler: handler, log: log}
}

// Register replaces every OS binding with b plus the diagnostic toggle. A
// binding that fails is reported and skipped; the rest are still bound.
func (r *Registrar) Register(b Bindings) []Failure {
	r.backend.UnbindAll()

	var failures []Failure
	bind := func(a Action, combo string) {
		combo = strings.TrimSpace(combo)
		if combo == "" {
			return
		}
		if err := r.backend.Bind(combo, func() { r.handler(a) }); err != nil {
			f := Failure{Action: a, Combo: combo, Err: err}
			r.log.Warnw("hotkey registration failed", "action", a, "combo", combo, "error", err)
			failures = append(failures, f)
			return
		}
		r.log.Infow("hotkey registered", "action", a, "combo", combo)
	}

	for _, a := range Actions {
		bind(a, b[a])
	}
	bind(ActionDiagnostics, r.diagnostic)
	return failures
}

// Registry is the single owner of the active binding table.
type Registry struct {
	mu        sync.Mutex
	path      string
	registrar *Registrar
	backend   Backend
	current   Bindings
	log       *zap.SugaredLogger
}

func NewRegistry(path string, backend Backend, registrar *Registrar, log *zap.SugaredLogger) *Registry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Registry{path: path, backend: backend, registrar: registrar, log: log}
}

// Start loads the persisted table and registers it.
func (r *Registry) Start() []Failure {
	b, err := LoadBindings(r.path)
	if err != nil {
		r.log.Warnw("hotkey table unreadable, using defaults", "path", r.path, "error", err)
		b = DefaultBindings()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = b
	return r.registrar.Register(b)
}

// Update validates b, persists it and re-registers, all under one lock so
// concurrent updates cannot interleave.
func (r *Registry) Update(b Bindings) ([]Failure, error) {
	merged := DefaultBindings()
	for a, combo := range b {
		merged[a] = combo
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := SaveBindings(r.path, merged); err != nil {
		return nil, err
	}
	r.current = merged
	return r.registrar.Register(merged), nil
}

func (r *Registry) Current() Bindings {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return DefaultBindings()
	}
	return r.current.Clone()
}

func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backend.UnbindAll()
	r.backend.Close()
}
