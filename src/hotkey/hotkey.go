// Package hotkey owns the global keyboard shortcuts: the persisted binding
// table, a gohook-based OS backend and the registry that swaps bindings at
// runtime.
package hotkey

import (
	"errors"
	"fmt"
	"sync"
	"time"

	gohook "github.com/robotn/gohook"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrConflict means another binding already uses the same key set.
var ErrConflict = errors.New("hotkey already bound")

// debounceInterval limits how often one binding can fire while the OS
// auto-repeats a held key.
const debounceInterval = 300 * time.Millisecond

// Backend binds accelerators to callbacks at the OS level.
type Backend interface {
	Bind(combo string, fn func()) error
	UnbindAll()
	Close()
}

type binding struct {
	name    string
	combo   combo
	fn      func()
	limiter *rate.Limiter
	// armed is false from the time the binding fires until one of its keys is
	// released.
	armed bool
}

// HookBackend matches key events from the gohook low-level hook against the
// bound combos. The hook is started on the first Bind.
type HookBackend struct {
	mu       sync.Mutex
	bindings []*binding
	pressed  map[uint16]bool
	started  bool
	log      *zap.SugaredLogger
}

func NewHookBackend(log *zap.SugaredLogger) *HookBackend {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &HookBackend{pressed: make(map[uint16]bool), log: log}
}

func (b *HookBackend) Bind(accel string, fn func()) error {
	c, err := parseCombo(accel)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.bindings {
		if existing.combo.signature == c.signature {
			return fmt.Errorf("%w: %q conflicts with %q", ErrConflict, accel, existing.name)
		}
	}
	b.bindings = append(b.bindings, &binding{
		name:    accel,
		combo:   c,
		fn:      fn,
		limiter: rate.NewLimiter(rate.Every(debounceInterval), 1),
		armed:   true,
	})
	b.log.Debugw("hotkey bound", "combo", accel)

	if !b.started {
		if err := b.start(); err != nil {
			b.bindings = b.bindings[:len(b.bindings)-1]
			return err
		}
	}
	return nil
}

func (b *HookBackend) UnbindAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindings = nil
}

func (b *HookBackend) Close() {
	b.mu.Lock()
	started := b.started
	b.bindings = nil
	b.started = false
	b.mu.Unlock()
	if started {
		gohook.End()
	}
}

// start must be called with mu held.
func (b *HookBackend) start() error {
	evChan := gohook.Start()
	if evChan == nil {
		return errors.New("gohook.Start returned nil channel")
	}
	b.started = true
	go b.loop(evChan)
	return nil
}

func (b *HookBackend) loop(evChan chan gohook.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorw("panic in hotkey goroutine", "panic", r)
		}
	}()
	for ev := range evChan {
		for _, fn := range b.handle(ev.Kind, ev.Rawcode) {
			b.invoke(fn)
		}
	}
	b.log.Debugw("hotkey event channel closed")
}

// handle updates key state and returns the callbacks that fire for this event.
func (b *HookBackend) handle(kind uint8, rawcode uint16) []func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch kind {
	case gohook.KeyDown, gohook.KeyHold:
		b.pressed[rawcode] = true
		var fire []func()
		for _, bd := range b.bindings {
			if !bd.armed || !bd.combo.satisfied(b.pressed) {
				continue
			}
			bd.armed = false
			if !bd.limiter.Allow() {
				b.log.Debugw("hotkey debounced", "combo", bd.name)
				continue
			}
			b.log.Debugw("hotkey combination detected", "combo", bd.name)
			fire = append(fire, bd.fn)
		}
		return fire
	case gohook.KeyUp:
		delete(b.pressed, rawcode)
		for _, bd := range b.bindings {
			if !bd.armed && !bd.combo.satisfied(b.pressed) {
				bd.armed = true
			}
		}
	}
	return nil
}

func (b *HookBackend) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorw("panic in hotkey callback", "panic", r)
		}
	}()
	fn()
}
