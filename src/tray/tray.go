// Package tray shows the resident's system tray icon and menu.
package tray

import (
	"sync/atomic"

	"github.com/getlantern/systray"
	"go.uber.org/zap"
)

type Config struct {
	Title   string
	Tooltip string
	// Hotkey is shown in the tooltip, e.g. "Ctrl+Alt+G".
	Hotkey          string
	OnGenerate      func()
	OnToggleOverlay func()
	OnExit          func()
	Log             *zap.SugaredLogger
}

type Tray struct {
	cfg    Config
	log    *zap.SugaredLogger
	ready  atomic.Bool
	busy   atomic.Bool
	hotkey atomic.Value // string
	// stop is set by Quit so a tray that becomes ready afterwards exits at once.
	stop atomic.Bool
	quit chan struct{}
}

func New(cfg Config) *Tray {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	t := &Tray{cfg: cfg, log: log, quit: make(chan struct{})}
	t.hotkey.Store(cfg.Hotkey)
	return t
}

// Run blocks until Quit is called or the user picks Quit. On macOS it must be
// called from the main goroutine.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) Quit() {
	t.stop.Store(true)
	if t.ready.Load() {
		systray.Quit()
	}
}

// SetLogger replaces the logger; call it before Run.
func (t *Tray) SetLogger(log *zap.SugaredLogger) {
	if log != nil {
		t.log = log
	}
}

// SetBusy implements eventloop.StatusSink.
func (t *Tray) SetBusy(busy bool) {
	t.busy.Store(busy)
	if t.ready.Load() {
		systray.SetTooltip(t.tooltip())
	}
}

// SetHotkey updates the generation combo shown in the tooltip.
func (t *Tray) SetHotkey(combo string) {
	t.hotkey.Store(combo)
	if t.ready.Load() {
		systray.SetTooltip(t.tooltip())
	}
}

func (t *Tray) tooltip() string {
	return tooltipFor(t.cfg.Tooltip, t.hotkey.Load().(string), t.busy.Load())
}

func tooltipFor(base, hotkey string, busy bool) string {
	if busy {
		return base + ": generating..."
	}
	if hotkey == "" {
		return base
	}
	return base + " - press " + hotkey + " to generate"
}

func (t *Tray) onReady() {
	if icon := Icon(); icon != nil {
		systray.SetIcon(icon)
	}
	systray.SetTitle(t.cfg.Title)
	systray.SetTooltip(t.tooltip())

	mGenerate := systray.AddMenuItem("Generate now", "Generate a response for the highlighted text")
	mOverlay := systray.AddMenuItem("Toggle overlay", "Show or hide the status overlay")
	systray.AddSeparator()
	mQuit := systray.AddMenuItem("Quit", "Quit the application")
	t.ready.Store(true)
	if t.stop.Load() {
		systray.Quit()
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				t.log.Errorw("panic in tray menu handler", "panic", r)
			}
		}()
		for {
			select {
			case <-mGenerate.ClickedCh:
				call(t.cfg.OnGenerate)
			case <-mOverlay.ClickedCh:
				call(t.cfg.OnToggleOverlay)
			case <-mQuit.ClickedCh:
				systray.Quit()
				return
			case <-t.quit:
				return
			}
		}
	}()
}

func (t *Tray) onExit() {
	t.ready.Store(false)
	close(t.quit)
	call(t.cfg.OnExit)
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}
