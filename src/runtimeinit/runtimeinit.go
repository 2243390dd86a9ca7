// Package runtimeinit loads configuration, sets up logging and builds the
// component graph shared by the resident and the standalone run.
package runtimeinit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"typing-assistant/src/ai"
	"typing-assistant/src/auth"
	"typing-assistant/src/backend"
	"typing-assistant/src/bridge"
	"typing-assistant/src/capture"
	"typing-assistant/src/clipboard"
	"typing-assistant/src/config"
	"typing-assistant/src/delivery"
	"typing-assistant/src/eventloop"
	"typing-assistant/src/hotkey"
	"typing-assistant/src/logutil"
	"typing-assistant/src/overlay"
	"typing-assistant/src/pipeline"
	"typing-assistant/src/settings"
	"typing-assistant/src/singleinstance"
	"typing-assistant/src/worker"
)

// requestTimeout bounds how long a bridge or tray trigger waits for the loop
// to accept or reject a run.
const requestTimeout = 2 * time.Second

type Options struct {
	LoadOptions config.LoadOptions
	// Clipboard overrides the system clipboard.
	Clipboard clipboard.Clipboard
	// HotkeyBackend overrides the gohook backend.
	HotkeyBackend hotkey.Backend
	// Status receives busy changes, typically the tray.
	Status eventloop.StatusSink
}

// Core is everything a single generation needs.
type Core struct {
	Config    *config.Config
	Log       *logutil.Logger
	Clipboard clipboard.Clipboard
	Backend   *backend.Client
	AI        *ai.Client
	Settings  *settings.Store
	Auth      *auth.Store
	Overlay   *overlay.Reporter
	Delivery  *delivery.Dispatcher
	Pipeline  *pipeline.Pipeline
}

// App is the resident: Core plus the bridge, hotkeys and event loop.
type App struct {
	*Core
	Hub      *bridge.Hub
	Bridge   *bridge.Bridge
	Server   *bridge.Server
	Loop     *eventloop.Loop
	Hotkeys  *hotkey.Registry
	Instance singleinstance.Server
}

// LoadConfig loads and validates configuration, creates the data directory
// and sets up logging in it.
func LoadConfig(opts config.LoadOptions) (*config.Config, *logutil.Logger, error) {
	cfg, err := config.LoadWithOptions(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, nil, err
	}
	log := logutil.Setup(logutil.Options{
		EnableFileLogging: cfg.EnableFileLogging,
		Debug:             cfg.Debug,
		Dir:               cfg.DataDir,
	})
	return cfg, log, nil
}

// CoreDeps are the pieces that differ between the resident and a standalone run.
type CoreDeps struct {
	Clipboard clipboard.Clipboard
	UI        delivery.UI
	Notifier  pipeline.Notifier
	// Schedule defaults to time.AfterFunc.
	Schedule func(time.Duration, func())
}

func NewCore(cfg *config.Config, log *logutil.Logger, d CoreDeps) (*Core, error) {
	if d.Clipboard == nil {
		sys, err := clipboard.Init()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize clipboard: %w", err)
		}
		d.Clipboard = sys
	}

	settingsStore, err := settings.Open(cfg.Path(config.SettingsFile))
	if err != nil {
		return nil, err
	}
	authStore, err := auth.Open(cfg.Path(config.AuthFileName))
	if err != nil {
		return nil, err
	}

	sugar := log.SugaredLogger
	be := backend.New(cfg.BackendURL, cfg.HTTPTimeout, sugar.Named("backend"))
	aiClient := ai.New(ai.Config{BaseURL: cfg.AIServerURL, Timeout: cfg.HTTPTimeout, Tokens: authStore}, sugar.Named("ai"))
	reporter := overlay.NewReporter(sugar.Named("overlay"))
	dispatcher := delivery.NewDispatcher(d.UI, be, d.Clipboard, sugar.Named("delivery"))
	dispatcher.SetPasteWindow(cfg.RestoreDelay)
	capturer := capture.New(d.Clipboard, be, capture.Options{
		Delay:      cfg.CopyDelay,
		RetryDelay: cfg.CopyRetryDelay,
	}, sugar.Named("capture"))

	p := pipeline.New(pipeline.Deps{
		Capture:      capturer,
		Settings:     settingsStore,
		Generator:    aiClient,
		Humanizer:    be,
		Delivery:     dispatcher,
		Notifier:     d.Notifier,
		Overlay:      reporter,
		Clipboard:    d.Clipboard,
		RestoreDelay: cfg.RestoreDelay,
		Schedule:     d.Schedule,
		Log:          sugar.Named("pipeline"),
	})

	return &Core{
		Config:    cfg,
		Log:       log,
		Clipboard: d.Clipboard,
		Backend:   be,
		AI:        aiClient,
		Settings:  settingsStore,
		Auth:      authStore,
		Overlay:   reporter,
		Delivery:  dispatcher,
		Pipeline:  p,
	}, nil
}

// Bootstrap builds the resident. Nothing is started; the caller runs the
// loop, the bridge server and the hotkey registry.
func Bootstrap(opts Options) (*App, error) {
	cfg, log, err := LoadConfig(opts.LoadOptions)
	if err != nil {
		return nil, err
	}
	sugar := log.SugaredLogger

	hub := bridge.NewHub(sugar.Named("hub"))
	br := bridge.New(hub, sugar.Named("bridge"))

	core, err := NewCore(cfg, log, CoreDeps{Clipboard: opts.Clipboard, UI: br, Notifier: br})
	if err != nil {
		return nil, err
	}
	core.Overlay.Attach(br)

	instance := singleinstance.NewServer(singleinstance.PortRange{Start: cfg.PortStart, End: cfg.PortEnd}, sugar.Named("singleinstance"))
	loop := eventloop.New(eventloop.Options{
		Pool:    worker.New(core.Pipeline, 1, sugar.Named("worker")),
		Server:  instance,
		UI:      br,
		Typing:  core.Backend,
		Overlay: core.Overlay,
		Debug:   log,
		Status:  opts.Status,
		Log:     sugar.Named("eventloop"),
	})

	hkBackend := opts.HotkeyBackend
	if hkBackend == nil {
		hkBackend = hotkey.NewHookBackend(sugar.Named("hotkey"))
	}
	registrar := hotkey.NewRegistrar(hkBackend, cfg.DiagnosticHotkey, loop.OnHotkey, sugar.Named("hotkey"))
	registry := hotkey.NewRegistry(cfg.Path(config.HotkeysFileName), hkBackend, registrar, sugar.Named("hotkey"))

	server := bridge.NewServer(hub, sugar.Named("bridge"))
	br.Register(server, bridge.Deps{
		Hotkeys:   registry,
		Reviews:   core.Delivery,
		Clipboard: core.Clipboard,
		Auth:      core.Auth,
		Settings:  core.Settings,
		Overlay:   core.Overlay,
		Generate: func(overlayTriggered bool) error {
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			return loop.RequestGeneration(ctx, overlayTriggered, "ui")
		},
	})

	return &App{
		Core:     core,
		Hub:      hub,
		Bridge:   br,
		Server:   server,
		Loop:     loop,
		Hotkeys:  registry,
		Instance: instance,
	}, nil
}

// HeadlessUI stands in for the main window when none can be reached.
type HeadlessUI struct {
	Log *logutil.Logger
}

var errNoWindow = errors.New("review mode needs the main window; start the resident first")

func (u HeadlessUI) PresentReview(delivery.Review) error { return errNoWindow }

func (u HeadlessUI) PublishResult(r delivery.Result) {
	u.Log.Infow("delivery result", "mode", r.Mode, "ok", r.OK, "message", r.Message)
}

func (u HeadlessUI) NotifyError(message string) {
	u.Log.Warnw("generation failed", "message", message)
}
