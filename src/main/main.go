package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"typing-assistant/src/config"
	"typing-assistant/src/hotkey"
	"typing-assistant/src/pipeline"
	"typing-assistant/src/runtimeinit"
	"typing-assistant/src/singleinstance"
	"typing-assistant/src/tray"
)

type mainOptions struct {
	generate   bool
	overlay    bool
	dataDir    string
	backendURL string
}

type generationClient interface {
	TryGenerate(ctx context.Context, overlay bool) (bool, string, error)
}

func main() {
	opts := &mainOptions{}
	cmd := newRootCmd(opts)
	cmd.SetArgs(normalizeLegacyArgs(os.Args)[1:])
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(opts *mainOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           config.AppName,
		Short:         "Generate text for the highlighted selection from a global hotkey",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if opts.generate {
				return runGenerate(ctx, *opts)
			}
			return runResident(ctx, *opts)
		},
	}

	cmd.Flags().BoolVar(&opts.generate, "generate", false, "Run one generation, delegating to the resident when one is running")
	cmd.Flags().BoolVar(&opts.overlay, "overlay", false, "Use the overlay copy path for --generate")
	cmd.Flags().StringVar(&opts.dataDir, "data-dir", "", "Directory for settings, hotkeys, auth and logs")
	cmd.Flags().StringVar(&opts.backendURL, "backend-url", "", "Local automation backend URL")

	return cmd
}

func (o mainOptions) loadOptions() config.LoadOptions {
	return config.LoadOptions{DataDirOverride: o.dataDir, BackendURLOverride: o.backendURL}
}

// normalizeLegacyArgs maps single-dash long flags to their GNU form.
func normalizeLegacyArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}

	normalized := make([]string, len(args))
	copy(normalized, args)

	for i := 1; i < len(normalized); i++ {
		arg := normalized[i]
		for _, name := range []string{"generate", "overlay", "data-dir", "backend-url"} {
			if arg == "-"+name || strings.HasPrefix(arg, "-"+name+"=") {
				normalized[i] = "-" + arg
				break
			}
		}
	}

	return normalized
}

func runGenerate(ctx context.Context, opts mainOptions) error {
	cfg, err := config.LoadWithOptions(opts.loadOptions())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	client := singleinstance.NewClient(singleinstance.PortRange{Start: cfg.PortStart, End: cfg.PortEnd})
	return handleGenerateWithDelegation(ctx, opts.overlay, client, func() error {
		return runStandalone(ctx, opts)
	})
}

// handleGenerateWithDelegation hands the run to a resident when one answers
// and falls back to a local run otherwise.
func handleGenerateWithDelegation(ctx context.Context, overlay bool, client generationClient, fallback func() error) error {
	dctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	delegated, text, err := client.TryGenerate(dctx, overlay)
	cancel()

	switch {
	case err != nil && delegated:
		// The resident accepted and then failed; running again here would
		// fight it for the clipboard.
		return err
	case err != nil:
		fmt.Fprintf(os.Stderr, "Delegation error: %v; running standalone\n", err)
		return fallback()
	case !delegated:
		return fallback()
	}
	if text != "" {
		fmt.Print(text)
	}
	return nil
}

func runStandalone(ctx context.Context, opts mainOptions) error {
	cfg, log, err := runtimeinit.LoadConfig(opts.loadOptions())
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ui := runtimeinit.HeadlessUI{Log: log}
	core, err := runtimeinit.NewCore(cfg, log, runtimeinit.CoreDeps{
		UI:       ui,
		Notifier: ui,
		// The process must outlive the restore, so it runs inline.
		Schedule: func(d time.Duration, f func()) {
			time.Sleep(d)
			f()
		},
	})
	if err != nil {
		return err
	}

	out, err := core.Pipeline.Run(ctx, pipeline.Trigger{Overlay: opts.overlay, Source: "cli"})
	if err != nil {
		return errors.New(pipeline.UserMessage(err))
	}
	fmt.Print(out.Text)
	return nil
}

// claimStartPort fails when another resident already holds the first port
// of the single-instance range.
func claimStartPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return fmt.Errorf("already running on port %d", port)
	}
	return ln.Close()
}

func runResident(ctx context.Context, opts mainOptions) error {
	cfg, err := config.LoadWithOptions(opts.loadOptions())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := claimStartPort(cfg.PortStart); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var app *runtimeinit.App
	trayIcon := tray.New(tray.Config{
		Title:   "Typing Assistant",
		Tooltip: "Typing Assistant",
		OnGenerate: func() {
			if err := app.Loop.RequestGeneration(ctx, false, "tray"); err != nil {
				app.Log.Warnw("tray generation rejected", "error", err)
			}
		},
		OnToggleOverlay: func() { app.Bridge.ToggleOverlay() },
		OnExit:          cancel,
	})

	app, err = runtimeinit.Bootstrap(runtimeinit.Options{LoadOptions: opts.loadOptions(), Status: trayIcon})
	if err != nil {
		return err
	}
	log := app.Log
	defer func() { _ = log.Sync() }()
	trayIcon.SetLogger(log.SugaredLogger.Named("tray"))

	if err := app.Instance.Start(ctx); err != nil {
		return fmt.Errorf("start single-instance server: %w", err)
	}
	defer app.Instance.Close()

	for _, f := range app.Hotkeys.Start() {
		log.Warnw("hotkey unavailable", "action", f.Action, "combo", f.Combo, "error", f.Err)
	}
	trayIcon.SetHotkey(generationHotkey(app.Hotkeys))
	defer app.Hotkeys.Close()

	log.Infow("resident started",
		"bridge", cfg.BridgeAddr,
		"backend", cfg.BackendURL,
		"ai_server", cfg.AIServerURL,
		"singleinstance_port", app.Instance.Port(),
		"data_dir", cfg.DataDir)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(app.Loop.Run(gctx)) })
	g.Go(func() error { return ignoreCanceled(app.Server.ListenAndServe(gctx, cfg.BridgeAddr)) })
	g.Go(func() error {
		<-gctx.Done()
		trayIcon.Quit()
		return nil
	})

	trayIcon.Run()
	cancel()

	err = g.Wait()
	app.Hub.Shutdown()
	logStopped(log.SugaredLogger, err)
	return err
}

// generationHotkey is the combo actually registered for ai-generation.
func generationHotkey(r interface{ Current() hotkey.Bindings }) string {
	return r.Current()[hotkey.ActionAIGeneration]
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func logStopped(log *zap.SugaredLogger, err error) {
	if err != nil {
		log.Errorw("resident stopped", "error", err)
		return
	}
	log.Infow("resident stopped")
}
