// Package pipeline runs one AI-generation cycle: capture the highlighted text,
// build a prompt, generate, optionally humanize, then deliver. Stages run
// strictly in order and each one either produces the next stage's input or a
// typed error that ends the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"typing-assistant/src/ai"
	"typing-assistant/src/capture"
	"typing-assistant/src/clipboard"
	"typing-assistant/src/delivery"
	"typing-assistant/src/logutil"
	"typing-assistant/src/overlay"
	"typing-assistant/src/prompt"
	"typing-assistant/src/settings"
)

const BusyMessage = "Busy, please retry"

// ErrBusy is returned when another run still owns the clipboard.
var ErrBusy = errors.New("generation already in progress")

type Trigger struct {
	// Overlay selects the overlay-specific copy endpoint.
	Overlay bool
	// Source is recorded in logs: hotkey, overlay, delegated, tray, ui.
	Source string
}

type Outcome struct {
	RunID     string
	Mode      delivery.Mode
	Text      string
	Humanized bool
}

type Capturer interface {
	Capture(ctx context.Context, overlay bool) (capture.Selection, error)
}

type SettingsSource interface {
	Snapshot() settings.Generation
}

type Generator interface {
	Generate(ctx context.Context, prompt string, s settings.Generation, progress ai.ProgressFunc) (string, error)
}

type Humanizer interface {
	Humanize(ctx context.Context, text string, s settings.Generation) (string, error)
}

type Deliverer interface {
	Deliver(ctx context.Context, mode delivery.Mode, text string, s settings.Generation) error
}

// Notifier shows one-line failures in the main UI.
type Notifier interface {
	NotifyError(message string)
}

type Deps struct {
	Capture   Capturer
	Settings  SettingsSource
	Generator Generator
	Humanizer Humanizer
	Delivery  Deliverer
	Notifier  Notifier
	Overlay   *overlay.Reporter
	Clipboard clipboard.Clipboard
	// RestoreDelay is how long the baseline waits before it is written back.
	RestoreDelay time.Duration
	// Schedule runs f after d. Defaults to time.AfterFunc.
	Schedule func(d time.Duration, f func())
	Log      *zap.SugaredLogger
}

type Pipeline struct {
	d       Deps
	running atomic.Bool
}

func New(d Deps) *Pipeline {
	if d.Schedule == nil {
		d.Schedule = func(delay time.Duration, f func()) { time.AfterFunc(delay, f) }
	}
	if d.Log == nil {
		d.Log = zap.NewNop().Sugar()
	}
	return &Pipeline{d: d}
}

// Busy reports whether a run holds the run token.
func (p *Pipeline) Busy() bool { return p.running.Load() }

// Run executes one cycle. The run token is held from the start until the
// clipboard baseline has been restored, so a second trigger in that window
// gets ErrBusy instead of racing on the clipboard.
func (p *Pipeline) Run(ctx context.Context, t Trigger) (out Outcome, err error) {
	if !p.running.CompareAndSwap(false, true) {
		p.d.Overlay.Failure(BusyMessage)
		return Outcome{}, ErrBusy
	}

	runID := uuid.NewString()
	log := p.d.Log.With("run_id", runID, "source", t.Source)
	snap := p.d.Settings.Snapshot()
	mode := delivery.ModeFor(snap)
	out = Outcome{RunID: runID, Mode: mode}

	var baseline string
	captured := false
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorw("generation panicked", "panic", rec)
			err = p.fail(log, "pipeline", fmt.Errorf("panic: %v", rec))
		}
		p.finish(log, baseline, captured)
	}()

	log.Infow("generation started", "mode", mode, "overlay", t.Overlay)

	sel, err := p.captureStage(ctx, t)
	baseline, captured = sel.Baseline, true
	if err != nil {
		return out, p.fail(log, "capture", err)
	}
	log.Debugw("captured selection", "text", logutil.SanitizeForLogging(sel.Text))

	text, err := p.generateStage(ctx, sel.Text, snap)
	if err != nil {
		return out, p.fail(log, "generate", err)
	}

	if snap.Humanizer {
		text, out.Humanized = p.humanizeStage(ctx, log, text, snap)
	}
	out.Text = text

	if err := p.deliverStage(ctx, mode, text, snap); err != nil {
		return out, p.fail(log, "deliver", err)
	}

	log.Infow("generation finished", "mode", mode, "chars", len(text), "humanized", out.Humanized)
	return out, nil
}

func (p *Pipeline) captureStage(ctx context.Context, t Trigger) (capture.Selection, error) {
	p.d.Overlay.Progress("Copying highlighted text...", 5)
	return p.d.Capture.Capture(ctx, t.Overlay)
}

func (p *Pipeline) generateStage(ctx context.Context, source string, s settings.Generation) (string, error) {
	const status = "Generating response..."
	p.d.Overlay.Progress(status, ai.StartPercent)
	return p.d.Generator.Generate(ctx, prompt.Build(source, s), s, func(pct int) {
		p.d.Overlay.Progress(status, pct)
	})
}

// humanizeStage never fails: any error keeps the generated text.
func (p *Pipeline) humanizeStage(ctx context.Context, log *zap.SugaredLogger, text string, s settings.Generation) (string, bool) {
	p.d.Overlay.Progress("Humanizing...", 85)
	if p.d.Humanizer == nil {
		return text, false
	}
	out, err := p.d.Humanizer.Humanize(ctx, text, s)
	if err != nil {
		log.Warnw("humanizer failed, using generated text", "error", err)
		return text, false
	}
	return out, true
}

func (p *Pipeline) deliverStage(ctx context.Context, mode delivery.Mode, text string, s settings.Generation) error {
	p.d.Overlay.Progress(deliveringStatus(mode), 95)
	if err := p.d.Delivery.Deliver(ctx, mode, text, s); err != nil {
		return err
	}
	p.d.Overlay.Done(doneStatus(mode))
	return nil
}

func (p *Pipeline) fail(log *zap.SugaredLogger, stage string, err error) error {
	msg := UserMessage(err)
	log.Warnw("generation aborted", "stage", stage, "error", err)
	if p.d.Notifier != nil {
		p.d.Notifier.NotifyError(msg)
	}
	p.d.Overlay.Failure(msg)
	return fmt.Errorf("%s: %w", stage, err)
}

// finish schedules the clipboard restore and releases the run token once it
// has happened.
func (p *Pipeline) finish(log *zap.SugaredLogger, baseline string, captured bool) {
	if !captured || p.d.Clipboard == nil {
		p.running.Store(false)
		return
	}
	p.d.Schedule(p.d.RestoreDelay, func() {
		defer p.running.Store(false)
		if err := p.d.Clipboard.Write(baseline); err != nil {
			log.Warnw("clipboard restore failed", "error", err)
			return
		}
		log.Debugw("clipboard restored")
	})
}

// UserMessage renders err as the one-line text shown in the UI and overlay.
func UserMessage(err error) string {
	var aerr *ai.Error
	var terr *delivery.TypingError
	switch {
	case errors.Is(err, capture.ErrNoHighlight):
		return "No text highlighted. Select some text and try again."
	case errors.Is(err, ErrBusy):
		return BusyMessage
	case errors.As(err, &aerr):
		return aerr.Message
	case errors.As(err, &terr):
		return terr.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "Generation cancelled"
	default:
		return fmt.Sprintf("Generation failed: %v", err)
	}
}

func deliveringStatus(mode delivery.Mode) string {
	switch mode {
	case delivery.ModeReview:
		return "Opening review..."
	case delivery.ModePaste:
		return "Copying to clipboard..."
	default:
		return "Starting typing..."
	}
}

func doneStatus(mode delivery.Mode) string {
	switch mode {
	case delivery.ModeReview:
		return "Ready for review"
	case delivery.ModePaste:
		return "Copied to clipboard"
	default:
		return "Typing started"
	}
}
