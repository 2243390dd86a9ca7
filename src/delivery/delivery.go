// Package delivery hands generated text to the user in exactly one of three
// ways: review in the UI, paste via the clipboard, or simulated typing.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"typing-assistant/src/backend"
	"typing-assistant/src/clipboard"
	"typing-assistant/src/settings"
)

type Mode string

const (
	ModeReview Mode = "review"
	ModePaste  Mode = "paste"
	ModeType   Mode = "type"
)

var ErrUnknownReview = errors.New("review not found or already handled")

// ModeFor selects the branch for a settings snapshot. Review wins over paste.
func ModeFor(s settings.Generation) Mode {
	switch {
	case s.ReviewMode:
		return ModeReview
	case s.PasteMode:
		return ModePaste
	default:
		return ModeType
	}
}

type Review struct {
	ID       string              `json:"id"`
	Text     string              `json:"text"`
	Settings settings.Generation `json:"settings"`
}

type Result struct {
	Mode    Mode   `json:"mode"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// Approval comes back from the UI after a review. Text may have been edited;
// empty Text means "use the reviewed text as is".
type Approval struct {
	ReviewID string `json:"review_id"`
	Text     string `json:"text"`
	Action   Mode   `json:"action"`
}

// UI is the main window as seen from the host.
type UI interface {
	// PresentReview focuses the main window and shows the text for approval.
	PresentReview(r Review) error
	PublishResult(r Result)
}

type Typist interface {
	StartTyping(ctx context.Context, req backend.TypingRequest) error
}

// TypingError means the automation server rejected or never received the text.
type TypingError struct {
	Err error
}

func (e *TypingError) Error() string { return fmt.Sprintf("Typing could not start: %v", e.Err) }

func (e *TypingError) Unwrap() error { return e.Err }

type Dispatcher struct {
	ui     UI
	typist Typist
	clip   clipboard.Clipboard
	log    *zap.SugaredLogger

	// pasteWindow is how long pasted text stays on the clipboard before the
	// baseline is restored; zero leaves it out of the result message.
	pasteWindow time.Duration

	mu sync.Mutex
	// pending is the one review the main window shows; a newer review
	// replaces it.
	pending *Review
}

func NewDispatcher(ui UI, typist Typist, clip clipboard.Clipboard, log *zap.SugaredLogger) *Dispatcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Dispatcher{ui: ui, typist: typist, clip: clip, log: log}
}

// SetPasteWindow sets the restore delay reported in paste results.
func (d *Dispatcher) SetPasteWindow(w time.Duration) { d.pasteWindow = w }

// PasteMessage is the result text for a successful paste.
func PasteMessage(window time.Duration) string {
	if window <= 0 {
		return "Copied to clipboard"
	}
	return fmt.Sprintf("Copied to clipboard, paste within %s", window)
}

// Deliver runs exactly one branch for mode.
func (d *Dispatcher) Deliver(ctx context.Context, mode Mode, text string, s settings.Generation) error {
	switch mode {
	case ModeReview:
		r := Review{ID: uuid.NewString(), Text: text, Settings: s}
		d.mu.Lock()
		d.pending = &r
		d.mu.Unlock()
		if err := d.ui.PresentReview(r); err != nil {
			return fmt.Errorf("present review: %w", err)
		}
		d.log.Infow("generated text sent for review", "review_id", r.ID, "chars", len(text))
		return nil
	case ModePaste:
		return d.paste(text)
	case ModeType:
		return d.typeText(ctx, text, s)
	default:
		return fmt.Errorf("unknown delivery mode %q", mode)
	}
}

// Approve completes a pending review with a paste or type action.
func (d *Dispatcher) Approve(ctx context.Context, a Approval) error {
	if a.Action != ModePaste && a.Action != ModeType {
		return fmt.Errorf("unsupported approval action %q", a.Action)
	}

	d.mu.Lock()
	r := d.pending
	if r == nil || r.ID != a.ReviewID {
		d.mu.Unlock()
		return ErrUnknownReview
	}
	d.pending = nil
	d.mu.Unlock()

	text := a.Text
	if text == "" {
		text = r.Text
	}
	if a.Action == ModePaste {
		return d.paste(text)
	}
	return d.typeText(ctx, text, r.Settings)
}

// Dismiss drops a pending review without delivering it.
func (d *Dispatcher) Dismiss(reviewID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil || d.pending.ID != reviewID {
		return ErrUnknownReview
	}
	d.pending = nil
	return nil
}

func (d *Dispatcher) paste(text string) error {
	if err := d.clip.Write(text); err != nil {
		d.ui.PublishResult(Result{Mode: ModePaste, Message: "Clipboard error"})
		return fmt.Errorf("write clipboard: %w", err)
	}
	d.ui.PublishResult(Result{Mode: ModePaste, OK: true, Message: PasteMessage(d.pasteWindow)})
	return nil
}

func (d *Dispatcher) typeText(ctx context.Context, text string, s settings.Generation) error {
	err := d.typist.StartTyping(ctx, backend.TypingRequest{Text: text, Profile: s.TypingProfile})
	if err != nil {
		terr := &TypingError{Err: err}
		d.ui.PublishResult(Result{Mode: ModeType, Message: terr.Error()})
		return terr
	}
	d.ui.PublishResult(Result{Mode: ModeType, OK: true, Message: "Typing started"})
	return nil
}
