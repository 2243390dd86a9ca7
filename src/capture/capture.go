// Package capture copies the user's highlighted text through the local
// automation server and detects it by diffing the clipboard.
package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"typing-assistant/src/backend"
	"typing-assistant/src/clipboard"
)

// NoHighlightSentinel is what the automation server leaves on the clipboard
// when the OS had no selection to copy.
const NoHighlightSentinel = "No text highlighted"

var ErrNoHighlight = errors.New("no text highlighted")

// errUnchanged marks an attempt after which the clipboard showed nothing new.
var errUnchanged = errors.New("clipboard unchanged")

type Copier interface {
	CopyHighlighted(ctx context.Context, overlay bool) (backend.CopyResult, error)
}

// Selection is the result of a capture. Baseline is always populated, even when
// Capture fails, so the caller can restore the clipboard.
type Selection struct {
	Text     string
	Baseline string
}

type Options struct {
	// Delay before the first copy request; lets the hotkey's keys be released.
	Delay time.Duration
	// RetryDelay before the single retry.
	RetryDelay time.Duration
	// Sleep is replaceable in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

type Capturer struct {
	clip   clipboard.Clipboard
	copier Copier
	opts   Options
	log    *zap.SugaredLogger
}

func New(clip clipboard.Clipboard, copier Copier, opts Options, log *zap.SugaredLogger) *Capturer {
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Capturer{clip: clip, copier: copier, opts: opts, log: log}
}

// Capture snapshots the clipboard, asks the server to copy the selection and
// retries once with the longer delay when nothing new arrived. It overwrites the
// clipboard and never restores it.
func (c *Capturer) Capture(ctx context.Context, overlay bool) (Selection, error) {
	baseline, err := c.clip.Read()
	if err != nil {
		c.log.Warnw("clipboard baseline read failed", "error", err)
		baseline = ""
	}
	sel := Selection{Baseline: baseline}

	text, err := c.attempt(ctx, overlay, baseline, c.opts.Delay)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return sel, ctxErr
		}
		c.log.Debugw("first copy attempt failed, retrying", "error", err, "retry_delay", c.opts.RetryDelay)
		text, err = c.attempt(ctx, overlay, baseline, c.opts.RetryDelay)
	}
	if err != nil {
		if errors.Is(err, errUnchanged) {
			return sel, ErrNoHighlight
		}
		return sel, err
	}

	if strings.TrimSpace(text) == NoHighlightSentinel {
		return sel, ErrNoHighlight
	}

	sel.Text = text
	return sel, nil
}

func (c *Capturer) attempt(ctx context.Context, overlay bool, baseline string, delay time.Duration) (string, error) {
	if err := c.opts.Sleep(ctx, delay); err != nil {
		return "", err
	}
	if _, err := c.copier.CopyHighlighted(ctx, overlay); err != nil {
		return "", fmt.Errorf("copy highlighted text: %w", err)
	}
	text, err := c.clip.Read()
	if err != nil {
		return "", fmt.Errorf("read clipboard: %w", err)
	}
	if strings.TrimSpace(text) == "" || text == baseline {
		return "", errUnchanged
	}
	return text, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
