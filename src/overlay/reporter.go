// Package overlay pushes pipeline status to the always-on-top overlay window.
//
// Delivery is at-most-once and drop-if-absent: when no overlay surface is
// attached the message is discarded, and a surface must never block.
package overlay

import (
	"sync/atomic"

	"go.uber.org/zap"
)

type Kind string

const (
	KindProgress Kind = "progress"
	KindTyping   Kind = "typing"
	KindDone     Kind = "done"
	KindError    Kind = "error"
	KindIdle     Kind = "idle"
)

// StatusMessage is one overlay update. Nil Progress/CharsTyped mean "unknown".
type StatusMessage struct {
	Kind       Kind   `json:"kind"`
	Status     string `json:"status"`
	Progress   *int   `json:"progress"`
	WPM        int    `json:"wpm"`
	CharsTyped *int   `json:"chars_typed"`
}

// Surface is where messages go. Implementations must return promptly.
type Surface interface {
	PushOverlay(msg StatusMessage)
}

type surfaceBox struct{ s Surface }

type Reporter struct {
	surface atomic.Pointer[surfaceBox]
	log     *zap.SugaredLogger
}

func NewReporter(log *zap.SugaredLogger) *Reporter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Reporter{log: log}
}

func (r *Reporter) Attach(s Surface) {
	if s == nil {
		r.Detach()
		return
	}
	r.surface.Store(&surfaceBox{s: s})
}

func (r *Reporter) Detach() { r.surface.Store(nil) }

// Report never fails the caller; a nil reporter or missing surface drops msg.
func (r *Reporter) Report(msg StatusMessage) {
	if r == nil {
		return
	}
	box := r.surface.Load()
	if box == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorw("overlay surface panicked", "panic", rec)
		}
	}()
	box.s.PushOverlay(msg)
}

func (r *Reporter) Progress(status string, percent int) {
	r.Report(StatusMessage{Kind: KindProgress, Status: status, Progress: intPtr(percent)})
}

func (r *Reporter) Failure(message string) {
	r.Report(StatusMessage{Kind: KindError, Status: message})
}

func (r *Reporter) Done(status string) {
	r.Report(StatusMessage{Kind: KindDone, Status: status, Progress: intPtr(100)})
}

func intPtr(v int) *int { return &v }
