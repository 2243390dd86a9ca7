package eventloop

import (
	"context"
	"time"

	"go.uber.org/zap"

	"typing-assistant/src/hotkey"
	"typing-assistant/src/overlay"
	"typing-assistant/src/pipeline"
	"typing-assistant/src/singleinstance"
	"typing-assistant/src/worker"
)

// UI is the part of the bridge the loop pushes hotkey effects to.
type UI interface {
	HotkeyAction(a hotkey.Action)
	ToggleOverlay() bool
}

// TypingControl stops or pauses the automation server's typing.
type TypingControl interface {
	StopTyping(ctx context.Context) error
	PauseTyping(ctx context.Context) error
}

type DebugToggler interface {
	ToggleDebug() bool
}

// StatusSink reflects busy state, e.g. in the tray tooltip.
type StatusSink interface {
	SetBusy(busy bool)
}

type Options struct {
	Pool     *worker.Pool
	Server   singleinstance.Server
	UI       UI
	Typing   TypingControl
	Overlay  *overlay.Reporter
	Debug    DebugToggler
	Status   StatusSink
	Log      *zap.SugaredLogger
	// Deadline bounds one generation; zero means no deadline.
	Deadline time.Duration
}

// Loop is the single-threaded coordinator for hotkey, bridge and delegated
// generation requests.
type Loop struct {
	opts     Options
	log      *zap.SugaredLogger
	busy     bool
	results  chan result
	actions  chan hotkey.Action
	requests chan generateRequest
}

type result struct {
	out    pipeline.Outcome
	err    error
	target resultTarget
	cancel context.CancelFunc
}

type generateRequest struct {
	trigger pipeline.Trigger
	reply   chan error
}

type resultTarget interface {
	OnSuccess(out pipeline.Outcome)
	OnFailure(err error)
	Close()
}

// localTarget covers hotkey, tray and bridge triggers: the pipeline has
// already reported to the UI and overlay, so only the outcome is logged.
type localTarget struct{ log *zap.SugaredLogger }

func (t localTarget) OnSuccess(out pipeline.Outcome) {
	t.log.Infow("generation delivered", "run_id", out.RunID, "mode", out.Mode)
}

func (t localTarget) OnFailure(err error) {
	t.log.Infow("generation failed", "error", err)
}

func (localTarget) Close() {}

type delegatedTarget struct {
	conn singleinstance.Conn
	log  *zap.SugaredLogger
}

func (t delegatedTarget) OnSuccess(out pipeline.Outcome) {
	if err := t.conn.RespondSuccess(out.Text); err != nil {
		t.log.Warnw("delegated response failed", "error", err)
	}
}

func (t delegatedTarget) OnFailure(err error) {
	if rerr := t.conn.RespondError(pipeline.UserMessage(err)); rerr != nil {
		t.log.Warnw("delegated response failed", "error", rerr)
	}
}

func (t delegatedTarget) Close() {
	if t.conn != nil {
		_ = t.conn.Close()
	}
}

func New(opts Options) *Loop {
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}
	return &Loop{
		opts:     opts,
		log:      opts.Log,
		results:  make(chan result, 1),
		actions:  make(chan hotkey.Action, 8),
		requests: make(chan generateRequest, 4),
	}
}

// OnHotkey posts a triggered action into the loop. It never blocks; presses
// that arrive while the queue is full are dropped.
func (l *Loop) OnHotkey(a hotkey.Action) {
	select {
	case l.actions <- a:
	default:
		l.log.Warnw("hotkey queue full, dropping action", "action", a)
	}
}

// RequestGeneration asks the loop to start a run and waits until it was
// accepted or rejected as busy.
func (l *Loop) RequestGeneration(ctx context.Context, overlayTriggered bool, source string) error {
	req := generateRequest{
		trigger: pipeline.Trigger{Overlay: overlayTriggered, Source: source},
		reply:   make(chan error, 1),
	}
	select {
	case l.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes hotkeys, bridge requests and delegated connections until ctx
// is cancelled. A nil Server disables delegation.
func (l *Loop) Run(ctx context.Context) error {
	defer l.closePending()
	defer l.opts.Pool.Close()

	var connCh chan singleinstance.Conn
	if l.opts.Server != nil {
		connCh = make(chan singleinstance.Conn, 4)
		go func() {
			defer close(connCh)
			for {
				conn, err := l.opts.Server.Next(ctx)
				if err != nil {
					return
				}
				select {
				case connCh <- conn:
				case <-ctx.Done():
					_ = conn.Close()
					return
				}
			}
		}()
	}

	for {
		select {
		case <-ctx.Done():
			if connCh != nil {
				go closeConns(connCh)
			}
			return ctx.Err()
		case a := <-l.actions:
			l.handleHotkey(ctx, a)
		case req := <-l.requests:
			req.reply <- l.startRequest(ctx, req.trigger, localTarget{log: l.log})
		case conn, ok := <-connCh:
			if !ok {
				connCh = nil
				continue
			}
			l.handleConn(ctx, conn)
		case res := <-l.results:
			l.handleResult(res)
		}
	}
}

// closePending releases results that finished after the loop stopped.
func (l *Loop) closePending() {
	for {
		select {
		case res := <-l.results:
			if res.cancel != nil {
				res.cancel()
			}
			if res.target != nil {
				res.target.Close()
			}
		default:
			return
		}
	}
}

// closeConns closes connections accepted after the loop stopped reading.
func closeConns(ch <-chan singleinstance.Conn) {
	for conn := range ch {
		_ = conn.Close()
	}
}

func (l *Loop) handleHotkey(ctx context.Context, a hotkey.Action) {
	l.log.Debugw("handleHotkey", "action", a)
	switch a {
	case hotkey.ActionAIGeneration:
		if err := l.startRequest(ctx, pipeline.Trigger{Source: "hotkey"}, localTarget{log: l.log}); err != nil {
			l.log.Infow("hotkey generation rejected", "error", err)
		}
	case hotkey.ActionStart:
		l.opts.UI.HotkeyAction(a)
	case hotkey.ActionStop:
		l.opts.UI.HotkeyAction(a)
		l.typingCall(ctx, a, l.opts.Typing.StopTyping)
	case hotkey.ActionPause:
		l.opts.UI.HotkeyAction(a)
		l.typingCall(ctx, a, l.opts.Typing.PauseTyping)
	case hotkey.ActionOverlayToggle:
		visible := l.opts.UI.ToggleOverlay()
		l.log.Infow("overlay toggled", "visible", visible)
	case hotkey.ActionDiagnostics:
		on := l.opts.Debug.ToggleDebug()
		status := "Debug logging off"
		if on {
			status = "Debug logging on"
		}
		l.log.Infow("diagnostics toggled", "debug", on)
		l.opts.Overlay.Report(overlay.StatusMessage{Kind: overlay.KindIdle, Status: status})
	default:
		l.log.Warnw("unhandled hotkey action", "action", a)
	}
}

// typingCall runs a blocking automation-server request off the loop goroutine.
func (l *Loop) typingCall(ctx context.Context, a hotkey.Action, call func(context.Context) error) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				l.log.Errorw("panic in typing control", "action", a, "panic", r)
			}
		}()
		if err := call(ctx); err != nil {
			l.log.Warnw("typing control failed", "action", a, "error", err)
			l.opts.Overlay.Failure("Typing server unavailable")
		}
	}()
}

func (l *Loop) handleConn(ctx context.Context, conn singleinstance.Conn) {
	target := delegatedTarget{conn: conn, log: l.log}
	trigger := pipeline.Trigger{Overlay: conn.Request().Overlay, Source: "delegated"}
	if err := l.startRequest(ctx, trigger, target); err != nil {
		target.OnFailure(err)
		target.Close()
	}
}

func (l *Loop) handleResult(res result) {
	defer func() {
		l.setBusy(false)
		if res.cancel != nil {
			res.cancel()
		}
	}()
	if res.target == nil {
		l.log.Warnw("handleResult: missing target")
		return
	}
	defer res.target.Close()

	if res.err != nil {
		res.target.OnFailure(res.err)
		return
	}
	res.target.OnSuccess(res.out)
}

func (l *Loop) setBusy(b bool) {
	l.busy = b
	if l.opts.Status != nil {
		l.opts.Status.SetBusy(b)
	}
}

// startRequest submits a run unless one is already in flight.
func (l *Loop) startRequest(ctx context.Context, t pipeline.Trigger, target resultTarget) error {
	if l.busy {
		l.opts.Overlay.Failure(pipeline.BusyMessage)
		return pipeline.ErrBusy
	}

	jobCtx, cancel := context.WithCancel(ctx)
	if l.opts.Deadline > 0 {
		cancel()
		jobCtx, cancel = context.WithTimeout(ctx, l.opts.Deadline)
	}

	l.setBusy(true)
	submitted := l.opts.Pool.Submit(jobCtx, t, func(out pipeline.Outcome, err error) {
		select {
		case l.results <- result{out: out, err: err, target: target, cancel: cancel}:
		case <-ctx.Done():
			// The loop is gone; nobody will read the result.
			cancel()
			target.Close()
		}
	})
	if !submitted {
		cancel()
		l.setBusy(false)
		l.opts.Overlay.Failure(pipeline.BusyMessage)
		return pipeline.ErrBusy
	}
	return nil
}
