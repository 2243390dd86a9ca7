package eventloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"typing-assistant/src/hotkey"
	"typing-assistant/src/overlay"
	"typing-assistant/src/pipeline"
	"typing-assistant/src/singleinstance"
	"typing-assistant/src/worker"
)

type fakeRunner struct {
	started chan pipeline.Trigger
	release chan struct{}
	text    string
	err     error
	// panicFirst makes the first run panic.
	panicFirst bool
	calls      atomic.Int32
}

func (r *fakeRunner) Run(ctx context.Context, t pipeline.Trigger) (pipeline.Outcome, error) {
	r.started <- t
	if r.calls.Add(1) == 1 && r.panicFirst {
		panic("boom")
	}
	if r.release != nil {
		<-r.release
	}
	return pipeline.Outcome{RunID: "run", Text: r.text}, r.err
}

type fakeUI struct {
	mu      sync.Mutex
	actions []hotkey.Action
	toggles int
}

func (f *fakeUI) HotkeyAction(a hotkey.Action) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, a)
}

func (f *fakeUI) ToggleOverlay() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles++
	return f.toggles%2 == 0
}

type fakeTyping struct {
	stops, pauses chan struct{}
}

func (f *fakeTyping) StopTyping(context.Context) error  { f.stops <- struct{}{}; return nil }
func (f *fakeTyping) PauseTyping(context.Context) error { f.pauses <- struct{}{}; return errors.New("offline") }

type fakeDebug struct{ on bool }

func (f *fakeDebug) ToggleDebug() bool { f.on = !f.on; return f.on }

type fakeStatus struct {
	mu   sync.Mutex
	seen []bool
}

func (f *fakeStatus) SetBusy(b bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, b)
}

type fakeServer struct{ conns chan singleinstance.Conn }

func (s *fakeServer) Start(context.Context) error { return nil }
func (s *fakeServer) Port() int                   { return 0 }
func (s *fakeServer) Close() error                { return nil }
func (s *fakeServer) Next(ctx context.Context) (singleinstance.Conn, error) {
	select {
	case c := <-s.conns:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fakeConn struct {
	req    singleinstance.Request
	result chan string
	closed atomic.Bool
}

func (c *fakeConn) Request() singleinstance.Request  { return c.req }
func (c *fakeConn) RespondSuccess(text string) error { c.result <- "ok:" + text; return nil }
func (c *fakeConn) RespondError(msg string) error    { c.result <- "err:" + msg; return nil }
func (c *fakeConn) Close() error                     { c.closed.Store(true); return nil }

type recordingSurface struct {
	mu  sync.Mutex
	got []overlay.StatusMessage
}

func (s *recordingSurface) PushOverlay(m overlay.StatusMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, m)
}

func (s *recordingSurface) last() overlay.StatusMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.got) == 0 {
		return overlay.StatusMessage{}
	}
	return s.got[len(s.got)-1]
}

type harness struct {
	loop    *Loop
	runner  *fakeRunner
	ui      *fakeUI
	typing  *fakeTyping
	debug   *fakeDebug
	status  *fakeStatus
	server  *fakeServer
	surface *recordingSurface
}

func start(t *testing.T, runner *fakeRunner) *harness {
	t.Helper()
	h := &harness{
		runner:  runner,
		ui:      &fakeUI{},
		typing:  &fakeTyping{stops: make(chan struct{}, 1), pauses: make(chan struct{}, 1)},
		debug:   &fakeDebug{},
		status:  &fakeStatus{},
		server:  &fakeServer{conns: make(chan singleinstance.Conn, 1)},
		surface: &recordingSurface{},
	}
	rep := overlay.NewReporter(nil)
	rep.Attach(h.surface)
	h.loop = New(Options{
		Pool:    worker.New(runner, 1, nil),
		Server:  h.server,
		UI:      h.ui,
		Typing:  h.typing,
		Overlay: rep,
		Debug:   h.debug,
		Status:  h.status,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = h.loop.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		if runner.release != nil {
			select {
			case <-runner.release:
			default:
				close(runner.release)
			}
		}
		<-done
	})
	return h
}

func waitStarted(t *testing.T, r *fakeRunner) pipeline.Trigger {
	t.Helper()
	select {
	case tr := <-r.started:
		return tr
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline run did not start")
		return pipeline.Trigger{}
	}
}

func TestAIGenerationHotkeyStartsRun(t *testing.T) {
	h := start(t, &fakeRunner{started: make(chan pipeline.Trigger, 1)})
	h.loop.OnHotkey(hotkey.ActionAIGeneration)

	tr := waitStarted(t, h.runner)
	assert.Equal(t, "hotkey", tr.Source)
	assert.False(t, tr.Overlay)
	assert.Eventually(t, func() bool {
		h.status.mu.Lock()
		defer h.status.mu.Unlock()
		return len(h.status.seen) == 2 && !h.status.seen[1]
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSecondRequestWhileRunningIsBusy(t *testing.T) {
	h := start(t, &fakeRunner{started: make(chan pipeline.Trigger, 2), release: make(chan struct{})})
	ctx := context.Background()

	require.NoError(t, h.loop.RequestGeneration(ctx, true, "overlay"))
	tr := waitStarted(t, h.runner)
	assert.True(t, tr.Overlay)

	err := h.loop.RequestGeneration(ctx, false, "ui")
	require.ErrorIs(t, err, pipeline.ErrBusy)
	assert.Equal(t, pipeline.BusyMessage, h.surface.last().Status)

	close(h.runner.release)
	assert.Eventually(t, func() bool {
		return h.loop.RequestGeneration(ctx, false, "ui") == nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestDelegatedConnGetsText(t *testing.T) {
	h := start(t, &fakeRunner{started: make(chan pipeline.Trigger, 1), text: "generated"})
	conn := &fakeConn{req: singleinstance.Request{Overlay: true}, result: make(chan string, 1)}
	h.server.conns <- conn

	tr := waitStarted(t, h.runner)
	assert.Equal(t, "delegated", tr.Source)
	assert.True(t, tr.Overlay)
	select {
	case got := <-conn.result:
		assert.Equal(t, "ok:generated", got)
	case <-time.After(2 * time.Second):
		t.Fatal("no response on delegated connection")
	}
}

func TestDelegatedConnGetsUserMessageOnFailure(t *testing.T) {
	h := start(t, &fakeRunner{started: make(chan pipeline.Trigger, 1), err: pipeline.ErrBusy})
	conn := &fakeConn{result: make(chan string, 1)}
	h.server.conns <- conn

	waitStarted(t, h.runner)
	select {
	case got := <-conn.result:
		assert.Equal(t, "err:"+pipeline.BusyMessage, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no response on delegated connection")
	}
}

func TestTypingAndOverlayHotkeys(t *testing.T) {
	h := start(t, &fakeRunner{started: make(chan pipeline.Trigger, 1)})

	h.loop.OnHotkey(hotkey.ActionStop)
	h.loop.OnHotkey(hotkey.ActionPause)
	h.loop.OnHotkey(hotkey.ActionOverlayToggle)
	h.loop.OnHotkey(hotkey.ActionStart)

	for _, ch := range []chan struct{}{h.typing.stops, h.typing.pauses} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatal("typing control not called")
		}
	}
	assert.Eventually(t, func() bool {
		h.ui.mu.Lock()
		defer h.ui.mu.Unlock()
		return h.ui.toggles == 1 && len(h.ui.actions) == 3
	}, 2*time.Second, 10*time.Millisecond)

	// Pause failed: the overlay hears about it.
	assert.Eventually(t, func() bool {
		return h.surface.last().Kind == overlay.KindError
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDiagnosticsHotkeyTogglesDebug(t *testing.T) {
	h := start(t, &fakeRunner{started: make(chan pipeline.Trigger, 1)})
	h.loop.OnHotkey(hotkey.ActionDiagnostics)

	assert.Eventually(t, func() bool {
		return h.surface.last().Status == "Debug logging on"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPanickingRunClearsBusy(t *testing.T) {
	h := start(t, &fakeRunner{started: make(chan pipeline.Trigger, 2), panicFirst: true})
	ctx := context.Background()

	require.NoError(t, h.loop.RequestGeneration(ctx, false, "ui"))
	waitStarted(t, h.runner)

	assert.Eventually(t, func() bool {
		return h.loop.RequestGeneration(ctx, false, "ui") == nil
	}, 2*time.Second, 20*time.Millisecond)
	waitStarted(t, h.runner)
}

// lateServer hands out one connection only after the loop was cancelled.
type lateServer struct {
	fakeServer
	conn   *fakeConn
	served atomic.Bool
}

func (s *lateServer) Next(ctx context.Context) (singleinstance.Conn, error) {
	<-ctx.Done()
	if s.served.CompareAndSwap(false, true) {
		return s.conn, nil
	}
	return nil, ctx.Err()
}

func TestConnAcceptedAfterShutdownIsClosed(t *testing.T) {
	srv := &lateServer{conn: &fakeConn{result: make(chan string, 1)}}
	loop := New(Options{
		Pool:    worker.New(&fakeRunner{started: make(chan pipeline.Trigger, 1)}, 1, nil),
		Server:  srv,
		Overlay: overlay.NewReporter(nil),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = loop.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	assert.Eventually(t, srv.conn.closed.Load, 2*time.Second, 10*time.Millisecond)
}
