// Package bridge connects the host to its UI windows over a loopback
// WebSocket. The main window and the overlay each connect with a role; the
// host pushes status to them and serves their requests on named channels.
package bridge

import (
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"typing-assistant/src/delivery"
	"typing-assistant/src/hotkey"
	"typing-assistant/src/overlay"
)

// ErrNoMainWindow is returned when a review cannot be shown because the main
// window is not connected.
var ErrNoMainWindow = errors.New("main window is not connected")

// Bridge adapts the hub to the host's outbound interfaces.
type Bridge struct {
	hub *Hub
	log *zap.SugaredLogger

	overlayVisible atomic.Bool
	posMu          sync.Mutex
	overlayPos     *OverlayPosition
}

func New(hub *Hub, log *zap.SugaredLogger) *Bridge {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	b := &Bridge{hub: hub, log: log}
	b.overlayVisible.Store(true)
	return b
}

func (b *Bridge) Hub() *Hub { return b.hub }

func (b *Bridge) push(role Role, channel string, payload any) bool {
	env, err := NewEnvelope(channel, payload)
	if err != nil {
		b.log.Errorw("bridge encode failed", "channel", channel, "error", err)
		return false
	}
	return b.hub.Send(role, env)
}

// PushOverlay implements overlay.Surface.
func (b *Bridge) PushOverlay(msg overlay.StatusMessage) {
	b.push(RoleOverlay, ChannelOverlayStatus, msg)
}

// PresentReview implements delivery.UI.
func (b *Bridge) PresentReview(r delivery.Review) error {
	if !b.hub.Connected(RoleMain) {
		return ErrNoMainWindow
	}
	b.push(RoleMain, ChannelFocusWindow, nil)
	if !b.push(RoleMain, ChannelReview, r) {
		return ErrNoMainWindow
	}
	return nil
}

// PublishResult implements delivery.UI.
func (b *Bridge) PublishResult(r delivery.Result) {
	b.push(RoleMain, ChannelGenerationStatus, r)
}

// NotifyError implements pipeline.Notifier.
func (b *Bridge) NotifyError(message string) {
	b.push(RoleMain, ChannelGenerationStatus, delivery.Result{OK: false, Message: message})
}

// HotkeyAction forwards a hotkey press that the main window handles itself.
func (b *Bridge) HotkeyAction(a hotkey.Action) {
	b.push(RoleMain, ChannelHotkeyAction, HotkeyAction{Action: string(a)})
}

// ToggleOverlay flips the overlay's visibility and tells it so.
func (b *Bridge) ToggleOverlay() bool {
	for {
		cur := b.overlayVisible.Load()
		if b.overlayVisible.CompareAndSwap(cur, !cur) {
			b.push(RoleOverlay, ChannelOverlayVisibility, OverlayVisibility{Visible: !cur})
			return !cur
		}
	}
}

// HotkeysUpdated tells the main window the active table changed.
func (b *Bridge) HotkeysUpdated(p HotkeysPayload) {
	b.push(RoleMain, ChannelHotkeysUpdated, p)
}

func (b *Bridge) overlayState() OverlayState {
	b.posMu.Lock()
	defer b.posMu.Unlock()
	st := OverlayState{Pong: true, Visible: b.overlayVisible.Load()}
	if b.overlayPos != nil {
		p := *b.overlayPos
		st.Position = &p
	}
	return st
}

func (b *Bridge) setOverlayPosition(p OverlayPosition) {
	b.posMu.Lock()
	defer b.posMu.Unlock()
	b.overlayPos = &p
}
