package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/pkg/browser"

	"typing-assistant/src/auth"
	"typing-assistant/src/clipboard"
	"typing-assistant/src/delivery"
	"typing-assistant/src/hotkey"
	"typing-assistant/src/logutil"
	"typing-assistant/src/overlay"
	"typing-assistant/src/settings"
)

type HotkeyRegistry interface {
	Current() hotkey.Bindings
	Update(b hotkey.Bindings) ([]hotkey.Failure, error)
}

type ReviewApprover interface {
	Approve(ctx context.Context, a delivery.Approval) error
}

// Deps are the host components the inbound channels operate on.
type Deps struct {
	Hotkeys   HotkeyRegistry
	Reviews   ReviewApprover
	Clipboard clipboard.Clipboard
	Auth      *auth.Store
	Settings  *settings.Store
	Overlay   *overlay.Reporter
	// Generate starts a pipeline run; it must not block on the run itself.
	Generate func(overlay bool) error
	// OpenURL defaults to browser.OpenURL.
	OpenURL func(string) error
}

// Register installs a handler for every inbound channel on s.
func (b *Bridge) Register(s *Server, d Deps) {
	if d.OpenURL == nil {
		d.OpenURL = browser.OpenURL
	}

	s.Handle(ChannelOverlayMove, func(_ context.Context, _ Role, env Envelope) (any, error) {
		var p OverlayPosition
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		b.setOverlayPosition(p)
		return nil, nil
	})

	s.Handle(ChannelOverlayVisibility, func(_ context.Context, _ Role, env Envelope) (any, error) {
		var v OverlayVisibility
		if err := env.Decode(&v); err != nil {
			return nil, err
		}
		b.overlayVisible.Store(v.Visible)
		return v, nil
	})

	s.Handle(ChannelOverlayPing, func(context.Context, Role, Envelope) (any, error) {
		return b.overlayState(), nil
	})

	s.Handle(ChannelTypingStatus, func(_ context.Context, _ Role, env Envelope) (any, error) {
		var ts TypingStatus
		if err := env.Decode(&ts); err != nil {
			return nil, err
		}
		msg := overlay.StatusMessage{
			Kind:       overlay.KindTyping,
			Status:     ts.Status,
			Progress:   ts.Progress,
			WPM:        ts.WPM,
			CharsTyped: ts.CharsTyped,
		}
		if ts.Done {
			msg.Kind = overlay.KindIdle
		}
		d.Overlay.Report(msg)
		return nil, nil
	})

	s.Handle(ChannelHotkeysGet, func(context.Context, Role, Envelope) (any, error) {
		return HotkeysPayload{Bindings: toWire(d.Hotkeys.Current())}, nil
	})

	s.Handle(ChannelHotkeysUpdate, func(_ context.Context, _ Role, env Envelope) (any, error) {
		var p HotkeysPayload
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		failures, err := d.Hotkeys.Update(fromWire(p.Bindings))
		if err != nil {
			return nil, err
		}
		out := HotkeysPayload{Bindings: toWire(d.Hotkeys.Current())}
		for _, f := range failures {
			out.Failures = append(out.Failures, f.Error())
		}
		b.HotkeysUpdated(out)
		return out, nil
	})

	s.Handle(ChannelReviewApprove, func(ctx context.Context, _ Role, env Envelope) (any, error) {
		var a delivery.Approval
		if err := env.Decode(&a); err != nil {
			return nil, err
		}
		return nil, d.Reviews.Approve(ctx, a)
	})

	s.Handle(ChannelClipboardGet, func(context.Context, Role, Envelope) (any, error) {
		text, err := d.Clipboard.Read()
		if err != nil {
			return nil, fmt.Errorf("read clipboard: %w", err)
		}
		return ClipboardText{Text: text}, nil
	})

	s.Handle(ChannelClipboardSet, func(_ context.Context, _ Role, env Envelope) (any, error) {
		var p ClipboardText
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		if err := d.Clipboard.Write(p.Text); err != nil {
			return nil, fmt.Errorf("write clipboard: %w", err)
		}
		return nil, nil
	})

	s.Handle(ChannelOpenExternal, func(_ context.Context, _ Role, env Envelope) (any, error) {
		var p ExternalURL
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		if err := validateExternalURL(p.URL); err != nil {
			return nil, err
		}
		b.log.Infow("opening external url", "url", p.URL)
		return nil, d.OpenURL(p.URL)
	})

	s.Handle(ChannelAuthGet, func(context.Context, Role, Envelope) (any, error) {
		return d.Auth.Get(), nil
	})

	s.Handle(ChannelAuthSet, func(_ context.Context, _ Role, env Envelope) (any, error) {
		var p AuthCredentials
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		if strings.TrimSpace(p.Token) == "" {
			return nil, errors.New("token is required")
		}
		st, err := d.Auth.Set(p.Token, p.Email)
		if err != nil {
			return nil, err
		}
		b.log.Infow("auth token stored", "token", logutil.RedactKey(p.Token))
		return st, nil
	})

	s.Handle(ChannelAuthClear, func(context.Context, Role, Envelope) (any, error) {
		return nil, d.Auth.Clear()
	})

	s.Handle(ChannelSettingsGet, func(context.Context, Role, Envelope) (any, error) {
		return d.Settings.Snapshot(), nil
	})

	s.Handle(ChannelSettingsUpdate, func(_ context.Context, _ Role, env Envelope) (any, error) {
		g := d.Settings.Snapshot()
		if err := env.Decode(&g); err != nil {
			return nil, err
		}
		if err := d.Settings.Replace(g); err != nil {
			return nil, err
		}
		return g, nil
	})

	s.Handle(ChannelAIGenerate, func(_ context.Context, from Role, env Envelope) (any, error) {
		var p GenerateRequest
		if err := env.Decode(&p); err != nil {
			return nil, err
		}
		if from == RoleOverlay {
			p.Overlay = true
		}
		return nil, d.Generate(p.Overlay)
	})
}

func validateExternalURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("refusing to open %q: only http and https links are allowed", raw)
	}
	return nil
}

func toWire(b hotkey.Bindings) map[string]string {
	out := make(map[string]string, len(b))
	for a, combo := range b {
		out[string(a)] = combo
	}
	return out
}

func fromWire(m map[string]string) hotkey.Bindings {
	out := make(hotkey.Bindings, len(m))
	for a, combo := range m {
		out[hotkey.Action(a)] = combo
	}
	return out
}
