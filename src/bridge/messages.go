package bridge

import (
	"encoding/json"
	"fmt"
)

// Role identifies which UI window a connection belongs to.
type Role string

const (
	RoleMain    Role = "main"
	RoleOverlay Role = "overlay"
)

func (r Role) Valid() bool { return r == RoleMain || r == RoleOverlay }

// Inbound channels, sent by the UI windows.
const (
	ChannelOverlayMove       = "overlay-move"
	ChannelOverlayVisibility = "overlay-visibility"
	ChannelOverlayPing       = "overlay-ping"
	ChannelTypingStatus      = "typing-status"
	ChannelHotkeysGet        = "hotkeys-get"
	ChannelHotkeysUpdate     = "hotkeys-update"
	ChannelReviewApprove     = "ai-review-approve"
	ChannelClipboardGet      = "clipboard-get"
	ChannelClipboardSet      = "clipboard-set"
	ChannelOpenExternal      = "open-external"
	ChannelAuthGet           = "auth-get"
	ChannelAuthSet           = "auth-set"
	ChannelAuthClear         = "auth-clear"
	ChannelSettingsGet       = "settings-get"
	ChannelSettingsUpdate    = "settings-update"
	ChannelAIGenerate        = "ai-generate"
)

// Outbound channels, pushed by the host.
const (
	ChannelOverlayStatus    = "overlay-status"
	ChannelReview           = "ai-review"
	ChannelGenerationStatus = "ai-generation-status"
	ChannelHotkeyAction     = "hotkey-action"
	ChannelFocusWindow      = "focus-window"
	ChannelHotkeysUpdated   = "hotkeys-updated"
)

// Envelope is the single wire frame. A non-empty ID makes the message a
// request; the reply carries the same channel and ID.
type Envelope struct {
	Channel string          `json:"channel"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func NewEnvelope(channel string, payload any) (Envelope, error) {
	env := Envelope{Channel: channel}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", channel, err)
	}
	env.Payload = data
	return env, nil
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Channel, err)
	}
	return nil
}

type OverlayPosition struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type OverlayVisibility struct {
	Visible bool `json:"visible"`
}

type OverlayState struct {
	Pong     bool             `json:"pong"`
	Visible  bool             `json:"visible"`
	Position *OverlayPosition `json:"position,omitempty"`
}

// TypingStatus is reported by the main window while the automation server
// types, and relayed to the overlay.
type TypingStatus struct {
	Status     string `json:"status"`
	Progress   *int   `json:"progress"`
	WPM        int    `json:"wpm"`
	CharsTyped *int   `json:"chars_typed"`
	Done       bool   `json:"done"`
}

type HotkeysPayload struct {
	Bindings map[string]string `json:"bindings"`
	Failures []string          `json:"failures,omitempty"`
}

type ClipboardText struct {
	Text string `json:"text"`
}

type ExternalURL struct {
	URL string `json:"url"`
}

type AuthCredentials struct {
	Token string `json:"token"`
	Email string `json:"email,omitempty"`
}

type GenerateRequest struct {
	Overlay bool `json:"overlay"`
}

type HotkeyAction struct {
	Action string `json:"action"`
}
