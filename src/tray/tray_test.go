package tray

import (
	"bytes"
	"image/png"
	"testing"
)

func TestIconIsValidPNG(t *testing.T) {
	data := Icon()
	if len(data) == 0 {
		t.Fatal("expected icon bytes")
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("icon is not a PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != iconSize || b.Dy() != iconSize {
		t.Errorf("icon size = %dx%d, want %dx%d", b.Dx(), b.Dy(), iconSize, iconSize)
	}
	if _, _, _, a := img.At(0, 0).RGBA(); a != 0 {
		t.Errorf("expected transparent corner, alpha=%d", a)
	}
	if _, _, _, a := img.At(iconSize/2, iconSize/2).RGBA(); a == 0 {
		t.Errorf("expected opaque centre")
	}
}

func TestTooltipFor(t *testing.T) {
	tests := []struct {
		hotkey string
		busy   bool
		want   string
	}{
		{"Ctrl+Alt+G", false, "Typing Assistant - press Ctrl+Alt+G to generate"},
		{"", false, "Typing Assistant"},
		{"Ctrl+Alt+G", true, "Typing Assistant: generating..."},
	}
	for _, tt := range tests {
		if got := tooltipFor("Typing Assistant", tt.hotkey, tt.busy); got != tt.want {
			t.Errorf("tooltipFor(%q, %v) = %q, want %q", tt.hotkey, tt.busy, got, tt.want)
		}
	}
}

func TestSetBusyBeforeReadyIsSafe(t *testing.T) {
	tr := New(Config{Tooltip: "Typing Assistant"})
	tr.SetBusy(true)
	if got := tr.tooltip(); got != "Typing Assistant: generating..." {
		t.Errorf("unexpected tooltip %q", got)
	}
	tr.Quit()
}

func TestSetHotkeyUpdatesTooltip(t *testing.T) {
	tr := New(Config{Tooltip: "Typing Assistant", Hotkey: "Ctrl+Alt+G"})
	tr.SetHotkey("Ctrl+Shift+Space")
	if got := tr.tooltip(); got != "Typing Assistant - press Ctrl+Shift+Space to generate" {
		t.Errorf("unexpected tooltip %q", got)
	}
}
