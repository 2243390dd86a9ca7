package tray

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"
)

const iconSize = 32

var (
	iconOnce  sync.Once
	iconBytes []byte
)

// Icon returns the tray icon: a rounded key cap with a text cursor.
func Icon() []byte {
	iconOnce.Do(func() {
		iconBytes = drawIcon(iconSize)
	})
	return iconBytes
}

func drawIcon(size int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	key := color.NRGBA{R: 0x00, G: 0x78, B: 0xd4, A: 0xff}
	cursor := color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

	inset, radius := size/8, size/6
	for y := inset; y < size-inset; y++ {
		for x := inset; x < size-inset; x++ {
			if insideRounded(x, y, inset, size-inset-1, radius) {
				img.SetNRGBA(x, y, key)
			}
		}
	}

	// I-beam cursor in the middle of the key.
	mid := size / 2
	top, bottom := size/4+1, size-size/4-2
	for y := top; y <= bottom; y++ {
		img.SetNRGBA(mid, y, cursor)
	}
	for x := mid - 2; x <= mid+2; x++ {
		img.SetNRGBA(x, top, cursor)
		img.SetNRGBA(x, bottom, cursor)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

func insideRounded(x, y, lo, hi, r int) bool {
	cx, cy := x, y
	switch {
	case x < lo+r:
		cx = lo + r
	case x > hi-r:
		cx = hi - r
	}
	switch {
	case y < lo+r:
		cy = lo + r
	case y > hi-r:
		cy = hi - r
	}
	dx, dy := x-cx, y-cy
	return dx*dx+dy*dy <= r*r
}
