// Package imaging turns uploaded equipment photos into a display image and a thumbnail.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	DisplayMaxSide = 1600
	ThumbMaxSide   = 400
	jpegQuality    = 85

	// MaxPixels bounds the decoded bitmap; a small file can declare huge dimensions.
	MaxPixels = 40_000_000
)

var (
	ErrUndecodable   = errors.New("image could not be decoded")
	ErrTooManyPixels = errors.New("image dimensions too large")
)

// Result holds both renditions as JPEG bytes.
type Result struct {
	Display []byte
	Thumb   []byte
	Width   int
	Height  int
}

// Process decodes r and produces the display and thumbnail renditions.
// Images already within bounds are re-encoded without scaling. The header is
// checked against MaxPixels before any pixel data is allocated.
func Process(r io.Reader) (*Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty dimensions", ErrUndecodable)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("%w: %dx%d", ErrTooManyPixels, cfg.Width, cfg.Height)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	display := Fit(src, DisplayMaxSide)
	thumb := Fit(display, ThumbMaxSide)

	displayJPEG, err := encode(display)
	if err != nil {
		return nil, err
	}
	thumbJPEG, err := encode(thumb)
	if err != nil {
		return nil, err
	}

	b := display.Bounds()
	return &Result{Display: displayJPEG, Thumb: thumbJPEG, Width: b.Dx(), Height: b.Dy()}, nil
}

// Fit scales img so its longest side is at most maxSide, keeping the aspect ratio.
func Fit(img image.Image, maxSide int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxSide && h <= maxSide {
		return img
	}

	var nw, nh int
	if w >= h {
		nw = maxSide
		nh = max(1, h*maxSide/w)
	} else {
		nh = maxSide
		nw = max(1, w*maxSide/h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}

func encode(img image.Image) ([]byte, error) {
	// JPEG has no alpha; flatten onto white so transparent PNGs don't turn black.
	b := img.Bounds()
	flat := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(flat, flat.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, flat.Bounds(), img, b.Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
