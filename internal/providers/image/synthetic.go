package image

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"strconv"
	"time"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"tryon/internal/imageenc"
)

const (
	syntheticWidth  = 768
	syntheticHeight = 1024
)

// Synthetic composes the product over the model locally. It keeps the
// wizard usable in development and tests without Gemini credentials.
type Synthetic struct {
	delay time.Duration
}

// NewSynthetic returns a synthetic generator that waits delay before
// answering, to mimic remote latency.
func NewSynthetic(delay time.Duration) *Synthetic {
	return &Synthetic{delay: delay}
}

func (s *Synthetic) Generate(ctx context.Context, req TryOnRequest) (*TryOnResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if s != nil && s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := renderComposite(req.Model, req.Product)
	if err != nil {
		return nil, fmt.Errorf("synthetic: %w", err)
	}
	return NewResult(data, "image/png")
}

// renderComposite draws the model full-frame and the product as an inset in
// the lower half. Images that fail to decode are replaced by colour blocks
// derived from their bytes so output stays deterministic.
func renderComposite(model, product imageenc.EncodedImage) ([]byte, error) {
	seed := deterministicSeed(model.Data, product.Data)
	canvas := image.NewRGBA(image.Rect(0, 0, syntheticWidth, syntheticHeight))
	xdraw.Draw(canvas, canvas.Bounds(), &image.Uniform{colorFromSeed(seed, 0)}, image.Point{}, xdraw.Src)

	if src, ok := decodeEncoded(model); ok {
		xdraw.ApproxBiLinear.Scale(canvas, fitRect(src.Bounds(), canvas.Bounds()), src, src.Bounds(), xdraw.Over, nil)
	} else {
		drawStripes(canvas, colorFromSeed(seed, 1))
	}

	inset := image.Rect(syntheticWidth/4, syntheticHeight*2/5, syntheticWidth*3/4, syntheticHeight*4/5)
	if src, ok := decodeEncoded(product); ok {
		xdraw.ApproxBiLinear.Scale(canvas, fitRect(src.Bounds(), inset), src, src.Bounds(), xdraw.Over, nil)
	} else {
		xdraw.Draw(canvas, inset, &image.Uniform{colorFromSeed(seed, 2)}, image.Point{}, xdraw.Over)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEncoded(img imageenc.EncodedImage) (image.Image, bool) {
	raw, err := imageenc.Decode(img)
	if err != nil {
		return nil, false
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil || imageenc.CheckDimensions(cfg.Width, cfg.Height) != nil {
		return nil, false
	}
	decoded, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, false
	}
	return decoded, true
}

// fitRect scales src into target keeping its aspect ratio, centred.
func fitRect(src, target image.Rectangle) image.Rectangle {
	sw, sh := src.Dx(), src.Dy()
	tw, th := target.Dx(), target.Dy()
	if sw <= 0 || sh <= 0 || tw <= 0 || th <= 0 {
		return target
	}
	w, h := tw, sh*tw/sw
	if h > th {
		w, h = sw*th/sh, th
	}
	x0 := target.Min.X + (tw-w)/2
	y0 := target.Min.Y + (th-h)/2
	return image.Rect(x0, y0, x0+w, y0+h)
}

func drawStripes(img *image.RGBA, accent color.RGBA) {
	b := img.Bounds()
	stripe := maxInt(32, b.Dy()/12)
	for y := b.Min.Y; y < b.Max.Y; y += stripe * 2 {
		r := image.Rect(b.Min.X, y, b.Max.X, minInt(b.Max.Y, y+stripe))
		xdraw.Draw(img, r, &image.Uniform{accent}, image.Point{}, xdraw.Over)
	}
}

func colorFromSeed(seed string, shift int) color.RGBA {
	if seed == "" {
		seed = "000000"
	}
	doubled := seed + seed
	start := (shift * 6) % len(seed)
	segment := doubled[start : start+6]
	return color.RGBA{
		R: parseHexByte(segment[0:2]),
		G: parseHexByte(segment[2:4]),
		B: parseHexByte(segment[4:6]),
		A: 255,
	}
}

func parseHexByte(s string) uint8 {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0
	}
	return uint8(v)
}

func deterministicSeed(parts ...string) string {
	hasher := sha256.New()
	for _, part := range parts {
		hasher.Write([]byte(part))
		hasher.Write([]byte{'|'})
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

var _ Generator = (*Synthetic)(nil)
