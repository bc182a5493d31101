package packager

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"math"

	"golang.org/x/image/draw"
)

// Encoded is a compressed still image.
type Encoded struct {
	Data   []byte
	Width  int
	Height int
}

// FitWithin scales (w, h) so the longer side is at most maxEdge, preserving the
// aspect ratio. The shorter side is scaled proportionally and rounded. Images
// already within bounds are returned unchanged.
func FitWithin(w, h, maxEdge int) (int, int) {
	if maxEdge <= 0 {
		return w, h
	}
	if w > h {
		if w > maxEdge {
			h = int(math.Round(float64(h) * float64(maxEdge) / float64(w)))
			w = maxEdge
		}
	} else if h > maxEdge {
		w = int(math.Round(float64(w) * float64(maxEdge) / float64(h)))
		h = maxEdge
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// Compress decodes frame, resizes it into the bounding box and re-encodes it as JPEG.
func (p *Packager) Compress(frame []byte) (Encoded, error) {
	src, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return Encoded{}, fmt.Errorf("decode frame: %w", err)
	}

	b := src.Bounds()
	w, h := FitWithin(b.Dx(), b.Dy(), p.maxEdge)

	var out image.Image = src
	if w != b.Dx() || h != b.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
		out = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: jpegQuality(p.quality)}); err != nil {
		return Encoded{}, fmt.Errorf("encode frame: %w", err)
	}
	return Encoded{Data: buf.Bytes(), Width: w, Height: h}, nil
}

// jpegQuality maps a 0..1 quality factor onto the encoder's 1..100 scale.
func jpegQuality(q float64) int {
	n := int(math.Round(q * 100))
	if n < 1 {
		return 1
	}
	if n > 100 {
		return 100
	}
	return n
}
