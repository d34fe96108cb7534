package overlay

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"strings"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/bmp"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/tiff"
	_ "golang.org/x/image/webp" // decoder only
)

// Renderer applies instructions to encoded images. It is safe for concurrent
// use.
type Renderer struct {
	font    *truetype.Font
	timeout time.Duration
}

// NewRenderer returns a Renderer using the Go regular font. Each Apply call is
// bounded by timeout when it is positive.
func NewRenderer(timeout time.Duration) (*Renderer, error) {
	f, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	return &Renderer{
		font:    f,
		timeout: timeout,
	}, nil
}

// face returns a font face for size. Faces are not safe for concurrent use,
// so a fresh one is built for each draw.
func (r *Renderer) face(size float64) font.Face {
	return truetype.NewFace(r.font, &truetype.Options{Size: size})
}

// Apply decodes src, draws inst on top and re-encodes in the format implied by
// ext (the source file's extension).
func (r *Renderer) Apply(ctx context.Context, src []byte, ext string, inst Instruction) ([]byte, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := r.render(src, ext, inst)
		done <- result{out, err}
	}()

	select {
	case res := <-done:
		return res.out, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
}

func (r *Renderer) render(src []byte, ext string, inst Instruction) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	dc := gg.NewContextForImage(img)
	if err := inst.draw(dc, r); err != nil {
		return nil, err
	}

	return Encode(dc.Image(), ext)
}

// Encode writes img in the format named by ext.
func Encode(img image.Image, ext string) ([]byte, error) {
	var buf bytes.Buffer
	var err error

	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "png":
		err = png.Encode(&buf, img)
	case "jpg", "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	case "gif":
		err = gif.Encode(&buf, img, nil)
	case "bmp":
		err = bmp.Encode(&buf, img)
	case "tiff":
		err = tiff.Encode(&buf, img, nil)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ext, err)
	}
	return buf.Bytes(), nil
}
