// Package overlay draws text and simple shapes onto raster images. It is pure
// image processing: callers pass bytes in and get new bytes back.
package overlay

import (
	"errors"
	"fmt"
	"html"
	"image/color"
	"math"
	"strings"

	"github.com/fogleman/gg"
	"github.com/samber/lo"
)

var (
	ErrEmptyText         = errors.New("text is required")
	ErrInvalidShape      = errors.New("invalid shape")
	ErrInvalidColor      = errors.New("invalid color")
	ErrDecode            = errors.New("cannot decode image")
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrTimeout           = errors.New("transform timed out")
)

// Shapes accepted by ShapeOptions.
const (
	ShapeRectangle = "rectangle"
	ShapeCircle    = "circle"
	ShapeArrow     = "arrow"
	ShapeLine      = "line"
)

var validShapes = map[string]bool{
	ShapeRectangle: true,
	ShapeCircle:    true,
	ShapeArrow:     true,
	ShapeLine:      true,
}

// Defaults applied when a field is absent.
const (
	DefaultColor       = "red"
	DefaultTextX       = 10.0
	DefaultTextY       = 50.0
	DefaultFontSize    = 24.0
	DefaultShapeX      = 10.0
	DefaultShapeY      = 10.0
	DefaultShapeSize   = 100.0
	DefaultRadius      = 50.0
	DefaultStrokeWidth = 2.0
)

// Instruction is a resolved overlay ready to draw.
type Instruction interface {
	// SVG returns the overlay as an SVG fragment with user text escaped.
	SVG() string
	draw(dc *gg.Context, r *Renderer) error
}

// EscapeMarkup escapes < > & ' " so text can be embedded in XML/SVG.
func EscapeMarkup(s string) string {
	return html.EscapeString(s)
}

// ---------------------------------------------------------------------------
// Text
// ---------------------------------------------------------------------------

// TextOptions is the caller's view of a text overlay; nil means "use default".
type TextOptions struct {
	Text     string
	X        *float64
	Y        *float64
	FontSize *float64
	Color    string
}

// TextInstruction draws Text with its baseline starting at (X, Y).
type TextInstruction struct {
	Text     string  `json:"text"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	FontSize float64 `json:"fontSize"`
	Color    string  `json:"color"`

	rgba color.Color
}

// NewTextInstruction validates opts and fills in defaults.
func NewTextInstruction(opts TextOptions) (*TextInstruction, error) {
	if strings.TrimSpace(opts.Text) == "" {
		return nil, ErrEmptyText
	}
	colorName := lo.Ternary(opts.Color == "", DefaultColor, opts.Color)
	c, err := ParseColor(colorName)
	if err != nil {
		return nil, err
	}

	fontSize := lo.FromPtrOr(opts.FontSize, DefaultFontSize)
	if fontSize <= 0 {
		fontSize = DefaultFontSize
	}

	return &TextInstruction{
		Text:     opts.Text,
		X:        lo.FromPtrOr(opts.X, DefaultTextX),
		Y:        lo.FromPtrOr(opts.Y, DefaultTextY),
		FontSize: fontSize,
		Color:    colorName,
		rgba:     c,
	}, nil
}

func (t *TextInstruction) SVG() string {
	return fmt.Sprintf(`<text x="%g" y="%g" font-size="%g" fill="%s">%s</text>`,
		t.X, t.Y, t.FontSize, EscapeMarkup(t.Color), EscapeMarkup(t.Text))
}

func (t *TextInstruction) draw(dc *gg.Context, r *Renderer) error {
	dc.SetFontFace(r.face(t.FontSize))
	dc.SetColor(t.rgba)
	dc.DrawString(t.Text, t.X, t.Y)
	return nil
}

// ---------------------------------------------------------------------------
// Shapes
// ---------------------------------------------------------------------------

// ShapeOptions is the caller's view of a shape overlay; nil means "use default".
type ShapeOptions struct {
	Shape       string
	X           *float64
	Y           *float64
	Width       *float64
	Height      *float64
	Color       string
	StrokeWidth *float64
}

// ShapeInstruction is a resolved shape. For circles Radius is set and the
// circle is inscribed in the square whose top-left corner is (X, Y). For
// lines and arrows (X2, Y2) is the end point.
type ShapeInstruction struct {
	Shape       string  `json:"shape"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Width       float64 `json:"width,omitempty"`
	Height      float64 `json:"height,omitempty"`
	Radius      float64 `json:"radius,omitempty"`
	X2          float64 `json:"x2,omitempty"`
	Y2          float64 `json:"y2,omitempty"`
	Color       string  `json:"color"`
	StrokeWidth float64 `json:"strokeWidth"`

	rgba color.Color
}

// positive returns *p when it is set and non-zero, else def.
func positive(p *float64, def float64) float64 {
	if p == nil || *p == 0 {
		return def
	}
	return *p
}

// NewShapeInstruction validates opts and resolves the shape-specific defaults.
func NewShapeInstruction(opts ShapeOptions) (*ShapeInstruction, error) {
	shape := strings.ToLower(strings.TrimSpace(opts.Shape))
	if !validShapes[shape] {
		return nil, fmt.Errorf("%w: %q (must be one of rectangle, circle, arrow, line)", ErrInvalidShape, opts.Shape)
	}

	colorName := lo.Ternary(opts.Color == "", DefaultColor, opts.Color)
	c, err := ParseColor(colorName)
	if err != nil {
		return nil, err
	}

	stroke := positive(opts.StrokeWidth, DefaultStrokeWidth)
	if stroke < 0 {
		stroke = DefaultStrokeWidth
	}

	s := &ShapeInstruction{
		Shape:       shape,
		X:           lo.FromPtrOr(opts.X, DefaultShapeX),
		Y:           lo.FromPtrOr(opts.Y, DefaultShapeY),
		Color:       colorName,
		StrokeWidth: stroke,
		rgba:        c,
	}

	switch shape {
	case ShapeRectangle:
		s.Width = positive(opts.Width, DefaultShapeSize)
		s.Height = positive(opts.Height, DefaultShapeSize)
	case ShapeCircle:
		s.Radius = DefaultRadius
		if opts.Width != nil && *opts.Width > 0 {
			s.Radius = *opts.Width
		}
	case ShapeArrow, ShapeLine:
		s.Width = positive(opts.Width, DefaultShapeSize)
		s.Height = positive(opts.Height, DefaultShapeSize)
		s.X2 = s.X + s.Width
		s.Y2 = s.Y + s.Height
	}

	return s, nil
}

// Center returns the circle centre.
func (s *ShapeInstruction) Center() (float64, float64) {
	return s.X + s.Radius, s.Y + s.Radius
}

// arrowHead returns the two barb end points of the head at (X2, Y2).
func (s *ShapeInstruction) arrowHead() (float64, float64, float64, float64) {
	length := math.Max(10, 4*s.StrokeWidth)
	angle := math.Atan2(s.Y2-s.Y, s.X2-s.X)
	const spread = math.Pi / 6
	return s.X2 - length*math.Cos(angle-spread), s.Y2 - length*math.Sin(angle-spread),
		s.X2 - length*math.Cos(angle+spread), s.Y2 - length*math.Sin(angle+spread)
}

func (s *ShapeInstruction) SVG() string {
	stroke := fmt.Sprintf(`stroke="%s" stroke-width="%g" fill="none"`, EscapeMarkup(s.Color), s.StrokeWidth)
	switch s.Shape {
	case ShapeRectangle:
		return fmt.Sprintf(`<rect x="%g" y="%g" width="%g" height="%g" %s/>`, s.X, s.Y, s.Width, s.Height, stroke)
	case ShapeCircle:
		cx, cy := s.Center()
		return fmt.Sprintf(`<circle cx="%g" cy="%g" r="%g" %s/>`, cx, cy, s.Radius, stroke)
	case ShapeArrow:
		h1x, h1y, h2x, h2y := s.arrowHead()
		return fmt.Sprintf(`<g %s><line x1="%g" y1="%g" x2="%g" y2="%g"/><polyline points="%g,%g %g,%g %g,%g"/></g>`,
			stroke, s.X, s.Y, s.X2, s.Y2, h1x, h1y, s.X2, s.Y2, h2x, h2y)
	default:
		return fmt.Sprintf(`<line x1="%g" y1="%g" x2="%g" y2="%g" %s/>`, s.X, s.Y, s.X2, s.Y2, stroke)
	}
}

func (s *ShapeInstruction) draw(dc *gg.Context, _ *Renderer) error {
	dc.SetColor(s.rgba)
	dc.SetLineWidth(s.StrokeWidth)

	switch s.Shape {
	case ShapeRectangle:
		dc.DrawRectangle(s.X, s.Y, s.Width, s.Height)
	case ShapeCircle:
		cx, cy := s.Center()
		dc.DrawCircle(cx, cy, s.Radius)
	case ShapeLine:
		dc.DrawLine(s.X, s.Y, s.X2, s.Y2)
	case ShapeArrow:
		dc.DrawLine(s.X, s.Y, s.X2, s.Y2)
		dc.Stroke()
		h1x, h1y, h2x, h2y := s.arrowHead()
		dc.MoveTo(h1x, h1y)
		dc.LineTo(s.X2, s.Y2)
		dc.LineTo(h2x, h2y)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidShape, s.Shape)
	}
	dc.Stroke()
	return nil
}
