// Package render draws debug overlays on camera frames and writes them to
// disk.
package render

import (
	"image/color"

	"gocv.io/x/gocv"
)

var (
	Black  = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	White  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Yellow = color.RGBA{R: 255, G: 255, B: 50, A: 255}
	Pink   = color.RGBA{R: 255, G: 0, B: 255, A: 255}
	Red    = color.RGBA{R: 255, G: 56, B: 56, A: 255}
	Green  = color.RGBA{R: 72, G: 249, B: 10, A: 255}

	// trackColors are cycled through by track id for non engaged tracks
	trackColors = []color.RGBA{
		{R: 255, G: 112, B: 31, A: 255},
		{R: 255, G: 178, B: 29, A: 255},
		{R: 0, G: 212, B: 187, A: 255},
		{R: 0, G: 194, B: 255, A: 255},
		{R: 100, G: 115, B: 255, A: 255},
		{R: 132, G: 56, B: 255, A: 255},
		{R: 255, G: 149, B: 200, A: 255},
		{R: 146, G: 204, B: 23, A: 255},
	}
)

type Alignment int

const (
	Left   Alignment = 1
	Center Alignment = 2
	Right  Alignment = 3
)

// Font defines the parameters for rendering text labels
type Font struct {
	Face      gocv.HersheyFont
	Scale     float64
	Color     color.RGBA
	Thickness int
	LineType  gocv.LineType
	// Padding around the label text
	LeftPad   int
	RightPad  int
	TopPad    int
	BottomPad int
	// Alignment of the label to its box
	Alignment Alignment
}

// DefaultFont returns the label font
func DefaultFont() Font {
	return Font{
		Face:      gocv.FontHersheySimplex,
		Scale:     0.5,
		Color:     White,
		Thickness: 1,
		LineType:  gocv.LineAA,
		LeftPad:   4,
		RightPad:  4,
		TopPad:    4,
		BottomPad: 6,
		Alignment: Left,
	}
}

// TrailStyle defines how the target trail is drawn
type TrailStyle struct {
	LineColor     color.RGBA
	LineThickness int
	CircleColor   color.RGBA
	CircleRadius  int
}

// DefaultTrailStyle returns default trail style settings
func DefaultTrailStyle() TrailStyle {
	return TrailStyle{
		LineColor:     Yellow,
		LineThickness: 1,
		CircleColor:   Pink,
		CircleRadius:  3,
	}
}
