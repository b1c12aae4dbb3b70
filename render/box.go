package render

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/swdee/go-hornetlock/tracker"
)

// Overlay is everything drawn on a debug frame
type Overlay struct {
	// Tracks output by the tracker this frame
	Tracks []*tracker.STrack
	// ActiveID is the engaged track, zero for none
	ActiveID int
	// Fix is the smoothed target position in metres, nil when the frame
	// produced none
	Fix *r3.Vec
	// Trail is the centroid history of the engaged target
	Trail []tracker.Point
	// Labels are the model class names, may be nil
	Labels []string
}

// Draw renders the overlay onto img
func Draw(img *gocv.Mat, ov Overlay, font Font, lineThickness int) {

	labels := make([]boxLabel, 0, len(ov.Tracks))

	for _, tr := range ov.Tracks {

		r := tr.GetRect()
		rect := image.Rect(int(r.TLX()), int(r.TLY()), int(r.BRX()), int(r.BRY()))

		clr := trackColors[tr.GetTrackID()%len(trackColors)]
		thickness := lineThickness
		text := fmt.Sprintf("%s %d", className(ov.Labels, tr.GetLabel()), tr.GetTrackID())

		if tr.GetTrackID() == ov.ActiveID {
			clr = Red
			thickness = lineThickness * 2

			if ov.Fix != nil {
				text = fmt.Sprintf("%s z=%.2fm", text, ov.Fix.Z)
			}
		}

		gocv.Rectangle(img, rect, clr, thickness)
		labels = append(labels, placeLabel(rect, text, clr, font, thickness))
	}

	Trail(img, ov.Trail, DefaultTrailStyle())

	if ov.Fix != nil {
		text := fmt.Sprintf("x=%.3f y=%.3f z=%.3f", ov.Fix.X, ov.Fix.Y, ov.Fix.Z)
		gocv.PutTextWithParams(img, text, image.Pt(10, 20), font.Face, font.Scale,
			Green, font.Thickness, font.LineType, false)
	}

	// labels last so they sit above every box outline
	for _, l := range labels {
		gocv.Rectangle(img, l.rect, l.clr, -1)
		gocv.PutTextWithParams(img, l.text, l.textPos, font.Face, font.Scale,
			font.Color, font.Thickness, font.LineType, false)
	}
}

// boxLabel is a precalculated label placement
type boxLabel struct {
	rect    image.Rectangle
	clr     color.RGBA
	text    string
	textPos image.Point
}

// placeLabel positions text above the box according to the font alignment
func placeLabel(box image.Rectangle, text string, clr color.RGBA, font Font, lineThickness int) boxLabel {

	textSize := gocv.GetTextSize(text, font.Face, font.Scale, font.Thickness)

	var centerX int

	switch font.Alignment {
	case Center:
		centerX = (box.Min.X + box.Max.X) / 2
	case Right:
		centerX = box.Max.X - (textSize.X / 2) - font.RightPad + (lineThickness / 2)
	default:
		centerX = box.Min.X + (textSize.X / 2) + font.LeftPad - (lineThickness / 2)
	}

	return boxLabel{
		rect: image.Rect(centerX-textSize.X/2-font.LeftPad,
			box.Min.Y-textSize.Y-font.TopPad-font.BottomPad,
			centerX+textSize.X/2+font.RightPad, box.Min.Y),
		clr:     clr,
		text:    text,
		textPos: image.Pt(centerX-textSize.X/2, box.Min.Y-font.BottomPad),
	}
}

func className(labels []string, class int) string {
	if class >= 0 && class < len(labels) {
		return labels[class]
	}
	return fmt.Sprintf("class%d", class)
}
