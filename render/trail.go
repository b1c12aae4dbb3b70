package render

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/swdee/go-hornetlock/tracker"
)

// Trail draws the target centroid history with a dot on the latest point
func Trail(img *gocv.Mat, points []tracker.Point, style TrailStyle) {

	if len(points) < 2 {
		return
	}

	for i := 1; i < len(points); i++ {
		gocv.Line(img,
			image.Pt(points[i-1].X, points[i-1].Y),
			image.Pt(points[i].X, points[i].Y),
			style.LineColor, style.LineThickness,
		)
	}

	last := points[len(points)-1]
	gocv.Circle(img, image.Pt(last.X, last.Y), style.CircleRadius, style.CircleColor, -1)
}
