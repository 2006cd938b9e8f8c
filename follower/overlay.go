package follower

import (
	"fmt"
	"image"

	"github.com/fogleman/gg"

	"github.com/viam-modules/person-follower/target"
)

const (
	boxLineWidth    = 8
	targetLineWidth = 10
)

// drawOverlay returns a copy of img with every tracked person boxed (the target in
// yellow, everyone else in green), the command along the bottom and the frame rate.
func drawOverlay(img image.Image, res target.Result, fps float64) image.Image {
	dc := gg.NewContextForImage(img)
	w, h := float64(dc.Width()), float64(dc.Height())

	for _, d := range res.Detections {
		x, y := d.Box.X1*w, d.Box.Y1*h
		bw, bh := (d.Box.X2-d.Box.X1)*w, (d.Box.Y2-d.Box.Y1)*h
		if d.IsTarget {
			dc.SetRGB(1, 1, 0)
			dc.SetLineWidth(targetLineWidth)
		} else {
			dc.SetRGB(0, 1, 0)
			dc.SetLineWidth(boxLineWidth)
		}
		dc.DrawRectangle(x, y, bw, bh)
		dc.Stroke()

		dc.SetRGB(0, 1, 0)
		dc.DrawString(fmt.Sprintf("ID:%d %.2f", d.ID, d.Score), x, y-10)
	}

	dc.SetRGB(0, 1, 0)
	cmd := string(res.Command)
	tw, _ := dc.MeasureString(cmd)
	dc.DrawString(cmd, (w-tw)/2, h*0.9)
	dc.DrawString(fmt.Sprintf("FPS: %.1f", fps), 10, 20)
	return dc.Image()
}
