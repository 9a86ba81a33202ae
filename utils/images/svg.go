package images

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"math"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// side of the square assumed for drawings without viewBox
const defaultSVGSize = 1024

// RasterizeSVG draws SVG document on white background scaled to fit into
// maxW x maxH box. Aspect ratio of the viewBox is kept and the drawing is
// scaled up when it is smaller than the box.
func RasterizeSVG(data []byte, maxW, maxH int) (*image.RGBA, error) {
	if maxW <= 0 || maxH <= 0 {
		return nil, ErrBadBox
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unable to read svg: %w", err)
	}

	vw, vh := icon.ViewBox.W, icon.ViewBox.H
	if vw <= 0 || vh <= 0 {
		vw, vh = defaultSVGSize, defaultSVGSize
	}
	scale := min(float64(maxW)/vw, float64(maxH)/vh)
	w := max(int(math.Round(vw*scale)), 1)
	h := max(int(math.Round(vh*scale)), 1)

	icon.SetTarget(0, 0, float64(w), float64(h))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.White, image.Point{}, draw.Src)
	icon.Draw(rasterx.NewDasher(w, h, rasterx.NewScannerGV(w, h, dst, dst.Bounds())), 1)
	return dst, nil
}
