// Package images renders previews of image attachments for document dumps.
package images

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var ErrBadBox = errors.New("preview box must be positive")

// Preview decodes image payload and scales it down to fit into the box
// keeping aspect ratio. Smaller raster images are left as they are, SVG is
// always rendered to fill the box.
func Preview(data []byte, mimeType string, maxW, maxH int) (image.Image, error) {
	if maxW <= 0 || maxH <= 0 {
		return nil, ErrBadBox
	}
	if strings.EqualFold(mimeType, "image/svg+xml") {
		img, err := RasterizeSVG(data, maxW, maxH)
		if err != nil {
			return nil, err
		}
		return img, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("unable to decode %s image: %w", mimeType, err)
	}
	if b := img.Bounds(); b.Dx() > maxW || b.Dy() > maxH {
		img = imaging.Fit(img, maxW, maxH, imaging.Lanczos)
	}
	return img, nil
}

// EncodePNG encodes preview.
func EncodePNG(img image.Image) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
		return nil, fmt.Errorf("unable to encode preview: %w", err)
	}
	return buf.Bytes(), nil
}

// IsGrayscale reports whether every pixel of img has equal color channels.
func IsGrayscale(img image.Image) bool {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return true
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := color.NRGBAModel.Convert(img.At(x, y)).RGBA()
			if r != g || g != bl {
				return false
			}
		}
	}
	return true
}
