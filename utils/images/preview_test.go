package images

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodedPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, c)
		}
	}
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestPreview(t *testing.T) {
	red := color.NRGBA{R: 255, A: 255}
	gray := color.NRGBA{R: 90, G: 90, B: 90, A: 255}
	svg := []byte(`<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 50"><rect width="100" height="50"/></svg>`)

	tests := []struct {
		name         string
		data         []byte
		mime         string
		wantW, wantH int
		wantGray     bool
	}{
		{"scaled down", encodedPNG(t, 200, 100, red), "image/png", 50, 25, false},
		{"small kept", encodedPNG(t, 20, 10, gray), "image/png", 20, 10, true},
		{"svg", svg, "image/svg+xml", 50, 25, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := Preview(tt.data, tt.mime, 50, 50)
			if err != nil {
				t.Fatalf("Preview: %v", err)
			}
			if img.Bounds().Dx() != tt.wantW || img.Bounds().Dy() != tt.wantH {
				t.Errorf("bounds = %v", img.Bounds())
			}
			if IsGrayscale(img) != tt.wantGray {
				t.Errorf("IsGrayscale = %v", !tt.wantGray)
			}
			data, err := EncodePNG(img)
			if err != nil {
				t.Fatal(err)
			}
			if _, err := png.Decode(bytes.NewReader(data)); err != nil {
				t.Errorf("encoded preview does not decode: %v", err)
			}
		})
	}
}

func TestPreview_Errors(t *testing.T) {
	if _, err := Preview(encodedPNG(t, 2, 2, color.White), "image/png", 0, 10); !errors.Is(err, ErrBadBox) {
		t.Errorf("empty box = %v", err)
	}
	if _, err := Preview([]byte("not an image"), "image/png", 10, 10); err == nil {
		t.Error("garbage decoded")
	}
}
