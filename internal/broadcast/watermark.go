package broadcast

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Watermark stamps a semi-opaque label onto the bottom-right corner of a
// photo. The label height scales with the image so the mark stays readable
// across resolutions.
func Watermark(photo []byte, label string) ([]byte, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return photo, nil
	}

	src, err := imaging.Decode(bytes.NewReader(photo), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode photo: %w", err)
	}

	bounds := src.Bounds()
	// Label height relative to the photo, clamped so tiny thumbnails and
	// huge originals both stay legible.
	labelH := bounds.Dy() / 18
	if labelH < 16 {
		labelH = 16
	}
	if labelH > 96 {
		labelH = 96
	}

	stamp := renderLabel(label)
	scale := float64(labelH) / float64(stamp.Bounds().Dy())
	stampW := int(float64(stamp.Bounds().Dx()) * scale)
	scaled := imaging.Resize(stamp, stampW, labelH, imaging.Lanczos)

	margin := labelH / 2
	pos := image.Pt(
		bounds.Max.X-scaled.Bounds().Dx()-margin,
		bounds.Max.Y-scaled.Bounds().Dy()-margin,
	)
	if pos.X < bounds.Min.X {
		pos.X = bounds.Min.X
	}
	if pos.Y < bounds.Min.Y {
		pos.Y = bounds.Min.Y
	}

	out := imaging.Overlay(src, scaled, pos, 0.85)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, out, imaging.JPEG, imaging.JPEGQuality(88)); err != nil {
		return nil, fmt.Errorf("encode photo: %w", err)
	}
	return buf.Bytes(), nil
}

// renderLabel rasterizes the label once at the base font size: white text on
// a semi-opaque black backing rectangle. The caller scales the raster to the
// photo-relative size.
func renderLabel(label string) *image.NRGBA {
	face := basicfont.Face7x13
	textW := font.MeasureString(face, label).Ceil()
	padX, padY := 6, 4
	w := textW + 2*padX
	h := face.Height + 2*padY

	img := imaging.New(w, h, color.NRGBA{0, 0, 0, 170})
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.NRGBA{255, 255, 255, 255}),
		Face: face,
		Dot:  fixed.P(padX, padY+face.Ascent),
	}
	d.DrawString(label)
	return img
}
