package diagnostics

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"math"
	"strconv"
	"strings"

	webpenc "github.com/chai2010/webp"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"

	"github.com/naylin209/instalogin/driver"
)

var tagColors = map[string]color.RGBA{
	"button":   hexToRGBA("#FF6B6B"),
	"input":    hexToRGBA("#4ECDC4"),
	"select":   hexToRGBA("#45B7D1"),
	"a":        hexToRGBA("#96CEB4"),
	"textarea": hexToRGBA("#FF8C42"),
	"svg":      hexToRGBA("#F7DC6F"),
}

var defaultColor = hexToRGBA("#DDA0DD")

// Annotate outlines each element on the screenshot and labels it with its
// index. Element boxes are in CSS pixels and are scaled by dpr. The result is
// WebP, or PNG if WebP encoding fails; the returned extension says which.
func Annotate(screenshot []byte, elements []driver.ElementInfo, dpr float64) ([]byte, string, error) {
	img, _, err := image.Decode(bytes.NewReader(screenshot))
	if err != nil {
		return nil, "", fmt.Errorf("decode screenshot: %w", err)
	}
	bounds := img.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, img, bounds.Min, draw.Src)
	if dpr <= 0 {
		dpr = 1
	}
	for _, el := range elements {
		outline(canvas, scale(el, dpr), el.Index, colorFor(el))
	}

	var buf bytes.Buffer
	if err := webpenc.Encode(&buf, canvas, &webpenc.Options{Quality: 60}); err == nil {
		return buf.Bytes(), ".webp", nil
	}
	buf.Reset()
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, "", fmt.Errorf("encode screenshot: %w", err)
	}
	return buf.Bytes(), ".png", nil
}

func scale(el driver.ElementInfo, dpr float64) image.Rectangle {
	return image.Rect(
		int(math.Round(el.X*dpr)),
		int(math.Round(el.Y*dpr)),
		int(math.Round((el.X+el.Width)*dpr)),
		int(math.Round((el.Y+el.Height)*dpr)),
	)
}

func outline(img *image.RGBA, box image.Rectangle, index int, c color.RGBA) {
	box = box.Intersect(img.Bounds())
	if box.Dx() < 2 || box.Dy() < 2 {
		return
	}
	const lineWidth = 2
	for i := 0; i < lineWidth; i++ {
		fill(img, image.Rect(box.Min.X+i, box.Min.Y+i, box.Max.X-i, box.Min.Y+i+1), c)
		fill(img, image.Rect(box.Min.X+i, box.Max.Y-1-i, box.Max.X-i, box.Max.Y-i), c)
		fill(img, image.Rect(box.Min.X+i, box.Min.Y+i, box.Min.X+i+1, box.Max.Y-i), c)
		fill(img, image.Rect(box.Max.X-1-i, box.Min.Y+i, box.Max.X-i, box.Max.Y-i), c)
	}
	label(img, box.Min, index, c)
}

func fill(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	draw.Draw(img, r.Intersect(img.Bounds()), image.NewUniform(c), image.Point{}, draw.Src)
}

func label(img *image.RGBA, at image.Point, index int, c color.RGBA) {
	if index <= 0 {
		return
	}
	text := strconv.Itoa(index)
	face := basicfont.Face7x13
	drawer := font.Drawer{Dst: img, Src: image.NewUniform(color.Black), Face: face}
	const pad = 2
	width := drawer.MeasureString(text).Ceil()
	height := face.Metrics().Height.Ceil()
	bg := image.Rect(at.X, at.Y, at.X+width+pad*2, at.Y+height+pad*2)
	fill(img, bg, c)
	drawer.Dot = fixed.Point26_6{
		X: fixed.I(at.X + pad),
		Y: fixed.I(at.Y + pad + face.Metrics().Ascent.Ceil()),
	}
	drawer.DrawString(text)
}

func colorFor(el driver.ElementInfo) color.RGBA {
	if el.Tag == "input" {
		if typ := el.Attrs["type"]; typ == "button" || typ == "submit" {
			return tagColors["button"]
		}
	}
	if c, ok := tagColors[el.Tag]; ok {
		return c
	}
	return defaultColor
}

func hexToRGBA(hex string) color.RGBA {
	v, err := strconv.ParseUint(strings.TrimPrefix(hex, "#"), 16, 32)
	if err != nil || len(hex) != 7 {
		return color.RGBA{R: 255, G: 255, A: 255}
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}
}
