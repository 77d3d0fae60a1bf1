package monitor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"
	"sync"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
)

// Piece glyphs are drawn as tokens: a disc in the piece colour with a shape
// for the kind. The letter is added by the renderer.
const tokenSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 100 100">
<circle cx="50" cy="50" r="40" style="fill:%s;stroke:%s;stroke-width:4"/>
<path d="%s" style="fill:none;stroke:%s;stroke-width:3"/>
</svg>`

var kindShapes = map[byte]string{
	'p': "M40 70 L60 70 L55 45 L45 45 Z",
	'r': "M32 72 L68 72 L68 32 L32 32 Z",
	'n': "M35 72 L65 72 L60 30 L40 45 Z",
	'b': "M50 25 L68 72 L32 72 Z",
	'q': "M30 72 L70 72 L75 30 L62 50 L50 25 L38 50 L25 30 Z",
	'k': "M50 22 L50 40 M42 30 L58 30 M32 72 L68 72 L62 42 L38 42 Z",
}

type glyphKey struct {
	kind byte
	size int
}

var (
	glyphCache   = map[glyphKey]image.Image{}
	glyphCacheMu sync.RWMutex
)

func pieceSVG(kind byte) ([]byte, error) {
	lower := kind | 0x20
	shape, ok := kindShapes[lower]
	if !ok {
		return nil, fmt.Errorf("unknown piece %q", kind)
	}
	fill, ink := "#1d1f2b", "#f0f0f0"
	if kind != lower {
		fill, ink = "#f5f2e8", "#1d1f2b"
	}
	return []byte(fmt.Sprintf(tokenSVG, fill, ink, shape, ink)), nil
}

func renderGlyph(kind byte, size int) (image.Image, error) {
	key := glyphKey{kind: kind, size: size}
	glyphCacheMu.RLock()
	if img, ok := glyphCache[key]; ok {
		glyphCacheMu.RUnlock()
		return img, nil
	}
	glyphCacheMu.RUnlock()

	data, err := pieceSVG(kind)
	if err != nil {
		return nil, err
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse piece svg: %w", err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.Transparent), image.Point{}, draw.Src)
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	glyphCacheMu.Lock()
	glyphCache[key] = img
	glyphCacheMu.Unlock()
	return img, nil
}

func isWhite(kind byte) bool { return strings.IndexByte("PRNBQK", kind) >= 0 }
