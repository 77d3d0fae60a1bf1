package monitor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	imagedraw "image/draw"
	"image/png"
	"math/bits"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/cheese-board/internal/board"
	"github.com/park285/cheese-board/internal/tracker"
)

const (
	squareSize = 48
	margin     = 20
	headerH    = 24
	boardSize  = squareSize * 8
)

var (
	lightSquare     = color.RGBA{233, 207, 163, 255}
	darkSquare      = color.RGBA{187, 136, 96, 255}
	ledOverlay      = color.NRGBA{R: 255, G: 64, B: 64, A: 120}
	coordinateColor = color.NRGBA{R: 8, G: 214, B: 120, A: 255}
	headerColor     = color.NRGBA{R: 236, G: 239, B: 255, A: 255}
	backgroundColor = color.RGBA{28, 31, 46, 255}
)

var (
	ranks = []nchess.Rank{nchess.Rank8, nchess.Rank7, nchess.Rank6, nchess.Rank5, nchess.Rank4, nchess.Rank3, nchess.Rank2, nchess.Rank1}
	files = []nchess.File{nchess.FileA, nchess.FileB, nchess.FileC, nchess.FileD, nchess.FileE, nchess.FileF, nchess.FileG, nchess.FileH}
)

// RenderPNG draws the sensed board of s with the lit LED squares tinted.
// Before the first reconstruction the expected board is drawn instead.
func RenderPNG(ctx context.Context, s tracker.Snapshot) ([]byte, error) {
	layoutStr := s.Sensed
	if layoutStr == "" {
		layoutStr = s.Expected
	}
	var layout board.Layout
	if layoutStr != "" {
		l, err := board.ParseLayout(layoutStr)
		if err != nil {
			return nil, fmt.Errorf("render layout: %w", err)
		}
		layout = l
	}

	origin := image.Point{X: margin, Y: margin + headerH}
	img := image.NewRGBA(image.Rect(0, 0, boardSize+margin*2, boardSize+margin*2+headerH))
	imagedraw.Draw(img, img.Bounds(), image.NewUniform(backgroundColor), image.Point{}, imagedraw.Src)

	mask := s.LED.Mask()
	if s.Rotated {
		mask = bits.Reverse64(mask)
	}
	drawer := &font.Drawer{Dst: img, Face: basicfont.Face7x13}

	for row, rank := range ranks {
		for col, file := range files {
			sq := nchess.NewSquare(file, rank)
			rect := image.Rect(origin.X+col*squareSize, origin.Y+row*squareSize, origin.X+(col+1)*squareSize, origin.Y+(row+1)*squareSize)
			imagedraw.Draw(img, rect, image.NewUniform(squareColor(sq)), image.Point{}, imagedraw.Src)
			if mask&(1<<uint(sq)) != 0 {
				imagedraw.Draw(img, rect, image.NewUniform(ledOverlay), image.Point{}, imagedraw.Over)
			}
			kind := layout[row*8+col]
			if kind == 0 {
				continue
			}
			glyph, err := renderGlyph(kind, squareSize)
			if err != nil {
				return nil, err
			}
			imagedraw.Draw(img, rect, glyph, image.Point{}, imagedraw.Over)
			letter := color.Color(color.White)
			if isWhite(kind) {
				letter = color.Black
			}
			drawer.Src = image.NewUniform(letter)
			drawCentered(drawer, strings.ToUpper(string(kind)), rect.Min.X+squareSize/2, rect.Min.Y+squareSize/2+5)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}

	drawer.Src = image.NewUniform(coordinateColor)
	for i := range ranks {
		drawCentered(drawer, ranks[i].String(), margin/2, origin.Y+i*squareSize+squareSize/2+5)
		drawCentered(drawer, files[i].String(), origin.X+i*squareSize+squareSize/2, origin.Y+boardSize+14)
	}
	drawer.Src = image.NewUniform(headerColor)
	drawer.Dot = fixed.P(margin, margin+8)
	drawer.DrawString(header(s))

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func header(s tracker.Snapshot) string {
	state := "out of sync"
	if s.InSync() {
		state = "in sync"
	}
	if s.Calibration != nil {
		state = fmt.Sprintf("calibrating %d/%d", s.Calibration.Samples, s.Calibration.Target)
	}
	return fmt.Sprintf("%s | %s to move | %s", s.Link, s.Turn, state)
}

func drawCentered(drawer *font.Drawer, text string, centerX, baseline int) {
	width := drawer.MeasureString(text).Round()
	drawer.Dot = fixed.P(centerX-width/2, baseline)
	drawer.DrawString(text)
}

func squareColor(sq nchess.Square) color.Color {
	if (int(sq.File())+int(sq.Rank()))%2 == 0 {
		return darkSquare
	}
	return lightSquare
}
