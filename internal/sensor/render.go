package sensor

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/randomizedcoder/go-fakecam/internal/stream"
)

// Color bars, left to right.
var bars = []color.RGBA{
	{255, 255, 255, 255},
	{255, 255, 0, 255},
	{0, 255, 255, 255},
	{0, 255, 0, 255},
	{255, 0, 255, 255},
	{255, 0, 0, 255},
	{0, 0, 255, 255},
	{16, 16, 16, 255},
}

// render fills one destination buffer with the scene.
func render(b *stream.ImageBuffer, level float64, frame uint64, hour int) error {
	switch b.Format {
	case stream.FormatBlob:
		if b.Aux == nil || b.Aux.Rect.Dx() != b.Width || b.Aux.Rect.Dy() != b.Height {
			b.Aux = image.NewRGBA(image.Rect(0, 0, b.Width, b.Height))
		}
		drawScene(b.Aux, level, frame, hour)
		return nil
	case stream.FormatRawSensor:
		return renderRaw(b, level)
	}

	if b.Img == nil {
		return fmt.Errorf("stream %d: buffer not mapped", b.StreamID)
	}
	if need := b.Format.BufferSize(b.Stride, b.Height); len(b.Img) < need {
		return fmt.Errorf("stream %d: buffer is %d bytes, need %d", b.StreamID, len(b.Img), need)
	}

	switch b.Format {
	case stream.FormatRGBA8888:
		img := &image.RGBA{Pix: b.Img, Stride: b.Stride * 4, Rect: image.Rect(0, 0, b.Width, b.Height)}
		drawScene(img, level, frame, hour)
	case stream.FormatYV12, stream.FormatYCrCb420SP:
		img := image.NewRGBA(image.Rect(0, 0, b.Width, b.Height))
		drawScene(img, level, frame, hour)
		toYUV420(img, b.Img, b.Stride, b.Format == stream.FormatYCrCb420SP)
	default:
		return fmt.Errorf("stream %d: cannot render %s", b.StreamID, b.Format)
	}
	return nil
}

func scale(c uint8, level float64) uint8 {
	return uint8(float64(c) * level)
}

func drawScene(img *image.RGBA, level float64, frame uint64, hour int) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	barWidth := (w + len(bars) - 1) / len(bars)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := bars[x/barWidth]
			i := img.PixOffset(x, y)
			img.Pix[i+0] = scale(c.R, level)
			img.Pix[i+1] = scale(c.G, level)
			img.Pix[i+2] = scale(c.B, level)
			img.Pix[i+3] = 255
		}
	}

	// A square that moves one step per frame, so consecutive frames differ.
	size := h / 8
	x0 := int(frame*4) % (w - size)
	y0 := h/2 - size/2
	for y := y0; y < y0+size; y++ {
		for x := x0; x < x0+size; x++ {
			i := img.PixOffset(x, y)
			img.Pix[i+0], img.Pix[i+1], img.Pix[i+2] = 0, 0, 0
		}
	}

	drawLabel(img, 4, 4, fmt.Sprintf("frame %d  %02d:00", frame, hour))
}

func drawLabel(img *image.RGBA, x, y int, label string) {
	bg := color.RGBA{0, 0, 0, 255}
	width := len(label) * 7
	for dy := 0; dy < 14; dy++ {
		for dx := 0; dx < width+4; dx++ {
			if image.Pt(x+dx, y+dy).In(img.Rect) {
				img.SetRGBA(x+dx, y+dy, bg)
			}
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x + 2), Y: fixed.I(y + 11)},
	}
	d.DrawString(label)
}

// toYUV420 converts img into a planar (YV12) or semi-planar (NV21) buffer.
func toYUV420(img *image.RGBA, dst []byte, stride int, semiPlanar bool) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	cw, ch := w/2, h/2
	cStride := stride / 2

	ySize := stride * h
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := img.PixOffset(x, y)
			yy, _, _ := color.RGBToYCbCr(img.Pix[i], img.Pix[i+1], img.Pix[i+2])
			dst[y*stride+x] = yy
		}
	}

	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			i := img.PixOffset(x*2, y*2)
			_, cb, cr := color.RGBToYCbCr(img.Pix[i], img.Pix[i+1], img.Pix[i+2])
			if semiPlanar {
				// NV21: interleaved V then U after the luma plane.
				o := ySize + y*stride + x*2
				dst[o] = cr
				dst[o+1] = cb
			} else {
				// YV12: full V plane, then U plane.
				o := y*cStride + x
				dst[ySize+o] = cr
				dst[ySize+cStride*ch+o] = cb
			}
		}
	}
}

// renderRaw writes a 16-bit RGGB mosaic of the bars, little endian.
func renderRaw(b *stream.ImageBuffer, level float64) error {
	if b.Img == nil {
		return fmt.Errorf("stream %d: buffer not mapped", b.StreamID)
	}
	if need := stream.FormatRawSensor.BufferSize(b.Stride, b.Height); len(b.Img) < need {
		return fmt.Errorf("stream %d: buffer is %d bytes, need %d", b.StreamID, len(b.Img), need)
	}

	barWidth := (b.Width + len(bars) - 1) / len(bars)
	for y := 0; y < b.Height; y++ {
		for x := 0; x < b.Width; x++ {
			c := bars[x/barWidth]
			var v uint8
			switch {
			case y%2 == 0 && x%2 == 0:
				v = c.R
			case y%2 == 1 && x%2 == 1:
				v = c.B
			default:
				v = c.G
			}
			raw := uint16(float64(v) / 255 * level * MaxRawValue)
			binary.LittleEndian.PutUint16(b.Img[(y*b.Stride+x)*2:], raw)
		}
	}
	return nil
}
