// Package frame turns raw client payloads into decoded pixel grids.
package frame

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	// Extra raster formats beyond the jpeg/png/gif/bmp/tiff set imaging registers.
	_ "golang.org/x/image/webp"
)

// Channels is the number of color channels exposed by a decoded Frame.
const Channels = 3

// DefaultMaxPixels bounds the decoded size of a frame when no limit is given.
const DefaultMaxPixels = 25_000_000

// ErrDecode is the sentinel matched by every DecodeError.
var ErrDecode = errors.New("invalid frame")

// DecodeError reports a payload that is not a decodable still image.
type DecodeError struct {
	Size  int
	Cause error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("decode frame (%d bytes): %v", e.Size, e.Cause)
	}
	return fmt.Sprintf("decode frame (%d bytes)", e.Size)
}

// Is makes errors.Is(err, ErrDecode) true for any DecodeError.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

// Frame is a decoded image laid out as height x width x Channels.
type Frame struct {
	Image  *image.NRGBA
	Format string
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int {
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels.
func (f *Frame) Height() int {
	return f.Image.Bounds().Dy()
}

// RGB returns the color of the pixel at (x, y) relative to the frame origin.
func (f *Frame) RGB(x, y int) (r, g, b uint8) {
	i := f.Image.PixOffset(f.Image.Rect.Min.X+x, f.Image.Rect.Min.Y+y)
	px := f.Image.Pix[i : i+3 : i+3]
	return px[0], px[1], px[2]
}

// Decode validates and decodes a single still image of at most DefaultMaxPixels.
func Decode(data []byte) (*Frame, error) {
	return DecodeLimit(data, DefaultMaxPixels)
}

// DecodeLimit is Decode with an explicit pixel budget. The header is checked
// against maxPixels before any pixel data is decoded. maxPixels <= 0 means
// DefaultMaxPixels.
func DecodeLimit(data []byte, maxPixels int) (*Frame, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Cause: errors.New("empty payload")}
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Size: len(data), Cause: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, &DecodeError{Size: len(data), Cause: errors.New("image has no pixels")}
	}
	if int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, &DecodeError{
			Size:  len(data),
			Cause: fmt.Errorf("image is %dx%d, limit is %d pixels", cfg.Width, cfg.Height, maxPixels),
		}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &DecodeError{Size: len(data), Cause: err}
	}

	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, &DecodeError{Size: len(data), Cause: errors.New("image has no pixels")}
	}

	nrgba, ok := img.(*image.NRGBA)
	if !ok {
		nrgba = imaging.Clone(img)
	}

	return &Frame{Image: nrgba, Format: format}, nil
}
