package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecode_PNG(t *testing.T) {
	data := encodePNG(t, 4, 3, color.NRGBA{R: 200, G: 100, B: 50, A: 255})

	f, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, "png", f.Format)
	assert.Equal(t, 4, f.Width())
	assert.Equal(t, 3, f.Height())
	r, g, b := f.RGB(3, 2)
	assert.Equal(t, uint8(200), r)
	assert.Equal(t, uint8(100), g)
	assert.Equal(t, uint8(50), b)
}

func TestDecode_JPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))

	f, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "jpeg", f.Format)
	assert.Equal(t, 16, f.Width())
}

func TestDecode_Invalid(t *testing.T) {
	valid := encodePNG(t, 8, 8, color.White)

	tests := []struct {
		name string
		data []byte
	}{
		{"nil payload", nil},
		{"empty payload", []byte{}},
		{"garbage", []byte("definitely not an image")},
		{"truncated png", valid[:len(valid)/2]},
		{"header only", valid[:8]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode(tt.data)
			assert.Nil(t, f)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDecode))

			var decodeErr *DecodeError
			assert.True(t, errors.As(err, &decodeErr))
		})
	}
}

// pngHeader returns the signature and IHDR chunk of a w x h 8-bit grayscale PNG
// with no pixel data behind it.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], w)
	binary.BigEndian.PutUint32(ihdr[4:8], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 0 // grayscale

	chunk := append([]byte("IHDR"), ihdr...)
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecode_RejectsOversizedDimensions(t *testing.T) {
	data := pngHeader(12000, 12000)

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, "png", format)
	require.Equal(t, 12000, cfg.Width)

	f, err := Decode(data)
	assert.Nil(t, f)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecode)
	assert.Contains(t, err.Error(), "12000x12000")
}

func TestDecodeLimit(t *testing.T) {
	data := encodePNG(t, 8, 8, color.White)

	_, err := DecodeLimit(data, 63)
	assert.ErrorIs(t, err, ErrDecode)

	f, err := DecodeLimit(data, 64)
	require.NoError(t, err)
	assert.Equal(t, 8, f.Width())

	f, err = DecodeLimit(data, 0)
	require.NoError(t, err)
	assert.Equal(t, 8, f.Height())
}
