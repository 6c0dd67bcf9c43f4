package images

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func decodedSize(t *testing.T, data []byte) (int, int) {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img.Bounds().Dx(), img.Bounds().Dy()
}

func TestNormalizeAcceptsPng(t *testing.T) {
	out, err := Normalize(pngBytes(t, 200, 200))
	require.NoError(t, err)

	w, h := decodedSize(t, out)
	require.Equal(t, 200, w)
	require.Equal(t, 200, h)
}

func TestNormalizeAcceptsJpeg(t *testing.T) {
	out, err := Normalize(jpegBytes(t, 300, 150))
	require.NoError(t, err)

	w, h := decodedSize(t, out)
	require.Equal(t, 300, w)
	require.Equal(t, 150, h)
}

func TestNormalizeRejectsTooSmall(t *testing.T) {
	_, err := Normalize(pngBytes(t, 50, 200))
	require.ErrorContains(t, err, "too small")
}

func TestNormalizeRejectsUnknownFormat(t *testing.T) {
	_, err := Normalize([]byte("GIF89a not really an image"))
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestNormalizeRejectsEmptyInput(t *testing.T) {
	_, err := Normalize(nil)
	require.Error(t, err)
}

func TestNormalizeRejectsCorruptPayload(t *testing.T) {
	data := pngBytes(t, 200, 200)
	_, err := Normalize(data[:16])
	require.Error(t, err)
}

func TestNormalizeDownscalesOversized(t *testing.T) {
	out, err := Normalize(pngBytes(t, 2000, 1000))
	require.NoError(t, err)

	w, h := decodedSize(t, out)
	require.Equal(t, 1600, w)
	require.Equal(t, 800, h)
}
