package imagex

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testImage(t *testing.T, w, h int) image.Image {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 10), G: uint8(y * 10), B: 128, A: 255})
		}
	}
	return img
}

func TestNormalize_JPEGBecomesPNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testImage(t, 8, 6), nil))

	got, err := Normalize(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "png", got.Format)
	assert.Equal(t, 8, got.Width)
	assert.Equal(t, 6, got.Height)

	decoded, format, err := image.Decode(bytes.NewReader(got.Data))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 8, decoded.Bounds().Dx())
}

func TestNormalize_PNGPassesThrough(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(t, 4, 4)))
	src := buf.Bytes()

	got, err := Normalize(src)
	require.NoError(t, err)
	assert.Equal(t, "png", got.Format)
	assert.Equal(t, src, got.Data)
}

func TestNormalize_UndecodableFallsBack(t *testing.T) {
	junk := []byte("definitely not an image")

	got, err := Normalize(junk)
	require.NoError(t, err)
	assert.Equal(t, junk, got.Data)
	assert.Zero(t, got.Width)
	assert.NotEqual(t, "png", got.Format)
}

func TestMimeHint(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(t, 2, 2)))

	assert.Equal(t, "image/png", MimeHint(buf.Bytes()))
	assert.Equal(t, "text/plain; charset=utf-8", MimeHint([]byte("hello")))
}
