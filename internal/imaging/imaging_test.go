package imaging

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decodedSize(t *testing.T, b []byte) (int, int) {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	return img.Bounds().Dx(), img.Bounds().Dy()
}

func TestProcess_LargeLandscape(t *testing.T) {
	res, err := Process(bytes.NewReader(pngBytes(t, 2000, 1000)))
	require.NoError(t, err)

	w, h := decodedSize(t, res.Display)
	assert.Equal(t, 1600, w)
	assert.Equal(t, 800, h)

	tw, th := decodedSize(t, res.Thumb)
	assert.Equal(t, 400, tw)
	assert.Equal(t, 200, th)
}

func TestProcess_PortraitThumbBounded(t *testing.T) {
	res, err := Process(bytes.NewReader(pngBytes(t, 500, 900)))
	require.NoError(t, err)

	w, h := decodedSize(t, res.Display)
	assert.Equal(t, 500, w)
	assert.Equal(t, 900, h)

	tw, th := decodedSize(t, res.Thumb)
	assert.LessOrEqual(t, tw, ThumbMaxSide)
	assert.Equal(t, ThumbMaxSide, th)
}

func TestProcess_SmallImageNotUpscaled(t *testing.T) {
	res, err := Process(bytes.NewReader(pngBytes(t, 120, 80)))
	require.NoError(t, err)

	tw, th := decodedSize(t, res.Thumb)
	assert.Equal(t, 120, tw)
	assert.Equal(t, 80, th)
}

func TestProcess_Garbage(t *testing.T) {
	_, err := Process(strings.NewReader("definitely not an image"))
	require.ErrorIs(t, err, ErrUndecodable)
}

// oversizedPNG returns a valid-looking PNG whose header declares w x h pixels
// but which carries a single row of data.
func oversizedPNG(t *testing.T, w, h uint32) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))))
	b := buf.Bytes()
	// Signature (8) + IHDR length (4) + "IHDR" (4), then width and height.
	binary.BigEndian.PutUint32(b[16:20], w)
	binary.BigEndian.PutUint32(b[20:24], h)
	binary.BigEndian.PutUint32(b[29:33], crc32.ChecksumIEEE(b[12:29]))
	return b
}

func TestProcess_RejectsDimensionsBeforeDecoding(t *testing.T) {
	data := oversizedPNG(t, 30000, 30000)
	require.Less(t, len(data), 128)

	_, err := Process(bytes.NewReader(data))
	require.ErrorIs(t, err, ErrTooManyPixels)
	assert.NotErrorIs(t, err, ErrUndecodable)
}

func TestProcess_AcceptsAtPixelBudget(t *testing.T) {
	// 8000x5000 is exactly the budget; the header check must pass and
	// decoding then fails only because the pixel data is missing.
	_, err := Process(bytes.NewReader(oversizedPNG(t, 8000, 5000)))
	require.ErrorIs(t, err, ErrUndecodable)
}
