package services

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/png"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/harentsoaR/fablab-api/internal/apperr"
)

type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memObjects) Put(_ context.Context, key, _ string, body io.Reader) (string, error) {
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = b
	return "https://cdn.example/" + key, nil
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

func TestUpload_StoresDisplayAndThumb(t *testing.T) {
	objs := &memObjects{objects: map[string][]byte{}}
	s := NewImageUploadService(objs, zap.NewNop())

	out, err := s.UploadEquipmentImage(context.Background(), bytes.NewReader(testPNG(t, 800, 600)))
	require.NoError(t, err)

	assert.Regexp(t, `^https://cdn\.example/equipment/\d{4}/\d{2}/[0-9a-f-]+\.jpg$`, out.ImageURL)
	assert.Equal(t, strings.TrimSuffix(out.ImageURL, ".jpg")+"-thumb.jpg", out.ThumbURL)
	assert.Len(t, objs.objects, 2)
}

func TestUpload_RejectsNonImage(t *testing.T) {
	s := NewImageUploadService(&memObjects{objects: map[string][]byte{}}, zap.NewNop())

	_, err := s.UploadEquipmentImage(context.Background(), strings.NewReader("%PDF-1.7 not an image"))
	assert.True(t, apperr.Is(err, apperr.KindInvalid))
}

func TestUpload_RejectsOversize(t *testing.T) {
	s := NewImageUploadService(&memObjects{objects: map[string][]byte{}}, zap.NewNop())

	big := append(testPNG(t, 10, 10), make([]byte, MaxImageBytes)...)
	_, err := s.UploadEquipmentImage(context.Background(), bytes.NewReader(big))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalid))
	assert.Contains(t, apperr.PublicMessage(err), "10 MB")
}

func TestUpload_RejectsDecompressionBomb(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 1, 1))))
	b := buf.Bytes()
	binary.BigEndian.PutUint32(b[16:20], 30000)
	binary.BigEndian.PutUint32(b[20:24], 30000)
	binary.BigEndian.PutUint32(b[29:33], crc32.ChecksumIEEE(b[12:29]))

	objs := &memObjects{objects: map[string][]byte{}}
	s := NewImageUploadService(objs, zap.NewNop())

	_, err := s.UploadEquipmentImage(context.Background(), bytes.NewReader(b))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindInvalid))
	assert.Contains(t, apperr.PublicMessage(err), "megapixel")
	assert.Empty(t, objs.objects)
}
