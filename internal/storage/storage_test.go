package storage

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEquipmentImageKeys(t *testing.T) {
	display, thumb := EquipmentImageKeys(time.Date(2025, 3, 9, 23, 0, 0, 0, time.UTC))

	assert.Regexp(t, regexp.MustCompile(`^equipment/2025/03/[0-9a-f-]{36}\.jpg$`), display)
	assert.Equal(t, strings.TrimSuffix(display, ".jpg")+"-thumb.jpg", thumb)
}

func TestLocalPut(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocal(dir, "http://localhost:8080/")
	require.NoError(t, err)

	url, err := s.Put(context.Background(), "equipment/2025/03/a.jpg", "image/jpeg", strings.NewReader("jpeg-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/uploads/equipment/2025/03/a.jpg", url)

	b, err := os.ReadFile(filepath.Join(dir, "equipment", "2025", "03", "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(b))
}

func TestLocalPut_RejectsTraversal(t *testing.T) {
	s, err := NewLocal(t.TempDir(), "http://localhost:8080")
	require.NoError(t, err)

	_, err = s.Put(context.Background(), "../escape.jpg", "image/jpeg", strings.NewReader("x"))
	assert.Error(t, err)
}
