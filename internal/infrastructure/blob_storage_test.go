package infrastructure

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"retailcrm/internal/entities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBlobStore_PutAndOpen(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalBlobStore(root, "media/")
	require.NoError(t, err)

	url, err := store.Put(context.Background(), "org-1/chat-1/a.png", "image/png", strings.NewReader("png-bytes"))
	require.NoError(t, err)
	assert.Equal(t, "/media/org-1/chat-1/a.png", url)

	onDisk, err := os.ReadFile(filepath.Join(root, "org-1", "chat-1", "a.png"))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(onDisk))

	rc, err := store.Open(context.Background(), "org-1/chat-1/a.png")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
}

func TestLocalBlobStore_RejectsTraversal(t *testing.T) {
	store, err := NewLocalBlobStore(t.TempDir(), "/media")
	require.NoError(t, err)

	for _, key := range []string{"../escape", "org/../../etc/passwd", ""} {
		_, err := store.Put(context.Background(), key, "text/plain", strings.NewReader("x"))
		assert.Error(t, err, key)
	}
}

func TestLocalBlobStore_OpenMissing(t *testing.T) {
	store, err := NewLocalBlobStore(t.TempDir(), "/media")
	require.NoError(t, err)

	_, err = store.Open(context.Background(), "nope/x.bin")
	assert.ErrorIs(t, err, entities.ErrNotFound)
}
