package infra

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"

	"github.com/Tsinling0525/rivulet-gen/plugin"
)

func testStore(t *testing.T, store plugin.FileStore) {
	ctx := context.Background()

	id, err := store.Put(ctx, "job-1", "out.png", []byte("png"), "image/png")
	require.NoError(t, err)

	meta, data, err := store.Get(ctx, "job-1", id)
	require.NoError(t, err)
	require.Equal(t, []byte("png"), data)
	require.Equal(t, "out.png", meta.Name)
	require.Equal(t, "image/png", meta.MediaType)
	require.Equal(t, int64(3), meta.Size)

	metas, err := store.List(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, metas, 1)
	require.Equal(t, id, metas[0].ID)

	require.NoError(t, store.Delete(ctx, "job-1", id))
	_, _, err = store.Get(ctx, "job-1", id)
	require.Equal(t, ErrFileNotFound, errors.Cause(err))

	metas, err = store.List(ctx, "job-2")
	require.NoError(t, err)
	require.Empty(t, metas)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = store.Put(cancelled, "job-1", "x", nil, "")
	require.ErrorIs(t, err, context.Canceled)
}

func TestLocalFiles(t *testing.T) {
	testStore(t, NewLocalFiles(t.TempDir()))
}

func TestMemFiles(t *testing.T) {
	testStore(t, NewMemFiles())
}

func TestLocalFilesRejectsTraversal(t *testing.T) {
	store := NewLocalFiles(t.TempDir())
	_, err := store.Put(context.Background(), "../escape", "x", []byte("x"), "")
	require.Error(t, err)
	_, _, err = store.Get(context.Background(), "job", "../../etc/passwd")
	require.Error(t, err)
}

func TestTemplatePath(t *testing.T) {
	got, err := TemplatePath("workflows", "sdxl/img2img.json")
	require.NoError(t, err)
	require.Equal(t, filepath.Join("workflows", "sdxl", "img2img.json"), got)

	for _, name := range []string{"", "..", "../secret.json", "../../etc/passwd", "/etc/passwd", "a/../../b.json", "a/../b.json"} {
		_, err := TemplatePath("workflows", name)
		require.Equal(t, ErrInvalidTemplate, errors.Cause(err), name)
	}
}
