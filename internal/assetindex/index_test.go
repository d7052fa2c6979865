package assetindex

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equimed/catalog-importer/internal/adapter"
	"github.com/equimed/catalog-importer/internal/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: true}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBuildIndexesFilesCaseInsensitive(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "PM-2000-primary.JPG", "image bytes")
	writeFile(t, root, "sub/pm-3000-gallery-1.jpg", "more bytes")

	idx, err := Build(context.Background(), adapter.NewFileSystem(), []string{root})
	require.NoError(t, err)

	assert.Equal(t, 2, idx.Len())
	assert.True(t, idx.Exists("pm-2000-primary.jpg"))
	assert.True(t, idx.Exists("PM-3000-GALLERY-1.JPG"))
	assert.False(t, idx.Exists("pm-4000-primary.jpg"))

	path, ok := idx.Path("pm-2000-primary.jpg")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "PM-2000-primary.JPG"), path)
}

func TestBuildSkipsHiddenAndEmptyFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".hidden.jpg", "secret")
	writeFile(t, root, ".git/object.jpg", "inside hidden dir")
	writeFile(t, root, "empty.jpg", "")
	writeFile(t, root, "real.jpg", "content")

	idx, err := Build(context.Background(), adapter.NewFileSystem(), []string{root})
	require.NoError(t, err)

	assert.False(t, idx.Exists(".hidden.jpg"))
	assert.False(t, idx.Exists("object.jpg"))
	// empty files are indexed by filename but never hashed
	assert.True(t, idx.Exists("empty.jpg"))
	assert.True(t, idx.Exists("real.jpg"))

	content, err := os.Open(filepath.Join(root, "real.jpg"))
	require.NoError(t, err)
	defer content.Close()
	hash, err := HashReader(content)
	require.NoError(t, err)

	meta, ok := idx.Find(hash)
	require.True(t, ok)
	assert.Equal(t, "real.jpg", meta.Filename)
	assert.Equal(t, int64(len("content")), meta.Size)
}

func TestBuildContinuesPastMissingRoot(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.pdf", "pdf bytes")

	idx, err := Build(context.Background(), adapter.NewFileSystem(), []string{
		filepath.Join(root, "does-not-exist"),
		root,
	})
	require.NoError(t, err)
	assert.True(t, idx.Exists("a.pdf"))
	assert.Equal(t, 1, idx.Len())
}

func TestDuplicateGroups(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "one.jpg", "same bytes")
	writeFile(t, root, "two.jpg", "same bytes")
	writeFile(t, root, "other.jpg", "different bytes")

	idx, err := Build(context.Background(), adapter.NewFileSystem(), []string{root})
	require.NoError(t, err)

	groups := idx.DuplicateGroups()
	require.Len(t, groups, 1)
	for _, metas := range groups {
		assert.Len(t, metas, 2)
	}
}
