package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equimed/catalog-importer/internal/adapter"
	"github.com/equimed/catalog-importer/internal/assetindex"
	"github.com/equimed/catalog-importer/internal/domain"
	"github.com/equimed/catalog-importer/internal/logger"
	"github.com/equimed/catalog-importer/internal/mocks"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: true}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func emptyIndex(t *testing.T) *assetindex.Index {
	t.Helper()
	idx, err := assetindex.Build(context.Background(), adapter.NewFileSystem(), nil)
	require.NoError(t, err)
	return idx
}

func newTestEngine(t *testing.T, client adapter.HTTPClient, idx *assetindex.Index, assetsRoot string) *Engine {
	t.Helper()
	return NewEngine(client, adapter.NewFileSystem(), adapter.NewClock(), idx, Config{
		AssetsRoot: assetsRoot,
		BatchSize:  3,
		Pause:      time.Millisecond,
		Timeout:    5 * time.Second,
	})
}

func TestNewAssetReferenceFilenames(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		role     domain.AssetRole
		position int
		expected string
	}{
		{"primary keeps url extension", "https://cdn.example.com/img/monitor.PNG", domain.AssetRolePrimary, 0, "PM-2000-primary.png"},
		{"gallery numbered", "https://cdn.example.com/a.jpeg", domain.AssetRoleGallery, 2, "PM-2000-gallery-2.jpeg"},
		{"brochure keeps pdf", "https://files.example.com/specs.pdf?v=3", domain.AssetRoleBrochure, 1, "PM-2000-brochure-1.pdf"},
		{"unknown extension defaults to jpg", "https://cdn.example.com/image/4711", domain.AssetRolePrimary, 0, "PM-2000-primary.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := NewAssetReference(2, "pm-2000", tt.url, domain.AssetKindImage, tt.role, tt.position)
			assert.Equal(t, tt.expected, ref.Filename)
		})
	}
}

func TestFetchDedupShortCircuit(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "X-primary.jpg"), []byte("cached"), 0o644))
	idx, err := assetindex.Build(context.Background(), adapter.NewFileSystem(), []string{root})
	require.NoError(t, err)

	// a mock with zero expectations: any network call fails the test
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	client := mocks.NewMockHTTPClient(ctrl)

	engine := newTestEngine(t, client, idx, root)
	ref := NewAssetReference(2, "X", "https://dead.example.com/x.jpg", domain.AssetKindImage, domain.AssetRolePrimary, 0)

	results := engine.FetchAll(context.Background(), "monitors", []AssetReference{ref})
	require.Len(t, results, 1)
	assert.True(t, results[0].OK)
	assert.True(t, results[0].Deduped)
	assert.Equal(t, "X-primary.jpg", results[0].RelPath)
}

func TestFetchDownloadsAndMaterializes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("\xff\xd8\xff\xdbjpegbody"))
	}))
	defer server.Close()

	assetsRoot := t.TempDir()
	engine := newTestEngine(t, adapter.NewHTTPClient(0), emptyIndex(t), assetsRoot)

	ref := NewAssetReference(2, "PM-2000", server.URL+"/monitor.jpg", domain.AssetKindImage, domain.AssetRolePrimary, 0)
	results := engine.FetchAll(context.Background(), "monitors", []AssetReference{ref})

	require.Len(t, results, 1)
	res := results[0]
	assert.True(t, res.OK)
	assert.False(t, res.Deduped)
	assert.Equal(t, filepath.Join("monitors", "PM-2000-primary.jpg"), res.RelPath)
	assert.Equal(t, int64(12), res.Size)

	content, err := os.ReadFile(filepath.Join(assetsRoot, res.RelPath))
	require.NoError(t, err)
	assert.Equal(t, "\xff\xd8\xff\xdbjpegbody", string(content))

	// no temp artifact left behind
	_, err = os.Stat(filepath.Join(assetsRoot, res.RelPath+".part"))
	assert.True(t, os.IsNotExist(err))
}

func TestFetchSharedFilenameFetchedOnce(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("body"))
	}))
	defer server.Close()

	assetsRoot := t.TempDir()
	engine := newTestEngine(t, adapter.NewHTTPClient(0), emptyIndex(t), assetsRoot)

	// two rows carrying the same supplier reference resolve to the same
	// destination filename and land in the same batch
	refs := []AssetReference{
		NewAssetReference(2, "PM-2000", server.URL+"/a.jpg", domain.AssetKindImage, domain.AssetRolePrimary, 0),
		NewAssetReference(3, "PM-2000", server.URL+"/b.jpg", domain.AssetKindImage, domain.AssetRolePrimary, 0),
	}
	results := engine.FetchAll(context.Background(), "monitors", refs)

	require.Len(t, results, 2)
	assert.Equal(t, int32(1), hits.Load(), "shared filename must be downloaded once")
	assert.True(t, results[0].OK)
	assert.False(t, results[0].Deduped)
	assert.True(t, results[1].OK)
	assert.True(t, results[1].Deduped)
	assert.Equal(t, results[0].RelPath, results[1].RelPath)
	assert.Equal(t, refs[1].URL, results[1].URL)

	content, err := os.ReadFile(filepath.Join(assetsRoot, results[0].RelPath))
	require.NoError(t, err)
	assert.Equal(t, "body", string(content))
	_, err = os.Stat(filepath.Join(assetsRoot, results[0].RelPath+".part"))
	assert.True(t, os.IsNotExist(err))
}

func TestFetchFailureStatusCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	assetsRoot := t.TempDir()
	engine := newTestEngine(t, adapter.NewHTTPClient(0), emptyIndex(t), assetsRoot)

	ref := NewAssetReference(2, "PM-2000", server.URL+"/gone.jpg", domain.AssetKindImage, domain.AssetRolePrimary, 0)
	results := engine.FetchAll(context.Background(), "monitors", []AssetReference{ref})

	require.Len(t, results, 1)
	assert.False(t, results[0].OK)
	assert.Contains(t, results[0].Error, "404")
	assert.Empty(t, results[0].RelPath)
}

func TestFetchPartialFileCleanup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		_, _ = w.Write([]byte("only a few bytes"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		panic(http.ErrAbortHandler) // cut the connection mid-body
	}))
	defer server.Close()

	assetsRoot := t.TempDir()
	engine := newTestEngine(t, adapter.NewHTTPClient(0), emptyIndex(t), assetsRoot)

	ref := NewAssetReference(2, "PM-2000", server.URL+"/broken.jpg", domain.AssetKindImage, domain.AssetRolePrimary, 0)
	results := engine.FetchAll(context.Background(), "monitors", []AssetReference{ref})

	require.Len(t, results, 1)
	assert.False(t, results[0].OK)

	dest := filepath.Join(assetsRoot, "monitors", "PM-2000-primary.jpg")
	_, err := os.Stat(dest)
	assert.True(t, os.IsNotExist(err), "no partial artifact may survive at the destination")
	_, err = os.Stat(dest + ".part")
	assert.True(t, os.IsNotExist(err), "no partial artifact may survive at the temp path")
}

func TestFetchBoundedConcurrency(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		_, _ = w.Write([]byte("body"))
	}))
	defer server.Close()

	assetsRoot := t.TempDir()
	engine := newTestEngine(t, adapter.NewHTTPClient(0), emptyIndex(t), assetsRoot)

	refs := make([]AssetReference, 7)
	for i := range refs {
		refs[i] = NewAssetReference(i+2, fmt.Sprintf("REF-%d", i), fmt.Sprintf("%s/%d.jpg", server.URL, i), domain.AssetKindImage, domain.AssetRolePrimary, 0)
	}

	results := engine.FetchAll(context.Background(), "monitors", refs)
	require.Len(t, results, 7)
	for _, res := range results {
		assert.True(t, res.OK)
	}
	assert.LessOrEqual(t, maxInFlight.Load(), int32(3), "no more than 3 downloads in flight")
}

func TestFetchResultCallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("body"))
	}))
	defer server.Close()

	assetsRoot := t.TempDir()
	engine := newTestEngine(t, adapter.NewHTTPClient(0), emptyIndex(t), assetsRoot)

	var mu sync.Mutex
	var seen []string
	engine.OnResult = func(res DownloadResult) {
		mu.Lock()
		seen = append(seen, res.Filename)
		mu.Unlock()
	}

	refs := []AssetReference{
		NewAssetReference(2, "A", server.URL+"/a.jpg", domain.AssetKindImage, domain.AssetRolePrimary, 0),
		NewAssetReference(3, "B", server.URL+"/b.jpg", domain.AssetKindImage, domain.AssetRolePrimary, 0),
	}
	engine.FetchAll(context.Background(), "monitors", refs)

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"A-primary.jpg", "B-primary.jpg"}, seen)
}
