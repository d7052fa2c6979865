// Package assetindex builds the process-local index of already-materialized
// asset files. It is built once at pipeline start and read-only afterward.
package assetindex

import (
	"context"
	"encoding/hex"
	"io"
	"io/fs"
	"strings"
	"sync"

	"github.com/zeebo/xxh3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/equimed/catalog-importer/internal/adapter"
	"github.com/equimed/catalog-importer/internal/logger"
)

// FileMeta describes one indexed file
type FileMeta struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
	Size     int64  `json:"size_bytes"`
}

// Index holds the two lookup structures: filename (lowercased) to path for
// the hot path, and content hash to file metadata for content-level dedup.
type Index struct {
	mu         sync.Mutex
	byFilename map[string]string
	byHash     map[string][]FileMeta
	files      int
}

// Build walks every root and indexes regular, non-hidden files. A root that
// is unreadable or absent is logged and skipped; it never fails the build.
// Hashing uses xxh3: dedup needs a stable hash, not a cryptographic one.
func Build(ctx context.Context, fsys adapter.FileSystem, roots []string) (*Index, error) {
	idx := &Index{
		byFilename: make(map[string]string),
		byHash:     make(map[string][]FileMeta),
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, root := range roots {
		g.Go(func() error {
			if err := idx.walkRoot(ctx, fsys, root); err != nil {
				logger.WarnCtx(ctx, "skipping unreadable asset root",
					zap.String("root", root),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "existing-asset index built",
		zap.Int("roots", len(roots)),
		zap.Int("files", idx.files),
		zap.Int("hashes", len(idx.byHash)),
	)

	return idx, nil
}

func (idx *Index) walkRoot(ctx context.Context, fsys adapter.FileSystem, root string) error {
	return fsys.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		name := d.Name()
		if strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			logger.Warn("skipping unstatable file", zap.String("path", path), zap.Error(err))
			return nil
		}

		meta := FileMeta{Path: path, Filename: name, Size: info.Size()}

		var hash string
		if info.Size() > 0 {
			hash, err = hashFile(fsys, path)
			if err != nil {
				logger.Warn("failed to hash file", zap.String("path", path), zap.Error(err))
				hash = ""
			}
		}

		idx.mu.Lock()
		idx.byFilename[strings.ToLower(name)] = path // last writer wins
		if hash != "" {
			idx.byHash[hash] = append(idx.byHash[hash], meta)
		}
		idx.files++
		idx.mu.Unlock()

		return nil
	})
}

func hashFile(fsys adapter.FileSystem, path string) (string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := f.Close(); err != nil {
			logger.Warn("failed to close file", zap.String("path", path), zap.Error(err))
		}
	}()

	h := xxh3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}

	sum := h.Sum128().Bytes()
	return hex.EncodeToString(sum[:]), nil
}

// Exists reports whether a file with the given name (case-insensitive) is
// already materialized. This is the hot path during imports.
func (idx *Index) Exists(filename string) bool {
	_, ok := idx.byFilename[strings.ToLower(filename)]
	return ok
}

// Path returns the absolute path of an indexed filename
func (idx *Index) Path(filename string) (string, bool) {
	p, ok := idx.byFilename[strings.ToLower(filename)]
	return p, ok
}

// Find returns the metadata of the first indexed file with the given content
// hash. Used for exact-duplicate detection across differently-named files.
func (idx *Index) Find(hash string) (FileMeta, bool) {
	metas, ok := idx.byHash[hash]
	if !ok || len(metas) == 0 {
		return FileMeta{}, false
	}
	return metas[0], true
}

// DuplicateGroups returns all sets of byte-identical files stored under
// different paths, keyed by content hash.
func (idx *Index) DuplicateGroups() map[string][]FileMeta {
	groups := make(map[string][]FileMeta)
	for hash, metas := range idx.byHash {
		if len(metas) > 1 {
			groups[hash] = metas
		}
	}
	return groups
}

// Len returns the number of indexed files
func (idx *Index) Len() int {
	return idx.files
}

// HashReader hashes arbitrary content with the same function the index uses
func HashReader(r io.Reader) (string, error) {
	h := xxh3.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	sum := h.Sum128().Bytes()
	return hex.EncodeToString(sum[:]), nil
}
