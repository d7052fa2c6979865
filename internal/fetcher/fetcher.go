// Package fetcher materializes remote assets referenced by import rows.
// Downloads run in small fully-awaited batches; a failed download never
// leaves a partial file behind and is never retried.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/equimed/catalog-importer/internal/adapter"
	"github.com/equimed/catalog-importer/internal/assetindex"
	"github.com/equimed/catalog-importer/internal/domain"
	"github.com/equimed/catalog-importer/internal/logger"
)

const (
	// DefaultBatchSize bounds simultaneous outbound connections
	DefaultBatchSize = 3
	// DefaultBatchPause is the pause between fully-awaited batches
	DefaultBatchPause = 500 * time.Millisecond
	// DefaultDownloadTimeout is the per-download deadline
	DefaultDownloadTimeout = 30 * time.Second
)

// AssetReference is a pending remote asset tied to an import row
type AssetReference struct {
	// Line is the 1-based source line of the owning row
	Line int
	// ExternalReference is the owning product's supplier reference
	ExternalReference string
	URL               string
	Kind              domain.AssetKind
	Role              domain.AssetRole
	// Position numbers gallery/brochure assets within a row (1-based)
	Position int
	// Filename is the derived, filesystem-safe destination name
	Filename string
}

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,5}$`)

// NewAssetReference derives the deterministic destination filename for a
// remote asset: sanitized reference + role suffix + the URL's extension,
// defaulting to .jpg when the URL carries no usable one. The filename is
// never taken from untrusted URL text.
func NewAssetReference(line int, externalRef, rawURL string, kind domain.AssetKind, role domain.AssetRole, position int) AssetReference {
	suffix := string(role)
	if role != domain.AssetRolePrimary {
		suffix = fmt.Sprintf("%s-%d", role, position)
	}

	ext := strings.ToLower(path.Ext(strings.SplitN(path.Base(rawURL), "?", 2)[0]))
	if !extPattern.MatchString(ext) {
		ext = ".jpg"
	}

	return AssetReference{
		Line:              line,
		ExternalReference: externalRef,
		URL:               rawURL,
		Kind:              kind,
		Role:              role,
		Position:          position,
		Filename:          domain.SafeFilenamePart(externalRef) + "-" + suffix + ext,
	}
}

// DownloadResult is the terminal outcome of one asset reference
type DownloadResult struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
	// RelPath is the stored path relative to the assets root, "" on failure
	RelPath  string `json:"rel_path,omitempty"`
	Size     int64  `json:"size_bytes"`
	MimeType string `json:"mime_type,omitempty"`
	// Deduped is true when the asset was already materialized and no
	// network call was made
	Deduped bool   `json:"deduped"`
	OK      bool   `json:"ok"`
	Error   string `json:"error,omitempty"`

	Ref AssetReference `json:"-"`
}

// Engine downloads missing assets with bounded concurrency
type Engine struct {
	httpClient adapter.HTTPClient
	fs         adapter.FileSystem
	clock      adapter.Clock
	index      *assetindex.Index
	assetsRoot string

	batchSize int
	pause     time.Duration
	timeout   time.Duration

	// OnResult, when set, is invoked for every resolved reference. Used by
	// the importer to feed per-asset progress. Called from worker
	// goroutines; implementations must be safe for concurrent use.
	OnResult func(DownloadResult)
}

// Config holds the engine's tunables. Zero values select defaults.
type Config struct {
	AssetsRoot string
	BatchSize  int
	Pause      time.Duration
	Timeout    time.Duration
}

// NewEngine creates a new fetch engine over the given asset index
func NewEngine(httpClient adapter.HTTPClient, fsys adapter.FileSystem, clock adapter.Clock, index *assetindex.Index, cfg Config) *Engine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Pause <= 0 {
		cfg.Pause = DefaultBatchPause
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultDownloadTimeout
	}
	return &Engine{
		httpClient: httpClient,
		fs:         fsys,
		clock:      clock,
		index:      index,
		assetsRoot: cfg.AssetsRoot,
		batchSize:  cfg.BatchSize,
		pause:      cfg.Pause,
		timeout:    cfg.Timeout,
	}
}

// FetchAll resolves every reference, in batches of the configured size. A
// batch is fully awaited before the next starts, with a short pause between
// batches. References sharing a destination filename are fetched once; the
// later ones reuse the first resolution so two workers never write the same
// temp path. Results keep the order of the input references.
func (e *Engine) FetchAll(ctx context.Context, category string, refs []AssetReference) []DownloadResult {
	results := make([]DownloadResult, len(refs))

	firstByName := make(map[string]int, len(refs))
	var pending []int
	var dups [][2]int
	for i, ref := range refs {
		if first, ok := firstByName[ref.Filename]; ok {
			dups = append(dups, [2]int{i, first})
			continue
		}
		firstByName[ref.Filename] = i
		pending = append(pending, i)
	}

	for start := 0; start < len(pending); start += e.batchSize {
		end := min(start+e.batchSize, len(pending))

		pool := pond.NewPool(e.batchSize, pond.WithContext(ctx))
		for _, i := range pending[start:end] {
			pool.Submit(func() {
				results[i] = e.fetchOne(ctx, category, refs[i])
				if e.OnResult != nil {
					e.OnResult(results[i])
				}
			})
		}
		pool.StopAndWait()

		if end < len(pending) {
			if !e.sleep(ctx, e.pause) {
				// context canceled: mark the rest failed and stop
				for _, i := range pending[end:] {
					results[i] = failure(refs[i], ctx.Err())
				}
				break
			}
		}
	}

	for _, d := range dups {
		i, first := d[0], d[1]
		res := results[first]
		res.URL = refs[i].URL
		res.Ref = refs[i]
		if res.OK {
			res.Deduped = true
		}
		results[i] = res
		if e.OnResult != nil {
			e.OnResult(results[i])
		}
	}

	return results
}

// fetchOne drives a single reference through Pending → Fetching →
// Succeeded/Failed. The dedup short-circuit resolves the reference without
// any network call when the destination filename is already materialized.
func (e *Engine) fetchOne(ctx context.Context, category string, ref AssetReference) DownloadResult {
	if existing, ok := e.index.Path(ref.Filename); ok {
		rel := existing
		if r, err := filepath.Rel(e.assetsRoot, existing); err == nil && !strings.HasPrefix(r, "..") {
			rel = r
		}
		logger.DebugCtx(ctx, "asset already materialized",
			zap.String("filename", ref.Filename),
			zap.String("path", existing),
		)
		return DownloadResult{
			URL:      ref.URL,
			Filename: ref.Filename,
			RelPath:  rel,
			Deduped:  true,
			OK:       true,
			Ref:      ref,
		}
	}

	dctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.httpClient.GetResponse(dctx, ref.URL)
	if err != nil {
		return failure(ref, fmt.Errorf("download failed: %w", err))
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warn("failed to close response body", zap.Error(err), zap.String("url", ref.URL))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return failure(ref, fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	destDir := filepath.Join(e.assetsRoot, category)
	if err := e.fs.MkdirAll(destDir, 0o755); err != nil {
		return failure(ref, fmt.Errorf("failed to create asset directory: %w", err))
	}

	dest := filepath.Join(destDir, ref.Filename)
	tmp := dest + ".part"

	size, err := e.materialize(tmp, resp.Body)
	if err != nil {
		if rmErr := e.fs.Remove(tmp); rmErr != nil {
			logger.Warn("failed to remove partial download", zap.String("path", tmp), zap.Error(rmErr))
		}
		return failure(ref, err)
	}

	if err := e.fs.Rename(tmp, dest); err != nil {
		if rmErr := e.fs.Remove(tmp); rmErr != nil {
			logger.Warn("failed to remove partial download", zap.String("path", tmp), zap.Error(rmErr))
		}
		return failure(ref, fmt.Errorf("failed to finalize download: %w", err))
	}

	logger.InfoCtx(ctx, "asset downloaded",
		zap.String("url", ref.URL),
		zap.String("filename", ref.Filename),
		zap.Int64("bytes", size),
	)

	return DownloadResult{
		URL:      ref.URL,
		Filename: ref.Filename,
		RelPath:  filepath.Join(category, ref.Filename),
		Size:     size,
		MimeType: e.sniffMimeType(dest),
		OK:       true,
		Ref:      ref,
	}
}

// materialize streams the response body into a temp file and returns the
// byte count. The caller removes the temp file on error.
func (e *Engine) materialize(tmp string, body io.Reader) (int64, error) {
	f, err := e.fs.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	written, err := io.Copy(f, body)
	if cerr := f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write file: %w", err)
	}

	return written, nil
}

func (e *Engine) sniffMimeType(path string) string {
	f, err := e.fs.Open(path)
	if err != nil {
		return ""
	}
	defer func() {
		_ = f.Close()
	}()

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return ""
	}
	return mtype.String()
}

// sleep sleeps for the given duration but can be interrupted by context cancellation
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-e.clock.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}

func failure(ref AssetReference, err error) DownloadResult {
	msg := "canceled"
	if err != nil {
		msg = err.Error()
	}
	logger.Warn("asset fetch failed",
		zap.String("url", ref.URL),
		zap.String("filename", ref.Filename),
		zap.String("reason", msg),
	)
	return DownloadResult{
		URL:      ref.URL,
		Filename: ref.Filename,
		Error:    msg,
		Ref:      ref,
	}
}
