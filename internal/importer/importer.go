// Package importer drives the four-stage import pipeline: parse the CSV
// source, index already-materialized assets, fetch what is missing, and
// upsert catalog records. Individual row and asset failures are logged and
// skipped; only an unreadable source or an unavailable store aborts a run.
package importer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/equimed/catalog-importer/internal/adapter"
	"github.com/equimed/catalog-importer/internal/assetindex"
	"github.com/equimed/catalog-importer/internal/config"
	"github.com/equimed/catalog-importer/internal/csv"
	"github.com/equimed/catalog-importer/internal/domain"
	"github.com/equimed/catalog-importer/internal/fetcher"
	"github.com/equimed/catalog-importer/internal/logger"
	"github.com/equimed/catalog-importer/internal/progress"
	"github.com/equimed/catalog-importer/internal/store"
	"github.com/equimed/catalog-importer/internal/store/schema"
)

// Resolution values recorded per processed row
const (
	ResolutionImported      = "imported"
	ResolutionAlreadyExists = "already_exists"
	ResolutionOverwritten   = "overwritten"
	ResolutionMerged        = "merged"
	ResolutionError         = "error"
)

// Progress receives live updates while a run executes. *jobs.Reporter
// satisfies it.
type Progress interface {
	Step(ctx context.Context, name string)
	SetTotal(ctx context.Context, n int)
	ItemDone(ctx context.Context)
	AssetResolved(ctx context.Context, ap progress.AssetProgress)
	AddError(ctx context.Context, msg string)
}

// NopProgress discards all updates. Used by synchronous CLI runs.
type NopProgress struct{}

func (NopProgress) Step(context.Context, string)                          {}
func (NopProgress) SetTotal(context.Context, int)                         {}
func (NopProgress) ItemDone(context.Context)                              {}
func (NopProgress) AssetResolved(context.Context, progress.AssetProgress) {}
func (NopProgress) AddError(context.Context, string)                      {}

// Options configures one import run
type Options struct {
	// Source is a CSV file path or an http(s) URL
	Source string
	// Reader, when set, supplies the CSV directly (multipart uploads) and
	// Source is kept only as a label
	Reader io.Reader
	// Category is the asset subdirectory for this run and the fallback
	// product category when a row carries none
	Category string
	// OnConflict selects what happens when a row's reference already
	// exists. Defaults to skip.
	OnConflict domain.ConflictPolicy
	// Progress receives live updates; nil means none
	Progress Progress
	// SkipReport disables the JSON report artifact
	SkipReport bool
}

// RowIssue is a malformed row excluded from the run
type RowIssue struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// ItemResult is the per-row breakdown kept in the summary report
type ItemResult struct {
	Line              int                      `json:"line"`
	ExternalReference string                   `json:"external_reference"`
	Slug              string                   `json:"slug,omitempty"`
	Resolution        string                   `json:"resolution"`
	Error             string                   `json:"error,omitempty"`
	Assets            []fetcher.DownloadResult `json:"assets,omitempty"`
}

// Summary is the outcome of one import run, written as the JSON report
type Summary struct {
	ReportID   string                `json:"report_id"`
	Source     string                `json:"source"`
	Category   string                `json:"category"`
	Policy     domain.ConflictPolicy `json:"policy"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt time.Time             `json:"finished_at"`

	Processed        int   `json:"processed"`
	Imported         int   `json:"imported"`
	AlreadyExists    int   `json:"already_exists"`
	Overwritten      int   `json:"overwritten"`
	Merged           int   `json:"merged"`
	Errored          int   `json:"errored"`
	Downloaded       int   `json:"downloaded"`
	Deduped          int   `json:"deduped"`
	AssetFailures    int   `json:"asset_failures"`
	BytesTransferred int64 `json:"bytes_transferred"`

	RowErrors []RowIssue   `json:"row_errors,omitempty"`
	Items     []ItemResult `json:"items"`

	// ReportPath is where the report was written, "" when skipped
	ReportPath string `json:"-"`
}

// Importer wires the pipeline stages over injected collaborators
type Importer struct {
	store      store.Store
	httpClient adapter.HTTPClient
	fs         adapter.FileSystem
	clock      adapter.Clock
	cfg        config.ImportConfig
}

// New creates an importer
func New(st store.Store, httpClient adapter.HTTPClient, fsys adapter.FileSystem, clock adapter.Clock, cfg config.ImportConfig) *Importer {
	return &Importer{
		store:      st,
		httpClient: httpClient,
		fs:         fsys,
		clock:      clock,
		cfg:        cfg,
	}
}

// item carries one surviving CSV row through classification and upsert
type item struct {
	line         int
	ref          string
	name         string
	product      *schema.Product
	translations []schema.ProductTranslation
	existing     *schema.Product
	resolution   string
	err          string

	// refStart/refEnd slice this item's asset references out of the
	// run-wide fetch list
	refStart, refEnd int
}

// Run executes the full pipeline. Re-running the same CSV against an
// already-imported store produces zero new records; every previously
// imported row counts as already_exists.
func (im *Importer) Run(ctx context.Context, opts Options) (*Summary, error) {
	rep := opts.Progress
	if rep == nil {
		rep = NopProgress{}
	}
	if opts.OnConflict == "" {
		opts.OnConflict = domain.ConflictSkip
	}
	if !opts.OnConflict.Valid() {
		return nil, fmt.Errorf("unknown conflict policy: %q", opts.OnConflict)
	}

	category := strings.TrimSpace(opts.Category)
	if category == "" {
		category = "uncategorized"
	}

	summary := &Summary{
		ReportID:  uuid.NewString(),
		Source:    opts.Source,
		Category:  category,
		Policy:    opts.OnConflict,
		StartedAt: im.clock.Now(),
	}

	rep.Step(ctx, "parsing")
	table, rowErrs, err := im.parseSource(ctx, opts)
	if err != nil {
		return nil, err
	}
	for _, re := range rowErrs {
		summary.RowErrors = append(summary.RowErrors, RowIssue{Line: re.Line, Reason: re.Reason})
		rep.AddError(ctx, re.String())
	}

	rep.Step(ctx, "indexing")
	idx, err := im.buildIndex(ctx)
	if err != nil {
		return nil, err
	}
	logger.InfoCtx(ctx, "asset index built", zap.Int("files", idx.Len()))

	items, refs := im.collectItems(ctx, table, summary, rep)
	rep.SetTotal(ctx, len(items))

	rep.Step(ctx, "downloading")
	results := im.fetchAssets(ctx, idx, category, refs, summary, rep)

	rep.Step(ctx, "upserting")
	for i := range items {
		im.upsertItem(ctx, &items[i], results, summary)
		rep.ItemDone(ctx)
	}

	summary.FinishedAt = im.clock.Now()

	if !opts.SkipReport {
		im.writeReport(ctx, summary)
	}

	logger.InfoCtx(ctx, "import run finished",
		zap.Int("processed", summary.Processed),
		zap.Int("imported", summary.Imported),
		zap.Int("already_exists", summary.AlreadyExists),
		zap.Int("errored", summary.Errored),
		zap.Int("downloaded", summary.Downloaded),
		zap.Int64("bytes", summary.BytesTransferred),
	)

	return summary, nil
}

// parseSource resolves the CSV input and parses it. Any failure here is
// catastrophic for the run.
func (im *Importer) parseSource(ctx context.Context, opts Options) (*csv.Table, []csv.RowError, error) {
	var r io.Reader
	switch {
	case opts.Reader != nil:
		r = opts.Reader
	case strings.HasPrefix(opts.Source, "http://"), strings.HasPrefix(opts.Source, "https://"):
		body, err := im.httpClient.GetBody(ctx, opts.Source)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to fetch csv source: %w", err)
		}
		r = bytes.NewReader(body)
	case opts.Source != "":
		f, err := im.fs.Open(opts.Source)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open csv source: %w", err)
		}
		defer func() {
			_ = f.Close()
		}()
		r = f
	default:
		return nil, nil, errors.New("no csv source given")
	}

	table, rowErrs, err := csv.Parse(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	if !table.HasColumn("reference") {
		return nil, nil, errors.New(`csv is missing the "reference" column`)
	}
	return table, rowErrs, nil
}

func (im *Importer) buildIndex(ctx context.Context) (*assetindex.Index, error) {
	roots := im.cfg.IndexRoots
	if len(roots) == 0 {
		roots = []string{im.cfg.AssetsRoot}
	}
	idx, err := assetindex.Build(ctx, im.fs, roots)
	if err != nil {
		return nil, fmt.Errorf("failed to build asset index: %w", err)
	}
	return idx, nil
}

// collectItems turns surviving rows into items, classifies each against the
// store, and gathers the asset references that need fetching. Rows without a
// reference and rows whose lookup fails are excluded fail-soft.
func (im *Importer) collectItems(ctx context.Context, table *csv.Table, summary *Summary, rep Progress) ([]item, []fetcher.AssetReference) {
	var (
		items []item
		refs  []fetcher.AssetReference
	)

	for _, row := range table.Rows {
		ref := strings.TrimSpace(row.Get("reference"))
		if ref == "" {
			issue := RowIssue{Line: row.Line, Reason: "missing reference"}
			summary.RowErrors = append(summary.RowErrors, issue)
			rep.AddError(ctx, fmt.Sprintf("line %d: %s", issue.Line, issue.Reason))
			continue
		}

		it := item{line: row.Line, ref: ref}
		it.translations = rowTranslations(row)
		it.name = displayName(it.translations, ref)
		it.product = im.rowProduct(ctx, row, ref)

		existing, err := im.store.GetProductByReference(ctx, ref)
		switch {
		case err == nil:
			it.existing = existing
			if summary.Policy == domain.ConflictSkip {
				it.resolution = ResolutionAlreadyExists
			}
		case errors.Is(err, domain.ErrProductNotFound):
			// new record
		default:
			it.resolution = ResolutionError
			it.err = fmt.Sprintf("lookup failed: %v", err)
			logger.WarnCtx(ctx, "row lookup failed", zap.Int("line", row.Line), zap.String("reference", ref), zap.Error(err))
		}

		if it.resolution == "" {
			it.refStart = len(refs)
			if wantsAssets(row) {
				refs = append(refs, rowAssetRefs(row, ref)...)
			}
			it.refEnd = len(refs)
		}

		items = append(items, it)
	}

	return items, refs
}

// fetchAssets runs the fetch engine over all pending references and folds
// per-asset accounting into the summary
func (im *Importer) fetchAssets(ctx context.Context, idx *assetindex.Index, category string, refs []fetcher.AssetReference, summary *Summary, rep Progress) []fetcher.DownloadResult {
	if len(refs) == 0 {
		return nil
	}

	engine := fetcher.NewEngine(im.httpClient, im.fs, im.clock, idx, fetcher.Config{
		AssetsRoot: im.cfg.AssetsRoot,
		BatchSize:  im.cfg.DownloadBatchSize,
		Pause:      im.cfg.BatchPause,
		Timeout:    im.cfg.DownloadTimeout,
	})
	engine.OnResult = func(res fetcher.DownloadResult) {
		rep.AssetResolved(ctx, progress.AssetProgress{
			URL:      res.URL,
			Filename: res.Filename,
			Deduped:  res.Deduped,
			OK:       res.OK,
			Error:    res.Error,
		})
	}

	results := engine.FetchAll(ctx, category, refs)

	for _, res := range results {
		switch {
		case res.OK && res.Deduped:
			summary.Deduped++
		case res.OK:
			summary.Downloaded++
			summary.BytesTransferred += res.Size
		default:
			summary.AssetFailures++
			rep.AddError(ctx, fmt.Sprintf("asset %s: %s", res.URL, res.Error))
		}
	}

	return results
}

// upsertItem writes one row's outcome to the store per the run's conflict
// policy
func (im *Importer) upsertItem(ctx context.Context, it *item, results []fetcher.DownloadResult, summary *Summary) {
	summary.Processed++

	res := ItemResult{Line: it.line, ExternalReference: it.ref}
	if it.refEnd > it.refStart {
		res.Assets = results[it.refStart:it.refEnd]
	}

	defer func() {
		summary.Items = append(summary.Items, res)
	}()

	switch it.resolution {
	case ResolutionError:
		res.Resolution = ResolutionError
		res.Error = it.err
		summary.Errored++
		return
	case ResolutionAlreadyExists:
		res.Resolution = ResolutionAlreadyExists
		summary.AlreadyExists++
		logger.DebugCtx(ctx, "row skipped, reference exists", zap.Int("line", it.line), zap.String("reference", it.ref))
		return
	}

	media := buildMedia(res.Assets)

	if it.existing == nil {
		slug, err := im.uniqueSlug(ctx, it.name, it.ref)
		if err != nil {
			res.Resolution = ResolutionError
			res.Error = fmt.Sprintf("slug generation failed: %v", err)
			summary.Errored++
			return
		}

		it.product.Slug = slug
		it.product.Translations = it.translations
		it.product.Media = media

		err = im.store.CreateProductWithChildren(ctx, it.product)
		switch {
		case errors.Is(err, domain.ErrDuplicateReference):
			// a concurrent run won the race; the constraint is the arbiter
			res.Resolution = ResolutionAlreadyExists
			summary.AlreadyExists++
		case err != nil:
			res.Resolution = ResolutionError
			res.Error = err.Error()
			summary.Errored++
			logger.WarnCtx(ctx, "row import failed", zap.Int("line", it.line), zap.String("reference", it.ref), zap.Error(err))
		default:
			res.Resolution = ResolutionImported
			res.Slug = slug
			summary.Imported++
		}
		return
	}

	var err error
	switch summary.Policy {
	case domain.ConflictOverwrite:
		err = im.store.ReplaceProductChildren(ctx, it.existing.ID, it.translations, media)
		res.Resolution = ResolutionOverwritten
	case domain.ConflictMerge:
		err = im.store.MergeProductChildren(ctx, it.existing.ID, it.translations, media)
		res.Resolution = ResolutionMerged
	}
	if err != nil {
		res.Resolution = ResolutionError
		res.Error = err.Error()
		summary.Errored++
		logger.WarnCtx(ctx, "row update failed", zap.Int("line", it.line), zap.String("reference", it.ref), zap.Error(err))
		return
	}

	res.Slug = it.existing.Slug
	switch res.Resolution {
	case ResolutionOverwritten:
		summary.Overwritten++
	case ResolutionMerged:
		summary.Merged++
	}
}

// uniqueSlug probes the store until the candidate slug is free, appending an
// incrementing numeric suffix on collision
func (im *Importer) uniqueSlug(ctx context.Context, name, ref string) (string, error) {
	base := domain.Slugify(name, ref)
	slug := base
	for n := 2; ; n++ {
		exists, err := im.store.ProductSlugExists(ctx, slug)
		if err != nil {
			return "", err
		}
		if !exists {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, n)
	}
}

// writeReport persists the JSON summary artifact. Report failures never fail
// the run.
func (im *Importer) writeReport(ctx context.Context, summary *Summary) {
	dir := im.cfg.ReportDir
	if dir == "" {
		dir = "reports"
	}
	if err := im.fs.MkdirAll(dir, 0o755); err != nil {
		logger.WarnCtx(ctx, "failed to create report directory", zap.String("dir", dir), zap.Error(err))
		return
	}

	path := fmt.Sprintf("%s/import-%s.json", dir, summary.ReportID)
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		logger.WarnCtx(ctx, "failed to marshal report", zap.Error(err))
		return
	}

	f, err := im.fs.Create(path)
	if err != nil {
		logger.WarnCtx(ctx, "failed to create report file", zap.String("path", path), zap.Error(err))
		return
	}
	_, werr := f.Write(data)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		logger.WarnCtx(ctx, "failed to write report file", zap.String("path", path), zap.Error(werr))
		return
	}

	summary.ReportPath = path
	logger.InfoCtx(ctx, "report written", zap.String("path", path))
}

// rowProduct builds the record fields a row carries directly
func (im *Importer) rowProduct(ctx context.Context, row csv.Row, ref string) *schema.Product {
	p := &schema.Product{
		ExternalReference: ref,
		Manufacturer:      row.Get("manufacturer"),
		Category:          row.Get("category"),
		Status:            domain.ParseProductStatus(row.Get("status")),
		Featured:          domain.ParseBool(row.Get("featured")),
	}

	if raw := strings.TrimSpace(row.Get("attributes")); raw != "" {
		if json.Valid([]byte(raw)) {
			p.Attributes = datatypes.JSON(raw)
		} else {
			logger.WarnCtx(ctx, "ignoring malformed attributes json",
				zap.Int("line", row.Line),
				zap.String("reference", ref),
			)
		}
	}

	return p
}

// rowTranslations extracts the per-language text columns
func rowTranslations(row csv.Row) []schema.ProductTranslation {
	var out []schema.ProductTranslation
	for _, lang := range domain.Languages {
		name := strings.TrimSpace(row.Get("name_" + lang))
		desc := strings.TrimSpace(row.Get("description_" + lang))
		sheet := strings.TrimSpace(row.Get("technical_sheet_" + lang))
		if name == "" && desc == "" && sheet == "" {
			continue
		}
		out = append(out, schema.ProductTranslation{
			Language:       lang,
			Name:           name,
			Description:    desc,
			TechnicalSheet: sheet,
		})
	}
	return out
}

// displayName picks the slug base: the first non-empty translated name, the
// reference itself as a last resort
func displayName(translations []schema.ProductTranslation, ref string) string {
	for _, tr := range translations {
		if tr.Name != "" {
			return tr.Name
		}
	}
	return ref
}

// wantsAssets reads the row's download_files flag. A missing column means
// fetch; an explicit non-truthy value opts the row out of asset fetching.
func wantsAssets(row csv.Row) bool {
	if !row.Has("download_files") {
		return true
	}
	return domain.ParseBool(row.Get("download_files"))
}

// rowAssetRefs gathers the row's remote asset references: one primary image,
// then numbered gallery images and brochures
func rowAssetRefs(row csv.Row, ref string) []fetcher.AssetReference {
	var refs []fetcher.AssetReference

	if u := strings.TrimSpace(row.Get("image_url")); u != "" {
		refs = append(refs, fetcher.NewAssetReference(row.Line, ref, u, domain.AssetKindImage, domain.AssetRolePrimary, 0))
	}
	for i := 1; row.Has(fmt.Sprintf("gallery_url_%d", i)); i++ {
		if u := strings.TrimSpace(row.Get(fmt.Sprintf("gallery_url_%d", i))); u != "" {
			refs = append(refs, fetcher.NewAssetReference(row.Line, ref, u, domain.AssetKindImage, domain.AssetRoleGallery, i))
		}
	}
	for i := 1; row.Has(fmt.Sprintf("brochure_url_%d", i)); i++ {
		if u := strings.TrimSpace(row.Get(fmt.Sprintf("brochure_url_%d", i))); u != "" {
			refs = append(refs, fetcher.NewAssetReference(row.Line, ref, u, domain.AssetKindDocument, domain.AssetRoleBrochure, i))
		}
	}

	return refs
}

// buildMedia converts successful download results into media rows. Failed
// assets simply produce no row.
func buildMedia(results []fetcher.DownloadResult) []schema.ProductMedia {
	var media []schema.ProductMedia
	for _, res := range results {
		if !res.OK || res.RelPath == "" {
			continue
		}
		m := schema.ProductMedia{
			Kind:      res.Ref.Kind,
			Role:      res.Ref.Role,
			Path:      res.RelPath,
			IsPrimary: res.Ref.Role == domain.AssetRolePrimary,
			SortOrder: res.Ref.Position,
		}
		if res.MimeType != "" {
			mt := res.MimeType
			m.MimeType = &mt
		}
		if res.Size > 0 {
			sz := res.Size
			m.FileSizeBytes = &sz
		}
		media = append(media, m)
	}
	return media
}

// DuplicateGroup is a set of byte-identical files stored under different
// names
type DuplicateGroup struct {
	Hash  string                `json:"hash"`
	Files []assetindex.FileMeta `json:"files"`
}

// AuditDuplicates reports groups of byte-identical files found in the
// existing-asset index, ordered by hash for stable output
func (im *Importer) AuditDuplicates(ctx context.Context) ([]DuplicateGroup, error) {
	idx, err := im.buildIndex(ctx)
	if err != nil {
		return nil, err
	}

	groups := idx.DuplicateGroups()
	out := make([]DuplicateGroup, 0, len(groups))
	for hash, files := range groups {
		out = append(out, DuplicateGroup{Hash: hash, Files: files})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out, nil
}
