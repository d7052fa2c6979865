package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/equimed/catalog-importer/internal/adapter"
	"github.com/equimed/catalog-importer/internal/config"
	"github.com/equimed/catalog-importer/internal/domain"
	"github.com/equimed/catalog-importer/internal/importer"
	"github.com/equimed/catalog-importer/internal/logger"
	"github.com/equimed/catalog-importer/internal/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
	source     = flag.String("source", "", "CSV source: file path or http(s) URL")
	category   = flag.String("category", "", "Asset subdirectory and fallback product category")
	onConflict = flag.String("on-conflict", "skip", "Conflict policy: skip, overwrite or merge")
	audit      = flag.Bool("audit", false, "Report byte-identical duplicate assets instead of importing")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadImporterConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "importer",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)

	// Connect to database. TranslateError lets the store map unique
	// violations onto domain errors.
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{TranslateError: true})
	if err != nil {
		logger.FatalCtx(ctx, "Failed to connect to database", zap.Error(err))
	}
	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.FatalCtx(ctx, "Failed to configure connection pool", zap.Error(err))
	}
	if err := store.Migrate(db); err != nil {
		logger.FatalCtx(ctx, "Failed to migrate database", zap.Error(err))
	}

	dataStore := store.NewPGStore(db)
	imp := importer.New(
		dataStore,
		adapter.NewHTTPClient(0),
		adapter.NewFileSystem(),
		adapter.NewClock(),
		cfg.Import,
	)

	if *audit {
		runAudit(ctx, imp)
		return
	}

	if *source == "" {
		fmt.Fprintln(os.Stderr, "usage: importer -source <path-or-url> [-category <name>] [-on-conflict skip|overwrite|merge]")
		os.Exit(2)
	}

	summary, err := imp.Run(ctx, importer.Options{
		Source:     *source,
		Category:   *category,
		OnConflict: domain.ConflictPolicy(*onConflict),
	})
	if err != nil {
		logger.FatalCtx(ctx, "Import failed", zap.Error(err))
	}

	printJSON(summary)

	if summary.Errored > 0 {
		os.Exit(1)
	}
}

func runAudit(ctx context.Context, imp *importer.Importer) {
	groups, err := imp.AuditDuplicates(ctx)
	if err != nil {
		logger.FatalCtx(ctx, "Audit failed", zap.Error(err))
	}
	logger.InfoCtx(ctx, "duplicate audit finished", zap.Int("groups", len(groups)))
	printJSON(groups)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		logger.Error(err)
	}
}
