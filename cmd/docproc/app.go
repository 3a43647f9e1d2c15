package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/ehr/docproc/internal/config"
	"github.com/ehr/docproc/internal/domain/categorize"
	"github.com/ehr/docproc/internal/domain/documents"
	"github.com/ehr/docproc/internal/domain/identity"
	"github.com/ehr/docproc/internal/domain/processor"
	"github.com/ehr/docproc/internal/domain/runs"
	"github.com/ehr/docproc/internal/domain/templates"
	"github.com/ehr/docproc/internal/platform/db"
	"github.com/ehr/docproc/internal/platform/extend"
	"github.com/ehr/docproc/internal/platform/telemetry"
	"github.com/ehr/docproc/internal/platform/webhook"
)

// app holds the wired services shared by the serve, seed and process commands.
type app struct {
	cfg        *config.Config
	logger     zerolog.Logger
	pool       *pgxpool.Pool
	telemetry  *telemetry.Provider
	identity   *identity.Service
	templates  *templates.Service
	processor  *processor.Service
	deliveries *webhook.InMemoryDeliveryStore
	closers    []func() error
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(level).With().Timestamp().Logger()
	}
	return logger
}

func templateConfig(cfg *config.Config) templates.Config {
	return templates.Config{
		ScoreThreshold:   cfg.ScoreThreshold,
		GapFillThreshold: cfg.GapFillThreshold,
		KeywordBonus:     cfg.KeywordBonus,
		MaxFields:        cfg.MaxFields,
		FallbackScore:    cfg.FallbackScore,
		FallbackLimit:    cfg.FallbackLimit,
	}
}

// newExtendClient returns nil when the extraction API credentials are not
// configured.
func newExtendClient(cfg *config.Config, logger zerolog.Logger) (*extend.Client, error) {
	if !cfg.HasExtendCredentials() {
		return nil, nil
	}
	return extend.NewClient(cfg.ExtendAPIKey, cfg.ExtendProcessorID,
		extend.WithURL(cfg.ExtendAPIURL),
		extend.WithAPIVersion(cfg.ExtendAPIVersion),
		extend.WithMaxRetries(cfg.ExtendMaxRetries),
		extend.WithRetryDelay(cfg.ExtendRetryDelay),
		extend.WithHTTPClient(&http.Client{Timeout: cfg.ExtendTimeout}),
		extend.WithLogger(logger),
	)
}

func openLedger(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) (runs.Repository, func() error, error) {
	switch cfg.LedgerDriver {
	case config.LedgerMemory:
		return runs.NewMemoryRepository(), func() error { return nil }, nil
	case config.LedgerSQLite:
		repo, err := runs.OpenSQLite(ctx, cfg.LedgerDSN)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	default:
		repo := runs.NewSQLRepository(db.OpenSQL(pool), runs.DialectPostgres)
		return repo, repo.Close, nil
	}
}

func newApp(ctx context.Context) (*app, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(cfg)

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, pool: pool}
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	a.telemetry = telemetry.NewProvider(telemetry.Config{
		ServiceName:    "docproc",
		ServiceVersion: version,
		Environment:    cfg.Env,
	})
	res := a.telemetry.Resource()
	logger.Info().
		Str("service", res["service.name"]).
		Str("version", res["service.version"]).
		Str("environment", res["deployment.environment"]).
		Msg("telemetry initialized")

	client, err := newExtendClient(cfg, logger)
	if err != nil {
		return err
	}
	var (
		categorizer processor.Categorizer
		extractor   templates.Extractor
	)
	if client != nil {
		categorizer = categorize.NewCategorizer(client, logger)
		extractor = client
	} else {
		logger.Warn().Msg("EXTEND_AI_API_KEY or EXTEND_AI_PROCESSOR_ID not set; documents will not be processed")
	}

	patients := identity.NewPatientRepo(a.pool)
	staff := identity.NewStaffRepo(a.pool)
	matcher := identity.NewMatcher(patients, staff, identity.MatcherConfig{
		FallbackFirstName: cfg.FallbackReviewerFirstName,
		FallbackLastName:  cfg.FallbackReviewerLastName,
	}, logger)
	a.identity = identity.NewService(patients, staff, matcher)
	a.templates = templates.NewService(templates.NewRepo(a.pool), extractor, templateConfig(cfg), logger)

	ledger, closeLedger, err := openLedger(ctx, cfg, a.pool)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, closeLedger)

	opts := []processor.Option{processor.WithRecorder(a.telemetry)}
	if cfg.DocumentTypesFile != "" {
		types, err := documents.LoadTypes(cfg.DocumentTypesFile)
		if err != nil {
			return err
		}
		opts = append(opts, processor.WithDefaultTypes(types))
	}
	a.deliveries = webhook.NewInMemoryDeliveryStore(0)
	if cfg.CallbackURL != "" {
		dispatcher, err := webhook.NewDispatcher(cfg.CallbackURL, cfg.CallbackSecret, a.deliveries, webhook.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("effects callback: %w", err)
		}
		opts = append(opts, processor.WithNotifier(dispatcher))
	}

	a.processor = processor.NewService(categorizer, a.identity, a.templates, ledger, logger, opts...)
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn().Err(err).Msg("close failed")
		}
	}
}
