package application

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/khanhnv2901/vela/internal/analyzer"
	scanapp "github.com/khanhnv2901/vela/internal/application/scan"
	"github.com/khanhnv2901/vela/internal/catalog"
	"github.com/khanhnv2901/vela/internal/domain/pattern"
	"github.com/khanhnv2901/vela/internal/domain/scan"
	"github.com/khanhnv2901/vela/internal/infrastructure/browser"
	"github.com/khanhnv2901/vela/internal/infrastructure/cache"
	"github.com/khanhnv2901/vela/internal/infrastructure/events"
	"github.com/khanhnv2901/vela/internal/infrastructure/kv"
	"github.com/khanhnv2901/vela/internal/infrastructure/metrics"
	jsonstore "github.com/khanhnv2901/vela/internal/infrastructure/persistence/json"
	"github.com/khanhnv2901/vela/internal/infrastructure/persistence/sqlite"
	"github.com/khanhnv2901/vela/internal/infrastructure/ratelimit"
)

// Config selects the collaborators the container wires together
type Config struct {
	DataDir string

	StorageDriver string // sqlite | json
	StoragePath   string // database file or scans directory; derived from DataDir when empty
	CacheDriver   string // memory | sqlite

	CatalogSource string // embedded | file | store
	CatalogFile   string

	BrowserDriver    string // chrome | static
	BrowserRemoteURL string
	BrowserExecPath  string
	BrowserNoSandbox bool
	UserAgent        string

	CaptureTimeout  time.Duration
	RateLimitWindow time.Duration
	RateLimitMax    int
	PublicSuffix    bool
}

// Container holds all application services and repositories
// This is a simple dependency injection container
type Container struct {
	// Repositories
	ScanRepo    scan.Repository
	PatternRepo pattern.Repository

	// Infrastructure
	Store    kv.Store
	Cache    *cache.ResultCache
	Limiter  *ratelimit.FixedWindow
	Catalogs *catalog.Holder
	Events   *events.Broadcaster
	Metrics  *metrics.Metrics
	Capturer browser.Capturer

	// Services
	Orchestrator *scanapp.Orchestrator
	ScanService  *scanapp.Service

	cfg     Config
	db      *sql.DB
	closers []func() error
	logger  *zap.Logger
}

// NewContainer creates a new application service container
func NewContainer(cfg Config, logger *zap.Logger) (*Container, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Container{cfg: withDefaults(cfg), logger: logger}
	if err := c.build(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func withDefaults(cfg Config) Config {
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.StorageDriver == "" {
		cfg.StorageDriver = "sqlite"
	}
	if cfg.CacheDriver == "" {
		cfg.CacheDriver = "memory"
	}
	if cfg.CatalogSource == "" {
		cfg.CatalogSource = "embedded"
	}
	if cfg.BrowserDriver == "" {
		cfg.BrowserDriver = "chrome"
	}
	return cfg
}

func (c *Container) build() error {
	c.Metrics = metrics.New()
	c.Events = events.NewBroadcaster()
	c.Events.OnDrop(c.Metrics.EventDropped)

	if err := c.buildStorage(); err != nil {
		return err
	}
	if err := c.buildKV(); err != nil {
		return err
	}

	c.Cache = cache.New(c.Store)

	var limitOpts []ratelimit.Option
	if c.cfg.RateLimitWindow > 0 {
		limitOpts = append(limitOpts, ratelimit.WithWindow(c.cfg.RateLimitWindow))
	}
	if c.cfg.RateLimitMax > 0 {
		limitOpts = append(limitOpts, ratelimit.WithMax(c.cfg.RateLimitMax))
	}
	c.Limiter = ratelimit.New(c.Store, limitOpts...)

	cat, err := c.LoadCatalog(context.Background())
	if err != nil {
		return err
	}
	c.Catalogs = catalog.NewHolder(cat)

	classifier := analyzer.Classifier{PublicSuffix: c.cfg.PublicSuffix}
	capturer, err := c.buildCapturer(classifier)
	if err != nil {
		return err
	}
	c.Capturer = capturer

	opts := []scanapp.Option{
		scanapp.WithEvents(c.Events),
		scanapp.WithMetrics(c.Metrics),
		scanapp.WithLogger(c.logger.Named("scan")),
	}
	if c.cfg.CaptureTimeout > 0 {
		opts = append(opts, scanapp.WithCaptureTimeout(c.cfg.CaptureTimeout))
	}
	c.Orchestrator = scanapp.NewOrchestrator(c.ScanRepo, c.Cache, c.Capturer, analyzer.New(classifier), c.Catalogs, opts...)
	c.ScanService = scanapp.NewService(c.Orchestrator, c.Limiter, c.Cache, c.Metrics, c.logger.Named("admission"))
	return nil
}

// database opens the shared sqlite database on first use
func (c *Container) database() (*sql.DB, error) {
	if c.db != nil {
		return c.db, nil
	}
	path := c.cfg.StoragePath
	if path == "" || c.cfg.StorageDriver != "sqlite" {
		path = filepath.Join(c.cfg.DataDir, "vela.db")
	}
	db, err := sqlite.Open(path, sqlite.WithMkdirAll())
	if err != nil {
		return nil, err
	}
	c.db = db
	c.closers = append(c.closers, db.Close)
	return db, nil
}

func (c *Container) buildStorage() error {
	switch c.cfg.StorageDriver {
	case "sqlite":
		db, err := c.database()
		if err != nil {
			return fmt.Errorf("failed to open scan database: %w", err)
		}
		c.ScanRepo = sqlite.NewScanRepository(db)
	case "json":
		dir := c.cfg.StoragePath
		if dir == "" {
			dir = filepath.Join(c.cfg.DataDir, "scans")
		}
		repo, err := jsonstore.NewScanRepository(dir)
		if err != nil {
			return fmt.Errorf("failed to create scan repository: %w", err)
		}
		c.ScanRepo = repo
	default:
		return fmt.Errorf("unknown storage driver %q (expected sqlite or json)", c.cfg.StorageDriver)
	}
	return nil
}

func (c *Container) buildKV() error {
	switch c.cfg.CacheDriver {
	case "memory":
		store := kv.NewMemoryStore(time.Minute)
		c.Store = store
		c.closers = append(c.closers, store.Close)
	case "sqlite":
		db, err := c.database()
		if err != nil {
			return fmt.Errorf("failed to open cache database: %w", err)
		}
		c.Store = kv.NewSQLiteStore(db)
	default:
		return fmt.Errorf("unknown cache driver %q (expected memory or sqlite)", c.cfg.CacheDriver)
	}
	return nil
}

func (c *Container) buildCapturer(classifier analyzer.Classifier) (browser.Capturer, error) {
	logger := c.logger.Named("browser")
	switch c.cfg.BrowserDriver {
	case "chrome":
		return browser.NewChromeCapturer(browser.ChromeOptions{
			RemoteURL:  c.cfg.BrowserRemoteURL,
			ExecPath:   c.cfg.BrowserExecPath,
			NoSandbox:  c.cfg.BrowserNoSandbox,
			UserAgent:  c.cfg.UserAgent,
			Timeout:    c.cfg.CaptureTimeout,
			Classifier: classifier,
			Logger:     logger,
		}), nil
	case "static":
		return browser.NewStaticCapturer(browser.StaticOptions{
			UserAgent:  c.cfg.UserAgent,
			Timeout:    c.cfg.CaptureTimeout,
			Classifier: classifier,
			Logger:     logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown browser driver %q (expected chrome or static)", c.cfg.BrowserDriver)
	}
}

// Patterns returns the curated pattern store, opening the database if the
// scan storage did not already.
func (c *Container) Patterns() (pattern.Repository, error) {
	if c.PatternRepo != nil {
		return c.PatternRepo, nil
	}
	db, err := c.database()
	if err != nil {
		return nil, fmt.Errorf("failed to open pattern database: %w", err)
	}
	c.PatternRepo = sqlite.NewPatternRepository(db)
	return c.PatternRepo, nil
}

// LoadCatalog builds a catalog from the configured source
func (c *Container) LoadCatalog(ctx context.Context) (*catalog.Catalog, error) {
	logger := c.logger.Named("catalog")
	switch c.cfg.CatalogSource {
	case "embedded":
		return catalog.Default()
	case "file":
		if c.cfg.CatalogFile == "" {
			return nil, errors.New("catalog.file is required when catalog.source is file")
		}
		entries, err := catalog.LoadFile(c.cfg.CatalogFile, logger)
		if err != nil {
			return nil, err
		}
		return catalog.Build(entries, logger), nil
	case "store":
		repo, err := c.Patterns()
		if err != nil {
			return nil, err
		}
		entries, _, err := repo.List(ctx, pattern.Filter{CatalogOrder: true})
		if err != nil {
			return nil, fmt.Errorf("failed to load patterns: %w", err)
		}
		if len(entries) == 0 {
			logger.Warn("pattern_store_empty", zap.String("fallback", "embedded"))
			return catalog.Default()
		}
		return catalog.Build(entries, logger), nil
	default:
		return nil, fmt.Errorf("unknown catalog source %q (expected embedded, file or store)", c.cfg.CatalogSource)
	}
}

// ReloadCatalog rebuilds the catalog and installs it for scans that start
// afterwards.
func (c *Container) ReloadCatalog(ctx context.Context) (int, error) {
	cat, err := c.LoadCatalog(ctx)
	if err != nil {
		return 0, err
	}
	c.Catalogs.Swap(cat)
	c.logger.Info("catalog_reloaded", zap.String("source", c.cfg.CatalogSource), zap.Int("entries", cat.Len()))
	return cat.Len(), nil
}

// HealthChecks lists the dependency probes exposed on /health
func (c *Container) HealthChecks() map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		"database": c.Orchestrator.Ping,
		"cache":    c.Cache.Ping,
	}
}

// Close releases stores and database handles
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
