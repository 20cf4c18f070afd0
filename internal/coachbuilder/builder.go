package coachbuilder

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/baduk-coach/internal/cache"
	"github.com/park285/baduk-coach/internal/coach"
	"github.com/park285/baduk-coach/internal/config"
	"github.com/park285/baduk-coach/internal/httpapi"
	"github.com/park285/baduk-coach/internal/katago"
	"github.com/park285/baduk-coach/internal/msgcat"
	"github.com/park285/baduk-coach/internal/review"
	"github.com/park285/baduk-coach/internal/session"
)

var (
	_ coach.Engine  = (*katago.Engine)(nil)
	_ katago.Cache  = (*cache.AnalysisCache)(nil)
	_ httpapi.Coach = (*coach.Service)(nil)
)

type Deps struct {
	Service  *coach.Service
	Engine   *katago.Engine
	Cache    *cache.AnalysisCache
	Reviews  review.Repository
	Sessions *session.Registry
	Catalog  *msgcat.Catalog

	db *sql.DB
}

// New wires the engine, optional Redis cache, optional Postgres review store
// and the coach service. Nothing is started; call Service.Start.
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Deps{Sessions: session.NewRegistry()}

	var clientOpts []katago.ClientOption
	if strings.TrimSpace(cfg.RedisURL) != "" {
		c, err := cache.Dial(ctx, cfg.RedisURL, cfg.AnalysisCacheTTL)
		if err != nil {
			return nil, fmt.Errorf("init analysis cache: %w", err)
		}
		d.Cache = c
		clientOpts = append(clientOpts, katago.WithCache(c))
	} else {
		logger.Info("REDIS_URL not set; analysis cache disabled")
	}

	engine, err := katago.NewEngine(cfg.Runtime(), logger.Named("katago"), katago.WithClientOptions(clientOpts...))
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("init engine: %w", err)
	}
	d.Engine = engine

	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		repo, db, err := review.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("init review repository: %w", err)
		}
		d.Reviews, d.db = repo, db
	} else {
		logger.Info("DATABASE_URL not set; reviews kept in memory")
		d.Reviews = review.NewMemoryRepository()
	}

	catalog, err := msgcat.New(cfg.VerdictLocale, cfg.VerdictTemplateDir)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("load verdict templates: %w", err)
	}
	d.Catalog = catalog

	d.Service = coach.NewService(engine, d.Sessions, catalog, d.Reviews, logger.Named("coach"))
	return d, nil
}

// Close stops the engine and releases the cache and database.
func (d *Deps) Close() error {
	var errs []error
	if d.Engine != nil {
		if err := d.Engine.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.Cache != nil {
		if err := d.Cache.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.db != nil {
		if err := d.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close deps: %v", errs)
	}
	return nil
}
