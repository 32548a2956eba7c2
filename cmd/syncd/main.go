// Command syncd runs the identifier resolution daemon: it owns the
// resolution cache, the mapping-store client, the local SQLite baseline
// store, the scheduled reconciliation job, and the admin HTTP API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/kamdental/dental-sync/internal/backend"
	"github.com/kamdental/dental-sync/internal/cache"
	"github.com/kamdental/dental-sync/internal/config"
	"github.com/kamdental/dental-sync/internal/detect"
	"github.com/kamdental/dental-sync/internal/diag"
	"github.com/kamdental/dental-sync/internal/domain"
	httpapi "github.com/kamdental/dental-sync/internal/http"
	"github.com/kamdental/dental-sync/internal/mapping"
	"github.com/kamdental/dental-sync/internal/observability"
	"github.com/kamdental/dental-sync/internal/reconcile"
	"github.com/kamdental/dental-sync/internal/repo"
	"github.com/kamdental/dental-sync/internal/resolver"
	"github.com/kamdental/dental-sync/internal/sysutil"
)

var version = "0.1.0"

// propsStore adapts the repository free functions to the properties
// interfaces consumed by the resolver and the reconciliation job.
type propsStore struct{ db *gorm.DB }

func (s propsStore) Properties(ctx context.Context, system string) (*domain.AgentProperties, error) {
	return repo.GetProperties(ctx, s.db, system)
}

func (s propsStore) Save(ctx context.Context, p *domain.AgentProperties) error {
	return repo.SaveProperties(ctx, s.db, p)
}

func (s propsStore) Backup(ctx context.Context, from *domain.AgentProperties, takenAt time.Time) error {
	return repo.AddBackup(ctx, s.db, from, takenAt)
}

// parseTargets turns the RECONCILE_SYSTEMS entries into job targets. Each
// entry is "system" or "system:entityCode"; without a code the system must
// be resolvable from its persisted baseline title or explicit codes.
func parseTargets(systems []string) []reconcile.SystemTarget {
	targets := make([]reconcile.SystemTarget, 0, len(systems))
	for _, s := range systems {
		name, code, _ := strings.Cut(s, ":")
		targets = append(targets, reconcile.SystemTarget{System: name, EntityCode: code})
	}
	return targets
}

// shapesFor declares the entity requirements per sync-agent family. The
// canonical families are always present; configured systems default to the
// provider shape unless their name marks them location- or clinic-scoped.
func shapesFor(systems []string) map[string]resolver.Shape {
	shapes := map[string]resolver.Shape{
		"hygienist_sync": {Provider: true},
		"provider_sync":  {Provider: true},
		"location_sync":  {Location: true},
		"clinic_sync":    {},
	}
	for _, s := range systems {
		name, _, _ := strings.Cut(s, ":")
		if _, ok := shapes[name]; ok {
			continue
		}
		switch {
		case strings.Contains(name, "location"):
			shapes[name] = resolver.Shape{Location: true}
		case strings.Contains(name, "clinic"):
			shapes[name] = resolver.Shape{}
		default:
			shapes[name] = resolver.Shape{Provider: true}
		}
	}
	return shapes
}

func main() {
	// Optional .env for local development; real deployments use the
	// environment directly.
	_ = godotenv.Load()

	cfg := config.MustLoad()

	sysutil.SetLogLevel(cfg.LogLevel)
	if cfg.LogPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(c); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.OpenSQLite(cfg.DBPath, cfg.OTEL.Enabled)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DBPath).Msg("open local store")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate local store")
	}

	rec := diag.NewRecorder(cfg.DiagRingSize)
	rec.SetSink(&repo.DiagSink{DB: db})

	registry := detect.Default()
	if cfg.RegistryPath != "" {
		registry, err = detect.LoadRegistry(cfg.RegistryPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.RegistryPath).Msg("load entity registry")
		}
	}
	log.Info().Int("entries", registry.Len()).Msg("entity registry loaded")

	backendClient := backend.New(cfg.Backend, rec)
	store := mapping.NewClient(backendClient)
	props := propsStore{db: db}
	resCache := cache.New(cfg.Cache.PositiveTTL, cfg.Cache.NegativeTTL)

	res := resolver.New(
		shapesFor(cfg.ReconcileSystems),
		registry,
		resCache,
		store,
		props,
		rec,
		cfg.Backend.BaseURL,
		cfg.Backend.APIKey,
	)

	job := reconcile.NewJob(res, props, rec)
	targets := parseTargets(cfg.ReconcileSystems)
	if len(targets) > 0 {
		go job.Start(ctx, cfg.ReconcileInterval, targets)
	} else {
		log.Info().Msg("no reconciliation targets configured; scheduled job disabled")
	}

	gin.SetMode(cfg.GinMode)
	engine := gin.New()
	httpapi.RegisterRoutes(engine, httpapi.Deps{
		Resolver: res,
		Cache:    resCache,
		Diag:     rec,
		Job:      job,
		Targets:  targets,
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           engine,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", version).
			Str("backend_key_class", sysutil.LengthClass(cfg.Backend.APIKey)).
			Msg("admin server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("admin server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("admin server shutdown")
	}
}
