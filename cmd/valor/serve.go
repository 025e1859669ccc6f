package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/timothyplummer/talesofvalor/pkg/api"
	"github.com/timothyplummer/talesofvalor/pkg/artifacts"
	"github.com/timothyplummer/talesofvalor/pkg/audit"
	"github.com/timothyplummer/talesofvalor/pkg/auth"
	"github.com/timothyplummer/talesofvalor/pkg/config"
	"github.com/timothyplummer/talesofvalor/pkg/eligibility"
	"github.com/timothyplummer/talesofvalor/pkg/engine"
	"github.com/timothyplummer/talesofvalor/pkg/lock"
	"github.com/timothyplummer/talesofvalor/pkg/observability"
	"github.com/timothyplummer/talesofvalor/pkg/rulebook"
	"github.com/timothyplummer/talesofvalor/pkg/store"
)

const (
	tokenAudience  = "valor"
	idempotencyTTL = 24 * time.Hour
	shutdownGrace  = 10 * time.Second
)

func runServer(ctx context.Context, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "config: %v\n", err)
		return 2
	}
	logger := config.NewLogger(cfg, stderr)
	slog.SetDefault(logger)

	fmt.Fprintf(stdout, "%sTales of Valor starting...%s\n", ColorBold+ColorBlue, ColorReset)
	if err := serve(ctx, cfg, stdout, logger); err != nil {
		logger.Error("server failed", "error", err)
		return 1
	}
	return 0
}

// newAuditLog fans entries out to the store, an in-process hash chain and
// the writer. The store stays first so exports read from it.
func newAuditLog(st audit.Logger, w io.Writer) (audit.Multi, *audit.Chain) {
	chain := audit.NewChain()
	return audit.Multi{st, chain, audit.NewWriterLogger(w)}, chain
}

// verifyChain logs the head of the chain recorded during this run.
func verifyChain(logger *slog.Logger, chain *audit.Chain) {
	if err := chain.Verify(); err != nil {
		logger.Error("audit chain broken", "error", err)
		return
	}
	logger.Info("audit chain verified", "links", len(chain.Links()), "head", chain.Head())
}

// openStore picks SQLite in lite mode and Postgres otherwise.
func openStore(ctx context.Context, cfg *config.Config, opts ...store.Option) (*store.SQL, error) {
	if cfg.LiteMode() {
		return store.OpenSQLite(ctx, cfg.SQLitePath, opts...)
	}
	return store.OpenPostgres(ctx, cfg.DatabaseURL, opts...)
}

//nolint:gocognit
func serve(ctx context.Context, cfg *config.Config, stdout io.Writer, logger *slog.Logger) error {
	rb, err := rulebook.LoadFile(cfg.CatalogPath)
	if err != nil {
		return err
	}
	origins, headers, skills, _ := rb.Catalog.Counts()
	logger.Info("rulebook loaded", "name", rb.Name, "version", rb.Version.String(),
		"origins", origins, "headers", headers, "skills", skills, "rules", rb.Rules.Len())

	// Shared lock and idempotency keys live in Redis when configured.
	var (
		locker lock.Locker = lock.NewLocal()
		idem   api.IdempotencyStore
	)
	if cfg.Redis.Addr != "" {
		client := lock.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer client.Close()
		rl := lock.NewRedis(client, cfg.LockTTL)
		if err := rl.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		locker = rl
		idem = api.NewRedisIdempotencyStore(redis.UniversalClient(client), idempotencyTTL)
		logger.Info("redis connected", "addr", cfg.Redis.Addr)
	} else {
		idem = api.NewMemoryIdempotencyStore(idempotencyTTL)
	}

	st, err := openStore(ctx, cfg, store.WithLocker(locker))
	if err != nil {
		return err
	}
	defer st.Close()
	if cfg.LiteMode() {
		fmt.Fprintf(stdout, "DATABASE_URL not set. Using %sLite Mode%s (SQLite at %s).\n", ColorBold+ColorCyan, ColorReset, cfg.SQLitePath)
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.ServiceVersion = version
	obsCfg.Enabled = cfg.Telemetry.Enabled
	obsCfg.OTLPEndpoint = cfg.Telemetry.Endpoint
	obsCfg.Insecure = cfg.Telemetry.Insecure
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return fmt.Errorf("observability: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		_ = obs.Shutdown(sctx)
	}()

	auditLog, chain := newAuditLog(st, stdout)
	defer verifyChain(logger, chain)

	svc, err := engine.New(st,
		eligibility.New(rb.Catalog, rb.Rules, rb.Expressions),
		engine.WithAudit(auditLog),
		engine.WithObservability(obs),
		engine.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	artStore, err := artifacts.NewStore(ctx, cfg.Artifacts)
	if err != nil {
		return fmt.Errorf("artifacts: %w", err)
	}

	var issuer *auth.TokenIssuer
	if cfg.TokenSecret == "" {
		logger.Warn("VALOR_TOKEN_SECRET not set; authenticated endpoints reject every request")
	} else if issuer, err = auth.NewTokenIssuer([]byte(cfg.TokenSecret), tokenAudience); err != nil {
		return err
	}

	srv := api.NewServer(svc, issuer,
		api.WithExports(st, artStore),
		api.WithRateLimiter(api.NewRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst)),
		api.WithIdempotency(idem),
		api.WithHealthCheck(st.Ping),
		api.WithLogger(logger),
	)

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr())
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	return httpServer.Shutdown(sctx)
}
