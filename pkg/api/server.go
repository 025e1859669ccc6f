package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/timothyplummer/talesofvalor/pkg/artifacts"
	"github.com/timothyplummer/talesofvalor/pkg/audit"
	"github.com/timothyplummer/talesofvalor/pkg/auth"
	"github.com/timothyplummer/talesofvalor/pkg/engine"
)

const maxBody = 1 << 20

// Server routes HTTP requests to the engine.
type Server struct {
	svc       *engine.Service
	issuer    *auth.TokenIssuer
	exporter  *audit.Exporter
	artifacts artifacts.Store
	limiter   *RateLimiter
	idem      IdempotencyStore
	ping      func(context.Context) error
	logger    *slog.Logger
}

type Option func(*Server)

// WithExports enables pack export. q supplies entries and st keeps packs.
func WithExports(q audit.Querier, st artifacts.Store) Option {
	return func(s *Server) {
		s.exporter = audit.NewExporter(q)
		s.artifacts = st
	}
}

func WithRateLimiter(rl *RateLimiter) Option {
	return func(s *Server) { s.limiter = rl }
}

func WithIdempotency(st IdempotencyStore) Option {
	return func(s *Server) { s.idem = st }
}

// WithHealthCheck adds a dependency check to GET /health.
func WithHealthCheck(ping func(context.Context) error) Option {
	return func(s *Server) { s.ping = ping }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

func NewServer(svc *engine.Service, issuer *auth.TokenIssuer, opts ...Option) *Server {
	s := &Server{svc: svc, issuer: issuer, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "api")
	return s
}

// Handler returns the routed handler wrapped in request id, rate limit,
// authentication and idempotency middleware, outermost first.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/catalog/headers", s.handleCatalogHeaders)
	mux.HandleFunc("GET /v1/catalog/headers/{id}/skills", s.handleCatalogSkills)
	mux.HandleFunc("GET /v1/catalog/origins", s.handleCatalogOrigins)

	mux.HandleFunc("POST /v1/players", s.handleCreatePlayer)
	mux.HandleFunc("POST /v1/characters", s.handleCreateCharacter)
	mux.HandleFunc("GET /v1/characters/{id}", s.handleCharacter)
	mux.HandleFunc("POST /v1/characters/{id}/activate", s.handleActivate)
	mux.HandleFunc("POST /v1/characters/{id}/status", s.handleStatus)
	mux.HandleFunc("GET /v1/characters/{id}/options", s.handleOptions)
	mux.HandleFunc("GET /v1/characters/{id}/eligibility", s.handleEligibility)
	mux.HandleFunc("POST /v1/characters/{id}/headers", s.handlePurchaseHeader)
	mux.HandleFunc("POST /v1/characters/{id}/skills", s.handlePurchaseSkill)
	mux.HandleFunc("GET /v1/characters/{id}/grants", s.handleGrants)
	mux.HandleFunc("POST /v1/characters/{id}/grants", s.handleIssueGrant)
	mux.HandleFunc("POST /v1/characters/{id}/grants/{grant}/exercise", s.handleExerciseGrant)
	mux.HandleFunc("POST /v1/characters/{id}/origins", s.handleAssignOrigin)
	mux.HandleFunc("POST /v1/characters/{id}/points/award", s.handleAward)
	mux.HandleFunc("POST /v1/characters/{id}/points/transfer", s.handleTransfer)
	mux.HandleFunc("POST /v1/characters/{id}/overrides", s.handleOverride)
	mux.HandleFunc("GET /v1/characters/{id}/log", s.handleLog)
	mux.HandleFunc("POST /v1/characters/{id}/export", s.handleExport)
	mux.HandleFunc("GET /v1/exports/{digest}", s.handleGetExport)

	var h http.Handler = mux
	if s.idem != nil {
		h = IdempotencyMiddleware(s.idem, s.logger)(h)
	}
	h = auth.Middleware(s.issuer)(h)
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	return auth.RequestIDMiddleware(h)
}
