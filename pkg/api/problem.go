// Package api serves the character engine over HTTP. Errors are RFC 7807
// problem documents.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/timothyplummer/talesofvalor/pkg/auth"
	"github.com/timothyplummer/talesofvalor/pkg/engine"
	"github.com/timothyplummer/talesofvalor/pkg/grants"
	"github.com/timothyplummer/talesofvalor/pkg/ledger"
	"github.com/timothyplummer/talesofvalor/pkg/rules"
	"github.com/timothyplummer/talesofvalor/pkg/store"
)

const problemBase = "https://talesofvalor.dev/errors/"

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance,omitempty"`
	RequestID string `json:"request_id,omitempty"`

	// Set on denied purchases.
	Unmet     []rules.Unmet `json:"unmet,omitempty"`
	Cost      *int          `json:"cost,omitempty"`
	Remaining *int          `json:"remaining,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func newProblem(r *http.Request, status int, slug, detail string) *ProblemDetail {
	return &ProblemDetail{
		Type:      problemBase + slug,
		Title:     http.StatusText(status),
		Status:    status,
		Detail:    detail,
		Instance:  r.URL.Path,
		RequestID: auth.GetRequestID(r.Context()),
	}
}

func writeProblem(w http.ResponseWriter, p *ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// WriteError writes a problem with the given status.
func WriteError(w http.ResponseWriter, r *http.Request, status int, detail string) {
	writeProblem(w, newProblem(r, status, strconv.Itoa(status), detail))
}

func WriteBadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, newProblem(r, http.StatusBadRequest, "bad-request", detail))
}

func WriteNotFound(w http.ResponseWriter, r *http.Request, detail string) {
	writeProblem(w, newProblem(r, http.StatusNotFound, "not-found", detail))
}

func WriteForbidden(w http.ResponseWriter, r *http.Request, detail string) {
	if detail == "" {
		detail = "Insufficient permissions"
	}
	writeProblem(w, newProblem(r, http.StatusForbidden, "forbidden", detail))
}

// WriteTooManyRequests writes a 429 with a Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, r *http.Request, retryAfterSecs int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSecs))
	writeProblem(w, newProblem(r, http.StatusTooManyRequests, "rate-limited",
		"Rate limit exceeded. Retry after the specified interval."))
}

// WriteInternal writes a 500. err is logged but never sent to the client.
func WriteInternal(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	logger.ErrorContext(r.Context(), "internal server error",
		"path", r.URL.Path,
		"request_id", auth.GetRequestID(r.Context()),
		"error", err,
	)
	writeProblem(w, newProblem(r, http.StatusInternalServerError, "internal",
		"An unexpected error occurred. Please try again later."))
}

// WriteEngineError maps an engine failure onto a problem response.
func WriteEngineError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var denied *engine.DeniedError
	if errors.As(err, &denied) {
		slug := "prerequisites-not-met"
		if errors.Is(err, engine.ErrInsufficientPoints) {
			slug = "insufficient-points"
		}
		p := newProblem(r, http.StatusUnprocessableEntity, slug, err.Error())
		p.Unmet = denied.Decision.Unmet
		p.Cost = &denied.Decision.Cost
		p.Remaining = &denied.Decision.Remaining
		writeProblem(w, p)
		return
	}

	for _, m := range errorMap {
		if errors.Is(err, m.err) {
			writeProblem(w, newProblem(r, m.status, m.slug, err.Error()))
			return
		}
	}
	WriteInternal(w, r, logger, err)
}

// errorMap is checked in order; the first match wins.
var errorMap = []struct {
	err    error
	status int
	slug   string
}{
	{engine.ErrPrerequisiteNotMet, http.StatusUnprocessableEntity, "prerequisites-not-met"},
	{engine.ErrInsufficientPoints, http.StatusUnprocessableEntity, "insufficient-points"},
	{engine.ErrGrantExhausted, http.StatusUnprocessableEntity, "grant-exhausted"},
	{ledger.ErrPurchaseLimit, http.StatusUnprocessableEntity, "purchase-limit"},
	{ledger.ErrNotAlive, http.StatusUnprocessableEntity, "not-alive"},
	{engine.ErrForbidden, http.StatusForbidden, "forbidden"},
	{engine.ErrUnknownCharacter, http.StatusNotFound, "unknown-character"},
	{engine.ErrUnknownTarget, http.StatusNotFound, "unknown-target"},
	{grants.ErrNotFound, http.StatusNotFound, "unknown-grant"},
	{store.ErrNotFound, http.StatusNotFound, "not-found"},
	{engine.ErrConcurrentModification, http.StatusConflict, "concurrent-modification"},
	{engine.ErrAlreadyOwned, http.StatusConflict, "already-owned"},
	{engine.ErrOriginCategoryTaken, http.StatusConflict, "origin-category-taken"},
	{grants.ErrAlreadyHeld, http.StatusConflict, "already-owned"},
	{store.ErrExists, http.StatusConflict, "exists"},
	{engine.ErrInvalidAmount, http.StatusBadRequest, "invalid-amount"},
	{grants.ErrInvalid, http.StatusBadRequest, "invalid-grant"},
	{ledger.ErrInvalidStatus, http.StatusBadRequest, "invalid-status"},
	{rules.ErrInvalidTarget, http.StatusBadRequest, "invalid-target"},
}
