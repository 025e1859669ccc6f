package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timothyplummer/talesofvalor/pkg/artifacts"
	"github.com/timothyplummer/talesofvalor/pkg/audit"
	"github.com/timothyplummer/talesofvalor/pkg/auth"
	"github.com/timothyplummer/talesofvalor/pkg/catalog"
	"github.com/timothyplummer/talesofvalor/pkg/eligibility"
	"github.com/timothyplummer/talesofvalor/pkg/engine"
	"github.com/timothyplummer/talesofvalor/pkg/ledger"
	"github.com/timothyplummer/talesofvalor/pkg/rules"
	"github.com/timothyplummer/talesofvalor/pkg/store"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type testServer struct {
	handler http.Handler
	issuer  *auth.TokenIssuer
	store   *store.Memory
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	cat, err := catalog.NewBuilder().
		AddHeader(catalog.Header{ID: 1, Name: "Warrior", Category: "Martial"}).
		AddHeader(catalog.Header{ID: 2, Name: "Elven Arts", Category: "Magic"}).
		AddHeader(catalog.Header{ID: 3, Name: "Runecraft", Category: "Magic", Hidden: true}).
		AddSkill(catalog.Skill{ID: 10, Name: "Slay"}).
		AddSkill(catalog.Skill{ID: 11, Name: "Parry"}).
		Offer(1, 10, 6).
		OfferRow(catalog.HeaderSkill{HeaderID: 1, SkillID: 11, Cost: 6, MaxPurchases: 2}).
		AddOrigin(catalog.Origin{ID: 100, Category: catalog.CategoryRace, Name: "Elf"}).
		Build()
	require.NoError(t, err)

	set := rules.NewSet()
	elf := catalog.OriginID(100)
	require.NoError(t, set.Add(rules.Prerequisite{ID: "elven-race", Target: rules.HeaderTarget(2), Origin: &elf}))

	st := store.NewMemory(nil)
	require.NoError(t, st.CreatePlayer(context.Background(), &ledger.Player{ID: "p1", UserID: "u1", Name: "Alice"}))

	chain := audit.NewChain()
	svc, err := engine.New(st, eligibility.New(cat, set, nil), engine.WithAudit(chain))
	require.NoError(t, err)

	issuer, err := auth.NewTokenIssuer(testSecret, "valor")
	require.NoError(t, err)

	fs, err := artifacts.NewFileStore(t.TempDir())
	require.NoError(t, err)

	opts = append([]Option{WithExports(chain, fs)}, opts...)
	srv := NewServer(svc, issuer, opts...)
	return &testServer{handler: srv.Handler(), issuer: issuer, store: st}
}

var (
	playerActor = auth.Actor{ID: "u1", PlayerID: "p1", Roles: []string{auth.RolePlayer}}
	otherActor  = auth.Actor{ID: "u2", PlayerID: "p2", Roles: []string{auth.RolePlayer}}
	staffActor  = auth.Actor{ID: "gm", Roles: []string{auth.RoleStaff}}
)

func (ts *testServer) do(t *testing.T, a *auth.Actor, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if a != nil {
		tok, err := ts.issuer.Issue(*a, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type characterBody struct {
	Character ledger.Character `json:"character"`
}

func (ts *testServer) newCharacter(t *testing.T, cp int) string {
	t.Helper()
	rec := ts.do(t, &playerActor, http.MethodPost, "/v1/characters", map[string]any{"name": "Aldric"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decodeBody[characterBody](t, rec).Character.ID
	if cp > 0 {
		rec = ts.do(t, &staffActor, http.MethodPost, "/v1/characters/"+id+"/points/award", map[string]any{"amount": cp, "reason": "event"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	return id
}

func TestPublicEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, nil, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = ts.do(t, nil, http.MethodGet, "/v1/catalog/headers", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	headers := decodeBody[[]catalog.Header](t, rec)
	require.Len(t, headers, 2, "hidden headers are not listed")
	assert.Equal(t, "Elven Arts", headers[0].Name)

	rec = ts.do(t, nil, http.MethodGet, "/v1/catalog/headers/1/skills", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	skills := decodeBody[[]catalogSkill](t, rec)
	require.Len(t, skills, 2)
	assert.Equal(t, 6, skills[0].Cost)

	rec = ts.do(t, nil, http.MethodGet, "/v1/catalog/headers/3/skills", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(t, nil, http.MethodGet, "/v1/catalog/headers/abc/skills", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthReportsFailedDependency(t *testing.T) {
	ts := newTestServer(t, WithHealthCheck(func(context.Context) error { return assert.AnError }))
	rec := ts.do(t, nil, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequiresToken(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, nil, http.MethodGet, "/v1/characters/c1", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	rec = ts.do(t, nil, http.MethodGet, "/v1/characters/c1", nil, "Authorization", "Bearer junk")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPurchaseFlow(t *testing.T) {
	ts := newTestServer(t)
	id := ts.newCharacter(t, 10)

	rec := ts.do(t, &playerActor, http.MethodPost, "/v1/characters/"+id+"/skills", map[string]any{"skill_id": 10, "header_id": 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	c := decodeBody[characterBody](t, rec).Character
	assert.Equal(t, 6, c.CPSpent)
	assert.Equal(t, 10, c.CPAvailable)

	rec = ts.do(t, &playerActor, http.MethodPost, "/v1/characters/"+id+"/skills", map[string]any{"skill_id": 11, "header_id": 1})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	p := decodeBody[ProblemDetail](t, rec)
	assert.Equal(t, problemBase+"insufficient-points", p.Type)
	require.NotNil(t, p.Cost)
	require.NotNil(t, p.Remaining)
	assert.Equal(t, 6, *p.Cost)
	assert.Equal(t, 4, *p.Remaining)

	rec = ts.do(t, &playerActor, http.MethodGet, "/v1/characters/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 6, decodeBody[ledger.Character](t, rec).CPSpent, "refused purchase left the ledger alone")

	rec = ts.do(t, &playerActor, http.MethodGet, "/v1/characters/"+id+"/log", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]audit.Entry](t, rec)
	require.Len(t, entries, 3)
	assert.Equal(t, audit.ActionPurchaseSkill, entries[2].Action)
}

func TestPrerequisiteFailureListsUnmet(t *testing.T) {
	ts := newTestServer(t)
	id := ts.newCharacter(t, 0)

	rec := ts.do(t, &playerActor, http.MethodPost, "/v1/characters/"+id+"/headers", map[string]any{"header_id": 2})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	p := decodeBody[ProblemDetail](t, rec)
	assert.Equal(t, problemBase+"prerequisites-not-met", p.Type)
	require.Len(t, p.Unmet, 1)
	assert.Equal(t, "requires Elf", p.Unmet[0].Message)

	rec = ts.do(t, &playerActor, http.MethodPost, "/v1/characters/"+id+"/origins", map[string]any{"origin_id": 100})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = ts.do(t, &playerActor, http.MethodPost, "/v1/characters/"+id+"/headers", map[string]any{"header_id": 2})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestEligibilityQuery(t *testing.T) {
	ts := newTestServer(t)
	id := ts.newCharacter(t, 0)

	rec := ts.do(t, &playerActor, http.MethodGet, "/v1/characters/"+id+"/eligibility?kind=header&target=Elven%20Arts", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	d := decodeBody[eligibility.Decision](t, rec)
	assert.False(t, d.Allowed)
	require.Len(t, d.Unmet, 1)

	rec = ts.do(t, &playerActor, http.MethodGet, "/v1/characters/"+id+"/eligibility?kind=skill&target=10&header=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	d = decodeBody[eligibility.Decision](t, rec)
	assert.True(t, d.Allowed)
	assert.False(t, d.Affordable)
	assert.Equal(t, 6, d.Cost)

	rec = ts.do(t, &playerActor, http.MethodGet, "/v1/characters/"+id+"/eligibility?kind=origin&target=1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, &playerActor, http.MethodGet, "/v1/characters/"+id+"/eligibility?kind=header&target=Nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, &playerActor, http.MethodGet, "/v1/characters/"+id+"/options", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOwnershipAndPermissions(t *testing.T) {
	ts := newTestServer(t)
	id := ts.newCharacter(t, 0)

	rec := ts.do(t, &otherActor, http.MethodGet, "/v1/characters/"+id, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, &playerActor, http.MethodPost, "/v1/characters/"+id+"/points/award", map[string]any{"amount": 5})
	assert.Equal(t, http.StatusForbidden, rec.Code, "players cannot award themselves points")

	rec = ts.do(t, &staffActor, http.MethodPost, "/v1/characters/"+id+"/overrides",
		map[string]any{"kind": "header", "target_id": 2, "reason": "plot"})
	assert.Equal(t, http.StatusForbidden, rec.Code, "overrides are admin only")

	rec = ts.do(t, &playerActor, http.MethodGet, "/v1/characters/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, &playerActor, http.MethodPost, "/v1/characters/"+id+"/skills", map[string]any{"skill_id": 10, "header_id": 1, "extra": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")
}

func TestGrantFlow(t *testing.T) {
	ts := newTestServer(t)
	id := ts.newCharacter(t, 0)

	rec := ts.do(t, &staffActor, http.MethodPost, "/v1/characters/"+id+"/grants",
		map[string]any{"kind": "SkillGrant", "target_id": 11, "header_id": 1, "reason": "quest reward"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var issued struct {
		Grant struct {
			ID string `json:"id"`
		} `json:"grant"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &issued))
	require.NotEmpty(t, issued.Grant.ID)

	rec = ts.do(t, &playerActor, http.MethodGet, "/v1/characters/"+id+"/grants", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), issued.Grant.ID)

	rec = ts.do(t, &playerActor, http.MethodPost, "/v1/characters/"+id+"/grants/"+issued.Grant.ID+"/exercise", map[string]any{"header_id": 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	c := decodeBody[characterBody](t, rec).Character
	assert.Equal(t, 0, c.CPSpent, "granted skills are free")
	assert.True(t, c.Skills[11] != nil)
}

func TestIdempotentReplay(t *testing.T) {
	ts := newTestServer(t, WithIdempotency(NewMemoryIdempotencyStore(time.Minute)))
	id := ts.newCharacter(t, 0)
	path := "/v1/characters/" + id + "/points/award"
	body := map[string]any{"amount": 5, "reason": "event"}

	first := ts.do(t, &staffActor, http.MethodPost, path, body, "Idempotency-Key", "award-1")
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	second := ts.do(t, &staffActor, http.MethodPost, path, body, "Idempotency-Key", "award-1")
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, first.Body.String(), second.Body.String())

	rec := ts.do(t, &staffActor, http.MethodGet, "/v1/characters/"+id, nil)
	assert.Equal(t, 5, decodeBody[ledger.Character](t, rec).CPAvailable, "award applied once")

	rec = ts.do(t, &staffActor, http.MethodPost, path, body, "Idempotency-Key", strings.Repeat("k", 256))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFailedRequestReleasesIdempotencyKey(t *testing.T) {
	st := NewMemoryIdempotencyStore(time.Minute)
	ts := newTestServer(t, WithIdempotency(st))
	id := ts.newCharacter(t, 0)
	path := "/v1/characters/" + id + "/points/award"

	rec := ts.do(t, &staffActor, http.MethodPost, path, map[string]any{"amount": -1}, "Idempotency-Key", "k")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, &staffActor, http.MethodPost, path, map[string]any{"amount": 3}, "Idempotency-Key", "k")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Idempotent-Replayed"))
}

func TestMemoryIdempotencyStoreEvictsExpiredKeys(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st := NewMemoryIdempotencyStore(time.Hour)
	st.now = func() time.Time { return clock }

	for _, k := range []string{"a", "b", "c"} {
		_, started, err := st.Begin(ctx, k)
		require.NoError(t, err)
		require.True(t, started)
	}
	require.NoError(t, st.Finish(ctx, "a", &CachedResponse{StatusCode: http.StatusOK}))
	assert.Equal(t, 3, st.Len())

	clock = clock.Add(2 * time.Hour)
	_, started, err := st.Begin(ctx, "d")
	require.NoError(t, err)
	assert.True(t, started)
	assert.Equal(t, 1, st.Len())

	clock = clock.Add(30 * time.Minute)
	cached, started, err := st.Begin(ctx, "d")
	require.NoError(t, err)
	assert.False(t, started)
	assert.Nil(t, cached)
}

func TestRateLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ts := newTestServer(t, WithRateLimiter(NewRateLimiter(ctx, 1, 1)))

	rec := ts.do(t, nil, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, nil, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestExportPack(t *testing.T) {
	ts := newTestServer(t)
	id := ts.newCharacter(t, 5)

	rec := ts.do(t, &playerActor, http.MethodPost, "/v1/characters/"+id+"/export", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	out := decodeBody[exportResponse](t, rec)
	assert.True(t, strings.HasPrefix(out.Digest, "sha256:"))
	assert.Positive(t, out.Size)

	rec = ts.do(t, &playerActor, http.MethodGet, "/v1/exports/"+out.Digest, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, &staffActor, http.MethodGet, "/v1/exports/"+out.Digest, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Equal(t, out.Size, rec.Body.Len())
	assert.Equal(t, out.Digest, artifacts.Digest(rec.Body.Bytes()))

	rec = ts.do(t, &staffActor, http.MethodGet, "/v1/exports/sha256:"+strings.Repeat("0", 64), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(t, &staffActor, http.MethodGet, "/v1/exports/bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRedisIdempotencyStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available, skipping idempotency test")
	}

	st := NewRedisIdempotencyStore(client, time.Minute)
	key := "test:" + time.Now().Format(time.RFC3339Nano)
	defer st.Abort(context.Background(), key)

	cached, started, err := st.Begin(context.Background(), key)
	require.NoError(t, err)
	assert.Nil(t, cached)
	assert.True(t, started)

	_, started, err = st.Begin(context.Background(), key)
	require.NoError(t, err)
	assert.False(t, started, "pending key blocks a second caller")

	require.NoError(t, st.Finish(context.Background(), key, &CachedResponse{StatusCode: 201, ContentType: "application/json", Body: []byte(`{}`)}))
	cached, _, err = st.Begin(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, 201, cached.StatusCode)
}
