package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/timothyplummer/talesofvalor/pkg/auth"
)

// CachedResponse is a completed response kept for replay.
type CachedResponse struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// IdempotencyStore remembers responses by Idempotency-Key. Begin either
// returns a cached response, or claims the key for the caller (started is
// true), or reports that another request holds it.
type IdempotencyStore interface {
	Begin(ctx context.Context, key string) (cached *CachedResponse, started bool, err error)
	Finish(ctx context.Context, key string, resp *CachedResponse) error
	Abort(ctx context.Context, key string) error
}

type memoryEntry struct {
	resp *CachedResponse
	at   time.Time
}

const idempotencySweepInterval = time.Minute

// MemoryIdempotencyStore keeps keys in process for ttl. Expired keys are
// swept from Begin at most once per minute.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	ttl     time.Duration
	now     func() time.Time
	swept   time.Time
}

func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]*memoryEntry), ttl: ttl, now: time.Now}
}

func (s *MemoryIdempotencyStore) Begin(_ context.Context, key string) (*CachedResponse, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if now.Sub(s.swept) >= idempotencySweepInterval {
		s.sweep(now)
	}
	if e, ok := s.entries[key]; ok && now.Sub(e.at) < s.ttl {
		return e.resp, false, nil
	}
	s.entries[key] = &memoryEntry{at: now}
	return nil, true, nil
}

func (s *MemoryIdempotencyStore) sweep(now time.Time) {
	for k, e := range s.entries {
		if now.Sub(e.at) >= s.ttl {
			delete(s.entries, k)
		}
	}
	s.swept = now
}

// Len reports how many keys are held, expired or not.
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryIdempotencyStore) Finish(_ context.Context, key string, resp *CachedResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &memoryEntry{resp: resp, at: s.now()}
	return nil
}

func (s *MemoryIdempotencyStore) Abort(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

const pendingMarker = "pending"

// RedisIdempotencyStore shares keys between server instances. A claimed key
// holds a pending marker until the response is stored.
type RedisIdempotencyStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
}

func NewRedisIdempotencyStore(client redis.UniversalClient, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, ttl: ttl, prefix: "valor:idem:"}
}

func (s *RedisIdempotencyStore) Begin(ctx context.Context, key string) (*CachedResponse, bool, error) {
	k := s.prefix + key
	ok, err := s.client.SetNX(ctx, k, pendingMarker, s.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if ok {
		return nil, true, nil
	}
	val, err := s.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		// Expired between the two calls; let the caller retry.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if string(val) == pendingMarker {
		return nil, false, nil
	}
	var resp CachedResponse
	if err := json.Unmarshal(val, &resp); err != nil {
		return nil, false, err
	}
	return &resp, false, nil
}

func (s *RedisIdempotencyStore) Finish(ctx context.Context, key string, resp *CachedResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+key, data, s.ttl).Err()
}

func (s *RedisIdempotencyStore) Abort(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

// responseCapture records what the wrapped handler writes.
type responseCapture struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (rc *responseCapture) WriteHeader(code int) {
	rc.status = code
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	rc.body.Write(b)
	return rc.ResponseWriter.Write(b)
}

// IdempotencyMiddleware processes a POST carrying an Idempotency-Key at
// most once per actor. Successful responses are replayed to retries; a
// failed request releases the key. It must run after authentication.
func IdempotencyMiddleware(store IdempotencyStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if r.Method != http.MethodPost || key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(key) > 255 {
				WriteBadRequest(w, r, "Idempotency-Key is too long")
				return
			}
			actor, err := auth.ActorFrom(r.Context())
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			scoped := actor.ID + ":" + r.URL.Path + ":" + key

			cached, started, err := store.Begin(r.Context(), scoped)
			if err != nil {
				WriteInternal(w, r, logger, err)
				return
			}
			if cached != nil {
				w.Header().Set("Content-Type", cached.ContentType)
				w.Header().Set("Idempotent-Replayed", "true")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}
			if !started {
				writeProblem(w, newProblem(r, http.StatusConflict, "request-in-progress",
					"A request with this Idempotency-Key is still being processed"))
				return
			}

			capture := &responseCapture{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(capture, r)

			// Store with a fresh context: the request's may be done.
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), time.Second)
			defer cancel()
			if capture.status >= 200 && capture.status < 300 {
				err = store.Finish(ctx, scoped, &CachedResponse{
					StatusCode:  capture.status,
					ContentType: w.Header().Get("Content-Type"),
					Body:        capture.body.Bytes(),
				})
			} else {
				err = store.Abort(ctx, scoped)
			}
			if err != nil {
				logger.WarnContext(r.Context(), "idempotency store failed", "error", err)
			}
		})
	}
}
