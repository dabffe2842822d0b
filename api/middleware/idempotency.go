package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/casier-judiciaire/casier-backend/api/responses"
	pkgerrors "github.com/casier-judiciaire/casier-backend/pkg/errors"
	"github.com/casier-judiciaire/casier-backend/pkg/logger"
	pkgredis "github.com/casier-judiciaire/casier-backend/pkg/redis"
)

const (
	idempotencyHeader         = "Idempotency-Key"
	idempotencyReplayedHeader = "Idempotent-Replayed"
	maxIdempotencyKeyLength   = 255

	caseIntakeIdempotencyTTL   = 24 * time.Hour
	announcementIdempotencyTTL = time.Hour
	// pendingIdempotencyTTL bounds how long a crashed request blocks its key.
	pendingIdempotencyTTL = 2 * time.Minute
)

const (
	recordPending   = "pending"
	recordCompleted = "completed"
)

type idempotencyRule struct {
	method  string
	pattern string
	ttl     time.Duration
}

// Only calls that create something are guarded.
var idempotencyRules = []idempotencyRule{
	{method: http.MethodPost, pattern: "/api/v1/demandes", ttl: caseIntakeIdempotencyTTL},
	{method: http.MethodPost, pattern: "/api/admin/v1/announcements", ttl: announcementIdempotencyTTL},
}

type idempotencyRecord struct {
	State       string            `json:"state"`
	RequestHash string            `json:"request_hash"`
	Status      int               `json:"status,omitempty"`
	Body        string            `json:"body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// commitFlag is set by a handler once it has stored state for the request.
type commitFlag struct {
	set atomic.Bool
}

// MarkCommitted tells Idempotency that the current request already changed
// stored state. A 5xx answer is then kept for replay instead of freeing the key.
func MarkCommitted(ctx context.Context) {
	if flag := valueFrom[*commitFlag](ctx, ctxCommitFlag); flag != nil {
		flag.set.Store(true)
	}
}

// Idempotency replays the first response of a guarded route for every retry
// carrying the same Idempotency-Key, scoped to the caller. A key is reserved
// before the handler runs so concurrent duplicates are refused. Responses
// of 500 and above free the key for a retry unless the handler called
// MarkCommitted.
func Idempotency(store pkgredis.IdempotencyStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, guarded := routeTTL(r.Method, routePattern(r))
			if !guarded || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			idemKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if idemKey == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			}
			if len(idemKey) > maxIdempotencyKeyLength {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key too long"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			requestHash := hashBody(body)
			key := store.IdempotencyKey(requestScope(r), idemKey)

			reserved, err := reserve(ctx, store, key, requestHash)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
				return
			}
			if !reserved {
				replayExisting(ctx, store, logg, w, key, requestHash)
				return
			}

			persistCtx := context.WithoutCancel(ctx)
			finished := false
			defer func() {
				// A panicking handler must not leave the key reserved.
				if !finished {
					release(persistCtx, store, logg, key)
				}
			}()

			flag := &commitFlag{}
			capture := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(capture, r.WithContext(context.WithValue(ctx, ctxCommitFlag, flag)))
			finished = true

			status := capture.statusCode()
			if status >= http.StatusInternalServerError && !flag.set.Load() {
				release(persistCtx, store, logg, key)
				return
			}
			record := idempotencyRecord{
				State:       recordCompleted,
				RequestHash: requestHash,
				Status:      status,
				Body:        base64.StdEncoding.EncodeToString(capture.body.Bytes()),
			}
			record.Headers = keptHeaders(capture.Header())
			payload, err := json.Marshal(record)
			if err != nil {
				logIdempotencyError(persistCtx, logg, "marshal idempotency record", err)
				release(persistCtx, store, logg, key)
				return
			}
			if err := store.Set(persistCtx, key, string(payload), ttl); err != nil {
				logIdempotencyError(persistCtx, logg, "persist idempotency record", err)
			}
		})
	}
}

func reserve(ctx context.Context, store pkgredis.IdempotencyStore, key, requestHash string) (bool, error) {
	marker, err := json.Marshal(idempotencyRecord{State: recordPending, RequestHash: requestHash})
	if err != nil {
		return false, err
	}
	return store.SetNX(ctx, key, string(marker), pendingIdempotencyTTL)
}

func release(ctx context.Context, store pkgredis.IdempotencyStore, logg *logger.Logger, key string) {
	if err := store.Del(ctx, key); err != nil {
		logIdempotencyError(ctx, logg, "release idempotency key", err)
	}
}

func replayExisting(ctx context.Context, store pkgredis.IdempotencyStore, logg *logger.Logger, w http.ResponseWriter, key, requestHash string) {
	stored, err := store.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		// The holder released the key between our SETNX and GET.
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "request with this Idempotency-Key is still in progress"))
		return
	}
	if err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency record"))
		return
	}

	var record idempotencyRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode idempotency record"))
		return
	}
	switch {
	case record.RequestHash != requestHash:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
	case record.State != recordCompleted:
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "request with this Idempotency-Key is still in progress"))
	default:
		writeStoredResponse(w, record)
	}
}

func writeStoredResponse(w http.ResponseWriter, record idempotencyRecord) {
	body, err := base64.StdEncoding.DecodeString(record.Body)
	if err != nil {
		body = nil
	}
	for name, value := range record.Headers {
		w.Header().Set(name, value)
	}
	w.Header().Set(idempotencyReplayedHeader, "true")
	w.WriteHeader(record.Status)
	_, _ = w.Write(body)
}

func keptHeaders(h http.Header) map[string]string {
	var kept map[string]string
	for _, name := range []string{"Content-Type", "Retry-After"} {
		if v := h.Get(name); v != "" {
			if kept == nil {
				kept = map[string]string{}
			}
			kept[name] = v
		}
	}
	return kept
}

// requestScope keeps keys of different users and routes apart.
func requestScope(r *http.Request) string {
	return fmt.Sprintf("%s|%s|%s", UserIDFromContext(r.Context()), r.Method, r.URL.Path)
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func routePattern(r *http.Request) string {
	if r == nil {
		return ""
	}
	// Middleware mounted on a subrouter only sees a partial "/prefix/*" pattern.
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" && !strings.HasSuffix(pattern, "*") {
			return pattern
		}
	}
	return strings.TrimSuffix(r.URL.Path, "/")
}

func routeTTL(method, pattern string) (time.Duration, bool) {
	if pattern == "" {
		return 0, false
	}
	for _, rule := range idempotencyRules {
		if rule.method == method && rule.pattern == pattern {
			return rule.ttl, true
		}
	}
	return 0, false
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func logIdempotencyError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}
