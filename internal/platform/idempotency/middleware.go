package idempotency

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hanko-field/ordercore/internal/platform/auth"
	"github.com/hanko-field/ordercore/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	anonymousScope    = "anonymous"
	inProgressRetry   = time.Second
)

// Logger receives persistence failures that cannot be surfaced to the client.
type Logger interface {
	Printf(format string, args ...any)
}

type guard struct {
	store    Store
	header   string
	ttl      time.Duration
	optional bool
	clock    func() time.Time
	logger   Logger
}

// MiddlewareOption customises the guard.
type MiddlewareOption func(*guard)

// WithHeader overrides the header carrying the client's key.
func WithHeader(name string) MiddlewareOption {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = name
		}
	}
}

// WithTTL sets how long a completed response stays replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithOptionalKey lets requests without the header through unguarded instead of rejecting them.
func WithOptionalKey() MiddlewareOption {
	return func(g *guard) { g.optional = true }
}

// WithLogger injects a logger for persistence errors.
func WithLogger(logger Logger) MiddlewareOption {
	return func(g *guard) { g.logger = logger }
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(g *guard) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// Middleware guards mutating requests so a retried checkout or cart write replays the first response
// instead of running twice. Keys belong to the cart owner making the request: a guest session and a
// signed-in user never share a key space, and two owners may reuse the same key independently.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	g := &guard{
		store:  store,
		header: defaultHeaderName,
		ttl:    DefaultTTL,
		clock:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			g.serve(w, r, next)
		})
	}
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if !mutating(r.Method) {
		next.ServeHTTP(w, r)
		return
	}
	ctx := r.Context()
	key := strings.TrimSpace(r.Header.Get(g.header))
	if key == "" {
		if g.optional {
			next.ServeHTTP(w, r)
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "missing "+g.header+" header", http.StatusBadRequest))
		return
	}

	body, err := bufferBody(r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unable to read request body", http.StatusBadRequest))
		return
	}

	scope := ownerScope(r)
	stored := scopedKey(scope, key)
	fp := fingerprint(r, scope, body)

	reservation, err := g.store.Reserve(ctx, stored, fp, g.clock().UTC(), g.ttl)
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict))
		return
	case err != nil:
		g.logf("idempotency: reserve %s for %s: %v", key, scope, err)
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_store_error", "unable to process idempotency key", http.StatusInternalServerError))
		return
	}

	switch reservation.State {
	case ReservationStateCompleted:
		replay(w, reservation.Record)
		return
	case ReservationStatePending:
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_in_progress", "the first request with this key is still running", http.StatusConflict).
			WithRetryAfter(inProgressRetry))
		return
	case ReservationStateNew:
	default:
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_store_error", "unexpected idempotency state", http.StatusInternalServerError))
		return
	}

	buffered := &bufferedResponse{header: make(http.Header)}
	next.ServeHTTP(buffered, r)
	g.finish(w, r, buffered, stored, fp, key)
}

// finish stores the handler's response for replay. Server failures are never stored, so the client
// may retry them with the same key.
func (g *guard) finish(w http.ResponseWriter, r *http.Request, resp *bufferedResponse, stored, fp, key string) {
	ctx := r.Context()
	if resp.statusCode() >= http.StatusInternalServerError {
		if err := g.store.Release(ctx, stored, fp); err != nil {
			g.logf("idempotency: release %s after status %d: %v", key, resp.statusCode(), err)
		}
		g.flush(w, resp, key)
		return
	}

	saved := Response{Status: resp.statusCode(), Headers: cloneHeader(resp.header), Body: resp.body.Bytes()}
	if err := g.store.SaveResponse(ctx, stored, fp, saved, g.clock().UTC(), g.ttl); err != nil {
		g.logf("idempotency: save %s: %v", key, err)
		if err := g.store.Release(ctx, stored, fp); err != nil {
			g.logf("idempotency: release %s after save failure: %v", key, err)
		}
		httpx.WriteError(ctx, w, httpx.NewError("idempotency_store_error", "unable to persist idempotency state", http.StatusInternalServerError))
		return
	}
	g.flush(w, resp, key)
}

func (g *guard) flush(w http.ResponseWriter, resp *bufferedResponse, key string) {
	copyHeader(w.Header(), resp.header)
	w.WriteHeader(resp.statusCode())
	if resp.body.Len() == 0 {
		return
	}
	if _, err := w.Write(resp.body.Bytes()); err != nil {
		g.logf("idempotency: write response for %s: %v", key, err)
	}
}

func (g *guard) logf(format string, args ...any) {
	if g.logger != nil {
		g.logger.Printf(format, args...)
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// ownerScope names the key space of the caller: the cart owner key ("user:..", "guest:..") when the
// request carries one.
func ownerScope(r *http.Request) string {
	if owner, ok := auth.CartIdentity(r.Context()); ok {
		return owner.Key()
	}
	return anonymousScope
}

func scopedKey(scope, key string) string {
	return scope + "|" + strings.TrimSpace(key)
}

// fingerprint identifies what the request asks for. JSON bodies are compared by content, so a client
// that re-serialises the same checkout with other whitespace or field order still gets its replay.
func fingerprint(r *http.Request, scope string, body []byte) string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte('|')
	b.WriteString(r.URL.EscapedPath())
	b.WriteByte('|')
	b.WriteString(r.URL.Query().Encode())
	b.WriteByte('|')
	b.WriteString(scope)
	b.WriteByte('|')
	b.Write(canonicalBody(body))
	return sha256Hex([]byte(b.String()))
}

func canonicalBody(body []byte) []byte {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil || dec.More() {
		return []byte(sha256Hex(body))
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return []byte(sha256Hex(body))
	}
	return []byte(sha256Hex(out))
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func replay(w http.ResponseWriter, record Record) {
	header := w.Header()
	for name := range header {
		header.Del(name)
	}
	copyHeader(header, record.ResponseHeaders)
	header.Set(replayHeaderName, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

func copyHeader(dst http.Header, src map[string][]string) {
	for name, values := range src {
		dst[name] = append([]string(nil), values...)
	}
}

// bufferedResponse holds the handler's output until the guard decides whether it is replayable.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.status == 0 && status > 0 {
		b.status = status
	}
}

func (b *bufferedResponse) Write(data []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(data)
}

func (b *bufferedResponse) statusCode() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}
