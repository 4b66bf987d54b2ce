package cache

import (
	"bytes"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/meridianweb/siteops/internal/metrics"
)

// Responses larger than this are passed through uncached; the body capture
// would otherwise pin arbitrarily large payloads in memory.
const maxCaptureBytes = 8 << 20

// Middleware consults the policy and the store before handing a request to
// the downstream router, and captures fresh successful responses on the way
// out.
type Middleware struct {
	store   *Store
	policy  *Policy
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// NewMiddleware wires the response cache in front of a handler chain.
func NewMiddleware(store *Store, policy *Policy, logger *slog.Logger, recorder *metrics.Recorder) *Middleware {
	return &Middleware{store: store, policy: policy, logger: logger, metrics: recorder}
}

// Key derives the deterministic cache key for a request: the method, the
// path, and the sorted query string. Headers, cookies, and bodies never
// participate, so identical effective URLs always collide on one entry.
func Key(r *http.Request) string {
	key := r.Method + " " + r.URL.Path
	if encoded := r.URL.Query().Encode(); encoded != "" {
		key += "?" + encoded
	}
	return key
}

// Wrap returns the caching handler. Hits short-circuit the downstream
// handler entirely; misses run it with a capturing writer and store only
// 2xx responses.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := m.policy.Decide(r)
		if !decision.Cacheable {
			if decision.Route != "" {
				m.metrics.ObserveCacheRequest(decision.Route, metrics.CacheBypass)
				w.Header().Set("X-Cache", "BYPASS")
			}
			next.ServeHTTP(w, r)
			return
		}

		key := Key(r)
		if entry, ok := m.store.Get(key); ok {
			m.metrics.ObserveCacheRequest(decision.Route, metrics.CacheHit)
			header := w.Header()
			if entry.ContentType != "" {
				header.Set("Content-Type", entry.ContentType)
			}
			header.Set("Content-Length", strconv.Itoa(len(entry.Body)))
			header.Set("X-Cache", "HIT")
			w.WriteHeader(entry.Status)
			if r.Method != http.MethodHead {
				_, _ = w.Write(entry.Body)
			}
			return
		}

		m.metrics.ObserveCacheRequest(decision.Route, metrics.CacheMiss)
		capture := newCaptureWriter(w)
		next.ServeHTTP(capture, r)

		// A failed or oversized capture degrades to an uncached response;
		// the client already has its bytes either way.
		if !capture.cacheable() {
			return
		}
		m.store.Set(key, Entry{
			Status:      capture.status,
			ContentType: capture.Header().Get("Content-Type"),
			Body:        capture.body.Bytes(),
		}, decision.TTL)
		m.metrics.SetCacheEntries(m.store.Len())
		if m.logger != nil {
			m.logger.Debug("response cached",
				slog.String("key", key),
				slog.Duration("ttl", decision.TTL),
				slog.Int("bytes", capture.body.Len()))
		}
	})
}

// captureWriter tees the downstream handler's response into a buffer while
// writing through to the client, so the store only ever sees complete bodies.
type captureWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	overflow    bool
	body        bytes.Buffer
}

func newCaptureWriter(w http.ResponseWriter) *captureWriter {
	return &captureWriter{ResponseWriter: w, status: http.StatusOK}
}

func (c *captureWriter) WriteHeader(status int) {
	if !c.wroteHeader {
		c.status = status
		c.wroteHeader = true
		c.Header().Set("X-Cache", "MISS")
	}
	c.ResponseWriter.WriteHeader(status)
}

func (c *captureWriter) Write(p []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	if !c.overflow {
		if c.body.Len()+len(p) > maxCaptureBytes {
			c.overflow = true
			c.body.Reset()
		} else {
			c.body.Write(p)
		}
	}
	return c.ResponseWriter.Write(p)
}

// cacheable reports whether the captured response may enter the store:
// successful status only, and within the capture size limit. Error responses are
// never cached so a transient failure cannot masquerade as valid content.
func (c *captureWriter) cacheable() bool {
	return !c.overflow && c.status >= 200 && c.status < 300
}

// Flush passes through so streaming handlers behind the middleware keep
// working; streamed responses still cache once complete.
func (c *captureWriter) Flush() {
	if flusher, ok := c.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
