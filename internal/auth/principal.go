// Package auth carries the resolved request principal through the request
// context. Authentication itself happens upstream (reverse proxy or the CMS
// session layer); this package only models the signal the cache policy
// consumes.
package auth

import (
	"context"
	"net/http"
	"strings"
)

// Principal is the authenticated caller attached to a request, if any.
type Principal struct {
	Subject string
	Role    string
}

type contextKey struct{}

// WithPrincipal returns a context carrying the principal.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext reports the principal attached to the context, if present.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}

// HeaderMiddleware lifts the trusted reverse-proxy identity headers into the
// request context. Requests without a subject header pass through anonymous.
func HeaderMiddleware(subjectHeader, roleHeader string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject := strings.TrimSpace(r.Header.Get(subjectHeader))
			if subject != "" {
				p := Principal{
					Subject: subject,
					Role:    strings.TrimSpace(r.Header.Get(roleHeader)),
				}
				r = r.WithContext(WithPrincipal(r.Context(), p))
			}
			next.ServeHTTP(w, r)
		})
	}
}
