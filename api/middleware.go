package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hospiverse/clinic-engine/access"
	"github.com/hospiverse/clinic-engine/auth"
	"github.com/hospiverse/clinic-engine/identity"
)

type identityKey struct{}

// IdentityFrom returns the identity resolved for the request, if any.
func IdentityFrom(ctx context.Context) *identity.Identity {
	ident, _ := ctx.Value(identityKey{}).(*identity.Identity)
	return ident
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// resolve runs identity resolution for the request's bearer token in a
// request-scoped auth context, so a wipe only affects this request.
func (h *Handler) resolve(r *http.Request) identity.Result {
	client := h.Provider.NewClient(auth.ClientOptions{
		StorageKey: "request:" + middleware.GetReqID(r.Context()),
		Token:      bearerToken(r),
	})
	return identity.Resolve(r.Context(), client, client, h.Profiles, identity.Options{
		Timeout: h.ResolveTimeout,
		Logger:  h.Log,
		Metrics: h.Metrics,
	})
}

// Authenticate rejects requests without a resolvable identity with 401 and
// the entry route.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := h.resolve(r)
		if !res.Authenticated() {
			writeJSON(w, http.StatusUnauthorized, LandingResponse{Landing: access.RouteEntry})
			return
		}
		ctx := context.WithValue(r.Context(), identityKey{}, res.Identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAction lets the request through only when the caller's role
// carries action. Denied callers get a 303 to their own landing route.
func (h *Handler) RequireAction(action access.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := h.Access.Authorize(IdentityFrom(r.Context()), action)
			if !d.Allowed {
				w.Header().Set("Location", d.Redirect)
				writeJSON(w, http.StatusSeeOther, RedirectResponse{Redirect: d.Redirect})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs each request and records its latency by route pattern.
func (h *Handler) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.Metrics.ObserveHTTP(r.Method, route, strconv.Itoa(status), elapsed)

		entry := h.Log.WithFields(map[string]interface{}{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"route":      route,
			"status":     status,
			"bytes":      ww.BytesWritten(),
			"duration":   elapsed.String(),
		})
		if status >= http.StatusInternalServerError {
			entry.Error("Request failed")
		} else {
			entry.Info("Request handled")
		}
	})
}
