package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type tenantKey struct{}

// tenant reads the tenant header into the request context. A missing header
// selects the default tenant.
func (s *Server) tenant(next http.Handler) http.Handler {
	header := s.config.TenantHeader
	if header == "" {
		header = "X-Tenant-ID"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t := strings.TrimSpace(r.Header.Get(header))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), tenantKey{}, t)))
	})
}

func tenantFrom(ctx context.Context) string {
	t, _ := ctx.Value(tenantKey{}).(string)
	return t
}

// recoverer turns a panic into a logged 500 with a JSON error body.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			s.logger.Error("handler panic",
				zap.String("path", r.URL.Path),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Any("panic", rec),
				zap.Stack("stack"))
			s.respondError(w, http.StatusInternalServerError, fmt.Sprint("internal error: ", rec))
		}()
		next.ServeHTTP(w, r)
	})
}
