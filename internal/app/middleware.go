package app

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger *slog.Logger
	Config *Config
}

// Tenancy headers. The gateway in front of this service authenticates the
// caller and injects the resolved scope; requests without a complete scope
// are rejected before hitting any handler.
const (
	HeaderTenantID  = "X-Tenant-ID"
	HeaderCompanyID = "X-Company-ID"
	HeaderActorID   = "X-Actor-ID"
)

// TenancyMiddleware extracts the tenancy scope from request headers into the
// request context. Health and job observability endpoints are exempt.
func TenancyMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" || r.URL.Path == "/jobs/health" {
				next.ServeHTTP(w, r)
				return
			}
			tenantID, err1 := strconv.ParseInt(r.Header.Get(HeaderTenantID), 10, 64)
			companyID, err2 := strconv.ParseInt(r.Header.Get(HeaderCompanyID), 10, 64)
			actorID, _ := strconv.ParseInt(r.Header.Get(HeaderActorID), 10, 64)
			rc := shared.RequestContext{TenantID: tenantID, CompanyID: companyID, ActorID: actorID}
			if err1 != nil || err2 != nil || !rc.Valid() {
				logger.Warn("request without tenancy scope", slog.String("path", r.URL.Path))
				httpx.Problem(w, http.StatusUnauthorized, "Missing Scope", "tenant and company headers are required")
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithRequestContext(r.Context(), rc)))
		})
	}
}

// MiddlewareStack installs the middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		FeaturePolicy:         "none",
		ContentSecurityPolicy: "default-src 'self'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
	})

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}

	return []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
		httprate.Limit(120, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
		TenancyMiddleware(cfg.Logger),
	}
}
