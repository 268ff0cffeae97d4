package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/swim/internal/middleware"
	"github.com/hitoshi/swim/internal/repository"
)

// 内部エンドポイントのパス。CMSのパスより優先される。
const (
	HealthPath  = "/_swim/health"
	MetricsPath = "/_swim/metrics"
	AdminPath   = "/admin"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// CMS
	Dispatcher   http.Handler
	Redirects    repository.RedirectRepository
	Restrictions repository.AccessRestrictionRepository

	// 内部エンドポイント
	HealthChecker HealthChecker
	Metrics       http.Handler // nilの場合は公開しない
	Admin         http.Handler // nilの場合は/adminも通常のCMSパスとなる

	// ミドルウェア依存
	RateLimiter  *middleware.RateLimiter // nilの場合はレート制限なし
	BasicAuth    middleware.BasicAuthConfig
	FrameOptions string
	TrustProxy   bool // X-Forwarded-For等からクライアントIPを取得する
	Compress     bool
}

// NewRouter はCMSのcatch-allと内部エンドポイントを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → (RealIP) → Logging → Recovery → SecurityHeaders → (Compress)
//	  → RateLimit → BasicAuth → [CMS] AccessRestriction → PathRedirect → Dispatcher
//
// ヘルスチェックとメトリクスはレート制限とBasic認証の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	if deps.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.FrameOptions))
	if deps.Compress {
		r.Use(chimw.Compress(5, "text/html", "text/plain", "text/css", "application/json", "application/xml"))
	}

	// --- 内部エンドポイント ---
	r.Get(HealthPath, NewHealthHandler(deps.HealthChecker, logger))
	if deps.Metrics != nil {
		r.Handle(MetricsPath, deps.Metrics)
	}

	// --- サイト ---
	r.Group(func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}
		r.Use(middleware.NewBasicAuthMiddleware(deps.BasicAuth))

		if deps.Admin != nil {
			r.Mount(AdminPath, deps.Admin)
		}

		cms := []func(http.Handler) http.Handler{}
		if deps.Restrictions != nil {
			cms = append(cms, middleware.NewAccessRestrictionMiddleware(deps.Restrictions, logger))
		}
		if deps.Redirects != nil {
			cms = append(cms, middleware.NewPathRedirectMiddleware(deps.Redirects, logger))
		}
		r.With(cms...).Handle("/*", deps.Dispatcher)
	})

	return r
}
