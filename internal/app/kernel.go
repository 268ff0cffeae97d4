package app

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/swim/internal/chain"
	"github.com/hitoshi/swim/internal/config"
	"github.com/hitoshi/swim/internal/handler"
	"github.com/hitoshi/swim/internal/metrics"
	"github.com/hitoshi/swim/internal/middleware"
	"github.com/hitoshi/swim/internal/pipeline"
	"github.com/hitoshi/swim/internal/registry"
	"github.com/hitoshi/swim/internal/render"
	"github.com/hitoshi/swim/internal/repository"
	"github.com/hitoshi/swim/internal/security"
	"github.com/hitoshi/swim/internal/selector"
	"github.com/hitoshi/swim/internal/slot"
	"github.com/hitoshi/swim/internal/worker/prune"
)

// Extensions は起動時にレジストリと関数表へ追加登録するフック。
// 呼び出しはFreezeの前に1回だけ行われる。
type Extensions struct {
	Registry  func(reg *registry.Registry) error
	Functions func(funcs *chain.Functions) error
}

// Kernel は設定とストアから組み立てたCMSの実行時構成。
type Kernel struct {
	Handler   http.Handler
	Registry  *registry.Registry
	Functions *chain.Functions
	Metrics   *metrics.Collector
	Prune     *prune.Job

	rateLimiter *middleware.RateLimiter
}

// NewKernel はレジストリ、テンプレート選択、描画、パイプライン、ルーターをワイヤリングする。
// checkerはヘルスチェックの疎通確認に使う。
func NewKernel(cfg *config.Config, store repository.Store, checker handler.HealthChecker, ext Extensions, logger *slog.Logger) (*Kernel, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// 1. レジストリ
	reg, err := registry.NewDefault()
	if err != nil {
		return nil, fmt.Errorf("failed to build registry: %w", err)
	}
	if ext.Registry != nil {
		if err := ext.Registry(reg); err != nil {
			return nil, fmt.Errorf("failed to extend registry: %w", err)
		}
	}
	reg.Freeze()

	// 2. メトリクス
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(promReg)

	// 3. 関数表
	sanitizer := security.NewContentSanitizer()
	funcs := chain.NewFunctions()
	if err := chain.RegisterBuiltins(funcs, sanitizer, store.SiteContent); err != nil {
		return nil, fmt.Errorf("failed to register builtin functions: %w", err)
	}
	if ext.Functions != nil {
		if err := ext.Functions(funcs); err != nil {
			return nil, fmt.Errorf("failed to register functions: %w", err)
		}
	}

	// 4. テンプレート選択と描画
	sel := selector.New(store.Templates, store.ResourceTypes, cfg.Site.Domains, collector)
	renderer := render.New(render.Options{
		Registry:    reg,
		Selector:    sel,
		Loader:      slot.NewLoader(reg, store.Slots, collector),
		Store:       store,
		Sanitizer:   sanitizer,
		Observer:    collector,
		Logger:      logger,
		Settings:    map[string]any{"debug": cfg.Debug, "enable_admin": cfg.EnableAdmin},
		SiteName:    cfg.Site.Name,
		SiteDomains: cfg.Site.Domains,
		Debug:       cfg.Debug,
	})

	// 5. パイプラインとハンドラ
	matcher, err := pipeline.NewMatcher(cfg.ResourceMatcher, store.Resources)
	if err != nil {
		return nil, err
	}
	p := pipeline.New(pipeline.Options{
		Config: pipeline.Config{
			RunMiddleware:         cfg.RunMiddleware,
			RunResponseProcessors: cfg.RunResponseProcessors,
			Disable404:            cfg.Disable404,
			Disable500:            cfg.Disable500,
			FallbackDir:           cfg.Templates.FallbackDir,
		},
		Store:    store,
		Matcher:  matcher,
		Selector: sel,
		Renderer: renderer,
		Chains:   chain.NewRunner(store.Chains, funcs, logger),
		Metrics:  collector,
		Logger:   logger,
	})
	dispatcher := handler.NewDispatcher(store.Handlers, funcs, p, collector, logger)

	// 6. ルーター
	deps := &handler.RouterDeps{
		Logger:        logger,
		Dispatcher:    dispatcher,
		Redirects:     store.Redirects,
		Restrictions:  store.Restrictions,
		HealthChecker: checker,
		Metrics:       metrics.Handler(promReg),
		BasicAuth: middleware.BasicAuthConfig{
			Enabled:  cfg.BasicAuth.Enabled,
			Roots:    cfg.BasicAuth.Roots,
			Excludes: cfg.BasicAuth.Excludes,
			Username: cfg.BasicAuth.Username,
			Password: cfg.BasicAuth.Password,
			Realm:    cfg.BasicAuth.Realm,
		},
		FrameOptions: cfg.Server.FrameOptions,
		TrustProxy:   cfg.Server.TrustProxy,
		Compress:     cfg.Server.Compress,
	}
	if cfg.EnableAdmin {
		deps.Admin = handler.NewAdminHandler(reg, funcs)
	}

	k := &Kernel{
		Registry:  reg,
		Functions: funcs,
		Metrics:   collector,
		Prune:     prune.NewJob(store.Slots, reg, collector, logger),
	}
	if cfg.RateLimit.PerMinute > 0 {
		k.rateLimiter = middleware.NewRateLimiter(middleware.PerMinute(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst), logger)
		deps.RateLimiter = k.rateLimiter
	}
	k.Handler = handler.NewRouter(deps)

	return k, nil
}

// Close はバックグラウンドのgoroutineを停止する。
func (k *Kernel) Close() {
	if k.rateLimiter != nil {
		k.rateLimiter.Stop()
	}
}
