// Package pipeline はリソースを描画するリクエストパイプラインを提供する。
//
// パスの正規化、リソースの照合、テンプレートの選択、ミドルウェア、描画、
// レスポンスプロセッサの順に処理し、404/406/500/503の応答を組み立てる。
package pipeline

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"github.com/hitoshi/swim/internal/chain"
	"github.com/hitoshi/swim/internal/model"
	"github.com/hitoshi/swim/internal/render"
	"github.com/hitoshi/swim/internal/repository"
	"github.com/hitoshi/swim/internal/resolver"
	"github.com/hitoshi/swim/internal/scope"
	"github.com/hitoshi/swim/internal/selector"
)

//go:embed fallback/*.html
var fallbackFS embed.FS

const fallbackContentType = "text/html; charset=utf-8"

// StatusRecorder はレスポンスのステータスを記録する。
type StatusRecorder interface {
	RecordHTTPStatus(statusCode int)
}

// Config はパイプラインの動作設定。
type Config struct {
	RunMiddleware         bool
	RunResponseProcessors bool
	Disable404            bool
	Disable500            bool

	// FallbackDir はエラーテンプレートを探すディレクトリ。空の場合は埋め込みのテンプレートのみを使う。
	FallbackDir string
}

// Options はPipelineの依存関係。
type Options struct {
	Config   Config
	Store    repository.Store
	Matcher  Matcher
	Selector *selector.Selector
	Renderer *render.Renderer
	Chains   *chain.Runner
	Metrics  StatusRecorder
	Logger   *slog.Logger
}

// Pipeline はリソースのリクエストを処理する。
type Pipeline struct {
	cfg      Config
	store    repository.Store
	matcher  Matcher
	selector *selector.Selector
	renderer *render.Renderer
	chains   *chain.Runner
	metrics  StatusRecorder
	logger   *slog.Logger
	fallback []fs.FS
}

// New はPipelineを生成する。Matcherが指定されない場合はExactMatcherを使う。
func New(opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	matcher := opts.Matcher
	if matcher == nil {
		matcher = NewExactMatcher(opts.Store.Resources)
	}
	var fallback []fs.FS
	if opts.Config.FallbackDir != "" {
		fallback = append(fallback, os.DirFS(opts.Config.FallbackDir))
	}
	embedded, _ := fs.Sub(fallbackFS, "fallback")
	fallback = append(fallback, embedded)

	return &Pipeline{
		cfg:      opts.Config,
		store:    opts.Store,
		matcher:  matcher,
		selector: opts.Selector,
		renderer: opts.Renderer,
		chains:   opts.Chains,
		metrics:  opts.Metrics,
		logger:   logger,
		fallback: fallback,
	}
}

// ServeHTTP はリクエストを処理してレスポンスを書き込む。
func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := p.Serve(r)
	if p.metrics != nil {
		p.metrics.RecordHTTPStatus(resp.Status)
	}
	resp.WriteTo(w, r.Method)
}

// Serve はリクエストに対するレスポンスを組み立てる。
func (p *Pipeline) Serve(r *http.Request) *chain.Response {
	ctx := r.Context()
	path := resolver.Normalize(r.URL.Path)

	res, err := p.matcher.Match(ctx, path)
	if err != nil {
		return p.fail(r, path, err)
	}
	if res == nil {
		return p.NotFound(r, path)
	}

	resp, err := p.run(r, path, res, http.StatusOK, false, "")
	if err != nil {
		return p.fail(r, path, err)
	}
	return resp
}

// run はリソースについてテンプレート選択から描画、レスポンスプロセッサまでを実行する。
func (p *Pipeline) run(r *http.Request, path string, res *model.Resource, status int, errorHandler bool, message404 string) (*chain.Response, error) {
	sc := scope.New(r, path)
	sc.Resource = res
	sc.ErrorHandler = errorHandler
	sc.Message404 = message404
	ctx := scope.WithScope(r.Context(), sc)
	sc.Request = r.WithContext(ctx)

	t, err := p.selector.Select(ctx, sc, res.ResourceTypeID, model.SwimContentTypeResource, r.Header.Get("Accept"))
	if err != nil {
		return nil, err
	}
	sc.HTTPContentType = t.HTTPContentType
	return p.execute(ctx, sc, t, status)
}

// execute はミドルウェア、描画、レスポンスプロセッサを実行する。
func (p *Pipeline) execute(ctx context.Context, sc *scope.Scope, t *model.Template, status int) (*chain.Response, error) {
	ancestors, err := p.selector.Ancestors(ctx, sc, sc.Resource.ResourceTypeID)
	if err != nil {
		return nil, err
	}
	data := p.renderer.NewContext(ctx, sc)

	if p.cfg.RunMiddleware && p.chains != nil {
		if err := p.chains.RunMiddleware(ctx, sc, ancestors, data, t); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body, err := p.renderer.Render(ctx, sc, t, data)
	if err != nil {
		return nil, err
	}
	resp := chain.NewResponse(status, t.HTTPContentType, []byte(body))

	if p.cfg.RunResponseProcessors && p.chains != nil {
		if err := p.chains.RunResponseProcessors(ctx, sc, ancestors, data, t, resp); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

// fail はエラーの種別に応じたレスポンスを返す。
func (p *Pipeline) fail(r *http.Request, path string, err error) *chain.Response {
	var notAcceptable *model.NotAcceptableError
	switch {
	case r.Context().Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		p.logger.Warn("request cancelled", slog.String("path", path), slog.String("error", err.Error()))
		return bare(http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable))
	case errors.As(err, &notAcceptable):
		p.logger.Warn("template selection failed",
			slog.String("path", path),
			slog.String("accept", notAcceptable.Accept),
			slog.Any("available", notAcceptable.Available),
		)
		return bare(http.StatusNotAcceptable, notAcceptable.Diagnostic())
	case model.IsNotFound(err):
		return p.NotFound(r, path)
	}
	return p.ServerError(r, path, err)
}

// NotFound は404用の合成リソースでパイプラインを実行する。
// 404テンプレートがない場合はディスクのテンプレートを使う。
func (p *Pipeline) NotFound(r *http.Request, path string) *chain.Response {
	message := fmt.Sprintf("%s は見つかりませんでした", path)
	if p.cfg.Disable404 {
		return bare(http.StatusNotFound, http.StatusText(http.StatusNotFound))
	}
	return p.errorPage(r, path, http.StatusNotFound, model.ResourceTypeNotFound, "404.html", message)
}

// ServerError は500用の合成リソースでパイプラインを実行する。
func (p *Pipeline) ServerError(r *http.Request, path string, cause error) *chain.Response {
	p.logger.Error("render failed",
		slog.String("path", path),
		slog.String("code", model.ErrorCode(cause)),
		slog.String("error", cause.Error()),
	)
	if p.cfg.Disable500 {
		return bare(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
	return p.errorPage(r, path, http.StatusInternalServerError, model.ResourceTypeServerError, "500.html", "")
}

// errorPage はエラー用のリソースタイプでパイプラインを実行し、失敗した場合はディスクのテンプレート、
// それも失敗した場合は素のエラーレスポンスを返す。
func (p *Pipeline) errorPage(r *http.Request, path string, status int, typeKey, fallbackName, message string) *chain.Response {
	ctx := r.Context()
	rt, err := p.store.ResourceTypes.FindByKey(ctx, typeKey)
	if err == nil && rt != nil {
		res := &model.Resource{Path: path, Title: http.StatusText(status), ResourceTypeID: rt.ID}
		resp, err := p.run(r, path, res, status, true, message)
		if err == nil {
			return resp
		}
		p.logger.Warn("error page pipeline failed",
			slog.Int("status", status),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	} else if err != nil {
		p.logger.Warn("error resource type lookup failed", slog.String("key", typeKey), slog.String("error", err.Error()))
	}

	if ctx.Err() != nil {
		return bare(http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable))
	}
	resp, err := p.diskPage(r, path, status, fallbackName, message)
	if err != nil {
		p.logger.Warn("fallback template failed", slog.String("name", fallbackName), slog.String("error", err.Error()))
		return bare(status, http.StatusText(status))
	}
	return resp
}

// diskPage はディスクのエラーテンプレートを描画する。ミドルウェアとプロセッサは実行しない。
func (p *Pipeline) diskPage(r *http.Request, path string, status int, name, message string) (*chain.Response, error) {
	var body []byte
	var err error
	for _, fsys := range p.fallback {
		if body, err = fs.ReadFile(fsys, name); err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("エラーテンプレート %s の読み込みに失敗しました: %w", name, err)
	}

	sc := scope.New(r, path)
	sc.ErrorHandler = true
	sc.Message404 = message
	sc.HTTPContentType = fallbackContentType
	ctx := scope.WithScope(r.Context(), sc)
	sc.Request = r.WithContext(ctx)

	t := &model.Template{
		Path:            "fallback/" + name,
		Body:            string(body),
		HTTPContentType: fallbackContentType,
		SwimContentType: model.SwimContentTypeResource,
		Engine:          model.EngineHTML,
	}
	out, err := p.renderer.Render(ctx, sc, t, p.renderer.NewContext(ctx, sc))
	if err != nil {
		return nil, err
	}
	return chain.NewResponse(status, fallbackContentType, []byte(out)), nil
}

func bare(status int, body string) *chain.Response {
	resp := chain.NewResponse(status, "text/plain; charset=utf-8", []byte(body+"\n"))
	resp.Header.Set("X-Content-Type-Options", "nosniff")
	return resp
}
