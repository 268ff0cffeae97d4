// Package handler はHTTPの入口を提供する。
//
// Dispatcherはパスとメソッドに登録されたリクエストハンドラを呼び出し、
// 登録がないパスはリソースのパイプラインに委ねる。NewRouterはヘルスチェック、
// メトリクス、管理画面とミドルウェアスタックをまとめたchiルーターを構成する。
package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/swim/internal/chain"
	"github.com/hitoshi/swim/internal/middleware"
	"github.com/hitoshi/swim/internal/model"
	"github.com/hitoshi/swim/internal/pipeline"
	"github.com/hitoshi/swim/internal/repository"
	"github.com/hitoshi/swim/internal/resolver"
)

// Dispatcher はリクエストハンドラの登録を引き、なければパイプラインを実行する。
type Dispatcher struct {
	handlers  repository.HandlerRepository
	functions *chain.Functions
	pipeline  *pipeline.Pipeline
	metrics   pipeline.StatusRecorder
	logger    *slog.Logger
}

// NewDispatcher はDispatcherを生成する。
func NewDispatcher(handlers repository.HandlerRepository, functions *chain.Functions, p *pipeline.Pipeline, metrics pipeline.StatusRecorder, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers:  handlers,
		functions: functions,
		pipeline:  p,
		metrics:   metrics,
		logger:    logger,
	}
}

// ServeHTTP はパスに登録されたハンドラを呼び出す。
//
//   - パスに行がなければパイプラインに委ねる
//   - GET/HEADで要求パスが正規形と異なれば正規形へ301でリダイレクトする
//   - メソッドが一致する行があればそのハンドラを呼び出す
//   - 一致する行がなければ405を返す
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := resolver.Normalize(r.URL.Path)

	rows, err := d.handlers.ListByPath(r.Context(), path)
	if err != nil {
		d.write(w, r, d.pipeline.ServerError(r, path, fmt.Errorf("リクエストハンドラの取得に失敗しました: %w", err)))
		return
	}
	if len(rows) == 0 {
		d.pipeline.ServeHTTP(w, r)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path != path {
		d.redirect(w, r, path)
		return
	}

	for _, row := range rows {
		if row.Method != r.Method {
			continue
		}
		h, ok := d.functions.Handler(row.Handler)
		if !ok {
			d.write(w, r, d.pipeline.ServerError(r, path, fmt.Errorf("リクエストハンドラ %s は登録されていません", row.Handler)))
			return
		}
		d.invoke(w, r, h)
		return
	}

	notAllowed := &model.MethodNotAllowedError{Path: path, Allowed: allowedMethods(rows)}
	d.logger.Warn("method not allowed",
		slog.String("path", path),
		slog.String("method", r.Method),
		slog.String("allow", notAllowed.AllowHeader()),
		slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
	)
	resp := chain.NewResponse(http.StatusMethodNotAllowed, "text/plain; charset=utf-8", []byte(http.StatusText(http.StatusMethodNotAllowed)+"\n"))
	resp.Header.Set("Allow", notAllowed.AllowHeader())
	d.write(w, r, resp)
}

// invoke はハンドラを呼び出し、書き込まれたステータスを記録する。
func (d *Dispatcher) invoke(w http.ResponseWriter, r *http.Request, h http.Handler) {
	ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
	h.ServeHTTP(ww, r)
	if d.metrics != nil {
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		d.metrics.RecordHTTPStatus(status)
	}
}

// redirect は正規形のパスへクエリ文字列を保ったまま301でリダイレクトする。
func (d *Dispatcher) redirect(w http.ResponseWriter, r *http.Request, canonical string) {
	resp := chain.NewResponse(http.StatusMovedPermanently, "", nil)
	resp.Header.Set("Location", middleware.RedirectLocation(canonical, r.URL.RawQuery))
	d.write(w, r, resp)
}

func (d *Dispatcher) write(w http.ResponseWriter, r *http.Request, resp *chain.Response) {
	if d.metrics != nil {
		d.metrics.RecordHTTPStatus(resp.Status)
	}
	resp.WriteTo(w, r.Method)
}

// allowedMethods は行のメソッドを重複なくソートして返す。
func allowedMethods(rows []*model.HandlerMapping) []string {
	seen := make(map[string]bool, len(rows))
	methods := make([]string, 0, len(rows))
	for _, row := range rows {
		if !seen[row.Method] {
			seen[row.Method] = true
			methods = append(methods, row.Method)
		}
	}
	sort.Strings(methods)
	return methods
}
