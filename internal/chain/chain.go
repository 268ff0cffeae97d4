package chain

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hitoshi/swim/internal/model"
	"github.com/hitoshi/swim/internal/render"
	"github.com/hitoshi/swim/internal/repository"
	"github.com/hitoshi/swim/internal/scope"
)

// Runner はリソースタイプの祖先チェーンから連鎖を構築して実行する。
type Runner struct {
	repo   repository.ChainRepository
	funcs  *Functions
	logger *slog.Logger
}

// NewRunner はRunnerを生成する。
func NewRunner(repo repository.ChainRepository, funcs *Functions, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{repo: repo, funcs: funcs, logger: logger}
}

// Order はマッピング行を実行順に並べる。
// 根に近い祖先の行を先に、子の行を後ろに置いたうえで、orderの昇順で安定ソートする。
// ancestorsは自身から根への順で渡す。
func Order(mappings []*model.ChainMapping, ancestors []*model.ResourceType) []*model.ChainMapping {
	depth := make(map[string]int, len(ancestors))
	for i, rt := range ancestors {
		depth[rt.ID] = i
	}
	type ranked struct {
		row   *model.ChainMapping
		depth int
	}
	rows := make([]ranked, 0, len(mappings))
	for _, m := range mappings {
		if d, ok := depth[m.ResourceTypeID]; ok {
			rows = append(rows, ranked{row: m, depth: d})
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].depth > rows[j].depth })
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].row.Order < rows[j].row.Order })

	out := make([]*model.ChainMapping, len(rows))
	for i, r := range rows {
		out[i] = r.row
	}
	return out
}

func (r *Runner) mappings(ctx context.Context, kind model.ChainKind, ancestors []*model.ResourceType) ([]*model.ChainMapping, error) {
	ids := make([]string, len(ancestors))
	for i, rt := range ancestors {
		ids[i] = rt.ID
	}
	rows, err := r.repo.ListMappings(ctx, kind, ids)
	if err != nil {
		return nil, fmt.Errorf("%sマッピングの取得に失敗しました: %w", kind, err)
	}
	return Order(rows, ancestors), nil
}

// RunMiddleware はミドルウェアを順に実行する。
// エラーページの描画中（sc.ErrorHandler）はミドルウェアのエラーとpanicを記録して無視する。
func (r *Runner) RunMiddleware(ctx context.Context, sc *scope.Scope, ancestors []*model.ResourceType, c render.Context, t *model.Template) error {
	rows, err := r.mappings(ctx, model.ChainMiddleware, ancestors)
	if err != nil {
		return r.swallow(sc, model.ChainMiddleware, "", err)
	}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := guarded(func() error {
			fn, ok := r.funcs.Middleware(row.Function)
			if !ok {
				return fmt.Errorf("未登録のミドルウェアです: %s", row.Function)
			}
			return fn(sc.Request, c, sc.Resource, t)
		})
		if err := r.swallow(sc, model.ChainMiddleware, row.Function, err); err != nil {
			return err
		}
	}
	return nil
}

// RunResponseProcessors はレスポンスプロセッサを順に実行する。
// エラーページの描画中はエラーとpanicを記録して無視する。
func (r *Runner) RunResponseProcessors(ctx context.Context, sc *scope.Scope, ancestors []*model.ResourceType, c render.Context, t *model.Template, resp *Response) error {
	rows, err := r.mappings(ctx, model.ChainResponseProcessor, ancestors)
	if err != nil {
		return r.swallow(sc, model.ChainResponseProcessor, "", err)
	}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := guarded(func() error {
			fn, ok := r.funcs.Processor(row.Function)
			if !ok {
				return fmt.Errorf("未登録のレスポンスプロセッサです: %s", row.Function)
			}
			return fn(sc.Request, c, sc.Resource, t, resp)
		})
		if err := r.swallow(sc, model.ChainResponseProcessor, row.Function, err); err != nil {
			return err
		}
	}
	return nil
}

// swallow はエラーページの描画中であればエラーをログに記録してnilを返す。
func (r *Runner) swallow(sc *scope.Scope, kind model.ChainKind, name string, err error) error {
	if err == nil {
		return nil
	}
	if sc.ErrorHandler {
		r.logger.Warn("chain error ignored in error handler",
			slog.String("kind", string(kind)),
			slog.String("function", name),
			slog.String("path", sc.Path),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if name == "" {
		return err
	}
	return fmt.Errorf("%s %s の実行に失敗しました: %w", kind, name, err)
}

// guarded はfnを実行し、panicをエラーに変換する。
func guarded(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn()
}
