package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/hitoshi/swim/internal/model"
	"github.com/hitoshi/swim/internal/registry"
	"github.com/hitoshi/swim/internal/repository"
	"github.com/hitoshi/swim/internal/scope"
	"github.com/hitoshi/swim/internal/security"
	"github.com/hitoshi/swim/internal/selector"
	"github.com/hitoshi/swim/internal/site"
	"github.com/hitoshi/swim/internal/slot"
)

// Context はテンプレートに渡すコンテキスト。ミドルウェアが値を追加する。
type Context map[string]any

// コンテキストのキー。
const (
	KeyRequest    = "request"
	KeySettings   = "settings"
	KeySite       = "site"
	KeyResource   = "resource"
	KeyContent    = "content"
	KeySwim       = "swim"
	KeyMessage404 = "message_404"
	KeyObject     = "object"
)

// Observer は描画時間と再帰ガードの中断を記録する。
type Observer interface {
	RecordRenderLatency(duration time.Duration)
	ObserveRecursionGuardTrip()
}

// Options はRendererの依存関係。
type Options struct {
	Registry  *registry.Registry
	Selector  *selector.Selector
	Loader    *slot.Loader
	Store     repository.Store
	Sanitizer security.ContentSanitizer
	Observer  Observer
	Logger    *slog.Logger

	// Settings はテンプレートに settings として公開する値。
	Settings map[string]any
	// SiteName と SiteDomains は site の値に使う。
	SiteName    string
	SiteDomains []string
	// Debug が真の場合、再帰ガードの中断をインラインのコメントとして出力する。
	Debug bool
	// Funcs はエンジンに追加するテンプレート関数。
	Funcs map[string]any
}

// Renderer はテンプレートを描画する。リクエストをまたいで共有でき、
// リクエスト単位の状態はすべてscope.Scopeに置く。
type Renderer struct {
	opts    Options
	engines map[string]Engine
	logger  *slog.Logger
}

// New はRendererを生成する。
func New(opts Options) *Renderer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{
		opts: opts,
		engines: map[string]Engine{
			model.EngineHTML: HTMLEngine{},
			model.EngineText: TextEngine{},
		},
		logger: logger,
	}
}

// RegisterEngine はエンジンを追加する。同名のエンジンは置き換える。
func (r *Renderer) RegisterEngine(e Engine) {
	r.engines[e.Name()] = e
}

// NewContext はリクエストの標準コンテキストを構築する。
// siteとcontentは最初に参照された時点で読み込まれる。
func (r *Renderer) NewContext(ctx context.Context, sc *scope.Scope) Context {
	c := Context{
		KeyRequest:    sc.Request,
		KeySettings:   r.opts.Settings,
		KeySite:       site.New(ctx, r.opts.SiteName, r.opts.SiteDomains, r.opts.Store.SiteContent),
		KeyResource:   sc.Resource,
		KeyMessage404: sc.Message404,
	}
	if sc.Resource != nil {
		c[KeyContent] = r.namespace(ctx, sc, sc.Resource)
	}
	return c
}

// Render はトップレベルのテンプレートを描画する。
// 描画中はリソース自身を再帰ガードに登録し、終了時に必ず取り除く。
func (r *Renderer) Render(ctx context.Context, sc *scope.Scope, t *model.Template, data Context) (string, error) {
	start := time.Now()
	defer func() {
		if r.opts.Observer != nil {
			r.opts.Observer.RecordRenderLatency(time.Since(start))
		}
	}()

	if sc.Resource != nil {
		key := guardKey(sc.Resource, sc.Path, t.HTTPContentType, t.SwimContentType)
		if err := sc.Enter(key); err != nil {
			return "", err
		}
		defer sc.Leave(key)
	}

	mirror := maps.Clone(data)
	delete(mirror, KeySwim)
	data[KeySwim] = mirror

	out, err := r.execute(ctx, sc, t, data, data[KeyContent])
	if err != nil {
		return "", fmt.Errorf("テンプレート %s の描画に失敗しました: %w", t.Path, err)
	}
	return out, nil
}

// execute は継承チェーンを解決し、描画単位の関数を束縛してテンプレートを実行する。
func (r *Renderer) execute(ctx context.Context, sc *scope.Scope, t *model.Template, data Context, content any) (string, error) {
	engine, ok := r.engines[t.EngineName()]
	if !ok {
		return "", fmt.Errorf("テンプレートエンジン %s は登録されていません", t.EngineName())
	}
	chain, err := resolveChain(ctx, r.opts.Store.Templates, t)
	if err != nil {
		return "", err
	}
	x, err := engine.Compile(chain, r.funcs(ctx, sc, engine, data, content))
	if err != nil {
		return "", fmt.Errorf("テンプレート %s のコンパイルに失敗しました: %w", t.Path, err)
	}
	return executeToString(x, data)
}

// funcs は描画単位の関数を含むテンプレート関数を返す。
func (r *Renderer) funcs(ctx context.Context, sc *scope.Scope, engine Engine, data Context, content any) map[string]any {
	fm := baseFuncs()
	ns, _ := content.(*slot.Namespace)

	fm["render"] = func(obj any) (any, error) {
		return r.renderObject(ctx, sc, engine, data, obj)
	}
	fm["slot"] = func(atom, key string) (any, error) {
		if ns == nil {
			return nil, errors.New("スロットを持たないコンテキストです")
		}
		return ns.Slot(atom, key)
	}
	fm["slots"] = func(atom, key string) ([]*model.Slot, error) {
		if ns == nil {
			return nil, errors.New("スロットを持たないコンテキストです")
		}
		return ns.Slots(atom, key)
	}
	fm["sanitize"] = func(v any) any {
		if r.opts.Sanitizer == nil {
			return stringify(v)
		}
		return engine.Safe(r.opts.Sanitizer.Sanitize(stringify(v)))
	}
	fm["safe_html"] = func(v any) any { return engine.Safe(stringify(v)) }

	for name, f := range r.opts.Funcs {
		fm[name] = f
	}
	return fm
}

// renderObject は任意のコンテンツオブジェクトのテンプレートを選択して描画する。
// リソースタイプと http content type はリクエストのものを使う。
func (r *Renderer) renderObject(ctx context.Context, sc *scope.Scope, engine Engine, parent Context, obj any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, ok := obj.(model.Target)
	if !ok || isNil(obj) {
		return nil, fmt.Errorf("描画できないオブジェクトです: %T", obj)
	}
	if sc.Resource == nil {
		return nil, errors.New("リソースが解決されていないため描画できません")
	}
	if ref, ok := obj.(*model.Reference); ok && ref.Kind == model.TargetTypeResource {
		res, err := r.referencedResource(ctx, ref)
		if err != nil {
			return nil, err
		}
		obj, target = res, res
	}

	t, sct, err := r.selectFor(ctx, sc, obj, target)
	if err != nil {
		return nil, err
	}

	key := guardKey(target, sc.Path, sc.HTTPContentType, sct)
	if err := sc.Enter(key); err != nil {
		if r.opts.Observer != nil {
			r.opts.Observer.ObserveRecursionGuardTrip()
		}
		r.logger.Warn("recursion guard tripped",
			slog.String("path", sc.Path),
			slog.String("key", key),
		)
		if r.opts.Debug {
			return engine.Safe(fmt.Sprintf("<!-- %v: %s -->", model.ErrRecursionDepthExceeded, key)), nil
		}
		return nil, err
	}
	defer sc.Leave(key)

	data := r.objectContext(ctx, sc, parent, obj, target)
	out, err := r.execute(ctx, sc, t, data, data[KeyContent])
	if err != nil {
		return nil, err
	}
	return engine.Safe(out), nil
}

// referencedResource はリソースを指す参照の参照先を取得する。
func (r *Renderer) referencedResource(ctx context.Context, ref *model.Reference) (*model.Resource, error) {
	res, err := r.opts.Store.Resources.FindByID(ctx, ref.ID)
	if err != nil {
		return nil, fmt.Errorf("参照先リソースの取得に失敗しました: %w", err)
	}
	if res == nil {
		return nil, fmt.Errorf("参照先リソース %s が存在しません", ref.ID)
	}
	return res, nil
}

// selectFor は登録済みの記述子のswim content type、次にオブジェクト自身の
// swim content typeの順にテンプレートを選択する。
func (r *Renderer) selectFor(ctx context.Context, sc *scope.Scope, obj any, target model.Target) (*model.Template, string, error) {
	var candidates []string
	if desc, ok := r.opts.Registry.ContentObjectByTargetType(target.TargetType()); ok && desc.SwimContentType != "" {
		candidates = append(candidates, desc.SwimContentType)
	}
	if typed, ok := obj.(interface{ SwimContentType() string }); ok {
		if own := typed.SwimContentType(); own != "" && (len(candidates) == 0 || candidates[0] != own) {
			candidates = append(candidates, own)
		}
	}
	if len(candidates) == 0 {
		return nil, "", &model.TemplateDoesNotExistError{ResourceType: sc.Resource.ResourceTypeID, SwimContentType: target.TargetType()}
	}

	accept := sc.HTTPContentType
	if accept == "" {
		accept = "*/*"
	}

	var lastErr error
	for _, sct := range candidates {
		t, err := r.opts.Selector.Select(ctx, sc, sc.Resource.ResourceTypeID, sct, accept)
		if err == nil {
			return t, sct, nil
		}
		if !model.IsTemplateDoesNotExist(err) {
			return nil, "", err
		}
		lastErr = err
	}
	return nil, "", lastErr
}

// objectContext は入れ子の描画に渡すコンテキストを構築する。
// 記述子のコンテキスト名でオブジェクトを公開し、swimには外側のコンテキストを残す。
func (r *Renderer) objectContext(ctx context.Context, sc *scope.Scope, parent Context, obj any, target model.Target) Context {
	data := maps.Clone(parent)
	data[KeyObject] = obj
	if desc, ok := r.opts.Registry.ContentObjectByTargetType(target.TargetType()); ok {
		if desc.ContextName != "" {
			data[desc.ContextName] = obj
		}
		data[KeyContent] = r.namespace(ctx, sc, target)
	} else {
		delete(data, KeyContent)
	}
	if _, ok := data[KeySwim]; !ok {
		mirror := maps.Clone(parent)
		data[KeySwim] = mirror
	}
	return data
}

// namespace はエンティティのスロットアクセサを生成する。
// リソースの場合はリソースタイプのコンテンツスキーマで整形する。
func (r *Renderer) namespace(ctx context.Context, sc *scope.Scope, target model.Target) *slot.Namespace {
	var schemaFn slot.SchemaFunc
	if res, ok := target.(*model.Resource); ok {
		schemaFn = func(ctx context.Context) (*model.ContentSchema, error) {
			return r.resourceSchema(ctx, sc, res)
		}
	}
	return r.opts.Loader.NewNamespace(ctx, sc, target, schemaFn)
}

func (r *Renderer) resourceSchema(ctx context.Context, sc *scope.Scope, res *model.Resource) (*model.ContentSchema, error) {
	rt, ok := sc.ResourceType(res.ResourceTypeID)
	if !ok {
		var err error
		rt, err = r.opts.Store.ResourceTypes.FindByID(ctx, res.ResourceTypeID)
		if err != nil {
			return nil, fmt.Errorf("リソースタイプの取得に失敗しました: %w", err)
		}
		if rt == nil {
			return nil, nil
		}
		sc.SetResourceType(rt)
	}
	if rt.ContentSchemaID == "" {
		return nil, nil
	}
	schema, err := r.opts.Store.Schemas.FindByID(ctx, rt.ContentSchemaID)
	if err != nil {
		return nil, fmt.Errorf("コンテンツスキーマの取得に失敗しました: %w", err)
	}
	return schema, nil
}

// guardKey は再帰ガードのキーを返す。
func guardKey(target model.Target, path, httpContentType, swimContentType string) string {
	return fmt.Sprintf("%s:%s|%s|%s|%s", target.TargetType(), target.TargetID(), path, httpContentType, swimContentType)
}
