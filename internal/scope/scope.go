// Package scope はリクエスト単位の状態（リソース、http content type、
// テンプレート選択のメモ、再帰ガード、スロットのメモ）を保持する。
//
// Scopeはcontext.Contextに載せて呼び出し経路に明示的に渡す。
// 1つのリクエストの中では単一のgoroutineからのみ使われる前提で、ロックを持たない。
package scope

import (
	"context"
	"net/http"

	"github.com/hitoshi/swim/internal/model"
)

type contextKey struct{}

// Scope はリクエストスコープのバッグ。リクエスト間で共有してはならない。
type Scope struct {
	// Request は処理中のHTTPリクエスト。
	Request *http.Request
	// Path は正規化済みのリクエストパス。
	Path string
	// Resource は解決されたリソース。
	Resource *model.Resource
	// HTTPContentType は選択されたトップレベルテンプレートのメディアタイプ。
	HTTPContentType string
	// Message404 は404ページのテンプレートに公開するメッセージ。
	Message404 string
	// ErrorHandler は404/500のエラーページを描画中かどうか。
	ErrorHandler bool

	types     map[string]*model.ResourceType
	ancestors map[string][]*model.ResourceType
	templates map[templateKey][]*model.Template
	guard     map[string]struct{}
	slots     map[targetKey]any
}

type templateKey struct {
	resourceTypeID  string
	swimContentType string
}

type targetKey struct {
	targetType string
	targetID   string
}

// New は空のScopeを生成する。
func New(r *http.Request, path string) *Scope {
	return &Scope{
		Request:   r,
		Path:      path,
		types:     make(map[string]*model.ResourceType),
		ancestors: make(map[string][]*model.ResourceType),
		templates: make(map[templateKey][]*model.Template),
		guard:     make(map[string]struct{}),
		slots:     make(map[targetKey]any),
	}
}

// WithScope はScopeを載せたcontextを返す。
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext はcontextからScopeを取り出す。載っていない場合はnilを返す。
func FromContext(ctx context.Context) *Scope {
	s, _ := ctx.Value(contextKey{}).(*Scope)
	return s
}

// ResourceType はキャッシュ済みのリソースタイプを返す。
func (s *Scope) ResourceType(id string) (*model.ResourceType, bool) {
	t, ok := s.types[id]
	return t, ok
}

// SetResourceType はリソースタイプをキャッシュする。
func (s *Scope) SetResourceType(t *model.ResourceType) {
	if t != nil {
		s.types[t.ID] = t
	}
}

// Ancestors はキャッシュ済みの祖先チェーン（自身を含み、近い順）を返す。
func (s *Scope) Ancestors(id string) ([]*model.ResourceType, bool) {
	a, ok := s.ancestors[id]
	return a, ok
}

// SetAncestors は祖先チェーンをキャッシュする。チェーン内の各タイプもキャッシュする。
func (s *Scope) SetAncestors(id string, chain []*model.ResourceType) {
	s.ancestors[id] = chain
	for _, t := range chain {
		s.SetResourceType(t)
	}
}

// Templates は(リソースタイプ, swim content type)に対する候補テンプレートのメモを返す。
func (s *Scope) Templates(resourceTypeID, swimContentType string) ([]*model.Template, bool) {
	c, ok := s.templates[templateKey{resourceTypeID, swimContentType}]
	return c, ok
}

// SetTemplates は候補テンプレートをメモする。候補が空の場合もメモする。
func (s *Scope) SetTemplates(resourceTypeID, swimContentType string, candidates []*model.Template) {
	s.templates[templateKey{resourceTypeID, swimContentType}] = candidates
}

// Enter は再帰ガードにキーを追加する。既にアクティブなキーであればRecursionErrorを返す。
// 成功した場合、呼び出し側は必ずLeaveを呼ぶ。
func (s *Scope) Enter(key string) error {
	if _, active := s.guard[key]; active {
		return &model.RecursionError{Key: key}
	}
	s.guard[key] = struct{}{}
	return nil
}

// Leave は再帰ガードからキーを取り除く。
func (s *Scope) Leave(key string) {
	delete(s.guard, key)
}

// GuardDepth はアクティブな再帰ガードキーの数を返す。
func (s *Scope) GuardDepth() int { return len(s.guard) }

// Slots はエンティティに対して読み込み済みのスロット集合を返す。
func (s *Scope) Slots(targetType, targetID string) (any, bool) {
	v, ok := s.slots[targetKey{targetType, targetID}]
	return v, ok
}

// SetSlots はエンティティのスロット集合をメモする。
func (s *Scope) SetSlots(targetType, targetID string, v any) {
	s.slots[targetKey{targetType, targetID}] = v
}
