package slot

import (
	"context"
	"fmt"

	"github.com/hitoshi/swim/internal/model"
	"github.com/hitoshi/swim/internal/scope"
)

// SchemaFunc はエンティティのコンテンツスキーマを解決する。
type SchemaFunc func(ctx context.Context) (*model.ContentSchema, error)

// Namespace はエンティティのスロットへの遅延アクセサ。
// 最初のアクセスで読み込み、以降は同じSetを返す。
// テンプレートからは {{.content.Slot "copy" "body"}} のように参照する。
type Namespace struct {
	ctx    context.Context
	loader *Loader
	scope  *scope.Scope
	target model.Target
	schema SchemaFunc

	set *Set
	err error
}

// NewNamespace はエンティティのNamespaceを生成する。読み込みはまだ行わない。
func (l *Loader) NewNamespace(ctx context.Context, sc *scope.Scope, target model.Target, schema SchemaFunc) *Namespace {
	return &Namespace{ctx: ctx, loader: l, scope: sc, target: target, schema: schema}
}

// Loaded は読み込み済みかどうかを返す。
func (n *Namespace) Loaded() bool { return n.set != nil || n.err != nil }

// Target はアクセサの対象エンティティを返す。
func (n *Namespace) Target() model.Target { return n.target }

func (n *Namespace) load() (*Set, error) {
	if n.Loaded() {
		return n.set, n.err
	}
	var schema *model.ContentSchema
	if n.schema != nil {
		schema, n.err = n.schema(n.ctx)
		if n.err != nil {
			return nil, n.err
		}
	}
	n.set, n.err = n.loader.Load(n.ctx, n.scope, n.target, schema)
	return n.set, n.err
}

func (n *Namespace) checkAtom(atom string) error {
	obj, ok := n.loader.registry.ContentObjectByTargetType(n.target.TargetType())
	if !ok {
		return fmt.Errorf("未登録のエンティティ種別です: %s", n.target.TargetType())
	}
	if _, ok := n.loader.registry.Accessor(obj.Name, atom); !ok {
		return fmt.Errorf("%s にアトム %s のアクセサはありません", obj.Name, atom)
	}
	return nil
}

// Slot はスキーマの多重度で整形したスロットの値を返す。
func (n *Namespace) Slot(atom, key string) (any, error) {
	if err := n.checkAtom(atom); err != nil {
		return nil, err
	}
	set, err := n.load()
	if err != nil {
		return nil, err
	}
	return set.Value(atom, key), nil
}

// Slots はキーのスロット列をorder昇順で返す。
func (n *Namespace) Slots(atom, key string) ([]*model.Slot, error) {
	if err := n.checkAtom(atom); err != nil {
		return nil, err
	}
	set, err := n.load()
	if err != nil {
		return nil, err
	}
	return set.Values(atom, key), nil
}

// Get はアトムの全キーを整形済みの値に対応付けたマップを返す。
func (n *Namespace) Get(atom string) (map[string]any, error) {
	if err := n.checkAtom(atom); err != nil {
		return nil, err
	}
	set, err := n.load()
	if err != nil {
		return nil, err
	}
	return set.Map(atom), nil
}
