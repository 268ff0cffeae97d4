// Package slot はエンティティに添付されたスロットの一括読み込み、
// キーごとのグルーピング、スキーマに従った多重度の整形を行う。
package slot

import (
	"context"
	"fmt"

	"github.com/hitoshi/swim/internal/model"
	"github.com/hitoshi/swim/internal/registry"
	"github.com/hitoshi/swim/internal/repository"
	"github.com/hitoshi/swim/internal/scope"
)

// ReadObserver はスロットの読み込みを記録する。
type ReadObserver interface {
	ObserveSlotRead(storage string)
}

// Loader はスロットの読み込みを行う。
type Loader struct {
	registry *registry.Registry
	repo     repository.SlotRepository
	observer ReadObserver
}

// NewLoader はLoaderを生成する。observerはnilでもよい。
func NewLoader(reg *registry.Registry, repo repository.SlotRepository, observer ReadObserver) *Loader {
	return &Loader{registry: reg, repo: repo, observer: observer}
}

// Load はエンティティの全スロットを読み込み、スキーマで整形したSetを返す。
// 格納種別ごとに1回だけ読み込み、結果はリクエストスコープにメモする。
// scがnilの場合はメモしない。
func (l *Loader) Load(ctx context.Context, sc *scope.Scope, target model.Target, schema *model.ContentSchema) (*Set, error) {
	if sc != nil {
		if v, ok := sc.Slots(target.TargetType(), target.TargetID()); ok {
			return v.(*Set), nil
		}
	}
	if err := l.registry.ValidateTargetType(target.TargetType()); err != nil {
		return nil, err
	}

	set := newSet(schema)
	for _, kind := range l.registry.StorageKinds() {
		atoms := l.registry.AtomsByStorage(kind)
		rows, err := l.repo.ListByTarget(ctx, kind, atoms, target.TargetType(), target.TargetID())
		if err != nil {
			return nil, fmt.Errorf("スロットの読み込みに失敗しました (%s): %w", kind, err)
		}
		if l.observer != nil {
			l.observer.ObserveSlotRead(string(kind))
		}
		for _, a := range atoms {
			set.atoms[a.AttributeName] = a
		}
		for _, row := range rows {
			set.add(row)
		}
	}

	if sc != nil {
		sc.SetSlots(target.TargetType(), target.TargetID(), set)
	}
	return set, nil
}

// Set は1エンティティ分のグルーピング済みスロット。
// atom → key → order昇順のスロット列を保持する。
type Set struct {
	schema *model.ContentSchema
	atoms  map[string]registry.AtomType
	groups map[string]map[string][]*model.Slot
	order  map[string][]string // atom → 初出順のキー
}

func newSet(schema *model.ContentSchema) *Set {
	return &Set{
		schema: schema,
		atoms:  make(map[string]registry.AtomType),
		groups: make(map[string]map[string][]*model.Slot),
		order:  make(map[string][]string),
	}
}

// add は行を追加する。行はリポジトリが(key, order)順に返す前提。
func (s *Set) add(row *model.Slot) {
	atom, ok := s.atoms[row.Atom]
	if !ok {
		return
	}
	row.ContentType = atom.SwimContentType
	if s.groups[row.Atom] == nil {
		s.groups[row.Atom] = make(map[string][]*model.Slot)
	}
	if _, seen := s.groups[row.Atom][row.Key]; !seen {
		s.order[row.Atom] = append(s.order[row.Atom], row.Key)
	}
	s.groups[row.Atom][row.Key] = append(s.groups[row.Atom][row.Key], row)
}

// Cardinality はアトムとキーに対する多重度を返す。
// スキーマメンバーがない場合はsingleとして扱う。
func (s *Set) Cardinality(atom, key string) model.Cardinality {
	a, ok := s.atoms[atom]
	if !ok {
		return model.CardinalitySingle
	}
	if m, ok := s.schema.Member(a.SwimContentType, key); ok {
		return m.Cardinality
	}
	return model.CardinalitySingle
}

// Value はスキーマの多重度に従って整形した値を返す。
// singleの場合は先頭のスロット（存在しなければnil）、listの場合はスロット列を返す。
func (s *Set) Value(atom, key string) any {
	rows := s.groups[atom][key]
	if s.Cardinality(atom, key) == model.CardinalityList {
		if rows == nil {
			return []*model.Slot{}
		}
		return rows
	}
	if len(rows) == 0 {
		return (*model.Slot)(nil)
	}
	return rows[0]
}

// Values は多重度にかかわらずキーのスロット列をorder昇順で返す。
func (s *Set) Values(atom, key string) []*model.Slot {
	return s.groups[atom][key]
}

// Keys はアトムに存在するキーを返す。スキーマメンバーの順序を優先し、
// スキーマにないキーは読み込み順で後ろに並べる。
func (s *Set) Keys(atom string) []string {
	var keys []string
	seen := make(map[string]bool)
	if a, ok := s.atoms[atom]; ok && s.schema != nil {
		for _, m := range s.schema.Members {
			if m.SwimContentType == a.SwimContentType && !seen[m.Key] {
				keys = append(keys, m.Key)
				seen[m.Key] = true
			}
		}
	}
	for _, k := range s.order[atom] {
		if !seen[k] {
			keys = append(keys, k)
			seen[k] = true
		}
	}
	return keys
}

// Map はアトムの全キーを整形済みの値に対応付けたマップを返す。
func (s *Set) Map(atom string) map[string]any {
	keys := s.Keys(atom)
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		out[k] = s.Value(atom, k)
	}
	return out
}
