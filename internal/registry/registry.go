// Package registry はコンテンツオブジェクトとアトム（スロット種別）の
// プロセス全体のレジストリを提供する。
//
// 登録はエンジン構築時にのみ行い、Freeze後は不変となる。
// Freeze後の参照はロックを取らずに並行して安全に行える。
package registry

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hitoshi/swim/internal/model"
)

var (
	// ErrFrozen はFreeze後に登録しようとした場合に返される。
	ErrFrozen = errors.New("registry: already frozen")
	// ErrConflictingRegistration は同名で異なる内容を再登録しようとした場合に返される。
	ErrConflictingRegistration = errors.New("registry: conflicting registration")
	// ErrEmptyName は名前が空の場合に返される。
	ErrEmptyName = errors.New("registry: empty name")
)

// identPattern はSQL識別子として埋め込むテーブル名・カラム名の形式。
var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// StorageKind はスロットの格納種別。種別ごとに1回のバッチ読み込みが行われる。
type StorageKind string

const (
	// StorageCopy はインライン本文を持つスロット。
	StorageCopy StorageKind = "copy"
	// StorageReference は強エンティティを参照するスロット。
	StorageReference StorageKind = "reference"
)

// ContentObject は登録されたエンティティ種別の記述子。
type ContentObject struct {
	// Name はドット区切りの識別名（例: "swim.resource"）。
	Name string
	// SwimContentType はテンプレート選択に使う種別。
	SwimContentType string
	// ContextName はテンプレートコンテキストでの名前（例: "resource"）。
	ContextName string
	// TargetType はスロットのtarget_typeに格納するタグ。
	TargetType string
}

// JoinHint は参照スロットの参照先を同一クエリで取得するための結合情報。
type JoinHint struct {
	Table   string
	Columns []string
}

// AtomType はエンティティにスロットアクセサとして付与されるアトムの記述子。
type AtomType struct {
	// AttributeName はアクセサ名（例: "copy"）。テンプレートからは slot "copy" "body" で参照する。
	AttributeName string
	Storage       StorageKind
	// SwimContentType はスキーマメンバーと照合する種別。
	SwimContentType string
	// ReferenceKind は参照スロットが指すエンティティ種別。
	ReferenceKind string
	Join          *JoinHint
}

// SlotAdminFactory は編集画面向けのスロットフォーム記述を生成する。
type SlotAdminFactory func(atom AtomType) AdminForm

// AdminForm は編集画面に渡すフォームの記述。
type AdminForm struct {
	Atom   string   `json:"atom"`
	Fields []string `json:"fields"`
}

// Accessor はエンティティにアトムごとに付与される遅延スロットアクセサ。
type Accessor struct {
	ContentObject string
	Atom          AtomType
}

// Registry はコンテンツオブジェクト、アトム、管理画面ファクトリのテーブル。
type Registry struct {
	mu     sync.Mutex
	frozen atomic.Bool

	objects      map[string]ContentObject
	byTargetType map[string]string
	atoms        map[string]AtomType
	atomOrder    []string
	factories    map[string]SlotAdminFactory
	accessors    map[string]map[string]Accessor
	swimTypes    map[string]bool
	storageKinds []StorageKind
}

// New は空のRegistryを生成する。
func New() *Registry {
	return &Registry{
		objects:      make(map[string]ContentObject),
		byTargetType: make(map[string]string),
		atoms:        make(map[string]AtomType),
		factories:    make(map[string]SlotAdminFactory),
		accessors:    make(map[string]map[string]Accessor),
		swimTypes:    make(map[string]bool),
	}
}

// RegisterContentObject はエンティティ種別を登録し、既知の全アトムのアクセサを付与する。
// 同一内容の再登録は何もしない。
func (r *Registry) RegisterContentObject(obj ContentObject) error {
	if obj.Name == "" || obj.TargetType == "" || obj.SwimContentType == "" {
		return ErrEmptyName
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return ErrFrozen
	}

	if old, ok := r.objects[obj.Name]; ok {
		if old == obj {
			return nil
		}
		return fmt.Errorf("%w: content object %s", ErrConflictingRegistration, obj.Name)
	}
	if other, ok := r.byTargetType[obj.TargetType]; ok {
		return fmt.Errorf("%w: target type %s already owned by %s", ErrConflictingRegistration, obj.TargetType, other)
	}

	r.objects[obj.Name] = obj
	r.byTargetType[obj.TargetType] = obj.Name
	r.swimTypes[obj.SwimContentType] = true
	r.accessors[obj.Name] = make(map[string]Accessor, len(r.atoms))
	for _, name := range r.atomOrder {
		r.accessors[obj.Name][name] = Accessor{ContentObject: obj.Name, Atom: r.atoms[name]}
	}
	return nil
}

// RegisterAtom はアトム種別を登録し、登録済みの全エンティティにアクセサを付与する。
func (r *Registry) RegisterAtom(atom AtomType, factory SlotAdminFactory) error {
	if atom.AttributeName == "" || atom.SwimContentType == "" {
		return ErrEmptyName
	}
	if err := validateAtom(atom); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return ErrFrozen
	}

	if old, ok := r.atoms[atom.AttributeName]; ok {
		if sameAtom(old, atom) {
			return nil
		}
		return fmt.Errorf("%w: atom %s", ErrConflictingRegistration, atom.AttributeName)
	}

	r.atoms[atom.AttributeName] = atom
	r.atomOrder = append(r.atomOrder, atom.AttributeName)
	r.swimTypes[atom.SwimContentType] = true
	if factory != nil {
		r.factories[atom.AttributeName] = factory
	}
	if !containsKind(r.storageKinds, atom.Storage) {
		r.storageKinds = append(r.storageKinds, atom.Storage)
	}
	for name := range r.objects {
		r.accessors[name][atom.AttributeName] = Accessor{ContentObject: name, Atom: atom}
	}
	return nil
}

// Freeze は以降の登録を禁止する。
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen.Store(true)
}

// Frozen はFreeze済みかどうかを返す。
func (r *Registry) Frozen() bool { return r.frozen.Load() }

// read はFreeze前の参照のみロックを取る。
func (r *Registry) read() func() {
	if r.frozen.Load() {
		return func() {}
	}
	r.mu.Lock()
	return r.mu.Unlock
}

// ContentObject は名前でエンティティ種別を取得する。
func (r *Registry) ContentObject(name string) (ContentObject, bool) {
	defer r.read()()
	obj, ok := r.objects[name]
	return obj, ok
}

// ContentObjectByTargetType はスロットのtarget_typeからエンティティ種別を取得する。
func (r *Registry) ContentObjectByTargetType(targetType string) (ContentObject, bool) {
	defer r.read()()
	name, ok := r.byTargetType[targetType]
	if !ok {
		return ContentObject{}, false
	}
	return r.objects[name], true
}

// ContentObjects は登録済みエンティティ種別を名前順に返す。
func (r *Registry) ContentObjects() []ContentObject {
	defer r.read()()
	out := make([]ContentObject, 0, len(r.objects))
	for _, o := range r.objects {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// TargetTypes は登録済みのtarget_type一覧をソートして返す。
func (r *Registry) TargetTypes() []string {
	defer r.read()()
	out := make([]string, 0, len(r.byTargetType))
	for t := range r.byTargetType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Atom は属性名でアトム種別を取得する。
func (r *Registry) Atom(attributeName string) (AtomType, bool) {
	defer r.read()()
	a, ok := r.atoms[attributeName]
	return a, ok
}

// Atoms は登録順にアトム種別を返す。
func (r *Registry) Atoms() []AtomType {
	defer r.read()()
	out := make([]AtomType, 0, len(r.atomOrder))
	for _, name := range r.atomOrder {
		out = append(out, r.atoms[name])
	}
	return out
}

// AtomsByStorage は格納種別に属するアトムを登録順に返す。
func (r *Registry) AtomsByStorage(kind StorageKind) []AtomType {
	defer r.read()()
	var out []AtomType
	for _, name := range r.atomOrder {
		if a := r.atoms[name]; a.Storage == kind {
			out = append(out, a)
		}
	}
	return out
}

// StorageKinds は登録済みアトムが使う格納種別を登録順に返す。
func (r *Registry) StorageKinds() []StorageKind {
	defer r.read()()
	return append([]StorageKind(nil), r.storageKinds...)
}

// Accessor はエンティティ種別に付与されたアトムのアクセサを返す。
func (r *Registry) Accessor(contentObject, attributeName string) (Accessor, bool) {
	defer r.read()()
	a, ok := r.accessors[contentObject][attributeName]
	return a, ok
}

// AdminForms は管理画面ファクトリが生成したフォーム記述をアトム登録順に返す。
func (r *Registry) AdminForms() []AdminForm {
	defer r.read()()
	var out []AdminForm
	for _, name := range r.atomOrder {
		if f, ok := r.factories[name]; ok {
			out = append(out, f(r.atoms[name]))
		}
	}
	return out
}

// HasSwimContentType はswim content typeが登録済みかどうかを返す。
func (r *Registry) HasSwimContentType(sct string) bool {
	defer r.read()()
	return r.swimTypes[sct]
}

// ValidateSchema はスキーマの全メンバーのswim content typeが登録済みかを検証する。
func (r *Registry) ValidateSchema(s *model.ContentSchema) error {
	if err := model.ValidateSchema(s); err != nil {
		return err
	}
	if s == nil {
		return nil
	}
	for _, m := range s.Members {
		if !r.HasSwimContentType(m.SwimContentType) {
			return model.NewValidationError("content_schema_member.swim_content_type",
				"unregistered swim content type "+m.SwimContentType)
		}
	}
	return nil
}

// ValidateTargetType はスロットのtarget_typeが登録済みエンティティ種別かを検証する。
func (r *Registry) ValidateTargetType(targetType string) error {
	if _, ok := r.ContentObjectByTargetType(targetType); !ok {
		return model.NewValidationError("slot.target_type", "unregistered target type "+targetType)
	}
	return nil
}

func validateAtom(a AtomType) error {
	switch a.Storage {
	case StorageCopy:
		if a.Join != nil {
			return model.NewValidationError("atom.join", "copy storage cannot declare a join")
		}
	case StorageReference:
		if a.ReferenceKind == "" {
			return model.NewValidationError("atom.reference_kind", "reference storage requires a kind")
		}
		if a.Join != nil {
			if !identPattern.MatchString(a.Join.Table) {
				return model.NewValidationError("atom.join.table", "invalid identifier "+a.Join.Table)
			}
			for _, c := range a.Join.Columns {
				if !identPattern.MatchString(c) {
					return model.NewValidationError("atom.join.columns", "invalid identifier "+c)
				}
			}
		}
	default:
		return model.NewValidationError("atom.storage", "unknown storage kind "+string(a.Storage))
	}
	return nil
}

func sameAtom(a, b AtomType) bool {
	if a.AttributeName != b.AttributeName || a.Storage != b.Storage ||
		a.SwimContentType != b.SwimContentType || a.ReferenceKind != b.ReferenceKind {
		return false
	}
	if (a.Join == nil) != (b.Join == nil) {
		return false
	}
	if a.Join == nil {
		return true
	}
	if a.Join.Table != b.Join.Table || len(a.Join.Columns) != len(b.Join.Columns) {
		return false
	}
	for i := range a.Join.Columns {
		if a.Join.Columns[i] != b.Join.Columns[i] {
			return false
		}
	}
	return true
}

func containsKind(kinds []StorageKind, k StorageKind) bool {
	for _, v := range kinds {
		if v == k {
			return true
		}
	}
	return false
}
