package registry

import "github.com/hitoshi/swim/internal/model"

// 組み込みアトムの属性名とswim content type。
const (
	AtomCopy = "copy"
	AtomPage = "page"

	SwimContentTypeCopy = "swim.copy"
	SwimContentTypePage = "swim.page"
)

// ResourceObject はリソースのコンテンツオブジェクト記述子。
var ResourceObject = ContentObject{
	Name:            "swim.resource",
	SwimContentType: model.SwimContentTypeResource,
	ContextName:     "resource",
	TargetType:      model.TargetTypeResource,
}

// CopyAtom はインライン本文を持つ組み込みアトム。
var CopyAtom = AtomType{
	AttributeName:   AtomCopy,
	Storage:         StorageCopy,
	SwimContentType: SwimContentTypeCopy,
}

// PageAtom は他のリソースを参照する組み込みアトム。
// 参照先のパスとタイトルは同一クエリで取得する。
var PageAtom = AtomType{
	AttributeName:   AtomPage,
	Storage:         StorageReference,
	SwimContentType: SwimContentTypePage,
	ReferenceKind:   model.TargetTypeResource,
	Join:            &JoinHint{Table: "resource", Columns: []string{"path", "title"}},
}

// NewDefault は組み込みのコンテンツオブジェクトとアトムを登録したRegistryを生成する。
// 返されるRegistryはFreeze前なので、呼び出し側で追加登録できる。
func NewDefault() (*Registry, error) {
	r := New()
	if err := r.RegisterContentObject(ResourceObject); err != nil {
		return nil, err
	}
	if err := r.RegisterAtom(CopyAtom, copyForm); err != nil {
		return nil, err
	}
	if err := r.RegisterAtom(PageAtom, pageForm); err != nil {
		return nil, err
	}
	return r, nil
}

func copyForm(a AtomType) AdminForm {
	return AdminForm{Atom: a.AttributeName, Fields: []string{"key", "order", "body"}}
}

func pageForm(a AtomType) AdminForm {
	return AdminForm{Atom: a.AttributeName, Fields: []string{"key", "order", "reference_id"}}
}
