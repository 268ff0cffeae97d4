// Package model はドメインモデルを定義する。
package model

import "time"

// 予約済みのリソースタイプキー。
const (
	// ResourceTypeDefault はルートに位置する既定のリソースタイプ。
	ResourceTypeDefault = "default"
	// ResourceTypeNotFound は404ページの描画に使う合成リソースのタイプ。
	ResourceTypeNotFound = "not_found_404"
	// ResourceTypeServerError は500ページの描画に使う合成リソースのタイプ。
	ResourceTypeServerError = "server_error_500"
)

// TargetTypeResource はリソースをスロットのターゲットとして参照する際のタグ。
const TargetTypeResource = "swim.resource"

// SwimContentTypeResource はリソースそのものを描画するテンプレートのswim content type。
const SwimContentTypeResource = "swim.resource"

// Resource はパスで一意に識別されるコンテンツの単位を表す。
type Resource struct {
	ID             string
	Path           string
	Title          string
	ResourceTypeID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TargetType はスロットのターゲット種別を返す。
func (r *Resource) TargetType() string { return TargetTypeResource }

// TargetID はスロットのターゲットIDを返す。
func (r *Resource) TargetID() string { return r.ID }

// SwimContentType はリソースを描画するテンプレートの種別を返す。
func (r *Resource) SwimContentType() string { return SwimContentTypeResource }

// ResourceType はnullableな親を持つツリー上のノード。
// テンプレート、ミドルウェア、レスポンスプロセッサのマッピングのキーとなる。
type ResourceType struct {
	ID              string
	ParentID        string // ルートの場合は空文字列
	Key             string
	Title           string
	ContentSchemaID string // スキーマを持たない場合は空文字列

	// SwimContentTypes は管理画面のフォームで添付できるswim content typeの集合。
	SwimContentTypes []string
}

// IsRoot は親を持たないタイプかどうかを返す。
func (t *ResourceType) IsRoot() bool { return t.ParentID == "" }

// Cardinality はスキーマメンバーの多重度を表す。
type Cardinality string

const (
	// CardinalitySingle は1件のみのスロット。order=1の行が正規の値となる。
	CardinalitySingle Cardinality = "single"
	// CardinalityList は順序付きの複数スロット。
	CardinalityList Cardinality = "list"
)

// Valid は既知の多重度かどうかを返す。
func (c Cardinality) Valid() bool {
	return c == CardinalitySingle || c == CardinalityList
}

// ContentSchema はリソースタイプが公開するスロットキーの順序付きリスト。
type ContentSchema struct {
	ID      string
	Key     string
	Title   string
	Members []ContentSchemaMember
}

// ContentSchemaMember はスキーマ内の1スロットキーの宣言。
type ContentSchemaMember struct {
	Order           int
	Key             string
	Title           string
	Cardinality     Cardinality
	SwimContentType string
}

// Member は指定swim content typeとキーに一致するメンバーを返す。
func (s *ContentSchema) Member(swimContentType, key string) (ContentSchemaMember, bool) {
	if s == nil {
		return ContentSchemaMember{}, false
	}
	for _, m := range s.Members {
		if m.Key == key && m.SwimContentType == swimContentType {
			return m, true
		}
	}
	return ContentSchemaMember{}, false
}

// SiteContent はサイト全体で共有されるキー付きのコンテンツ。
type SiteContent struct {
	Key   string
	Value string
}
