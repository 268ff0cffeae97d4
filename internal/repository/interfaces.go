// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/swim/internal/model"
	"github.com/hitoshi/swim/internal/registry"
)

// ResourceRepository はリソースの永続化インターフェース。
type ResourceRepository interface {
	// FindByID は指定IDのリソースを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Resource, error)

	// FindByPath は正規化済みパスに完全一致するリソースを取得する。見つからない場合はnilを返す。
	FindByPath(ctx context.Context, path string) (*model.Resource, error)

	// FindByPaths は候補パスのいずれかに一致するリソースを1回の問い合わせで取得する。
	FindByPaths(ctx context.Context, paths []string) ([]*model.Resource, error)
}

// ResourceTypeRepository はリソースタイプの永続化インターフェース。
type ResourceTypeRepository interface {
	// FindByID は指定IDのリソースタイプを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.ResourceType, error)

	// FindByKey はキーでリソースタイプを取得する。見つからない場合はnilを返す。
	FindByKey(ctx context.Context, key string) (*model.ResourceType, error)

	// Ancestors は指定タイプ自身から根までの祖先チェーンを近い順に返す。
	// 親チェーンが循環している場合はエラーを返す。
	Ancestors(ctx context.Context, id string) ([]*model.ResourceType, error)
}

// ContentSchemaRepository はコンテンツスキーマの永続化インターフェース。
type ContentSchemaRepository interface {
	// FindByID はメンバーをsort_order順に含むスキーマを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.ContentSchema, error)
}

// TemplateRepository はテンプレートとマッピングの永続化インターフェース。
type TemplateRepository interface {
	// FindByPath はパスでテンプレートを取得する。見つからない場合はnilを返す。
	FindByPath(ctx context.Context, path string) (*model.Template, error)

	// ListMappings は指定リソースタイプ群に対応付けられ、swim content typeが一致する
	// マッピングをテンプレートパス順に返す。Depthは呼び出し側が埋める。
	ListMappings(ctx context.Context, resourceTypeIDs []string, swimContentType string) ([]*model.TemplateMapping, error)
}

// SlotRepository はスロットの永続化インターフェース。
type SlotRepository interface {
	// ListByTarget は1つの格納種別について、エンティティの全スロットを1回の読み込みで取得する。
	// 結果は(key, sort_order)の昇順。参照系は結合ヒントに従い参照先を同時に取得する。
	ListByTarget(ctx context.Context, kind registry.StorageKind, atoms []registry.AtomType, targetType, targetID string) ([]*model.Slot, error)

	// DeleteDangling は登録されていないtarget_typeのスロットと、
	// 添付先のリソースが存在しないスロットを削除し、削除件数を返す。
	DeleteDangling(ctx context.Context, kind registry.StorageKind, registeredTargetTypes []string) (int64, error)
}

// ChainRepository はミドルウェアとレスポンスプロセッサのマッピングの永続化インターフェース。
type ChainRepository interface {
	// ListMappings は指定リソースタイプ群に対応付けられたフックの行を返す。Depthは呼び出し側が埋める。
	ListMappings(ctx context.Context, kind model.ChainKind, resourceTypeIDs []string) ([]*model.ChainMapping, error)
}

// HandlerRepository はリクエストハンドラのマッピングの永続化インターフェース。
type HandlerRepository interface {
	// ListByPath は正規化済みパスに登録された全メソッドの行を返す。
	ListByPath(ctx context.Context, path string) ([]*model.HandlerMapping, error)
}

// RedirectRepository はパスリダイレクトの永続化インターフェース。
type RedirectRepository interface {
	// FindByPath は完全一致するリダイレクトを取得する。見つからない場合はnilを返す。
	FindByPath(ctx context.Context, path string) (*model.PathRedirect, error)
}

// AccessRestrictionRepository はアクセス制限の永続化インターフェース。
type AccessRestrictionRepository interface {
	// FindByPaths は候補パスのいずれかに一致する制限を1回の問い合わせで取得する。
	FindByPaths(ctx context.Context, paths []string) ([]*model.AccessRestriction, error)
}

// SiteContentRepository はサイト全体のコンテンツの永続化インターフェース。
type SiteContentRepository interface {
	// List は全レコードをキー順に返す。
	List(ctx context.Context) ([]*model.SiteContent, error)
}

// Store はリクエストパイプラインが使うリポジトリ群。
type Store struct {
	Resources     ResourceRepository
	ResourceTypes ResourceTypeRepository
	Schemas       ContentSchemaRepository
	Templates     TemplateRepository
	Slots         SlotRepository
	Chains        ChainRepository
	Handlers      HandlerRepository
	Redirects     RedirectRepository
	Restrictions  AccessRestrictionRepository
	SiteContent   SiteContentRepository
}
