package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/swim/internal/model"
)

// chainTables はフック種別ごとのマッピングテーブル。
var chainTables = map[model.ChainKind]string{
	model.ChainMiddleware:        "middleware_mapping",
	model.ChainResponseProcessor: "response_processor_mapping",
}

// PostgresChainRepo はPostgreSQLを使用したフックマッピングリポジトリ。
type PostgresChainRepo struct {
	db *sql.DB
}

// NewPostgresChainRepo はPostgresChainRepoを生成する。
func NewPostgresChainRepo(db *sql.DB) *PostgresChainRepo {
	return &PostgresChainRepo{db: db}
}

// ListMappings は指定リソースタイプ群に対応付けられたフックの行を返す。
func (r *PostgresChainRepo) ListMappings(ctx context.Context, kind model.ChainKind, resourceTypeIDs []string) ([]*model.ChainMapping, error) {
	table, ok := chainTables[kind]
	if !ok {
		return nil, fmt.Errorf("未知のフック種別です: %s", kind)
	}
	if len(resourceTypeIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT resource_type_id, function, sort_order FROM `+table+`
		 WHERE resource_type_id = ANY($1)
		 ORDER BY sort_order, id`,
		pq.Array(resourceTypeIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("%sの取得に失敗しました: %w", table, err)
	}
	defer rows.Close()

	var out []*model.ChainMapping
	for rows.Next() {
		m := &model.ChainMapping{}
		if err := rows.Scan(&m.ResourceTypeID, &m.Function, &m.Order); err != nil {
			return nil, fmt.Errorf("%sの読み取りに失敗しました: %w", table, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%sの読み取りに失敗しました: %w", table, err)
	}
	return out, nil
}

// PostgresHandlerRepo はPostgreSQLを使用したリクエストハンドラマッピングリポジトリ。
type PostgresHandlerRepo struct {
	db *sql.DB
}

// NewPostgresHandlerRepo はPostgresHandlerRepoを生成する。
func NewPostgresHandlerRepo(db *sql.DB) *PostgresHandlerRepo {
	return &PostgresHandlerRepo{db: db}
}

// ListByPath は正規化済みパスに登録された全メソッドの行をメソッド順に返す。
func (r *PostgresHandlerRepo) ListByPath(ctx context.Context, path string) ([]*model.HandlerMapping, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT path, method, handler FROM request_handler_mapping
		 WHERE path = $1 ORDER BY method`,
		path,
	)
	if err != nil {
		return nil, fmt.Errorf("リクエストハンドラの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var out []*model.HandlerMapping
	for rows.Next() {
		m := &model.HandlerMapping{}
		if err := rows.Scan(&m.Path, &m.Method, &m.Handler); err != nil {
			return nil, fmt.Errorf("リクエストハンドラの読み取りに失敗しました: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("リクエストハンドラの読み取りに失敗しました: %w", err)
	}
	return out, nil
}

// PostgresRedirectRepo はPostgreSQLを使用したパスリダイレクトリポジトリ。
type PostgresRedirectRepo struct {
	db *sql.DB
}

// NewPostgresRedirectRepo はPostgresRedirectRepoを生成する。
func NewPostgresRedirectRepo(db *sql.DB) *PostgresRedirectRepo {
	return &PostgresRedirectRepo{db: db}
}

// FindByPath は完全一致するリダイレクトを取得する。見つからない場合はnilを返す。
func (r *PostgresRedirectRepo) FindByPath(ctx context.Context, path string) (*model.PathRedirect, error) {
	pr := &model.PathRedirect{}
	err := r.db.QueryRowContext(ctx,
		`SELECT path, redirect_path, redirect_type FROM path_redirect WHERE path = $1`, path,
	).Scan(&pr.Path, &pr.RedirectPath, &pr.RedirectType)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("パスリダイレクトの取得に失敗しました: %w", err)
	}
	return pr, nil
}

// PostgresAccessRestrictionRepo はPostgreSQLを使用したアクセス制限リポジトリ。
type PostgresAccessRestrictionRepo struct {
	db *sql.DB
}

// NewPostgresAccessRestrictionRepo はPostgresAccessRestrictionRepoを生成する。
func NewPostgresAccessRestrictionRepo(db *sql.DB) *PostgresAccessRestrictionRepo {
	return &PostgresAccessRestrictionRepo{db: db}
}

// FindByPaths は候補パスのいずれかに一致する制限を1回の問い合わせで取得する。
func (r *PostgresAccessRestrictionRepo) FindByPaths(ctx context.Context, paths []string) ([]*model.AccessRestriction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT path, restricted, realm, username, password_hash
		 FROM access_restriction
		 WHERE path = ANY($1)
		 ORDER BY length(path) DESC`,
		pq.Array(paths),
	)
	if err != nil {
		return nil, fmt.Errorf("アクセス制限の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var out []*model.AccessRestriction
	for rows.Next() {
		ar := &model.AccessRestriction{}
		var realm, username, hash sql.NullString
		if err := rows.Scan(&ar.Path, &ar.Restricted, &realm, &username, &hash); err != nil {
			return nil, fmt.Errorf("アクセス制限の読み取りに失敗しました: %w", err)
		}
		ar.Realm = nullStringValue(realm)
		ar.Username = nullStringValue(username)
		ar.PasswordHash = nullStringValue(hash)
		out = append(out, ar)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("アクセス制限の読み取りに失敗しました: %w", err)
	}
	return out, nil
}

// PostgresSiteContentRepo はPostgreSQLを使用したサイトコンテンツリポジトリ。
type PostgresSiteContentRepo struct {
	db *sql.DB
}

// NewPostgresSiteContentRepo はPostgresSiteContentRepoを生成する。
func NewPostgresSiteContentRepo(db *sql.DB) *PostgresSiteContentRepo {
	return &PostgresSiteContentRepo{db: db}
}

// List は全レコードをキー順に返す。
func (r *PostgresSiteContentRepo) List(ctx context.Context) ([]*model.SiteContent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT key, value FROM site_content ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("サイトコンテンツの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var out []*model.SiteContent
	for rows.Next() {
		sc := &model.SiteContent{}
		if err := rows.Scan(&sc.Key, &sc.Value); err != nil {
			return nil, fmt.Errorf("サイトコンテンツの読み取りに失敗しました: %w", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("サイトコンテンツの読み取りに失敗しました: %w", err)
	}
	return out, nil
}

// NewPostgresStore はPostgreSQL実装のリポジトリ群をまとめたStoreを生成する。
func NewPostgresStore(db *sql.DB) Store {
	return Store{
		Resources:     NewPostgresResourceRepo(db),
		ResourceTypes: NewPostgresResourceTypeRepo(db),
		Schemas:       NewPostgresContentSchemaRepo(db),
		Templates:     NewPostgresTemplateRepo(db),
		Slots:         NewPostgresSlotRepo(db),
		Chains:        NewPostgresChainRepo(db),
		Handlers:      NewPostgresHandlerRepo(db),
		Redirects:     NewPostgresRedirectRepo(db),
		Restrictions:  NewPostgresAccessRestrictionRepo(db),
		SiteContent:   NewPostgresSiteContentRepo(db),
	}
}

var (
	_ ResourceRepository          = (*PostgresResourceRepo)(nil)
	_ ResourceTypeRepository      = (*PostgresResourceTypeRepo)(nil)
	_ ContentSchemaRepository     = (*PostgresContentSchemaRepo)(nil)
	_ TemplateRepository          = (*PostgresTemplateRepo)(nil)
	_ SlotRepository              = (*PostgresSlotRepo)(nil)
	_ ChainRepository             = (*PostgresChainRepo)(nil)
	_ HandlerRepository           = (*PostgresHandlerRepo)(nil)
	_ RedirectRepository          = (*PostgresRedirectRepo)(nil)
	_ AccessRestrictionRepository = (*PostgresAccessRestrictionRepo)(nil)
	_ SiteContentRepository       = (*PostgresSiteContentRepo)(nil)
)
