package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/swim/internal/model"
)

// PostgresResourceRepo はPostgreSQLを使用したリソースリポジトリ。
type PostgresResourceRepo struct {
	db *sql.DB
}

// NewPostgresResourceRepo はPostgresResourceRepoを生成する。
func NewPostgresResourceRepo(db *sql.DB) *PostgresResourceRepo {
	return &PostgresResourceRepo{db: db}
}

const resourceColumns = `id, path, title, resource_type_id, created_at, updated_at`

func scanResource(s interface{ Scan(...any) error }) (*model.Resource, error) {
	res := &model.Resource{}
	err := s.Scan(&res.ID, &res.Path, &res.Title, &res.ResourceTypeID, &res.CreatedAt, &res.UpdatedAt)
	return res, err
}

// FindByID は指定IDのリソースを取得する。見つからない場合はnilを返す。
func (r *PostgresResourceRepo) FindByID(ctx context.Context, id string) (*model.Resource, error) {
	res, err := scanResource(r.db.QueryRowContext(ctx,
		`SELECT `+resourceColumns+` FROM resource WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("リソースの取得に失敗しました: %w", err)
	}
	return res, nil
}

// FindByPath は正規化済みパスに完全一致するリソースを取得する。見つからない場合はnilを返す。
func (r *PostgresResourceRepo) FindByPath(ctx context.Context, path string) (*model.Resource, error) {
	res, err := scanResource(r.db.QueryRowContext(ctx,
		`SELECT `+resourceColumns+` FROM resource WHERE path = $1`, path))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("パスによるリソースの検索に失敗しました: %w", err)
	}
	return res, nil
}

// FindByPaths は候補パスのいずれかに一致するリソースを1回の問い合わせで取得する。
// パスの長い順に返す。
func (r *PostgresResourceRepo) FindByPaths(ctx context.Context, paths []string) ([]*model.Resource, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+resourceColumns+` FROM resource
		 WHERE path = ANY($1)
		 ORDER BY length(path) DESC`,
		pq.Array(paths),
	)
	if err != nil {
		return nil, fmt.Errorf("候補パスによるリソースの検索に失敗しました: %w", err)
	}
	defer rows.Close()

	var out []*model.Resource
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("リソースの読み取りに失敗しました: %w", err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("リソースの読み取りに失敗しました: %w", err)
	}
	return out, nil
}

// PostgresResourceTypeRepo はPostgreSQLを使用したリソースタイプリポジトリ。
type PostgresResourceTypeRepo struct {
	db *sql.DB
}

// NewPostgresResourceTypeRepo はPostgresResourceTypeRepoを生成する。
func NewPostgresResourceTypeRepo(db *sql.DB) *PostgresResourceTypeRepo {
	return &PostgresResourceTypeRepo{db: db}
}

func scanResourceType(s interface{ Scan(...any) error }) (*model.ResourceType, error) {
	rt := &model.ResourceType{}
	var parentID, schemaID sql.NullString
	var types []string
	if err := s.Scan(&rt.ID, &parentID, &rt.Key, &rt.Title, &schemaID, pq.Array(&types)); err != nil {
		return nil, err
	}
	rt.ParentID = nullStringValue(parentID)
	rt.ContentSchemaID = nullStringValue(schemaID)
	rt.SwimContentTypes = types
	return rt, nil
}

// FindByID は指定IDのリソースタイプを取得する。見つからない場合はnilを返す。
func (r *PostgresResourceTypeRepo) FindByID(ctx context.Context, id string) (*model.ResourceType, error) {
	rt, err := scanResourceType(r.db.QueryRowContext(ctx,
		`SELECT id, parent_id, key, title, content_schema_id, swim_content_types
		 FROM resource_type WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("リソースタイプの取得に失敗しました: %w", err)
	}
	return rt, nil
}

// FindByKey はキーでリソースタイプを取得する。見つからない場合はnilを返す。
func (r *PostgresResourceTypeRepo) FindByKey(ctx context.Context, key string) (*model.ResourceType, error) {
	rt, err := scanResourceType(r.db.QueryRowContext(ctx,
		`SELECT id, parent_id, key, title, content_schema_id, swim_content_types
		 FROM resource_type WHERE key = $1`, key))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("キーによるリソースタイプの検索に失敗しました: %w", err)
	}
	return rt, nil
}

// Ancestors は指定タイプ自身から根までの祖先チェーンを近い順に返す。
// 再帰CTEは訪問済みIDを保持して循環を打ち切り、打ち切られた場合はエラーを返す。
func (r *PostgresResourceTypeRepo) Ancestors(ctx context.Context, id string) ([]*model.ResourceType, error) {
	rows, err := r.db.QueryContext(ctx,
		`WITH RECURSIVE chain AS (
		     SELECT t.id, t.parent_id, t.key, t.title, t.content_schema_id, t.swim_content_types,
		            0 AS depth, ARRAY[t.id] AS seen
		     FROM resource_type t WHERE t.id = $1
		   UNION ALL
		     SELECT p.id, p.parent_id, p.key, p.title, p.content_schema_id, p.swim_content_types,
		            c.depth + 1, c.seen || p.id
		     FROM resource_type p JOIN chain c ON p.id = c.parent_id
		     WHERE NOT p.id = ANY(c.seen)
		 )
		 SELECT id, parent_id, key, title, content_schema_id, swim_content_types
		 FROM chain ORDER BY depth`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("リソースタイプの祖先の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var chain []*model.ResourceType
	for rows.Next() {
		rt, err := scanResourceType(rows)
		if err != nil {
			return nil, fmt.Errorf("リソースタイプの読み取りに失敗しました: %w", err)
		}
		chain = append(chain, rt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("リソースタイプの読み取りに失敗しました: %w", err)
	}
	if err := checkChain(chain); err != nil {
		return nil, err
	}
	return chain, nil
}

// checkChain は祖先チェーンの末尾が根であることを検証する。
func checkChain(chain []*model.ResourceType) error {
	if len(chain) == 0 {
		return nil
	}
	if last := chain[len(chain)-1]; !last.IsRoot() {
		return fmt.Errorf("リソースタイプ %s の親チェーンが循環しています", chain[0].Key)
	}
	return nil
}

// PostgresContentSchemaRepo はPostgreSQLを使用したコンテンツスキーマリポジトリ。
type PostgresContentSchemaRepo struct {
	db *sql.DB
}

// NewPostgresContentSchemaRepo はPostgresContentSchemaRepoを生成する。
func NewPostgresContentSchemaRepo(db *sql.DB) *PostgresContentSchemaRepo {
	return &PostgresContentSchemaRepo{db: db}
}

// FindByID はメンバーをsort_order順に含むスキーマを取得する。見つからない場合はnilを返す。
func (r *PostgresContentSchemaRepo) FindByID(ctx context.Context, id string) (*model.ContentSchema, error) {
	s := &model.ContentSchema{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, key, title FROM content_schema WHERE id = $1`, id,
	).Scan(&s.ID, &s.Key, &s.Title)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("コンテンツスキーマの取得に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT sort_order, key, title, cardinality, swim_content_type
		 FROM content_schema_member
		 WHERE content_schema_id = $1
		 ORDER BY sort_order, key`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("スキーマメンバーの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m model.ContentSchemaMember
		if err := rows.Scan(&m.Order, &m.Key, &m.Title, &m.Cardinality, &m.SwimContentType); err != nil {
			return nil, fmt.Errorf("スキーマメンバーの読み取りに失敗しました: %w", err)
		}
		s.Members = append(s.Members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("スキーマメンバーの読み取りに失敗しました: %w", err)
	}
	return s, nil
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
