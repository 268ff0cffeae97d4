package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/swim/internal/model"
)

// PostgresTemplateRepo はPostgreSQLを使用したテンプレートリポジトリ。
type PostgresTemplateRepo struct {
	db *sql.DB
}

// NewPostgresTemplateRepo はPostgresTemplateRepoを生成する。
func NewPostgresTemplateRepo(db *sql.DB) *PostgresTemplateRepo {
	return &PostgresTemplateRepo{db: db}
}

const templateColumns = `t.id, t.path, t.body, t.http_content_type, t.swim_content_type,
		        t.engine, t.domains, t.created_at, t.updated_at`

func scanTemplate(dest []any, t *model.Template) []any {
	return append(dest,
		&t.ID, &t.Path, &t.Body, &t.HTTPContentType, &t.SwimContentType,
		&t.Engine, pq.Array(&t.Domains), &t.CreatedAt, &t.UpdatedAt,
	)
}

// FindByPath はパスでテンプレートを取得する。見つからない場合はnilを返す。
func (r *PostgresTemplateRepo) FindByPath(ctx context.Context, path string) (*model.Template, error) {
	t := &model.Template{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM template t WHERE t.path = $1`, path,
	).Scan(scanTemplate(nil, t)...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("テンプレートの取得に失敗しました: %w", err)
	}
	return t, nil
}

// ListMappings は指定リソースタイプ群に対応付けられ、swim content typeが一致する
// マッピングをテンプレートパス順に返す。
func (r *PostgresTemplateRepo) ListMappings(ctx context.Context, resourceTypeIDs []string, swimContentType string) ([]*model.TemplateMapping, error) {
	if len(resourceTypeIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT m.resource_type_id, `+templateColumns+`
		 FROM resource_type_template_mapping m
		 JOIN template t ON t.id = m.template_id
		 WHERE m.resource_type_id = ANY($1) AND t.swim_content_type = $2
		 ORDER BY t.path`,
		pq.Array(resourceTypeIDs), swimContentType,
	)
	if err != nil {
		return nil, fmt.Errorf("テンプレートマッピングの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var out []*model.TemplateMapping
	for rows.Next() {
		m := &model.TemplateMapping{Template: &model.Template{}}
		if err := rows.Scan(scanTemplate([]any{&m.ResourceTypeID}, m.Template)...); err != nil {
			return nil, fmt.Errorf("テンプレートマッピングの読み取りに失敗しました: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("テンプレートマッピングの読み取りに失敗しました: %w", err)
	}
	return out, nil
}
