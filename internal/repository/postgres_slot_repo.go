package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/hitoshi/swim/internal/model"
	"github.com/hitoshi/swim/internal/registry"
)

// slotTables は格納種別ごとのスロットテーブル。
var slotTables = map[registry.StorageKind]string{
	registry.StorageCopy:      "copy_slot",
	registry.StorageReference: "reference_slot",
}

// PostgresSlotRepo はPostgreSQLを使用したスロットリポジトリ。
type PostgresSlotRepo struct {
	db *sql.DB
}

// NewPostgresSlotRepo はPostgresSlotRepoを生成する。
func NewPostgresSlotRepo(db *sql.DB) *PostgresSlotRepo {
	return &PostgresSlotRepo{db: db}
}

// ListByTarget は1つの格納種別について、エンティティの全スロットを1回の読み込みで取得する。
func (r *PostgresSlotRepo) ListByTarget(ctx context.Context, kind registry.StorageKind, atoms []registry.AtomType, targetType, targetID string) ([]*model.Slot, error) {
	if len(atoms) == 0 {
		return nil, nil
	}
	switch kind {
	case registry.StorageCopy:
		return r.listCopy(ctx, atoms, targetType, targetID)
	case registry.StorageReference:
		return r.listReference(ctx, atoms, targetType, targetID)
	default:
		return nil, fmt.Errorf("未知のスロット格納種別です: %s", kind)
	}
}

func atomNames(atoms []registry.AtomType) []string {
	names := make([]string, len(atoms))
	for i, a := range atoms {
		names[i] = a.AttributeName
	}
	return names
}

func (r *PostgresSlotRepo) listCopy(ctx context.Context, atoms []registry.AtomType, targetType, targetID string) ([]*model.Slot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT s.id, s.target_type, s.target_id, s.atom, s.key, s.sort_order, s.body
		 FROM copy_slot s
		 WHERE s.target_type = $1 AND s.target_id = $2 AND s.atom = ANY($3)
		 ORDER BY s.key, s.sort_order`,
		targetType, targetID, pq.Array(atomNames(atoms)),
	)
	if err != nil {
		return nil, fmt.Errorf("コピースロットの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var out []*model.Slot
	for rows.Next() {
		s := &model.Slot{}
		if err := rows.Scan(&s.ID, &s.OwnerType, &s.OwnerID, &s.Atom, &s.Key, &s.Order, &s.Body); err != nil {
			return nil, fmt.Errorf("コピースロットの読み取りに失敗しました: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("コピースロットの読み取りに失敗しました: %w", err)
	}
	return out, nil
}

// referenceQuery は結合ヒントを持つアトムごとにLEFT JOINを組み立てる。
// テーブル名とカラム名はレジストリ登録時に識別子として検証済み。
func referenceQuery(atoms []registry.AtomType) (string, []registry.AtomType) {
	var (
		cols   strings.Builder
		joins  strings.Builder
		joined []registry.AtomType
	)
	for _, a := range atoms {
		if a.Join == nil {
			continue
		}
		alias := fmt.Sprintf("j%d", len(joined))
		for _, c := range a.Join.Columns {
			fmt.Fprintf(&cols, ", %s.%s::text", alias, c)
		}
		fmt.Fprintf(&joins, "\n\t\t LEFT JOIN %s %s ON s.atom = $%d AND %s.id::text = s.reference_id",
			a.Join.Table, alias, 4+len(joined), alias)
		joined = append(joined, a)
	}
	q := `SELECT s.id, s.target_type, s.target_id, s.atom, s.key, s.sort_order,
		        s.reference_kind, s.reference_id` + cols.String() + `
		 FROM reference_slot s` + joins.String() + `
		 WHERE s.target_type = $1 AND s.target_id = $2 AND s.atom = ANY($3)
		 ORDER BY s.key, s.sort_order`
	return q, joined
}

func (r *PostgresSlotRepo) listReference(ctx context.Context, atoms []registry.AtomType, targetType, targetID string) ([]*model.Slot, error) {
	q, joined := referenceQuery(atoms)
	args := []any{targetType, targetID, pq.Array(atomNames(atoms))}
	for _, a := range joined {
		args = append(args, a.AttributeName)
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("参照スロットの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var out []*model.Slot
	for rows.Next() {
		s := &model.Slot{Reference: &model.Reference{}}
		dest := []any{&s.ID, &s.OwnerType, &s.OwnerID, &s.Atom, &s.Key, &s.Order, &s.Reference.Kind, &s.Reference.ID}
		var values [][]sql.NullString
		for _, a := range joined {
			vs := make([]sql.NullString, len(a.Join.Columns))
			for i := range vs {
				dest = append(dest, &vs[i])
			}
			values = append(values, vs)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("参照スロットの読み取りに失敗しました: %w", err)
		}
		for i, a := range joined {
			if a.AttributeName != s.Atom {
				continue
			}
			s.Reference.Fields = make(map[string]any, len(a.Join.Columns))
			for j, c := range a.Join.Columns {
				if values[i][j].Valid {
					s.Reference.Fields[c] = values[i][j].String
				}
			}
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("参照スロットの読み取りに失敗しました: %w", err)
	}
	return out, nil
}

// DeleteDangling は登録されていないtarget_typeのスロットと、
// 添付先のリソースが存在しないスロットを削除する。
func (r *PostgresSlotRepo) DeleteDangling(ctx context.Context, kind registry.StorageKind, registeredTargetTypes []string) (int64, error) {
	table, ok := slotTables[kind]
	if !ok {
		return 0, fmt.Errorf("未知のスロット格納種別です: %s", kind)
	}
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM `+table+` s
		 WHERE NOT (s.target_type = ANY($1))
		    OR (s.target_type = $2
		        AND NOT EXISTS (SELECT 1 FROM resource r WHERE r.id::text = s.target_id))`,
		pq.Array(registeredTargetTypes), model.TargetTypeResource,
	)
	if err != nil {
		return 0, fmt.Errorf("不要なスロットの削除に失敗しました: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return n, nil
}
