package pipeline

import (
	"context"
	"fmt"

	"github.com/hitoshi/swim/internal/model"
	"github.com/hitoshi/swim/internal/repository"
	"github.com/hitoshi/swim/internal/resolver"
)

// Matcher は正規化済みパスに対応するリソースを返す。見つからない場合はnilを返す。
type Matcher interface {
	Match(ctx context.Context, path string) (*model.Resource, error)
}

// ExactMatcher はパスが完全に一致するリソースを返す既定のMatcher。
type ExactMatcher struct {
	repo repository.ResourceRepository
}

// NewExactMatcher はExactMatcherを生成する。
func NewExactMatcher(repo repository.ResourceRepository) *ExactMatcher {
	return &ExactMatcher{repo: repo}
}

// Match はパスが完全に一致するリソースを返す。
func (m *ExactMatcher) Match(ctx context.Context, path string) (*model.Resource, error) {
	res, err := m.repo.FindByPath(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("リソースの取得に失敗しました: %w", err)
	}
	return res, nil
}

// PrefixMatcher はパスのスラッシュ境界の接頭辞のうち最も長いパスを持つリソースを返す。
// 部分木を所有するリソースのために、候補パスを1回の問い合わせで取得する。
type PrefixMatcher struct {
	repo repository.ResourceRepository
}

// NewPrefixMatcher はPrefixMatcherを生成する。
func NewPrefixMatcher(repo repository.ResourceRepository) *PrefixMatcher {
	return &PrefixMatcher{repo: repo}
}

// Match は最も具体的な接頭辞のリソースを返す。
func (m *PrefixMatcher) Match(ctx context.Context, path string) (*model.Resource, error) {
	res, ok, err := resolver.SingleQuery(path,
		func(candidates []string) ([]*model.Resource, error) {
			return m.repo.FindByPaths(ctx, candidates)
		},
		func(r *model.Resource) string { return r.Path },
	)
	if err != nil {
		return nil, fmt.Errorf("リソースの取得に失敗しました: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return res, nil
}

// NewMatcher は名前に対応するMatcherを返す。空文字列はexactとして扱う。
func NewMatcher(name string, repo repository.ResourceRepository) (Matcher, error) {
	switch name {
	case "", "exact":
		return NewExactMatcher(repo), nil
	case "prefix":
		return NewPrefixMatcher(repo), nil
	}
	return nil, fmt.Errorf("不明なリソースマッチャーです: %s", name)
}
