package render

import (
	"context"
	"fmt"
	"regexp"

	"github.com/hitoshi/swim/internal/model"
	"github.com/hitoshi/swim/internal/repository"
)

// extendsPattern は本文先頭の {{extends "/path"}} 指示にマッチする。
var extendsPattern = regexp.MustCompile(`^\s*\{\{-?\s*extends\s+"([^"]+)"\s*-?\}\}`)

// maxExtendsDepth は継承チェーンの最大長。
const maxExtendsDepth = 16

// parentPath は本文が継承する親テンプレートのパスを返す。継承しない場合は空文字列。
func parentPath(body string) string {
	m := extendsPattern.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return m[1]
}

func stripExtends(body string) string {
	return extendsPattern.ReplaceAllString(body, "")
}

// resolveChain はテンプレートの継承チェーンを根が先頭になるように返す。
// 親が存在しない場合や循環している場合はTemplateDoesNotExistErrorを返す。
func resolveChain(ctx context.Context, repo repository.TemplateRepository, t *model.Template) ([]*model.Template, error) {
	chain := []*model.Template{t}
	seen := map[string]bool{t.Path: true}

	for cur := t; ; {
		parent := parentPath(cur.Body)
		if parent == "" {
			break
		}
		if seen[parent] || len(chain) >= maxExtendsDepth {
			return nil, &model.TemplateDoesNotExistError{Path: parent}
		}
		if repo == nil {
			return nil, &model.TemplateDoesNotExistError{Path: parent}
		}
		p, err := repo.FindByPath(ctx, parent)
		if err != nil {
			return nil, fmt.Errorf("親テンプレートの取得に失敗しました: %w", err)
		}
		if p == nil {
			return nil, &model.TemplateDoesNotExistError{Path: parent}
		}
		seen[parent] = true
		chain = append(chain, p)
		cur = p
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}
