// Package site はテンプレートに公開するサイト全体の値を提供する。
package site

import (
	"context"
	"fmt"
	"sync"

	"github.com/hitoshi/swim/internal/repository"
)

// Site はサイト名、ドメイン、サイトコンテンツを公開する遅延値。
// サイトコンテンツは最初にGetかAttrsが呼ばれた時点で読み込む。
type Site struct {
	Name    string
	Domains []string

	ctx  context.Context
	repo repository.SiteContentRepository

	once  sync.Once
	attrs map[string]string
	err   error
}

// New はSiteを生成する。読み込みはまだ行わない。
func New(ctx context.Context, name string, domains []string, repo repository.SiteContentRepository) *Site {
	return &Site{Name: name, Domains: domains, ctx: ctx, repo: repo}
}

func (s *Site) load() {
	s.once.Do(func() {
		s.attrs = make(map[string]string)
		if s.repo == nil {
			return
		}
		records, err := s.repo.List(s.ctx)
		if err != nil {
			s.err = fmt.Errorf("サイトコンテンツの読み込みに失敗しました: %w", err)
			return
		}
		for _, r := range records {
			s.attrs[r.Key] = r.Value
		}
	})
}

// Get はサイトコンテンツのキーに対応する値を返す。存在しない場合は空文字列を返す。
func (s *Site) Get(key string) (string, error) {
	s.load()
	if s.err != nil {
		return "", s.err
	}
	return s.attrs[key], nil
}

// Attrs は全サイトコンテンツをキーと値のマップで返す。
func (s *Site) Attrs() (map[string]string, error) {
	s.load()
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]string, len(s.attrs))
	for k, v := range s.attrs {
		out[k] = v
	}
	return out, nil
}

// Loaded は読み込み済みかどうかを返す。
func (s *Site) Loaded() bool { return s.attrs != nil || s.err != nil }
