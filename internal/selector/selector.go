// Package selector は(リソースタイプ, swim content type, Acceptヘッダー)から
// 描画に使うテンプレートを選択する。
package selector

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/hitoshi/swim/internal/model"
	"github.com/hitoshi/swim/internal/repository"
	"github.com/hitoshi/swim/internal/scope"
)

// 選択失敗の理由。メトリクスのラベルに使う。
const (
	ReasonNotAcceptable        = "not_acceptable"
	ReasonTemplateDoesNotExist = "template_does_not_exist"
)

// FailureObserver はテンプレート選択の失敗を記録する。
type FailureObserver interface {
	ObserveSelectionFailure(reason string)
}

// Selector はテンプレートの候補集合の構築とコンテンツネゴシエーションを行う。
type Selector struct {
	templates   repository.TemplateRepository
	types       repository.ResourceTypeRepository
	siteDomains []string
	observer    FailureObserver
}

// New はSelectorを生成する。siteDomainsが空でなければ候補をリクエストのホストで絞り込む。
func New(templates repository.TemplateRepository, types repository.ResourceTypeRepository, siteDomains []string, observer FailureObserver) *Selector {
	return &Selector{templates: templates, types: types, siteDomains: siteDomains, observer: observer}
}

// Ancestors はリソースタイプ自身から根までのチェーンを返す。スコープにキャッシュする。
func (s *Selector) Ancestors(ctx context.Context, sc *scope.Scope, resourceTypeID string) ([]*model.ResourceType, error) {
	if sc != nil {
		if chain, ok := sc.Ancestors(resourceTypeID); ok {
			return chain, nil
		}
	}
	chain, err := s.types.Ancestors(ctx, resourceTypeID)
	if err != nil {
		return nil, fmt.Errorf("リソースタイプの祖先の取得に失敗しました: %w", err)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("リソースタイプ %s が見つかりません", resourceTypeID)
	}
	if sc != nil {
		sc.SetAncestors(resourceTypeID, chain)
	}
	return chain, nil
}

// Candidates は候補テンプレートを(祖先までの距離, パス)の順に返す。
// 同じメディアタイプでは近い祖先のテンプレートが遠い祖先のものを隠す。
// 結果は(リソースタイプ, swim content type)ごとにスコープにメモする。
func (s *Selector) Candidates(ctx context.Context, sc *scope.Scope, resourceTypeID, swimContentType string) ([]*model.Template, error) {
	if sc != nil {
		if c, ok := sc.Templates(resourceTypeID, swimContentType); ok {
			return c, nil
		}
	}

	chain, err := s.Ancestors(ctx, sc, resourceTypeID)
	if err != nil {
		return nil, err
	}
	depth := make(map[string]int, len(chain))
	ids := make([]string, len(chain))
	for i, rt := range chain {
		ids[i] = rt.ID
		depth[rt.ID] = i
	}

	mappings, err := s.templates.ListMappings(ctx, ids, swimContentType)
	if err != nil {
		return nil, fmt.Errorf("テンプレートマッピングの取得に失敗しました: %w", err)
	}
	for _, m := range mappings {
		m.Depth = depth[m.ResourceTypeID]
	}
	sort.SliceStable(mappings, func(i, j int) bool {
		if mappings[i].Depth != mappings[j].Depth {
			return mappings[i].Depth < mappings[j].Depth
		}
		return mappings[i].Template.Path < mappings[j].Template.Path
	})

	host := s.requestHost(sc)
	closest := make(map[string]int)
	var candidates []*model.Template
	for _, m := range mappings {
		if m.Template.SwimContentType != swimContentType {
			continue
		}
		if host != "" && !m.Template.AllowsDomain(host) {
			continue
		}
		mt := baseMediaType(m.Template.HTTPContentType)
		if d, ok := closest[mt]; ok && d < m.Depth {
			continue
		}
		closest[mt] = m.Depth
		candidates = append(candidates, m.Template)
	}

	if sc != nil {
		sc.SetTemplates(resourceTypeID, swimContentType, candidates)
	}
	return candidates, nil
}

// requestHost はサイトのドメイン集合が設定されている場合にのみ、リクエストのホスト名を返す。
func (s *Selector) requestHost(sc *scope.Scope) string {
	if len(s.siteDomains) == 0 || sc == nil || sc.Request == nil {
		return ""
	}
	host := sc.Request.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}

// Negotiate はAcceptヘッダーの優先順に候補を照合し、最初に一致したテンプレートを返す。
//   - */* は先頭の候補
//   - type/* はメジャータイプが一致する先頭の候補
//   - type/subtype は完全に一致する先頭の候補
func Negotiate(candidates []*model.Template, accept string) (*model.Template, error) {
	for _, r := range ParseAccept(accept) {
		if r.Q <= 0 {
			continue
		}
		for _, t := range candidates {
			if r.Matches(baseMediaType(t.HTTPContentType)) {
				return t, nil
			}
		}
	}
	available := make([]string, len(candidates))
	for i, t := range candidates {
		available[i] = t.HTTPContentType
	}
	return nil, &model.NotAcceptableError{Accept: accept, Available: available}
}

// Select は候補を構築してネゴシエーションを行う。
// 候補がない場合はTemplateDoesNotExistError、一致しない場合はNotAcceptableErrorを返す。
func (s *Selector) Select(ctx context.Context, sc *scope.Scope, resourceTypeID, swimContentType, accept string) (*model.Template, error) {
	candidates, err := s.Candidates(ctx, sc, resourceTypeID, swimContentType)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		s.observe(ReasonTemplateDoesNotExist)
		return nil, &model.TemplateDoesNotExistError{
			ResourceType:    s.typeKey(sc, resourceTypeID),
			SwimContentType: swimContentType,
		}
	}
	t, err := Negotiate(candidates, accept)
	if err != nil {
		s.observe(ReasonNotAcceptable)
		return nil, err
	}
	return t, nil
}

func (s *Selector) typeKey(sc *scope.Scope, id string) string {
	if sc != nil {
		if rt, ok := sc.ResourceType(id); ok {
			return rt.Key
		}
	}
	return id
}

func (s *Selector) observe(reason string) {
	if s.observer != nil {
		s.observer.ObserveSelectionFailure(reason)
	}
}
