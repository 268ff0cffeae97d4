// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizer はスロット本文などの編集者が入力したHTML断片をサニタイズする。
// テンプレートの sanitize フィルタと swim.processors.sanitize_fragment
// レスポンスプロセッサから使われる。
package security

import (
	"net/url"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizer はHTML断片のサニタイズ機能のインターフェースを定義する。
type ContentSanitizer interface {
	// Sanitize はHTML断片をサニタイズして安全なHTMLを返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(rawHTML string) string
}

// contentSanitizer はContentSanitizerの実装。
// bluemondayのポリシーは構築後に変更しないため、並行して使用できる。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerの新しいインスタンスを生成する。
// ポリシーの内容:
//   - 許可タグ: p, br, a, ul, ol, li, blockquote, pre, code, strong, em, h2〜h4, img, figure, figcaption
//   - script, iframe, styleおよびon*イベント属性は許可リストに含めないため除去される
//   - a: サイト内リンクのため相対URLを許可し、外部リンクにtarget="_blank"と
//     rel="noopener noreferrer"を付与する
//   - imgのsrc属性: httpsスキームと相対URLのみ許可
func NewContentSanitizer() ContentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
		"h2", "h3", "h4",
		"figure", "figcaption",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return u.Host != ""
	})

	return &contentSanitizer{policy: p}
}

// Sanitize はHTML断片をサニタイズして安全なHTMLを返す。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}
