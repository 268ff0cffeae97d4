// Package resolver はパスの正規化と、パスをキーとするテーブルに対する
// 最長プレフィックス（ツリーフォールバック）探索を提供する。
//
// 探索は呼び出し側が渡すlookup関数に委譲するため、リソース、アクセス制限、
// テンプレートなど任意のパス付きレコードに適用できる。
package resolver

import "strings"

// Root はルートパス。
const Root = "/"

// Normalize はパスを正規化する。
//   - フラグメント（#以降）を除去する
//   - 前後のスラッシュを除去し、先頭にスラッシュを1つだけ付与する
//   - ASCII英字を小文字化する
//   - ルートは "/" の1文字とする
//
// Normalize(Normalize(p)) == Normalize(p) が常に成り立つ。
func Normalize(p string) string {
	if i := strings.IndexByte(p, '#'); i >= 0 {
		p = p[:i]
	}
	p = strings.Trim(p, "/")
	if p == "" {
		return Root
	}
	return "/" + lowerASCII(p)
}

// lowerASCII はASCII英字のみを小文字化する。非ASCII文字はそのまま残す。
func lowerASCII(s string) string {
	hasUpper := false
	for i := 0; i < len(s); i++ {
		if c := s[i]; 'A' <= c && c <= 'Z' {
			hasUpper = true
			break
		}
	}
	if !hasUpper {
		return s
	}
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// Candidates は正規化済みパスpの候補パスを、長い順（最も具体的な順）に返す。
// 例: "/a/b/c" → ["/a/b/c", "/a/b", "/a", "/"]
func Candidates(p string) []string {
	p = Normalize(p)
	if p == Root {
		return []string{Root}
	}
	candidates := []string{p}
	for {
		i := strings.LastIndexByte(p, '/')
		if i <= 0 {
			break
		}
		p = p[:i]
		candidates = append(candidates, p)
	}
	return append(candidates, Root)
}

// IsPrefix はprefixがpのスラッシュ境界上のプレフィックスかどうかを返す。
// ルート "/" は全てのパスのプレフィックスとなる。両方とも正規化して比較する。
func IsPrefix(prefix, p string) bool {
	prefix = Normalize(prefix)
	p = Normalize(p)
	if prefix == Root || prefix == p {
		return true
	}
	return strings.HasPrefix(p, prefix+"/")
}

// TreeFallback は反復版のツリーフォールバック探索を行う。
// pの完全一致から始めて末尾セグメントを1つずつ取り除きながらlookupを呼び、
// 最初に見つかったレコードを返す。どの候補にも一致しなければfound=falseを返す。
func TreeFallback[T any](p string, lookup func(candidate string) (T, bool, error)) (T, bool, error) {
	var zero T
	for _, c := range Candidates(p) {
		v, ok, err := lookup(c)
		if err != nil {
			return zero, false, err
		}
		if ok {
			return v, true, nil
		}
	}
	return zero, false, nil
}

// SingleQuery は1回の問い合わせ版のツリーフォールバック探索を行う。
// 候補パスの一覧をfetchに渡して一致する行をまとめて取得し、
// 格納パスが最も長い行を返す。候補に含まれないパスの行は無視する。
// 意味論はTreeFallbackと同一である。
func SingleQuery[T any](p string, fetch func(candidates []string) ([]T, error), pathOf func(T) string) (T, bool, error) {
	var zero T
	candidates := Candidates(p)
	rows, err := fetch(candidates)
	if err != nil {
		return zero, false, err
	}

	rank := make(map[string]int, len(candidates))
	for i, c := range candidates {
		rank[c] = i
	}

	best, bestRank, found := zero, len(candidates), false
	for _, row := range rows {
		r, ok := rank[Normalize(pathOf(row))]
		if !ok {
			continue
		}
		if r < bestRank {
			best, bestRank, found = row, r, true
		}
	}
	return best, found, nil
}
