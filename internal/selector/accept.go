package selector

import (
	"mime"
	"sort"
	"strconv"
	"strings"
)

// MediaRange はAcceptヘッダーの1要素。
type MediaRange struct {
	Type    string
	Subtype string
	Q       float64
}

// String はtype/subtype形式の文字列を返す。
func (m MediaRange) String() string { return m.Type + "/" + m.Subtype }

// Matches はメディアタイプ（パラメータなしのtype/subtype）がこの範囲に含まれるかを返す。
func (m MediaRange) Matches(mediaType string) bool {
	major, minor, ok := strings.Cut(mediaType, "/")
	if !ok {
		return false
	}
	switch {
	case m.Type == "*":
		return true
	case m.Subtype == "*":
		return m.Type == major
	default:
		return m.Type == major && m.Subtype == minor
	}
}

// ParseAccept はAcceptヘッダーをq値の降順に並べたメディア範囲の列に変換する。
// q値が等しい要素は出現順を保つ。ヘッダーが空の場合は */* のみを返す。
// 解析できない要素は無視する。
func ParseAccept(header string) []MediaRange {
	if strings.TrimSpace(header) == "" {
		return []MediaRange{{Type: "*", Subtype: "*", Q: 1}}
	}

	var ranges []MediaRange
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		r, ok := parseRange(part)
		if !ok {
			continue
		}
		ranges = append(ranges, r)
	}
	sort.SliceStable(ranges, func(i, j int) bool { return ranges[i].Q > ranges[j].Q })
	return ranges
}

func parseRange(part string) (MediaRange, bool) {
	fields := strings.Split(part, ";")
	typ := strings.ToLower(strings.TrimSpace(fields[0]))
	if typ == "*" {
		typ = "*/*"
	}
	major, minor, ok := strings.Cut(typ, "/")
	if !ok || major == "" || minor == "" || (major == "*" && minor != "*") {
		return MediaRange{}, false
	}

	r := MediaRange{Type: major, Subtype: minor, Q: 1}
	for _, p := range fields[1:] {
		k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), "q") {
			continue
		}
		q, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || q < 0 || q > 1 {
			return MediaRange{}, false
		}
		r.Q = q
	}
	return r, true
}

// baseMediaType はパラメータを除いた小文字のtype/subtypeを返す。
func baseMediaType(v string) string {
	if mt, _, err := mime.ParseMediaType(v); err == nil {
		return mt
	}
	base, _, _ := strings.Cut(v, ";")
	return strings.ToLower(strings.TrimSpace(base))
}
