package render

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/hitoshi/swim/internal/model"
)

// baseFuncs はエンジン共通のフィルタ関数を返す。
// render、slot、slots、sanitize、safe_htmlは描画ごとに束縛するためここには含めない。
func baseFuncs() map[string]any {
	return map[string]any{
		"upper": func(v any) string { return strings.ToUpper(stringify(v)) },
		"lower": func(v any) string { return strings.ToLower(stringify(v)) },
		"title": func(v any) string {
			words := strings.Fields(stringify(v))
			for i, word := range words {
				first, size := utf8.DecodeRuneInString(word)
				words[i] = string(unicode.ToTitle(first)) + strings.ToLower(word[size:])
			}
			return strings.Join(words, " ")
		},
		"default": func(def, val any) any {
			if isEmpty(val) {
				return def
			}
			return val
		},
		"json": func(v any) (string, error) {
			b, err := json.Marshal(v)
			if err != nil {
				return "", fmt.Errorf("JSONへの変換に失敗しました: %w", err)
			}
			return string(b), nil
		},
		"join": func(sep string, items any) string {
			return strings.Join(stringifyAll(items), sep)
		},
		"now": time.Now,
	}
}

// stringify はテンプレート値を表示用の文字列に変換する。
func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case *model.Slot:
		return x.String()
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

func stringifyAll(items any) []string {
	rv := reflect.ValueOf(items)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		if items == nil {
			return nil
		}
		return []string{stringify(items)}
	}
	out := make([]string, rv.Len())
	for i := range out {
		out[i] = stringify(rv.Index(i).Interface())
	}
	return out
}

// isEmpty はdefaultフィルタで既定値に置き換える値かどうかを返す。
func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(*model.Slot); ok {
		return s == nil || s.String() == ""
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	case reflect.Bool:
		return !rv.Bool()
	}
	return false
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Pointer && rv.IsNil()
}
