package model

import (
	"mime"
	"regexp"
	"strings"

	"github.com/hitoshi/swim/internal/resolver"
)

// keyPattern はスロットキー、リソースタイプキー、スキーマキーに許可される形式。
var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidatePath はパスが正規化済みであるかを検証する。
func ValidatePath(p string) error {
	if p == "" {
		return NewValidationError("path", "must not be empty")
	}
	if strings.ContainsAny(p, "?#") {
		return NewValidationError("path", "must not contain query or fragment")
	}
	if resolver.Normalize(p) != p {
		return NewValidationError("path", "must be normalized as "+resolver.Normalize(p))
	}
	return nil
}

// ValidateKey はキー文字列を検証する。
func ValidateKey(field, key string) error {
	if !keyPattern.MatchString(key) {
		return NewValidationError(field, "must match "+keyPattern.String())
	}
	return nil
}

// ValidateMediaType はテンプレートのhttp content typeが有効なメディアタイプかを検証する。
func ValidateMediaType(v string) error {
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return NewValidationError("http_content_type", err.Error())
	}
	if !strings.Contains(mt, "/") || strings.Contains(mt, "*") {
		return NewValidationError("http_content_type", "must be a concrete type/subtype")
	}
	return nil
}

// ValidateSchema はスキーマメンバーの多重度とキーの重複を検証する。
// swim content typeの登録有無はregistryが別途検証する。
func ValidateSchema(s *ContentSchema) error {
	if s == nil {
		return nil
	}
	seen := make(map[string]Cardinality, len(s.Members))
	for _, m := range s.Members {
		if err := ValidateKey("content_schema_member.key", m.Key); err != nil {
			return err
		}
		if !m.Cardinality.Valid() {
			return NewValidationError("content_schema_member.cardinality", "unknown cardinality "+string(m.Cardinality))
		}
		id := m.SwimContentType + "\x00" + m.Key
		if c, ok := seen[id]; ok && c != m.Cardinality {
			return NewValidationError("content_schema_member.key", "key "+m.Key+" declared with two cardinalities")
		}
		seen[id] = m.Cardinality
	}
	return nil
}
