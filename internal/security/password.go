package security

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// bcryptPrefixes はbcryptハッシュとして扱うパスワード設定値の接頭辞。
var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

// IsBcryptHash は値がbcryptハッシュの形式かどうかを返す。
func IsBcryptHash(stored string) bool {
	for _, p := range bcryptPrefixes {
		if strings.HasPrefix(stored, p) {
			return true
		}
	}
	return false
}

// CheckPassword は入力されたパスワードが保存値と一致するかどうかを返す。
// 保存値がbcryptハッシュの場合はハッシュで照合し、それ以外は平文として定数時間で比較する。
// 保存値が空の場合は常に一致しない。
func CheckPassword(stored, given string) bool {
	if stored == "" {
		return false
	}
	if IsBcryptHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(given)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}

// HashPassword はパスワードのbcryptハッシュを生成する。
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("パスワードが空です")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("パスワードのハッシュ化に失敗しました: %w", err)
	}
	return string(hash), nil
}
