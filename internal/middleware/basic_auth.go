package middleware

import (
	"crypto/subtle"
	"net/http"
	"strconv"

	"github.com/hitoshi/swim/internal/resolver"
	"github.com/hitoshi/swim/internal/security"
)

const defaultRealm = "Restricted"

// BasicAuthConfig はサイト全体のBasic認証の設定。
type BasicAuthConfig struct {
	Enabled  bool
	Roots    []string // 認証を要求するパスの接頭辞。空の場合はサイト全体
	Excludes []string // Rootsの配下で認証を要求しないパスの接頭辞
	Username string
	Password string // 平文またはbcryptハッシュ
	Realm    string
}

// Covers はパスが認証の対象かどうかを返す。接頭辞はスラッシュ境界で判定する。
func (c BasicAuthConfig) Covers(path string) bool {
	path = resolver.Normalize(path)
	for _, ex := range c.Excludes {
		if resolver.IsPrefix(resolver.Normalize(ex), path) {
			return false
		}
	}
	if len(c.Roots) == 0 {
		return true
	}
	for _, root := range c.Roots {
		if resolver.IsPrefix(resolver.Normalize(root), path) {
			return true
		}
	}
	return false
}

// NewBasicAuthMiddleware はサイト全体のBasic認証ミドルウェアを返す。
// 無効な場合は何もしない。
func NewBasicAuthMiddleware(cfg BasicAuthConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !cfg.Enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Covers(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			if !checkCredentials(r, cfg.Username, cfg.Password) {
				writeUnauthorized(w, cfg.Realm)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// checkCredentials はAuthorizationヘッダーの資格情報を検証する。
func checkCredentials(r *http.Request, username, password string) bool {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
	passOK := security.CheckPassword(password, pass)
	return userOK && passOK
}

// writeUnauthorized はWWW-Authenticateヘッダー付きの401レスポンスを書き込む。
func writeUnauthorized(w http.ResponseWriter, realm string) {
	if realm == "" {
		realm = defaultRealm
	}
	w.Header().Set("WWW-Authenticate", "Basic realm="+strconv.Quote(realm))
	WriteErrorResponse(w, http.StatusUnauthorized, ErrCodeUnauthorized, "unauthorized")
}
