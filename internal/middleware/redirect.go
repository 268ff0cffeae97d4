package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/swim/internal/model"
	"github.com/hitoshi/swim/internal/repository"
	"github.com/hitoshi/swim/internal/resolver"
)

// NewPathRedirectMiddleware は正規化済みパスに完全一致するリダイレクト定義があれば
// クエリ文字列を保ったままリダイレクトするミドルウェアを返す。
// ハンドラの振り分けより前に配置する。
func NewPathRedirectMiddleware(repo repository.RedirectRepository, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := resolver.Normalize(r.URL.Path)
			rd, err := repo.FindByPath(r.Context(), path)
			if err != nil {
				logger.Error("failed to find path redirect",
					slog.String("path", path),
					slog.String("request_id", RequestIDFromContext(r.Context())),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if rd == nil {
				next.ServeHTTP(w, r)
				return
			}

			status := rd.RedirectType
			if !model.ValidRedirectType(status) {
				logger.Warn("invalid redirect type, using 301",
					slog.String("path", path),
					slog.Int("redirect_type", status),
				)
				status = http.StatusMovedPermanently
			}
			http.Redirect(w, r, RedirectLocation(rd.RedirectPath, r.URL.RawQuery), status)
		})
	}
}

// RedirectLocation はリダイレクト先にクエリ文字列を付けたLocationを返す。
func RedirectLocation(target, rawQuery string) string {
	if rawQuery == "" {
		return target
	}
	if strings.Contains(target, "?") {
		return target + "&" + rawQuery
	}
	return target + "?" + rawQuery
}
