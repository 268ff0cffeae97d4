package middleware

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/swim/internal/model"
	"github.com/hitoshi/swim/internal/repository"
	"github.com/hitoshi/swim/internal/resolver"
)

// NewAccessRestrictionMiddleware はパスに最も近いアクセス制限レコードに従って
// Basic認証を要求するミドルウェアを返す。
// restricted=falseのレコードは祖先の制限をその部分木について解除する。
func NewAccessRestrictionMiddleware(repo repository.AccessRestrictionRepository, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			path := resolver.Normalize(r.URL.Path)

			rule, found, err := resolver.SingleQuery(path,
				func(candidates []string) ([]*model.AccessRestriction, error) {
					return repo.FindByPaths(ctx, candidates)
				},
				func(a *model.AccessRestriction) string { return a.Path },
			)
			if err != nil {
				logger.Error("failed to find access restriction",
					slog.String("path", path),
					slog.String("request_id", RequestIDFromContext(ctx)),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if !found || !rule.Restricted {
				next.ServeHTTP(w, r)
				return
			}

			if !checkCredentials(r, rule.Username, rule.PasswordHash) {
				logger.Warn("access restriction rejected request",
					slog.String("path", path),
					slog.String("rule", rule.Path),
					slog.String("request_id", RequestIDFromContext(ctx)),
				)
				writeUnauthorized(w, rule.Realm)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
