package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestBasicAuthConfig_Covers(t *testing.T) {
	cfg := BasicAuthConfig{
		Roots:    []string{"/members"},
		Excludes: []string{"/members/public"},
	}

	tests := []struct {
		path string
		want bool
	}{
		{"/members", true},
		{"/members/page", true},
		{"/Members/Page/", true},
		{"/membership", false},
		{"/members/public", false},
		{"/members/public/info", false},
		{"/", false},
	}
	for _, tt := range tests {
		if got := cfg.Covers(tt.path); got != tt.want {
			t.Errorf("Covers(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}

	if !(BasicAuthConfig{}).Covers("/anything") {
		t.Error("Covers() with no roots = false, want true")
	}
}

func TestBasicAuthMiddleware(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword() error = %v", err)
	}

	tests := []struct {
		name       string
		cfg        BasicAuthConfig
		path       string
		user, pass string
		withAuth   bool
		wantStatus int
	}{
		{
			name:       "無効なら素通しする",
			cfg:        BasicAuthConfig{Enabled: false},
			path:       "/",
			wantStatus: http.StatusOK,
		},
		{
			name:       "資格情報がなければ401",
			cfg:        BasicAuthConfig{Enabled: true, Username: "admin", Password: "s3cret", Realm: "swim"},
			path:       "/",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "平文パスワードが一致する",
			cfg:        BasicAuthConfig{Enabled: true, Username: "admin", Password: "s3cret"},
			path:       "/",
			user:       "admin",
			pass:       "s3cret",
			withAuth:   true,
			wantStatus: http.StatusOK,
		},
		{
			name:       "bcryptハッシュが一致する",
			cfg:        BasicAuthConfig{Enabled: true, Username: "admin", Password: string(hash)},
			path:       "/",
			user:       "admin",
			pass:       "s3cret",
			withAuth:   true,
			wantStatus: http.StatusOK,
		},
		{
			name:       "ユーザー名が違えば401",
			cfg:        BasicAuthConfig{Enabled: true, Username: "admin", Password: "s3cret"},
			path:       "/",
			user:       "guest",
			pass:       "s3cret",
			withAuth:   true,
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "除外パスは認証しない",
			cfg:        BasicAuthConfig{Enabled: true, Excludes: []string{"/_swim"}, Username: "admin", Password: "s3cret"},
			path:       "/_swim/health",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewBasicAuthMiddleware(tt.cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.withAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				realm := tt.cfg.Realm
				if realm == "" {
					realm = defaultRealm
				}
				want := `Basic realm="` + realm + `"`
				if got := w.Header().Get("WWW-Authenticate"); got != want {
					t.Errorf("WWW-Authenticate = %q, want %q", got, want)
				}
			}
		})
	}
}
