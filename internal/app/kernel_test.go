package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/swim/internal/chain"
	"github.com/hitoshi/swim/internal/config"
	"github.com/hitoshi/swim/internal/handler"
	"github.com/hitoshi/swim/internal/model"
	"github.com/hitoshi/swim/internal/registry"
	"github.com/hitoshi/swim/internal/repository"
)

type mockHealthChecker struct {
	pingFn func(ctx context.Context) error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error { return m.pingFn(ctx) }

func healthy() *mockHealthChecker {
	return &mockHealthChecker{pingFn: func(context.Context) error { return nil }}
}

// testConfig はconfigの既定値に相当する設定を返す。
func testConfig() *config.Config {
	return &config.Config{
		DatabaseURL:           "postgres://localhost/swim",
		RunMiddleware:         true,
		RunResponseProcessors: true,
		ResourceMatcher:       "exact",
		Server:                config.ServerConfig{FrameOptions: "SAMEORIGIN"},
		Log:                   config.LogConfig{Level: "info"},
		Site:                  config.SiteConfig{Name: "swim"},
		BasicAuth:             config.BasicAuthConfig{Realm: "Restricted"},
	}
}

// newStore はdefaultとそのサブタイプblog、エラー用タイプを持つストアを返す。
func newStore(t *testing.T) *repository.MemoryStore {
	t.Helper()
	mem := repository.NewMemoryStore()
	for _, rt := range []*model.ResourceType{
		{ID: "rt-default", Key: model.ResourceTypeDefault},
		{ID: "rt-404", Key: model.ResourceTypeNotFound, ParentID: "rt-default"},
		{ID: "rt-500", Key: model.ResourceTypeServerError, ParentID: "rt-default"},
		{ID: "rt-blog", Key: "blog", ParentID: "rt-default"},
	} {
		mustNoError(t, mem.AddResourceType(rt))
	}
	return mem
}

func mustNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("fixture error = %v", err)
	}
}

func addTemplate(t *testing.T, mem *repository.MemoryStore, path, mediaType, body string, rtIDs ...string) {
	t.Helper()
	mustNoError(t, mem.AddTemplate(&model.Template{
		Path:            path,
		Body:            body,
		HTTPContentType: mediaType,
		SwimContentType: model.SwimContentTypeResource,
	}, rtIDs...))
}

func newTestKernel(t *testing.T, cfg *config.Config, mem *repository.MemoryStore, ext Extensions) *Kernel {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
	k, err := NewKernel(cfg, mem.Store(), healthy(), ext, logger)
	if err != nil {
		t.Fatalf("NewKernel() error = %v", err)
	}
	t.Cleanup(k.Close)
	return k
}

func do(h http.Handler, method, target, accept string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestKernel_正常系(t *testing.T) {
	mem := newStore(t)
	mustNoError(t, mem.AddResource(&model.Resource{Path: "/about", Title: "About", ResourceTypeID: "rt-default"}))
	addTemplate(t, mem, "/default", "text/html; charset=utf-8", "Hi {{.resource.Title}}", "rt-default")
	k := newTestKernel(t, testConfig(), mem, Extensions{})

	w := do(k.Handler, http.MethodGet, "/About", "*/*")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q, want text/html; charset=utf-8", ct)
	}
	if w.Body.String() != "Hi About" {
		t.Errorf("body = %q, want %q", w.Body.String(), "Hi About")
	}
}

func TestKernel_祖先のテンプレートを使う(t *testing.T) {
	mem := newStore(t)
	mustNoError(t, mem.AddResource(&model.Resource{Path: "/news", Title: "News", ResourceTypeID: "rt-blog"}))
	addTemplate(t, mem, "/default", "text/html", "{{.resource.Title}}", "rt-default")
	k := newTestKernel(t, testConfig(), mem, Extensions{})

	w := do(k.Handler, http.MethodGet, "/news", "")
	if w.Code != http.StatusOK || w.Body.String() != "News" {
		t.Errorf("response = %d %q, want 200 News", w.Code, w.Body.String())
	}
}

func TestKernel_コンテンツネゴシエーション(t *testing.T) {
	mem := newStore(t)
	mustNoError(t, mem.AddResource(&model.Resource{Path: "/about", Title: "About", ResourceTypeID: "rt-default"}))
	addTemplate(t, mem, "/default", "text/html", "HTML", "rt-default")
	addTemplate(t, mem, "/default.json", "application/json", `"JSON"`, "rt-default")
	k := newTestKernel(t, testConfig(), mem, Extensions{})

	t.Run("q値の高いJSONを選ぶ", func(t *testing.T) {
		w := do(k.Handler, http.MethodGet, "/about", "application/json, text/html;q=0.5")
		if w.Code != http.StatusOK || w.Body.String() != `"JSON"` {
			t.Errorf("response = %d %q, want 200 \"JSON\"", w.Code, w.Body.String())
		}
		if ct := w.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
	})
}

func TestKernel_406(t *testing.T) {
	mem := newStore(t)
	mustNoError(t, mem.AddResource(&model.Resource{Path: "/about", Title: "About", ResourceTypeID: "rt-default"}))
	addTemplate(t, mem, "/default", "text/html", "HTML", "rt-default")
	k := newTestKernel(t, testConfig(), mem, Extensions{})

	w := do(k.Handler, http.MethodGet, "/about", "application/pdf")
	if w.Code != http.StatusNotAcceptable {
		t.Fatalf("status = %d, want 406", w.Code)
	}
	for _, want := range []string{"application/pdf", "text/html"} {
		if !strings.Contains(w.Body.String(), want) {
			t.Errorf("body = %q, want to contain %q", w.Body.String(), want)
		}
	}
}

func TestKernel_再帰ガード(t *testing.T) {
	tests := []struct {
		name       string
		debug      bool
		wantStatus int
		wantBody   string
	}{
		{"通常モードは500", false, http.StatusInternalServerError, ""},
		{"デバッグモードはコメント", true, http.StatusOK, "maximum recursion depth exceeded"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := newStore(t)
			mustNoError(t, mem.AddResource(&model.Resource{Path: "/foo", Title: "Foo", ResourceTypeID: "rt-default"}))
			addTemplate(t, mem, "/default", "text/html", "{{render .resource}}", "rt-default")
			cfg := testConfig()
			cfg.Debug = tt.debug
			k := newTestKernel(t, cfg, mem, Extensions{})

			w := do(k.Handler, http.MethodGet, "/foo", "")
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %q)", w.Code, tt.wantStatus, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want to contain %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestKernel_405とAllow(t *testing.T) {
	mem := newStore(t)
	mustNoError(t, mem.AddHandler(&model.HandlerMapping{Path: "/hook", Method: http.MethodGet, Handler: "test.hook"}))
	mustNoError(t, mem.AddHandler(&model.HandlerMapping{Path: "/hook", Method: http.MethodDelete, Handler: chain.HandlerNoContent}))
	ext := Extensions{
		Functions: func(funcs *chain.Functions) error {
			return funcs.RegisterHandler("test.hook", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte("hooked"))
			}))
		},
	}
	k := newTestKernel(t, testConfig(), mem, ext)

	w := do(k.Handler, http.MethodPost, "/hook", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", w.Code)
	}
	if got := w.Header().Get("Allow"); got != "DELETE GET" {
		t.Errorf("Allow = %q, want %q", got, "DELETE GET")
	}

	if w := do(k.Handler, http.MethodGet, "/hook", ""); w.Code != http.StatusOK || w.Body.String() != "hooked" {
		t.Errorf("GET /hook = %d %q, want 200 hooked", w.Code, w.Body.String())
	}
}

func TestKernel_パスリダイレクト(t *testing.T) {
	mem := newStore(t)
	mustNoError(t, mem.AddRedirect(&model.PathRedirect{Path: "/", RedirectPath: "/tags", RedirectType: http.StatusMovedPermanently}))
	k := newTestKernel(t, testConfig(), mem, Extensions{})

	w := do(k.Handler, http.MethodGet, "/?qs_param=2", "")
	if w.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d, want 301", w.Code)
	}
	if got := w.Header().Get("Location"); got != "/tags?qs_param=2" {
		t.Errorf("Location = %q, want %q", got, "/tags?qs_param=2")
	}
}

func TestKernel_ルートパス(t *testing.T) {
	mem := newStore(t)
	addTemplate(t, mem, "/default", "text/html", "{{.resource.Title}}", "rt-default")
	k := newTestKernel(t, testConfig(), mem, Extensions{})

	if w := do(k.Handler, http.MethodGet, "/", ""); w.Code != http.StatusNotFound {
		t.Errorf("status without root resource = %d, want 404", w.Code)
	}

	mustNoError(t, mem.AddResource(&model.Resource{Path: "/", Title: "Home", ResourceTypeID: "rt-default"}))
	if w := do(k.Handler, http.MethodGet, "/", ""); w.Code != http.StatusOK || w.Body.String() != "Home" {
		t.Errorf("response = %d %q, want 200 Home", w.Code, w.Body.String())
	}
}

func TestKernel_チェーン(t *testing.T) {
	mem := newStore(t)
	mustNoError(t, mem.AddResource(&model.Resource{Path: "/about", Title: "About", ResourceTypeID: "rt-blog"}))
	addTemplate(t, mem, "/default", "text/html", `{{index .query "q"}}`, "rt-default")
	mem.AddChain(model.ChainMiddleware, &model.ChainMapping{ResourceTypeID: "rt-default", Function: chain.MiddlewareQuery})
	mem.AddChain(model.ChainResponseProcessor, &model.ChainMapping{ResourceTypeID: "rt-blog", Function: chain.ProcessorNoStore})

	t.Run("有効", func(t *testing.T) {
		k := newTestKernel(t, testConfig(), mem, Extensions{})
		w := do(k.Handler, http.MethodGet, "/about?q=x", "")
		if w.Code != http.StatusOK || w.Body.String() != "[x]" {
			t.Errorf("response = %d %q, want 200 [x]", w.Code, w.Body.String())
		}
		if got := w.Header().Get("Cache-Control"); got != "no-store" {
			t.Errorf("Cache-Control = %q, want no-store", got)
		}
	})

	t.Run("レスポンスプロセッサを無効化", func(t *testing.T) {
		cfg := testConfig()
		cfg.RunResponseProcessors = false
		k := newTestKernel(t, cfg, mem, Extensions{})
		w := do(k.Handler, http.MethodGet, "/about?q=x", "")
		if got := w.Header().Get("Cache-Control"); got != "" {
			t.Errorf("Cache-Control = %q, want empty", got)
		}
	})
}

func TestKernel_拡張登録(t *testing.T) {
	widget := registry.ContentObject{Name: "test.widget", SwimContentType: "widget", ContextName: "widget", TargetType: "test.widget"}

	t.Run("登録後はFreezeされる", func(t *testing.T) {
		cfg := testConfig()
		cfg.EnableAdmin = true
		k := newTestKernel(t, cfg, newStore(t), Extensions{
			Registry: func(reg *registry.Registry) error { return reg.RegisterContentObject(widget) },
		})
		if !k.Registry.Frozen() {
			t.Error("registry should be frozen after NewKernel")
		}
		if err := k.Registry.RegisterContentObject(registry.ContentObject{Name: "late", SwimContentType: "late", TargetType: "late"}); !errors.Is(err, registry.ErrFrozen) {
			t.Errorf("late registration err = %v, want ErrFrozen", err)
		}

		w := do(k.Handler, http.MethodGet, handler.AdminPath+"/content-objects", "")
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "test.widget") {
			t.Errorf("admin content-objects = %d %q, want test.widget", w.Code, w.Body.String())
		}
	})

	t.Run("登録エラーは起動を失敗させる", func(t *testing.T) {
		_, err := NewKernel(testConfig(), newStore(t).Store(), healthy(), Extensions{
			Functions: func(funcs *chain.Functions) error {
				return funcs.RegisterHandler(chain.HandlerNoContent, http.NotFoundHandler())
			},
		}, nil)
		if err == nil {
			t.Fatal("duplicate function name should fail NewKernel")
		}
	})

	t.Run("不明なマッチャー", func(t *testing.T) {
		cfg := testConfig()
		cfg.ResourceMatcher = "regex"
		if _, err := NewKernel(cfg, newStore(t).Store(), healthy(), Extensions{}, nil); err == nil {
			t.Fatal("unknown matcher should fail NewKernel")
		}
	})
}

func TestKernel_内部エンドポイント(t *testing.T) {
	mem := newStore(t)
	mustNoError(t, mem.AddResource(&model.Resource{Path: "/about", Title: "About", ResourceTypeID: "rt-default"}))
	addTemplate(t, mem, "/default", "text/html", "Hi", "rt-default")
	k := newTestKernel(t, testConfig(), mem, Extensions{})

	do(k.Handler, http.MethodGet, "/about", "")

	t.Run("ヘルスチェック", func(t *testing.T) {
		w := do(k.Handler, http.MethodGet, handler.HealthPath, "")
		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if w.Code != http.StatusOK || body["status"] != "ok" {
			t.Errorf("health = %d %v, want 200 ok", w.Code, body)
		}
	})

	t.Run("メトリクス", func(t *testing.T) {
		w := do(k.Handler, http.MethodGet, handler.MetricsPath, "")
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		for _, want := range []string{`swim_requests_total{status="200"} 1`, "swim_render_seconds", "go_goroutines"} {
			if !strings.Contains(w.Body.String(), want) {
				t.Errorf("metrics should contain %q", want)
			}
		}
	})

	t.Run("管理画面は無効", func(t *testing.T) {
		w := do(k.Handler, http.MethodGet, handler.AdminPath+"/forms", "")
		if w.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404 from the CMS", w.Code)
		}
	})
}

func TestKernel_レート制限(t *testing.T) {
	mem := newStore(t)
	mustNoError(t, mem.AddResource(&model.Resource{Path: "/about", Title: "About", ResourceTypeID: "rt-default"}))
	addTemplate(t, mem, "/default", "text/html", "Hi", "rt-default")
	cfg := testConfig()
	cfg.RateLimit = config.RateLimitConfig{PerMinute: 1, Burst: 1}
	k := newTestKernel(t, cfg, mem, Extensions{})

	if w := do(k.Handler, http.MethodGet, "/about", ""); w.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", w.Code)
	}
	w := do(k.Handler, http.MethodGet, "/about", "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header should be set")
	}
	if w := do(k.Handler, http.MethodGet, handler.HealthPath, ""); w.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200 outside the rate limit", w.Code)
	}
}

func TestKernel_スロット掃除(t *testing.T) {
	mem := newStore(t)
	mustNoError(t, mem.AddResource(&model.Resource{ID: "res-gone", Path: "/gone", ResourceTypeID: "rt-default"}))
	mustNoError(t, mem.AddSlot(registry.StorageCopy, &model.Slot{OwnerType: model.TargetTypeResource, OwnerID: "res-gone", Atom: registry.AtomCopy, Key: "body", Order: 1}))
	mem.DeleteResource("res-gone")
	k := newTestKernel(t, testConfig(), mem, Extensions{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	n, err := k.Prune.Run(ctx)
	if err != nil {
		t.Fatalf("Prune.Run() error = %v", err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}

	w := do(k.Handler, http.MethodGet, handler.MetricsPath, "")
	if !strings.Contains(w.Body.String(), "swim_slots_pruned_total 1") {
		t.Error("metrics should record pruned slots")
	}
}
