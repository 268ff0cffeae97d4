package chain

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"

	"github.com/hitoshi/swim/internal/model"
	"github.com/hitoshi/swim/internal/render"
	"github.com/hitoshi/swim/internal/repository"
	"github.com/hitoshi/swim/internal/scope"
	"github.com/hitoshi/swim/internal/security"
)

// mockChainRepo はChainRepositoryのモック。
type mockChainRepo struct {
	listFn func(ctx context.Context, kind model.ChainKind, ids []string) ([]*model.ChainMapping, error)
}

func (m *mockChainRepo) ListMappings(ctx context.Context, kind model.ChainKind, ids []string) ([]*model.ChainMapping, error) {
	return m.listFn(ctx, kind, ids)
}

var (
	rootType  = &model.ResourceType{ID: "rt-root", Key: "default"}
	childType = &model.ResourceType{ID: "rt-blog", Key: "blog", ParentID: "rt-root"}
	ancestors = []*model.ResourceType{childType, rootType}
)

func newScope(t *testing.T, errorHandler bool) (*scope.Scope, context.Context) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/news?page=2", nil)
	sc := scope.New(req, "/news")
	sc.Resource = &model.Resource{ID: "res-1", Path: "/news", ResourceTypeID: childType.ID}
	sc.ErrorHandler = errorHandler
	sc.SetAncestors(childType.ID, ancestors)
	ctx := scope.WithScope(context.Background(), sc)
	sc.Request = req.WithContext(ctx)
	return sc, ctx
}

func TestOrder(t *testing.T) {
	rows := []*model.ChainMapping{
		{ResourceTypeID: "rt-blog", Function: "child-0", Order: 0},
		{ResourceTypeID: "rt-root", Function: "root-1", Order: 1},
		{ResourceTypeID: "rt-root", Function: "root-0", Order: 0},
		{ResourceTypeID: "rt-other", Function: "other", Order: 0},
		{ResourceTypeID: "rt-blog", Function: "child-1", Order: 1},
	}

	got := Order(rows, ancestors)
	names := make([]string, len(got))
	for i, r := range got {
		names[i] = r.Function
	}
	want := []string{"root-0", "child-0", "root-1", "child-1"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("Order() = %v, want %v", names, want)
	}
	if rows[0].Depth != 0 || rows[1].Depth != 0 {
		t.Error("Order() must not mutate repository rows")
	}
}

func TestRunMiddleware(t *testing.T) {
	var calls []string
	funcs := NewFunctions()
	record := func(name string) Middleware {
		return func(_ *http.Request, c render.Context, _ *model.Resource, _ *model.Template) error {
			calls = append(calls, name)
			c[name] = true
			return nil
		}
	}
	_ = funcs.RegisterMiddleware("a", record("a"))
	_ = funcs.RegisterMiddleware("b", record("b"))

	repo := &mockChainRepo{listFn: func(_ context.Context, kind model.ChainKind, ids []string) ([]*model.ChainMapping, error) {
		if kind != model.ChainMiddleware {
			t.Errorf("kind = %s, want %s", kind, model.ChainMiddleware)
		}
		if !reflect.DeepEqual(ids, []string{"rt-blog", "rt-root"}) {
			t.Errorf("ids = %v", ids)
		}
		return []*model.ChainMapping{
			{ResourceTypeID: "rt-blog", Function: "b", Order: 0},
			{ResourceTypeID: "rt-root", Function: "a", Order: 0},
		}, nil
	}}

	sc, ctx := newScope(t, false)
	c := render.Context{}
	if err := NewRunner(repo, funcs, nil).RunMiddleware(ctx, sc, ancestors, c, nil); err != nil {
		t.Fatalf("RunMiddleware() error = %v", err)
	}
	if !reflect.DeepEqual(calls, []string{"a", "b"}) {
		t.Errorf("calls = %v, want [a b]", calls)
	}
	if c["a"] != true || c["b"] != true {
		t.Errorf("context = %v", c)
	}
}

func TestRunMiddleware_エラー処理(t *testing.T) {
	funcs := NewFunctions()
	_ = funcs.RegisterMiddleware("fail", func(*http.Request, render.Context, *model.Resource, *model.Template) error {
		return errors.New("boom")
	})
	_ = funcs.RegisterMiddleware("panic", func(*http.Request, render.Context, *model.Resource, *model.Template) error {
		panic("kaboom")
	})
	var reached bool
	_ = funcs.RegisterMiddleware("last", func(*http.Request, render.Context, *model.Resource, *model.Template) error {
		reached = true
		return nil
	})
	repo := &mockChainRepo{listFn: func(context.Context, model.ChainKind, []string) ([]*model.ChainMapping, error) {
		return []*model.ChainMapping{
			{ResourceTypeID: "rt-root", Function: "fail", Order: 0},
			{ResourceTypeID: "rt-root", Function: "panic", Order: 1},
			{ResourceTypeID: "rt-root", Function: "missing", Order: 2},
			{ResourceTypeID: "rt-root", Function: "last", Order: 3},
		}, nil
	}}
	runner := NewRunner(repo, funcs, nil)

	t.Run("通常時はエラーを返す", func(t *testing.T) {
		reached = false
		sc, ctx := newScope(t, false)
		err := runner.RunMiddleware(ctx, sc, ancestors, render.Context{}, nil)
		if err == nil || !strings.Contains(err.Error(), "boom") {
			t.Errorf("RunMiddleware() error = %v, want boom", err)
		}
		if reached {
			t.Error("chain must stop at the first error")
		}
	})

	t.Run("エラーページ描画中は無視する", func(t *testing.T) {
		reached = false
		sc, ctx := newScope(t, true)
		if err := runner.RunMiddleware(ctx, sc, ancestors, render.Context{}, nil); err != nil {
			t.Errorf("RunMiddleware() error = %v, want nil", err)
		}
		if !reached {
			t.Error("chain must continue after swallowed errors")
		}
	})

	t.Run("キャンセル済みのリクエストは中断する", func(t *testing.T) {
		sc, ctx := newScope(t, true)
		ctx, cancel := context.WithCancel(ctx)
		cancel()
		if err := runner.RunMiddleware(ctx, sc, ancestors, render.Context{}, nil); !errors.Is(err, context.Canceled) {
			t.Errorf("RunMiddleware() error = %v, want context.Canceled", err)
		}
	})
}

func TestRunResponseProcessors_組み込み(t *testing.T) {
	funcs := NewFunctions()
	mem := repository.NewMemoryStore()
	if err := RegisterBuiltins(funcs, security.NewContentSanitizer(), mem.Store().SiteContent); err != nil {
		t.Fatalf("RegisterBuiltins() error = %v", err)
	}
	repo := &mockChainRepo{listFn: func(context.Context, model.ChainKind, []string) ([]*model.ChainMapping, error) {
		return []*model.ChainMapping{
			{ResourceTypeID: "rt-root", Function: ProcessorVaryAccept, Order: 0},
			{ResourceTypeID: "rt-root", Function: ProcessorNoStore, Order: 1},
			{ResourceTypeID: "rt-blog", Function: ProcessorSanitizeFragment, Order: 2},
		}, nil
	}}

	sc, ctx := newScope(t, false)
	resp := NewResponse(http.StatusOK, "text/html; charset=utf-8", []byte(`<p>ok</p><script>x()</script>`))
	if err := NewRunner(repo, funcs, nil).RunResponseProcessors(ctx, sc, ancestors, render.Context{}, nil, resp); err != nil {
		t.Fatalf("RunResponseProcessors() error = %v", err)
	}
	if got := resp.Header.Get("Vary"); got != "Accept" {
		t.Errorf("Vary = %q, want Accept", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
	if got := string(resp.Body); got != "<p>ok</p>" {
		t.Errorf("Body = %q, want <p>ok</p>", got)
	}
}

func TestETagProcessor(t *testing.T) {
	resp := NewResponse(http.StatusOK, "text/plain", []byte("hello"))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if err := etagProcessor(req, nil, nil, nil, resp); err != nil {
		t.Fatalf("etagProcessor() error = %v", err)
	}
	etag := resp.Header.Get("ETag")
	if !strings.HasPrefix(etag, `"`) || resp.Status != http.StatusOK {
		t.Fatalf("ETag = %q, status = %d", etag, resp.Status)
	}

	req.Header.Set("If-None-Match", `W/"other", `+etag)
	again := NewResponse(http.StatusOK, "text/plain", []byte("hello"))
	if err := etagProcessor(req, nil, nil, nil, again); err != nil {
		t.Fatalf("etagProcessor() error = %v", err)
	}
	if again.Status != http.StatusNotModified || again.Body != nil {
		t.Errorf("status = %d, body = %q, want 304 with empty body", again.Status, again.Body)
	}
}

func TestBuiltinMiddleware(t *testing.T) {
	sc, _ := newScope(t, false)
	c := render.Context{}
	for _, fn := range []Middleware{queryMiddleware, nowMiddleware, ancestorsMiddleware} {
		if err := fn(sc.Request, c, sc.Resource, nil); err != nil {
			t.Fatalf("middleware error = %v", err)
		}
	}
	if q, ok := c["query"].(url.Values); !ok || q.Get("page") != "2" {
		t.Errorf("query = %v, want page=2", c["query"])
	}
	if _, ok := c["now"]; !ok {
		t.Error("now must be set")
	}
	if got := c["resource_type_keys"]; !reflect.DeepEqual(got, []string{"blog", "default"}) {
		t.Errorf("resource_type_keys = %v, want [blog default]", got)
	}
}

func TestBuiltinHandlers(t *testing.T) {
	funcs := NewFunctions()
	mem := repository.NewMemoryStore()
	mem.SetSiteContent(RobotsKey, "User-agent: *\nDisallow: /private\n")
	if err := RegisterBuiltins(funcs, nil, mem.Store().SiteContent); err != nil {
		t.Fatalf("RegisterBuiltins() error = %v", err)
	}

	h, ok := funcs.Handler(HandlerRobots)
	if !ok {
		t.Fatal("robots handler not registered")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/robots.txt", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/private") {
		t.Errorf("robots = %d %q", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}

	h, _ = funcs.Handler(HandlerNoContent)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/hook", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("no_content status = %d, want 204", w.Code)
	}
}

func TestFunctions_重複登録(t *testing.T) {
	funcs := NewFunctions()
	mw := func(*http.Request, render.Context, *model.Resource, *model.Template) error { return nil }
	if err := funcs.RegisterMiddleware("x", mw); err != nil {
		t.Fatalf("RegisterMiddleware() error = %v", err)
	}
	if err := funcs.RegisterMiddleware("x", mw); !errors.Is(err, ErrDuplicateFunction) {
		t.Errorf("RegisterMiddleware() error = %v, want ErrDuplicateFunction", err)
	}
	if err := funcs.RegisterMiddleware("", mw); err == nil {
		t.Error("RegisterMiddleware(\"\") error = nil, want validation error")
	}
}

func TestResponse_WriteTo(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		method   string
		wantBody string
	}{
		{"GETは本文を書き込む", http.StatusOK, http.MethodGet, "body"},
		{"HEADは本文を書き込まない", http.StatusOK, http.MethodHead, ""},
		{"304は本文を書き込まない", http.StatusNotModified, http.MethodGet, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			NewResponse(tt.status, "text/plain", []byte("body")).WriteTo(w, tt.method)
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
			if w.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.wantBody)
			}
		})
	}
}
