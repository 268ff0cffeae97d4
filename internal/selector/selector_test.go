package selector

import (
	"context"
	"errors"
	"math/rand"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/swim/internal/model"
	"github.com/hitoshi/swim/internal/repository"
	"github.com/hitoshi/swim/internal/scope"
)

func TestParseAccept(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   []string
	}{
		{"空", "", []string{"*/*"}},
		{"空白のみ", "   ", []string{"*/*"}},
		{"q値の降順", "text/html;q=0.5, application/json", []string{"application/json", "text/html"}},
		{"同じq値は出現順", "text/plain, text/html, application/json;q=0.9", []string{"text/plain", "text/html", "application/json"}},
		{"アスタリスク単体", "*", []string{"*/*"}},
		{"不正な要素を無視", "bogus, text/html, */json", []string{"text/html"}},
		{"大文字", "Text/HTML", []string{"text/html"}},
		{"不正なq値", "text/html;q=abc, text/plain", []string{"text/plain"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseAccept(tt.header)
			if len(got) != len(tt.want) {
				t.Fatalf("ParseAccept(%q) = %v, want %v", tt.header, got, tt.want)
			}
			for i := range got {
				if got[i].String() != tt.want[i] {
					t.Errorf("ParseAccept(%q)[%d] = %s, want %s", tt.header, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func tmpl(path, ct string) *model.Template {
	return &model.Template{Path: path, HTTPContentType: ct, SwimContentType: model.SwimContentTypeResource}
}

func TestNegotiate(t *testing.T) {
	html := tmpl("/page", "text/html; charset=utf-8")
	json := tmpl("/page.json", "application/json")
	text := tmpl("/page.txt", "text/plain")
	candidates := []*model.Template{html, json, text}

	tests := []struct {
		accept string
		want   *model.Template
	}{
		{"", html},
		{"*/*", html},
		{"application/json, text/html;q=0.5", json},
		{"text/*", html},
		{"text/plain", text},
		{"application/pdf, text/plain;q=0.1", text},
		{"text/html;q=0, application/json;q=0.2", json},
		{"text/html;level=1", html},
	}
	for _, tt := range tests {
		got, err := Negotiate(candidates, tt.accept)
		if err != nil {
			t.Errorf("Negotiate(%q) error: %v", tt.accept, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Negotiate(%q) = %s, want %s", tt.accept, got.Path, tt.want.Path)
		}
	}
}

func TestNegotiate_NotAcceptable(t *testing.T) {
	_, err := Negotiate([]*model.Template{tmpl("/page", "text/html")}, "application/pdf")
	var na *model.NotAcceptableError
	if !errors.As(err, &na) {
		t.Fatalf("err = %v, want NotAcceptableError", err)
	}
	d := na.Diagnostic()
	if !strings.Contains(d, "application/pdf") || !strings.Contains(d, "text/html") {
		t.Errorf("Diagnostic() = %q", d)
	}
}

func TestNegotiate_候補の並べ替えに対して安定(t *testing.T) {
	html := tmpl("/a", "text/html")
	json := tmpl("/b", "application/json")
	accept := "application/json, text/html;q=0.5"
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		c := []*model.Template{html, json}
		r.Shuffle(len(c), func(i, j int) { c[i], c[j] = c[j], c[i] })
		got, err := Negotiate(c, accept)
		if err != nil || got != json {
			t.Fatalf("Negotiate(permutation %d) = %v, %v", i, got, err)
		}
	}
}

type observer struct{ reasons []string }

func (o *observer) ObserveSelectionFailure(reason string) { o.reasons = append(o.reasons, reason) }

func seed(t *testing.T) *repository.MemoryStore {
	t.Helper()
	m := repository.NewMemoryStore()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(m.AddResourceType(&model.ResourceType{ID: "root", Key: "default"}))
	must(m.AddResourceType(&model.ResourceType{ID: "blog", ParentID: "root", Key: "blog"}))
	must(m.AddResourceType(&model.ResourceType{ID: "post", ParentID: "blog", Key: "post"}))
	must(m.AddTemplate(&model.Template{ID: "t-root-html", Path: "/default", HTTPContentType: "text/html; charset=utf-8",
		SwimContentType: model.SwimContentTypeResource}, "root"))
	must(m.AddTemplate(&model.Template{ID: "t-root-json", Path: "/default.json", HTTPContentType: "application/json",
		SwimContentType: model.SwimContentTypeResource}, "root"))
	must(m.AddTemplate(&model.Template{ID: "t-blog-html", Path: "/blog", HTTPContentType: "text/html; charset=utf-8",
		SwimContentType: model.SwimContentTypeResource}, "blog"))
	must(m.AddTemplate(&model.Template{ID: "t-copy", Path: "/copy", HTTPContentType: "text/html",
		SwimContentType: "swim.copy"}, "root"))
	return m
}

func TestCandidates_祖先によるシャドーイング(t *testing.T) {
	m := seed(t)
	s := New(m.Store().Templates, m.Store().ResourceTypes, nil, nil)

	got, err := s.Candidates(context.Background(), nil, "post", model.SwimContentTypeResource)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, c := range got {
		ids = append(ids, c.ID)
	}
	// blogのhtmlがrootのhtmlを隠し、jsonはrootから継承する
	want := []string{"t-blog-html", "t-root-json"}
	if strings.Join(ids, ",") != strings.Join(want, ",") {
		t.Errorf("Candidates(post) = %v, want %v", ids, want)
	}
	for _, c := range got {
		if c.SwimContentType != model.SwimContentTypeResource {
			t.Errorf("candidate %s has swim content type %s", c.ID, c.SwimContentType)
		}
	}
}

func TestSelect_ツリーフォールバック(t *testing.T) {
	m := seed(t)
	s := New(m.Store().Templates, m.Store().ResourceTypes, nil, nil)
	got, err := s.Select(context.Background(), nil, "post", "swim.copy", "*/*")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "t-copy" {
		t.Errorf("Select() = %s, want t-copy", got.ID)
	}
}

func TestSelect_テンプレートなし(t *testing.T) {
	m := seed(t)
	obs := &observer{}
	s := New(m.Store().Templates, m.Store().ResourceTypes, nil, obs)
	sc := scope.New(nil, "/")
	_, err := s.Select(context.Background(), sc, "post", "swim.menu", "*/*")
	var tde *model.TemplateDoesNotExistError
	if !errors.As(err, &tde) {
		t.Fatalf("err = %v, want TemplateDoesNotExistError", err)
	}
	if tde.ResourceType != "post" {
		t.Errorf("ResourceType = %q, want post", tde.ResourceType)
	}
	if len(obs.reasons) != 1 || obs.reasons[0] != ReasonTemplateDoesNotExist {
		t.Errorf("reasons = %v", obs.reasons)
	}
}

func TestSelect_NotAcceptable(t *testing.T) {
	m := seed(t)
	obs := &observer{}
	s := New(m.Store().Templates, m.Store().ResourceTypes, nil, obs)
	_, err := s.Select(context.Background(), nil, "post", model.SwimContentTypeResource, "application/pdf")
	if model.ErrorCode(err) != model.ErrCodeNotAcceptable {
		t.Fatalf("err = %v, want NotAcceptable", err)
	}
	if len(obs.reasons) != 1 || obs.reasons[0] != ReasonNotAcceptable {
		t.Errorf("reasons = %v", obs.reasons)
	}
}

type countingTemplates struct {
	repository.TemplateRepository
	calls int
}

func (c *countingTemplates) ListMappings(ctx context.Context, ids []string, sct string) ([]*model.TemplateMapping, error) {
	c.calls++
	return c.TemplateRepository.ListMappings(ctx, ids, sct)
}

func TestCandidates_リクエスト内でメモする(t *testing.T) {
	m := seed(t)
	ct := &countingTemplates{TemplateRepository: m.Store().Templates}
	s := New(ct, m.Store().ResourceTypes, nil, nil)
	sc := scope.New(nil, "/")
	for i := 0; i < 3; i++ {
		if _, err := s.Select(context.Background(), sc, "post", model.SwimContentTypeResource, "*/*"); err != nil {
			t.Fatal(err)
		}
	}
	if ct.calls != 1 {
		t.Errorf("ListMappings calls = %d, want 1", ct.calls)
	}
}

func TestCandidates_ドメインで絞り込む(t *testing.T) {
	m := repository.NewMemoryStore()
	_ = m.AddResourceType(&model.ResourceType{ID: "root", Key: "default"})
	_ = m.AddTemplate(&model.Template{ID: "jp", Path: "/jp", HTTPContentType: "text/html",
		SwimContentType: model.SwimContentTypeResource, Domains: []string{"example.jp"}}, "root")
	_ = m.AddTemplate(&model.Template{ID: "any", Path: "/zz", HTTPContentType: "text/html",
		SwimContentType: model.SwimContentTypeResource}, "root")

	s := New(m.Store().Templates, m.Store().ResourceTypes, []string{"example.jp", "example.com"}, nil)

	req := httptest.NewRequest("GET", "http://example.com:8080/", nil)
	got, err := s.Select(context.Background(), scope.New(req, "/"), "root", model.SwimContentTypeResource, "*/*")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "any" {
		t.Errorf("Select(example.com) = %s, want any", got.ID)
	}

	req = httptest.NewRequest("GET", "http://example.jp/", nil)
	got, err = s.Select(context.Background(), scope.New(req, "/"), "root", model.SwimContentTypeResource, "*/*")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "jp" {
		t.Errorf("Select(example.jp) = %s, want jp", got.ID)
	}
}
