package resolver

import (
	"errors"
	"reflect"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"///", "/"},
		{"/About", "/about"},
		{"about/", "/about"},
		{"/a/b/c/", "/a/b/c"},
		{"/News#top", "/news"},
		{"#frag", "/"},
		{"//a//b//", "/a//b"},
		{"/Ünïcode/ABC", "/Ünïcode/abc"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_冪等性(t *testing.T) {
	inputs := []string{"", "/", "/A/B/", "x", "//a//b//", "/q#x#y", "/Ä/B"}
	for _, in := range inputs {
		once := Normalize(in)
		if twice := Normalize(once); twice != once {
			t.Errorf("Normalize(Normalize(%q)) = %q, want %q", in, twice, once)
		}
	}
}

func TestCandidates(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"/", []string{"/"}},
		{"/a", []string{"/a", "/"}},
		{"/a/b/c", []string{"/a/b/c", "/a/b", "/a", "/"}},
		{"/A/B/", []string{"/a/b", "/a", "/"}},
	}
	for _, tt := range tests {
		if got := Candidates(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Candidates(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestIsPrefix(t *testing.T) {
	tests := []struct {
		prefix, p string
		want      bool
	}{
		{"/", "/anything", true},
		{"/a", "/a", true},
		{"/a", "/a/b", true},
		{"/a", "/ab", false},
		{"/a/b", "/a", false},
		{"/A", "/a/x", true},
	}
	for _, tt := range tests {
		if got := IsPrefix(tt.prefix, tt.p); got != tt.want {
			t.Errorf("IsPrefix(%q, %q) = %v, want %v", tt.prefix, tt.p, got, tt.want)
		}
	}
}

type row struct {
	path string
	name string
}

func table(rows ...row) map[string]row {
	m := make(map[string]row, len(rows))
	for _, r := range rows {
		m[r.path] = r
	}
	return m
}

func lookupFrom(m map[string]row) func(string) (row, bool, error) {
	return func(c string) (row, bool, error) {
		r, ok := m[c]
		return r, ok, nil
	}
}

func fetchFrom(m map[string]row, calls *int) func([]string) ([]row, error) {
	return func(cs []string) ([]row, error) {
		*calls++
		var out []row
		for _, c := range cs {
			if r, ok := m[c]; ok {
				out = append(out, r)
			}
		}
		return out, nil
	}
}

func TestTreeFallbackとSingleQueryの一致(t *testing.T) {
	m := table(
		row{"/", "root"},
		row{"/a", "a"},
		row{"/a/b/c", "abc"},
	)
	paths := []string{"/", "/a", "/a/b", "/a/b/c", "/a/b/c/d", "/x/y", "/ab"}
	for _, p := range paths {
		it, okIt, err := TreeFallback(p, lookupFrom(m))
		if err != nil {
			t.Fatalf("TreeFallback(%q) error: %v", p, err)
		}
		calls := 0
		sq, okSq, err := SingleQuery(p, fetchFrom(m, &calls), func(r row) string { return r.path })
		if err != nil {
			t.Fatalf("SingleQuery(%q) error: %v", p, err)
		}
		if calls != 1 {
			t.Errorf("SingleQuery(%q) fetch calls = %d, want 1", p, calls)
		}
		if okIt != okSq || it != sq {
			t.Errorf("path %q: TreeFallback = (%v, %v), SingleQuery = (%v, %v)", p, it, okIt, sq, okSq)
		}
		if !okSq {
			t.Errorf("path %q: root record must always match", p)
			continue
		}
		if !IsPrefix(sq.path, p) {
			t.Errorf("path %q resolved %q which is not a slash-boundary prefix", p, sq.path)
		}
		// 解決されたパス自体を解決しても同じレコードになる
		again, _, _ := SingleQuery(sq.path, fetchFrom(m, &calls), func(r row) string { return r.path })
		if again != sq {
			t.Errorf("resolving %q again = %v, want %v", sq.path, again, sq)
		}
	}
}

func TestSingleQuery_ルートがない場合(t *testing.T) {
	m := table(row{"/a", "a"})
	calls := 0
	_, ok, err := SingleQuery("/b/c", fetchFrom(m, &calls), func(r row) string { return r.path })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("found = true, want false")
	}
}

func TestSingleQuery_候補外の行を無視する(t *testing.T) {
	fetch := func([]string) ([]row, error) {
		return []row{{"/other/deep/path", "bad"}, {"/", "root"}}, nil
	}
	got, ok, err := SingleQuery("/a/b", fetch, func(r row) string { return r.path })
	if err != nil || !ok {
		t.Fatalf("SingleQuery = (%v, %v, %v)", got, ok, err)
	}
	if got.name != "root" {
		t.Errorf("got %q, want root", got.name)
	}
}

func TestTreeFallback_エラー伝播(t *testing.T) {
	boom := errors.New("boom")
	_, _, err := TreeFallback("/a/b", func(string) (row, bool, error) { return row{}, false, boom })
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}
