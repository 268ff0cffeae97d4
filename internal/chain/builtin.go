package chain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/swim/internal/model"
	"github.com/hitoshi/swim/internal/render"
	"github.com/hitoshi/swim/internal/repository"
	"github.com/hitoshi/swim/internal/scope"
	"github.com/hitoshi/swim/internal/security"
)

// 組み込み関数の名前。マッピング行のfunctionカラムで参照する。
const (
	MiddlewareQuery     = "swim.middleware.query"
	MiddlewareNow       = "swim.middleware.now"
	MiddlewareAncestors = "swim.middleware.ancestors"

	ProcessorVaryAccept       = "swim.processors.vary_accept"
	ProcessorNoStore          = "swim.processors.no_store"
	ProcessorETag             = "swim.processors.etag"
	ProcessorSanitizeFragment = "swim.processors.sanitize_fragment"

	HandlerNoContent = "swim.handlers.no_content"
	HandlerRobots    = "swim.handlers.robots"
)

// RobotsKey はrobots.txtの本文を保持するサイトコンテンツのキー。
const RobotsKey = "robots_txt"

const defaultRobots = "User-agent: *\nDisallow:\n"

// RegisterBuiltins は組み込みのミドルウェア、レスポンスプロセッサ、ハンドラを登録する。
func RegisterBuiltins(f *Functions, sanitizer security.ContentSanitizer, site repository.SiteContentRepository) error {
	middleware := map[string]Middleware{
		MiddlewareQuery:     queryMiddleware,
		MiddlewareNow:       nowMiddleware,
		MiddlewareAncestors: ancestorsMiddleware,
	}
	for name, fn := range middleware {
		if err := f.RegisterMiddleware(name, fn); err != nil {
			return err
		}
	}

	processors := map[string]ResponseProcessor{
		ProcessorVaryAccept:       varyAcceptProcessor,
		ProcessorNoStore:          noStoreProcessor,
		ProcessorETag:             etagProcessor,
		ProcessorSanitizeFragment: sanitizeFragmentProcessor(sanitizer),
	}
	for name, fn := range processors {
		if err := f.RegisterProcessor(name, fn); err != nil {
			return err
		}
	}

	if err := f.RegisterHandler(HandlerNoContent, http.HandlerFunc(noContentHandler)); err != nil {
		return err
	}
	return f.RegisterHandler(HandlerRobots, robotsHandler(site))
}

// queryMiddleware はクエリ文字列を query として公開する。
func queryMiddleware(r *http.Request, c render.Context, _ *model.Resource, _ *model.Template) error {
	c["query"] = r.URL.Query()
	return nil
}

// nowMiddleware は現在時刻を now として公開する。
func nowMiddleware(_ *http.Request, c render.Context, _ *model.Resource, _ *model.Template) error {
	c["now"] = time.Now()
	return nil
}

// ancestorsMiddleware はリソースタイプの祖先のキーを自身から根の順で resource_type_keys として公開する。
func ancestorsMiddleware(r *http.Request, c render.Context, res *model.Resource, _ *model.Template) error {
	sc := scope.FromContext(r.Context())
	if sc == nil || res == nil {
		return errors.New("リクエストスコープがありません")
	}
	chain, ok := sc.Ancestors(res.ResourceTypeID)
	if !ok {
		return fmt.Errorf("リソースタイプ %s の祖先が未解決です", res.ResourceTypeID)
	}
	keys := make([]string, len(chain))
	for i, rt := range chain {
		keys[i] = rt.Key
	}
	c["resource_type_keys"] = keys
	return nil
}

func varyAcceptProcessor(_ *http.Request, _ render.Context, _ *model.Resource, _ *model.Template, resp *Response) error {
	resp.Header.Add("Vary", "Accept")
	return nil
}

func noStoreProcessor(_ *http.Request, _ render.Context, _ *model.Resource, _ *model.Template, resp *Response) error {
	resp.Header.Set("Cache-Control", "no-store")
	return nil
}

// etagProcessor は本文から強いETagを付与し、If-None-Matchが一致すれば304にする。
func etagProcessor(r *http.Request, _ render.Context, _ *model.Resource, _ *model.Template, resp *Response) error {
	if resp.Status != http.StatusOK {
		return nil
	}
	sum := sha256.Sum256(resp.Body)
	etag := `"` + hex.EncodeToString(sum[:16]) + `"`
	resp.Header.Set("ETag", etag)

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return nil
	}
	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		resp.Status = http.StatusNotModified
		resp.Body = nil
		resp.Header.Del("Content-Type")
	}
	return nil
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

// sanitizeFragmentProcessor はtext/htmlの本文をサニタイズする。
func sanitizeFragmentProcessor(sanitizer security.ContentSanitizer) ResponseProcessor {
	return func(_ *http.Request, _ render.Context, _ *model.Resource, _ *model.Template, resp *Response) error {
		if sanitizer == nil {
			return errors.New("サニタイザが設定されていません")
		}
		mt, _, err := mime.ParseMediaType(resp.ContentType())
		if err != nil || mt != "text/html" {
			return nil
		}
		resp.Body = []byte(sanitizer.Sanitize(string(resp.Body)))
		return nil
	}
}

func noContentHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// robotsHandler はサイトコンテンツの robots_txt をtext/plainで返す。
// レコードがない場合は全許可の既定値を返す。
func robotsHandler(site repository.SiteContentRepository) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := defaultRobots
		if site != nil {
			records, err := site.List(r.Context())
			if err != nil {
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			for _, rec := range records {
				if rec.Key == RobotsKey {
					body = rec.Value
				}
			}
		}
		resp := NewResponse(http.StatusOK, "text/plain; charset=utf-8", []byte(body))
		resp.WriteTo(w, r.Method)
	})
}
