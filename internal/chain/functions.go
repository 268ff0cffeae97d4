// Package chain はリソースタイプに対応付けたミドルウェアとレスポンスプロセッサの
// 連鎖、およびリクエストハンドラの関数表を提供する。
package chain

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/hitoshi/swim/internal/model"
	"github.com/hitoshi/swim/internal/render"
)

// ErrDuplicateFunction は同名の関数が既に登録されている場合に返される。
var ErrDuplicateFunction = errors.New("関数は既に登録されています")

// Middleware はテンプレートのコンテキストを変更するフック。
type Middleware func(r *http.Request, c render.Context, res *model.Resource, t *model.Template) error

// ResponseProcessor はレスポンスを変更するフック。
type ResponseProcessor func(r *http.Request, c render.Context, res *model.Resource, t *model.Template, resp *Response) error

// Functions はマッピング行が参照する関数名と実装の対応表。
// 登録は起動時に行い、以降は参照のみとする。
type Functions struct {
	mu         sync.RWMutex
	middleware map[string]Middleware
	processors map[string]ResponseProcessor
	handlers   map[string]http.Handler
}

// NewFunctions は空の関数表を生成する。
func NewFunctions() *Functions {
	return &Functions{
		middleware: make(map[string]Middleware),
		processors: make(map[string]ResponseProcessor),
		handlers:   make(map[string]http.Handler),
	}
}

// RegisterMiddleware はミドルウェアを登録する。
func (f *Functions) RegisterMiddleware(name string, fn Middleware) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := checkName(name, f.middleware[name] != nil); err != nil {
		return err
	}
	f.middleware[name] = fn
	return nil
}

// RegisterProcessor はレスポンスプロセッサを登録する。
func (f *Functions) RegisterProcessor(name string, fn ResponseProcessor) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := checkName(name, f.processors[name] != nil); err != nil {
		return err
	}
	f.processors[name] = fn
	return nil
}

// RegisterHandler はリクエストハンドラを登録する。
func (f *Functions) RegisterHandler(name string, h http.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := checkName(name, f.handlers[name] != nil); err != nil {
		return err
	}
	f.handlers[name] = h
	return nil
}

func checkName(name string, exists bool) error {
	if name == "" {
		return model.NewValidationError("function", "name is empty")
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrDuplicateFunction, name)
	}
	return nil
}

// Middleware は名前に対応するミドルウェアを返す。
func (f *Functions) Middleware(name string) (Middleware, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	fn, ok := f.middleware[name]
	return fn, ok
}

// Processor は名前に対応するレスポンスプロセッサを返す。
func (f *Functions) Processor(name string) (ResponseProcessor, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	fn, ok := f.processors[name]
	return fn, ok
}

// Handler は名前に対応するリクエストハンドラを返す。
func (f *Functions) Handler(name string) (http.Handler, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	h, ok := f.handlers[name]
	return h, ok
}

// Names は種別ごとの登録済み関数名をソートして返す。
func (f *Functions) Names() map[string][]string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := map[string][]string{
		string(model.ChainMiddleware):        sortedKeys(f.middleware),
		string(model.ChainResponseProcessor): sortedKeys(f.processors),
		"handler":                            sortedKeys(f.handlers),
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
