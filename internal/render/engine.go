// Package render はテンプレートのコンパイルと描画、再帰ガード、標準コンテキストを提供する。
//
// テンプレートはDBに保存された本文をリクエストごとにコンパイルする。
// HTML向けのhtml/templateとJSON/XML向けのtext/templateの2つのエンジンが共存し、
// テンプレートのengineカラムまたはパス拡張子で選択される。
package render

import (
	"bytes"
	htmltemplate "html/template"
	"io"
	texttemplate "text/template"

	"github.com/hitoshi/swim/internal/model"
)

// Engine はテンプレート本文を実行可能な形にコンパイルする。
type Engine interface {
	// Name はエンジン名（model.EngineHTML など）を返す。
	Name() string
	// Compile は継承チェーン（根が先頭、描画対象が末尾）をコンパイルする。
	// 根のテンプレートが実行され、子孫のdefineが根のblockを上書きする。
	Compile(chain []*model.Template, funcs map[string]any) (Executor, error)
	// Safe はエスケープ済みとして扱う文字列値を返す。
	Safe(s string) any
}

// Executor はコンパイル済みテンプレート。
type Executor interface {
	Execute(w io.Writer, data any) error
}

// HTMLEngine はhtml/templateによるエンジン。出力は文脈に応じて自動エスケープされる。
type HTMLEngine struct{}

var _ Engine = HTMLEngine{}

// Name はエンジン名を返す。
func (HTMLEngine) Name() string { return model.EngineHTML }

// Compile は継承チェーンをhtml/templateでコンパイルする。
func (HTMLEngine) Compile(chain []*model.Template, funcs map[string]any) (Executor, error) {
	root := htmltemplate.New(chain[0].Path).Funcs(htmltemplate.FuncMap(funcs))
	if _, err := root.Parse(stripExtends(chain[0].Body)); err != nil {
		return nil, err
	}
	for _, t := range chain[1:] {
		if _, err := root.New(t.Path).Parse(stripExtends(t.Body)); err != nil {
			return nil, err
		}
	}
	return namedExecutor{name: chain[0].Path, exec: root.ExecuteTemplate}, nil
}

// Safe は文字列をhtml/template.HTMLとして返す。
func (HTMLEngine) Safe(s string) any { return htmltemplate.HTML(s) }

// TextEngine はtext/templateによるエンジン。エスケープを行わない。
type TextEngine struct{}

var _ Engine = TextEngine{}

// Name はエンジン名を返す。
func (TextEngine) Name() string { return model.EngineText }

// Compile は継承チェーンをtext/templateでコンパイルする。
func (TextEngine) Compile(chain []*model.Template, funcs map[string]any) (Executor, error) {
	root := texttemplate.New(chain[0].Path).Funcs(texttemplate.FuncMap(funcs))
	if _, err := root.Parse(stripExtends(chain[0].Body)); err != nil {
		return nil, err
	}
	for _, t := range chain[1:] {
		if _, err := root.New(t.Path).Parse(stripExtends(t.Body)); err != nil {
			return nil, err
		}
	}
	return namedExecutor{name: chain[0].Path, exec: root.ExecuteTemplate}, nil
}

// Safe はそのまま文字列を返す。
func (TextEngine) Safe(s string) any { return s }

type namedExecutor struct {
	name string
	exec func(w io.Writer, name string, data any) error
}

func (e namedExecutor) Execute(w io.Writer, data any) error {
	return e.exec(w, e.name, data)
}

// executeToString はテンプレートを実行して出力を文字列で返す。
func executeToString(x Executor, data any) (string, error) {
	var buf bytes.Buffer
	if err := x.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
