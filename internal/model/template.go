package model

import (
	"path"
	"strings"
	"time"
)

// テンプレートエンジン名。
const (
	EngineHTML = "html"
	EngineText = "text"
)

// textExtensions はテキストエンジンを選択するパス拡張子。
var textExtensions = map[string]bool{
	".json": true,
	".xml":  true,
	".txt":  true,
	".csv":  true,
	".js":   true,
}

// Template はリソースやコンテンツオブジェクトを描画するテンプレート。
type Template struct {
	ID              string
	Path            string
	Body            string
	HTTPContentType string // 例: "text/html; charset=utf-8"
	SwimContentType string
	Engine          string   // 空の場合はパス拡張子から決定する
	Domains         []string // 空の場合は全ドメインで有効
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EngineName はテンプレートが使用するエンジン名を返す。
// engineカラムが空の場合は拡張子で判定し、既定はhtmlとする。
func (t *Template) EngineName() string {
	if t.Engine != "" {
		return t.Engine
	}
	if textExtensions[strings.ToLower(path.Ext(t.Path))] {
		return EngineText
	}
	return EngineHTML
}

// AllowsDomain はテンプレートが指定ドメインで利用可能かどうかを返す。
func (t *Template) AllowsDomain(domain string) bool {
	if len(t.Domains) == 0 {
		return true
	}
	for _, d := range t.Domains {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}

// TemplateMapping はリソースタイプとテンプレートの対応付け。
// Depthは探索開始タイプからの距離（0が自身）を表し、リポジトリが埋める。
type TemplateMapping struct {
	ResourceTypeID string
	Template       *Template
	Depth          int
}

// ChainKind はフック（ミドルウェア/レスポンスプロセッサ）の種別。
type ChainKind string

const (
	// ChainMiddleware はコンテキストを変更するフック。
	ChainMiddleware ChainKind = "middleware"
	// ChainResponseProcessor はレスポンスを変更するフック。
	ChainResponseProcessor ChainKind = "response_processor"
)

// ChainMapping はフック関数とリソースタイプの対応付け。
type ChainMapping struct {
	ResourceTypeID string
	Function       string // 登録済み関数のドット区切り名
	Order          int
	Depth          int
}

// HandlerMapping は(path, method)とリクエストハンドラ名の対応付け。
type HandlerMapping struct {
	Path    string
	Method  string
	Handler string
}

// PathRedirect はパスの完全一致によるリダイレクト定義。
type PathRedirect struct {
	Path         string
	RedirectPath string
	RedirectType int // 301, 302, 303, 307
}

// ValidRedirectType は許可されたリダイレクトステータスかどうかを返す。
func ValidRedirectType(status int) bool {
	switch status {
	case 301, 302, 303, 307:
		return true
	default:
		return false
	}
}

// AccessRestriction はパス配下へのBasic認証による制限。
// 最も近い祖先パスのレコードが適用される。
type AccessRestriction struct {
	Path         string
	Restricted   bool
	Realm        string
	Username     string
	PasswordHash string
}
