package model

import (
	"errors"
	"fmt"
	"strings"
)

// エラー種別コード。ログとメトリクスのラベルに使う。
const (
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeNotAcceptable        = "NOT_ACCEPTABLE"
	ErrCodeMethodNotAllowed     = "METHOD_NOT_ALLOWED"
	ErrCodeTemplateDoesNotExist = "TEMPLATE_DOES_NOT_EXIST"
	ErrCodeRecursionDepth       = "RECURSION_DEPTH_EXCEEDED"
	ErrCodeValidation           = "VALIDATION_ERROR"
)

// ErrRecursionDepthExceeded は再帰ガードのキーが既にアクティブな場合に返される。
var ErrRecursionDepthExceeded = errors.New("maximum recursion depth exceeded")

// NotFoundError はパスに対応するリソースが見つからない場合のエラー。
type NotFoundError struct {
	Path string
}

// Error はerrorインターフェースを実装する。
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("[%s] no resource matches %q", ErrCodeNotFound, e.Path)
}

// NotAcceptableError はAcceptヘッダーに合う候補テンプレートがない場合のエラー。
type NotAcceptableError struct {
	Accept    string
	Available []string
}

// Error はerrorインターフェースを実装する。
func (e *NotAcceptableError) Error() string {
	return fmt.Sprintf("[%s] %s", ErrCodeNotAcceptable, e.Diagnostic())
}

// Diagnostic は406レスポンス本文に使う診断メッセージを返す。
func (e *NotAcceptableError) Diagnostic() string {
	accept := e.Accept
	if strings.TrimSpace(accept) == "" {
		accept = "*/*"
	}
	available := "(none)"
	if len(e.Available) > 0 {
		available = strings.Join(e.Available, ", ")
	}
	return fmt.Sprintf("Not Acceptable. Requested: %s. Available: %s", accept, available)
}

// MethodNotAllowedError はパスにハンドラ行があるがメソッドが一致しない場合のエラー。
type MethodNotAllowedError struct {
	Path    string
	Allowed []string // ソート済み
}

// Error はerrorインターフェースを実装する。
func (e *MethodNotAllowedError) Error() string {
	return fmt.Sprintf("[%s] %s allows %s", ErrCodeMethodNotAllowed, e.Path, e.AllowHeader())
}

// AllowHeader はAllowヘッダーの値（スペース区切り）を返す。
func (e *MethodNotAllowedError) AllowHeader() string {
	return strings.Join(e.Allowed, " ")
}

// TemplateDoesNotExistError はテンプレートの探索に失敗した場合のエラー。
type TemplateDoesNotExistError struct {
	ResourceType    string
	SwimContentType string
	Path            string // パス指定での探索（extends）の場合のみ
}

// Error はerrorインターフェースを実装する。
func (e *TemplateDoesNotExistError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] template %q does not exist", ErrCodeTemplateDoesNotExist, e.Path)
	}
	return fmt.Sprintf("[%s] no template for resource type %q and swim content type %q",
		ErrCodeTemplateDoesNotExist, e.ResourceType, e.SwimContentType)
}

// RecursionError は再帰ガードに引っかかった描画対象を保持する。
type RecursionError struct {
	Key string
}

// Error はerrorインターフェースを実装する。
func (e *RecursionError) Error() string {
	return fmt.Sprintf("[%s] %v: %s", ErrCodeRecursionDepth, ErrRecursionDepthExceeded, e.Key)
}

// Unwrap はerrors.Isで判定できるよう番兵エラーを返す。
func (e *RecursionError) Unwrap() error { return ErrRecursionDepthExceeded }

// ValidationError は入力値の型チェックに失敗した場合のエラー。
// 編集画面にのみ返され、GETの経路には現れない。
type ValidationError struct {
	Field  string
	Reason string
}

// Error はerrorインターフェースを実装する。
func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", ErrCodeValidation, e.Field, e.Reason)
}

// NewValidationError はValidationErrorを生成する。
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsNotFound はエラーがNotFoundErrorかどうかを返す。
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsTemplateDoesNotExist はエラーがTemplateDoesNotExistErrorかどうかを返す。
func IsTemplateDoesNotExist(err error) bool {
	var e *TemplateDoesNotExistError
	return errors.As(err, &e)
}

// ErrorCode はエラーに対応する種別コードを返す。既知の種別でなければ空文字列を返す。
func ErrorCode(err error) string {
	var (
		nf  *NotFoundError
		na  *NotAcceptableError
		mna *MethodNotAllowedError
		tde *TemplateDoesNotExistError
		ve  *ValidationError
	)
	switch {
	case errors.As(err, &nf):
		return ErrCodeNotFound
	case errors.As(err, &na):
		return ErrCodeNotAcceptable
	case errors.As(err, &mna):
		return ErrCodeMethodNotAllowed
	case errors.As(err, &tde):
		return ErrCodeTemplateDoesNotExist
	case errors.Is(err, ErrRecursionDepthExceeded):
		return ErrCodeRecursionDepth
	case errors.As(err, &ve):
		return ErrCodeValidation
	default:
		return ""
	}
}
