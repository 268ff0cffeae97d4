package chain

import (
	"net/http"
	"strconv"
)

// Response はレスポンスプロセッサが変更できるレスポンス。
// ResponseWriterに書き込むまでは状態を保持するだけとする。
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// NewResponse はContent-Typeを設定したResponseを生成する。
func NewResponse(status int, contentType string, body []byte) *Response {
	h := make(http.Header)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &Response{Status: status, Header: h, Body: body}
}

// ContentType はContent-Typeヘッダーの値を返す。
func (r *Response) ContentType() string { return r.Header.Get("Content-Type") }

// WriteTo はレスポンスをResponseWriterに書き込む。
// Responseに含まれるヘッダーは既存の値を置き換える。
// HEADリクエストと本文を持たないステータスでは本文を書き込まない。
func (r *Response) WriteTo(w http.ResponseWriter, method string) {
	for k, vs := range r.Header {
		w.Header()[k] = append([]string(nil), vs...)
	}
	withBody := bodyAllowed(r.Status)
	if withBody {
		w.Header().Set("Content-Length", strconv.Itoa(len(r.Body)))
	}
	w.WriteHeader(r.Status)
	if withBody && method != http.MethodHead {
		_, _ = w.Write(r.Body)
	}
}

func bodyAllowed(status int) bool {
	switch {
	case status >= 100 && status < 200:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}
