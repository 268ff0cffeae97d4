package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/swim/internal/chain"
	"github.com/hitoshi/swim/internal/middleware"
	"github.com/hitoshi/swim/internal/registry"
)

type adminFormsResponse struct {
	Forms []registry.AdminForm `json:"forms"`
}

type adminContentObject struct {
	Name            string `json:"name"`
	SwimContentType string `json:"swim_content_type"`
	ContextName     string `json:"context_name"`
	TargetType      string `json:"target_type"`
}

// NewAdminHandler は登録済みの内容を読み取り専用で返す管理用ハンドラを返す。
//
//	GET /forms           アトムごとの管理フォーム記述
//	GET /content-objects コンテンツオブジェクトの一覧
//	GET /functions       チェーンとハンドラに登録された関数名
func NewAdminHandler(reg *registry.Registry, functions *chain.Functions) http.Handler {
	r := chi.NewRouter()

	r.Get("/forms", func(w http.ResponseWriter, r *http.Request) {
		forms := reg.AdminForms()
		if forms == nil {
			forms = []registry.AdminForm{}
		}
		writeJSON(w, http.StatusOK, adminFormsResponse{Forms: forms})
	})

	r.Get("/content-objects", func(w http.ResponseWriter, r *http.Request) {
		objs := reg.ContentObjects()
		out := make([]adminContentObject, 0, len(objs))
		for _, obj := range objs {
			out = append(out, adminContentObject{
				Name:            obj.Name,
				SwimContentType: obj.SwimContentType,
				ContextName:     obj.ContextName,
				TargetType:      obj.TargetType,
			})
		}
		writeJSON(w, http.StatusOK, out)
	})

	r.Get("/functions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, functions.Names())
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, "NOT_FOUND", "not found")
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
