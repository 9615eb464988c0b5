// internal/handlers/language_handler.go
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"go_5_vocab_sync/internal/middleware"
	"go_5_vocab_sync/internal/model"
	"go_5_vocab_sync/internal/store"
	"go_5_vocab_sync/internal/webutil"
)

// LanguageHandler は学習言語リストと選択言語の切り替えを扱います
type LanguageHandler struct {
	store  store.Manager
	logger *slog.Logger
}

func NewLanguageHandler(st store.Manager, logger *slog.Logger) *LanguageHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LanguageHandler{store: st, logger: logger}
}

// LanguageListResponse は言語一覧レスポンス
type LanguageListResponse struct {
	Languages []model.Language `json:"languages"`
	Current   string           `json:"current,omitempty"`
}

// AddLanguageRequest は言語追加リクエスト
type AddLanguageRequest struct {
	Code string `json:"code" validate:"required,min=2,max=8"`
	Name string `json:"name" validate:"required"`
	Flag string `json:"flag"`
}

// SwitchLanguageRequest は選択言語の切り替えリクエスト
type SwitchLanguageRequest struct {
	Code string `json:"code" validate:"required"`
}

func (h *LanguageHandler) GetLanguages(w http.ResponseWriter, r *http.Request) {
	resp := LanguageListResponse{Languages: h.store.Languages()}
	if current, ok := h.store.CurrentLanguage(); ok {
		resp.Current = current.Code
	}
	webutil.RespondWithJSON(w, http.StatusOK, resp)
}

func (h *LanguageHandler) PostLanguage(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())

	var req AddLanguageRequest
	if err := webutil.DecodeJSONBody(r, &req); err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	lang := model.Language{Code: req.Code, Name: req.Name, Flag: req.Flag}
	if err := h.store.AddLanguage(r.Context(), lang); err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	webutil.RespondWithJSON(w, http.StatusCreated, lang)
}

func (h *LanguageHandler) DeleteLanguage(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())
	code := chi.URLParam(r, "code")

	if err := h.store.RemoveLanguage(r.Context(), code); err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PutCurrentLanguage は選択言語を切り替えます（購読の張り替えと再同期を伴う）
func (h *LanguageHandler) PutCurrentLanguage(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())

	var req SwitchLanguageRequest
	if err := webutil.DecodeJSONBody(r, &req); err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	if err := h.store.SwitchLanguage(r.Context(), req.Code); err != nil {
		logger.Warn("Failed to switch language", slog.String("code", req.Code), slog.Any("error", err))
		webutil.HandleError(w, logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
