// internal/handlers/category_handler.go
package handlers

import (
	"log/slog"
	"net/http"

	"go_5_vocab_sync/internal/category"
	"go_5_vocab_sync/internal/middleware"
	"go_5_vocab_sync/internal/model"
	"go_5_vocab_sync/internal/store"
	"go_5_vocab_sync/internal/webutil"
)

// CategoryHandler は選択中の言語のカテゴリ木を操作します
type CategoryHandler struct {
	store  store.Manager
	cats   category.Manager
	logger *slog.Logger
}

func NewCategoryHandler(st store.Manager, cats category.Manager, logger *slog.Logger) *CategoryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CategoryHandler{store: st, cats: cats, logger: logger}
}

// currentLang は選択中の言語コードを返します（未選択なら ErrLanguageNotFound）
func (h *CategoryHandler) currentLang() (string, error) {
	lang, ok := h.store.CurrentLanguage()
	if !ok {
		return "", model.ErrLanguageNotFound
	}
	return lang.Code, nil
}

func (h *CategoryHandler) GetCategories(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())

	lang, err := h.currentLang()
	if err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	forest, err := h.cats.Forest(r.Context(), lang)
	if err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	if forest == nil {
		forest = []*model.CategoryNode{}
	}
	webutil.RespondWithJSON(w, http.StatusOK, forest)
}

func (h *CategoryHandler) PostCategory(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())

	var req model.AddCategoryRequest
	if err := webutil.DecodeJSONBody(r, &req); err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	lang, err := h.currentLang()
	if err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	node, err := h.cats.Add(r.Context(), lang, req.ParentPath, req.Name)
	if err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	webutil.RespondWithJSON(w, http.StatusCreated, node)
}

// PutCategoryName はカテゴリを改名し、配下のアイテムのカテゴリパスを書き換えます
func (h *CategoryHandler) PutCategoryName(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())

	var req model.RenameCategoryRequest
	if err := webutil.DecodeJSONBody(r, &req); err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	lang, err := h.currentLang()
	if err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	if err := h.cats.Rename(r.Context(), lang, req.Path, req.NewName); err != nil {
		logger.Warn("Failed to rename category", slog.Any("path", req.Path), slog.Any("error", err))
		webutil.HandleError(w, logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteCategory はカテゴリを削除します（アイテム自体は残り、未分類になります）
func (h *CategoryHandler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())

	var req model.DeleteCategoryRequest
	if err := webutil.DecodeJSONBody(r, &req); err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	lang, err := h.currentLang()
	if err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	if err := h.cats.Delete(r.Context(), lang, req.Path); err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
