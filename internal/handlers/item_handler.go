// internal/handlers/item_handler.go
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

// ItemHandler は学習アイテム（単語・例文・問答）のCRUDを扱います
type ItemHandler struct {
	store  store.Manager
	logger *slog.Logger
}

func NewItemHandler(st store.Manager, logger *slog.Logger) *ItemHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ItemHandler{store: st, logger: logger}
}

// itemType はURLパラメータからアイテム種別を解決します
func itemType(r *http.Request) (model.ItemType, error) {
	t, err := model.ParseItemType(chi.URLParam(r, "type"))
	if err != nil {
		return "", model.NewAppError("INVALID_INPUT", "アイテム種別が正しくありません。", "type", model.ErrInvalidInput)
	}
	return t, nil
}

// ListItems は現在言語のアイテム一覧を返します
func (h *ItemHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())
	t, err := itemType(r)
	if err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	webutil.RespondWithJSON(w, http.StatusOK, h.store.Items(t))
}

// PostItem は種別に応じたリクエストを受けてアイテムを作成します
func (h *ItemHandler) PostItem(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())
	t, err := itemType(r)
	if err != nil {
		webutil.HandleError(w, logger, err)
		return
	}

	var created *model.Item
	switch t {
	case model.ItemTypeWord:
		var req model.AddWordRequest
		if err := webutil.DecodeJSONBody(r, &req); err != nil {
			webutil.HandleError(w, logger, err)
			return
		}
		created, err = h.store.AddWord(r.Context(), &req)
	case model.ItemTypeSentence:
		var req model.AddSentenceRequest
		if err := webutil.DecodeJSONBody(r, &req); err != nil {
			webutil.HandleError(w, logger, err)
			return
		}
		created, err = h.store.AddSentence(r.Context(), &req)
	case model.ItemTypeQA:
		var req model.AddQARequest
		if err := webutil.DecodeJSONBody(r, &req); err != nil {
			webutil.HandleError(w, logger, err)
			return
		}
		created, err = h.store.AddQA(r.Context(), &req)
	}
	if err != nil {
		logger.Warn("Failed to add item", slog.String("type", string(t)), slog.Any("error", err))
		webutil.HandleError(w, logger, err)
		return
	}

	webutil.RespondWithJSON(w, http.StatusCreated, created)
}

// PatchItem はアイテムを部分更新します
func (h *ItemHandler) PatchItem(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())
	t, err := itemType(r)
	if err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	id := chi.URLParam(r, "id")

	var req model.PatchItemRequest
	if err := webutil.DecodeJSONBody(r, &req); err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	if err := h.store.UpdateItem(r.Context(), t, id, &req); err != nil {
		logger.Warn("Failed to update item", slog.String("id", id), slog.Any("error", err))
		webutil.HandleError(w, logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteItem はアイテムを削除します
func (h *ItemHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())
	t, err := itemType(r)
	if err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	id := chi.URLParam(r, "id")

	if err := h.store.DeleteItem(r.Context(), t, id); err != nil {
		logger.Warn("Failed to delete item", slog.String("id", id), slog.Any("error", err))
		webutil.HandleError(w, logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
