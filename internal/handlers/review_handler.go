// internal/handlers/review_handler.go
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

// ReviewHandler は復習の記録とフラグ操作、復習キューの取得を扱います
type ReviewHandler struct {
	store  store.Manager
	logger *slog.Logger
}

func NewReviewHandler(st store.Manager, logger *slog.Logger) *ReviewHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReviewHandler{store: st, logger: logger}
}

// MarkReviewedRequest は復習記録リクエスト
type MarkReviewedRequest struct {
	// 集中復習（没記住キュー）からも外すか
	ClearIncorrect bool `json:"clearIncorrect"`
}

// PostReviewed は復習済みを記録します
func (h *ReviewHandler) PostReviewed(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())
	t, err := itemType(r)
	if err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	id := chi.URLParam(r, "id")

	var req MarkReviewedRequest
	if r.ContentLength > 0 {
		if err := webutil.DecodeJSONBody(r, &req); err != nil {
			webutil.HandleError(w, logger, err)
			return
		}
	}

	if err := h.store.Engine().MarkReviewed(r.Context(), t, id, req.ClearIncorrect); err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PostIncorrect は「没記住」フラグを付けます
func (h *ReviewHandler) PostIncorrect(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())
	t, err := itemType(r)
	if err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	if err := h.store.Engine().MarkIncorrect(r.Context(), t, chi.URLParam(r, "id")); err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PostMastered は「学会了」フラグを付けます（没記住フラグは消える）
func (h *ReviewHandler) PostMastered(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())
	t, err := itemType(r)
	if err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	if err := h.store.Engine().MarkMastered(r.Context(), t, chi.URLParam(r, "id")); err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearIncorrect は没記住フラグを一括で消します
func (h *ReviewHandler) ClearIncorrect(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())
	if err := h.store.Engine().ClearAllIncorrect(r.Context()); err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearMastered は学会了フラグを一括で消します
func (h *ReviewHandler) ClearMastered(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())
	if err := h.store.Engine().ClearAllMastered(r.Context()); err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetDue は通常復習の対象一覧を返します
func (h *ReviewHandler) GetDue(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())
	t, err := itemType(r)
	if err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	webutil.RespondWithJSON(w, http.StatusOK, itemsOrEmpty(h.store.DueForReview(t)))
}

// GetIncorrect は集中復習（没記住）キューを返します
func (h *ReviewHandler) GetIncorrect(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())
	t, err := itemType(r)
	if err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	webutil.RespondWithJSON(w, http.StatusOK, itemsOrEmpty(h.store.IncorrectItems(t)))
}

// GetMastered は学会了にしたアイテム一覧を返します
func (h *ReviewHandler) GetMastered(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())
	t, err := itemType(r)
	if err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	webutil.RespondWithJSON(w, http.StatusOK, itemsOrEmpty(h.store.MasteredItems(t)))
}

// itemsOrEmpty は nil スライスを空配列としてJSONに出すためのヘルパー
func itemsOrEmpty(items []*model.Item) []*model.Item {
	if items == nil {
		return []*model.Item{}
	}
	return items
}
