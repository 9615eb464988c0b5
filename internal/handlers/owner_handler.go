// internal/handlers/owner_handler.go
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"go_5_vocab_sync/internal/identity"
	"go_5_vocab_sync/internal/middleware"
	"go_5_vocab_sync/internal/model"
	"go_5_vocab_sync/internal/webutil"
)

// デバイストークンの既定有効期限
const defaultTokenTTL = 30 * 24 * time.Hour

// OwnerHandler は端末の所有者 ID とデバイストークンを扱います
type OwnerHandler struct {
	provider *identity.DeviceProvider
	logger   *slog.Logger
}

func NewOwnerHandler(provider *identity.DeviceProvider, logger *slog.Logger) *OwnerHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OwnerHandler{provider: provider, logger: logger}
}

// OwnerResponse は所有者情報レスポンス
type OwnerResponse struct {
	OwnerID  string `json:"ownerId"`
	SignedIn bool   `json:"signedIn"`
}

// DeviceTokenResponse はトークン発行レスポンス
type DeviceTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

func (h *OwnerHandler) GetOwner(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.provider.CurrentOwnerID()
	webutil.RespondWithJSON(w, http.StatusOK, OwnerResponse{OwnerID: ownerID, SignedIn: ok})
}

// PostSignIn は端末を所有者に紐付けます（既存 ID があれば再利用）
func (h *OwnerHandler) PostSignIn(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())

	ownerID, err := h.provider.Bind(r.Context())
	if err != nil {
		webutil.HandleError(w, logger, err)
		return
	}
	webutil.RespondWithJSON(w, http.StatusOK, OwnerResponse{OwnerID: ownerID, SignedIn: true})
}

func (h *OwnerHandler) PostSignOut(w http.ResponseWriter, r *http.Request) {
	h.provider.SignOut()
	w.WriteHeader(http.StatusNoContent)
}

// PostDeviceToken は API 認証用のデバイストークンを発行します
func (h *OwnerHandler) PostDeviceToken(w http.ResponseWriter, r *http.Request) {
	logger := middleware.GetLogger(r.Context())

	if _, ok := h.provider.CurrentOwnerID(); !ok {
		webutil.HandleError(w, logger, model.ErrUnauthorized)
		return
	}
	token, err := h.provider.IssueDeviceToken(defaultTokenTTL)
	if err != nil {
		logger.Error("Failed to issue device token", slog.Any("error", err))
		webutil.HandleError(w, logger, err)
		return
	}
	webutil.RespondWithJSON(w, http.StatusOK, DeviceTokenResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(defaultTokenTTL).UTC().Format(time.RFC3339),
	})
}
