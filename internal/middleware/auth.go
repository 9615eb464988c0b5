// internal/middleware/auth.go
package middleware

import (
	"context"
	"net/http"
	"strings"

	"go_5_vocab_sync/internal/model"
	"go_5_vocab_sync/internal/webutil"
)

// TokenVerifier はデバイストークンを検証してオーナーIDを返します
type TokenVerifier interface {
	VerifyDeviceToken(tokenString string) (string, error)
}

type ownerCtxKey struct{}

// DeviceAuthMiddleware は Authorization ヘッダーの Bearer デバイストークンを
// 検証するミドルウェア。検証済みのオーナーIDをコンテキストへ載せる。
func DeviceAuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := GetLogger(r.Context())

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("Device auth failed: Authorization header missing")
				webutil.HandleError(w, logger, model.NewAppError("UNAUTHORIZED", "Authorizationヘッダーが必要です。", "", model.ErrUnauthorized))
				return
			}

			headerParts := strings.Split(authHeader, " ")
			if len(headerParts) != 2 || strings.ToLower(headerParts[0]) != "bearer" {
				logger.Warn("Device auth failed: Invalid Authorization header format")
				webutil.HandleError(w, logger, model.NewAppError("UNAUTHORIZED", "Authorizationヘッダーの形式が正しくありません。", "", model.ErrUnauthorized))
				return
			}

			ownerID, err := verifier.VerifyDeviceToken(headerParts[1])
			if err != nil {
				logger.Warn("Device auth failed: Invalid token", "error", err)
				webutil.HandleError(w, logger, model.NewAppError("INVALID_TOKEN", "トークンが無効です。", "", model.ErrUnauthorized))
				return
			}

			ctx := context.WithValue(r.Context(), ownerCtxKey{}, ownerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetOwnerIDFromContext は認証ミドルウェアが格納したオーナーIDを取り出します
func GetOwnerIDFromContext(ctx context.Context) (string, error) {
	value, ok := ctx.Value(ownerCtxKey{}).(string)
	if !ok {
		return "", model.NewAppError("INTERNAL_SERVER_ERROR", "コンテキストからオーナー情報を取得できませんでした。", "", model.ErrInternalServer)
	}
	return value, nil
}
