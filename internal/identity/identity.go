// internal/identity/identity.go
//
// オーナーID（デバイス利用者の不透明な識別子）の解決と変更通知。
// 認証プロバイダ本体はスコープ外なので、同期コアはこのインターフェース
// だけに依存する。
package identity

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go_5_vocab_sync/internal/config"
	"go_5_vocab_sync/internal/model"

	"go_5_vocab_sync/internal/cache"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Provider は現在のオーナーIDと、その変化の通知を提供します
type Provider interface {
	CurrentOwnerID() (string, bool)
	OnChange(cb func(ownerID string, signedIn bool))
}

// DeviceProvider はデバイス固有のオーナーIDをローカルキャッシュに永続化する
// Provider 実装。初回起動時に UUID を生成し、以降はそれを使い続ける
// （旧実装の dataOwnerId.js / 匿名サインイン相当）。
type DeviceProvider struct {
	mu        sync.Mutex
	cache     cache.Cache
	logger    *slog.Logger
	secret    []byte
	ownerID   string
	listeners []func(ownerID string, signedIn bool)
}

func NewDeviceProvider(c cache.Cache, tokenSecret string, logger *slog.Logger) *DeviceProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeviceProvider{
		cache:  c,
		logger: logger,
		secret: []byte(tokenSecret),
	}
}

// Bind はオーナーIDを解決して通知します。
// キャッシュが読めない場合も新規IDで続行する（致命扱いにしない）。
func (p *DeviceProvider) Bind(ctx context.Context) (string, error) {
	p.mu.Lock()
	if p.ownerID != "" {
		id := p.ownerID
		p.mu.Unlock()
		return id, nil
	}

	id, found, err := p.cache.Get(ctx, config.CacheKeyOwnerID)
	if err != nil {
		p.logger.Warn("Failed to read owner id from cache, generating a fresh one", slog.Any("error", err))
		found = false
	}
	if !found || id == "" {
		id = uuid.NewString()
		if err := p.cache.Set(ctx, config.CacheKeyOwnerID, id); err != nil {
			p.logger.Warn("Failed to persist owner id, continuing in-memory only", slog.Any("error", err))
		}
		p.logger.Info("Generated new device owner id", slog.String("owner_id", id))
	}
	p.ownerID = id
	listeners := append([]func(string, bool){}, p.listeners...)
	p.mu.Unlock()

	for _, cb := range listeners {
		cb(id, true)
	}
	return id, nil
}

// SignOut はオーナーIDとの紐付けを解除して通知します（永続IDは消さない）
func (p *DeviceProvider) SignOut() {
	p.mu.Lock()
	p.ownerID = ""
	listeners := append([]func(string, bool){}, p.listeners...)
	p.mu.Unlock()

	for _, cb := range listeners {
		cb("", false)
	}
}

func (p *DeviceProvider) CurrentOwnerID() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ownerID, p.ownerID != ""
}

// OnChange はリスナーを登録します。
// 既にバインド済みであれば即座にコールバックする（旧実装互換）。
func (p *DeviceProvider) OnChange(cb func(ownerID string, signedIn bool)) {
	p.mu.Lock()
	p.listeners = append(p.listeners, cb)
	id := p.ownerID
	p.mu.Unlock()

	if id != "" {
		cb(id, true)
	}
}

// --- デバイストークン（ローカルHTTPサーフェス用） ---

// IssueDeviceToken は現在のオーナーIDを subject に持つ署名付きトークンを発行します
func (p *DeviceProvider) IssueDeviceToken(ttl time.Duration) (string, error) {
	id, ok := p.CurrentOwnerID()
	if !ok {
		return "", model.NewAppError("UNAUTHORIZED", "オーナーIDが未解決です。", "", model.ErrOffline)
	}
	claims := jwt.RegisteredClaims{
		Subject:   id,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}

// VerifyDeviceToken はトークンを検証してオーナーIDを返します
func (p *DeviceProvider) VerifyDeviceToken(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, model.ErrInvalidInput
		}
		return p.secret, nil
	})
	if err != nil || !token.Valid {
		return "", model.NewAppError("UNAUTHORIZED", "デバイストークンが不正です。", "", model.ErrInvalidInput)
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", model.NewAppError("UNAUTHORIZED", "デバイストークンが不正です。", "", model.ErrInvalidInput)
	}
	return claims.Subject, nil
}
