// internal/syncer/engine.go
//
// 復習進捗のリコンシリエーションエンジン。
// ローカルキャッシュとオーナー毎のリモートドキュメントの間で ProgressState を
// 同期し、永続フラグ（incorrect / mastered）を決して黙って失わないことを保証する。
//
// 既知の制限: 進捗は言語横断でグローバルに1つ（アイテムIDはコレクション毎の
// 採番なので理論上は言語間で衝突し得る）。旧実装の挙動をそのまま踏襲している。
package syncer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go_5_vocab_sync/internal/cache"
	"go_5_vocab_sync/internal/config"
	"go_5_vocab_sync/internal/gateway"
	"go_5_vocab_sync/internal/model"
)

// リモートドキュメント上で進捗マップを保持するフィールド名
const progressField = "reviewProgress"

// Engine は復習進捗の同期と判定を担います
type Engine interface {
	// SetOwner はオーナーIDを束縛します。空文字でオフライン扱い。
	SetOwner(ownerID string)
	// LoadLocal はローカルキャッシュから進捗を読み込みます。失敗しても落ちない。
	LoadLocal(ctx context.Context)
	// Reconcile はローカルとリモートの進捗をマージして両方へ書き戻します。
	Reconcile(ctx context.Context) error

	MarkReviewed(ctx context.Context, t model.ItemType, id string, clearIncorrect bool) error
	MarkIncorrect(ctx context.Context, t model.ItemType, id string) error
	MarkMastered(ctx context.Context, t model.ItemType, id string) error
	ClearAllIncorrect(ctx context.Context) error
	ClearAllMastered(ctx context.Context) error

	IsDueForReview(t model.ItemType, id string) bool
	IsIncorrect(t model.ItemType, id string) bool
	IsMastered(t model.ItemType, id string) bool

	// Snapshot は進捗状態の深いコピーを返します（表示・エクスポート用）
	Snapshot() *model.ProgressState
	// ImportFlat はエクスポート形式のフラットマップを取り込みます（インポート側優先）
	ImportFlat(ctx context.Context, flat map[string]json.RawMessage) error
	LastSyncTime() (time.Time, bool)
}

type engine struct {
	mu     sync.Mutex
	cache  cache.Cache
	remote gateway.Store
	cfg    *config.Config
	logger *slog.Logger

	ownerID  string
	state    *model.ProgressState
	lastSync time.Time

	// テストから差し替える時刻・待機フック
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewEngine(c cache.Cache, remote gateway.Store, cfg *config.Config, logger *slog.Logger) Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &engine{
		cache:  c,
		remote: remote,
		cfg:    cfg,
		logger: logger,
		state:  model.NewProgressState(),
		now:    time.Now,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (e *engine) SetOwner(ownerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ownerID = ownerID
}

// LoadLocal はキャッシュの保存値を読み込んで状態を置き換えます。
// ただしメモリ上に既にある incorrect フラグ（同一セッション内で付けたもの）は
// 読み込んだ値より優先して残す。キャッシュ不調時は現在の状態を維持する。
func (e *engine) LoadLocal(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.loadLocalLocked(ctx)
}

func (e *engine) loadLocalLocked(ctx context.Context) {
	raw, found, err := e.cache.Get(ctx, config.CacheKeyReviewProgress)
	if err != nil {
		e.logger.Warn("Local cache unavailable, keeping in-memory review progress", slog.Any("error", err))
		return
	}
	if !found {
		e.logger.Debug("No review progress in local cache")
		return
	}
	loaded, err := model.UnmarshalFlatJSON([]byte(raw))
	if err != nil {
		e.logger.Warn("Corrupt review progress in local cache, keeping in-memory state", slog.Any("error", err))
		return
	}
	// セッション内で付けた永続フラグを失わない
	for k := range e.state.Incorrect {
		loaded.Incorrect[k] = true
	}
	e.state = loaded
	e.logger.Info("Loaded review progress from local cache", slog.Int("entries", loaded.Len()))
}

// pullRemote はオーナーの進捗ドキュメントを取得します。
// ドキュメントが無ければ空の状態を返す。フラットマップ自体は不透明に扱い、
// パースできたキーだけ構造化する。
func (e *engine) pullRemote(ctx context.Context, ownerID string) (*model.ProgressState, error) {
	fields, found, err := e.remote.ProgressDoc(ownerID).Get(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		return model.NewProgressState(), nil
	}
	raw, ok := fields[progressField]
	if !ok {
		return model.NewProgressState(), nil
	}
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(raw, &flat); err != nil {
		e.logger.Warn("Remote review progress field is not an object, treating as empty", slog.Any("error", err))
		return model.NewProgressState(), nil
	}
	return model.ProgressStateFromFlat(flat), nil
}

// mergeStates はリコンシリエーションの中核。
//  1. リモートを土台にローカルを上書き（タイムスタンプ等はローカル優先）
//  2. 永続フラグは両側の和集合（どちらかにあれば必ず残す）
//
// タイムスタンプの last-write-wins は数時間の鮮度を失うだけだが、
// 永続フラグはユーザーの明示的な判断なので同期順序で消してはならない。
func mergeStates(local, remote *model.ProgressState) *model.ProgressState {
	final := remote.Clone()
	for k, v := range local.Timestamps {
		final.Timestamps[k] = v
	}
	for k, v := range local.Extra {
		final.Extra[k] = v
	}
	for k := range local.Incorrect {
		final.Incorrect[k] = true
	}
	for k := range local.Mastered {
		final.Mastered[k] = true
	}
	return final
}

// Reconcile は §同期サイクル本体。
// リモート取得は線形バックオフで最大リトライ回数まで再試行し、
// 使い切ったらローカルキャッシュを正としてあきらめる（エラーにしない）。
func (e *engine) Reconcile(ctx context.Context) error {
	e.mu.Lock()
	ownerID := e.ownerID
	e.mu.Unlock()

	if ownerID == "" {
		// オフライン時はローカルからの読み込みだけ行う
		e.logger.Info("Not bound to an owner, loading review progress locally only")
		e.LoadLocal(ctx)
		return nil
	}

	e.LoadLocal(ctx)

	var remoteState *model.ProgressState
	maxRetries := e.cfg.Sync.MaxRetries
	baseDelay := e.cfg.RetryBaseDelay()
	for attempt := 0; ; attempt++ {
		var err error
		remoteState, err = e.pullRemote(ctx, ownerID)
		if err == nil {
			break
		}
		if attempt >= maxRetries {
			e.logger.Error("Sync retries exhausted, falling back to local cache",
				slog.Int("attempts", attempt+1), slog.Any("error", err))
			return nil
		}
		delay := baseDelay * time.Duration(attempt+1)
		e.logger.Warn("Remote pull failed, scheduling retry",
			slog.Int("attempt", attempt+1), slog.Duration("delay", delay), slog.Any("error", err))
		if serr := e.sleep(ctx, delay); serr != nil {
			return serr
		}
	}

	e.mu.Lock()
	e.state = mergeStates(e.state, remoteState)
	e.lastSync = e.now()
	e.persistLocked(ctx)
	e.mu.Unlock()

	e.logger.Info("Review progress reconciled",
		slog.Int("entries", e.Snapshot().Len()))
	return nil
}

// persistLocked はマージ済みの状態全体を両シンクへ書き出します。
// 部分書き込みはしない（常にオブジェクト全体）。失敗は警告にとどめ、
// メモリ上の状態を正として続行する。
func (e *engine) persistLocked(ctx context.Context) {
	data, err := e.state.MarshalFlatJSON()
	if err != nil {
		e.logger.Error("Failed to encode review progress", slog.Any("error", err))
		return
	}
	if err := e.cache.Set(ctx, config.CacheKeyReviewProgress, string(data)); err != nil {
		e.logger.Warn("Failed to persist review progress to local cache", slog.Any("error", err))
	}
	if e.ownerID == "" {
		return
	}
	fields := map[string]json.RawMessage{
		progressField: json.RawMessage(data),
	}
	if ts, err := json.Marshal(e.now().UTC().Format(time.RFC3339)); err == nil {
		fields["updatedAt"] = ts
	}
	if err := e.remote.ProgressDoc(e.ownerID).Set(ctx, fields, true); err != nil {
		// 書き込み系はここでは再試行しない。次回の同期サイクルで追いつく。
		e.logger.Warn("Failed to push review progress to remote", slog.Any("error", err))
	}
}

func (e *engine) MarkReviewed(ctx context.Context, t model.ItemType, id string, clearIncorrect bool) error {
	key := model.ItemKey{Type: t, ID: id}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Timestamps[key] = e.now().UnixMilli()
	// 復習した＝覚えたではない。明示された場合のみ集中復習区から外す。
	if clearIncorrect {
		delete(e.state.Incorrect, key)
	}
	e.persistLocked(ctx)
	return nil
}

func (e *engine) MarkIncorrect(ctx context.Context, t model.ItemType, id string) error {
	key := model.ItemKey{Type: t, ID: id}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Incorrect[key] = true
	e.persistLocked(ctx)
	return nil
}

func (e *engine) MarkMastered(ctx context.Context, t model.ItemType, id string) error {
	key := model.ItemKey{Type: t, ID: id}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Mastered[key] = true
	// 「学会了」は「没記住」を打ち消す（逆方向は打ち消さない）
	delete(e.state.Incorrect, key)
	e.persistLocked(ctx)
	return nil
}

func (e *engine) ClearAllIncorrect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Incorrect = make(map[model.ItemKey]bool)
	e.persistLocked(ctx)
	return nil
}

func (e *engine) ClearAllMastered(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.Mastered = make(map[model.ItemKey]bool)
	e.persistLocked(ctx)
	return nil
}

// IsDueForReview は通常復習の対象かを判定します。
// 永続フラグ付きのアイテムは専用キューでのみ扱うため、ここでは常に false。
func (e *engine) IsDueForReview(t model.ItemType, id string) bool {
	key := model.ItemKey{Type: t, ID: id}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Incorrect[key] || e.state.Mastered[key] {
		return false
	}
	last, ok := e.state.Timestamps[key]
	if !ok {
		return true
	}
	elapsed := e.now().UnixMilli() - last
	return elapsed >= e.cfg.ReviewWindow().Milliseconds()
}

func (e *engine) IsIncorrect(t model.ItemType, id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Incorrect[model.ItemKey{Type: t, ID: id}]
}

func (e *engine) IsMastered(t model.ItemType, id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Mastered[model.ItemKey{Type: t, ID: id}]
}

func (e *engine) Snapshot() *model.ProgressState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// ImportFlat はエクスポートJSONの進捗マップを取り込みます。
// 旧実装と同じく、インポートされた値が既存の値を上書きする。
func (e *engine) ImportFlat(ctx context.Context, flat map[string]json.RawMessage) error {
	imported := model.ProgressStateFromFlat(flat)
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, v := range imported.Timestamps {
		e.state.Timestamps[k] = v
	}
	for k, v := range imported.Extra {
		e.state.Extra[k] = v
	}
	for k := range imported.Incorrect {
		e.state.Incorrect[k] = true
	}
	for k := range imported.Mastered {
		e.state.Mastered[k] = true
	}
	e.persistLocked(ctx)
	return nil
}

func (e *engine) LastSyncTime() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync, !e.lastSync.IsZero()
}
