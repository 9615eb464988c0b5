package syncer

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"go_5_vocab_sync/internal/config"
	"go_5_vocab_sync/internal/gateway/memstore"
	"go_5_vocab_sync/internal/model"
	"go_5_vocab_sync/internal/testutil"
)

func newTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Sync.RetryBaseDelayMS = 10
	cfg.Sync.MaxRetries = 3
	cfg.Sync.ReviewWindowH = 24
	return cfg
}

func newTestEngine(c *testutil.FakeCache, remote *memstore.Store) *engine {
	e := NewEngine(c, remote, newTestConfig(), nil).(*engine)
	e.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return e
}

func seedRemoteProgress(t *testing.T, remote *memstore.Store, ownerID string, flat string) {
	t.Helper()
	err := remote.ProgressDoc(ownerID).Set(context.Background(), map[string]json.RawMessage{
		"reviewProgress": json.RawMessage(flat),
	}, false)
	require.NoError(t, err)
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("正常系: 永続フラグは両側の和集合になる", func(t *testing.T) {
		c := testutil.NewFakeCache()
		c.Data[config.CacheKeyReviewProgress] = `{"incorrect_word_1":true}`
		remote := memstore.New()
		seedRemoteProgress(t, remote, "owner-1", `{"mastered_word_1":true}`)

		e := newTestEngine(c, remote)
		e.SetOwner("owner-1")
		require.NoError(t, e.Reconcile(ctx))

		// 同じアイテムに incorrect と mastered が同時に付いていても良い
		assert.True(t, e.IsIncorrect(model.ItemTypeWord, "1"))
		assert.True(t, e.IsMastered(model.ItemTypeWord, "1"))

		saved, err := model.UnmarshalFlatJSON([]byte(c.Data[config.CacheKeyReviewProgress]))
		require.NoError(t, err)
		key := model.ItemKey{Type: model.ItemTypeWord, ID: "1"}
		assert.True(t, saved.Incorrect[key])
		assert.True(t, saved.Mastered[key])
	})

	t.Run("正常系: タイムスタンプはローカル優先でマージされる", func(t *testing.T) {
		c := testutil.NewFakeCache()
		c.Data[config.CacheKeyReviewProgress] = `{"word_1":1000}`
		remote := memstore.New()
		// リモートのほうが新しくてもローカルが勝つ
		seedRemoteProgress(t, remote, "owner-1", `{"word_1":2000,"word_2":500}`)

		e := newTestEngine(c, remote)
		e.SetOwner("owner-1")
		require.NoError(t, e.Reconcile(ctx))

		snap := e.Snapshot()
		assert.Equal(t, int64(1000), snap.Timestamps[model.ItemKey{Type: model.ItemTypeWord, ID: "1"}])
		assert.Equal(t, int64(500), snap.Timestamps[model.ItemKey{Type: model.ItemTypeWord, ID: "2"}])
	})

	t.Run("正常系: マージ結果はキャッシュとリモートの両方へ書き戻される", func(t *testing.T) {
		c := testutil.NewFakeCache()
		c.Data[config.CacheKeyReviewProgress] = `{"incorrect_word_3":true}`
		remote := memstore.New()
		seedRemoteProgress(t, remote, "owner-1", `{"word_4":100}`)

		e := newTestEngine(c, remote)
		e.SetOwner("owner-1")
		require.NoError(t, e.Reconcile(ctx))

		fields, found, err := remote.ProgressDoc("owner-1").Get(ctx)
		require.NoError(t, err)
		require.True(t, found)
		pushed, err := model.UnmarshalFlatJSON(fields["reviewProgress"])
		require.NoError(t, err)
		assert.True(t, pushed.Incorrect[model.ItemKey{Type: model.ItemTypeWord, ID: "3"}])
		assert.Equal(t, int64(100), pushed.Timestamps[model.ItemKey{Type: model.ItemTypeWord, ID: "4"}])
	})

	t.Run("正常系: リモートドキュメントが無ければローカルのみで完了する", func(t *testing.T) {
		c := testutil.NewFakeCache()
		c.Data[config.CacheKeyReviewProgress] = `{"word_1":1000}`
		remote := memstore.New()

		e := newTestEngine(c, remote)
		e.SetOwner("owner-1")
		require.NoError(t, e.Reconcile(ctx))

		snap := e.Snapshot()
		assert.Equal(t, 1, snap.Len())
		_, ok := e.LastSyncTime()
		assert.True(t, ok)
	})

	t.Run("正常系: オーナー未束縛ならリモートへ触らない", func(t *testing.T) {
		c := testutil.NewFakeCache()
		c.Data[config.CacheKeyReviewProgress] = `{"word_9":42}`
		remote := memstore.New()
		remote.SetFailure(model.ErrRemoteTransient)

		e := newTestEngine(c, remote)
		require.NoError(t, e.Reconcile(ctx))

		assert.Equal(t, int64(42), e.Snapshot().Timestamps[model.ItemKey{Type: model.ItemTypeWord, ID: "9"}])
		_, ok := e.LastSyncTime()
		assert.False(t, ok)
	})

	t.Run("異常系: リトライを使い切ったらローカルを正として成功扱い", func(t *testing.T) {
		c := testutil.NewFakeCache()
		c.Data[config.CacheKeyReviewProgress] = `{"incorrect_word_5":true}`

		doc := new(testutil.MockDocument)
		doc.On("Get", mock.Anything).Return(nil, false, model.ErrRemoteTransient)
		store := new(testutil.MockStore)
		store.On("ProgressDoc", "owner-1").Return(doc)

		e := NewEngine(c, store, newTestConfig(), nil).(*engine)
		var delays []time.Duration
		e.sleep = func(ctx context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		}
		e.SetOwner("owner-1")

		require.NoError(t, e.Reconcile(ctx))

		// 初回＋3回のリトライ。待機は基底遅延の 1倍・2倍・3倍の線形
		doc.AssertNumberOfCalls(t, "Get", 4)
		assert.Equal(t, []time.Duration{
			10 * time.Millisecond,
			20 * time.Millisecond,
			30 * time.Millisecond,
		}, delays)
		assert.True(t, e.IsIncorrect(model.ItemTypeWord, "5"))
	})

	t.Run("異常系: コンテキストキャンセルで即中断する", func(t *testing.T) {
		c := testutil.NewFakeCache()
		doc := new(testutil.MockDocument)
		doc.On("Get", mock.Anything).Return(nil, false, model.ErrRemoteTransient)
		store := new(testutil.MockStore)
		store.On("ProgressDoc", "owner-1").Return(doc)

		e := NewEngine(c, store, newTestConfig(), nil).(*engine)
		e.sleep = func(ctx context.Context, d time.Duration) error {
			return context.Canceled
		}
		e.SetOwner("owner-1")

		err := e.Reconcile(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		doc.AssertNumberOfCalls(t, "Get", 1)
	})
}

func TestLoadLocal(t *testing.T) {
	ctx := context.Background()

	t.Run("正常系: セッション中の誤答フラグは読み込みで消えない", func(t *testing.T) {
		c := testutil.NewFakeCache()
		remote := memstore.New()
		e := newTestEngine(c, remote)

		require.NoError(t, e.MarkIncorrect(ctx, model.ItemTypeWord, "7"))
		// キャッシュ側には古い（フラグ無しの）状態しか無い
		c.Data[config.CacheKeyReviewProgress] = `{"word_7":100}`

		e.LoadLocal(ctx)
		assert.True(t, e.IsIncorrect(model.ItemTypeWord, "7"))
		assert.Equal(t, int64(100), e.Snapshot().Timestamps[model.ItemKey{Type: model.ItemTypeWord, ID: "7"}])
	})

	t.Run("異常系: 壊れたキャッシュは無視してメモリ上の状態を保つ", func(t *testing.T) {
		c := testutil.NewFakeCache()
		remote := memstore.New()
		e := newTestEngine(c, remote)
		require.NoError(t, e.MarkReviewed(ctx, model.ItemTypeWord, "1", false))

		c.Data[config.CacheKeyReviewProgress] = `not json`
		e.LoadLocal(ctx)

		_, ok := e.Snapshot().Timestamps[model.ItemKey{Type: model.ItemTypeWord, ID: "1"}]
		assert.True(t, ok)
	})

	t.Run("異常系: キャッシュ不調でも落ちない", func(t *testing.T) {
		c := testutil.NewFakeCache()
		c.GetErr = model.ErrStorageUnavailable
		remote := memstore.New()
		e := newTestEngine(c, remote)

		e.LoadLocal(ctx)
		assert.Equal(t, 0, e.Snapshot().Len())
	})
}

func TestMarks(t *testing.T) {
	ctx := context.Background()

	t.Run("正常系: 学会了にすると没記住フラグが消える", func(t *testing.T) {
		c := testutil.NewFakeCache()
		e := newTestEngine(c, memstore.New())

		require.NoError(t, e.MarkIncorrect(ctx, model.ItemTypeSentence, "s1"))
		require.NoError(t, e.MarkMastered(ctx, model.ItemTypeSentence, "s1"))

		assert.False(t, e.IsIncorrect(model.ItemTypeSentence, "s1"))
		assert.True(t, e.IsMastered(model.ItemTypeSentence, "s1"))
	})

	t.Run("正常系: 没記住にしても学会了フラグは消えない", func(t *testing.T) {
		c := testutil.NewFakeCache()
		e := newTestEngine(c, memstore.New())

		require.NoError(t, e.MarkMastered(ctx, model.ItemTypeWord, "w1"))
		require.NoError(t, e.MarkIncorrect(ctx, model.ItemTypeWord, "w1"))

		assert.True(t, e.IsIncorrect(model.ItemTypeWord, "w1"))
		assert.True(t, e.IsMastered(model.ItemTypeWord, "w1"))
	})

	t.Run("正常系: 復習記録で没記住を消すかは呼び出し側が選ぶ", func(t *testing.T) {
		c := testutil.NewFakeCache()
		e := newTestEngine(c, memstore.New())

		require.NoError(t, e.MarkIncorrect(ctx, model.ItemTypeWord, "w2"))
		require.NoError(t, e.MarkReviewed(ctx, model.ItemTypeWord, "w2", false))
		assert.True(t, e.IsIncorrect(model.ItemTypeWord, "w2"))

		require.NoError(t, e.MarkReviewed(ctx, model.ItemTypeWord, "w2", true))
		assert.False(t, e.IsIncorrect(model.ItemTypeWord, "w2"))
	})

	t.Run("正常系: 一括クリアは該当フラグだけを消す", func(t *testing.T) {
		c := testutil.NewFakeCache()
		e := newTestEngine(c, memstore.New())

		require.NoError(t, e.MarkIncorrect(ctx, model.ItemTypeWord, "a"))
		require.NoError(t, e.MarkMastered(ctx, model.ItemTypeWord, "b"))

		require.NoError(t, e.ClearAllIncorrect(ctx))
		assert.False(t, e.IsIncorrect(model.ItemTypeWord, "a"))
		assert.True(t, e.IsMastered(model.ItemTypeWord, "b"))

		require.NoError(t, e.ClearAllMastered(ctx))
		assert.False(t, e.IsMastered(model.ItemTypeWord, "b"))
	})

	t.Run("異常系: キャッシュ書き込み失敗でも操作自体は成功する", func(t *testing.T) {
		c := testutil.NewFakeCache()
		c.SetErr = model.ErrStorageUnavailable
		e := newTestEngine(c, memstore.New())

		require.NoError(t, e.MarkIncorrect(ctx, model.ItemTypeWord, "x"))
		assert.True(t, e.IsIncorrect(model.ItemTypeWord, "x"))
	})
}

func TestIsDueForReview(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

	newEngineAt := func(now time.Time) *engine {
		e := newTestEngine(testutil.NewFakeCache(), memstore.New())
		e.now = func() time.Time { return now }
		return e
	}

	t.Run("正常系: 未復習のアイテムは対象", func(t *testing.T) {
		e := newEngineAt(base)
		assert.True(t, e.IsDueForReview(model.ItemTypeWord, "1"))
	})

	t.Run("正常系: 24時間未満なら対象外", func(t *testing.T) {
		e := newEngineAt(base)
		require.NoError(t, e.MarkReviewed(ctx, model.ItemTypeWord, "1", false))
		e.now = func() time.Time { return base.Add(23 * time.Hour) }
		assert.False(t, e.IsDueForReview(model.ItemTypeWord, "1"))
	})

	t.Run("正常系: 24時間経過で再び対象", func(t *testing.T) {
		e := newEngineAt(base)
		require.NoError(t, e.MarkReviewed(ctx, model.ItemTypeWord, "1", false))
		e.now = func() time.Time { return base.Add(25 * time.Hour) }
		assert.True(t, e.IsDueForReview(model.ItemTypeWord, "1"))
	})

	t.Run("正常系: 永続フラグ付きは経過時間に関係なく対象外", func(t *testing.T) {
		e := newEngineAt(base)
		require.NoError(t, e.MarkIncorrect(ctx, model.ItemTypeWord, "1"))
		require.NoError(t, e.MarkMastered(ctx, model.ItemTypeWord, "2"))
		assert.False(t, e.IsDueForReview(model.ItemTypeWord, "1"))
		assert.False(t, e.IsDueForReview(model.ItemTypeWord, "2"))
	})
}

func TestImportFlat(t *testing.T) {
	ctx := context.Background()

	t.Run("正常系: インポート値が既存値を上書きし未知キーも保持する", func(t *testing.T) {
		c := testutil.NewFakeCache()
		e := newTestEngine(c, memstore.New())
		require.NoError(t, e.MarkReviewed(ctx, model.ItemTypeWord, "1", false))

		flat := map[string]json.RawMessage{
			"word_1":          json.RawMessage(`123`),
			"mastered_word_2": json.RawMessage(`true`),
			"someFutureField": json.RawMessage(`{"nested":true}`),
		}
		require.NoError(t, e.ImportFlat(ctx, flat))

		snap := e.Snapshot()
		assert.Equal(t, int64(123), snap.Timestamps[model.ItemKey{Type: model.ItemTypeWord, ID: "1"}])
		assert.True(t, snap.Mastered[model.ItemKey{Type: model.ItemTypeWord, ID: "2"}])
		assert.Contains(t, snap.Extra, "someFutureField")
	})
}
