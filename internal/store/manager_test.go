package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go_5_vocab_sync/internal/config"
	"go_5_vocab_sync/internal/gateway/memstore"
	"go_5_vocab_sync/internal/model"
	"go_5_vocab_sync/internal/syncer"
	"go_5_vocab_sync/internal/testutil"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func newTestManager(t *testing.T) (Manager, *memstore.Store, *testutil.FakeCache) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Sync.RetryBaseDelayMS = 1
	cfg.Sync.MaxRetries = 3
	cfg.Sync.ReviewWindowH = 24

	c := testutil.NewFakeCache()
	remote := memstore.New()
	engine := syncer.NewEngine(c, remote, cfg, nil)
	return NewManager(c, remote, engine, nil), remote, c
}

func bind(t *testing.T, m Manager, ownerID string) {
	t.Helper()
	require.NoError(t, m.BindOwner(context.Background(), ownerID))
}

func addWord(t *testing.T, m Manager, ja, zh string) *model.Item {
	t.Helper()
	it, err := m.AddWord(context.Background(), &model.AddWordRequest{Japanese: ja, Chinese: zh})
	require.NoError(t, err)
	return it
}

func waitForItems(t *testing.T, m Manager, typ model.ItemType, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(m.Items(typ)) == n
	}, waitFor, tick, "expected %d items of type %s", n, typ)
}

func TestAddItems(t *testing.T) {
	ctx := context.Background()

	t.Run("正常系: 追加は購読経由でビューに反映される", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		bind(t, m, "owner-1")

		it := addWord(t, m, "犬", "狗")
		require.NotEmpty(t, it.ID)

		waitForItems(t, m, model.ItemTypeWord, 1)
		got := m.Items(model.ItemTypeWord)[0]
		assert.Equal(t, "犬", got.Japanese)
		assert.NotEmpty(t, got.CreatedAt)
	})

	t.Run("異常系: オフラインでは追加できない", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		_, err := m.AddWord(ctx, &model.AddWordRequest{Japanese: "犬", Chinese: "狗"})
		assert.ErrorIs(t, err, model.ErrOffline)
	})

	t.Run("異常系: 内容ペアが同じ単語は重複として拒否される", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		bind(t, m, "owner-1")

		addWord(t, m, "猫", "猫")
		waitForItems(t, m, model.ItemTypeWord, 1)

		_, err := m.AddWord(ctx, &model.AddWordRequest{Japanese: "猫", Chinese: "猫", Context: "別の文脈"})
		assert.ErrorIs(t, err, model.ErrDuplicate)
		// 拒否された追加でコレクションが変化していないこと
		assert.Len(t, m.Items(model.ItemTypeWord), 1)
	})

	t.Run("正常系: QA は質問と回答のペアで重複判定する", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		bind(t, m, "owner-1")

		_, err := m.AddQA(ctx, &model.AddQARequest{Question: "これは何ですか", Answer: "本です"})
		require.NoError(t, err)
		waitForItems(t, m, model.ItemTypeQA, 1)

		_, err = m.AddQA(ctx, &model.AddQARequest{Question: "これは何ですか", Answer: "本です"})
		assert.ErrorIs(t, err, model.ErrDuplicate)

		// 質問が同じでも回答が違えば別アイテム
		_, err = m.AddQA(ctx, &model.AddQARequest{Question: "これは何ですか", Answer: "辞書です"})
		require.NoError(t, err)
		waitForItems(t, m, model.ItemTypeQA, 2)
	})
}

func TestUpdateDeleteItems(t *testing.T) {
	ctx := context.Background()

	t.Run("正常系: 部分更新が購読経由で反映される", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		bind(t, m, "owner-1")
		it := addWord(t, m, "山", "山")
		waitForItems(t, m, model.ItemTypeWord, 1)

		newContext := "富士山に登った"
		err := m.UpdateItem(ctx, model.ItemTypeWord, it.ID, &model.PatchItemRequest{Context: &newContext})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			got, found := m.FindItem(model.ItemTypeWord, it.ID)
			return found && got.Context == newContext
		}, waitFor, tick)
	})

	t.Run("異常系: 更新で他アイテムと内容が衝突したら拒否", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		bind(t, m, "owner-1")
		addWord(t, m, "川", "河")
		it := addWord(t, m, "海", "海")
		waitForItems(t, m, model.ItemTypeWord, 2)

		ja, zh := "川", "河"
		err := m.UpdateItem(ctx, model.ItemTypeWord, it.ID, &model.PatchItemRequest{Japanese: &ja, Chinese: &zh})
		assert.ErrorIs(t, err, model.ErrDuplicate)
	})

	t.Run("異常系: 存在しないアイテムの更新・削除は NotFound", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		bind(t, m, "owner-1")

		ja := "x"
		assert.ErrorIs(t, m.UpdateItem(ctx, model.ItemTypeWord, "missing", &model.PatchItemRequest{Japanese: &ja}), model.ErrNotFound)
		assert.ErrorIs(t, m.DeleteItem(ctx, model.ItemTypeWord, "missing"), model.ErrNotFound)
	})

	t.Run("正常系: 削除が購読経由で反映される", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		bind(t, m, "owner-1")
		it := addWord(t, m, "空", "天空")
		waitForItems(t, m, model.ItemTypeWord, 1)

		require.NoError(t, m.DeleteItem(ctx, model.ItemTypeWord, it.ID))
		waitForItems(t, m, model.ItemTypeWord, 0)
	})
}

func TestSwitchLanguage(t *testing.T) {
	ctx := context.Background()

	t.Run("正常系: 切り替え後に旧言語のアイテムが混入しない", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		bind(t, m, "owner-1")

		addWord(t, m, "犬", "狗")
		addWord(t, m, "猫", "猫")
		waitForItems(t, m, model.ItemTypeWord, 2)

		require.NoError(t, m.SwitchLanguage(ctx, "en"))
		waitForItems(t, m, model.ItemTypeWord, 0)

		addWord(t, m, "dog", "狗")
		waitForItems(t, m, model.ItemTypeWord, 1)
		assert.Equal(t, "dog", m.Items(model.ItemTypeWord)[0].Japanese)

		// 元の言語へ戻ると元の2件だけが見える
		require.NoError(t, m.SwitchLanguage(ctx, "ja"))
		waitForItems(t, m, model.ItemTypeWord, 2)
	})

	t.Run("異常系: 未知の言語コードはエラー", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		bind(t, m, "owner-1")
		assert.ErrorIs(t, m.SwitchLanguage(ctx, "xx"), model.ErrLanguageNotFound)
	})

	t.Run("正常系: 選択言語は再束縛後も引き継がれる", func(t *testing.T) {
		m, remote, c := newTestManager(t)
		bind(t, m, "owner-1")
		require.NoError(t, m.SwitchLanguage(ctx, "ko"))
		m.Unbind(ctx)

		cfg := &config.Config{}
		cfg.Sync.RetryBaseDelayMS = 1
		cfg.Sync.MaxRetries = 3
		cfg.Sync.ReviewWindowH = 24
		m2 := NewManager(c, remote, syncer.NewEngine(c, remote, cfg, nil), nil)
		bind(t, m2, "owner-1")

		lang, ok := m2.CurrentLanguage()
		require.True(t, ok)
		assert.Equal(t, "ko", lang.Code)
	})
}

func TestLanguageList(t *testing.T) {
	ctx := context.Background()

	t.Run("正常系: 言語の追加と削除", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		bind(t, m, "owner-1")

		require.NoError(t, m.AddLanguage(ctx, model.Language{Code: "fr", Name: "法语", Flag: "🇫🇷"}))
		assert.Len(t, m.Languages(), 5)

		assert.ErrorIs(t, m.AddLanguage(ctx, model.Language{Code: "fr", Name: "法语"}), model.ErrDuplicate)

		require.NoError(t, m.RemoveLanguage(ctx, "fr"))
		assert.Len(t, m.Languages(), 4)
	})

	t.Run("正常系: 現在言語を消すと残りの先頭へ切り替わる", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		bind(t, m, "owner-1")
		require.NoError(t, m.SwitchLanguage(ctx, "en"))

		require.NoError(t, m.RemoveLanguage(ctx, "en"))
		lang, ok := m.CurrentLanguage()
		require.True(t, ok)
		assert.Equal(t, "ja", lang.Code)
	})

	t.Run("異常系: 最後の1言語は削除できない", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		bind(t, m, "owner-1")
		for _, code := range []string{"en", "hi", "ko"} {
			require.NoError(t, m.RemoveLanguage(ctx, code))
		}
		assert.ErrorIs(t, m.RemoveLanguage(ctx, "ja"), model.ErrInvalidInput)
	})
}

func TestReviewViews(t *testing.T) {
	ctx := context.Background()

	t.Run("正常系: フラグ付きアイテムは復習対象から外れる", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		bind(t, m, "owner-1")

		a := addWord(t, m, "一", "一")
		b := addWord(t, m, "二", "二")
		c := addWord(t, m, "三", "三")
		waitForItems(t, m, model.ItemTypeWord, 3)

		require.NoError(t, m.Engine().MarkIncorrect(ctx, model.ItemTypeWord, a.ID))
		require.NoError(t, m.Engine().MarkMastered(ctx, model.ItemTypeWord, b.ID))

		due := m.DueForReview(model.ItemTypeWord)
		require.Len(t, due, 1)
		assert.Equal(t, c.ID, due[0].ID)

		incorrect := m.IncorrectItems(model.ItemTypeWord)
		require.Len(t, incorrect, 1)
		assert.Equal(t, a.ID, incorrect[0].ID)

		mastered := m.MasteredItems(model.ItemTypeWord)
		require.Len(t, mastered, 1)
		assert.Equal(t, b.ID, mastered[0].ID)

		assert.Equal(t, 3, m.Totals()[model.ItemTypeWord])
	})
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()

	t.Run("正常系: エクスポートしたデータのインポートは冪等", func(t *testing.T) {
		src, _, _ := newTestManager(t)
		bind(t, src, "owner-src")
		addWord(t, src, "犬", "狗")
		addWord(t, src, "猫", "猫")
		_, err := src.AddSentence(ctx, &model.AddSentenceRequest{Japanese: "犬が好きです", Chinese: "我喜欢狗"})
		require.NoError(t, err)
		waitForItems(t, src, model.ItemTypeWord, 2)
		waitForItems(t, src, model.ItemTypeSentence, 1)
		require.NoError(t, src.Engine().MarkIncorrect(ctx, model.ItemTypeWord, "some-id"))

		doc, err := src.Export(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.ExportSchemaVersion, doc.SchemaVersion)
		assert.Len(t, doc.Data["ja"].Words, 2)
		assert.NotEmpty(t, doc.ReviewProgress)

		dst, _, _ := newTestManager(t)
		bind(t, dst, "owner-dst")

		res, err := dst.Import(ctx, doc)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Created)
		assert.Equal(t, 0, res.Skipped)
		waitForItems(t, dst, model.ItemTypeWord, 2)

		// 同じドキュメントをもう一度読んでも増えない
		res, err = dst.Import(ctx, doc)
		require.NoError(t, err)
		assert.Equal(t, 0, res.Created)
		assert.Equal(t, 3, res.Skipped)
		waitForItems(t, dst, model.ItemTypeWord, 2)

		// 進捗も引き継がれる
		assert.True(t, dst.Engine().IsIncorrect(model.ItemTypeWord, "some-id"))
	})

	t.Run("異常系: 空のドキュメントは拒否", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		bind(t, m, "owner-1")
		_, err := m.Import(ctx, &model.ExportDocument{})
		assert.ErrorIs(t, err, model.ErrInvalidInput)
	})

	t.Run("異常系: オフラインではエクスポートもインポートもできない", func(t *testing.T) {
		m, _, _ := newTestManager(t)
		_, err := m.Export(ctx)
		assert.ErrorIs(t, err, model.ErrOffline)
		_, err = m.Import(ctx, &model.ExportDocument{Data: map[string]*model.LanguageExport{"ja": {}}})
		assert.ErrorIs(t, err, model.ErrOffline)
	})
}
