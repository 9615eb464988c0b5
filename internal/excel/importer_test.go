package excel

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"go_5_vocab_sync/internal/config"
	"go_5_vocab_sync/internal/gateway/memstore"
	"go_5_vocab_sync/internal/model"
	"go_5_vocab_sync/internal/store"
	"go_5_vocab_sync/internal/syncer"
	"go_5_vocab_sync/internal/testutil"
)

func newTestStore(t *testing.T) store.Manager {
	t.Helper()
	cfg := &config.Config{}
	cfg.Sync.RetryBaseDelayMS = 1
	cfg.Sync.MaxRetries = 3
	cfg.Sync.ReviewWindowH = 24

	c := testutil.NewFakeCache()
	remote := memstore.New()
	st := store.NewManager(c, remote, syncer.NewEngine(c, remote, cfg, nil), nil)
	require.NoError(t, st.BindOwner(context.Background(), "owner-1"))
	return st
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "words.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestImportFile(t *testing.T) {
	ctx := context.Background()

	t.Run("正常系: CSVの取り込みとヘッダー行スキップ", func(t *testing.T) {
		st := newTestStore(t)
		imp := NewImporter(st, nil)

		path := writeCSV(t, "japanese,chinese,context,category\n犬,狗,犬が好き,動物/哺乳類\n猫,猫,,\n")
		result, err := imp.ImportFile(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Created)
		assert.Equal(t, 0, result.Skipped)
		assert.Empty(t, result.Errors)

		require.Eventually(t, func() bool {
			return len(st.Items(model.ItemTypeWord)) == 2
		}, 2*time.Second, 5*time.Millisecond)

		var dog *model.Item
		for _, it := range st.Items(model.ItemTypeWord) {
			if it.Japanese == "犬" {
				dog = it
			}
		}
		require.NotNil(t, dog)
		assert.Equal(t, []string{"動物", "哺乳類"}, dog.CategoryPath)
	})

	t.Run("正常系: 既存と重複する行はスキップされる", func(t *testing.T) {
		st := newTestStore(t)
		_, err := st.AddWord(ctx, &model.AddWordRequest{Japanese: "犬", Chinese: "狗"})
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			return len(st.Items(model.ItemTypeWord)) == 1
		}, 2*time.Second, 5*time.Millisecond)

		imp := NewImporter(st, nil)
		result, err := imp.ImportFile(ctx, writeCSV(t, "犬,狗\n鳥,鸟\n"))
		require.NoError(t, err)
		assert.Equal(t, 1, result.Created)
		assert.Equal(t, 1, result.Skipped)
	})

	t.Run("異常系: 必須列が欠けた行はエラーとして報告される", func(t *testing.T) {
		st := newTestStore(t)
		imp := NewImporter(st, nil)

		result, err := imp.ImportFile(ctx, writeCSV(t, "犬,狗\n欠落行,\n"))
		require.NoError(t, err)
		assert.Equal(t, 1, result.Created)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "row 2")
	})

	t.Run("異常系: 対応していない拡張子は拒否", func(t *testing.T) {
		imp := NewImporter(newTestStore(t), nil)
		_, err := imp.ImportFile(ctx, "words.txt")
		assert.ErrorIs(t, err, model.ErrInvalidInput)
	})

	t.Run("正常系: Excelファイルの取り込み", func(t *testing.T) {
		st := newTestStore(t)
		imp := NewImporter(st, nil)

		f := excelize.NewFile()
		sheet := f.GetSheetName(0)
		require.NoError(t, f.SetCellValue(sheet, "A1", "japanese"))
		require.NoError(t, f.SetCellValue(sheet, "B1", "chinese"))
		require.NoError(t, f.SetCellValue(sheet, "A2", "山"))
		require.NoError(t, f.SetCellValue(sheet, "B2", "山"))
		path := filepath.Join(t.TempDir(), "words.xlsx")
		require.NoError(t, f.SaveAs(path))

		result, err := imp.ImportFile(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Created)
	})
}
