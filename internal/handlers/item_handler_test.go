// internal/handlers/item_handler_test.go
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go_5_vocab_sync/internal/config"
	"go_5_vocab_sync/internal/gateway/memstore"
	"go_5_vocab_sync/internal/handlers"
	"go_5_vocab_sync/internal/model"
	"go_5_vocab_sync/internal/store"
	"go_5_vocab_sync/internal/syncer"
	"go_5_vocab_sync/internal/testutil"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// testServer はインメモリのフルスタック（キャッシュ＋リモート＋ストア）を
// 実ルーターに載せたテスト用サーバーです。
type testServer struct {
	server *httptest.Server
	store  store.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{}
	cfg.Sync.RetryBaseDelayMS = 10
	cfg.Sync.MaxRetries = 3
	cfg.Sync.ReviewWindowH = 24

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache := testutil.NewFakeCache()
	remote := memstore.New()
	engine := syncer.NewEngine(cache, remote, cfg, logger)
	st := store.NewManager(cache, remote, engine, logger)
	require.NoError(t, st.BindOwner(context.Background(), "owner-1"))

	itemHandler := handlers.NewItemHandler(st, logger)
	reviewHandler := handlers.NewReviewHandler(st, logger)
	languageHandler := handlers.NewLanguageHandler(st, logger)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/languages", func(r chi.Router) {
			r.Get("/", languageHandler.GetLanguages)
			r.Post("/", languageHandler.PostLanguage)
			r.Put("/current", languageHandler.PutCurrentLanguage)
			r.Delete("/{code}", languageHandler.DeleteLanguage)
		})
		r.Route("/items/{type}", func(r chi.Router) {
			r.Get("/", itemHandler.ListItems)
			r.Post("/", itemHandler.PostItem)
			r.Patch("/{id}", itemHandler.PatchItem)
			r.Delete("/{id}", itemHandler.DeleteItem)
		})
		r.Route("/reviews", func(r chi.Router) {
			r.Delete("/incorrect", reviewHandler.ClearIncorrect)
			r.Route("/{type}", func(r chi.Router) {
				r.Get("/due", reviewHandler.GetDue)
				r.Get("/incorrect", reviewHandler.GetIncorrect)
				r.Post("/{id}/reviewed", reviewHandler.PostReviewed)
				r.Post("/{id}/incorrect", reviewHandler.PostIncorrect)
				r.Post("/{id}/mastered", reviewHandler.PostMastered)
			})
		})
	})

	server := httptest.NewServer(r)
	t.Cleanup(func() {
		server.Close()
		st.Unbind(context.Background())
	})
	return &testServer{server: server, store: st}
}

// do はJSONリクエストを送り、ステータスとボディを返します
func (ts *testServer) do(t *testing.T, method, path string, body interface{}) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewBuffer(b)
	}
	req, err := http.NewRequest(method, ts.server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := ts.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, respBody
}

// waitForItems は購読反映によりアイテム数が期待値になるまで待ちます
func (ts *testServer) waitForItems(t *testing.T, typ model.ItemType, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(ts.store.Items(typ)) == n
	}, waitFor, tick, "expected %d %s items", n, typ)
}

func TestItemHandler_PostItem(t *testing.T) {
	t.Run("正常系: 単語を作成すると201と作成結果が返る", func(t *testing.T) {
		ts := newTestServer(t)

		status, body := ts.do(t, http.MethodPost, "/api/v1/items/word", model.AddWordRequest{
			Japanese: "犬", Chinese: "狗",
		})
		require.Equal(t, http.StatusCreated, status)

		var created model.Item
		require.NoError(t, json.Unmarshal(body, &created))
		assert.NotEmpty(t, created.ID)
		assert.Equal(t, "犬", created.Japanese)
		assert.Equal(t, "狗", created.Chinese)

		ts.waitForItems(t, model.ItemTypeWord, 1)
	})

	t.Run("異常系: 必須フィールド欠落は400", func(t *testing.T) {
		ts := newTestServer(t)

		status, _ := ts.do(t, http.MethodPost, "/api/v1/items/word", map[string]string{
			"japanese": "犬",
		})
		assert.Equal(t, http.StatusBadRequest, status)
	})

	t.Run("異常系: 同一内容の再登録は409", func(t *testing.T) {
		ts := newTestServer(t)

		req := model.AddWordRequest{Japanese: "猫", Chinese: "猫"}
		status, _ := ts.do(t, http.MethodPost, "/api/v1/items/word", req)
		require.Equal(t, http.StatusCreated, status)
		ts.waitForItems(t, model.ItemTypeWord, 1)

		status, _ = ts.do(t, http.MethodPost, "/api/v1/items/word", req)
		assert.Equal(t, http.StatusConflict, status)
	})

	t.Run("異常系: 不明なアイテム種別は400", func(t *testing.T) {
		ts := newTestServer(t)

		status, _ := ts.do(t, http.MethodPost, "/api/v1/items/verbs", model.AddWordRequest{
			Japanese: "走る", Chinese: "跑",
		})
		assert.Equal(t, http.StatusBadRequest, status)
	})
}

func TestItemHandler_PatchDeleteItem(t *testing.T) {
	t.Run("正常系: 部分更新が一覧に反映される", func(t *testing.T) {
		ts := newTestServer(t)

		status, body := ts.do(t, http.MethodPost, "/api/v1/items/word", model.AddWordRequest{
			Japanese: "山", Chinese: "山",
		})
		require.Equal(t, http.StatusCreated, status)
		var created model.Item
		require.NoError(t, json.Unmarshal(body, &created))
		ts.waitForItems(t, model.ItemTypeWord, 1)

		status, _ = ts.do(t, http.MethodPatch, "/api/v1/items/word/"+created.ID, map[string]string{
			"context": "富士山に登る",
		})
		require.Equal(t, http.StatusNoContent, status)

		require.Eventually(t, func() bool {
			it, ok := ts.store.FindItem(model.ItemTypeWord, created.ID)
			return ok && it.Context == "富士山に登る"
		}, waitFor, tick)
	})

	t.Run("異常系: 存在しないIDの更新は404", func(t *testing.T) {
		ts := newTestServer(t)

		status, _ := ts.do(t, http.MethodPatch, "/api/v1/items/word/no-such-id", map[string]string{
			"context": "x",
		})
		assert.Equal(t, http.StatusNotFound, status)
	})

	t.Run("正常系: 削除すると一覧から消える", func(t *testing.T) {
		ts := newTestServer(t)

		status, body := ts.do(t, http.MethodPost, "/api/v1/items/qa", model.AddQARequest{
			Question: "首都は？", Answer: "東京",
		})
		require.Equal(t, http.StatusCreated, status)
		var created model.Item
		require.NoError(t, json.Unmarshal(body, &created))
		ts.waitForItems(t, model.ItemTypeQA, 1)

		status, _ = ts.do(t, http.MethodDelete, "/api/v1/items/qa/"+created.ID, nil)
		require.Equal(t, http.StatusNoContent, status)
		ts.waitForItems(t, model.ItemTypeQA, 0)
	})
}

func TestReviewHandler_Flow(t *testing.T) {
	t.Run("正常系: 没記住にすると集中復習キューに載り、クリアで消える", func(t *testing.T) {
		ts := newTestServer(t)

		status, body := ts.do(t, http.MethodPost, "/api/v1/items/word", model.AddWordRequest{
			Japanese: "海", Chinese: "海",
		})
		require.Equal(t, http.StatusCreated, status)
		var created model.Item
		require.NoError(t, json.Unmarshal(body, &created))
		ts.waitForItems(t, model.ItemTypeWord, 1)

		status, _ = ts.do(t, http.MethodPost, "/api/v1/reviews/word/"+created.ID+"/incorrect", nil)
		require.Equal(t, http.StatusNoContent, status)

		status, body = ts.do(t, http.MethodGet, "/api/v1/reviews/word/incorrect", nil)
		require.Equal(t, http.StatusOK, status)
		var queue []model.Item
		require.NoError(t, json.Unmarshal(body, &queue))
		require.Len(t, queue, 1)
		assert.Equal(t, created.ID, queue[0].ID)

		status, _ = ts.do(t, http.MethodDelete, "/api/v1/reviews/incorrect", nil)
		require.Equal(t, http.StatusNoContent, status)

		status, body = ts.do(t, http.MethodGet, "/api/v1/reviews/word/incorrect", nil)
		require.Equal(t, http.StatusOK, status)
		require.NoError(t, json.Unmarshal(body, &queue))
		assert.Empty(t, queue)
	})

	t.Run("正常系: 復習済みにすると対象一覧から外れる", func(t *testing.T) {
		ts := newTestServer(t)

		status, body := ts.do(t, http.MethodPost, "/api/v1/items/word", model.AddWordRequest{
			Japanese: "川", Chinese: "河",
		})
		require.Equal(t, http.StatusCreated, status)
		var created model.Item
		require.NoError(t, json.Unmarshal(body, &created))
		ts.waitForItems(t, model.ItemTypeWord, 1)

		// 未復習のアイテムは対象
		status, body = ts.do(t, http.MethodGet, "/api/v1/reviews/word/due", nil)
		require.Equal(t, http.StatusOK, status)
		var due []model.Item
		require.NoError(t, json.Unmarshal(body, &due))
		require.Len(t, due, 1)

		status, _ = ts.do(t, http.MethodPost, "/api/v1/reviews/word/"+created.ID+"/reviewed", nil)
		require.Equal(t, http.StatusNoContent, status)

		status, body = ts.do(t, http.MethodGet, "/api/v1/reviews/word/due", nil)
		require.Equal(t, http.StatusOK, status)
		require.NoError(t, json.Unmarshal(body, &due))
		assert.Empty(t, due)
	})
}

func TestLanguageHandler(t *testing.T) {
	t.Run("正常系: 追加した言語に切り替えられる", func(t *testing.T) {
		ts := newTestServer(t)

		status, _ := ts.do(t, http.MethodPost, "/api/v1/languages", map[string]string{
			"code": "fr", "name": "法语", "flag": "🇫🇷",
		})
		require.Equal(t, http.StatusCreated, status)

		status, _ = ts.do(t, http.MethodPut, "/api/v1/languages/current", map[string]string{
			"code": "fr",
		})
		require.Equal(t, http.StatusNoContent, status)

		status, body := ts.do(t, http.MethodGet, "/api/v1/languages", nil)
		require.Equal(t, http.StatusOK, status)
		var resp struct {
			Languages []model.Language `json:"languages"`
			Current   string           `json:"current"`
		}
		require.NoError(t, json.Unmarshal(body, &resp))
		assert.Equal(t, "fr", resp.Current)
	})

	t.Run("異常系: 未登録の言語への切り替えは404", func(t *testing.T) {
		ts := newTestServer(t)

		status, _ := ts.do(t, http.MethodPut, "/api/v1/languages/current", map[string]string{
			"code": "xx",
		})
		assert.Equal(t, http.StatusNotFound, status)
	})
}
