// internal/gateway/gateway.go
//
// リモートドキュメントストアへの能力インターフェース。
// ストア本体（ワイヤプロトコル・クエリエンジン）はスコープ外で、
// ここではオーナー単位にスコープされた型付きCRUD＋購読だけを定義する。
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Doc はコレクション内の1ドキュメント。
// Fields のタイムスタンプは読み取り時に ISO-8601 文字列へ正規化済みであること。
type Doc struct {
	ID     string
	Fields map[string]any
}

// Collection はオーナー＋言語にスコープされたコレクションへの操作。
// Subscribe が返すキャンセル関数は同期的であること：
// 戻った後にコールバックが実行されてはならない（購読の張り替え順序の前提）。
type Collection interface {
	Add(ctx context.Context, fields map[string]any) (string, error)
	Set(ctx context.Context, id string, fields map[string]any, merge bool) error
	Delete(ctx context.Context, id string) error
	ListOrderedByCreation(ctx context.Context) ([]Doc, error)
	Subscribe(cb func(docs []Doc)) (cancel func())
}

// Document はオーナー単位の単一ドキュメント（復習進捗などの集約フィールド用）。
// 中身はフラットなJSONオブジェクトとして不透明に扱う。
type Document interface {
	Get(ctx context.Context) (map[string]json.RawMessage, bool, error)
	Set(ctx context.Context, fields map[string]json.RawMessage, merge bool) error
}

// Store はリモートストアへの入口
type Store interface {
	Collection(ownerID, lang, name string) Collection
	ProgressDoc(ownerID string) Document
	CategoryDoc(ownerID, lang string) Document
}

// CollectionPath はコレクションのパスを組み立てます
func CollectionPath(ownerID, lang, name string) string {
	return fmt.Sprintf("owner/%s/languages/%s/%s", ownerID, lang, name)
}

// ProgressDocPath はオーナー毎の復習進捗ドキュメントのパス。
// 進捗は言語にスコープされない（旧実装互換）。
func ProgressDocPath(ownerID string) string {
	return fmt.Sprintf("owner/%s/meta/reviewProgress", ownerID)
}

// CategoryDocPath は言語毎のカテゴリ木ドキュメントのパス
func CategoryDocPath(ownerID, lang string) string {
	return fmt.Sprintf("owner/%s/languages/%s/meta/categories", ownerID, lang)
}

// NormalizeTimestamp はサーバネイティブなタイムスタンプ表現を
// ポータブルな ISO-8601 文字列へ正規化します。
// 対応形式: time.Time / RFC3339文字列 / {seconds,nanos} 形式のマップ。
func NormalizeTimestamp(v any) (string, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339), true
	case string:
		if _, err := time.Parse(time.RFC3339, t); err == nil {
			return t, true
		}
		return "", false
	case map[string]any:
		sec, ok := numberField(t, "seconds")
		if !ok {
			return "", false
		}
		nanos, _ := numberField(t, "nanos")
		return time.Unix(sec, nanos).UTC().Format(time.RFC3339), true
	}
	return "", false
}

// NormalizeDocTimestamps は createdAt / updatedAt を正規化した新しいマップを返します
func NormalizeDocTimestamps(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if k == "createdAt" || k == "updatedAt" {
			if iso, ok := NormalizeTimestamp(v); ok {
				out[k] = iso
				continue
			}
		}
		out[k] = v
	}
	return out
}

func numberField(m map[string]any, key string) (int64, bool) {
	switch n := m[key].(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}
