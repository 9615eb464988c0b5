// internal/model/export.go
package model

import "encoding/json"

// ExportSchemaVersion はエクスポートJSONのスキーマバージョン
const ExportSchemaVersion = 2

// LanguageExport は 1 言語分のアイテムコレクション
type LanguageExport struct {
	Words     []*Item `json:"words"`
	Sentences []*Item `json:"sentences"`
	QA        []*Item `json:"qa"`
}

// ExportDocument は全データのエクスポート形式。
// 再インポートは構造的重複チェックにより冪等であること。
type ExportDocument struct {
	SchemaVersion int    `json:"schemaVersion"`
	ExportedAt    string `json:"exportedAt"`

	Languages  []Language                 `json:"languages"`
	Data       map[string]*LanguageExport `json:"data"`       // 言語コード -> コレクション
	Categories map[string][]*CategoryNode `json:"categories"` // 言語コード -> カテゴリ木

	// 復習進捗はフラット形式のまま出力する（旧実装互換）
	ReviewProgress map[string]json.RawMessage `json:"reviewProgress"`
}
