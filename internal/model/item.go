// internal/model/item.go
package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ItemType は学習アイテムの種別（クローズドな直和型として扱う）
type ItemType string

const (
	ItemTypeWord     ItemType = "word"
	ItemTypeSentence ItemType = "sentence"
	ItemTypeQA       ItemType = "qa"
)

// AllItemTypes は定義済みの全種別（走査用）
var AllItemTypes = []ItemType{ItemTypeWord, ItemTypeSentence, ItemTypeQA}

func (t ItemType) Valid() bool {
	switch t {
	case ItemTypeWord, ItemTypeSentence, ItemTypeQA:
		return true
	}
	return false
}

// CollectionName はリモートストア上のコレクション名を返します
func (t ItemType) CollectionName() string {
	switch t {
	case ItemTypeWord:
		return "words"
	case ItemTypeSentence:
		return "sentences"
	case ItemTypeQA:
		return "qa"
	}
	return string(t)
}

// ParseItemType は文字列を ItemType に変換します
func ParseItemType(s string) (ItemType, error) {
	t := ItemType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown item type %q: %w", s, ErrInvalidInput)
	}
	return t, nil
}

// Item は学習アイテム（Word/Sentence/QAPair）の直和型。
// 共通フィールド（ID・タイムスタンプ）と種別ごとのフィールドを持つ。
// タイムスタンプはポータブルな ISO-8601 文字列で保持する
// （リモートストアのネイティブなタイムスタンプ型は読み取り時に必ず正規化する）。
type Item struct {
	ID   string   `json:"id"`
	Type ItemType `json:"type"`

	// Word / Sentence 用フィールド
	Japanese string `json:"japanese,omitempty"`
	Chinese  string `json:"chinese,omitempty"`
	Context  string `json:"context,omitempty"`

	// QAPair 用フィールド
	Question string `json:"question,omitempty"`
	Answer   string `json:"answer,omitempty"`

	// Word のみ: カテゴリ名のパス（ID参照ではなく名前参照）
	CategoryPath []string `json:"categoryPath,omitempty"`

	CreatedAt string `json:"createdAt,omitempty"`
	UpdatedAt string `json:"updatedAt,omitempty"`
}

// ContentKey は重複判定用の構造的キーを返します。
// 同一性は ID ではなく内容ペア ((japanese,chinese) / (question,answer)) で決まる。
func (it *Item) ContentKey() string {
	if it.Type == ItemTypeQA {
		return it.Question + "|" + it.Answer
	}
	return it.Japanese + "|" + it.Chinese
}

// Fields はリモートストアへ書き込むフィールドマップを返します（ID は含めない）
func (it *Item) Fields() map[string]any {
	f := map[string]any{}
	switch it.Type {
	case ItemTypeQA:
		f["question"] = it.Question
		f["answer"] = it.Answer
	default:
		f["japanese"] = it.Japanese
		f["chinese"] = it.Chinese
		f["context"] = it.Context
	}
	if it.Type == ItemTypeWord {
		// 未分類は空配列として保存する
		path := it.CategoryPath
		if path == nil {
			path = []string{}
		}
		f["categoryPath"] = path
	}
	if it.CreatedAt != "" {
		f["createdAt"] = it.CreatedAt
	}
	if it.UpdatedAt != "" {
		f["updatedAt"] = it.UpdatedAt
	}
	return f
}

// HasCategoryPrefix は CategoryPath が path を先頭に持つかを返します
func (it *Item) HasCategoryPrefix(path []string) bool {
	if len(path) == 0 || len(it.CategoryPath) < len(path) {
		return false
	}
	for i, name := range path {
		if it.CategoryPath[i] != name {
			return false
		}
	}
	return true
}

// --- DTO ---

// AddWordRequest は単語追加リクエスト（Sentence も同形）
type AddWordRequest struct {
	Japanese     string   `json:"japanese" validate:"required"`
	Chinese      string   `json:"chinese" validate:"required"`
	Context      string   `json:"context"`
	CategoryPath []string `json:"categoryPath,omitempty"`
}

// AddSentenceRequest は例文追加リクエスト
type AddSentenceRequest struct {
	Japanese string `json:"japanese" validate:"required"`
	Chinese  string `json:"chinese" validate:"required"`
	Context  string `json:"context"`
}

// AddQARequest は問答追加リクエスト
type AddQARequest struct {
	Question string `json:"question" validate:"required"`
	Answer   string `json:"answer" validate:"required"`
}

// PatchItemRequest はアイテム部分更新リクエスト
type PatchItemRequest struct {
	Japanese     *string   `json:"japanese,omitempty" validate:"omitempty,min=1"`
	Chinese      *string   `json:"chinese,omitempty" validate:"omitempty,min=1"`
	Context      *string   `json:"context,omitempty"`
	Question     *string   `json:"question,omitempty" validate:"omitempty,min=1"`
	Answer       *string   `json:"answer,omitempty" validate:"omitempty,min=1"`
	CategoryPath *[]string `json:"categoryPath,omitempty"`
}

// Fields は更新対象フィールドのみのマップを返します（merge 書き込み用）
func (r *PatchItemRequest) Fields() map[string]any {
	f := map[string]any{}
	if r.Japanese != nil {
		f["japanese"] = *r.Japanese
	}
	if r.Chinese != nil {
		f["chinese"] = *r.Chinese
	}
	if r.Context != nil {
		f["context"] = *r.Context
	}
	if r.Question != nil {
		f["question"] = *r.Question
	}
	if r.Answer != nil {
		f["answer"] = *r.Answer
	}
	if r.CategoryPath != nil {
		f["categoryPath"] = *r.CategoryPath
	}
	return f
}

// ItemFromFields はリモートストアのドキュメントから Item を復元します。
// タイムスタンプは gateway 側で正規化済みの文字列を想定しつつ、
// 文字列以外が紛れ込んでいた場合は無視する。
func ItemFromFields(t ItemType, id string, fields map[string]any) *Item {
	it := &Item{ID: id, Type: t}
	if s, ok := fields["japanese"].(string); ok {
		it.Japanese = s
	}
	if s, ok := fields["chinese"].(string); ok {
		it.Chinese = s
	}
	if s, ok := fields["context"].(string); ok {
		it.Context = s
	}
	if s, ok := fields["question"].(string); ok {
		it.Question = s
	}
	if s, ok := fields["answer"].(string); ok {
		it.Answer = s
	}
	if s, ok := fields["createdAt"].(string); ok {
		it.CreatedAt = s
	}
	if s, ok := fields["updatedAt"].(string); ok {
		it.UpdatedAt = s
	}
	switch v := fields["categoryPath"].(type) {
	case []string:
		it.CategoryPath = v
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				it.CategoryPath = append(it.CategoryPath, s)
			}
		}
	}
	return it
}

// UnmarshalJSON は旧エクスポート形式のタイムスタンプ（{seconds,nanos} の
// オブジェクト）も受け付けて ISO-8601 文字列へ正規化します
func (it *Item) UnmarshalJSON(data []byte) error {
	type alias Item
	aux := struct {
		*alias
		CreatedAt json.RawMessage `json:"createdAt,omitempty"`
		UpdatedAt json.RawMessage `json:"updatedAt,omitempty"`
	}{alias: (*alias)(it)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	it.CreatedAt = normalizeRawTimestamp(aux.CreatedAt)
	it.UpdatedAt = normalizeRawTimestamp(aux.UpdatedAt)
	return nil
}

func normalizeRawTimestamp(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Seconds int64 `json:"seconds"`
		Nanos   int64 `json:"nanos"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Seconds > 0 {
		return time.Unix(obj.Seconds, obj.Nanos).UTC().Format(time.RFC3339)
	}
	return ""
}
