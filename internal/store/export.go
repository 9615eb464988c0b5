// internal/store/export.go
//
// 全データのエクスポートと再インポート。
// インポートは構造的重複チェックで冪等にする（同じファイルを二度読んでも
// アイテムは増えない）。
package store

import (
	"context"
	"log/slog"
	"time"

	"go_5_vocab_sync/internal/model"
)

func (m *manager) Export(ctx context.Context) (*model.ExportDocument, error) {
	m.mu.Lock()
	if err := m.requireOnlineLocked(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	ownerID := m.ownerID
	m.loadLanguagesLocked(ctx)
	langs := make([]model.Language, len(m.languages))
	copy(langs, m.languages)
	cats := m.cats
	m.mu.Unlock()

	doc := &model.ExportDocument{
		SchemaVersion:  model.ExportSchemaVersion,
		ExportedAt:     time.Now().UTC().Format(time.RFC3339),
		Languages:      langs,
		Data:           make(map[string]*model.LanguageExport, len(langs)),
		Categories:     make(map[string][]*model.CategoryNode),
		ReviewProgress: m.engine.Snapshot().ToFlat(),
	}

	for _, lang := range langs {
		exp := &model.LanguageExport{
			Words:     []*model.Item{},
			Sentences: []*model.Item{},
			QA:        []*model.Item{},
		}
		for _, t := range model.AllItemTypes {
			col := m.remote.Collection(ownerID, lang.Code, t.CollectionName())
			docs, err := col.ListOrderedByCreation(ctx)
			if err != nil {
				return nil, model.NewAppError("REMOTE_ERROR", "failed to list items for export", "", err)
			}
			items := make([]*model.Item, 0, len(docs))
			for _, d := range docs {
				items = append(items, model.ItemFromFields(t, d.ID, d.Fields))
			}
			switch t {
			case model.ItemTypeWord:
				exp.Words = items
			case model.ItemTypeSentence:
				exp.Sentences = items
			case model.ItemTypeQA:
				exp.QA = items
			}
		}
		doc.Data[lang.Code] = exp

		if cats != nil {
			forest, err := cats.Forest(ctx, lang.Code)
			if err != nil {
				m.logger.Warn("Failed to export categories", slog.String("language", lang.Code), slog.Any("error", err))
				continue
			}
			doc.Categories[lang.Code] = forest
		}
	}

	m.logger.Info("Export completed", slog.Int("languages", len(langs)))
	return doc, nil
}

// Import はエクスポートJSONを取り込みます。
// 既存アイテムと内容ペアが一致するものはスキップし、カテゴリ木は言語単位で
// 置き換え、復習進捗はインポート側優先でマージする。
func (m *manager) Import(ctx context.Context, doc *model.ExportDocument) (*ImportResult, error) {
	if doc == nil || (len(doc.Data) == 0 && len(doc.ReviewProgress) == 0) {
		return nil, model.NewAppError("INVALID_INPUT", "import document is empty", "", model.ErrInvalidInput)
	}
	if doc.SchemaVersion > model.ExportSchemaVersion {
		return nil, model.NewAppError("INVALID_INPUT", "unsupported export schema version", "schemaVersion", model.ErrInvalidInput)
	}

	m.mu.Lock()
	if err := m.requireOnlineLocked(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	ownerID := m.ownerID
	m.loadLanguagesLocked(ctx)
	// エクスポート側にしか無い言語はリストへ取り込む
	added := false
	for _, lang := range doc.Languages {
		if lang.Code != "" && !m.knownLanguageLocked(lang.Code) {
			m.languages = append(m.languages, lang)
			added = true
		}
	}
	if added {
		m.persistLanguagesLocked(ctx)
	}
	cats := m.cats
	m.mu.Unlock()

	result := &ImportResult{}
	for langCode, exp := range doc.Data {
		if exp == nil {
			continue
		}
		for _, t := range model.AllItemTypes {
			var incoming []*model.Item
			switch t {
			case model.ItemTypeWord:
				incoming = exp.Words
			case model.ItemTypeSentence:
				incoming = exp.Sentences
			case model.ItemTypeQA:
				incoming = exp.QA
			}
			if len(incoming) == 0 {
				continue
			}
			if err := m.importItems(ctx, ownerID, langCode, t, incoming, result); err != nil {
				return nil, err
			}
		}
	}

	for langCode, forest := range doc.Categories {
		if cats == nil {
			break
		}
		if err := cats.Replace(ctx, langCode, forest); err != nil {
			m.logger.Warn("Failed to import categories", slog.String("language", langCode), slog.Any("error", err))
		}
	}

	if len(doc.ReviewProgress) > 0 {
		if err := m.engine.ImportFlat(ctx, doc.ReviewProgress); err != nil {
			return nil, err
		}
	}

	m.logger.Info("Import completed",
		slog.Int("created", result.Created), slog.Int("skipped", result.Skipped))
	return result, nil
}

func (m *manager) importItems(ctx context.Context, ownerID, lang string, t model.ItemType, incoming []*model.Item, result *ImportResult) error {
	col := m.remote.Collection(ownerID, lang, t.CollectionName())
	existing, err := col.ListOrderedByCreation(ctx)
	if err != nil {
		return model.NewAppError("REMOTE_ERROR", "failed to list existing items for import", "", err)
	}
	seen := make(map[string]bool, len(existing))
	for _, d := range existing {
		seen[model.ItemFromFields(t, d.ID, d.Fields).ContentKey()] = true
	}

	for _, src := range incoming {
		it := *src
		it.ID = ""
		it.Type = t
		key := it.ContentKey()
		if key == "|" {
			result.Skipped++
			continue
		}
		if seen[key] {
			result.Skipped++
			continue
		}
		if _, err := col.Add(ctx, it.Fields()); err != nil {
			return model.NewAppError("REMOTE_ERROR", "failed to import item", "", err)
		}
		seen[key] = true
		result.Created++
	}
	return nil
}
