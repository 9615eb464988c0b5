// internal/store/manager.go
//
// 言語スコープのコレクションマネージャ。
// 現在言語の words / sentences / qa コレクションを購読して最新のビューを保持し、
// 追加・更新・削除はリモートへ直接書き込む（ローカルへは追記しない。購読経由で
// 反映されるのを待つことで、リモートを常に唯一の真実とする）。
package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"go_5_vocab_sync/internal/cache"
	"go_5_vocab_sync/internal/config"
	"go_5_vocab_sync/internal/gateway"
	"go_5_vocab_sync/internal/model"
	"go_5_vocab_sync/internal/syncer"
)

// CategorySource はエクスポート・インポート時にカテゴリ木を出し入れするための
// 窓口。category パッケージが実装する（循環参照を避けるためこちらで定義）。
type CategorySource interface {
	Forest(ctx context.Context, lang string) ([]*model.CategoryNode, error)
	Replace(ctx context.Context, lang string, forest []*model.CategoryNode) error
}

// ImportResult はインポート処理の集計結果
type ImportResult struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

// Manager は言語スコープのデータ操作をまとめたインターフェース
type Manager interface {
	// BindOwner はオーナーを束縛し、初回同期と購読を開始します
	BindOwner(ctx context.Context, ownerID string) error
	// Unbind は購読を全て止めてオフライン状態に戻します
	Unbind(ctx context.Context)

	AddWord(ctx context.Context, req *model.AddWordRequest) (*model.Item, error)
	AddSentence(ctx context.Context, req *model.AddSentenceRequest) (*model.Item, error)
	AddQA(ctx context.Context, req *model.AddQARequest) (*model.Item, error)
	UpdateItem(ctx context.Context, t model.ItemType, id string, patch *model.PatchItemRequest) error
	DeleteItem(ctx context.Context, t model.ItemType, id string) error

	// SwitchLanguage は購読を全て解除してから新言語を購読し直し、再同期します
	SwitchLanguage(ctx context.Context, code string) error
	Resync(ctx context.Context) error

	Items(t model.ItemType) []*model.Item
	FindItem(t model.ItemType, id string) (*model.Item, bool)
	DueForReview(t model.ItemType) []*model.Item
	IncorrectItems(t model.ItemType) []*model.Item
	MasteredItems(t model.ItemType) []*model.Item
	Totals() map[model.ItemType]int

	Languages() []model.Language
	CurrentLanguage() (model.Language, bool)
	AddLanguage(ctx context.Context, lang model.Language) error
	RemoveLanguage(ctx context.Context, code string) error

	Export(ctx context.Context) (*model.ExportDocument, error)
	Import(ctx context.Context, doc *model.ExportDocument) (*ImportResult, error)

	SetCategorySource(cs CategorySource)
	Engine() syncer.Engine
	Online() bool
}

type manager struct {
	mu     sync.Mutex
	cache  cache.Cache
	remote gateway.Store
	engine syncer.Engine
	cats   CategorySource
	logger *slog.Logger

	ownerID     string
	languages   []model.Language
	currentLang string
	items       map[model.ItemType][]*model.Item

	// 購読の世代番号。SwitchLanguage の度に進め、古い購読から届いた
	// スナップショットを適用しないためのガード。
	generation int
	cancels    []func()
}

func NewManager(c cache.Cache, remote gateway.Store, engine syncer.Engine, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &manager{
		cache:  c,
		remote: remote,
		engine: engine,
		logger: logger,
		items:  make(map[model.ItemType][]*model.Item),
	}
}

func (m *manager) SetCategorySource(cs CategorySource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cats = cs
}

func (m *manager) Engine() syncer.Engine { return m.engine }

func (m *manager) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ownerID != ""
}

// BindOwner は起動時（またはサインイン時）の入口。
// 言語リストと前回の選択言語をキャッシュから復元し、購読と初回同期を行う。
func (m *manager) BindOwner(ctx context.Context, ownerID string) error {
	m.mu.Lock()
	m.ownerID = ownerID
	m.engine.SetOwner(ownerID)
	m.loadLanguagesLocked(ctx)

	lang := m.currentLang
	if raw, found, err := m.cache.Get(ctx, config.CacheKeyCurrentLang); err == nil && found && m.knownLanguageLocked(raw) {
		lang = raw
	}
	if lang == "" || !m.knownLanguageLocked(lang) {
		lang = m.languages[0].Code
	}
	m.mu.Unlock()

	m.logger.Info("Owner bound, starting initial sync",
		slog.String("owner_id", ownerID), slog.String("language", lang))
	return m.SwitchLanguage(ctx, lang)
}

func (m *manager) Unbind(ctx context.Context) {
	m.mu.Lock()
	cancels := m.takeCancelsLocked()
	m.generation++
	m.ownerID = ""
	m.items = make(map[model.ItemType][]*model.Item)
	m.engine.SetOwner("")
	m.mu.Unlock()

	// 購読コールバックは m.mu を取るため、解除はロックの外で行う
	for _, cancel := range cancels {
		cancel()
	}
	m.logger.Info("Owner unbound, subscriptions cancelled")
}

// loadLanguagesLocked はキャッシュの言語リストを読み込みます。
// 無ければ既定の4言語から始める。
func (m *manager) loadLanguagesLocked(ctx context.Context) {
	if len(m.languages) > 0 {
		return
	}
	raw, found, err := m.cache.Get(ctx, config.CacheKeyLanguages)
	if err == nil && found {
		var langs []model.Language
		if jerr := json.Unmarshal([]byte(raw), &langs); jerr == nil && len(langs) > 0 {
			m.languages = langs
			return
		}
		m.logger.Warn("Corrupt language list in cache, using defaults")
	}
	m.languages = model.DefaultLanguages()
}

func (m *manager) knownLanguageLocked(code string) bool {
	for _, l := range m.languages {
		if l.Code == code {
			return true
		}
	}
	return false
}

func (m *manager) persistLanguagesLocked(ctx context.Context) {
	data, err := json.Marshal(m.languages)
	if err != nil {
		return
	}
	if err := m.cache.Set(ctx, config.CacheKeyLanguages, string(data)); err != nil {
		m.logger.Warn("Failed to persist language list", slog.Any("error", err))
	}
}

// SwitchLanguage は言語を切り替えます。
// 旧言語の購読解除が新言語の購読開始より必ず先行すること。順序が崩れると
// 旧言語のスナップショットが新言語のビューへ混入する。
func (m *manager) SwitchLanguage(ctx context.Context, code string) error {
	m.mu.Lock()
	if !m.knownLanguageLocked(code) {
		m.mu.Unlock()
		return model.NewAppError("LANGUAGE_NOT_FOUND", "unknown language code", "code", model.ErrLanguageNotFound)
	}
	if m.ownerID == "" {
		m.mu.Unlock()
		return model.NewAppError("OFFLINE", "not connected to remote store", "", model.ErrOffline)
	}

	cancels := m.takeCancelsLocked()
	m.generation++
	gen := m.generation
	m.currentLang = code
	m.items = make(map[model.ItemType][]*model.Item)
	ownerID := m.ownerID

	if err := m.cache.Set(ctx, config.CacheKeyCurrentLang, code); err != nil {
		m.logger.Warn("Failed to persist current language", slog.Any("error", err))
	}
	m.mu.Unlock()

	// 解除が再購読より必ず先。世代番号を進めてあるので、解除完了前に
	// 届いた旧言語のスナップショットも適用されない。
	for _, cancel := range cancels {
		cancel()
	}

	newCancels := make([]func(), 0, len(model.AllItemTypes))
	for _, t := range model.AllItemTypes {
		t := t
		col := m.remote.Collection(ownerID, code, t.CollectionName())
		cancel := col.Subscribe(func(docs []gateway.Doc) {
			m.applyDocs(gen, t, docs)
		})
		newCancels = append(newCancels, cancel)
	}

	m.mu.Lock()
	if gen == m.generation {
		m.cancels = append(m.cancels, newCancels...)
		m.mu.Unlock()
	} else {
		// 並行して別の切り替えが走った。こちらの購読は負けたので閉じる。
		m.mu.Unlock()
		for _, cancel := range newCancels {
			cancel()
		}
		return nil
	}

	m.logger.Info("Language switched", slog.String("language", code))
	return m.engine.Reconcile(ctx)
}

func (m *manager) takeCancelsLocked() []func() {
	cancels := m.cancels
	m.cancels = nil
	return cancels
}

// applyDocs は購読コールバック。世代が切り替わっていたら捨てる。
func (m *manager) applyDocs(gen int, t model.ItemType, docs []gateway.Doc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation {
		m.logger.Debug("Dropping snapshot from a stale subscription",
			slog.String("type", string(t)))
		return
	}
	list := make([]*model.Item, 0, len(docs))
	for _, d := range docs {
		list = append(list, model.ItemFromFields(t, d.ID, d.Fields))
	}
	m.items[t] = list
}

func (m *manager) Resync(ctx context.Context) error {
	return m.engine.Reconcile(ctx)
}

// --- アイテム操作 ---

// requireOnline はオーナー束縛済みであることを確認します。
// 書き込み系は全てリモート直行なのでオフラインでは受け付けない。
func (m *manager) requireOnlineLocked() error {
	if m.ownerID == "" {
		return model.NewAppError("OFFLINE", "cannot modify items while offline", "", model.ErrOffline)
	}
	return nil
}

func (m *manager) findDuplicateLocked(it *model.Item) *model.Item {
	key := it.ContentKey()
	for _, existing := range m.items[it.Type] {
		if existing.ID != it.ID && existing.ContentKey() == key {
			return existing
		}
	}
	return nil
}

// addItem は Add 系の共通処理。重複チェックの上でリモートへ追加する。
// ローカルのビューへは追記しない。購読スナップショットで反映される。
func (m *manager) addItem(ctx context.Context, it *model.Item) (*model.Item, error) {
	m.mu.Lock()
	if err := m.requireOnlineLocked(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if dup := m.findDuplicateLocked(it); dup != nil {
		m.mu.Unlock()
		return nil, model.NewAppError("DUPLICATE", "an item with the same content already exists", "", model.ErrDuplicate)
	}
	ownerID, lang := m.ownerID, m.currentLang
	m.mu.Unlock()

	col := m.remote.Collection(ownerID, lang, it.Type.CollectionName())
	id, err := col.Add(ctx, it.Fields())
	if err != nil {
		m.logger.Error("Failed to add item", slog.String("type", string(it.Type)), slog.Any("error", err))
		return nil, model.NewAppError("REMOTE_ERROR", "failed to add item", "", err)
	}
	it.ID = id
	m.logger.Info("Item added", slog.String("type", string(it.Type)), slog.String("id", id))
	return it, nil
}

func (m *manager) AddWord(ctx context.Context, req *model.AddWordRequest) (*model.Item, error) {
	return m.addItem(ctx, &model.Item{
		Type:         model.ItemTypeWord,
		Japanese:     req.Japanese,
		Chinese:      req.Chinese,
		Context:      req.Context,
		CategoryPath: req.CategoryPath,
	})
}

func (m *manager) AddSentence(ctx context.Context, req *model.AddSentenceRequest) (*model.Item, error) {
	return m.addItem(ctx, &model.Item{
		Type:     model.ItemTypeSentence,
		Japanese: req.Japanese,
		Chinese:  req.Chinese,
		Context:  req.Context,
	})
}

func (m *manager) AddQA(ctx context.Context, req *model.AddQARequest) (*model.Item, error) {
	return m.addItem(ctx, &model.Item{
		Type:     model.ItemTypeQA,
		Question: req.Question,
		Answer:   req.Answer,
	})
}

func (m *manager) UpdateItem(ctx context.Context, t model.ItemType, id string, patch *model.PatchItemRequest) error {
	m.mu.Lock()
	if err := m.requireOnlineLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	current, found := m.findLocked(t, id)
	if !found {
		m.mu.Unlock()
		return model.NewAppError("NOT_FOUND", "item not found", "id", model.ErrNotFound)
	}
	// 内容ペアが変わる場合は更新後の姿で重複チェックする
	updated := *current
	applyPatch(&updated, patch)
	if dup := m.findDuplicateLocked(&updated); dup != nil {
		m.mu.Unlock()
		return model.NewAppError("DUPLICATE", "an item with the same content already exists", "", model.ErrDuplicate)
	}
	ownerID, lang := m.ownerID, m.currentLang
	m.mu.Unlock()

	fields := patch.Fields()
	if len(fields) == 0 {
		return model.NewAppError("INVALID_INPUT", "patch contains no fields", "", model.ErrInvalidInput)
	}
	col := m.remote.Collection(ownerID, lang, t.CollectionName())
	if err := col.Set(ctx, id, fields, true); err != nil {
		m.logger.Error("Failed to update item", slog.String("id", id), slog.Any("error", err))
		return model.NewAppError("REMOTE_ERROR", "failed to update item", "", err)
	}
	m.logger.Info("Item updated", slog.String("type", string(t)), slog.String("id", id))
	return nil
}

func applyPatch(it *model.Item, patch *model.PatchItemRequest) {
	if patch.Japanese != nil {
		it.Japanese = *patch.Japanese
	}
	if patch.Chinese != nil {
		it.Chinese = *patch.Chinese
	}
	if patch.Question != nil {
		it.Question = *patch.Question
	}
	if patch.Answer != nil {
		it.Answer = *patch.Answer
	}
}

func (m *manager) DeleteItem(ctx context.Context, t model.ItemType, id string) error {
	m.mu.Lock()
	if err := m.requireOnlineLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if _, found := m.findLocked(t, id); !found {
		m.mu.Unlock()
		return model.NewAppError("NOT_FOUND", "item not found", "id", model.ErrNotFound)
	}
	ownerID, lang := m.ownerID, m.currentLang
	m.mu.Unlock()

	col := m.remote.Collection(ownerID, lang, t.CollectionName())
	if err := col.Delete(ctx, id); err != nil {
		m.logger.Error("Failed to delete item", slog.String("id", id), slog.Any("error", err))
		return model.NewAppError("REMOTE_ERROR", "failed to delete item", "", err)
	}
	m.logger.Info("Item deleted", slog.String("type", string(t)), slog.String("id", id))
	return nil
}

// --- ビュー ---

func (m *manager) findLocked(t model.ItemType, id string) (*model.Item, bool) {
	for _, it := range m.items[t] {
		if it.ID == id {
			return it, true
		}
	}
	return nil, false
}

func (m *manager) FindItem(t model.ItemType, id string) (*model.Item, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, found := m.findLocked(t, id)
	if !found {
		return nil, false
	}
	cp := *it
	return &cp, true
}

func (m *manager) Items(t model.ItemType) []*model.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Item, len(m.items[t]))
	copy(out, m.items[t])
	return out
}

func (m *manager) DueForReview(t model.ItemType) []*model.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Item
	for _, it := range m.items[t] {
		if m.engine.IsDueForReview(t, it.ID) {
			out = append(out, it)
		}
	}
	return out
}

func (m *manager) IncorrectItems(t model.ItemType) []*model.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Item
	for _, it := range m.items[t] {
		if m.engine.IsIncorrect(t, it.ID) {
			out = append(out, it)
		}
	}
	return out
}

func (m *manager) MasteredItems(t model.ItemType) []*model.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Item
	for _, it := range m.items[t] {
		if m.engine.IsMastered(t, it.ID) {
			out = append(out, it)
		}
	}
	return out
}

func (m *manager) Totals() map[model.ItemType]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	totals := make(map[model.ItemType]int, len(model.AllItemTypes))
	for _, t := range model.AllItemTypes {
		totals[t] = len(m.items[t])
	}
	return totals
}

// --- 言語リスト管理 ---

func (m *manager) Languages() []model.Language {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Language, len(m.languages))
	copy(out, m.languages)
	return out
}

func (m *manager) CurrentLanguage() (model.Language, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.languages {
		if l.Code == m.currentLang {
			return l, true
		}
	}
	return model.Language{}, false
}

func (m *manager) AddLanguage(ctx context.Context, lang model.Language) error {
	if lang.Code == "" || lang.Name == "" {
		return model.NewAppError("INVALID_INPUT", "language code and name are required", "", model.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadLanguagesLocked(ctx)
	if m.knownLanguageLocked(lang.Code) {
		return model.NewAppError("DUPLICATE", "language already registered", "code", model.ErrDuplicate)
	}
	m.languages = append(m.languages, lang)
	m.persistLanguagesLocked(ctx)
	m.logger.Info("Language added", slog.String("code", lang.Code))
	return nil
}

// RemoveLanguage は言語を一覧から外します。最後の1言語は消せない。
// 現在言語を消した場合は残りの先頭へ切り替える。
func (m *manager) RemoveLanguage(ctx context.Context, code string) error {
	m.mu.Lock()
	if !m.knownLanguageLocked(code) {
		m.mu.Unlock()
		return model.NewAppError("LANGUAGE_NOT_FOUND", "unknown language code", "code", model.ErrLanguageNotFound)
	}
	if len(m.languages) == 1 {
		m.mu.Unlock()
		return model.NewAppError("INVALID_INPUT", "cannot remove the last language", "code", model.ErrInvalidInput)
	}
	kept := make([]model.Language, 0, len(m.languages)-1)
	for _, l := range m.languages {
		if l.Code != code {
			kept = append(kept, l)
		}
	}
	m.languages = kept
	m.persistLanguagesLocked(ctx)
	needSwitch := m.currentLang == code && m.ownerID != ""
	next := kept[0].Code
	m.mu.Unlock()

	m.logger.Info("Language removed", slog.String("code", code))
	if needSwitch {
		return m.SwitchLanguage(ctx, next)
	}
	return nil
}
