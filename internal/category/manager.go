// internal/category/manager.go
//
// 言語ごとのカテゴリ木を管理する。アイテムはカテゴリを ID ではなく名前の
// パス（例: ["動物", "哺乳類"]）で参照するため、改名は該当する単語の
// categoryPath を連鎖的に書き換える。削除はリンク解除のみで、アイテム自体は
// 決して消さない。
//
// 永続化は二重: キャッシュへは常に、リモートのカテゴリドキュメントへは
// オンライン時のみ書き出す。
package category

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"go_5_vocab_sync/internal/cache"
	"go_5_vocab_sync/internal/config"
	"go_5_vocab_sync/internal/gateway"
	"go_5_vocab_sync/internal/model"
)

const categoriesField = "categories"

// OwnerFunc は現在のオーナーIDを返します（未束縛なら false）
type OwnerFunc func() (string, bool)

// Manager はカテゴリ木の操作インターフェース。
// Forest / Replace は store.CategorySource を満たす。
type Manager interface {
	Forest(ctx context.Context, lang string) ([]*model.CategoryNode, error)
	Replace(ctx context.Context, lang string, forest []*model.CategoryNode) error

	Add(ctx context.Context, lang string, parentPath []string, name string) (*model.CategoryNode, error)
	Rename(ctx context.Context, lang string, path []string, newName string) error
	Delete(ctx context.Context, lang string, path []string) error
}

type manager struct {
	mu      sync.Mutex
	cache   cache.Cache
	remote  gateway.Store
	ownerFn OwnerFunc
	logger  *slog.Logger

	// 言語コード -> 合成ルートノード（Children が実際の森）
	forests map[string]*model.CategoryNode
}

func NewManager(c cache.Cache, remote gateway.Store, ownerFn OwnerFunc, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &manager{
		cache:   c,
		remote:  remote,
		ownerFn: ownerFn,
		logger:  logger,
		forests: make(map[string]*model.CategoryNode),
	}
}

func (m *manager) Forest(ctx context.Context, lang string) ([]*model.CategoryNode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	root, err := m.loadLocked(ctx, lang)
	if err != nil {
		return nil, err
	}
	return model.CloneForest(root.Children), nil
}

// loadLocked はメモリ → キャッシュ → リモートの順で木を読み込みます
func (m *manager) loadLocked(ctx context.Context, lang string) (*model.CategoryNode, error) {
	if root, ok := m.forests[lang]; ok {
		return root, nil
	}

	raw, found, err := m.cache.Get(ctx, config.CacheKeyCategoryPrefix+lang)
	if err == nil && found {
		var forest []*model.CategoryNode
		if jerr := json.Unmarshal([]byte(raw), &forest); jerr == nil {
			root := &model.CategoryNode{Children: forest}
			m.forests[lang] = root
			return root, nil
		}
		m.logger.Warn("Corrupt category tree in cache", slog.String("language", lang))
	}

	if ownerID, ok := m.ownerFn(); ok {
		fields, docFound, gerr := m.remote.CategoryDoc(ownerID, lang).Get(ctx)
		if gerr != nil {
			m.logger.Warn("Failed to fetch remote category tree", slog.String("language", lang), slog.Any("error", gerr))
		} else if docFound {
			if rawTree, ok := fields[categoriesField]; ok {
				var forest []*model.CategoryNode
				if jerr := json.Unmarshal(rawTree, &forest); jerr == nil {
					root := &model.CategoryNode{Children: forest}
					m.forests[lang] = root
					m.persistLocked(ctx, lang)
					return root, nil
				}
			}
		}
	}

	root := &model.CategoryNode{Children: []*model.CategoryNode{}}
	m.forests[lang] = root
	return root, nil
}

// persistLocked は木を両シンクへ書き出します。リモート失敗は警告止まり。
func (m *manager) persistLocked(ctx context.Context, lang string) {
	forest := []*model.CategoryNode{}
	if root := m.forests[lang]; root != nil && root.Children != nil {
		forest = root.Children
	}
	data, err := json.Marshal(forest)
	if err != nil {
		m.logger.Error("Failed to encode category tree", slog.Any("error", err))
		return
	}
	if err := m.cache.Set(ctx, config.CacheKeyCategoryPrefix+lang, string(data)); err != nil {
		m.logger.Warn("Failed to persist category tree to cache", slog.Any("error", err))
	}
	ownerID, ok := m.ownerFn()
	if !ok {
		return
	}
	fields := map[string]json.RawMessage{categoriesField: json.RawMessage(data)}
	if err := m.remote.CategoryDoc(ownerID, lang).Set(ctx, fields, false); err != nil {
		m.logger.Warn("Failed to push category tree to remote", slog.Any("error", err))
	}
}

func (m *manager) Replace(ctx context.Context, lang string, forest []*model.CategoryNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.forests[lang] = &model.CategoryNode{Children: model.CloneForest(forest)}
	m.persistLocked(ctx, lang)
	return nil
}

// siblingExists は同じ階層に同名カテゴリがあるかを調べます
func siblingExists(siblings []*model.CategoryNode, name string, exclude *model.CategoryNode) bool {
	for _, n := range siblings {
		if n != exclude && n.Name == name {
			return true
		}
	}
	return false
}

// nodeAt は path が指すノードを返します。空パスは合成ルート。
func (m *manager) nodeAt(lang string, path []string) (*model.CategoryNode, error) {
	root := m.forests[lang]
	if len(path) == 0 {
		return root, nil
	}
	node := model.FindByPath(root.Children, path)
	if node == nil {
		return nil, model.NewAppError("NOT_FOUND", "category not found", "path", model.ErrNotFound)
	}
	return node, nil
}

func (m *manager) Add(ctx context.Context, lang string, parentPath []string, name string) (*model.CategoryNode, error) {
	if name == "" {
		return nil, model.NewAppError("INVALID_INPUT", "category name is required", "name", model.ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.loadLocked(ctx, lang); err != nil {
		return nil, err
	}
	parent, err := m.nodeAt(lang, parentPath)
	if err != nil {
		return nil, err
	}
	if siblingExists(parent.Children, name, nil) {
		return nil, model.NewAppError("DUPLICATE", "a category with the same name already exists here", "name", model.ErrDuplicate)
	}
	node := &model.CategoryNode{ID: uuid.NewString(), Name: name}
	parent.Children = append(parent.Children, node)
	m.persistLocked(ctx, lang)
	m.logger.Info("Category added", slog.String("language", lang), slog.String("name", name))
	return node, nil
}

// Rename はカテゴリを改名し、旧パスを参照している単語の categoryPath を
// 新パスへ書き換えます。アイテム書き換えがあるためオンライン必須。
func (m *manager) Rename(ctx context.Context, lang string, path []string, newName string) error {
	if len(path) == 0 || newName == "" {
		return model.NewAppError("INVALID_INPUT", "category path and new name are required", "", model.ErrInvalidInput)
	}
	ownerID, online := m.ownerFn()
	if !online {
		return model.NewAppError("OFFLINE", "cannot rename categories while offline", "", model.ErrOffline)
	}

	m.mu.Lock()
	if _, err := m.loadLocked(ctx, lang); err != nil {
		m.mu.Unlock()
		return err
	}
	parent, err := m.nodeAt(lang, path[:len(path)-1])
	if err != nil {
		m.mu.Unlock()
		return err
	}
	node := model.FindByPath(m.forests[lang].Children, path)
	if node == nil {
		m.mu.Unlock()
		return model.NewAppError("NOT_FOUND", "category not found", "path", model.ErrNotFound)
	}
	if siblingExists(parent.Children, newName, node) {
		m.mu.Unlock()
		return model.NewAppError("DUPLICATE", "a category with the same name already exists here", "name", model.ErrDuplicate)
	}
	node.Name = newName
	m.persistLocked(ctx, lang)
	m.mu.Unlock()

	newPath := append(append([]string{}, path[:len(path)-1]...), newName)
	if err := m.rewriteItemPaths(ctx, ownerID, lang, path, newPath); err != nil {
		return err
	}
	m.logger.Info("Category renamed",
		slog.String("language", lang), slog.Any("path", path), slog.String("new_name", newName))
	return nil
}

// Delete はカテゴリを木から外し、参照していた単語を未分類に戻します。
// アイテムは削除しない。
func (m *manager) Delete(ctx context.Context, lang string, path []string) error {
	if len(path) == 0 {
		return model.NewAppError("INVALID_INPUT", "category path is required", "path", model.ErrInvalidInput)
	}
	ownerID, online := m.ownerFn()
	if !online {
		return model.NewAppError("OFFLINE", "cannot delete categories while offline", "", model.ErrOffline)
	}

	m.mu.Lock()
	if _, err := m.loadLocked(ctx, lang); err != nil {
		m.mu.Unlock()
		return err
	}
	parent, err := m.nodeAt(lang, path[:len(path)-1])
	if err != nil {
		m.mu.Unlock()
		return err
	}
	name := path[len(path)-1]
	idx := -1
	for i, n := range parent.Children {
		if n.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return model.NewAppError("NOT_FOUND", "category not found", "path", model.ErrNotFound)
	}
	parent.Children = append(parent.Children[:idx], parent.Children[idx+1:]...)
	m.persistLocked(ctx, lang)
	m.mu.Unlock()

	// 参照していた単語は未分類（空パス）へ戻す
	if err := m.rewriteItemPaths(ctx, ownerID, lang, path, nil); err != nil {
		return err
	}
	m.logger.Info("Category deleted", slog.String("language", lang), slog.Any("path", path))
	return nil
}

// rewriteItemPaths は oldPath を先頭に持つ単語の categoryPath を書き換えます。
// newPath が nil ならリンク解除（空パス化）。
func (m *manager) rewriteItemPaths(ctx context.Context, ownerID, lang string, oldPath, newPath []string) error {
	col := m.remote.Collection(ownerID, lang, model.ItemTypeWord.CollectionName())
	docs, err := col.ListOrderedByCreation(ctx)
	if err != nil {
		return model.NewAppError("REMOTE_ERROR", "failed to list words for category rewrite", "", err)
	}
	rewritten := 0
	for _, d := range docs {
		it := model.ItemFromFields(model.ItemTypeWord, d.ID, d.Fields)
		if !it.HasCategoryPrefix(oldPath) {
			continue
		}
		var next []string
		if newPath != nil {
			next = append(append([]string{}, newPath...), it.CategoryPath[len(oldPath):]...)
		} else {
			next = []string{}
		}
		if err := col.Set(ctx, d.ID, map[string]any{"categoryPath": next}, true); err != nil {
			return model.NewAppError("REMOTE_ERROR", "failed to rewrite item category path", "", err)
		}
		rewritten++
	}
	if rewritten > 0 {
		m.logger.Info("Item category paths rewritten",
			slog.String("language", lang), slog.Int("count", rewritten))
	}
	return nil
}
