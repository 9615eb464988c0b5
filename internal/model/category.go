// internal/model/category.go
package model

// CategoryNode は言語毎のカテゴリ木のノード。
// アイテム側からは名前のパス（categoryPath）で参照されるため、
// 改名時は参照しているアイテムのパス書き換えが必要になる。
type CategoryNode struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Children []*CategoryNode `json:"children"`
}

// FindByPath は名前のパスを辿ってノードを探します。
// 見つからなければ nil。空パスは「ルート（森全体）」を意味するため nil を返す。
func FindByPath(forest []*CategoryNode, path []string) *CategoryNode {
	if len(path) == 0 {
		return nil
	}
	nodes := forest
	var cur *CategoryNode
	for _, name := range path {
		cur = nil
		for _, n := range nodes {
			if n.Name == name {
				cur = n
				break
			}
		}
		if cur == nil {
			return nil
		}
		nodes = cur.Children
	}
	return cur
}

// CloneForest はカテゴリ木の深いコピーを返します
func CloneForest(forest []*CategoryNode) []*CategoryNode {
	if forest == nil {
		return nil
	}
	out := make([]*CategoryNode, 0, len(forest))
	for _, n := range forest {
		out = append(out, &CategoryNode{
			ID:       n.ID,
			Name:     n.Name,
			Children: CloneForest(n.Children),
		})
	}
	return out
}

// --- DTO ---

// AddCategoryRequest はカテゴリ追加リクエスト
type AddCategoryRequest struct {
	ParentPath []string `json:"parentPath"`
	Name       string   `json:"name" validate:"required,min=1"`
}

// RenameCategoryRequest はカテゴリ改名リクエスト
type RenameCategoryRequest struct {
	Path    []string `json:"path" validate:"required,min=1"`
	NewName string   `json:"newName" validate:"required,min=1"`
}

// DeleteCategoryRequest はカテゴリ削除リクエスト
type DeleteCategoryRequest struct {
	Path []string `json:"path" validate:"required,min=1"`
}
