// internal/model/progress.go
package model

import (
	"encoding/json"
	"strconv"
	"strings"
)

// 保存フォーマット（フラットマップ）のキープレフィックス。
// 旧実装（localStorage / Firestore 直書き）との後方互換のために維持する。
const (
	flatPrefixIncorrect = "incorrect_"
	flatPrefixMastered  = "mastered_"
)

// ItemKey は (種別, ID) の組。復習進捗はこの単位で管理される。
// 進捗は言語横断でグローバルに保持される点に注意
// （ID はコレクション毎の採番なので、理論上は言語間で衝突し得る。
// 旧実装の仕様をそのまま踏襲している）。
type ItemKey struct {
	Type ItemType
	ID   string
}

// FlatKey は復習タイムスタンプ用のフラットキー "{type}_{id}" を返します
func (k ItemKey) FlatKey() string {
	return string(k.Type) + "_" + k.ID
}

// IncorrectKey は永続フラグ "incorrect_{type}_{id}" を返します
func (k ItemKey) IncorrectKey() string {
	return flatPrefixIncorrect + k.FlatKey()
}

// MasteredKey は永続フラグ "mastered_{type}_{id}" を返します
func (k ItemKey) MasteredKey() string {
	return flatPrefixMastered + k.FlatKey()
}

// parseTypeID は "{type}_{id}" を分解します。種別が未知の場合は false。
func parseTypeID(s string) (ItemKey, bool) {
	i := strings.Index(s, "_")
	if i <= 0 || i == len(s)-1 {
		return ItemKey{}, false
	}
	t := ItemType(s[:i])
	if !t.Valid() {
		return ItemKey{}, false
	}
	return ItemKey{Type: t, ID: s[i+1:]}, true
}

// ProgressState は復習進捗の正規化表現。
// 旧実装では単一のフラットマップにプレフィックス付きキーで詰め込まれていたが、
// ここでは 3 つの明示的な構造に分けて持ち、保存境界でのみフラット形式に変換する。
//   - Timestamps: 最終復習時刻 (epoch millis)
//   - Incorrect:  「没記住」永続フラグ（集中復習区）
//   - Mastered:   「学会了」永続フラグ
//   - Extra:      解釈できなかったキーの生データ（不透明なまま同期する）
type ProgressState struct {
	Timestamps map[ItemKey]int64
	Incorrect  map[ItemKey]bool
	Mastered   map[ItemKey]bool
	Extra      map[string]json.RawMessage
}

func NewProgressState() *ProgressState {
	return &ProgressState{
		Timestamps: make(map[ItemKey]int64),
		Incorrect:  make(map[ItemKey]bool),
		Mastered:   make(map[ItemKey]bool),
		Extra:      make(map[string]json.RawMessage),
	}
}

// Clone は深いコピーを返します
func (s *ProgressState) Clone() *ProgressState {
	c := NewProgressState()
	for k, v := range s.Timestamps {
		c.Timestamps[k] = v
	}
	for k := range s.Incorrect {
		c.Incorrect[k] = true
	}
	for k := range s.Mastered {
		c.Mastered[k] = true
	}
	for k, v := range s.Extra {
		c.Extra[k] = v
	}
	return c
}

// Len は全キー数（フラット形式に変換した場合の要素数）を返します
func (s *ProgressState) Len() int {
	return len(s.Timestamps) + len(s.Incorrect) + len(s.Mastered) + len(s.Extra)
}

// ToFlat は保存用のフラットマップ表現に変換します
func (s *ProgressState) ToFlat() map[string]json.RawMessage {
	flat := make(map[string]json.RawMessage, s.Len())
	for k, v := range s.Extra {
		flat[k] = v
	}
	for k, ms := range s.Timestamps {
		flat[k.FlatKey()] = json.RawMessage(strconv.FormatInt(ms, 10))
	}
	for k := range s.Incorrect {
		flat[k.IncorrectKey()] = json.RawMessage("true")
	}
	for k := range s.Mastered {
		flat[k.MasteredKey()] = json.RawMessage("true")
	}
	return flat
}

// ProgressStateFromFlat はフラットマップ表現から ProgressState を復元します。
// 全キーを線形走査してプレフィックスで分類する。解釈できないキーは
// Extra にそのまま保持し、同期時に欠落させない。
func ProgressStateFromFlat(flat map[string]json.RawMessage) *ProgressState {
	s := NewProgressState()
	for key, raw := range flat {
		switch {
		case strings.HasPrefix(key, flatPrefixIncorrect):
			if k, ok := parseTypeID(key[len(flatPrefixIncorrect):]); ok {
				s.Incorrect[k] = true
				continue
			}
		case strings.HasPrefix(key, flatPrefixMastered):
			if k, ok := parseTypeID(key[len(flatPrefixMastered):]); ok {
				s.Mastered[k] = true
				continue
			}
		default:
			if k, ok := parseTypeID(key); ok {
				var ms int64
				if err := json.Unmarshal(raw, &ms); err == nil {
					s.Timestamps[k] = ms
					continue
				}
			}
		}
		s.Extra[key] = raw
	}
	return s
}

// MarshalFlatJSON はフラット形式の JSON バイト列を返します（保存用）
func (s *ProgressState) MarshalFlatJSON() ([]byte, error) {
	return json.Marshal(s.ToFlat())
}

// UnmarshalFlatJSON はフラット形式の JSON バイト列から復元します
func UnmarshalFlatJSON(data []byte) (*ProgressState, error) {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, err
	}
	return ProgressStateFromFlat(flat), nil
}
