// internal/model/language.go
package model

// Language は学習対象言語の定義
type Language struct {
	Code string `json:"code" validate:"required,min=2,max=8"`
	Name string `json:"name" validate:"required"`
	Flag string `json:"flag"`
}

// DefaultLanguages は初期状態でサポートする言語リスト
// （旧実装の supportedLanguages 初期値と同じ）
func DefaultLanguages() []Language {
	return []Language{
		{Code: "ja", Name: "日语", Flag: "🇯🇵"},
		{Code: "en", Name: "英语", Flag: "🇺🇸"},
		{Code: "hi", Name: "印地语", Flag: "🇮🇳"},
		{Code: "ko", Name: "韩语", Flag: "🇰🇷"},
	}
}
