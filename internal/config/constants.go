// internal/config/constants.go
package config

// アプリケーション情報
const (
	AppName    = "VocabSyncCore"
	AppVersion = "0.3.0"
)

// デフォルト設定値
const (
	DefaultServerPort        = ":8080"
	DefaultCachePath         = "vocab_cache.db"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
	DefaultRetryBaseDelayMS  = 1000 // 旧実装の SYNC_RETRY_DELAY と同じ
	DefaultMaxSyncRetries    = 3
	DefaultReviewWindowHours = 24
	DefaultReminderHour      = 8
	DefaultAuthEnabled       = false
)

// ローカルキャッシュのキー（旧実装の localStorage キーと互換）
const (
	CacheKeyReviewProgress = "reviewProgress"
	CacheKeyLanguages      = "supportedLanguages"
	CacheKeyOwnerID        = "dataOwnerId"
	CacheKeyCurrentLang    = "currentLanguage"
	CacheKeyCategoryPrefix = "categories_" // + 言語コード
)
