// internal/cache/cache.go
package cache

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Cache はローカル永続キャッシュ（プロセス再起動をまたぐKV保存面）。
// 読み書きは失敗し得るため、呼び出し側は警告ログを出してメモリ上の状態で
// 続行すること（エラーを致命扱いにしない）。
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Entry はキャッシュの1エントリ。値はシリアライズ済みJSON文字列。
type Entry struct {
	Key       string `gorm:"primaryKey;column:cache_key"`
	Value     string `gorm:"not null"`
	UpdatedAt time.Time
}

func (Entry) TableName() string {
	return "cache_entries"
}

type gormCache struct {
	db *gorm.DB
}

func NewGormCache(db *gorm.DB) Cache {
	return &gormCache{db: db}
}

func (c *gormCache) Get(ctx context.Context, key string) (string, bool, error) {
	var entry Entry
	result := c.db.WithContext(ctx).First(&entry, "cache_key = ?", key)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, result.Error
	}
	return entry.Value, true, nil
}

func (c *gormCache) Set(ctx context.Context, key, value string) error {
	entry := Entry{Key: key, Value: value, UpdatedAt: time.Now()}
	// 主キー競合時は上書き（Save は主キーに基づく Upsert 相当）
	result := c.db.WithContext(ctx).Save(&entry)
	return result.Error
}
