// internal/testutil/fake_cache.go
package testutil

import (
	"context"
	"sync"
)

// FakeCache はマップ実装のキャッシュ。エラー注入フィールド付き。
type FakeCache struct {
	mu     sync.Mutex
	Data   map[string]string
	GetErr error
	SetErr error
}

func NewFakeCache() *FakeCache {
	return &FakeCache{Data: make(map[string]string)}
}

func (c *FakeCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.GetErr != nil {
		return "", false, c.GetErr
	}
	v, ok := c.Data[key]
	return v, ok, nil
}

func (c *FakeCache) Set(_ context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SetErr != nil {
		return c.SetErr
	}
	c.Data[key] = value
	return nil
}
