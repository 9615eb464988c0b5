// internal/testutil/mocks.go
//
// テスト用のモック集。testify/mock ベースで、キャッシュとリモートゲートウェイの
// 失敗系（オフライン・ストレージ不調）を注入するために使う。
// 正常系の統合的な動きは gateway/memstore の実装を直接使うほうが楽。
package testutil

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"go_5_vocab_sync/internal/gateway"
)

// MockCache は cache.Cache のモック
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string) (string, bool, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockCache) Set(ctx context.Context, key, value string) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

// MockDocument は gateway.Document のモック
type MockDocument struct {
	mock.Mock
}

func (m *MockDocument) Get(ctx context.Context) (map[string]json.RawMessage, bool, error) {
	args := m.Called(ctx)
	var fields map[string]json.RawMessage
	if v := args.Get(0); v != nil {
		fields = v.(map[string]json.RawMessage)
	}
	return fields, args.Bool(1), args.Error(2)
}

func (m *MockDocument) Set(ctx context.Context, fields map[string]json.RawMessage, merge bool) error {
	args := m.Called(ctx, fields, merge)
	return args.Error(0)
}

// MockCollection は gateway.Collection のモック
type MockCollection struct {
	mock.Mock
}

func (m *MockCollection) Add(ctx context.Context, fields map[string]any) (string, error) {
	args := m.Called(ctx, fields)
	return args.String(0), args.Error(1)
}

func (m *MockCollection) Set(ctx context.Context, id string, fields map[string]any, merge bool) error {
	args := m.Called(ctx, id, fields, merge)
	return args.Error(0)
}

func (m *MockCollection) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockCollection) ListOrderedByCreation(ctx context.Context) ([]gateway.Doc, error) {
	args := m.Called(ctx)
	var docs []gateway.Doc
	if v := args.Get(0); v != nil {
		docs = v.([]gateway.Doc)
	}
	return docs, args.Error(1)
}

func (m *MockCollection) Subscribe(cb func(docs []gateway.Doc)) func() {
	args := m.Called(cb)
	if v := args.Get(0); v != nil {
		return v.(func())
	}
	return func() {}
}

// MockStore は gateway.Store のモック
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Collection(ownerID, lang, name string) gateway.Collection {
	args := m.Called(ownerID, lang, name)
	return args.Get(0).(gateway.Collection)
}

func (m *MockStore) ProgressDoc(ownerID string) gateway.Document {
	args := m.Called(ownerID)
	return args.Get(0).(gateway.Document)
}

func (m *MockStore) CategoryDoc(ownerID, lang string) gateway.Document {
	args := m.Called(ownerID, lang)
	return args.Get(0).(gateway.Document)
}
