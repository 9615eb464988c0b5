// internal/gateway/memstore/memstore.go
//
// gateway インターフェースのインメモリ実装。
// テストとオフライン／開発実行用で、購読のファンアウトと
// 作成順リスト（新しい順）を含めて本物のストアの挙動を模倣する。
package memstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go_5_vocab_sync/internal/gateway"

	"github.com/google/uuid"
)

type Store struct {
	mu          sync.Mutex
	collections map[string]*collectionState
	docs        map[string]map[string]json.RawMessage

	// テスト用: 非nilなら全リモート呼び出しがこのエラーで失敗する
	failErr error
}

func New() *Store {
	return &Store{
		collections: make(map[string]*collectionState),
		docs:        make(map[string]map[string]json.RawMessage),
	}
}

// SetFailure は以降の呼び出しを err で失敗させます（nilで解除）
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

func (s *Store) Collection(ownerID, lang, name string) gateway.Collection {
	path := gateway.CollectionPath(ownerID, lang, name)
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.collections[path]
	if !ok {
		col = &collectionState{store: s, subs: make(map[int]*subscription)}
		s.collections[path] = col
	}
	return col
}

func (s *Store) ProgressDoc(ownerID string) gateway.Document {
	return &document{store: s, path: gateway.ProgressDocPath(ownerID)}
}

func (s *Store) CategoryDoc(ownerID, lang string) gateway.Document {
	return &document{store: s, path: gateway.CategoryDocPath(ownerID, lang)}
}

// --- Collection ---

type memDoc struct {
	id        string
	fields    map[string]any
	createdAt time.Time
}

type subscription struct {
	mu       sync.Mutex
	closed   bool
	cb       func([]gateway.Doc)
	pending  [][]gateway.Doc
	draining bool
}

// enqueue はスナップショットを FIFO で配信キューへ積みます。
// 同一購読者への配信順を保証するため、goroutine を配信毎に起こすのではなく
// 1本のドレインループで順に届ける（onSnapshot 互換：古いスナップショットが
// 新しいものを上書きしない）。
func (sub *subscription) enqueue(docs []gateway.Doc) {
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.pending = append(sub.pending, docs)
	if sub.draining {
		sub.mu.Unlock()
		return
	}
	sub.draining = true
	sub.mu.Unlock()
	go sub.drain()
}

// drain は closed チェックとコールバック呼び出しを同一ロック内で行う。
// cancel 側が同じロックを取るため、cancel が戻った後に cb が走ることはない。
func (sub *subscription) drain() {
	for {
		sub.mu.Lock()
		if sub.closed || len(sub.pending) == 0 {
			sub.draining = false
			sub.mu.Unlock()
			return
		}
		docs := sub.pending[0]
		sub.pending = sub.pending[1:]
		sub.cb(docs)
		sub.mu.Unlock()
	}
}

type collectionState struct {
	store     *Store
	docs      []*memDoc
	nextSubID int
	subs      map[int]*subscription
}

func (c *collectionState) Add(ctx context.Context, fields map[string]any) (string, error) {
	c.store.mu.Lock()
	if err := c.store.failErr; err != nil {
		c.store.mu.Unlock()
		return "", err
	}
	id := uuid.NewString()
	now := time.Now()
	copied := copyFields(fields)
	if _, ok := copied["createdAt"]; !ok {
		copied["createdAt"] = now.UTC().Format(time.RFC3339)
	}
	if _, ok := copied["updatedAt"]; !ok {
		copied["updatedAt"] = now.UTC().Format(time.RFC3339)
	}
	c.docs = append(c.docs, &memDoc{id: id, fields: copied, createdAt: now})
	snapshot := c.snapshotLocked()
	subs := c.subsLocked()
	c.store.mu.Unlock()

	notify(subs, snapshot)
	return id, nil
}

func (c *collectionState) Set(ctx context.Context, id string, fields map[string]any, merge bool) error {
	c.store.mu.Lock()
	if err := c.store.failErr; err != nil {
		c.store.mu.Unlock()
		return err
	}
	var target *memDoc
	for _, d := range c.docs {
		if d.id == id {
			target = d
			break
		}
	}
	if target == nil {
		// 旧実装の setDoc 同様、存在しないIDへの書き込みは新規作成になる
		target = &memDoc{id: id, fields: map[string]any{}, createdAt: time.Now()}
		c.docs = append(c.docs, target)
	}
	if !merge {
		target.fields = map[string]any{}
	}
	for k, v := range copyFields(fields) {
		target.fields[k] = v
	}
	target.fields["updatedAt"] = time.Now().UTC().Format(time.RFC3339)
	snapshot := c.snapshotLocked()
	subs := c.subsLocked()
	c.store.mu.Unlock()

	notify(subs, snapshot)
	return nil
}

func (c *collectionState) Delete(ctx context.Context, id string) error {
	c.store.mu.Lock()
	if err := c.store.failErr; err != nil {
		c.store.mu.Unlock()
		return err
	}
	for i, d := range c.docs {
		if d.id == id {
			c.docs = append(c.docs[:i], c.docs[i+1:]...)
			break
		}
	}
	snapshot := c.snapshotLocked()
	subs := c.subsLocked()
	c.store.mu.Unlock()

	notify(subs, snapshot)
	return nil
}

func (c *collectionState) ListOrderedByCreation(ctx context.Context) ([]gateway.Doc, error) {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	if err := c.store.failErr; err != nil {
		return nil, err
	}
	return c.snapshotLocked(), nil
}

func (c *collectionState) Subscribe(cb func(docs []gateway.Doc)) func() {
	c.store.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	sub := &subscription{cb: cb}
	c.subs[id] = sub
	snapshot := c.snapshotLocked()
	c.store.mu.Unlock()

	// 購読直後に現在のスナップショットを1回配信する（onSnapshot 互換）
	sub.enqueue(snapshot)

	return func() {
		c.store.mu.Lock()
		delete(c.subs, id)
		c.store.mu.Unlock()
		sub.mu.Lock()
		sub.closed = true
		sub.mu.Unlock()
	}
}

// snapshotLocked は作成の新しい順でドキュメント一覧を返します
func (c *collectionState) snapshotLocked() []gateway.Doc {
	out := make([]gateway.Doc, 0, len(c.docs))
	for i := len(c.docs) - 1; i >= 0; i-- {
		d := c.docs[i]
		out = append(out, gateway.Doc{
			ID:     d.id,
			Fields: gateway.NormalizeDocTimestamps(d.fields),
		})
	}
	return out
}

func (c *collectionState) subsLocked() []*subscription {
	out := make([]*subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		out = append(out, sub)
	}
	return out
}

func notify(subs []*subscription, docs []gateway.Doc) {
	for _, sub := range subs {
		sub.enqueue(docs)
	}
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// --- Document ---

type document struct {
	store *Store
	path  string
}

func (d *document) Get(ctx context.Context) (map[string]json.RawMessage, bool, error) {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	if err := d.store.failErr; err != nil {
		return nil, false, err
	}
	fields, ok := d.store.docs[d.path]
	if !ok {
		return nil, false, nil
	}
	out := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out, true, nil
}

func (d *document) Set(ctx context.Context, fields map[string]json.RawMessage, merge bool) error {
	d.store.mu.Lock()
	defer d.store.mu.Unlock()
	if err := d.store.failErr; err != nil {
		return err
	}
	cur, ok := d.store.docs[d.path]
	if !ok || !merge {
		cur = make(map[string]json.RawMessage, len(fields))
		d.store.docs[d.path] = cur
	}
	for k, v := range fields {
		cur[k] = v
	}
	return nil
}
