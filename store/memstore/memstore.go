// Package memstore implements store.RelationalStore, store.VectorStore,
// store.FullTextStore, and store.KVStore entirely in process memory. It
// backs the demo daemon's default configuration and every package test
// that needs a Memory Pipeline without a live Mongo/Redis deployment.
package memstore

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spacebot/kernel/store"
)

// Store satisfies store.RelationalStore, store.VectorStore, and
// store.FullTextStore — the three contracts the Memory Pipeline needs
// together, mirroring the single-collection-family shape store/mongo
// uses. KV (below) satisfies store.KVStore separately, since its Delete
// method would otherwise collide with VectorStore's.
type Store struct {
	mu      sync.RWMutex
	records map[string]store.Record
	assocs  map[string]store.AssociationRecord
	vectors map[string][]float32
	text    map[string]string
}

var (
	_ store.RelationalStore = (*Store)(nil)
	_ store.VectorStore     = (*Store)(nil)
	_ store.FullTextStore   = (*Store)(nil)
)

func New() *Store {
	return &Store{
		records: make(map[string]store.Record),
		assocs:  make(map[string]store.AssociationRecord),
		vectors: make(map[string][]float32),
		text:    make(map[string]string),
	}
}

// RelationalStore

func (s *Store) SaveRecord(_ context.Context, rec store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec
	return nil
}

func (s *Store) GetRecord(_ context.Context, id string) (store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	return rec, nil
}

func (s *Store) MarkForgotten(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return store.ErrNotFound
	}
	rec.Forgotten = true
	s.records[id] = rec
	return nil
}

func (s *Store) SaveAssociation(_ context.Context, assoc store.AssociationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assocs[assoc.ID] = assoc
	return nil
}

func (s *Store) Associations(_ context.Context, memoryID string) ([]store.AssociationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.AssociationRecord
	for _, a := range s.assocs {
		if a.FromID == memoryID || a.ToID == memoryID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) ListByChannel(_ context.Context, channelID string, limit int) ([]store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Record
	for _, r := range s.records {
		if r.SourceChannelID == channelID && !r.Forgotten {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListRecent(_ context.Context, limit int) ([]store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Record
	for _, r := range s.records {
		if !r.Forgotten {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// VectorStore

func (s *Store) Upsert(_ context.Context, id string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]float32, len(embedding))
	copy(cp, embedding)
	s.vectors[id] = cp
	return nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vectors, id)
	delete(s.text, id)
	return nil
}

func (s *Store) Query(_ context.Context, embedding []float32, limit int) ([]store.ScoredID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		id    string
		score float64
	}
	var all []scored
	for id, v := range s.vectors {
		all = append(all, scored{id: id, score: cosineSimilarity(embedding, v)})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]store.ScoredID, len(all))
	for i, a := range all {
		out[i] = store.ScoredID{ID: a.id, Score: a.score}
	}
	return out, nil
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// FullTextStore

func (s *Store) Index(_ context.Context, id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.text[id] = content
	return nil
}

func (s *Store) Search(_ context.Context, query string, limit int) ([]store.ScoredID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))
	type scored struct {
		id    string
		score float64
	}
	var all []scored
	for id, content := range s.text {
		lc := strings.ToLower(content)
		var hits float64
		for _, t := range terms {
			hits += float64(strings.Count(lc, t))
		}
		if hits > 0 {
			all = append(all, scored{id: id, score: hits})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].score > all[j].score })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	out := make([]store.ScoredID, len(all))
	for i, a := range all {
		out[i] = store.ScoredID{ID: a.id, Score: a.score}
	}
	return out, nil
}

// KV is a standalone in-memory store.KVStore implementation.
type KV struct {
	mu  sync.RWMutex
	kv  map[string]kvEntry
}

type kvEntry struct {
	value   []byte
	expires time.Time
}

var _ store.KVStore = (*KV)(nil)

func NewKV() *KV {
	return &KV{kv: make(map[string]kvEntry)}
}

func (s *KV) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.kv[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		return nil, store.ErrNotFound
	}
	return e.value, nil
}

func (s *KV) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	s.kv[key] = kvEntry{value: cp, expires: expires}
	return nil
}

func (s *KV) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, key)
	return nil
}
