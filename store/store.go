// Package store defines the persistence contracts used by the Memory
// Pipeline and process bookkeeping. Concrete adapters live in
// store/mongo, store/redis, store/sqlite, and store/memstore.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get-style methods when no record matches.
var ErrNotFound = errors.New("store: not found")

// Record is the relational shape of a single Memory row, kept provider
// agnostic so both the Mongo and in-memory (memstore) adapters can
// satisfy RelationalStore with the same struct.
type Record struct {
	ID              string
	Kind            string
	Content         string
	Importance      float64
	SourceChannelID string
	CreatedAt       time.Time
	LastAccessedAt  time.Time
	Forgotten       bool
	Meta            map[string]any
}

// AssociationRecord is the relational shape of one edge between two
// Memories.
type AssociationRecord struct {
	ID       string
	FromID   string
	ToID     string
	Relation string
	Weight   float64
}

// RelationalStore persists Memory records and their associations.
type RelationalStore interface {
	SaveRecord(ctx context.Context, rec Record) error
	GetRecord(ctx context.Context, id string) (Record, error)
	MarkForgotten(ctx context.Context, id string) error
	SaveAssociation(ctx context.Context, assoc AssociationRecord) error
	Associations(ctx context.Context, memoryID string) ([]AssociationRecord, error)
	ListByChannel(ctx context.Context, channelID string, limit int) ([]Record, error)
	// ListRecent returns the most recently created records across every
	// channel, most recent first, for callers recalling by Kind alone
	// with no query text to rank against.
	ListRecent(ctx context.Context, limit int) ([]Record, error)
}

// ScoredID is a single ranked hit from a vector or full-text search,
// shared by both index contracts so memory.fuse can operate on either's
// output uniformly.
type ScoredID struct {
	ID    string
	Score float64
}

// VectorStore indexes Memory embeddings for nearest-neighbor recall.
type VectorStore interface {
	Upsert(ctx context.Context, id string, embedding []float32) error
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, embedding []float32, limit int) ([]ScoredID, error)
}

// FullTextStore indexes Memory content for keyword recall.
type FullTextStore interface {
	Index(ctx context.Context, id, content string) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query string, limit int) ([]ScoredID, error)
}

// KVStore is a small durable key/value surface used for kernel settings
// and secrets.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Migration is one forward database change.
type Migration struct {
	Version     int64
	Description string
}

// Migrator applies pending Migrations to a store.
type Migrator interface {
	Up(ctx context.Context) error
	Status(ctx context.Context) ([]Migration, error)
}
