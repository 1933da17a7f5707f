// Package mongo implements store.RelationalStore, store.VectorStore, and
// store.FullTextStore against a single MongoDB collection family: Memory
// records, their vector embeddings ($vectorSearch-shaped), and their
// full-text index ($text-shaped) all live on the same documents, so one
// client backs all three store contracts.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"github.com/spacebot/kernel/store"
)

const (
	defaultCollection = "memories"
	defaultTimeout    = 5 * time.Second
	clientName        = "memory-mongo"
)

// Options configures the Mongo-backed store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Client satisfies store.RelationalStore, store.VectorStore, and
// store.FullTextStore against one Mongo collection.
type Client struct {
	mongo   *mongodriver.Client
	coll    *mongodriver.Collection
	timeout time.Duration
}

var _ health.Pinger = (*Client)(nil)
var _ store.RelationalStore = (*Client)(nil)
var _ store.VectorStore = (*Client)(nil)
var _ store.FullTextStore = (*Client)(nil)

// New returns a Client backed by the provided Mongo driver client,
// creating the indexes the recall path needs if they do not yet exist.
func New(opts Options) (*Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongo: database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	coll := opts.Client.Database(opts.Database).Collection(collName)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, coll); err != nil {
		return nil, err
	}

	return &Client{mongo: opts.Client, coll: coll, timeout: timeout}, nil
}

func (c *Client) Name() string { return clientName }

func (c *Client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func ensureIndexes(ctx context.Context, coll *mongodriver.Collection) error {
	models := []mongodriver.IndexModel{
		{Keys: bson.D{{Key: "source_channel_id", Value: 1}}},
		{Keys: bson.D{{Key: "content", Value: "text"}}},
	}
	_, err := coll.Indexes().CreateMany(ctx, models)
	return err
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

type memoryDocument struct {
	ID              string         `bson:"_id"`
	Kind            string         `bson:"kind"`
	Content         string         `bson:"content"`
	Importance      float64        `bson:"importance"`
	SourceChannelID string         `bson:"source_channel_id"`
	CreatedAt       time.Time      `bson:"created_at"`
	LastAccessedAt  time.Time      `bson:"last_accessed_at"`
	Forgotten       bool           `bson:"forgotten"`
	Meta            map[string]any `bson:"meta,omitempty"`
	Embedding       []float32      `bson:"embedding,omitempty"`
}

type associationDocument struct {
	ID       string  `bson:"_id"`
	FromID   string  `bson:"from_id"`
	ToID     string  `bson:"to_id"`
	Relation string  `bson:"relation"`
	Weight   float64 `bson:"weight"`
}

func toMemoryDocument(rec store.Record) memoryDocument {
	return memoryDocument{
		ID:              rec.ID,
		Kind:            rec.Kind,
		Content:         rec.Content,
		Importance:      rec.Importance,
		SourceChannelID: rec.SourceChannelID,
		CreatedAt:       rec.CreatedAt,
		LastAccessedAt:  rec.LastAccessedAt,
		Forgotten:       rec.Forgotten,
		Meta:            rec.Meta,
	}
}

func fromMemoryDocument(doc memoryDocument) store.Record {
	return store.Record{
		ID:              doc.ID,
		Kind:            doc.Kind,
		Content:         doc.Content,
		Importance:      doc.Importance,
		SourceChannelID: doc.SourceChannelID,
		CreatedAt:       doc.CreatedAt,
		LastAccessedAt:  doc.LastAccessedAt,
		Forgotten:       doc.Forgotten,
		Meta:            doc.Meta,
	}
}
