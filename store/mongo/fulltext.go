package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/spacebot/kernel/store"
)

// Index is a no-op beyond SaveRecord: the $text index created in
// ensureIndexes covers the content field of every document already
// written through SaveRecord, so there is nothing extra to persist here.
// It exists to satisfy store.FullTextStore explicitly rather than relying
// on callers knowing that detail.
func (c *Client) Index(context.Context, string, string) error { return nil }

func (c *Client) Search(ctx context.Context, query string, limit int) ([]store.ScoredID, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 10
	}
	filter := bson.M{"$text": bson.M{"$search": query}}
	opts := options.Find().
		SetProjection(bson.M{"score": bson.M{"$meta": "textScore"}}).
		SetSort(bson.M{"score": bson.M{"$meta": "textScore"}}).
		SetLimit(int64(limit))

	cur, err := c.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []store.ScoredID
	for cur.Next(ctx) {
		var doc struct {
			ID    string  `bson:"_id"`
			Score float64 `bson:"score"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, store.ScoredID{ID: doc.ID, Score: doc.Score})
	}
	return out, cur.Err()
}
