package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/spacebot/kernel/store"
)

// vectorIndexName is the name of the Atlas Search vector index expected to
// exist on the embedding field. Creating a $vectorSearch index itself is
// an out-of-band administrative operation, not something the driver API
// performs, so Upsert only maintains the embedding field and Query assumes
// the index already exists.
const vectorIndexName = "memory_embedding_vector_index"

func (c *Client) Upsert(ctx context.Context, id string, embedding []float32) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err := c.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"embedding": embedding}},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

func (c *Client) Delete(ctx context.Context, id string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err := c.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$unset": bson.M{"embedding": ""}})
	return err
}

func (c *Client) Query(ctx context.Context, embedding []float32, limit int) ([]store.ScoredID, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 10
	}
	pipeline := vectorSearchPipeline(vectorIndexName, embedding, limit)
	cur, err := c.coll.Aggregate(ctx, pipeline)
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

func vectorSearchPipeline(indexName string, embedding []float32, limit int) bson.A {
	return bson.A{
		bson.D{{Key: "$vectorSearch", Value: bson.M{
			"index":         indexName,
			"path":          "embedding",
			"queryVector":   embedding,
			"numCandidates": limit * 10,
			"limit":         limit,
		}}},
		bson.D{{Key: "$project", Value: bson.M{
			"_id":   1,
			"score": bson.M{"$meta": "vectorSearchScore"},
		}}},
	}
}
