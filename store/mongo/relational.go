package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/spacebot/kernel/store"
)

func (c *Client) SaveRecord(ctx context.Context, rec store.Record) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	doc := toMemoryDocument(rec)
	_, err := c.coll.UpdateOne(ctx,
		bson.M{"_id": rec.ID},
		bson.M{"$set": doc},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

func (c *Client) GetRecord(ctx context.Context, id string) (store.Record, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var doc memoryDocument
	if err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errorsIsNoDocuments(err) {
			return store.Record{}, store.ErrNotFound
		}
		return store.Record{}, err
	}
	return fromMemoryDocument(doc), nil
}

func (c *Client) MarkForgotten(ctx context.Context, id string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err := c.coll.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"forgotten": true}})
	return err
}

func (c *Client) SaveAssociation(ctx context.Context, assoc store.AssociationRecord) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	assocColl := c.mongo.Database(c.coll.Database().Name()).Collection("memory_associations")
	doc := associationDocument{
		ID:       assoc.ID,
		FromID:   assoc.FromID,
		ToID:     assoc.ToID,
		Relation: assoc.Relation,
		Weight:   assoc.Weight,
	}
	_, err := assocColl.UpdateOne(ctx,
		bson.M{"_id": assoc.ID},
		bson.M{"$set": doc},
		options.UpdateOne().SetUpsert(true),
	)
	return err
}

func (c *Client) Associations(ctx context.Context, memoryID string) ([]store.AssociationRecord, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	assocColl := c.mongo.Database(c.coll.Database().Name()).Collection("memory_associations")
	cur, err := assocColl.Find(ctx, bson.M{"$or": []bson.M{{"from_id": memoryID}, {"to_id": memoryID}}})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []store.AssociationRecord
	for cur.Next(ctx) {
		var doc associationDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, store.AssociationRecord{
			ID:       doc.ID,
			FromID:   doc.FromID,
			ToID:     doc.ToID,
			Relation: doc.Relation,
			Weight:   doc.Weight,
		})
	}
	return out, cur.Err()
}

func (c *Client) ListByChannel(ctx context.Context, channelID string, limit int) ([]store.Record, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := c.coll.Find(ctx, bson.M{"source_channel_id": channelID, "forgotten": bson.M{"$ne": true}}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []store.Record
	for cur.Next(ctx) {
		var doc memoryDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, fromMemoryDocument(doc))
	}
	return out, cur.Err()
}

func (c *Client) ListRecent(ctx context.Context, limit int) ([]store.Record, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := c.coll.Find(ctx, bson.M{"forgotten": bson.M{"$ne": true}}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []store.Record
	for cur.Next(ctx) {
		var doc memoryDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, fromMemoryDocument(doc))
	}
	return out, cur.Err()
}

func errorsIsNoDocuments(err error) bool {
	return err == mongodriver.ErrNoDocuments
}
