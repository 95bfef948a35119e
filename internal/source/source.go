// Package source reads pages of documents from the operational database.
package source

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"mongobq/internal/value"
)

// Source is a paginated read over one collection. Find returns documents in
// the collection's natural order, which is not stable across calls.
type Source interface {
	Count(ctx context.Context) (int64, error)
	Find(ctx context.Context, skip, limit int64) ([]*value.Map, error)
	Name() string
}

type MongoOptions struct {
	URI            string
	Database       string
	Collection     string
	ExactCount     bool
	ConnectTimeout time.Duration
}

type MongoSource struct {
	client     *mongo.Client
	collection *mongo.Collection
	opts       MongoOptions
}

// ConnectMongo dials the server and pings the primary so that an unreachable
// database fails here rather than on the first page.
func ConnectMongo(ctx context.Context, opts MongoOptions) (*MongoSource, error) {
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &MongoSource{
		client:     client,
		collection: client.Database(opts.Database).Collection(opts.Collection),
		opts:       opts,
	}, nil
}

func (s *MongoSource) Name() string {
	return s.opts.Database + "." + s.opts.Collection
}

// Count uses the collection metadata unless an exact count was requested.
func (s *MongoSource) Count(ctx context.Context) (int64, error) {
	var (
		n   int64
		err error
	)
	if s.opts.ExactCount {
		n, err = s.collection.CountDocuments(ctx, bson.D{})
	} else {
		n, err = s.collection.EstimatedDocumentCount(ctx)
	}
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", s.Name(), err)
	}
	return n, nil
}

func (s *MongoSource) Find(ctx context.Context, skip, limit int64) ([]*value.Map, error) {
	opts := options.Find().SetSkip(skip).SetLimit(limit)
	cur, err := s.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("find %s skip=%d: %w", s.Name(), skip, err)
	}
	defer cur.Close(ctx)

	out := make([]*value.Map, 0, limit)
	for cur.Next(ctx) {
		var doc bson.D
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		out = append(out, value.FromDocument(doc))
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", s.Name(), err)
	}
	return out, nil
}

func (s *MongoSource) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
