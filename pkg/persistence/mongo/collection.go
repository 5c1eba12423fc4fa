package mongo

import (
	"context"
	"time"

	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection wraps *mongo.Collection and applies a timeout to operations that
// complete in a single round trip. Cursor-returning calls use the caller's ctx
// as is, since cancelling it would close the cursor.
type Collection struct {
	coll    *mongodriver.Collection
	timeout time.Duration
}

func (c *Collection) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.coll.Name()
}

func (c *Collection) InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongodriver.InsertOneResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.coll.InsertOne(ctx, document, opts...)
}

func (c *Collection) InsertMany(ctx context.Context, documents any, opts ...options.Lister[options.InsertManyOptions]) (*mongodriver.InsertManyResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.coll.InsertMany(ctx, documents, opts...)
}

func (c *Collection) UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

// FindOneAndUpdate decodes the result into out. It returns mongo.ErrNoDocuments
// when nothing matched.
func (c *Collection) FindOneAndUpdate(ctx context.Context, filter, update, out any, opts ...options.Lister[options.FindOneAndUpdateOptions]) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.coll.FindOneAndUpdate(ctx, filter, update, opts...).Decode(out)
}

// FindOne decodes the first match into out. It returns mongo.ErrNoDocuments
// when nothing matched.
func (c *Collection) FindOne(ctx context.Context, filter, out any, opts ...options.Lister[options.FindOneOptions]) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.coll.FindOne(ctx, filter, opts...).Decode(out)
}

// FindAll decodes every match into out, which must be a pointer to a slice.
func (c *Collection) FindAll(ctx context.Context, filter, out any, opts ...options.Lister[options.FindOptions]) error {
	cursor, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return err
	}
	return cursor.All(ctx, out)
}

func (c *Collection) CountDocuments(ctx context.Context, filter any) (int64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.coll.CountDocuments(ctx, filter)
}

// EnsureIndexes creates the given indexes. Existing indexes with the same
// definition are left untouched by the server.
func (c *Collection) EnsureIndexes(ctx context.Context, models []mongodriver.IndexModel) error {
	_, err := c.coll.Indexes().CreateMany(ctx, models)
	return err
}
