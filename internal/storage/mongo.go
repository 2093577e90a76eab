package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"greplay/internal/constants"
	"greplay/internal/logger"
	"greplay/pkg/health"
	"greplay/pkg/models"
	"greplay/pkg/retry"
)

const (
	mongoCodeNamespaceExists = 48
	metaKind                 = "kind"

	// bucketRecheck bounds how long a bucket is trusted to still carry its
	// TTL index. Another process may drop it with teardown or setup --force.
	bucketRecheck = time.Minute
)

// MongoBackend stores messages either in hourly buckets that expire through a
// TTL index (rolling) or in one collection swept by Clean (fixed).
type MongoBackend struct {
	conn      ConnectionConfig
	client    *mongo.Client
	db        *mongo.Database
	rolling   bool
	retention int
	call      caller
	logger    logger.Logger
	now       func() time.Time

	known bucketCache
}

// bucketCache remembers the current bucket once its collection and indexes
// are in place. A new hour or an expired check sends Save back through
// ensureCollection.
type bucketCache struct {
	mu       sync.Mutex
	name     string
	verified time.Time
}

func (c *bucketCache) fresh(name string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name == name && now.Sub(c.verified) < bucketRecheck
}

func (c *bucketCache) mark(name string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = name
	c.verified = now
}

func (c *bucketCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = ""
	c.verified = time.Time{}
}

func NewMongoBackend(ctx context.Context, conn ConnectionConfig, opts Options) (*MongoBackend, error) {
	clientOpts := options.Client().
		ApplyURI(conn.MongoURI()).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})
	if opts.Timeout > 0 {
		clientOpts.SetTimeout(opts.Timeout)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	b := newMongoBackend(conn, client, opts)
	if err := b.call.do(ctx, "ping", func(ctx context.Context) error {
		return client.Ping(ctx, nil)
	}); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	b.logger.Infow("MongoDB backend connected",
		"url", conn.Redacted(),
		"index_mode", opts.IndexMode,
	)
	return b, nil
}

func newMongoBackend(conn ConnectionConfig, client *mongo.Client, opts Options) *MongoBackend {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = logger.NopLogger()
	}
	return &MongoBackend{
		conn:      conn,
		client:    client,
		db:        client.Database(conn.Database),
		rolling:   opts.IndexMode != constants.IndexModeFixed,
		retention: opts.RetentionHours,
		call: caller{
			backend:    "mongodb",
			timeout:    opts.Timeout,
			maxRetries: opts.MaxRetries,
			classify:   classifyMongoError,
		},
		logger: log.Component("storage"),
		now:    now,
	}
}

// classifyMongoError retries network and selection failures and marks server
// replies as final unless the server labels them retryable.
func classifyMongoError(err error) error {
	if errors.Is(err, context.Canceled) {
		return retry.NewFatalError(err)
	}
	var se mongo.ServerError
	if errors.As(err, &se) {
		if se.HasErrorLabel("RetryableWriteError") || se.HasErrorLabel("TransientTransactionError") {
			return err
		}
		return retry.NewFatalError(err)
	}
	return err
}

func (b *MongoBackend) Name() string {
	return "mongodb"
}

func (b *MongoBackend) meta() *mongo.Collection {
	return b.db.Collection(b.conn.MetaName())
}

func (b *MongoBackend) Exists(ctx context.Context) (bool, error) {
	var n int64
	err := b.call.do(ctx, "exists", func(ctx context.Context) error {
		var err error
		n, err = b.meta().CountDocuments(ctx, bson.M{"_id": b.conn.TemplateName()})
		return err
	})
	return n > 0, err
}

func (b *MongoBackend) Setup(ctx context.Context, force bool) (SetupStatus, error) {
	exists, err := b.Exists(ctx)
	if err != nil {
		return SetupCreated, err
	}
	if exists && !force {
		return SetupAlreadyExists, nil
	}

	status := SetupCreated
	if force {
		if err := b.Teardown(ctx); err != nil {
			return status, err
		}
		if exists {
			status = SetupRecreated
		}
	}

	b.logger.Debugw("Creating retention policy", "name", b.conn.PolicyName())
	if err := b.putMeta(ctx, b.conn.PolicyName(), bson.M{
		metaKind:          "policy",
		"retention_hours": b.retention,
		"index_mode":      b.indexMode(),
	}); err != nil {
		return status, err
	}

	b.logger.Debugw("Creating mappings", "name", b.conn.MappingsName())
	if err := b.putMeta(ctx, b.conn.MappingsName(), bson.M{
		metaKind:    "mappings",
		"validator": messageValidator(),
		"indexes":   indexNames(b.messageIndexes()),
	}); err != nil {
		return status, err
	}

	if !b.rolling {
		if err := b.ensureCollection(ctx, b.conn.Basename); err != nil {
			return status, err
		}
	}

	b.logger.Debugw("Creating template", "name", b.conn.TemplateName())
	if err := b.putMeta(ctx, b.conn.TemplateName(), bson.M{
		metaKind:      "template",
		"pattern":     b.conn.TemplateName() + "*",
		"composed_of": b.conn.MappingsName(),
		"policy":      b.conn.PolicyName(),
	}); err != nil {
		return status, err
	}

	return status, nil
}

func (b *MongoBackend) indexMode() string {
	if b.rolling {
		return constants.IndexModeRolling
	}
	return constants.IndexModeFixed
}

func (b *MongoBackend) putMeta(ctx context.Context, id string, doc bson.M) error {
	doc["_id"] = id
	doc["updated_at"] = b.now().UTC()
	return b.call.do(ctx, "setup", func(ctx context.Context) error {
		_, err := b.meta().ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
		return err
	})
}

func (b *MongoBackend) Teardown(ctx context.Context) error {
	names, err := b.dataCollections(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		b.logger.Debugw("Dropping collection", "name", name)
		if err := b.call.do(ctx, "teardown", func(ctx context.Context) error {
			return b.db.Collection(name).Drop(ctx)
		}); err != nil {
			return err
		}
	}
	b.known.reset()

	for _, id := range []string{b.conn.TemplateName(), b.conn.MappingsName(), b.conn.PolicyName()} {
		if err := b.call.do(ctx, "teardown", func(ctx context.Context) error {
			_, err := b.meta().DeleteOne(ctx, bson.M{"_id": id})
			return err
		}); err != nil {
			return err
		}
	}

	return b.call.do(ctx, "teardown", func(ctx context.Context) error {
		return b.meta().Drop(ctx)
	})
}

// dataCollections lists the fixed collection or every rolling bucket, oldest first.
func (b *MongoBackend) dataCollections(ctx context.Context) ([]string, error) {
	var filter bson.M
	if b.rolling {
		filter = bson.M{"name": bson.M{"$regex": "^" + regexp.QuoteMeta(b.conn.TemplateName())}}
	} else {
		filter = bson.M{"name": b.conn.Basename}
	}

	var names []string
	err := b.call.do(ctx, "list_collections", func(ctx context.Context) error {
		var err error
		names, err = b.db.ListCollectionNames(ctx, filter)
		return err
	})
	sort.Strings(names)
	return names, err
}

func (b *MongoBackend) ensureCollection(ctx context.Context, name string) error {
	now := b.now()
	if b.known.fresh(name, now) {
		return nil
	}

	err := b.call.do(ctx, "create_collection", func(ctx context.Context) error {
		err := b.db.CreateCollection(ctx, name, options.CreateCollection().SetValidator(messageValidator()))
		var se mongo.ServerError
		if errors.As(err, &se) && se.HasErrorCode(mongoCodeNamespaceExists) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}

	err = b.call.do(ctx, "create_indexes", func(ctx context.Context) error {
		_, err := b.db.Collection(name).Indexes().CreateMany(ctx, b.messageIndexes())
		if err != nil && strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}

	b.known.mark(name, now)
	return nil
}

func (b *MongoBackend) Save(ctx context.Context, msg *models.NotificationMessage) error {
	now := b.now()
	sd, err := newStoredDocument(msg, now)
	if err != nil {
		return err
	}

	name := b.conn.Basename
	if b.rolling {
		name = b.conn.BucketName(now)
	}
	if err := b.ensureCollection(ctx, name); err != nil {
		return err
	}

	doc := mongoDocument(sd)
	b.logger.Debugw("Saving message", "id", sd.ID, "collection", name)
	return b.call.do(ctx, "save", func(ctx context.Context) error {
		_, err := b.db.Collection(name).ReplaceOne(ctx, bson.M{FieldID: sd.ID}, doc, options.Replace().SetUpsert(true))
		return err
	})
}

func mongoDocument(sd *storedDocument) bson.M {
	doc := bson.M{}
	for k, v := range sd.Body {
		doc[k] = v
	}
	// null geometry would trip the 2dsphere index
	if doc["geometry"] == nil {
		delete(doc, "geometry")
	}
	doc[FieldID] = sd.ID
	doc[FieldPubTime] = sd.PubTime
	doc[FieldIndexedAt] = sd.IndexedAt
	return doc
}

func (b *MongoBackend) RecordExists(ctx context.Context, id string) (bool, error) {
	names, err := b.dataCollections(ctx)
	if err != nil {
		return false, err
	}

	// newest bucket first
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		var found bool
		err := b.call.do(ctx, "record_exists", func(ctx context.Context) error {
			err := b.db.Collection(name).FindOne(ctx, bson.M{FieldID: id},
				options.FindOne().SetProjection(bson.M{FieldID: 1})).Err()
			if errors.Is(err, mongo.ErrNoDocuments) {
				return nil
			}
			found = err == nil
			return err
		})
		if err != nil {
			return false, err
		}
		if found {
			return true, nil
		}
	}
	return false, nil
}

// Clean is a no-op in rolling mode: buckets expire through their TTL index.
func (b *MongoBackend) Clean(ctx context.Context, maxAgeHours int) (int64, error) {
	if b.rolling {
		b.logger.Debugw("Rolling buckets expire through their TTL index; nothing to clean")
		return 0, nil
	}

	cutoff := retentionCutoff(b.now(), maxAgeHours)
	var deleted int64
	err := b.call.do(ctx, "clean", func(ctx context.Context) error {
		res, err := b.db.Collection(b.conn.Basename).DeleteMany(ctx, bson.M{FieldPubTime: bson.M{"$lte": cutoff}})
		if err != nil {
			return err
		}
		deleted = res.DeletedCount
		return nil
	})
	return deleted, err
}

func (b *MongoBackend) Query(ctx context.Context, q FeatureQuery) (*FeaturePage, error) {
	names, err := b.dataCollections(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return &FeaturePage{Features: []json.RawMessage{}}, nil
	}

	match := featureFilter(q)
	pipeline := mongo.Pipeline{{{Key: "$match", Value: match}}}
	for _, name := range names[1:] {
		pipeline = append(pipeline, bson.D{{Key: "$unionWith", Value: bson.M{
			"coll":     name,
			"pipeline": bson.A{bson.M{"$match": match}},
		}}})
	}
	pipeline = append(pipeline,
		bson.D{{Key: "$sort", Value: bson.D{{Key: FieldPubTime, Value: 1}, {Key: FieldID, Value: 1}}}},
		bson.D{{Key: "$skip", Value: int64(q.Offset)}},
		bson.D{{Key: "$limit", Value: int64(fetchLimit(q.Limit))}},
	)

	var docs []bson.M
	err = b.call.do(ctx, "query", func(ctx context.Context) error {
		cursor, err := b.db.Collection(names[0]).Aggregate(ctx, pipeline)
		if err != nil {
			return err
		}
		docs = nil
		return cursor.All(ctx, &docs)
	})
	if err != nil {
		return nil, err
	}

	features := make([]json.RawMessage, 0, len(docs))
	for _, doc := range docs {
		stripInternal(doc)
		if _, ok := doc["geometry"]; !ok {
			doc["geometry"] = nil
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encode feature: %w", err)
		}
		features = append(features, raw)
	}

	page := &FeaturePage{}
	page.Features, page.HasMore = trimPage(features, q.Limit)
	return page, nil
}

func featureFilter(q FeatureQuery) bson.M {
	filter := bson.M{}
	pubtime := bson.M{}
	if !q.TimeRange.Start.IsZero() {
		pubtime["$gte"] = q.TimeRange.Start
	}
	if !q.TimeRange.End.IsZero() {
		pubtime["$lte"] = q.TimeRange.End
	}
	if len(pubtime) > 0 {
		filter[FieldPubTime] = pubtime
	}
	if q.TopicPattern != "" {
		filter["properties."+models.PropertyTopic] = bson.M{"$regex": TopicRegex(q.TopicPattern)}
	}
	return filter
}

func (b *MongoBackend) HealthChecker() health.Checker {
	return health.NewMongoDBChecker(b.client)
}

func (b *MongoBackend) Close(ctx context.Context) error {
	return b.client.Disconnect(ctx)
}

func messageValidator() bson.M {
	return bson.M{"$jsonSchema": bson.M{
		"bsonType": "object",
		"required": bson.A{FieldID, "id", "properties", FieldPubTime, FieldIndexedAt},
		"properties": bson.M{
			"id":           bson.M{"bsonType": "string"},
			"properties":   bson.M{"bsonType": "object"},
			"links":        bson.M{"bsonType": "array"},
			"geometry":     bson.M{"bsonType": "object"},
			FieldPubTime:   bson.M{"bsonType": "date"},
			FieldIndexedAt: bson.M{"bsonType": "date"},
		},
	}}
}

func (b *MongoBackend) messageIndexes() []mongo.IndexModel {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: FieldPubTime, Value: 1}, {Key: FieldID, Value: 1}},
			Options: options.Index().SetName("idx_pubtime_id"),
		},
		{
			Keys:    bson.D{{Key: "properties." + models.PropertyTopic, Value: 1}},
			Options: options.Index().SetName("idx_topic"),
		},
		{
			Keys:    bson.D{{Key: "properties." + models.PropertyDataID, Value: 1}},
			Options: options.Index().SetName("idx_data_id"),
		},
		{
			Keys:    bson.D{{Key: "geometry", Value: "2dsphere"}},
			Options: options.Index().SetName("idx_geometry"),
		},
	}
	if b.rolling && b.retention > 0 {
		indexes = append(indexes, mongo.IndexModel{
			Keys: bson.D{{Key: FieldIndexedAt, Value: 1}},
			Options: options.Index().
				SetName("idx_indexed_at_ttl").
				SetExpireAfterSeconds(int32(b.retention * 3600)),
		})
	}
	return indexes
}

func indexNames(idx []mongo.IndexModel) []string {
	names := make([]string, 0, len(idx))
	for _, m := range idx {
		if m.Options != nil && m.Options.Name != nil {
			names = append(names, *m.Options.Name)
		}
	}
	return names
}
