package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"goa.design/clue/health"
)

// mongoStoreIsPinger mirrors redis.go's compile-time assertion: MongoStore
// satisfies health.Pinger the same way RedisStore does, so a health
// checker wired over both stores sees one consistent interface.
var _ health.Pinger = (*MongoStore)(nil)

// entryDocument is the MongoDB document representation of a cache Entry,
// keyed by the composite (namespace, fingerprint) pair the same way
// DiskStore's directory tree and RedisStore's key both are. Grounded in
// the teacher's registry/store/mongo/mongo.go: a "_id" document key plus
// ReplaceOne-with-upsert for writes, FindOne plus mongo.ErrNoDocuments for
// reads.
type entryDocument struct {
	ID          string `bson:"_id"`
	Namespace   string `bson:"namespace"`
	Fingerprint string `bson:"fingerprint"`
	Payload     []byte `bson:"payload"`
}

// MongoStore persists cache entries in MongoDB, an alternative durable
// backend to DiskStore and RedisStore for deployments that already run
// Mongo for the memory/snapshot stores (spec SPEC_FULL.md §11's C2 Cache
// role for go.mongodb.org/mongo-driver/v2).
type MongoStore struct {
	collection *mongo.Collection
}

// NewMongoStore wraps an already-connected *mongo.Collection.
func NewMongoStore(collection *mongo.Collection) *MongoStore {
	return &MongoStore{collection: collection}
}

func mongoDocID(namespace, fingerprint string) string {
	return namespace + ":" + fingerprint
}

func (m *MongoStore) Load(namespace, fingerprint string) (Entry, bool, error) {
	var doc entryDocument
	err := m.collection.FindOne(context.Background(), bson.M{"_id": mongoDocID(namespace, fingerprint)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("cache: mongo find %s/%s: %w", namespace, fingerprint, err)
	}
	return Entry{Payload: json.RawMessage(doc.Payload)}, true, nil
}

func (m *MongoStore) Save(namespace, fingerprint string, e Entry) error {
	doc := entryDocument{
		ID:          mongoDocID(namespace, fingerprint),
		Namespace:   namespace,
		Fingerprint: fingerprint,
		Payload:     []byte(e.Payload),
	}
	opts := options.Replace().SetUpsert(true)
	_, err := m.collection.ReplaceOne(context.Background(), bson.M{"_id": doc.ID}, doc, opts)
	if err != nil {
		return fmt.Errorf("cache: mongo save %s/%s: %w", namespace, fingerprint, err)
	}
	return nil
}

// Name satisfies health.Pinger.
func (m *MongoStore) Name() string { return "cache-mongo" }

// Ping satisfies health.Pinger by round-tripping a Ping against the
// collection's parent database, the same liveness contract the teacher's
// Mongo clients implement (features/memory/mongo/clients/mongo/client.go).
func (m *MongoStore) Ping(ctx context.Context) error {
	return m.collection.Database().Client().Ping(ctx, nil)
}
