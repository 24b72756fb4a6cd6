package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/storyflow/types"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

type memoryDocument struct {
	Key       string    `bson:"_id"`
	Value     string    `bson:"value"`
	Version   int64     `bson:"version"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoStore 将工作记忆保存在 MongoDB 集合中，每个 key 一个文档。
// Update 基于 version 字段做 compare-and-swap，版本不匹配时重试。
type MongoStore struct {
	coll       *mongo.Collection
	maxRetries int
	now        func() time.Time
	logger     *zap.Logger
}

func NewMongoStore(coll *mongo.Collection, logger *zap.Logger) *MongoStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoStore{
		coll:       coll,
		maxRetries: defaultMaxRetries,
		now:        time.Now,
		logger:     logger.With(zap.String("component", "working_memory_mongo")),
	}
}

func (s *MongoStore) load(ctx context.Context, key string) (*memoryDocument, error) {
	var doc memoryDocument
	err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mongo find working memory: %w", err)
	}
	return &doc, nil
}

func (s *MongoStore) Get(ctx context.Context, key string) (string, bool, error) {
	doc, err := s.load(ctx, key)
	if err != nil || doc == nil {
		return "", false, err
	}
	return doc.Value, true, nil
}

func (s *MongoStore) Set(ctx context.Context, key, value string) error {
	update := bson.M{
		"$set": bson.M{"value": value, "updated_at": s.now()},
		"$inc": bson.M{"version": 1},
	}
	_, err := s.coll.UpdateOne(ctx, bson.M{"_id": key}, update, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo set working memory: %w", err)
	}
	return nil
}

func (s *MongoStore) Update(ctx context.Context, key string, fn UpdateFunc) (string, error) {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		doc, err := s.load(ctx, key)
		if err != nil {
			return "", err
		}

		var current string
		if doc != nil {
			current = doc.Value
		}
		next, err := fn(current, doc != nil)
		if err != nil {
			return "", err
		}

		swapped, err := s.swap(ctx, key, doc, next)
		if err != nil {
			return "", err
		}
		if swapped {
			return next, nil
		}
		s.logger.Debug("working memory version conflict, retrying", zap.String("key", key), zap.Int("attempt", attempt+1))
	}
	return "", types.Errorf(types.ErrMemoryConflict, "working memory %s: too many concurrent writers", key).
		WithRetryable(true)
}

// swap writes next only if the stored version still equals prev's version.
func (s *MongoStore) swap(ctx context.Context, key string, prev *memoryDocument, next string) (bool, error) {
	if prev == nil {
		_, err := s.coll.InsertOne(ctx, memoryDocument{Key: key, Value: next, Version: 1, UpdatedAt: s.now()})
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("mongo insert working memory: %w", err)
		}
		return true, nil
	}

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": key, "version": prev.Version},
		bson.M{"$set": bson.M{"value": next, "version": prev.Version + 1, "updated_at": s.now()}},
	)
	if err != nil {
		return false, fmt.Errorf("mongo update working memory: %w", err)
	}
	return res.MatchedCount == 1, nil
}
