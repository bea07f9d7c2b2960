package mongocache

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/goforj/cachecompress"
	"github.com/goforj/cachecompress/cachecore"
)

const (
	defaultTTL        = 5 * time.Minute
	defaultPrefix     = "app"
	defaultDatabase   = "cache"
	defaultCollection = "cache_entries"
	maxCASAttempts    = 16
)

var errNumeric = errors.New("value is not an integer")

// Collection captures the subset of *mongo.Collection used by the store.
type Collection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

// Config configures a MongoDB-backed cache store. Collection wins over URI.
type Config struct {
	cachecore.BaseConfig
	Collection Collection

	URI            string
	Database       string
	CollectionName string
}

// entry is one cached document. Value holds text: the repository wraps
// binary payloads in base64 before they get here.
type entry struct {
	Key       string `bson:"_id"`
	Value     string `bson:"value"`
	ExpiresAt int64  `bson:"expires_at"`
}

func (e entry) expired(now time.Time) bool {
	return e.ExpiresAt > 0 && now.UnixMilli() > e.ExpiresAt
}

type store struct {
	coll       Collection
	defaultTTL time.Duration
	prefix     string
}

func init() {
	cachecompress.RegisterStoreType(&store{}, cachecore.DriverMongo)
	cachecompress.RegisterDriver(cachecore.DriverMongo, factory)
}

// factory builds a store from cachecompress.StoreConfig. DriverOptions must
// hold a Config or *Config.
func factory(ctx context.Context, cfg cachecompress.StoreConfig) (cachecompress.Store, error) {
	var mc Config
	switch opts := cfg.DriverOptions.(type) {
	case Config:
		mc = opts
	case *Config:
		if opts != nil {
			mc = *opts
		}
	case nil:
	default:
		return nil, fmt.Errorf("mongocache: unexpected driver options %T", cfg.DriverOptions)
	}
	if mc.DefaultTTL == 0 {
		mc.DefaultTTL = cfg.DefaultTTL
	}
	if mc.Prefix == "" {
		mc.Prefix = cfg.Prefix
	}
	if mc.Collection == nil {
		coll, err := connect(ctx, mc)
		if err != nil {
			return nil, err
		}
		mc.Collection = coll
	}
	return New(mc), nil
}

func connect(ctx context.Context, cfg Config) (*mongo.Collection, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongocache: collection or uri required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongocache: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongocache: ping: %w", err)
	}
	db := cfg.Database
	if db == "" {
		db = defaultDatabase
	}
	name := cfg.CollectionName
	if name == "" {
		name = defaultCollection
	}
	return client.Database(db).Collection(name), nil
}

// New builds a MongoDB-backed cachecore.Store.
//
// Defaults:
// - DefaultTTL: 5*time.Minute when zero
// - Prefix: "app" when empty
func New(cfg Config) cachecore.Store {
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &store{coll: cfg.Collection, defaultTTL: ttl, prefix: prefix}
}

func (s *store) expiresAt(ttl time.Duration) int64 {
	ttl = cachecore.EffectiveTTL(ttl, s.defaultTTL)
	if ttl < 0 {
		return 0
	}
	return time.Now().Add(ttl).UnixMilli()
}

func (s *store) find(ctx context.Context, id string) (entry, bool, error) {
	var doc entry
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return entry{}, false, nil
	}
	if err != nil {
		return entry{}, false, err
	}
	return doc, true, nil
}

func (s *store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	id := s.cacheKey(key)
	doc, ok, err := s.find(ctx, id)
	if err != nil || !ok {
		return nil, false, err
	}
	if doc.expired(time.Now()) {
		_, _ = s.coll.DeleteOne(ctx, bson.M{"_id": id})
		return nil, false, nil
	}
	return []byte(doc.Value), true, nil
}

func (s *store) GetMany(ctx context.Context, keys ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	ids := make([]string, len(keys))
	byID := make(map[string]string, len(keys))
	for i, key := range keys {
		ids[i] = s.cacheKey(key)
		byID[ids[i]] = key
	}
	cur, err := s.coll.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	var docs []entry
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	now := time.Now()
	for _, doc := range docs {
		if doc.expired(now) {
			continue
		}
		if key, ok := byID[doc.Key]; ok {
			out[key] = []byte(doc.Value)
		}
	}
	return out, nil
}

func (s *store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": s.cacheKey(key)},
		bson.M{"$set": bson.M{"value": string(value), "expires_at": s.expiresAt(ttl)}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (s *store) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	id := s.cacheKey(key)
	exp := s.expiresAt(ttl)
	_, err := s.coll.InsertOne(ctx, entry{Key: id, Value: string(value), ExpiresAt: exp})
	if err == nil {
		return true, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return false, err
	}
	// an expired document counts as absent
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"_id": id, "expires_at": bson.M{"$gt": int64(0), "$lt": time.Now().UnixMilli()}},
		bson.M{"$set": bson.M{"value": string(value), "expires_at": exp}},
	)
	if err != nil {
		return false, err
	}
	return res.MatchedCount > 0, nil
}

// Increment uses compare-and-set on the stored text so concurrent writers never lose updates.
func (s *store) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	id := s.cacheKey(key)
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		doc, ok, err := s.find(ctx, id)
		if err != nil {
			return 0, err
		}
		if !ok {
			_, err := s.coll.InsertOne(ctx, entry{Key: id, Value: strconv.FormatInt(delta, 10), ExpiresAt: s.expiresAt(ttl)})
			if err == nil {
				return delta, nil
			}
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			return 0, err
		}
		current := int64(0)
		if !doc.expired(time.Now()) {
			n, err := strconv.ParseInt(doc.Value, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("cache key %q: %w", key, errNumeric)
			}
			current = n
		}
		next := current + delta
		res, err := s.coll.UpdateOne(ctx,
			bson.M{"_id": id, "value": doc.Value, "expires_at": doc.ExpiresAt},
			bson.M{"$set": bson.M{"value": strconv.FormatInt(next, 10), "expires_at": s.expiresAt(ttl)}},
		)
		if err != nil {
			return 0, err
		}
		if res.MatchedCount > 0 {
			return next, nil
		}
	}
	return 0, errors.New("mongocache: increment exceeded retry limit")
}

func (s *store) Decrement(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	return s.Increment(ctx, key, -delta, ttl)
}

func (s *store) Delete(ctx context.Context, key string) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": s.cacheKey(key)})
	return err
}

func (s *store) DeleteMany(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ids := make([]string, len(keys))
	for i, key := range keys {
		ids[i] = s.cacheKey(key)
	}
	_, err := s.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	return err
}

// Flush removes documents under the store prefix.
func (s *store) Flush(ctx context.Context) error {
	_, err := s.coll.DeleteMany(ctx, bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(s.prefix+":")}})
	return err
}

func (s *store) cacheKey(key string) string {
	return s.prefix + ":" + key
}
