package mongocache

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// stubCollection understands exactly the filter shapes the store issues.
type stubCollection struct {
	mu   sync.Mutex
	docs map[string]entry
}

func newStubCollection() *stubCollection {
	return &stubCollection{docs: make(map[string]entry)}
}

func (c *stubCollection) FindOne(_ context.Context, filter interface{}, _ ...*options.FindOneOptions) *mongo.SingleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, doc := range c.docs {
		if matches(doc, filter.(bson.M)) {
			return mongo.NewSingleResultFromDocument(doc, nil, nil)
		}
	}
	return mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil)
}

func (c *stubCollection) Find(_ context.Context, filter interface{}, _ ...*options.FindOptions) (*mongo.Cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []interface{}
	for _, doc := range c.docs {
		if matches(doc, filter.(bson.M)) {
			out = append(out, doc)
		}
	}
	return mongo.NewCursorFromDocuments(out, nil, nil)
}

func (c *stubCollection) InsertOne(_ context.Context, document interface{}, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc := document.(entry)
	if _, ok := c.docs[doc.Key]; ok {
		return nil, mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000, Message: "E11000 duplicate key error"}}}
	}
	c.docs[doc.Key] = doc
	return &mongo.InsertOneResult{InsertedID: doc.Key}, nil
}

func (c *stubCollection) UpdateOne(_ context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := filter.(bson.M)
	set := update.(bson.M)["$set"].(bson.M)
	for id, doc := range c.docs {
		if !matches(doc, f) {
			continue
		}
		c.docs[id] = apply(doc, set)
		return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
	}
	for _, opt := range opts {
		if opt != nil && opt.Upsert != nil && *opt.Upsert {
			id := f["_id"].(string)
			c.docs[id] = apply(entry{Key: id}, set)
			return &mongo.UpdateResult{UpsertedCount: 1, UpsertedID: id}, nil
		}
	}
	return &mongo.UpdateResult{}, nil
}

func (c *stubCollection) DeleteOne(_ context.Context, filter interface{}, _ ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, doc := range c.docs {
		if matches(doc, filter.(bson.M)) {
			delete(c.docs, id)
			return &mongo.DeleteResult{DeletedCount: 1}, nil
		}
	}
	return &mongo.DeleteResult{}, nil
}

func (c *stubCollection) DeleteMany(_ context.Context, filter interface{}, _ ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for id, doc := range c.docs {
		if matches(doc, filter.(bson.M)) {
			delete(c.docs, id)
			n++
		}
	}
	return &mongo.DeleteResult{DeletedCount: n}, nil
}

func (c *stubCollection) doc(id string) (entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[id]
	return doc, ok
}

func matches(doc entry, filter bson.M) bool {
	for field, want := range filter {
		var got interface{}
		switch field {
		case "_id":
			got = doc.Key
		case "value":
			got = doc.Value
		case "expires_at":
			got = doc.ExpiresAt
		default:
			panic(fmt.Sprintf("stub: unsupported field %q", field))
		}
		if !matchValue(got, want) {
			return false
		}
	}
	return true
}

func matchValue(got, want interface{}) bool {
	ops, ok := want.(bson.M)
	if !ok {
		return got == want
	}
	for op, arg := range ops {
		switch op {
		case "$in":
			found := false
			for _, v := range arg.([]string) {
				if v == got {
					found = true
				}
			}
			if !found {
				return false
			}
		case "$regex":
			if !regexp.MustCompile(arg.(string)).MatchString(got.(string)) {
				return false
			}
		case "$gt":
			if !(got.(int64) > arg.(int64)) {
				return false
			}
		case "$lt":
			if !(got.(int64) < arg.(int64)) {
				return false
			}
		default:
			panic(fmt.Sprintf("stub: unsupported operator %q", op))
		}
	}
	return true
}

func apply(doc entry, set bson.M) entry {
	if v, ok := set["value"]; ok {
		doc.Value = v.(string)
	}
	if v, ok := set["expires_at"]; ok {
		doc.ExpiresAt = v.(int64)
	}
	return doc
}
