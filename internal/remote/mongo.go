package remote

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/locationtracker/agent/internal/codec"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	seqField           = "_seq"
	countersCollection = "counters"
)

// MongoEndpoint replicates against a MongoDB collection. Every write stamps the
// document with a sequence number so pulls can resume from a cursor.
//
// The sequence is allocated and written in one transaction, so writers serialize
// on the counter document and sequences become visible in order. Transactions
// need a replica set or sharded cluster.
type MongoEndpoint struct {
	documents *mongo.Collection
	counters  *mongo.Collection
	limit     int64
}

// NewMongoEndpoint creates an endpoint over db.collection
func NewMongoEndpoint(db *mongo.Database, collection string, limit int) *MongoEndpoint {
	if limit <= 0 {
		limit = defaultPullLimit
	}
	return &MongoEndpoint{
		documents: db.Collection(collection),
		counters:  db.Collection(countersCollection),
		limit:     int64(limit),
	}
}

// ConnectMongo opens and pings a MongoDB client
func ConnectMongo(ctx context.Context, uri, database string) (*mongo.Database, error) {
	if uri == "" {
		return nil, fmt.Errorf("MongoDB URI not provided")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client.Database(database), nil
}

// FetchChangesSince returns documents whose sequence is greater than cursor
func (e *MongoEndpoint) FetchChangesSince(ctx context.Context, cursor string) (ChangeBatch, error) {
	var since int64
	if cursor != "" {
		n, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return ChangeBatch{}, transportErr("fetch changes", 0, fmt.Errorf("invalid cursor %q: %w", cursor, err))
		}
		since = n
	}

	opts := options.Find().SetSort(bson.D{{Key: seqField, Value: 1}}).SetLimit(e.limit)
	cur, err := e.documents.Find(ctx, bson.M{seqField: bson.M{"$gt": since}}, opts)
	if err != nil {
		return ChangeBatch{}, transportErr("fetch changes", 0, err)
	}
	defer cur.Close(ctx)

	batch := ChangeBatch{Cursor: cursor}
	for cur.Next(ctx) {
		var raw bson.M
		if err := cur.Decode(&raw); err != nil {
			return ChangeBatch{}, transportErr("fetch changes", 0, err)
		}
		if seq, ok := seqValue(raw[seqField]); ok && seq > since {
			since = seq
			batch.Cursor = strconv.FormatInt(seq, 10)
		}
		delete(raw, seqField)
		batch.Documents = append(batch.Documents, normalizeDocument(raw))
	}
	if err := cur.Err(); err != nil {
		return ChangeBatch{}, transportErr("fetch changes", 0, err)
	}
	return batch, nil
}

// writeRejected marks a server-side refusal of one document, as opposed to a failed exchange
type writeRejected struct {
	err error
}

func (e *writeRejected) Error() string { return e.err.Error() }

// Submit upserts each document by _id
func (e *MongoEndpoint) Submit(ctx context.Context, docs []codec.Document) ([]SubmitResult, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	sess, err := e.documents.Database().Client().StartSession()
	if err != nil {
		return nil, transportErr("submit", 0, err)
	}
	defer sess.EndSession(ctx)

	results := make([]SubmitResult, 0, len(docs))
	for _, doc := range docs {
		id, _ := doc[codec.FieldID].(string)
		if id == "" {
			results = append(results, SubmitResult{Accepted: false, Reason: "missing _id"})
			continue
		}

		_, err := sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
			return nil, e.write(sc, id, doc)
		})
		var rejected *writeRejected
		switch {
		case errors.As(err, &rejected):
			results = append(results, SubmitResult{ID: id, Accepted: false, Reason: rejected.Error()})
		case err != nil:
			return nil, transportErr("submit", 0, err)
		default:
			results = append(results, SubmitResult{ID: id, Accepted: true})
		}
	}
	return results, nil
}

// write stamps doc with the next sequence and upserts it. It must run inside a transaction.
func (e *MongoEndpoint) write(ctx mongo.SessionContext, id string, doc codec.Document) error {
	seq, err := e.nextSeq(ctx)
	if err != nil {
		return err
	}

	body := bson.M{}
	for k, v := range doc {
		body[k] = v
	}
	body[seqField] = seq

	_, err = e.documents.ReplaceOne(ctx, bson.M{codec.FieldID: id}, body, options.Replace().SetUpsert(true))
	var we mongo.WriteException
	if errors.As(err, &we) && len(we.WriteErrors) > 0 {
		return &writeRejected{err: err}
	}
	return err
}

func (e *MongoEndpoint) nextSeq(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := e.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": e.documents.Name()},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		opts,
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate sequence: %w", err)
	}
	return counter.Seq, nil
}

func seqValue(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// normalizeDocument converts driver container types into the plain maps and slices the codec reads
func normalizeDocument(m bson.M) codec.Document {
	out := make(codec.Document, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case primitive.M:
		return map[string]interface{}(normalizeDocument(val))
	case primitive.D:
		return map[string]interface{}(normalizeDocument(val.Map()))
	case primitive.A:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case primitive.ObjectID:
		return val.Hex()
	default:
		return v
	}
}
