package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	playlistsCollection = "playlists"
	jobsCollection      = "jobs"
	countersCollection  = "counters"
)

// Connect dials MongoDB. Extra client options (telemetry instrumentation)
// are appended after the URI.
func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// nextSequence atomically increments a named counter and returns the new
// value. Missing counters start at 1.
func nextSequence(ctx context.Context, counters *mongo.Collection, name string) (int64, error) {
	res := counters.FindOneAndUpdate(
		ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	)
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	if err := res.Decode(&doc); err != nil {
		return 0, err
	}
	return doc.Seq, nil
}

func timeFromUnix(value int64) time.Time {
	return time.Unix(value, 0).UTC()
}

func unixOrZero(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.Unix()
}

func timePtrFromUnix(value int64) *time.Time {
	if value == 0 {
		return nil
	}
	t := timeFromUnix(value)
	return &t
}
