package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"playlistsync/internal/domain"
)

// PlaylistRepository persists the playlist registry.
type PlaylistRepository struct {
	collection *mongo.Collection
	counters   *mongo.Collection
}

func NewPlaylistRepository(client *mongo.Client, dbName string) *PlaylistRepository {
	db := client.Database(dbName)
	return &PlaylistRepository{
		collection: db.Collection(playlistsCollection),
		counters:   db.Collection(countersCollection),
	}
}

func (r *PlaylistRepository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "url", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

// NextID allocates the next playlist ID from the shared counter.
func (r *PlaylistRepository) NextID(ctx context.Context) (domain.PlaylistID, error) {
	seq, err := nextSequence(ctx, r.counters, playlistsCollection)
	if err != nil {
		return 0, fmt.Errorf("%w: allocate playlist id: %s", domain.ErrRepository, err)
	}
	return domain.PlaylistID(seq), nil
}

func (r *PlaylistRepository) Create(ctx context.Context, p domain.Playlist) error {
	_, err := r.collection.InsertOne(ctx, toPlaylistDoc(p))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: playlist already registered", domain.ErrConflict)
		}
		return fmt.Errorf("%w: insert playlist: %s", domain.ErrRepository, err)
	}
	return nil
}

func (r *PlaylistRepository) Update(ctx context.Context, p domain.Playlist) error {
	doc := toPlaylistUpdateDoc(p)
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": int64(p.ID)}, bson.M{"$set": doc})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: playlist url already registered", domain.ErrConflict)
		}
		return fmt.Errorf("%w: update playlist: %s", domain.ErrRepository, err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PlaylistRepository) Get(ctx context.Context, id domain.PlaylistID) (domain.Playlist, error) {
	var doc playlistDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": int64(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Playlist{}, domain.ErrNotFound
		}
		return domain.Playlist{}, fmt.Errorf("%w: get playlist: %s", domain.ErrRepository, err)
	}
	return fromPlaylistDoc(doc), nil
}

func (r *PlaylistRepository) List(ctx context.Context) ([]domain.Playlist, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: list playlists: %s", domain.ErrRepository, err)
	}
	defer cursor.Close(ctx)

	var docs []playlistDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%w: list playlists: %s", domain.ErrRepository, err)
	}

	out := make([]domain.Playlist, 0, len(docs))
	for _, doc := range docs {
		out = append(out, fromPlaylistDoc(doc))
	}
	return out, nil
}

func (r *PlaylistRepository) Delete(ctx context.Context, id domain.PlaylistID) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": int64(id)})
	if err != nil {
		return fmt.Errorf("%w: delete playlist: %s", domain.ErrRepository, err)
	}
	if res.DeletedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type playlistDoc struct {
	ID             int64         `bson:"_id"`
	URL            string        `bson:"url"`
	Title          string        `bson:"title"`
	Counts         countsDoc     `bson:"counts"`
	Excluded       []excludedDoc `bson:"excluded,omitempty"`
	LastDownloadAt int64         `bson:"lastDownloadAt,omitempty"`
	LastExtractAt  int64         `bson:"lastExtractAt,omitempty"`
	CreatedAt      int64         `bson:"createdAt"`
	UpdatedAt      int64         `bson:"updatedAt"`
}

type playlistUpdateDoc struct {
	URL            string        `bson:"url"`
	Title          string        `bson:"title"`
	Counts         countsDoc     `bson:"counts"`
	Excluded       []excludedDoc `bson:"excluded,omitempty"`
	LastDownloadAt int64         `bson:"lastDownloadAt,omitempty"`
	LastExtractAt  int64         `bson:"lastExtractAt,omitempty"`
	CreatedAt      int64         `bson:"createdAt"`
	UpdatedAt      int64         `bson:"updatedAt"`
}

type countsDoc struct {
	Local             int `bson:"local"`
	RemoteAvailable   int `bson:"remoteAvailable"`
	RemoteUnavailable int `bson:"remoteUnavailable"`
}

type excludedDoc struct {
	VideoID string `bson:"videoId"`
	Reason  string `bson:"reason"`
	Class   string `bson:"class"`
	At      int64  `bson:"at"`
}

func toPlaylistDoc(p domain.Playlist) playlistDoc {
	return playlistDoc{
		ID:             int64(p.ID),
		URL:            p.URL,
		Title:          p.Title,
		Counts:         toCountsDoc(p.Counts),
		Excluded:       toExcludedDocs(p.Excluded),
		LastDownloadAt: unixOrZero(p.LastDownloadAt),
		LastExtractAt:  unixOrZero(p.LastExtractAt),
		CreatedAt:      p.CreatedAt.Unix(),
		UpdatedAt:      p.UpdatedAt.Unix(),
	}
}

func toPlaylistUpdateDoc(p domain.Playlist) playlistUpdateDoc {
	return playlistUpdateDoc{
		URL:            p.URL,
		Title:          p.Title,
		Counts:         toCountsDoc(p.Counts),
		Excluded:       toExcludedDocs(p.Excluded),
		LastDownloadAt: unixOrZero(p.LastDownloadAt),
		LastExtractAt:  unixOrZero(p.LastExtractAt),
		CreatedAt:      p.CreatedAt.Unix(),
		UpdatedAt:      p.UpdatedAt.Unix(),
	}
}

func fromPlaylistDoc(doc playlistDoc) domain.Playlist {
	excluded := make([]domain.ExcludedVideo, 0, len(doc.Excluded))
	for _, ex := range doc.Excluded {
		excluded = append(excluded, domain.ExcludedVideo{
			VideoID: ex.VideoID,
			Reason:  ex.Reason,
			Class:   domain.FailureClass(ex.Class),
			At:      timeFromUnix(ex.At),
		})
	}
	return domain.Playlist{
		ID:    domain.PlaylistID(doc.ID),
		URL:   doc.URL,
		Title: doc.Title,
		Counts: domain.VideoCounts{
			Local:             doc.Counts.Local,
			RemoteAvailable:   doc.Counts.RemoteAvailable,
			RemoteUnavailable: doc.Counts.RemoteUnavailable,
		},
		Excluded:       excluded,
		LastDownloadAt: timePtrFromUnix(doc.LastDownloadAt),
		LastExtractAt:  timePtrFromUnix(doc.LastExtractAt),
		CreatedAt:      timeFromUnix(doc.CreatedAt),
		UpdatedAt:      timeFromUnix(doc.UpdatedAt),
	}
}

func toCountsDoc(c domain.VideoCounts) countsDoc {
	return countsDoc{
		Local:             c.Local,
		RemoteAvailable:   c.RemoteAvailable,
		RemoteUnavailable: c.RemoteUnavailable,
	}
}

func toExcludedDocs(excluded []domain.ExcludedVideo) []excludedDoc {
	if len(excluded) == 0 {
		return nil
	}
	out := make([]excludedDoc, 0, len(excluded))
	for _, ex := range excluded {
		out = append(out, excludedDoc{
			VideoID: ex.VideoID,
			Reason:  ex.Reason,
			Class:   string(ex.Class),
			At:      ex.At.Unix(),
		})
	}
	return out
}
