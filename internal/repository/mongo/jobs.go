package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"playlistsync/internal/domain"
)

// JobRepository persists job records so history survives restarts.
type JobRepository struct {
	collection *mongo.Collection
}

func NewJobRepository(client *mongo.Client, dbName string) *JobRepository {
	return &JobRepository{collection: client.Database(dbName).Collection(jobsCollection)}
}

func (r *JobRepository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "playlistId", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

func (r *JobRepository) Create(ctx context.Context, j domain.Job) error {
	_, err := r.collection.InsertOne(ctx, toJobDoc(j))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: job id already exists", domain.ErrConflict)
		}
		return fmt.Errorf("%w: insert job: %s", domain.ErrRepository, err)
	}
	return nil
}

func (r *JobRepository) Update(ctx context.Context, j domain.Job) error {
	doc := toJobUpdateDoc(j)
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": string(j.ID)}, bson.M{"$set": doc})
	if err != nil {
		return fmt.Errorf("%w: update job: %s", domain.ErrRepository, err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, id domain.JobID) (domain.Job, error) {
	var doc jobDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Job{}, domain.ErrNotFound
		}
		return domain.Job{}, fmt.Errorf("%w: get job: %s", domain.ErrRepository, err)
	}
	return fromJobDoc(doc), nil
}

// List returns all jobs, newest first.
func (r *JobRepository) List(ctx context.Context) ([]domain.Job, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: list jobs: %s", domain.ErrRepository, err)
	}
	defer cursor.Close(ctx)

	var docs []jobDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%w: list jobs: %s", domain.ErrRepository, err)
	}

	out := make([]domain.Job, 0, len(docs))
	for _, doc := range docs {
		out = append(out, fromJobDoc(doc))
	}
	return out, nil
}

// FailRunning force-fails every job still marked pending or running. Called
// once at startup: such jobs were interrupted by a process restart and will
// never make progress again.
func (r *JobRepository) FailRunning(ctx context.Context, errMsg string) (int64, error) {
	res, err := r.collection.UpdateMany(
		ctx,
		bson.M{"status": bson.M{"$in": []string{string(domain.JobPending), string(domain.JobRunning)}}},
		bson.M{"$set": bson.M{
			"status":      string(domain.JobFailed),
			"error":       errMsg,
			"completedAt": time.Now().UTC().Unix(),
		}},
	)
	if err != nil {
		return 0, fmt.Errorf("%w: fail running jobs: %s", domain.ErrRepository, err)
	}
	return res.ModifiedCount, nil
}

type jobDoc struct {
	ID          string   `bson:"_id"`
	PlaylistID  int64    `bson:"playlistId"`
	Kind        string   `bson:"kind"`
	Status      string   `bson:"status"`
	Download    phaseDoc `bson:"download"`
	Extract     phaseDoc `bson:"extract"`
	Error       string   `bson:"error,omitempty"`
	LogPath     string   `bson:"logPath,omitempty"`
	CreatedAt   int64    `bson:"createdAt"`
	StartedAt   int64    `bson:"startedAt,omitempty"`
	CompletedAt int64    `bson:"completedAt,omitempty"`
}

type jobUpdateDoc struct {
	PlaylistID  int64    `bson:"playlistId"`
	Kind        string   `bson:"kind"`
	Status      string   `bson:"status"`
	Download    phaseDoc `bson:"download"`
	Extract     phaseDoc `bson:"extract"`
	Error       string   `bson:"error,omitempty"`
	LogPath     string   `bson:"logPath,omitempty"`
	CreatedAt   int64    `bson:"createdAt"`
	StartedAt   int64    `bson:"startedAt,omitempty"`
	CompletedAt int64    `bson:"completedAt,omitempty"`
}

type phaseDoc struct {
	Status    string    `bson:"status"`
	Total     int       `bson:"total"`
	Completed int       `bson:"completed"`
	Failed    int       `bson:"failed"`
	Batch     *batchDoc `bson:"batch,omitempty"`
}

type batchDoc struct {
	TotalVideos     int `bson:"totalVideos"`
	DownloadedCount int `bson:"downloadedCount"`
	PendingCount    int `bson:"pendingCount"`
	BatchSize       int `bson:"batchSize"`
}

func toJobDoc(j domain.Job) jobDoc {
	return jobDoc{
		ID:          string(j.ID),
		PlaylistID:  int64(j.PlaylistID),
		Kind:        string(j.Kind),
		Status:      string(j.Status),
		Download:    toPhaseDoc(j.Download),
		Extract:     toPhaseDoc(j.Extract),
		Error:       j.Error,
		LogPath:     j.LogPath,
		CreatedAt:   j.CreatedAt.Unix(),
		StartedAt:   unixOrZero(j.StartedAt),
		CompletedAt: unixOrZero(j.CompletedAt),
	}
}

func toJobUpdateDoc(j domain.Job) jobUpdateDoc {
	return jobUpdateDoc{
		PlaylistID:  int64(j.PlaylistID),
		Kind:        string(j.Kind),
		Status:      string(j.Status),
		Download:    toPhaseDoc(j.Download),
		Extract:     toPhaseDoc(j.Extract),
		Error:       j.Error,
		LogPath:     j.LogPath,
		CreatedAt:   j.CreatedAt.Unix(),
		StartedAt:   unixOrZero(j.StartedAt),
		CompletedAt: unixOrZero(j.CompletedAt),
	}
}

func fromJobDoc(doc jobDoc) domain.Job {
	return domain.Job{
		ID:          domain.JobID(doc.ID),
		PlaylistID:  domain.PlaylistID(doc.PlaylistID),
		Kind:        domain.JobKind(doc.Kind),
		Status:      domain.JobStatus(doc.Status),
		Download:    fromPhaseDoc(doc.Download),
		Extract:     fromPhaseDoc(doc.Extract),
		Error:       doc.Error,
		LogPath:     doc.LogPath,
		CreatedAt:   timeFromUnix(doc.CreatedAt),
		StartedAt:   timePtrFromUnix(doc.StartedAt),
		CompletedAt: timePtrFromUnix(doc.CompletedAt),
	}
}

func toPhaseDoc(p domain.PhaseProgress) phaseDoc {
	doc := phaseDoc{
		Status:    string(p.Status),
		Total:     p.Total,
		Completed: p.Completed,
		Failed:    p.Failed,
	}
	if p.Batch != nil {
		doc.Batch = &batchDoc{
			TotalVideos:     p.Batch.TotalVideos,
			DownloadedCount: p.Batch.DownloadedCount,
			PendingCount:    p.Batch.PendingCount,
			BatchSize:       p.Batch.BatchSize,
		}
	}
	return doc
}

func fromPhaseDoc(doc phaseDoc) domain.PhaseProgress {
	p := domain.PhaseProgress{
		Status:    domain.JobStatus(doc.Status),
		Total:     doc.Total,
		Completed: doc.Completed,
		Failed:    doc.Failed,
	}
	if doc.Batch != nil {
		p.Batch = &domain.BatchInfo{
			TotalVideos:     doc.Batch.TotalVideos,
			DownloadedCount: doc.Batch.DownloadedCount,
			PendingCount:    doc.Batch.PendingCount,
			BatchSize:       doc.Batch.BatchSize,
		}
	}
	return p
}
