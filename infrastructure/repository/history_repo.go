package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"flowpilot-go/domain/generation"
)

const historyCollection = "history"

// historyDocument is the MongoDB document structure for history records.
type historyDocument struct {
	ID             string    `bson:"_id"`
	Operation      string    `bson:"operation"`
	Prompt         string    `bson:"prompt"`
	ReferenceCount int       `bson:"reference_count,omitempty"`
	Index          int       `bson:"index,omitempty"`
	Scale          string    `bson:"scale,omitempty"`
	Identities     []string  `bson:"identities,omitempty"`
	ResultCount    int       `bson:"result_count"`
	ResultBytes    int       `bson:"result_bytes"`
	Outcome        string    `bson:"outcome"`
	ErrorMessage   string    `bson:"error_message,omitempty"`
	StartedAt      time.Time `bson:"started_at"`
	DurationMs     int64     `bson:"duration_ms"`
}

// MongoHistoryRepository implements generation.Repository using MongoDB.
type MongoHistoryRepository struct {
	collection *mongo.Collection
	logger     *slog.Logger
}

// NewMongoHistoryRepository creates a MongoDB-backed history repository.
func NewMongoHistoryRepository(db *MongoDB, logger *slog.Logger) *MongoHistoryRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &MongoHistoryRepository{
		collection: db.Collection(historyCollection),
		logger:     logger,
	}
}

// Insert stores a record.
func (r *MongoHistoryRepository) Insert(ctx context.Context, rec *generation.Record) error {
	if _, err := r.collection.InsertOne(ctx, recordToDocument(rec)); err != nil {
		return fmt.Errorf("failed to insert history record: %w", err)
	}
	r.logger.Debug("History record inserted", "id", rec.ID, "operation", rec.Operation, "outcome", rec.Outcome)
	return nil
}

// FindRecent returns the newest records first.
func (r *MongoHistoryRepository) FindRecent(ctx context.Context, limit int) ([]*generation.Record, error) {
	return r.find(ctx, bson.M{}, limit)
}

// FindByPrompt returns the newest records for prompt first.
func (r *MongoHistoryRepository) FindByPrompt(ctx context.Context, prompt string, limit int) ([]*generation.Record, error) {
	return r.find(ctx, bson.M{"prompt": prompt}, limit)
}

func (r *MongoHistoryRepository) find(ctx context.Context, filter bson.M, limit int) ([]*generation.Record, error) {
	opts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find history: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []historyDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}

	records := make([]*generation.Record, len(docs))
	for i := range docs {
		records[i] = documentToRecord(&docs[i])
	}
	return records, nil
}

func recordToDocument(rec *generation.Record) *historyDocument {
	return &historyDocument{
		ID:             rec.ID,
		Operation:      string(rec.Operation),
		Prompt:         rec.Prompt,
		ReferenceCount: rec.ReferenceCount,
		Index:          rec.Index,
		Scale:          string(rec.Scale),
		Identities:     rec.Identities,
		ResultCount:    rec.ResultCount,
		ResultBytes:    rec.ResultBytes,
		Outcome:        rec.Outcome,
		ErrorMessage:   rec.ErrorMessage,
		StartedAt:      rec.StartedAt.UTC(),
		DurationMs:     rec.Duration.Milliseconds(),
	}
}

func documentToRecord(doc *historyDocument) *generation.Record {
	return &generation.Record{
		ID:             doc.ID,
		Operation:      generation.Operation(doc.Operation),
		Prompt:         doc.Prompt,
		ReferenceCount: doc.ReferenceCount,
		Index:          doc.Index,
		Scale:          generation.Scale(doc.Scale),
		Identities:     doc.Identities,
		ResultCount:    doc.ResultCount,
		ResultBytes:    doc.ResultBytes,
		Outcome:        doc.Outcome,
		ErrorMessage:   doc.ErrorMessage,
		StartedAt:      doc.StartedAt,
		Duration:       time.Duration(doc.DurationMs) * time.Millisecond,
	}
}

// Ensure MongoHistoryRepository implements generation.Repository
var _ generation.Repository = (*MongoHistoryRepository)(nil)
