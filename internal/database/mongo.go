package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"learning-coach-platform/models"
)

// MongoStore keeps documents in "documents" and chunk vectors in
// "document_chunks", searched with Atlas $vectorSearch.
type MongoStore struct {
	client      *mongo.Client
	documents   *mongo.Collection
	chunks      *mongo.Collection
	vectorIndex string
	dimension   int
}

func NewMongoStore(client *mongo.Client, dbName, vectorIndex string, dimension int) *MongoStore {
	db := client.Database(dbName)
	return &MongoStore{
		client:      client,
		documents:   db.Collection("documents"),
		chunks:      db.Collection("document_chunks"),
		vectorIndex: vectorIndex,
		dimension:   dimension,
	}
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Migrate creates the regular indexes. The Atlas vector index is managed
// in Atlas itself and is only named here.
func (s *MongoStore) Migrate(ctx context.Context) error {
	_, err := s.documents.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "uploaded_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create document indexes: %w", err)
	}

	_, err = s.chunks.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "document_id", Value: 1}, {Key: "chunk_index", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create chunk indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	now := time.Now().UTC()
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = now
	}
	doc.UpdatedAt = now

	if _, err := s.documents.InsertOne(ctx, doc); err != nil {
		return &models.PersistenceError{Op: "create document", Err: err}
	}
	return nil
}

func activeDocument(id string) bson.M {
	return bson.M{"_id": id, "deleted_at": bson.M{"$exists": false}}
}

func (s *MongoStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	err := s.documents.FindOne(ctx, activeDocument(id)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, models.ErrDocumentNotFound
	}
	if err != nil {
		return nil, &models.PersistenceError{Op: "get document", Err: err}
	}
	return &doc, nil
}

func (s *MongoStore) ListDocuments(ctx context.Context, userID string) ([]models.Document, error) {
	filter := bson.M{"deleted_at": bson.M{"$exists": false}}
	if userID != "" {
		filter["user_id"] = userID
	}

	cursor, err := s.documents.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "uploaded_at", Value: -1}}))
	if err != nil {
		return nil, &models.PersistenceError{Op: "list documents", Err: err}
	}
	defer cursor.Close(ctx)

	var docs []models.Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, &models.PersistenceError{Op: "list documents", Err: err}
	}
	return docs, nil
}

func (s *MongoStore) SoftDeleteDocument(ctx context.Context, id string) error {
	if err := s.DeleteChunks(ctx, id); err != nil {
		return err
	}
	now := time.Now().UTC()
	return s.updateDocument(ctx, "delete document", id, bson.M{"$set": bson.M{"deleted_at": now, "updated_at": now}})
}

func (s *MongoStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"deleted_at": bson.M{"$exists": false}}}},
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	}
	cursor, err := s.documents.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, &models.PersistenceError{Op: "count documents", Err: err}
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Status string `bson:"_id"`
		Count  int    `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, &models.PersistenceError{Op: "count documents", Err: err}
	}

	counts := make(map[string]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

func (s *MongoStore) BeginIndexing(ctx context.Context, id string, totalChunks int, summary, contentText string) error {
	return s.updateDocument(ctx, "begin indexing", id, bson.M{
		"$set": bson.M{
			"status":              models.StatusProcessing,
			"total_chunks":        totalChunks,
			"processing_progress": 0.0,
			"summary":             summary,
			"content_text":        contentText,
			"updated_at":          time.Now().UTC(),
		},
		"$unset": bson.M{"error_message": ""},
	})
}

func (s *MongoStore) UpdateProgress(ctx context.Context, id string, progress float64) error {
	return s.updateDocument(ctx, "update progress", id, bson.M{
		"$set": bson.M{"processing_progress": progress, "updated_at": time.Now().UTC()},
	})
}

func (s *MongoStore) MarkReady(ctx context.Context, id string, totalChunks int, summary, contentText string) error {
	now := time.Now().UTC()
	return s.updateDocument(ctx, "mark ready", id, bson.M{
		"$set": bson.M{
			"status":              models.StatusReady,
			"total_chunks":        totalChunks,
			"processing_progress": 1.0,
			"summary":             summary,
			"content_text":        contentText,
			"indexed_at":          now,
			"updated_at":          now,
		},
		"$unset": bson.M{"error_message": ""},
	})
}

func (s *MongoStore) MarkFailed(ctx context.Context, id, message string) error {
	if err := s.DeleteChunks(ctx, id); err != nil {
		return err
	}
	return s.updateDocument(ctx, "mark failed", id, bson.M{
		"$set": bson.M{
			"status":              models.StatusFailed,
			"processing_progress": 0.0,
			"error_message":       message,
			"updated_at":          time.Now().UTC(),
		},
	})
}

func (s *MongoStore) DeleteChunks(ctx context.Context, documentID string) error {
	if _, err := s.chunks.DeleteMany(ctx, bson.M{"document_id": documentID}); err != nil {
		return &models.PersistenceError{Op: "delete chunks", Err: err}
	}
	return nil
}

func (s *MongoStore) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	now := time.Now().UTC()
	docs := make([]interface{}, 0, len(chunks))
	for _, ch := range chunks {
		if ch.CreatedAt.IsZero() {
			ch.CreatedAt = now
		}
		docs = append(docs, ch)
	}

	if _, err := s.chunks.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true)); err != nil {
		return &models.PersistenceError{Op: "insert chunks", Err: err}
	}
	return nil
}

func (s *MongoStore) CountChunks(ctx context.Context, documentID string) (int, error) {
	n, err := s.chunks.CountDocuments(ctx, bson.M{"document_id": documentID})
	if err != nil {
		return 0, &models.PersistenceError{Op: "count chunks", Err: err}
	}
	return int(n), nil
}

// NearestChunks runs $vectorSearch filtered to one document. Atlas reports
// a cosine score in [0, 1]; distance is 1 - score so ordering matches the
// other stores.
func (s *MongoStore) NearestChunks(ctx context.Context, documentID string, vector []float32, k int) ([]models.ScoredChunk, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$vectorSearch", Value: bson.D{
			{Key: "index", Value: s.vectorIndex},
			{Key: "path", Value: "embedding"},
			{Key: "queryVector", Value: vector},
			{Key: "numCandidates", Value: max(k*20, 100)},
			{Key: "limit", Value: k},
			{Key: "filter", Value: bson.D{{Key: "document_id", Value: documentID}}},
		}}},
		{{Key: "$addFields", Value: bson.D{{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}}}}},
	}

	cursor, err := s.chunks.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, &models.PersistenceError{Op: "nearest chunks", Err: err}
	}
	defer cursor.Close(ctx)

	var hits []struct {
		models.Chunk `bson:",inline"`
		Score        float64 `bson:"score"`
	}
	if err := cursor.All(ctx, &hits); err != nil {
		return nil, &models.PersistenceError{Op: "nearest chunks", Err: err}
	}

	out := make([]models.ScoredChunk, 0, len(hits))
	for _, h := range hits {
		out = append(out, models.ScoredChunk{Chunk: h.Chunk, Distance: 1 - h.Score})
	}
	return out, nil
}

func (s *MongoStore) ListStaleProcessing(ctx context.Context, updatedBefore time.Time) ([]models.Document, error) {
	cursor, err := s.documents.Find(ctx, bson.M{
		"status":     models.StatusProcessing,
		"updated_at": bson.M{"$lt": updatedBefore},
		"deleted_at": bson.M{"$exists": false},
	})
	if err != nil {
		return nil, &models.PersistenceError{Op: "list stale documents", Err: err}
	}
	defer cursor.Close(ctx)

	var docs []models.Document
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, &models.PersistenceError{Op: "list stale documents", Err: err}
	}
	return docs, nil
}

func (s *MongoStore) updateDocument(ctx context.Context, op, id string, update bson.M) error {
	res, err := s.documents.UpdateOne(ctx, activeDocument(id), update)
	if err != nil {
		return &models.PersistenceError{Op: op, Err: err}
	}
	if res.MatchedCount == 0 {
		return models.ErrDocumentNotFound
	}
	return nil
}
