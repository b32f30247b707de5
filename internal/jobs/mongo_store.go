package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Pool sizing recommended for Cosmos DB's MongoDB API; harmless against plain MongoDB.
const (
	mongoMaxPoolSize            = 200
	mongoMinPoolSize            = 20
	mongoServerSelectionTimeout = 30 * time.Second
	mongoDisconnectTimeout      = 5 * time.Second
)

// MongoStore keeps jobs in a MongoDB (or Cosmos DB for MongoDB) collection.
// The job id is stored as the document's _id.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

var _ Store = (*MongoStore)(nil)

// jobDocument is the stored shape of a Job.
type jobDocument struct {
	ID            string    `bson:"_id"`
	DocID         string    `bson:"doc_id"`
	DocName       string    `bson:"doc_name"`
	Status        string    `bson:"status"`
	ProcessedData bson.M    `bson:"processed_data,omitempty"`
	ErrorMessage  *string   `bson:"error_message,omitempty"`
	CreatedAt     time.Time `bson:"created_at"`
}

// NewMongoStore connects to uri and verifies the connection with a ping before returning.
func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(mongoMaxPoolSize).
		SetMinPoolSize(mongoMinPoolSize).
		SetServerSelectionTimeout(mongoServerSelectionTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: connect mongodb: %w", ErrStoreUnavailable, err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: ping mongodb: %w", ErrStoreUnavailable, err)
	}
	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

func (s *MongoStore) Create(ctx context.Context, job *Job) (*Job, error) {
	if err := checkNewJob(job); err != nil {
		return nil, err
	}
	row := *job
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if _, err := s.collection.InsertOne(ctx, toDocument(&row)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("insert job %s: %w", row.ID, ErrDuplicateKey)
		}
		return nil, fmt.Errorf("%w: insert job: %w", ErrStoreUnavailable, err)
	}
	return &row, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*Job, error) {
	var doc jobDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: find job: %w", ErrStoreUnavailable, err)
	}
	return fromDocument(&doc), nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// toDocument maps the domain id onto the collection's _id key.
func toDocument(job *Job) *jobDocument {
	doc := &jobDocument{
		ID:           job.ID,
		DocID:        job.DocID,
		DocName:      job.DocName,
		Status:       string(job.Status),
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt.UTC(),
	}
	if job.ProcessedData != nil {
		doc.ProcessedData = bson.M(job.ProcessedData)
	}
	return doc
}

// fromDocument is the inverse of toDocument.
func fromDocument(doc *jobDocument) *Job {
	job := &Job{
		ID:           doc.ID,
		DocID:        doc.DocID,
		DocName:      doc.DocName,
		Status:       Status(doc.Status),
		ErrorMessage: doc.ErrorMessage,
		CreatedAt:    doc.CreatedAt,
	}
	if doc.ProcessedData != nil {
		job.ProcessedData = map[string]any(doc.ProcessedData)
	}
	return job
}
