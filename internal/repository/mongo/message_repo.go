package mongo

import (
	"context"
	"time"

	"dialoque/server/internal/domain"
	"dialoque/server/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const messageCollectionName = "submission_messages"

type mongoMessageRepository struct {
	collection *mongo.Collection
}

// NewMongoMessageRepository creates a new Message repository backed by MongoDB.
func NewMongoMessageRepository(db *mongo.Database) repository.MessageRepository {
	return &mongoMessageRepository{
		collection: db.Collection(messageCollectionName),
	}
}

func (r *mongoMessageRepository) ListBySubmission(ctx context.Context, submissionID primitive.ObjectID) ([]domain.Message, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"submissionId": submissionID}, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	msgs := []domain.Message{}
	if err = cursor.All(ctx, &msgs); err != nil {
		return nil, err
	}
	// Mongo stores milliseconds; re-sort so equal timestamps fall back to id.
	domain.SortMessages(msgs)
	return msgs, nil
}

func (r *mongoMessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	return r.CreateMany(ctx, []*domain.Message{msg})
}

func (r *mongoMessageRepository) CreateMany(ctx context.Context, msgs []*domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	now := time.Now().UTC()
	docs := make([]interface{}, 0, len(msgs))
	for _, m := range msgs {
		// ObjectIDs are generated in slice order, so equal timestamps keep it.
		m.ID = primitive.NewObjectID()
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		docs = append(docs, m)
	}
	_, err := r.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	return err
}

func (r *mongoMessageRepository) DeleteBySubmission(ctx context.Context, submissionID primitive.ObjectID) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{"submissionId": submissionID})
	return err
}

func (r *mongoMessageRepository) DeleteBySubmissions(ctx context.Context, submissionIDs []primitive.ObjectID) error {
	if len(submissionIDs) == 0 {
		return nil
	}
	_, err := r.collection.DeleteMany(ctx, bson.M{"submissionId": bson.M{"$in": submissionIDs}})
	return err
}

// EnsureMessageIndexes creates necessary indexes for the messages collection.
func EnsureMessageIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "submissionId", Value: 1}, {Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}},
			Options: options.Index(),
		},
	}
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}
