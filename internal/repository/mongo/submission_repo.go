package mongo

import (
	"context"
	"errors"
	"time"

	"dialoque/server/internal/domain"
	"dialoque/server/internal/repository"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const submissionCollectionName = "student_submissions"

// mongoSubmissionRepository implements repository.SubmissionRepository
type mongoSubmissionRepository struct {
	collection *mongo.Collection
}

// NewMongoSubmissionRepository creates a new Submission repository backed by MongoDB.
func NewMongoSubmissionRepository(db *mongo.Database) repository.SubmissionRepository {
	return &mongoSubmissionRepository{
		collection: db.Collection(submissionCollectionName),
	}
}

// Create inserts new submission metadata into the database.
func (r *mongoSubmissionRepository) Create(ctx context.Context, submission *domain.StudentSubmission) (primitive.ObjectID, error) {
	if submission.AssignmentID.IsZero() ||
		submission.StudentID.IsZero() ||
		submission.ObjectKey == "" {
		return primitive.NilObjectID, errors.New("submission requires assignmentId, studentId, and objectKey")
	}

	if submission.ID.IsZero() {
		submission.ID = primitive.NewObjectID()
	}
	if submission.UploadedAt.IsZero() {
		submission.UploadedAt = time.Now().UTC()
	}

	result, err := r.collection.InsertOne(ctx, submission)
	if err != nil {
		return primitive.NilObjectID, err
	}

	insertedID, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, errors.New("failed to convert inserted ID")
	}
	return insertedID, nil
}

// GetByID retrieves submission metadata by its ID.
func (r *mongoSubmissionRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.StudentSubmission, error) {
	var submission domain.StudentSubmission
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&submission)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &submission, nil
}

func (r *mongoSubmissionRepository) ListByAssignment(ctx context.Context, assignmentID, studentID primitive.ObjectID) ([]domain.StudentSubmission, error) {
	filter := bson.M{"assignmentId": assignmentID}
	if !studentID.IsZero() {
		filter["studentId"] = studentID
	}
	findOptions := options.Find().SetSort(bson.D{{Key: "uploadedAt", Value: -1}, {Key: "_id", Value: -1}})

	cursor, err := r.collection.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	submissions := []domain.StudentSubmission{}
	if err = cursor.All(ctx, &submissions); err != nil {
		return nil, err
	}
	return submissions, nil
}

func (r *mongoSubmissionRepository) DeleteByAssignment(ctx context.Context, assignmentID primitive.ObjectID) error {
	_, err := r.collection.DeleteMany(ctx, bson.M{"assignmentId": assignmentID})
	return err
}

func (r *mongoSubmissionRepository) SetSummary(ctx context.Context, id primitive.ObjectID, summary, model string, at time.Time) error {
	update := bson.M{"$set": bson.M{
		"summary":          summary,
		"summaryModel":     model,
		"summaryUpdatedAt": at,
	}}
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// AdvancePromptCursor is a compare-and-swap on nextPromptIndex.
func (r *mongoSubmissionRepository) AdvancePromptCursor(ctx context.Context, id primitive.ObjectID, expected int) (bool, error) {
	filter := bson.M{"_id": id, "nextPromptIndex": expected}
	result, err := r.collection.UpdateOne(ctx, filter, bson.M{"$inc": bson.M{"nextPromptIndex": 1}})
	if err != nil {
		return false, err
	}
	return result.ModifiedCount == 1, nil
}

func (r *mongoSubmissionRepository) ResetPromptCursor(ctx context.Context, id primitive.ObjectID) error {
	result, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"nextPromptIndex": 0}})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// EnsureSubmissionIndexes creates necessary indexes for the submissions collection.
func EnsureSubmissionIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			// Dashboard lookup: one student's submissions for an assignment
			Keys:    bson.D{{Key: "assignmentId", Value: 1}, {Key: "studentId", Value: 1}, {Key: "uploadedAt", Value: -1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "studentId", Value: 1}},
			Options: options.Index(),
		},
	}
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}
