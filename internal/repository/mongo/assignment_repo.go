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

const assignmentCollectionName = "assignments"

// mongoAssignmentRepository implements repository.AssignmentRepository
type mongoAssignmentRepository struct {
	collection *mongo.Collection
}

// NewMongoAssignmentRepository creates a new Assignment repository backed by MongoDB.
func NewMongoAssignmentRepository(db *mongo.Database) repository.AssignmentRepository {
	return &mongoAssignmentRepository{
		collection: db.Collection(assignmentCollectionName),
	}
}

// Create inserts the assignment together with its documents and prompts.
// A single insert keeps creation all-or-nothing.
func (r *mongoAssignmentRepository) Create(ctx context.Context, assignment *domain.Assignment) (primitive.ObjectID, error) {
	if assignment.Title == "" {
		return primitive.NilObjectID, errors.New("assignment requires a title")
	}

	if assignment.ID.IsZero() {
		assignment.ID = primitive.NewObjectID()
	}
	now := time.Now().UTC()
	assignment.CreatedAt = now
	assignment.UpdatedAt = now
	if assignment.Prompts == nil {
		assignment.Prompts = []domain.AssignmentPrompt{}
	}

	result, err := r.collection.InsertOne(ctx, assignment)
	if err != nil {
		return primitive.NilObjectID, err
	}

	insertedID, ok := result.InsertedID.(primitive.ObjectID)
	if !ok {
		return primitive.NilObjectID, errors.New("failed to convert inserted assignment ID")
	}
	return insertedID, nil
}

// GetByID retrieves an assignment by its ID.
func (r *mongoAssignmentRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*domain.Assignment, error) {
	var assignment domain.Assignment
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&assignment)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &assignment, nil
}

// List returns all assignments, newest first.
func (r *mongoAssignmentRepository) List(ctx context.Context) ([]domain.Assignment, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.M{}, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	assignments := []domain.Assignment{}
	if err = cursor.All(ctx, &assignments); err != nil {
		return nil, err
	}
	return assignments, nil
}

// Update replaces title, description and documents. Prompts are managed by
// their own methods and left untouched.
func (r *mongoAssignmentRepository) Update(ctx context.Context, assignment *domain.Assignment) error {
	assignment.UpdatedAt = time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"title":       assignment.Title,
			"description": assignment.Description,
			"documents":   assignment.Documents,
			"updatedAt":   assignment.UpdatedAt,
		},
	}
	return r.updateOne(ctx, bson.M{"_id": assignment.ID}, update)
}

func (r *mongoAssignmentRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SetDocumentSummary stores the summary for the document in slot.
func (r *mongoAssignmentRepository) SetDocumentSummary(ctx context.Context, id primitive.ObjectID, slot int, summary, model string, at time.Time) error {
	filter := bson.M{"_id": id, "documents.slot": slot}
	update := bson.M{
		"$set": bson.M{
			"documents.$.summary":          summary,
			"documents.$.summaryModel":     model,
			"documents.$.summaryUpdatedAt": at,
			"updatedAt":                    time.Now().UTC(),
		},
	}
	return r.updateOne(ctx, filter, update)
}

func (r *mongoAssignmentRepository) AddPrompt(ctx context.Context, id primitive.ObjectID, prompt *domain.AssignmentPrompt) error {
	if prompt.ID.IsZero() {
		prompt.ID = primitive.NewObjectID()
	}
	if prompt.CreatedAt.IsZero() {
		prompt.CreatedAt = time.Now().UTC()
	}
	update := bson.M{
		"$push": bson.M{"prompts": prompt},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	}
	return r.updateOne(ctx, bson.M{"_id": id}, update)
}

func (r *mongoAssignmentRepository) UpdatePrompt(ctx context.Context, id primitive.ObjectID, prompt *domain.AssignmentPrompt) error {
	filter := bson.M{"_id": id, "prompts._id": prompt.ID}
	update := bson.M{
		"$set": bson.M{
			"prompts.$.title":           prompt.Title,
			"prompts.$.promptText":      prompt.PromptText,
			"prompts.$.exampleResponse": prompt.ExampleResponse,
			"prompts.$.displayOrder":    prompt.DisplayOrder,
			"updatedAt":                 time.Now().UTC(),
		},
	}
	return r.updateOne(ctx, filter, update)
}

func (r *mongoAssignmentRepository) DeletePrompt(ctx context.Context, id, promptID primitive.ObjectID) error {
	filter := bson.M{"_id": id, "prompts._id": promptID}
	update := bson.M{
		"$pull": bson.M{"prompts": bson.M{"_id": promptID}},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	}
	return r.updateOne(ctx, filter, update)
}

func (r *mongoAssignmentRepository) updateOne(ctx context.Context, filter, update bson.M) error {
	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// EnsureAssignmentIndexes creates necessary indexes for the assignments collection.
func EnsureAssignmentIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "createdAt", Value: -1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "prompts._id", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	}
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}
