package service

import (
	"errors"
	"io"

	"dialoque/server/internal/repository"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ErrNotFound covers missing records and records the caller does not own.
var ErrNotFound = errors.New("not found")

// FileUpload is an uploaded file held in memory.
type FileUpload struct {
	Filename string
	MimeType string
	Content  []byte
}

// FileDownload streams stored content. The caller closes Body.
type FileDownload struct {
	Filename string
	MimeType string
	Size     int64
	Body     io.ReadCloser
}

func parseID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, ErrNotFound
	}
	return oid, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
