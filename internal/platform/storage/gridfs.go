// Package storage keeps generated artifacts in MongoDB GridFS.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RefPrefix is the public path under which the gateway serves stored artifacts
const RefPrefix = "/api/v1/artifacts/"

var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactStore persists artifacts and returns a public reference
type ArtifactStore interface {
	Store(ctx context.Context, name string, r io.Reader) (string, error)
	Open(ctx context.Context, id string) (*Artifact, error)
}

// Artifact is an open download; the caller closes Content
type Artifact struct {
	ID      string
	Name    string
	Length  int64
	Content io.ReadCloser
}

// fileBucket isolates the GridFS calls so the store can be tested without a server
type fileBucket interface {
	upload(ctx context.Context, name string, r io.Reader, metadata bson.D) (primitive.ObjectID, error)
	download(ctx context.Context, id primitive.ObjectID) (*Artifact, error)
}

var _ ArtifactStore = (*GridFSStorage)(nil)

type GridFSStorage struct {
	bucket fileBucket
	logger *slog.Logger
}

// NewGridFSStorage opens a fresh bucket handle per call because GridFS
// deadlines are set on the bucket, not per operation
func NewGridFSStorage(open func() (*gridfs.Bucket, error), logger *slog.Logger) *GridFSStorage {
	return &GridFSStorage{
		bucket: &gridFSBucket{open: open},
		logger: logger,
	}
}

// Store uploads r under name and returns its public reference
func (s *GridFSStorage) Store(ctx context.Context, name string, r io.Reader) (string, error) {
	id, err := s.bucket.upload(ctx, name, r, bson.D{{Key: "source", Value: "generation"}})
	if err != nil {
		return "", fmt.Errorf("failed to store artifact %q: %w", name, err)
	}

	s.logger.Info("Stored artifact", "artifact_id", id.Hex(), "name", name)
	return RefPrefix + id.Hex(), nil
}

// Open accepts either a bare id or a reference returned by Store
func (s *GridFSStorage) Open(ctx context.Context, id string) (*Artifact, error) {
	oid, err := primitive.ObjectIDFromHex(strings.TrimPrefix(id, RefPrefix))
	if err != nil {
		return nil, ErrArtifactNotFound
	}
	return s.bucket.download(ctx, oid)
}

type gridFSBucket struct {
	open func() (*gridfs.Bucket, error)
}

func (b *gridFSBucket) upload(ctx context.Context, name string, r io.Reader, metadata bson.D) (primitive.ObjectID, error) {
	bucket, err := b.open()
	if err != nil {
		return primitive.NilObjectID, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := bucket.SetWriteDeadline(deadline); err != nil {
			return primitive.NilObjectID, err
		}
	}
	return bucket.UploadFromStream(name, r, options.GridFSUpload().SetMetadata(metadata))
}

func (b *gridFSBucket) download(ctx context.Context, id primitive.ObjectID) (*Artifact, error) {
	bucket, err := b.open()
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		if err := bucket.SetReadDeadline(deadline); err != nil {
			return nil, err
		}
	}

	stream, err := bucket.OpenDownloadStream(id)
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, ErrArtifactNotFound
		}
		return nil, fmt.Errorf("failed to open artifact %s: %w", id.Hex(), err)
	}

	file := stream.GetFile()
	return &Artifact{
		ID:      id.Hex(),
		Name:    file.Name,
		Length:  file.Length,
		Content: stream,
	}, nil
}
