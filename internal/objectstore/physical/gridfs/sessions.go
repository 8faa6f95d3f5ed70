package gridfs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/gezibash/drop/internal/objectstore/physical"
)

// mongoSessions opens a GridFS bucket per operation. The bucket handle
// carries deadlines, so a fresh one keeps concurrent requests from
// clobbering each other's.
type mongoSessions struct {
	client    *mongo.Client
	db        *mongo.Database
	bucket    string
	chunkSize int32
}

func (m *mongoSessions) open(ctx context.Context) (*gridfs.Bucket, error) {
	b, err := gridfs.NewBucket(m.db, options.GridFSBucket().SetName(m.bucket).SetChunkSizeBytes(m.chunkSize))
	if err != nil {
		return nil, err
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = b.SetReadDeadline(dl)
		_ = b.SetWriteDeadline(dl)
	}
	return b, nil
}

func (m *mongoSessions) Upload(ctx context.Context, filename string, r io.Reader, metadata bson.D) (string, error) {
	b, err := m.open(ctx)
	if err != nil {
		return "", err
	}
	stream, err := b.OpenUploadStream(filename, options.GridFSUpload().SetMetadata(metadata))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(stream, ctxReader{ctx: ctx, r: r}); err != nil {
		_ = stream.Abort()
		return "", err
	}
	if err := stream.Close(); err != nil {
		return "", err
	}
	id, ok := stream.FileID.(primitive.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected file id type %T", stream.FileID)
	}
	return id.Hex(), nil
}

func (m *mongoSessions) Download(ctx context.Context, fileID string) (io.ReadCloser, error) {
	oid, err := primitive.ObjectIDFromHex(fileID)
	if err != nil {
		return nil, physical.ErrNotFound
	}
	b, err := m.open(ctx)
	if err != nil {
		return nil, err
	}
	ds, err := b.OpenDownloadStream(oid)
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, physical.ErrNotFound
		}
		return nil, err
	}
	return ds, nil
}

func (m *mongoSessions) Delete(ctx context.Context, fileID string) error {
	oid, err := primitive.ObjectIDFromHex(fileID)
	if err != nil {
		return physical.ErrNotFound
	}
	b, err := m.open(ctx)
	if err != nil {
		return err
	}
	if err := b.Delete(oid); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return physical.ErrNotFound
		}
		return err
	}
	return nil
}

func (m *mongoSessions) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// ctxReader stops an upload once the request context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
