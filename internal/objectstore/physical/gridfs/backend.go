// Package gridfs provides the chunked object-store backend on MongoDB GridFS.
package gridfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/gezibash/drop/internal/object"
	"github.com/gezibash/drop/internal/objectstore/physical"
	"github.com/gezibash/drop/internal/storage"
)

const (
	KeyURI            = "uri"
	KeyDatabase       = "database"
	KeyBucket         = "bucket"
	KeyChunkSize      = "chunk_size"
	KeyConnectTimeout = "connect_timeout"
)

const backendName = string(object.KindChunked)

func init() {
	physical.Register(object.KindChunked, NewFactory, Defaults)
}

// Defaults returns the default configuration for the GridFS backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyDatabase:       "drop",
		KeyBucket:         "uploads",
		KeyChunkSize:      "255KiB",
		KeyConnectTimeout: "10s",
	}
}

// NewFactory connects to MongoDB and returns a GridFS backend.
func NewFactory(ctx context.Context, config map[string]string) (physical.Backend, error) {
	vals, err := storage.Require(backendName, config, KeyURI)
	if err != nil {
		return nil, err
	}
	uri := vals[0]
	database := storage.GetString(config, KeyDatabase, "drop")
	bucket := storage.GetString(config, KeyBucket, "uploads")

	chunkSize, err := storage.GetSize(config, KeyChunkSize, 255*1024)
	if err != nil {
		return nil, err
	}
	if chunkSize <= 0 || chunkSize > 16<<20 {
		return nil, storage.NewConfigErrorWithValue(backendName, KeyChunkSize, config[KeyChunkSize], "must be between 1 byte and 16MiB")
	}
	timeout, err := storage.GetDuration(config, KeyConnectTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetConnectTimeout(timeout))
	if err != nil {
		return nil, storage.NewConfigErrorWithCause(backendName, KeyURI, "failed to connect", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, storage.NewConfigErrorWithCause(backendName, KeyURI, "server not reachable", err)
	}

	slog.Info("gridfs object backend initialized", "database", database, "bucket", bucket, "chunk_size", chunkSize)

	return NewWithSessions(&mongoSessions{
		client:    client,
		db:        client.Database(database),
		bucket:    bucket,
		chunkSize: int32(chunkSize),
	}), nil
}

// Sessions opens upload and download sessions against large-object storage.
// Download and Delete return physical.ErrNotFound for unknown ids.
type Sessions interface {
	Upload(ctx context.Context, filename string, r io.Reader, metadata bson.D) (fileID string, err error)
	Download(ctx context.Context, fileID string) (io.ReadCloser, error)
	Delete(ctx context.Context, fileID string) error
	Close(ctx context.Context) error
}

// Backend stores objects as GridFS files.
type Backend struct {
	sessions Sessions
	closed   atomic.Bool
}

// NewWithSessions creates a backend over an existing session provider.
func NewWithSessions(s Sessions) *Backend {
	return &Backend{sessions: s}
}

func (b *Backend) Kind() object.Kind { return object.KindChunked }

func fileIDOf(loc object.Location) (string, error) {
	l, ok := loc.(object.Chunked)
	if !ok {
		return "", fmt.Errorf("gridfs: cannot handle %s location", loc.Kind())
	}
	return l.FileID, nil
}

// Store uploads r as a GridFS file named key. The original name and
// content type travel in the file's metadata document.
func (b *Backend) Store(ctx context.Context, key string, r io.Reader, meta physical.Meta) (object.Location, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	md := bson.D{
		{Key: "originalName", Value: meta.Name},
		{Key: "contentType", Value: meta.ContentType},
	}
	id, err := b.sessions.Upload(ctx, key, r, md)
	if err != nil {
		return nil, fmt.Errorf("gridfs store: %w", err)
	}
	return object.Chunked{FileID: id}, nil
}

// Retrieve opens a download session for loc.
func (b *Backend) Retrieve(ctx context.Context, loc object.Location) (io.ReadCloser, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	id, err := fileIDOf(loc)
	if err != nil {
		return nil, err
	}
	rc, err := b.sessions.Download(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("gridfs retrieve: %w", err)
	}
	return rc, nil
}

// Delete removes the file and its chunks.
func (b *Backend) Delete(ctx context.Context, loc object.Location) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	id, err := fileIDOf(loc)
	if err != nil {
		return err
	}
	if err := b.sessions.Delete(ctx, id); err != nil && !errors.Is(err, physical.ErrNotFound) {
		return fmt.Errorf("gridfs delete: %w", err)
	}
	return nil
}

// Close disconnects from the server.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.sessions.Close(ctx)
}
