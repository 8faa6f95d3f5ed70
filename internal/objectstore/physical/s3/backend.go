// Package s3 provides the S3-compatible bucket object backend.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/gezibash/drop/internal/object"
	"github.com/gezibash/drop/internal/objectstore/physical"
	"github.com/gezibash/drop/internal/storage"
)

const (
	KeyBucket          = "bucket"
	KeyRegion          = "region"
	KeyEndpoint        = "endpoint"
	KeyPrefix          = "prefix"
	KeyAccessKeyID     = "access_key_id"
	KeySecretAccessKey = "secret_access_key"
	KeyForcePathStyle  = "force_path_style"
	KeyVerifyBucket    = "verify_bucket"
	KeySpoolDir        = "spool_dir"
)

const backendName = string(object.KindBucket)

func init() {
	physical.Register(object.KindBucket, NewFactory, Defaults)
}

// Defaults returns the default configuration for the bucket backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyRegion:         "auto",
		KeyPrefix:         "",
		KeyForcePathStyle: "true",
		KeyVerifyBucket:   "true",
		KeySpoolDir:       "",
	}
}

// NewFactory creates a bucket backend from a configuration map. Endpoint,
// bucket and both credential halves are required; nothing is sent to the
// endpoint when any is missing.
func NewFactory(ctx context.Context, config map[string]string) (physical.Backend, error) {
	vals, err := storage.Require(backendName, config, KeyEndpoint, KeyBucket, KeyAccessKeyID, KeySecretAccessKey)
	if err != nil {
		return nil, err
	}
	endpoint, bucket, accessKeyID, secretAccessKey := vals[0], vals[1], vals[2], vals[3]

	region := storage.GetString(config, KeyRegion, "auto")
	prefix := storage.GetString(config, KeyPrefix, "")
	spoolDir := storage.GetString(config, KeySpoolDir, "")
	if spoolDir != "" {
		spoolDir = storage.ExpandPath(spoolDir)
	}

	forcePathStyle, err := storage.GetBool(config, KeyForcePathStyle, true)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue(backendName, KeyForcePathStyle, config[KeyForcePathStyle], err.Error())
	}
	verify, err := storage.GetBool(config, KeyVerifyBucket, true)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue(backendName, KeyVerifyBucket, config[KeyVerifyBucket], err.Error())
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, ""),
		),
	)
	if err != nil {
		return nil, storage.NewConfigErrorWithCause(backendName, "", "failed to load AWS config", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = forcePathStyle
		// S3-compatible stores (R2, MinIO) reject or mangle the SDK's
		// default trailing checksums.
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})

	if verify {
		// Fail fast: verify bucket access.
		_, err = client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
		if err != nil {
			return nil, storage.NewConfigErrorWithCause(backendName, KeyBucket, "bucket not accessible", err)
		}
	}

	slog.Info("bucket object backend initialized", "endpoint", endpoint, "bucket", bucket, "region", region, "prefix", prefix)

	return &Backend{
		client:   client,
		bucket:   bucket,
		prefix:   prefix,
		spoolDir: spoolDir,
	}, nil
}

// Backend stores objects in an S3-compatible bucket.
type Backend struct {
	client   *s3.Client
	bucket   string
	prefix   string
	spoolDir string
	closed   atomic.Bool
}

func (b *Backend) Kind() object.Kind { return object.KindBucket }

func locOf(loc object.Location) (object.Bucket, error) {
	l, ok := loc.(object.Bucket)
	if !ok {
		return object.Bucket{}, fmt.Errorf("s3: cannot handle %s location", loc.Kind())
	}
	return l, nil
}

// spool copies r to a temp file so the SDK gets a seekable body with a
// known length. Only one copy of the payload ever touches disk.
func (b *Backend) spool(r io.Reader) (*os.File, int64, error) {
	f, err := os.CreateTemp(b.spoolDir, "drop-s3-*")
	if err != nil {
		return nil, 0, err
	}
	discard := func() {
		_ = f.Close()
		_ = os.Remove(f.Name())
	}
	n, err := io.Copy(f, r)
	if err != nil {
		discard()
		return nil, 0, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		discard()
		return nil, 0, err
	}
	return f, n, nil
}

// Store uploads r under prefix+key.
func (b *Backend) Store(ctx context.Context, key string, r io.Reader, meta physical.Meta) (object.Location, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}

	body, size, err := b.spool(r)
	if err != nil {
		return nil, fmt.Errorf("s3 store: %w", err)
	}
	defer func() {
		_ = body.Close()
		_ = os.Remove(body.Name())
	}()

	in := &s3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(b.prefix + key),
		Body:          body,
		ContentLength: aws.Int64(size),
	}
	if meta.ContentType != "" {
		in.ContentType = aws.String(meta.ContentType)
	}
	if _, err := b.client.PutObject(ctx, in); err != nil {
		return nil, fmt.Errorf("s3 store: %w", err)
	}
	return object.Bucket{Bucket: b.bucket, Key: b.prefix + key}, nil
}

// Retrieve streams the object body.
func (b *Backend) Retrieve(ctx context.Context, loc object.Location) (io.ReadCloser, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	l, err := locOf(loc)
	if err != nil {
		return nil, err
	}

	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(l.Bucket),
		Key:    aws.String(l.Key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, physical.ErrNotFound
		}
		return nil, fmt.Errorf("s3 retrieve: %w", err)
	}
	return out.Body, nil
}

// Delete removes the object. S3 delete is already idempotent.
func (b *Backend) Delete(ctx context.Context, loc object.Location) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	l, err := locOf(loc)
	if err != nil {
		return err
	}

	_, err = b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(l.Bucket),
		Key:    aws.String(l.Key),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("s3 delete: %w", err)
	}
	return nil
}

// Close is a no-op; the S3 SDK client needs no cleanup.
func (b *Backend) Close() error {
	b.closed.Store(true)
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	// HeadObject returns a generic error with status 404.
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
		return true
	}
	return false
}
