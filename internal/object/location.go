package object

import "fmt"

// Location points at an object's bytes inside one backend. The set of
// implementations is closed: Local, Chunked, Blob and Bucket.
type Location interface {
	Kind() Kind
	String() string
	location()
}

// Local is a path relative to the filesystem backend root.
type Local struct {
	Path string
}

// Chunked is a file id in the chunked object store.
type Chunked struct {
	FileID string
}

// Blob is a blob CDN object. URL serves reads, Pathname addresses deletes.
type Blob struct {
	URL      string
	Pathname string
}

// Bucket is an object in an S3-compatible bucket.
type Bucket struct {
	Bucket string
	Key    string
}

func (Local) Kind() Kind   { return KindLocal }
func (Chunked) Kind() Kind { return KindChunked }
func (Blob) Kind() Kind    { return KindBlobCDN }
func (Bucket) Kind() Kind  { return KindBucket }

func (l Local) String() string   { return "local:" + l.Path }
func (c Chunked) String() string { return "chunked-store:" + c.FileID }
func (b Blob) String() string    { return "blob-cdn:" + b.URL }
func (b Bucket) String() string  { return fmt.Sprintf("bucket:%s/%s", b.Bucket, b.Key) }

func (Local) location()   {}
func (Chunked) location() {}
func (Blob) location()    {}
func (Bucket) location()  {}
