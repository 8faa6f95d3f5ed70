// Package object defines the persisted record for an uploaded file and the
// backend locations its bytes may live in.
package object

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind tags the physical backend that holds an object's bytes.
type Kind string

// Backend kinds.
const (
	KindLocal   Kind = "local"
	KindChunked Kind = "chunked-store"
	KindBlobCDN Kind = "blob-cdn"
	KindBucket  Kind = "bucket"
)

// Kinds lists every backend kind in routing precedence order.
var Kinds = []Kind{KindLocal, KindChunked, KindBlobCDN, KindBucket}

// ParseKind maps a user-facing storage selector to a Kind.
// Common aliases (fs, gridfs, blob, s3, r2, ...) are accepted.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local", "fs", "file", "disk":
		return KindLocal, true
	case "chunked-store", "chunked", "gridfs", "mongo", "mongodb":
		return KindChunked, true
	case "blob-cdn", "blob", "cdn", "vercel":
		return KindBlobCDN, true
	case "bucket", "s3", "r2":
		return KindBucket, true
	}
	return "", false
}

// Short returns the compact storage name reported to clients.
func (k Kind) Short() string {
	switch k {
	case KindLocal:
		return "fs"
	case KindChunked:
		return "gridfs"
	case KindBlobCDN:
		return "blob"
	case KindBucket:
		return "s3"
	}
	return string(k)
}

// Visibility controls whether retrieval requires a password.
type Visibility string

const (
	Public  Visibility = "public"
	Private Visibility = "private"
)

// ParseVisibility parses a visibility flag; empty means public.
func ParseVisibility(s string) (Visibility, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "public":
		return Public, true
	case "private":
		return Private, true
	}
	return "", false
}

// Object is the metadata record for one uploaded file. It is written once,
// after its bytes are stored, and never mutated afterwards.
type Object struct {
	ID          string
	DeletionKey string
	Name        string
	Ext         string
	ContentType string
	Size        int64
	Checksum    string
	CreatedAt   time.Time

	// Location is authoritative for retrieval.
	Location Location
	// Residual holds copies left behind by a dual write that could not be
	// reclaimed at upload time. Only deletion looks at them.
	Residual []Location

	Visibility   Visibility
	PasswordSalt string
	PasswordHash string
}

// Backend returns the authoritative backend tag.
func (o *Object) Backend() Kind {
	if o.Location == nil {
		return ""
	}
	return o.Location.Kind()
}

// Private reports whether retrieval is password gated.
func (o *Object) Private() bool {
	return o.Visibility == Private
}

// Filename is the public file name: id plus extension.
func (o *Object) Filename() string {
	return o.ID + o.Ext
}

// Locations returns every location that may hold bytes for this object,
// authoritative first.
func (o *Object) Locations() []Location {
	locs := make([]Location, 0, 1+len(o.Residual))
	if o.Location != nil {
		locs = append(locs, o.Location)
	}
	return append(locs, o.Residual...)
}

// Validate checks the record invariants.
func (o *Object) Validate() error {
	var errs []error
	if o.ID == "" {
		errs = append(errs, errors.New("id is empty"))
	}
	if o.DeletionKey == "" {
		errs = append(errs, errors.New("deletion key is empty"))
	}
	if o.Location == nil {
		errs = append(errs, errors.New("location is missing"))
	}
	if (o.PasswordSalt == "") != (o.PasswordHash == "") {
		errs = append(errs, errors.New("password salt and hash must be set together"))
	}
	if o.Private() && o.PasswordHash == "" {
		errs = append(errs, errors.New("private object has no password"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid object %q: %w", o.ID, err)
	}
	return nil
}
