package object

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireLocation flattens a Location into a record keyed by its backend tag.
// Only the fields of the tagged backend are ever populated.
type wireLocation struct {
	Backend  Kind   `json:"backend"`
	Path     string `json:"path,omitempty"`
	FileID   string `json:"file_id,omitempty"`
	URL      string `json:"url,omitempty"`
	Pathname string `json:"pathname,omitempty"`
	Bucket   string `json:"bucket,omitempty"`
	Key      string `json:"key,omitempty"`
}

type wireObject struct {
	ID           string         `json:"id"`
	DeletionKey  string         `json:"key"`
	Name         string         `json:"name"`
	Ext          string         `json:"ext"`
	ContentType  string         `json:"type"`
	Size         int64          `json:"size"`
	Checksum     string         `json:"checksum"`
	CreatedAt    time.Time      `json:"date"`
	Location     wireLocation   `json:"location"`
	Residual     []wireLocation `json:"residual,omitempty"`
	Visibility   Visibility     `json:"visibility"`
	PasswordSalt string         `json:"password_salt,omitempty"`
	PasswordHash string         `json:"password_hash,omitempty"`
}

func encodeLocation(l Location) (wireLocation, error) {
	switch l := l.(type) {
	case Local:
		return wireLocation{Backend: KindLocal, Path: l.Path}, nil
	case Chunked:
		return wireLocation{Backend: KindChunked, FileID: l.FileID}, nil
	case Blob:
		return wireLocation{Backend: KindBlobCDN, URL: l.URL, Pathname: l.Pathname}, nil
	case Bucket:
		return wireLocation{Backend: KindBucket, Bucket: l.Bucket, Key: l.Key}, nil
	case nil:
		return wireLocation{}, fmt.Errorf("nil location")
	}
	return wireLocation{}, fmt.Errorf("unknown location %T", l)
}

func decodeLocation(w wireLocation) (Location, error) {
	switch w.Backend {
	case KindLocal:
		return Local{Path: w.Path}, nil
	case KindChunked:
		return Chunked{FileID: w.FileID}, nil
	case KindBlobCDN:
		return Blob{URL: w.URL, Pathname: w.Pathname}, nil
	case KindBucket:
		return Bucket{Bucket: w.Bucket, Key: w.Key}, nil
	}
	return nil, fmt.Errorf("unknown backend %q", w.Backend)
}

// Marshal encodes an object record for the metadata store.
func Marshal(o *Object) ([]byte, error) {
	loc, err := encodeLocation(o.Location)
	if err != nil {
		return nil, fmt.Errorf("encode object %q: %w", o.ID, err)
	}
	w := wireObject{
		ID:           o.ID,
		DeletionKey:  o.DeletionKey,
		Name:         o.Name,
		Ext:          o.Ext,
		ContentType:  o.ContentType,
		Size:         o.Size,
		Checksum:     o.Checksum,
		CreatedAt:    o.CreatedAt.UTC(),
		Location:     loc,
		Visibility:   o.Visibility,
		PasswordSalt: o.PasswordSalt,
		PasswordHash: o.PasswordHash,
	}
	for _, r := range o.Residual {
		rl, err := encodeLocation(r)
		if err != nil {
			return nil, fmt.Errorf("encode object %q: residual: %w", o.ID, err)
		}
		w.Residual = append(w.Residual, rl)
	}
	return json.Marshal(w)
}

// Unmarshal decodes a record written by Marshal.
func Unmarshal(data []byte) (*Object, error) {
	var w wireObject
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	loc, err := decodeLocation(w.Location)
	if err != nil {
		return nil, fmt.Errorf("decode object %q: %w", w.ID, err)
	}
	o := &Object{
		ID:           w.ID,
		DeletionKey:  w.DeletionKey,
		Name:         w.Name,
		Ext:          w.Ext,
		ContentType:  w.ContentType,
		Size:         w.Size,
		Checksum:     w.Checksum,
		CreatedAt:    w.CreatedAt,
		Location:     loc,
		Visibility:   w.Visibility,
		PasswordSalt: w.PasswordSalt,
		PasswordHash: w.PasswordHash,
	}
	if o.Visibility == "" {
		o.Visibility = Public
	}
	for _, rw := range w.Residual {
		rl, err := decodeLocation(rw)
		if err != nil {
			return nil, fmt.Errorf("decode object %q: residual: %w", w.ID, err)
		}
		o.Residual = append(o.Residual, rl)
	}
	return o, nil
}
