package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gezibash/drop/internal/objectstore"
)

// multipartSlack is headroom over MaxUploadSize for boundaries and the
// small text fields that travel with the file.
const multipartSlack = 64 << 10

const maxFieldSize = 4 << 10

var uploadFields = []string{"visibility", "password", "storage", "checksum"}

// readUpload walks the multipart body up to the file part and returns a
// request that streams the file straight from the connection. Fields before
// the file part, then query parameters, supply the upload options; fields
// after it are read through the request's Trailer once the file is stored.
func (h *handler) readUpload(w http.ResponseWriter, r *http.Request) (*objectstore.UploadRequest, error) {
	if limit := h.cfg.MaxUploadSize; limit > 0 {
		if r.ContentLength > limit+multipartSlack {
			return nil, fmt.Errorf("%w: request is %d bytes, limit %d", objectstore.ErrPayloadTooLarge, r.ContentLength, limit)
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartSlack)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: expected multipart/form-data: %v", objectstore.ErrInvalidInput, err)
	}

	fields := make(map[string]string, len(uploadFields))
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: file is required", objectstore.ErrInvalidInput)
		}
		if err != nil {
			return nil, badBody(err)
		}

		name := part.FormName()
		if name == "file" {
			req := &objectstore.UploadRequest{
				Body:        &bodyReader{part: part},
				Size:        -1,
				SizeHint:    r.ContentLength,
				Name:        filepath.Base(filepath.Clean("/" + part.FileName())),
				ContentType: part.Header.Get("Content-Type"),
			}
			if req.Name == "/" {
				req.Name = ""
			}
			q := r.URL.Query()
			for _, f := range uploadFields {
				if _, ok := fields[f]; !ok {
					fields[f] = q.Get(f)
				}
			}
			req.Visibility = fields["visibility"]
			req.Password = fields["password"]
			req.Storage = fields["storage"]
			req.Checksum = fields["checksum"]
			req.Trailer = func() (map[string]string, error) {
				return readTrailer(mr)
			}
			return req, nil
		}

		value, err := readField(part)
		if err != nil {
			return nil, err
		}
		fields[name] = value
	}
}

// readTrailer collects the text fields that follow the file part.
func readTrailer(mr *multipart.Reader) (map[string]string, error) {
	fields := make(map[string]string)
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return fields, nil
		}
		if err != nil {
			return nil, badBody(err)
		}
		if part.FormName() == "file" {
			_ = part.Close()
			return nil, fmt.Errorf("%w: only one file may be uploaded", objectstore.ErrInvalidInput)
		}
		value, err := readField(part)
		if err != nil {
			return nil, err
		}
		fields[part.FormName()] = value
	}
}

func readField(part *multipart.Part) (string, error) {
	defer part.Close()
	value, err := io.ReadAll(io.LimitReader(part, maxFieldSize+1))
	if err != nil {
		return "", badBody(err)
	}
	if len(value) > maxFieldSize {
		return "", fmt.Errorf("%w: field %q is too long", objectstore.ErrInvalidInput, part.FormName())
	}
	return strings.TrimSpace(string(value)), nil
}

func badBody(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fmt.Errorf("%w: request exceeds %d bytes", objectstore.ErrPayloadTooLarge, maxErr.Limit)
	}
	return fmt.Errorf("%w: malformed multipart body: %v", objectstore.ErrInvalidInput, err)
}

// bodyReader reports an oversized request body as ErrPayloadTooLarge so
// the router and the error mapping see one sentinel.
type bodyReader struct {
	part *multipart.Part
}

func (b *bodyReader) Read(p []byte) (int, error) {
	n, err := b.part.Read(p)
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		err = fmt.Errorf("%w: request exceeds %d bytes", objectstore.ErrPayloadTooLarge, maxErr.Limit)
	}
	return n, err
}
