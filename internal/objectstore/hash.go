package objectstore

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"hash"
	"io"
)

// errShortRead means a backend reported success before reading the whole body.
var errShortRead = errors.New("backend stopped reading before the end of the body")

// Hasher passes bytes through unchanged while counting them and, unless
// bypassed, feeding them to an MD5 digest. Sum is only meaningful once the
// stream has been read to EOF.
type Hasher struct {
	r   io.Reader
	h   hash.Hash
	n   int64
	eof bool
}

// NewHasher wraps r with an MD5 digest.
func NewHasher(r io.Reader) *Hasher {
	return &Hasher{r: r, h: md5.New()}
}

// NewMeter wraps r with a byte counter only. It is used when the client
// supplied its own checksum, which is trusted as is.
func NewMeter(r io.Reader) *Hasher {
	return &Hasher{r: r}
}

func (h *Hasher) Read(p []byte) (int, error) {
	n, err := h.r.Read(p)
	if n > 0 {
		h.n += int64(n)
		if h.h != nil {
			h.h.Write(p[:n])
		}
	}
	if err == io.EOF {
		h.eof = true
	}
	return n, err
}

// N returns the number of bytes read so far.
func (h *Hasher) N() int64 { return h.n }

// Complete reports whether the stream was read to EOF.
func (h *Hasher) Complete() bool { return h.eof }

// finish confirms the stream is exhausted, reading to EOF if a consumer
// stopped exactly at the end. Any further byte is errShortRead.
func (h *Hasher) finish() error {
	if h.Complete() {
		return nil
	}
	var b [1]byte
	for {
		n, err := h.Read(b[:])
		if n > 0 {
			return errShortRead
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Sum returns the hex digest, or "" for a meter.
func (h *Hasher) Sum() string {
	if h.h == nil {
		return ""
	}
	return hex.EncodeToString(h.h.Sum(nil))
}

// limitReader fails with ErrPayloadTooLarge once more than max bytes are read.
type limitReader struct {
	r   io.Reader
	max int64
	n   int64
}

func newLimitReader(r io.Reader, max int64) io.Reader {
	if max <= 0 {
		return r
	}
	return &limitReader{r: r, max: max}
}

func (l *limitReader) Read(p []byte) (int, error) {
	if l.n > l.max {
		return 0, ErrPayloadTooLarge
	}
	// Allow one byte past the limit so an exact-size stream still sees EOF.
	if rem := l.max + 1 - l.n; int64(len(p)) > rem {
		p = p[:rem]
	}
	n, err := l.r.Read(p)
	l.n += int64(n)
	if l.n > l.max {
		return 0, ErrPayloadTooLarge
	}
	return n, err
}
