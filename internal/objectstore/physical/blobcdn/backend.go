// Package blobcdn provides the blob CDN object backend. It speaks the
// Vercel Blob style HTTP API: authenticated PUT to upload, public GET of
// the returned URL to read, and an authenticated delete-by-URL call.
package blobcdn

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gezibash/drop/internal/object"
	"github.com/gezibash/drop/internal/objectstore/physical"
	"github.com/gezibash/drop/internal/storage"
)

const (
	KeyAPIURL     = "api_url"
	KeyToken      = "token"
	KeyPrefix     = "prefix"
	KeyTimeout    = "timeout"
	KeyAPIVersion = "api_version"
)

const backendName = string(object.KindBlobCDN)

func init() {
	physical.Register(object.KindBlobCDN, NewFactory, Defaults)
}

// Defaults returns the default configuration for the blob CDN backend.
func Defaults() map[string]string {
	return map[string]string{
		KeyAPIURL:     "https://blob.vercel-storage.com",
		KeyPrefix:     "",
		KeyTimeout:    "30s",
		KeyAPIVersion: "7",
	}
}

// NewFactory creates a blob CDN backend. Without a token the backend can
// still serve reads of public URLs but refuses writes and deletes.
func NewFactory(_ context.Context, config map[string]string) (physical.Backend, error) {
	apiURL := storage.GetString(config, KeyAPIURL, "")
	if apiURL == "" {
		return nil, storage.NewConfigError(backendName, KeyAPIURL, "cannot be empty")
	}
	if u, err := url.Parse(apiURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, storage.NewConfigErrorWithValue(backendName, KeyAPIURL, apiURL, "must be an absolute URL")
	}

	timeout, err := storage.GetDuration(config, KeyTimeout, 30*time.Second)
	if err != nil {
		return nil, storage.NewConfigErrorWithValue(backendName, KeyTimeout, config[KeyTimeout], err.Error())
	}

	// Response bodies stream arbitrarily large files, so only the wait for
	// response headers is bounded.
	client := &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			ResponseHeaderTimeout: timeout,
			IdleConnTimeout:       90 * time.Second,
		},
	}

	b := &Backend{
		apiURL:     strings.TrimRight(apiURL, "/"),
		token:      storage.GetString(config, KeyToken, ""),
		prefix:     strings.Trim(storage.GetString(config, KeyPrefix, ""), "/"),
		apiVersion: storage.GetString(config, KeyAPIVersion, "7"),
		client:     client,
	}
	if b.prefix != "" {
		b.prefix += "/"
	}

	slog.Info("blob cdn object backend initialized", "api_url", b.apiURL, "prefix", b.prefix, "writable", b.Writable())
	return b, nil
}

// Backend stores objects on a blob CDN.
type Backend struct {
	apiURL     string
	token      string
	prefix     string
	apiVersion string
	client     *http.Client
	closed     atomic.Bool
}

func (b *Backend) Kind() object.Kind { return object.KindBlobCDN }

// Writable reports whether an API token is configured.
func (b *Backend) Writable() bool { return b.token != "" }

func (b *Backend) requireToken() error {
	if b.token == "" {
		return storage.NewConfigError(backendName, KeyToken, "must be set to write or delete")
	}
	return nil
}

func (b *Backend) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+b.token)
	req.Header.Set("x-api-version", b.apiVersion)
}

type putResponse struct {
	URL         string `json:"url"`
	Pathname    string `json:"pathname"`
	ContentType string `json:"contentType"`
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func readAPIError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var ae apiError
	if json.Unmarshal(body, &ae) == nil && ae.Error.Message != "" {
		return fmt.Errorf("blobcdn %s: status %d: %s: %s", op, resp.StatusCode, ae.Error.Code, ae.Error.Message)
	}
	return fmt.Errorf("blobcdn %s: unexpected status %d: %s", op, resp.StatusCode, bytes.TrimSpace(body))
}

// Store uploads r under a fixed pathname of prefix+key. The API is told not
// to randomize the name so the object can be found by id later.
func (b *Backend) Store(ctx context.Context, key string, r io.Reader, meta physical.Meta) (object.Location, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	if err := b.requireToken(); err != nil {
		return nil, err
	}

	pathname := b.prefix + key
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, b.apiURL+"/"+url.PathEscape(pathname), io.NopCloser(r))
	if err != nil {
		return nil, fmt.Errorf("blobcdn store: %w", err)
	}
	b.authorize(req)
	req.Header.Set("x-add-random-suffix", "0")
	if meta.ContentType != "" {
		req.Header.Set("x-content-type", meta.ContentType)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("blobcdn store: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, readAPIError("store", resp)
	}

	var out putResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("blobcdn store: decode response: %w", err)
	}
	if out.URL == "" {
		return nil, fmt.Errorf("blobcdn store: response has no url")
	}
	if out.Pathname == "" {
		out.Pathname = pathname
	}
	return object.Blob{URL: out.URL, Pathname: out.Pathname}, nil
}

func blobOf(loc object.Location) (object.Blob, error) {
	l, ok := loc.(object.Blob)
	if !ok {
		return object.Blob{}, fmt.Errorf("blobcdn: cannot handle %s location", loc.Kind())
	}
	return l, nil
}

// Retrieve fetches the public URL. Any non-success status is reported as
// not found; the CDN is not retried.
func (b *Backend) Retrieve(ctx context.Context, loc object.Location) (io.ReadCloser, error) {
	if b.closed.Load() {
		return nil, physical.ErrClosed
	}
	l, err := blobOf(loc)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("blobcdn retrieve: %w", err)
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("blobcdn retrieve: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		slog.DebugContext(ctx, "blob cdn fetch failed", "url", l.URL, "status", resp.StatusCode)
		return nil, physical.ErrNotFound
	}
	return resp.Body, nil
}

// Delete removes the blob by URL. A blob the CDN no longer knows is not an error.
func (b *Backend) Delete(ctx context.Context, loc object.Location) error {
	if b.closed.Load() {
		return physical.ErrClosed
	}
	l, err := blobOf(loc)
	if err != nil {
		return err
	}
	if err := b.requireToken(); err != nil {
		return err
	}

	body, err := json.Marshal(map[string][]string{"urls": {l.URL}})
	if err != nil {
		return fmt.Errorf("blobcdn delete: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.apiURL+"/delete", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("blobcdn delete: %w", err)
	}
	b.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("blobcdn delete: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode/100 != 2 {
		return readAPIError("delete", resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Close releases idle connections.
func (b *Backend) Close() error {
	b.closed.Store(true)
	b.client.CloseIdleConnections()
	return nil
}
