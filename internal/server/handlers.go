package server

import (
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/gezibash/drop/internal/object"
	"github.com/gezibash/drop/internal/objectstore"
)

// PasswordHeader carries the password for a private object.
const PasswordHeader = "X-Password"

type handler struct {
	svc *objectstore.Service
	cfg Config
}

type uploadResponse struct {
	ID       string `json:"id"`
	Ext      string `json:"ext"`
	Type     string `json:"type"`
	Checksum string `json:"checksum"`
	Key      string `json:"key"`
	Origin   string `json:"origin"`
	Private  bool   `json:"private"`
	Size     int64  `json:"size"`
	Name     string `json:"name"`
	URL      string `json:"url,omitempty"`
}

type infoResponse struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Date      time.Time         `json:"date"`
	Size      int64             `json:"size"`
	Checksums map[string]string `json:"checksums"`
	Name      string            `json:"name"`
}

func (h *handler) upload(w http.ResponseWriter, r *http.Request) {
	req, err := h.readUpload(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.svc.Upload(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := uploadResponse{
		ID:       o.ID,
		Ext:      o.Ext,
		Type:     o.ContentType,
		Checksum: o.Checksum,
		Key:      o.DeletionKey,
		Origin:   o.Backend().Short(),
		Private:  o.Private(),
		Size:     o.Size,
		Name:     o.Name,
	}
	if h.cfg.PublicURL != "" {
		resp.URL = strings.TrimRight(h.cfg.PublicURL, "/") + "/" + o.Filename()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) retrieve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	password := q.Get("pw")
	if password == "" {
		password = r.Header.Get(PasswordHeader)
	}

	o, rc, err := h.svc.Open(r.Context(), mux.Vars(r)["id"], password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	hdr := w.Header()
	hdr.Set("Content-Type", o.ContentType)
	hdr.Set("Content-Length", strconv.FormatInt(o.Size, 10))
	hdr.Set("X-Content-Type-Options", "nosniff")
	if o.Checksum != "" {
		hdr.Set("ETag", strconv.Quote(o.Checksum))
	}
	if o.Private() {
		hdr.Set("Cache-Control", "private, no-store")
	} else {
		hdr.Set("Cache-Control", "public, max-age=31536000, immutable")
	}
	if !suppressDisposition(q.Get("download"), q.Get("dl")) {
		name := o.Name
		if name == "" {
			name = o.Filename()
		}
		hdr.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, rc); err != nil {
		slog.WarnContext(r.Context(), "response stream interrupted", "id", o.ID, "backend", o.Backend(), "error", err)
	}
}

func suppressDisposition(flags ...string) bool {
	for _, f := range flags {
		switch strings.ToLower(f) {
		case "0", "false", "no":
			return true
		}
	}
	return false
}

func (h *handler) delete(w http.ResponseWriter, r *http.Request) {
	if _, err := h.svc.Delete(r.Context(), r.FormValue("key")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *handler) info(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.Lookup(r.Context(), mux.Vars(r)["ref"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newInfo(o))
}

func newInfo(o *object.Object) infoResponse {
	return infoResponse{
		ID:        o.ID,
		Type:      o.ContentType,
		Date:      o.CreatedAt,
		Size:      o.Size,
		Checksums: map[string]string{"md5": o.Checksum},
		Name:      o.Name,
	}
}
