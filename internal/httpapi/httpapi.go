// Package httpapi serves the plain-HTTP surface named in spec.md §6:
// reading a snapshot, changing a document's password, and a health
// probe. The WebSocket endpoint lives in internal/wsapi.
//
// Grounded on original_source/server/src/handlers/http.rs
// (get_snapshot/update_password/health), translated from axum's
// extractor-based handlers into gorilla/mux's plain
// http.HandlerFunc(w, r) style — the router the teacher's go.mod
// already carries but never wires up.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/prosemark/server/internal/apperr"
	"github.com/prosemark/server/internal/auth"
	"github.com/prosemark/server/internal/document"
	"github.com/prosemark/server/internal/proto"
	"github.com/prosemark/server/internal/storage"
)

// DocProvider is satisfied by *hub.Hub.
type DocProvider interface {
	DocFor(slug string) *document.Doc
}

type API struct {
	hub     DocProvider
	catalog *storage.Catalog
	log     *zap.Logger
}

func New(hub DocProvider, catalog *storage.Catalog, log *zap.Logger) *API {
	return &API{hub: hub, catalog: catalog, log: log}
}

// Register attaches the handlers to r under /api.
func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/api/snapshot", a.getSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/api/password", a.updatePassword).Methods(http.MethodPost)
	r.HandleFunc("/api/documents", a.listDocuments).Methods(http.MethodGet)
	r.HandleFunc("/api/health", a.health).Methods(http.MethodGet)
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

// getSnapshot implements `GET /api/snapshot?slug=...`: the password
// may arrive as a `password` query param, a Basic auth header, or a
// base64 token query param (§6), in that priority order.
func (a *API) getSnapshot(w http.ResponseWriter, r *http.Request) {
	slug := r.URL.Query().Get("slug")
	if slug == "" {
		http.Error(w, "missing slug", http.StatusBadRequest)
		return
	}

	password := r.URL.Query().Get("password")
	if password == "" {
		if pw, ok := auth.ExtractPassword(r, slug); ok {
			password = pw
		}
	}

	d := a.hub.DocFor(slug)
	rev, text, err := d.Peek(password)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, proto.SnapshotResp{Slug: slug, Rev: rev, Content: text})
}

type passwordUpdateReq struct {
	Slug            string `json:"slug"`
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// updatePassword implements `POST /api/password`.
func (a *API) updatePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordUpdateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	if req.Slug == "" {
		http.Error(w, "missing slug", http.StatusBadRequest)
		return
	}

	d := a.hub.DocFor(req.Slug)
	if err := d.SetPassword(req.CurrentPassword, req.NewPassword); err != nil {
		writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type documentInfo struct {
	Slug              string     `json:"slug"`
	Rev               uint64     `json:"rev"`
	CreatedAt         time.Time  `json:"created_at"`
	PasswordChangedAt *time.Time `json:"password_changed_at,omitempty"`
	LastFlushedAt     *time.Time `json:"last_flushed_at,omitempty"`
}

// listDocuments implements `GET /api/documents`: the operator-facing
// catalog listing spec.md's Postgres catalog exists for (§4.4) — which
// slugs exist and how stale they are, without walking the vault tree.
// Returns an empty list, never an error, when no catalog is configured.
func (a *API) listDocuments(w http.ResponseWriter, r *http.Request) {
	rows, err := a.catalog.List(r.Context())
	if err != nil {
		http.Error(w, "catalog unavailable", http.StatusServiceUnavailable)
		return
	}
	out := make([]documentInfo, 0, len(rows))
	for _, row := range rows {
		out = append(out, documentInfo{
			Slug:              row.Slug,
			Rev:               row.Rev,
			CreatedAt:         row.CreatedAt,
			PasswordChangedAt: row.PasswordChangedAt,
			LastFlushedAt:     row.LastFlushedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeAppError(w http.ResponseWriter, err error) {
	if ae, ok := err.(*apperr.Error); ok {
		http.Error(w, ae.Error(), ae.HTTPStatus())
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
