package web

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agrimonitor/agrimon/internal/debug"
	"github.com/agrimonitor/agrimon/internal/store"
)

// maxDocumentBytes caps request bodies on /data.
const maxDocumentBytes = 1 << 20

// DocumentStore is the generic JSON document store behind /data.
type DocumentStore interface {
	List(ctx context.Context, collection string) ([]store.Document, error)
	Get(ctx context.Context, collection, id string) (store.Document, error)
	Create(ctx context.Context, collection string, doc store.Document) (store.Document, error)
	Replace(ctx context.Context, collection, id string, doc store.Document) (store.Document, error)
	Patch(ctx context.Context, collection, id string, patch store.Document) (store.Document, error)
	Delete(ctx context.Context, collection, id string) error
}

// dataRoutes mounts the document CRUD under /data.
func (h *Handlers) dataRoutes(r chi.Router) {
	r.Get("/{collection}", h.HandleListDocuments)
	r.Post("/{collection}", h.HandleCreateDocument)
	r.Get("/{collection}/{id}", h.HandleGetDocument)
	r.Put("/{collection}/{id}", h.HandleReplaceDocument)
	r.Patch("/{collection}/{id}", h.HandlePatchDocument)
	r.Delete("/{collection}/{id}", h.HandleDeleteDocument)
}

// HandleListDocuments handles GET /data/{collection}.
func (h *Handlers) HandleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.Store.List(r.Context(), chi.URLParam(r, "collection"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

// HandleGetDocument handles GET /data/{collection}/{id}.
func (h *Handlers) HandleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.Store.Get(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// HandleCreateDocument handles POST /data/{collection}. A missing id is generated.
func (h *Handlers) HandleCreateDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := decodeBody(w, r)
	if !ok {
		return
	}
	created, err := h.Store.Create(r.Context(), chi.URLParam(r, "collection"), doc)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// HandleReplaceDocument handles PUT /data/{collection}/{id}.
func (h *Handlers) HandleReplaceDocument(w http.ResponseWriter, r *http.Request) {
	doc, ok := decodeBody(w, r)
	if !ok {
		return
	}
	replaced, err := h.Store.Replace(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id"), doc)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, replaced)
}

// HandlePatchDocument handles PATCH /data/{collection}/{id}, merging top-level fields.
func (h *Handlers) HandlePatchDocument(w http.ResponseWriter, r *http.Request) {
	patch, ok := decodeBody(w, r)
	if !ok {
		return
	}
	patched, err := h.Store.Patch(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, patched)
}

// HandleDeleteDocument handles DELETE /data/{collection}/{id}.
func (h *Handlers) HandleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Delete(r.Context(), chi.URLParam(r, "collection"), chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func decodeBody(w http.ResponseWriter, r *http.Request) (store.Document, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDocumentBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return nil, false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "could not read request body"})
		return nil, false
	}
	doc, err := store.DecodeDocument(data)
	if err != nil {
		writeStoreError(w, err)
		return nil, false
	}
	return doc, true
}

func writeStoreError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrInvalidDocument), errors.Is(err, store.ErrInvalidCollection):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrConflict):
		status = http.StatusConflict
	default:
		debug.Errorf("data store: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
