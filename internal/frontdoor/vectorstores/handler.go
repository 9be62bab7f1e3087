// Package vectorstores proxies the browser's vector store calls to the
// upstream Vector Store API.
package vectorstores

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/tjfontaine/responses-relay/internal/api/openai"
	"github.com/tjfontaine/responses-relay/internal/domain"
	"github.com/tjfontaine/responses-relay/internal/metrics"
	"github.com/tjfontaine/responses-relay/internal/server"
)

// Fixed failure bodies, one per operation.
const (
	ErrAddFile     = "Error adding file"
	ErrListFiles   = "Error fetching files"
	ErrRetrieveVS  = "Error fetching vector store"
	maxRequestBody = 1 << 20
)

// Client is the subset of *openai.Client used by the proxies.
type Client interface {
	CreateVectorStoreFile(ctx context.Context, vectorStoreID string, req *openai.CreateVectorStoreFileRequest, opts *openai.RequestOptions) (*openai.VectorStoreFile, error)
	ListVectorStoreFiles(ctx context.Context, vectorStoreID string, params *openai.ListVectorStoreFilesParams, opts *openai.RequestOptions) (*openai.VectorStoreFileList, error)
	RetrieveVectorStore(ctx context.Context, vectorStoreID string, opts *openai.RequestOptions) (*openai.VectorStore, error)
}

// AddFileRequest is the browser's body for POST /vector_stores/add_file.
type AddFileRequest struct {
	VectorStoreID string `json:"vectorStoreId"`
	FileID        string `json:"fileId"`
}

// Handler serves the /vector_stores routes.
type Handler struct {
	client Client
	logger *slog.Logger
}

// NewHandler creates a store proxy handler. A nil logger uses slog.Default.
func NewHandler(client Client, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{client: client, logger: logger}
}

// HandleAddFile handles POST /vector_stores/add_file
func (h *Handler) HandleAddFile(w http.ResponseWriter, r *http.Request) {
	const op = "add_file"

	var req AddFileRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		h.fail(w, r, op, ErrAddFile, domain.ErrInvalidRequest("invalid request body: "+err.Error()))
		return
	}

	file, err := h.client.CreateVectorStoreFile(r.Context(), req.VectorStoreID,
		&openai.CreateVectorStoreFileRequest{FileID: req.FileID}, requestOptions(r))
	if err != nil {
		h.fail(w, r, op, ErrAddFile, err)
		return
	}
	h.ok(w, r, op, ErrAddFile, file)
}

// HandleListFiles handles GET /vector_stores/list_files
func (h *Handler) HandleListFiles(w http.ResponseWriter, r *http.Request) {
	const op = "list_files"

	q := r.URL.Query()
	params := &openai.ListVectorStoreFilesParams{
		Limit:  q.Get("limit"),
		Order:  q.Get("order"),
		After:  q.Get("after"),
		Before: q.Get("before"),
		Filter: q.Get("filter"),
	}

	files, err := h.client.ListVectorStoreFiles(r.Context(), q.Get("vector_store_id"), params, requestOptions(r))
	if err != nil {
		h.fail(w, r, op, ErrListFiles, err)
		return
	}
	h.ok(w, r, op, ErrListFiles, files)
}

// HandleRetrieveStore handles GET /vector_stores/retrieve_store
func (h *Handler) HandleRetrieveStore(w http.ResponseWriter, r *http.Request) {
	const op = "retrieve_store"

	store, err := h.client.RetrieveVectorStore(r.Context(), r.URL.Query().Get("vector_store_id"), requestOptions(r))
	if err != nil {
		h.fail(w, r, op, ErrRetrieveVS, err)
		return
	}
	h.ok(w, r, op, ErrRetrieveVS, store)
}

func (h *Handler) ok(w http.ResponseWriter, r *http.Request, op, message string, v any) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		h.fail(w, r, op, message, err)
		return
	}
	metrics.VectorStoreRequests.WithLabelValues(op, "success").Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op, message string, err error) {
	metrics.VectorStoreRequests.WithLabelValues(op, "error").Inc()

	attrs := []any{
		slog.String("request_id", server.GetRequestID(r.Context())),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	}
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		attrs = append(attrs, slog.String("error_type", string(apiErr.Type)))
		if apiErr.StatusCode != 0 {
			attrs = append(attrs, slog.Int("upstream_status", apiErr.StatusCode))
		}
	}
	h.logger.Error("vector store request failed", attrs...)
	server.AddError(r.Context(), err)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = io.WriteString(w, message)
}

func requestOptions(r *http.Request) *openai.RequestOptions {
	return &openai.RequestOptions{UserAgent: r.UserAgent()}
}
