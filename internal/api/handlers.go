package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cespare/xxhash/v2"

	"github.com/vietddude/gaswatch/internal/indexing/metrics"
	"github.com/vietddude/gaswatch/internal/indexing/query"
)

// RangeQuerier answers range queries from raw request parameters.
type RangeQuerier interface {
	QueryRange(ctx context.Context, rangeParam, confidenceParam string) (*query.Response, error)
}

// SnapshotSource provides the data-quality counters.
type SnapshotSource interface {
	Snapshot() metrics.Snapshot
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves the read API.
type Handler struct {
	queries RangeQuerier
	tracker SnapshotSource
}

func NewHandler(queries RangeQuerier, tracker SnapshotSource) *Handler {
	return &Handler{queries: queries, tracker: tracker}
}

// HandleGas serves GET /api/v1/gas?range=1h&confidence=99.
func (h *Handler) HandleGas(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := h.queries.QueryRange(r.Context(), q.Get("range"), q.Get("confidence"))
	if err != nil {
		if errors.Is(err, query.ErrInvalidTimeframe) || errors.Is(err, query.ErrInvalidConfidence) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		slog.Error("Range query failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}
	writeCached(w, r, resp)
}

// HandleStats serves the current metrics snapshot.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.tracker.Snapshot())
}

// writeCached writes v with an ETag over its encoding and honors If-None-Match.
func writeCached(w http.ResponseWriter, r *http.Request, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "encode response"})
		return
	}
	etag := fmt.Sprintf(`"%016x"`, xxhash.Sum64(body))
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
