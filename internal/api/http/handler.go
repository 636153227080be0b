package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jsonsqlite/jsonsqlite/internal/docio"
	"github.com/jsonsqlite/jsonsqlite/internal/importer"
	"github.com/jsonsqlite/jsonsqlite/internal/observability"
	"github.com/jsonsqlite/jsonsqlite/internal/progress"
	"github.com/jsonsqlite/jsonsqlite/pkg/types"
)

// Service is the host service behind the API.
type Service interface {
	OpenDatabase(ctx context.Context, name string) error
	CloseDatabase(ctx context.Context, name string) error
	Databases() []string
	ExportToJSON(ctx context.Context, name string, mode types.Mode) (*types.Document, error)
	ImportFromJSON(ctx context.Context, doc *types.Document) (importer.Result, error)
	IsJSONValid(raw []byte) (bool, error)
	CreateSyncTable(ctx context.Context, name string) (int64, error)
	SetSyncDate(ctx context.Context, name string, epoch int64) error
	GetSyncDate(ctx context.Context, name string) (int64, error)
	SaveDocument(ctx context.Context, doc *types.Document) (docio.Stored, error)
	LoadDocument(ctx context.Context, name string) (*types.Document, error)
}

// HandlerConfig configures the API handler.
type HandlerConfig struct {
	// Service performs the operations. Required.
	Service Service

	// Events streams progress over /v1/events when set.
	Events *progress.Bus

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Stats is served over /v1/stats when set.
	Stats *observability.Stats

	// MaxBodyBytes limits request bodies (default: 64MB).
	MaxBodyBytes int64

	// Name is reported by /health.
	Name string
}

// Handler routes API requests.
type Handler struct {
	svc     Service
	events  *progress.Bus
	stats   *observability.Stats
	logger  *slog.Logger
	maxBody int64
	name    string
	mux     *http.ServeMux
}

// ImportResponse is returned by the import endpoints.
type ImportResponse struct {
	Changes   int64  `json:"changes"`
	RequestID string `json:"request_id,omitempty"`
}

// ValidateResponse is returned by POST /v1/validate.
type ValidateResponse struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// SyncDateRequest is the body of PUT /v1/databases/{name}/sync-date.
type SyncDateRequest struct {
	SyncDate int64 `json:"sync_date"`
}

// SyncDateResponse is returned by GET /v1/databases/{name}/sync-date.
type SyncDateResponse struct {
	Database string `json:"database"`
	SyncDate int64  `json:"sync_date"`
}

// NewHandler creates the API handler with its routes and middleware.
func NewHandler(cfg HandlerConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "http")
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 64 << 20
	}
	name := cfg.Name
	if name == "" {
		name = "jsonsqlite"
	}

	h := &Handler{
		svc:     cfg.Service,
		events:  cfg.Events,
		stats:   cfg.Stats,
		logger:  logger,
		maxBody: maxBody,
		name:    name,
		mux:     http.NewServeMux(),
	}

	h.mux.HandleFunc("GET /health", h.health)
	h.mux.HandleFunc("GET /v1/databases", h.listDatabases)
	h.mux.HandleFunc("POST /v1/databases/{name}/open", h.openDatabase)
	h.mux.HandleFunc("DELETE /v1/databases/{name}", h.closeDatabase)
	h.mux.HandleFunc("POST /v1/databases/{name}/export", h.export)
	h.mux.HandleFunc("POST /v1/databases/{name}/sync-table", h.createSyncTable)
	h.mux.HandleFunc("GET /v1/databases/{name}/sync-date", h.getSyncDate)
	h.mux.HandleFunc("PUT /v1/databases/{name}/sync-date", h.setSyncDate)
	h.mux.HandleFunc("POST /v1/import", h.importDocument)
	h.mux.HandleFunc("POST /v1/validate", h.validate)
	h.mux.HandleFunc("GET /v1/documents/{name}", h.loadDocument)
	h.mux.HandleFunc("POST /v1/documents/{name}/import", h.importSaved)
	if h.events != nil {
		h.mux.HandleFunc("GET /v1/events", h.streamEvents)
	}
	if h.stats != nil {
		h.mux.HandleFunc("GET /v1/stats", h.topStats)
		h.mux.HandleFunc("GET /v1/databases/{name}/stats", h.databaseStats)
	}

	return DefaultMiddleware(logger)(h.mux)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   h.name,
		"databases": len(h.svc.Databases()),
	})
}

func (h *Handler) listDatabases(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"databases": h.svc.Databases()})
}

func (h *Handler) openDatabase(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.svc.OpenDatabase(r.Context(), name); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"database": name, "status": "open"})
}

func (h *Handler) closeDatabase(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.svc.CloseDatabase(r.Context(), name); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// export handles POST /v1/databases/{name}/export?mode=full|partial&save=true.
// With save the document is also written to storage and its fingerprint
// returned in X-Document-Fingerprint.
func (h *Handler) export(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	mode := types.Mode(r.URL.Query().Get("mode"))
	if mode != "" && !mode.Valid() {
		writeBadRequest(w, r, fmt.Sprintf("invalid mode %q (must be full or partial)", mode))
		return
	}
	save, err := optionalBool(r, "save")
	if err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}

	doc, err := h.svc.ExportToJSON(r.Context(), name, mode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if save {
		stored, err := h.svc.SaveDocument(r.Context(), doc)
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("X-Document-Key", stored.Key)
		w.Header().Set("X-Document-Fingerprint", stored.Fingerprint)
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) importDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := docio.DecodeReader(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.runImport(w, r, doc)
}

func (h *Handler) importSaved(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.LoadDocument(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.runImport(w, r, doc)
}

func (h *Handler) runImport(w http.ResponseWriter, r *http.Request, doc *types.Document) {
	res, err := h.svc.ImportFromJSON(r.Context(), doc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ImportResponse{Changes: res.Changes, RequestID: GetRequestID(r.Context())})
}

// validate always answers 200; the verdict is in the body.
func (h *Handler) validate(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		writeBadRequest(w, r, fmt.Sprintf("failed to read body: %v", err))
		return
	}
	valid, reason := h.svc.IsJSONValid(raw)
	resp := ValidateResponse{Valid: valid}
	if reason != nil {
		resp.Reason = reason.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) createSyncTable(w http.ResponseWriter, r *http.Request) {
	changes, err := h.svc.CreateSyncTable(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"changes": changes})
}

func (h *Handler) getSyncDate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	epoch, err := h.svc.GetSyncDate(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SyncDateResponse{Database: name, SyncDate: epoch})
}

func (h *Handler) setSyncDate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req SyncDateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBody)).Decode(&req); err != nil {
		writeBadRequest(w, r, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := h.svc.SetSyncDate(r.Context(), name, req.SyncDate); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SyncDateResponse{Database: name, SyncDate: req.SyncDate})
}

func (h *Handler) loadDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.LoadDocument(r.Context(), r.PathValue("name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// StatsResponse is returned by the stats endpoints.
type StatsResponse struct {
	Operations []observability.OperationStats `json:"operations"`
}

// topStats handles GET /v1/stats?limit=N (default 20).
func (h *Handler) topStats(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeBadRequest(w, r, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, StatsResponse{Operations: h.stats.Top(limit)})
}

func (h *Handler) databaseStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatsResponse{Operations: h.stats.Database(r.PathValue("name"))})
}

func optionalBool(r *http.Request, key string) (bool, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q", key, v)
	}
	return b, nil
}
