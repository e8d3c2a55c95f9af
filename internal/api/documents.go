package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/ragdocs/internal/pipeline"
	"github.com/kalambet/ragdocs/internal/status"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxTextBodySize = 32 << 20   // 32MB
const maxUploadSize = 200 << 20    // 200MB

type InsertTextRequest struct {
	Text       string `json:"text"`
	FileSource string `json:"file_source"`
}

type InsertTextsRequest struct {
	Texts       []string `json:"texts"`
	FileSources []string `json:"file_sources"`
}

type DeleteDocRequest struct {
	DocIDs         []string `json:"doc_ids"`
	DeleteFile     bool     `json:"delete_file"`
	DeleteLLMCache bool     `json:"delete_llm_cache"`
}

// PipelineStatusResponse is the status view with job_start rendered as
// RFC 3339.
type PipelineStatusResponse struct {
	status.View
	JobStart string `json:"job_start,omitempty"`
}

func newPipelineStatusResponse(v status.View) PipelineStatusResponse {
	resp := PipelineStatusResponse{View: v}
	if !v.JobStart.IsZero() {
		resp.JobStart = v.JobStart.Format(time.RFC3339)
	}
	if resp.HistoryMessages == nil {
		resp.HistoryMessages = []string{}
	}
	return resp
}

type AppDeps struct {
	Service *pipeline.Service
	// Token enables bearer authentication when non-empty.
	Token string
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Route("/documents", func(r chi.Router) {
		if deps.Token != "" {
			r.Use(APIKeyAuth(deps.Token))
		}

		r.Post("/scan", handleScan(deps))
		r.Post("/upload", handleUpload(deps))
		r.Post("/text", handleInsertText(deps))
		r.Post("/texts", handleInsertTexts(deps))
		r.Delete("/", handleClearDocuments(deps))
		r.Get("/pipeline_status", handlePipelineStatus(deps))
		r.Post("/cancel_pipeline", handleCancelPipeline(deps))
		r.Delete("/delete_document", handleDeleteDocuments(deps))
		r.Post("/clear_cache", handleClearCache(deps))
		r.Get("/track_status/{track_id}", handleTrackStatus(deps))
		r.Post("/paginated", handlePaginated(deps))
		r.Get("/status_counts", handleStatusCounts(deps))
		r.Post("/reprocess_failed", handleReprocessFailed(deps))
	})

	return r
}

func handleScan(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Service.Scan())
	}
}

func handleUpload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		defer r.Body.Close()

		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid upload: %v", err)
			return
		}
		defer file.Close()

		resp, err := deps.Service.Upload(r.Context(), header.Filename, file)
		if err != nil {
			serviceError(w, "upload failed", err)
			return
		}
		writeJSON(w, resp)
	}
}

func handleInsertText(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxTextBodySize)
		defer r.Body.Close()

		var req InsertTextRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		resp, err := deps.Service.InsertText(r.Context(), req.Text, req.FileSource)
		if err != nil {
			serviceError(w, "insert failed", err)
			return
		}
		writeJSON(w, resp)
	}
}

func handleInsertTexts(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxTextBodySize)
		defer r.Body.Close()

		var req InsertTextsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		resp, err := deps.Service.InsertTexts(r.Context(), req.Texts, req.FileSources)
		if err != nil {
			serviceError(w, "insert failed", err)
			return
		}
		writeJSON(w, resp)
	}
}

func handleClearDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := deps.Service.Clear(r.Context())
		if err != nil {
			serviceError(w, "clear failed", err)
			return
		}
		writeJSON(w, resp)
	}
}

func handlePipelineStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := deps.Service.PipelineStatus(r.Context())
		if err != nil {
			serviceError(w, "reading pipeline status", err)
			return
		}
		writeJSON(w, newPipelineStatusResponse(v))
	}
}

func handleCancelPipeline(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := deps.Service.Cancel(r.Context())
		if err != nil {
			serviceError(w, "cancel failed", err)
			return
		}
		writeJSON(w, resp)
	}
}

func handleDeleteDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req DeleteDocRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		resp, err := deps.Service.DeleteDocuments(r.Context(), req.DocIDs, req.DeleteFile, req.DeleteLLMCache)
		if err != nil {
			serviceError(w, "delete failed", err)
			return
		}
		writeJSON(w, resp)
	}
}

func handleClearCache(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := deps.Service.ClearCache(r.Context())
		if err != nil {
			serviceError(w, "clear cache failed", err)
			return
		}
		writeJSON(w, resp)
	}
}

func handleTrackStatus(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := deps.Service.TrackStatus(r.Context(), chi.URLParam(r, "track_id"))
		if err != nil {
			serviceError(w, "reading track status", err)
			return
		}
		writeJSON(w, resp)
	}
}

func handlePaginated(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req pipeline.PageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		resp, err := deps.Service.Documents(r.Context(), req)
		if err != nil {
			serviceError(w, "listing documents", err)
			return
		}
		writeJSON(w, resp)
	}
}

func handleStatusCounts(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := deps.Service.StatusCounts(r.Context())
		if err != nil {
			serviceError(w, "counting documents", err)
			return
		}
		writeJSON(w, map[string]any{"status_counts": counts})
	}
}

func handleReprocessFailed(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Service.Reprocess())
	}
}
