package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/ragdocs/internal/documents"
	"github.com/kalambet/ragdocs/internal/engine"
	"github.com/kalambet/ragdocs/internal/engine/local"
	"github.com/kalambet/ragdocs/internal/extract"
	"github.com/kalambet/ragdocs/internal/kvstore"
	"github.com/kalambet/ragdocs/internal/pipeline"
	"github.com/kalambet/ragdocs/internal/status"
	"github.com/kalambet/ragdocs/internal/storage"
)

const testToken = "test-token-12345"

type testStack struct {
	svc    *pipeline.Service
	docs   *documents.Manager
	status *status.MemoryStore
}

func newTestStack(t *testing.T) testStack {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	kv, err := kvstore.Open("", true)
	if err != nil {
		t.Fatalf("kvstore.Open failed: %v", err)
	}
	t.Cleanup(func() { kv.Close() })

	reg, err := extract.NewRegistry(extract.Options{Workers: 1})
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	t.Cleanup(reg.Close)

	mgr, err := documents.New(t.TempDir(), "")
	if err != nil {
		t.Fatalf("documents.New failed: %v", err)
	}

	st := status.NewMemoryStore()
	eng := local.New(store, kv, st)
	svc := pipeline.NewService(context.Background(), pipeline.New(eng, reg, mgr, st))
	t.Cleanup(svc.Wait)

	return testStack{svc: svc, docs: mgr, status: st}
}

func setupAppHandler(t *testing.T, token string) (http.Handler, testStack) {
	t.Helper()
	stack := newTestStack(t)
	return NewAppHandler(AppDeps{Service: stack.svc, Token: token}), stack
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func serve(t *testing.T, h http.Handler, req *http.Request, wantCode int) map[string]any {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != wantCode {
		t.Fatalf("%s %s: status = %d, want %d; body = %s", req.Method, req.URL.Path, rr.Code, wantCode, rr.Body.String())
	}
	var resp map[string]any
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return resp
}

func errorMessage(resp map[string]any) string {
	e, _ := resp["error"].(map[string]any)
	msg, _ := e["message"].(string)
	return msg
}

func uploadReq(t *testing.T, filename, content, token string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(content))
	mw.Close()

	req := authReq(http.MethodPost, "/documents/upload", "", token)
	req.Body = io.NopCloser(&buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHealth_NoAuth(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)
	resp := serve(t, h, httptest.NewRequest(http.MethodGet, "/health", nil), http.StatusOK)
	if resp["status"] != "ok" {
		t.Errorf("status = %v", resp["status"])
	}
}

func TestAuth(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)

	resp := serve(t, h, authReq(http.MethodGet, "/documents/status_counts", "", ""), http.StatusUnauthorized)
	if errorMessage(resp) != "invalid or missing API key" {
		t.Errorf("error = %v", resp)
	}
	serve(t, h, authReq(http.MethodGet, "/documents/status_counts", "", "wrong"), http.StatusUnauthorized)
	serve(t, h, authReq(http.MethodGet, "/documents/status_counts", "", testToken), http.StatusOK)

	req := authReq(http.MethodGet, "/documents/status_counts", "", "")
	req.Header.Set(APIKeyHeader, testToken)
	serve(t, h, req, http.StatusOK)
	req = authReq(http.MethodGet, "/documents/status_counts", "", "")
	req.Header.Set(APIKeyHeader, "wrong")
	serve(t, h, req, http.StatusUnauthorized)

	open, _ := setupAppHandler(t, "")
	serve(t, open, authReq(http.MethodGet, "/documents/status_counts", "", ""), http.StatusOK)
}

func TestUploadAndTrack(t *testing.T) {
	h, stack := setupAppHandler(t, testToken)

	resp := serve(t, h, uploadReq(t, "guide.md", "# Guide\n\nInstall and run.", testToken), http.StatusOK)
	if resp["status"] != "success" {
		t.Fatalf("upload = %v", resp)
	}
	trackID, _ := resp["track_id"].(string)
	if !strings.HasPrefix(trackID, "upload_") {
		t.Fatalf("track_id = %q", trackID)
	}
	stack.svc.Wait()

	if _, err := os.Stat(filepath.Join(stack.docs.EnqueuedDir(), "guide.md")); err != nil {
		t.Errorf("uploaded file not moved to enqueued dir: %v", err)
	}

	resp = serve(t, h, authReq(http.MethodGet, "/documents/track_status/"+trackID, "", testToken), http.StatusOK)
	if resp["total_count"] != float64(1) {
		t.Fatalf("track status = %v", resp)
	}
	summary := resp["status_summary"].(map[string]any)
	if summary["processed"] != float64(1) {
		t.Errorf("status_summary = %v", summary)
	}

	resp = serve(t, h, uploadReq(t, "guide.md", "again", testToken), http.StatusOK)
	if resp["status"] != "duplicated" || resp["track_id"] != trackID {
		t.Errorf("duplicate upload = %v", resp)
	}
}

func TestUpload_Unsupported(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)
	resp := serve(t, h, uploadReq(t, "photo.jpg", "jpeg", testToken), http.StatusBadRequest)
	if !strings.HasPrefix(errorMessage(resp), "Unsupported file type. Supported types:") {
		t.Errorf("error = %v", resp)
	}
}

func TestUpload_MissingFile(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)
	req := authReq(http.MethodPost, "/documents/upload", "not multipart", testToken)
	serve(t, h, req, http.StatusBadRequest)
}

func TestInsertText(t *testing.T) {
	h, stack := setupAppHandler(t, testToken)

	resp := serve(t, h, authReq(http.MethodPost, "/documents/text",
		`{"text":"Go channels are typed conduits.","file_source":"go-notes"}`, testToken), http.StatusOK)
	if resp["status"] != "success" || resp["message"] != "Text successfully received. Processing will continue in background." {
		t.Fatalf("insert = %v", resp)
	}
	stack.svc.Wait()

	resp = serve(t, h, authReq(http.MethodPost, "/documents/text",
		`{"text":"Go channels are typed conduits."}`, testToken), http.StatusOK)
	if resp["status"] != "duplicated" || !strings.HasPrefix(resp["message"].(string), "Identical content already exists") {
		t.Errorf("duplicate = %v", resp)
	}

	resp = serve(t, h, authReq(http.MethodPost, "/documents/text", `{"text":"   "}`, testToken), http.StatusBadRequest)
	if errorMessage(resp) != "Text cannot be empty" {
		t.Errorf("error = %v", resp)
	}
	serve(t, h, authReq(http.MethodPost, "/documents/text", `{bad json`, testToken), http.StatusBadRequest)
}

func TestInsertTexts(t *testing.T) {
	h, stack := setupAppHandler(t, testToken)

	resp := serve(t, h, authReq(http.MethodPost, "/documents/texts",
		`{"texts":["first text","second text","third text"],"file_sources":["a.md"]}`, testToken), http.StatusOK)
	if resp["message"] != "3 texts successfully submitted. Processing will continue in background." {
		t.Fatalf("insert = %v", resp)
	}
	stack.svc.Wait()

	resp = serve(t, h, authReq(http.MethodGet, "/documents/status_counts", "", testToken), http.StatusOK)
	counts := resp["status_counts"].(map[string]any)
	if counts["processed"] != float64(3) || counts["all"] != float64(3) {
		t.Errorf("counts = %v", counts)
	}
}

func TestPipelineStatus(t *testing.T) {
	h, stack := setupAppHandler(t, testToken)

	serve(t, h, authReq(http.MethodPost, "/documents/text", `{"text":"status check"}`, testToken), http.StatusOK)
	stack.svc.Wait()

	resp := serve(t, h, authReq(http.MethodGet, "/documents/pipeline_status", "", testToken), http.StatusOK)
	if resp["busy"] != false || resp["job_name"] != "Default Job" {
		t.Errorf("status = %v", resp)
	}
	if s, _ := resp["job_start"].(string); s == "" {
		t.Error("job_start missing")
	}
	if _, ok := resp["history_messages"].([]any); !ok {
		t.Errorf("history_messages = %v", resp["history_messages"])
	}
}

func TestCancelPipeline(t *testing.T) {
	h, stack := setupAppHandler(t, testToken)

	resp := serve(t, h, authReq(http.MethodPost, "/documents/cancel_pipeline", "", testToken), http.StatusOK)
	if resp["status"] != "not_busy" {
		t.Errorf("idle cancel = %v", resp)
	}

	if err := status.Begin(context.Background(), stack.status, status.Job{Name: "Default Job"}); err != nil {
		t.Fatal(err)
	}
	resp = serve(t, h, authReq(http.MethodPost, "/documents/cancel_pipeline", "", testToken), http.StatusOK)
	if resp["status"] != "cancellation_requested" {
		t.Errorf("busy cancel = %v", resp)
	}
}

func TestDeleteDocument(t *testing.T) {
	h, stack := setupAppHandler(t, testToken)

	serve(t, h, authReq(http.MethodPost, "/documents/text", `{"text":"to be removed"}`, testToken), http.StatusOK)
	stack.svc.Wait()
	id := engine.ComputeDocID("to be removed")

	resp := serve(t, h, authReq(http.MethodDelete, "/documents/delete_document",
		`{"doc_ids":["`+id+`"],"delete_file":false}`, testToken), http.StatusOK)
	if resp["status"] != "deletion_started" || resp["doc_id"] != id {
		t.Fatalf("delete = %v", resp)
	}
	stack.svc.Wait()

	resp = serve(t, h, authReq(http.MethodGet, "/documents/status_counts", "", testToken), http.StatusOK)
	if resp["status_counts"].(map[string]any)["all"] != float64(0) {
		t.Errorf("counts after delete = %v", resp)
	}

	resp = serve(t, h, authReq(http.MethodGet, "/documents/pipeline_status", "", testToken), http.StatusOK)
	if resp["latest_message"] != "Deletion completed: 1 successful, 0 failed" {
		t.Errorf("latest_message = %v", resp["latest_message"])
	}

	serve(t, h, authReq(http.MethodDelete, "/documents/delete_document", `{"doc_ids":[]}`, testToken), http.StatusBadRequest)

	if err := status.Begin(context.Background(), stack.status, status.Job{Name: "Default Job"}); err != nil {
		t.Fatal(err)
	}
	resp = serve(t, h, authReq(http.MethodDelete, "/documents/delete_document", `{"doc_ids":["x"]}`, testToken), http.StatusOK)
	if resp["status"] != "busy" {
		t.Errorf("busy delete = %v", resp)
	}
}

func TestClearDocuments(t *testing.T) {
	h, stack := setupAppHandler(t, testToken)

	serve(t, h, authReq(http.MethodPost, "/documents/text", `{"text":"clear me"}`, testToken), http.StatusOK)
	stack.svc.Wait()
	if err := os.WriteFile(filepath.Join(stack.docs.InputDir(), "leftover.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	resp := serve(t, h, authReq(http.MethodDelete, "/documents", "", testToken), http.StatusOK)
	if resp["status"] != "success" || resp["message"] != "All documents cleared successfully. Deleted 1 files." {
		t.Errorf("clear = %v", resp)
	}

	resp = serve(t, h, authReq(http.MethodGet, "/documents/status_counts", "", testToken), http.StatusOK)
	if resp["status_counts"].(map[string]any)["all"] != float64(0) {
		t.Errorf("counts after clear = %v", resp)
	}
}

func TestPaginated(t *testing.T) {
	h, stack := setupAppHandler(t, testToken)

	serve(t, h, authReq(http.MethodPost, "/documents/texts", `{"texts":["one","two","three"]}`, testToken), http.StatusOK)
	stack.svc.Wait()

	resp := serve(t, h, authReq(http.MethodPost, "/documents/paginated",
		`{"page":1,"page_size":10,"status_filter":"processed","sort_field":"created_at","sort_direction":"asc"}`, testToken), http.StatusOK)
	docs := resp["documents"].([]any)
	if len(docs) != 3 {
		t.Fatalf("documents = %d", len(docs))
	}
	p := resp["pagination"].(map[string]any)
	if p["total_count"] != float64(3) || p["total_pages"] != float64(1) || p["has_next"] != false {
		t.Errorf("pagination = %v", p)
	}

	resp = serve(t, h, authReq(http.MethodPost, "/documents/paginated", `{"page_size":500}`, testToken), http.StatusBadRequest)
	if errorMessage(resp) != "Page size must be between 10 and 200" {
		t.Errorf("error = %v", resp)
	}
}

func TestTrackStatus_Blank(t *testing.T) {
	h, _ := setupAppHandler(t, testToken)
	resp := serve(t, h, authReq(http.MethodGet, "/documents/track_status/%20", "", testToken), http.StatusBadRequest)
	if errorMessage(resp) != "Track ID cannot be empty" {
		t.Errorf("error = %v", resp)
	}
}

func TestScanAndReprocess(t *testing.T) {
	h, stack := setupAppHandler(t, testToken)
	if err := os.WriteFile(filepath.Join(stack.docs.InputDir(), "dropped.txt"), []byte("dropped in"), 0o644); err != nil {
		t.Fatal(err)
	}

	resp := serve(t, h, authReq(http.MethodPost, "/documents/scan", "", testToken), http.StatusOK)
	if resp["status"] != "scanning_started" || !strings.HasPrefix(resp["track_id"].(string), "scan_") {
		t.Fatalf("scan = %v", resp)
	}
	stack.svc.Wait()

	resp = serve(t, h, authReq(http.MethodGet, "/documents/status_counts", "", testToken), http.StatusOK)
	if resp["status_counts"].(map[string]any)["processed"] != float64(1) {
		t.Errorf("counts after scan = %v", resp)
	}

	resp = serve(t, h, authReq(http.MethodPost, "/documents/reprocess_failed", "", testToken), http.StatusOK)
	if resp["status"] != "reprocessing_started" {
		t.Errorf("reprocess = %v", resp)
	}

	resp = serve(t, h, authReq(http.MethodPost, "/documents/clear_cache", "", testToken), http.StatusOK)
	if resp["status"] != "success" {
		t.Errorf("clear_cache = %v", resp)
	}
}
