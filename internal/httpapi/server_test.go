package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"locallm/internal/backend"
	"locallm/internal/hub"
	"locallm/internal/manager"
	"locallm/internal/service"
	"locallm/pkg/types"
)

// stubService returns canned values per method.
type stubService struct {
	models       []types.ModelSummary
	listErr      error
	downloadResp types.DownloadResponse
	downloadErr  error
	progressResp types.ProgressResponse
	progressErr  error
	cancelErr    error
	loadErr      error
	unloadErr    error
	removeErr    error
	completeErr  error
	loaded       []types.LoadedModel

	gotName string
}

func (s *stubService) List() ([]types.ModelSummary, error) { return s.models, s.listErr }

func (s *stubService) Download(name string) (types.DownloadResponse, error) {
	s.gotName = name
	return s.downloadResp, s.downloadErr
}

func (s *stubService) Progress(name string) (types.ProgressResponse, error) {
	s.gotName = name
	return s.progressResp, s.progressErr
}

func (s *stubService) CancelDownload(name string) error {
	s.gotName = name
	return s.cancelErr
}

func (s *stubService) Load(ctx context.Context, name string) error {
	s.gotName = name
	return s.loadErr
}

func (s *stubService) Unload(ctx context.Context, name string) error {
	s.gotName = name
	return s.unloadErr
}

func (s *stubService) Remove(ctx context.Context, name string) error {
	s.gotName = name
	return s.removeErr
}

func (s *stubService) Loaded() []types.LoadedModel { return s.loaded }

func (s *stubService) OpenAIModels() (types.OpenAIModelsResponse, error) {
	return types.OpenAIModelsResponse{Object: "list"}, nil
}

func (s *stubService) Complete(ctx context.Context, req types.CompletionRequest) (types.CompletionResponse, error) {
	return types.CompletionResponse{Model: req.Model}, s.completeErr
}

func (s *stubService) ChatComplete(ctx context.Context, req types.ChatCompletionRequest) (types.ChatCompletionResponse, error) {
	s.gotName = req.Model
	return types.ChatCompletionResponse{Object: "chat.completion", Model: req.Model}, s.completeErr
}

func newTestServer(t *testing.T, svc Service) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewMux(svc, zerolog.Nop()))
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func decodeErr(t *testing.T, resp *http.Response) types.ErrorResponse {
	t.Helper()
	defer resp.Body.Close()
	var e types.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	return e
}

func TestListModels(t *testing.T) {
	stub := &stubService{models: []types.ModelSummary{{Name: "m", Status: "downloaded"}}}
	srv := newTestServer(t, stub)
	resp, err := http.Get(srv.URL + "/models")
	if err != nil {
		t.Fatalf("GET /models: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out types.ModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Models) != 1 || out.Models[0].Name != "m" {
		t.Fatalf("models = %v", out.Models)
	}
}

func TestDownloadStartedIsAccepted(t *testing.T) {
	stub := &stubService{downloadResp: types.DownloadResponse{JobID: "m", Status: types.DownloadStarted, Message: "download started"}}
	srv := newTestServer(t, stub)
	resp := postJSON(t, srv.URL+"/models/download", types.DownloadRequest{Model: "m"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if stub.gotName != "m" {
		t.Fatalf("service got name %q", stub.gotName)
	}
}

func TestDownloadShortCircuitIsOK(t *testing.T) {
	stub := &stubService{downloadResp: types.DownloadResponse{Status: types.DownloadComplete, Message: "model already downloaded"}}
	srv := newTestServer(t, stub)
	resp := postJSON(t, srv.URL+"/models/download", types.DownloadRequest{Model: "m"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestDownloadInProgressIsConflictShaped(t *testing.T) {
	stub := &stubService{downloadResp: types.DownloadResponse{JobID: "m", Status: types.DownloadInProgress, Message: "download already in progress"}}
	srv := newTestServer(t, stub)
	resp := postJSON(t, srv.URL+"/models/download", types.DownloadRequest{Model: "m"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
	var out types.DownloadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.JobID != "m" {
		t.Fatalf("body = %+v, want job_id to point at the running job", out)
	}
}

func TestChatCompletionsRoute(t *testing.T) {
	stub := &stubService{}
	srv := newTestServer(t, stub)
	resp := postJSON(t, srv.URL+"/v1/chat/completions", types.ChatCompletionRequest{
		Model:    "m",
		Messages: []types.ChatMessage{{Role: "user", Content: "hi"}},
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out types.ChatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Object != "chat.completion" || stub.gotName != "m" {
		t.Fatalf("response %+v, service got %q", out, stub.gotName)
	}
}

func TestHealthzReportsLoadedCount(t *testing.T) {
	stub := &stubService{loaded: []types.LoadedModel{{Name: "a"}, {Name: "b"}}}
	srv := newTestServer(t, stub)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	var out types.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Status != "ok" || out.LoadedModels != 2 {
		t.Fatalf("health = %+v", out)
	}
}

func TestProgressRouteParam(t *testing.T) {
	stub := &stubService{progressResp: types.ProgressResponse{Status: "downloading", Progress: 42}}
	srv := newTestServer(t, stub)
	resp, err := http.Get(srv.URL + "/models/download/phi-3-mini/progress")
	if err != nil {
		t.Fatalf("GET progress: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if stub.gotName != "phi-3-mini" {
		t.Fatalf("service got name %q", stub.gotName)
	}
}

func TestRemoveRoute(t *testing.T) {
	stub := &stubService{}
	srv := newTestServer(t, stub)
	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/models/phi-3-mini", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if stub.gotName != "phi-3-mini" {
		t.Fatalf("service got name %q", stub.gotName)
	}
}

// backendRejection produces the error a reachable runtime's non-2xx response
// yields, as clients of the load route would see it.
func backendRejection(t *testing.T) error {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "out of memory", http.StatusInternalServerError)
	}))
	defer srv.Close()
	err := backend.New(srv.URL, time.Second).Load(context.Background(), "m")
	if err == nil {
		t.Fatal("backend Load succeeded on a 500")
	}
	return err
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"invalid", service.ErrInvalidRequest("model name is required"), 400, "invalid_request"},
		{"not_found", service.ErrNotFound("unknown model"), 404, "not_found"},
		{"conflict", service.ErrConflict("model is loaded"), 409, "conflict"},
		{"manager_not_found", manager.ErrModelNotFound("m"), 404, "not_found"},
		{"hub_auth", fmt.Errorf("resolve: %w", hub.ErrUnauthorized), 502, "hub_auth"},
		{"backend_down", fmt.Errorf("load: %w", backend.ErrUnavailable), 503, "backend_unavailable"},
		{"backend_error", fmt.Errorf("load: %w", backendRejection(t)), 502, "backend_error"},
		{"internal", errors.New("disk exploded"), 500, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubService{loadErr: tc.err}
			srv := newTestServer(t, stub)
			resp := postJSON(t, srv.URL+"/models/load", types.LoadRequest{Model: "m"})
			if resp.StatusCode != tc.status {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.status)
			}
			e := decodeErr(t, resp)
			if e.Kind != tc.kind || e.Code != tc.status {
				t.Fatalf("payload = %+v, want kind %q code %d", e, tc.kind, tc.status)
			}
		})
	}
}

func TestContentTypeRequired(t *testing.T) {
	srv := newTestServer(t, &stubService{})
	resp, err := http.Post(srv.URL+"/models/load", "text/plain", bytes.NewReader([]byte("{}")))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d, want 415", resp.StatusCode)
	}
}

func TestInvalidJSONBody(t *testing.T) {
	srv := newTestServer(t, &stubService{})
	resp, err := http.Post(srv.URL+"/models/load", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	e := decodeErr(t, resp)
	if resp.StatusCode != http.StatusBadRequest || e.Kind != "invalid_request" {
		t.Fatalf("status = %d kind = %q, want 400 invalid_request", resp.StatusCode, e.Kind)
	}
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, &stubService{})
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestReadyzFailsWhenCatalogDown(t *testing.T) {
	srv := newTestServer(t, &stubService{listErr: errors.New("store closed")})
	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}
