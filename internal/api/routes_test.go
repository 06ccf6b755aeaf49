package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"weave/internal/config"
	"weave/internal/kernel"
	"weave/internal/patch"
	"weave/internal/proto"
)

func testRouter() http.Handler {
	cfg := config.FromEnv()
	manager := kernel.NewManager([]kernel.Type{
		{Name: "python3", Languages: []string{"python"}, Command: []string{"python3"}, Fork: true},
	})
	return NewRouter(cfg, manager, nil)
}

func createSession(t *testing.T, router http.Handler, id string) {
	t.Helper()
	body, _ := json.Marshal(proto.CreateSessionRequest{
		ID: id,
		Document: json.RawMessage(`{
			"type": "Article",
			"content": [{"type": "Paragraph", "content": ["Hello"]}]
		}`),
	})
	req := httptest.NewRequest("POST", "/v1/sessions", bytes.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("create session: status %d, body %s", w.Code, w.Body.String())
	}
}

func TestHealth(t *testing.T) {
	router := testRouter()
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	var resp proto.HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("expected status 'ok', got %q", resp.Status)
	}
}

func TestCreateAndGetSession(t *testing.T) {
	router := testRouter()
	createSession(t, router, "s1")

	req := httptest.NewRequest("GET", "/v1/sessions/s1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("get document: status %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"Paragraph"`) {
		t.Errorf("document body missing paragraph: %s", w.Body.String())
	}

	// Duplicate id conflicts.
	body, _ := json.Marshal(proto.CreateSessionRequest{
		ID:       "s1",
		Document: json.RawMessage(`{"type": "Article"}`),
	})
	req = httptest.NewRequest("POST", "/v1/sessions", bytes.NewReader(body))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate create: status %d, want 409", w.Code)
	}

	req = httptest.NewRequest("GET", "/v1/sessions/missing", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing session: status %d, want 404", w.Code)
	}
}

func TestApplyPatch(t *testing.T) {
	router := testRouter()
	createSession(t, router, "s1")

	patchJSON := `{"ops": [
		{"type": "Replace", "address": ["content", 0, "content", 0], "value": "Hi"}
	]}`
	req := httptest.NewRequest("POST", "/v1/sessions/s1/patch", strings.NewReader(patchJSON))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("apply patch: status %d, body %s", w.Code, w.Body.String())
	}
	var resp proto.ApplyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Seq != 1 {
		t.Errorf("seq = %d, want 1", resp.Seq)
	}

	req = httptest.NewRequest("GET", "/v1/sessions/s1", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), `"Hi"`) {
		t.Errorf("patch did not reach the document: %s", w.Body.String())
	}

	// An out-of-range address is rejected.
	bad := `{"ops": [{"type": "Remove", "address": ["content", 9]}]}`
	req = httptest.NewRequest("POST", "/v1/sessions/s1/patch", strings.NewReader(bad))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("bad patch: status %d, want 422", w.Code)
	}
}

func TestDiffAndUpdate(t *testing.T) {
	router := testRouter()
	createSession(t, router, "s1")

	update := `{"document": {
		"type": "Article",
		"content": [{"type": "Paragraph", "content": ["Hello world"]}]
	}}`

	req := httptest.NewRequest("POST", "/v1/sessions/s1/diff", strings.NewReader(update))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("diff: status %d, body %s", w.Code, w.Body.String())
	}
	var diffResp proto.DiffResponse
	if err := json.NewDecoder(w.Body).Decode(&diffResp); err != nil {
		t.Fatalf("decoding diff: %v", err)
	}
	var p patch.Patch
	if err := json.Unmarshal(diffResp.Patch, &p); err != nil {
		t.Fatalf("decoding patch: %v", err)
	}
	if p.IsEmpty() {
		t.Error("diff produced no ops for a real edit")
	}

	req = httptest.NewRequest("POST", "/v1/sessions/s1/update", strings.NewReader(update))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("update: status %d, body %s", w.Code, w.Body.String())
	}
	var updResp proto.UpdateResponse
	if err := json.NewDecoder(w.Body).Decode(&updResp); err != nil {
		t.Fatalf("decoding update: %v", err)
	}
	if updResp.Seq != 1 {
		t.Errorf("seq = %d, want 1", updResp.Seq)
	}

	req = httptest.NewRequest("GET", "/v1/sessions/s1", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), "Hello world") {
		t.Errorf("update did not reach the document: %s", w.Body.String())
	}
}

func TestListKernels(t *testing.T) {
	router := testRouter()
	req := httptest.NewRequest("GET", "/v1/kernels", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list kernels: status %d", w.Code)
	}
	var resp proto.KernelsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(resp.Kernels) != 1 || resp.Kernels[0].Name != "python3" || !resp.Kernels[0].Fork {
		t.Errorf("kernels = %+v, want one forkable python3", resp.Kernels)
	}
}

func TestPatchFeedStreamsAppliedPatches(t *testing.T) {
	router := testRouter()
	srv := httptest.NewServer(router)
	defer srv.Close()

	createSession(t, router, "s1")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/sessions/s1/patches"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing feed: %v", err)
	}
	defer conn.Close()

	patchJSON := `{"ops": [
		{"type": "Replace", "address": ["content", 0, "content", 0], "value": "Hi"}
	]}`
	resp, err := http.Post(srv.URL+"/v1/sessions/s1/patch", "application/json", strings.NewReader(patchJSON))
	if err != nil {
		t.Fatalf("posting patch: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("apply patch: status %d", resp.StatusCode)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got patch.Patch
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("reading feed: %v", err)
	}
	if len(got.Ops) != 1 || got.Ops[0].Type != patch.OpReplace {
		t.Errorf("feed patch = %+v, want the applied Replace", got)
	}
}
