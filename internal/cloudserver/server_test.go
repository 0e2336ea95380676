package cloudserver

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mindwtr/mindwtr/internal/remote"
	"github.com/mindwtr/mindwtr/internal/schema"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(&Config{
		Listen:       "127.0.0.1:0",
		DataDir:      filepath.Join(t.TempDir(), "cloud"),
		MaxBodyBytes: 1024,
		Logger:       log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return s
}

func do(t *testing.T, s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

// TestNew_RequiresDataDir verifies the data directory is mandatory.
func TestNew_RequiresDataDir(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("New(nil) should fail")
	}
	if _, err := New(&Config{}); err == nil {
		t.Error("New() without DataDir should fail")
	}
}

// TestServer_Routes verifies status codes for each endpoint.
func TestServer_Routes(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		code   int
		errMsg string
	}{
		{"health", http.MethodGet, "/health", "", "", http.StatusOK, ""},
		{"options", http.MethodOptions, "/v1/data", "", "", http.StatusOK, ""},
		{"no token", http.MethodGet, "/v1/data", "", "", http.StatusUnauthorized, "Unauthorized"},
		{"missing document", http.MethodGet, "/v1/data", "tok", "", http.StatusNotFound, "Not found"},
		{"empty body", http.MethodPut, "/v1/data", "tok", "  ", http.StatusBadRequest, "Missing body"},
		{"invalid json", http.MethodPut, "/v1/data", "tok", "{nope", http.StatusBadRequest, "Invalid JSON body"},
		{"too large", http.MethodPut, "/v1/data", "tok", `{"x":"` + strings.Repeat("a", 2048) + `"}`, http.StatusRequestEntityTooLarge, "Payload too large"},
		{"unknown", http.MethodGet, "/v2/data", "tok", "", http.StatusNotFound, "Not found"},
	}

	s := newTestServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tt.method, tt.path, tt.token, tt.body)
			if rec.Code != tt.code {
				t.Fatalf("code = %d, want %d (body %s)", rec.Code, tt.code, rec.Body.String())
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" && tt.name != "unknown" {
				t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
			}
			if tt.errMsg != "" {
				var body map[string]string
				if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
					t.Fatalf("Unmarshal() failed: %v", err)
				}
				if body["error"] != tt.errMsg {
					t.Errorf("error = %q, want %q", body["error"], tt.errMsg)
				}
			}
		})
	}
}

// TestServer_PutGet verifies documents are stored per token.
func TestServer_PutGet(t *testing.T) {
	s := newTestServer(t)

	if rec := do(t, s, http.MethodPut, "/v1/data", "alice", `{"tasks":[{"id":"a"}]}`); rec.Code != http.StatusOK {
		t.Fatalf("PUT code = %d, want 200", rec.Code)
	}

	rec := do(t, s, http.MethodGet, "/v1/data", "alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET code = %d, want 200", rec.Code)
	}
	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	if tasks, _ := doc["tasks"].([]any); len(tasks) != 1 {
		t.Errorf("tasks = %v, want one task", doc["tasks"])
	}

	if rec := do(t, s, http.MethodGet, "/v1/data", "bob", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET for other token code = %d, want 404", rec.Code)
	}

	entries, err := os.ReadDir(s.DataDir())
	if err != nil {
		t.Fatalf("ReadDir() failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != filepath.Base(s.documentPath("alice")) {
		t.Errorf("data dir entries = %v, want the hashed alice document only", entries)
	}
	if strings.Contains(entries[0].Name(), "alice") {
		t.Error("document name must not contain the token")
	}
}

// TestServer_CorruptDocument verifies a corrupt stored document reads as missing.
func TestServer_CorruptDocument(t *testing.T) {
	s := newTestServer(t)
	if err := os.WriteFile(s.documentPath("tok"), []byte("garbage"), 0600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	if rec := do(t, s, http.MethodGet, "/v1/data", "tok", ""); rec.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", rec.Code)
	}
}

// TestBearerToken verifies Authorization header parsing.
func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"Bearer abc", "abc"},
		{"bearer   abc ", "abc"},
		{"BEARER abc", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := bearerToken(tt.header); got != tt.want {
			t.Errorf("bearerToken(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

// TestServer_CloudClientRoundTrip verifies the cloud backend client against a live server.
func TestServer_CloudClientRoundTrip(t *testing.T) {
	s, err := New(&Config{
		Listen:  "127.0.0.1:0",
		DataDir: t.TempDir(),
		Logger:  log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Stop(ctx); err != nil {
			t.Errorf("Stop() failed: %v", err)
		}
	}()

	client, err := remote.NewCloudClient("http://"+s.Addr()+"/v1", "secret-token", nil)
	if err != nil {
		t.Fatalf("NewCloudClient() failed: %v", err)
	}

	ctx := context.Background()
	got, err := client.GetJSON(ctx)
	if err != nil {
		t.Fatalf("GetJSON() on empty server failed: %v", err)
	}
	if got != nil {
		t.Fatalf("GetJSON() = %v, want nil for a missing document", got)
	}

	doc := schema.Empty()
	doc.Tasks = []schema.Record{{"id": "t1", "title": "Buy milk", "updatedAt": "2026-01-01T00:00:00Z"}}
	if err := client.PutJSON(ctx, doc); err != nil {
		t.Fatalf("PutJSON() failed: %v", err)
	}

	got, err = client.GetJSON(ctx)
	if err != nil {
		t.Fatalf("GetJSON() failed: %v", err)
	}
	data := schema.FromAny(got)
	if len(data.Tasks) != 1 || data.Tasks[0].Title() != "Buy milk" {
		t.Errorf("tasks = %v, want the uploaded task", data.Tasks)
	}
}
