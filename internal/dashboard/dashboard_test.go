package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/mindwtr/mindwtr/internal/config"
	"github.com/mindwtr/mindwtr/internal/merge"
	"github.com/mindwtr/mindwtr/internal/syncer"
	"github.com/mindwtr/mindwtr/internal/watcher"
)

func testServer(t *testing.T, status StatusFunc) *Server {
	t.Helper()
	server := NewServer(&Config{
		Host:   "127.0.0.1",
		Port:   0,
		Status: status,
		Logger: log.New(io.Discard, "", 0),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func dial(t *testing.T, server *Server) (*websocket.Conn, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}
	return msg
}

func waitClients(t *testing.T, server *Server, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for server.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", server.ClientCount(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestServerStartStop verifies the server binds a port and shuts down.
func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Host: "127.0.0.1", Port: 0, Logger: log.New(io.Discard, "", 0)})
	if err := server.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if addr := server.GetAddr(); addr == "" || addr == "127.0.0.1:0" {
		t.Fatalf("GetAddr() = %q, want bound address", addr)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
}

// TestWebSocketWelcome verifies new clients first receive a status message.
func TestWebSocketWelcome(t *testing.T) {
	server := testServer(t, func() any { return map[string]any{"running": true} })
	conn, ctx := dial(t, server)

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeStatus {
		t.Fatalf("Type = %q, want %q", msg.Type, MessageTypeStatus)
	}
	var data map[string]any
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Unmarshal(data) failed: %v", err)
	}
	if data["running"] != true {
		t.Errorf("data = %v, want running=true", data)
	}
	waitClients(t, server, 1)
}

// TestHandler_Publish verifies sync events reach connected clients.
func TestHandler_Publish(t *testing.T) {
	server := testServer(t, nil)
	handler := NewHandler(server, log.New(io.Discard, "", 0))
	conn, ctx := dial(t, server)
	readMessage(t, ctx, conn)
	waitClients(t, server, 1)

	stats := merge.Stats{}
	stats.Tasks.Added = 2
	stats.Projects.Updated = 1
	started := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		event syncer.Event
		want  MessageType
		check func(SyncData) bool
	}{
		{
			name:  "started",
			event: syncer.Event{Type: syncer.EventSyncStarted, At: started.Format(time.RFC3339Nano), Status: syncer.Status{InFlight: true}},
			want:  MessageTypeSyncStarted,
			check: func(d SyncData) bool { return d.Sync != nil && d.Sync.InFlight },
		},
		{
			name: "complete",
			event: syncer.Event{Type: syncer.EventSyncComplete, At: started.Format(time.RFC3339Nano), Result: &syncer.Result{
				Success: true, Status: syncer.StatusSuccess, Backend: config.BackendCloud, Stats: &stats,
				StartedAt: started, FinishedAt: started.Add(time.Second),
			}},
			want: MessageTypeSyncComplete,
			check: func(d SyncData) bool {
				return d.Backend == "cloud" && d.Added == 2 && d.Updated == 1 && d.Duration == time.Second
			},
		},
		{
			name: "error",
			event: syncer.Event{Type: syncer.EventSyncError, At: started.Format(time.RFC3339Nano), Result: &syncer.Result{
				Status: syncer.StatusError, Step: syncer.StepReadRemote, Error: "boom",
			}},
			want:  MessageTypeSyncError,
			check: func(d SyncData) bool { return d.Step == "read-remote" && d.Error == "boom" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler.Publish(tt.event)
			msg := readMessage(t, ctx, conn)
			if msg.Type != tt.want {
				t.Fatalf("Type = %q, want %q", msg.Type, tt.want)
			}
			if !msg.Timestamp.Equal(started) {
				t.Errorf("Timestamp = %v, want %v", msg.Timestamp, started)
			}
			var data SyncData
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				t.Fatalf("Unmarshal(data) failed: %v", err)
			}
			if !tt.check(data) {
				t.Errorf("unexpected data %+v", data)
			}
		})
	}
}

// TestHandler_OnMerge verifies external merges are broadcast.
func TestHandler_OnMerge(t *testing.T) {
	server := testServer(t, nil)
	handler := NewHandler(server, log.New(io.Discard, "", 0))
	conn, ctx := dial(t, server)
	readMessage(t, ctx, conn)
	waitClients(t, server, 1)

	stats := merge.Stats{}
	stats.Tasks.Updated = 1
	handler.OnMerge(watcher.MergeEvent{Path: "/data/data.json", Hash: "abc", Stats: stats})

	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeExternalMerge {
		t.Fatalf("Type = %q, want %q", msg.Type, MessageTypeExternalMerge)
	}
	var data ExternalMergeData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("Unmarshal(data) failed: %v", err)
	}
	if data.Path != "/data/data.json" || data.Hash != "abc" || data.Updated != 1 {
		t.Errorf("data = %+v", data)
	}
}

// TestHandler_UnknownEvent verifies unknown event types are dropped.
func TestHandler_UnknownEvent(t *testing.T) {
	server := NewServer(&Config{Logger: log.New(io.Discard, "", 0)})
	handler := NewHandler(server, log.New(io.Discard, "", 0))
	handler.Publish(syncer.Event{Type: "bogus"})
	select {
	case msg := <-server.broadcast:
		t.Errorf("unexpected message %+v", msg)
	default:
	}
}

// TestHTTPRoutes verifies the plain HTTP endpoints.
func TestHTTPRoutes(t *testing.T) {
	withStatus := NewServer(&Config{
		Status: func() any { return map[string]int{"triggers": 3} },
		Logger: log.New(io.Discard, "", 0),
	})
	without := NewServer(&Config{Logger: log.New(io.Discard, "", 0)})

	tests := []struct {
		name   string
		server *Server
		path   string
		code   int
		body   string
	}{
		{"health", withStatus, "/health", http.StatusOK, `{"clients":0,"status":"ok"}`},
		{"status", withStatus, "/status", http.StatusOK, `{"triggers":3}`},
		{"status missing", without, "/status", http.StatusNotFound, ""},
		{"root", withStatus, "/", http.StatusOK, ""},
		{"unknown", withStatus, "/nope", http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.code {
				t.Fatalf("code = %d, want %d", rec.Code, tt.code)
			}
			if tt.body != "" {
				var got, want any
				if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
					t.Fatalf("Unmarshal() failed: %v", err)
				}
				_ = json.Unmarshal([]byte(tt.body), &want)
				gotJSON, _ := json.Marshal(got)
				wantJSON, _ := json.Marshal(want)
				if string(gotJSON) != string(wantJSON) {
					t.Errorf("body = %s, want %s", gotJSON, wantJSON)
				}
			}
		})
	}
}
