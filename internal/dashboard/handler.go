package dashboard

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/mindwtr/mindwtr/internal/merge"
	"github.com/mindwtr/mindwtr/internal/syncer"
	"github.com/mindwtr/mindwtr/internal/watcher"
)

// SyncData is the payload of sync_* messages.
type SyncData struct {
	Backend   string         `json:"backend,omitempty"`
	Status    string         `json:"status,omitempty"`
	Step      string         `json:"step,omitempty"`
	Error     string         `json:"error,omitempty"`
	Added     int            `json:"added"`
	Updated   int            `json:"updated"`
	Conflicts int            `json:"conflicts"`
	Duration  time.Duration  `json:"duration,omitempty"`
	Queued    bool           `json:"queued"`
	Sync      *syncer.Status `json:"sync,omitempty"`
}

// ExternalMergeData is the payload of external_merge messages.
type ExternalMergeData struct {
	Path      string `json:"path"`
	Hash      string `json:"hash"`
	Added     int    `json:"added"`
	Updated   int    `json:"updated"`
	Conflicts int    `json:"conflicts"`
}

// Handler turns orchestrator and watcher events into dashboard messages.
// It implements syncer.EventSink.
type Handler struct {
	server *Server
	logger *log.Logger
}

var _ syncer.EventSink = (*Handler)(nil)

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	return &Handler{server: server, logger: logger}
}

// Publish forwards a sync event. It never blocks.
func (h *Handler) Publish(ev syncer.Event) {
	var msgType MessageType
	switch ev.Type {
	case syncer.EventSyncStarted:
		msgType = MessageTypeSyncStarted
	case syncer.EventSyncComplete:
		msgType = MessageTypeSyncComplete
	case syncer.EventSyncError:
		msgType = MessageTypeSyncError
	default:
		h.logger.Printf("Ignoring unknown sync event %q", ev.Type)
		return
	}

	status := ev.Status
	data := SyncData{Queued: status.Queued, Sync: &status}
	if res := ev.Result; res != nil {
		data.Backend = string(res.Backend)
		data.Status = res.Status
		data.Step = string(res.Step)
		data.Error = res.Error
		if !res.StartedAt.IsZero() && !res.FinishedAt.IsZero() {
			data.Duration = res.FinishedAt.Sub(res.StartedAt)
		}
		if res.Stats != nil {
			fillCounts(*res.Stats, &data.Added, &data.Updated, &data.Conflicts)
		}
	}
	h.send(msgType, parseTime(ev.At), data)
}

// OnMerge reports an external edit of the data file that was merged.
// It has the signature of watcher.Deps.OnMerge.
func (h *Handler) OnMerge(ev watcher.MergeEvent) {
	h.logger.Printf("External change merged: %s", ev.Path)
	data := ExternalMergeData{Path: ev.Path, Hash: ev.Hash}
	fillCounts(ev.Stats, &data.Added, &data.Updated, &data.Conflicts)
	h.send(MessageTypeExternalMerge, time.Now(), data)
}

// BroadcastStatus sends a status snapshot to all clients.
func (h *Handler) BroadcastStatus(status any) {
	h.send(MessageTypeStatus, time.Now(), status)
}

func (h *Handler) send(t MessageType, at time.Time, payload any) {
	dataJSON, err := json.Marshal(payload)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", t, err)
		return
	}
	h.server.Broadcast(Message{Type: t, Timestamp: at, Data: dataJSON})
}

func fillCounts(s merge.Stats, added, updated, conflicts *int) {
	*added = s.TotalAdded()
	*updated = s.TotalUpdated()
	*conflicts = s.TotalConflicts()
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Now()
	}
	return t
}
