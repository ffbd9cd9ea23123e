package dashboard

import (
	"encoding/json"
	"log"
	"time"

	syncengine "github.com/shelfwise/shelfsync/internal/sync"
)

// Handler bridges engine events onto the WebSocket broadcast stream.
type Handler struct {
	server *Server
	logger *log.Logger
}

// NewHandler creates an event handler connected to a dashboard server.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{server: server, logger: logger}
}

// TableStateData reports a table changing sync phase.
type TableStateData struct {
	Table string `json:"table"`
	State string `json:"state"`
}

// SyncCompleteData carries cycle results.
type SyncCompleteData struct {
	Summaries []syncengine.Summary `json:"summaries"`
	Error     string               `json:"error,omitempty"`
}

// SyncStarted implements sync.Events.
func (h *Handler) SyncStarted() {
	h.server.Broadcast(Message{Type: MessageTypeSyncStarted, Timestamp: time.Now()})
}

// TableStateChanged implements sync.Events.
func (h *Handler) TableStateChanged(table string, state syncengine.TableState) {
	h.broadcast(MessageTypeTableState, TableStateData{Table: table, State: string(state)})
}

// SyncFinished implements sync.Events.
func (h *Handler) SyncFinished(summaries []syncengine.Summary, err error) {
	data := SyncCompleteData{Summaries: summaries}
	if err != nil {
		data.Error = err.Error()
	}
	h.broadcast(MessageTypeSyncComplete, data)
}

func (h *Handler) broadcast(typ MessageType, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Printf("failed to marshal %s event: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: time.Now(), Data: data})
}
