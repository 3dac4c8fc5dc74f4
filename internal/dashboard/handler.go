package dashboard

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/pomosync/pomosync/internal/orchestrator"
	"github.com/pomosync/pomosync/internal/schema"
)

// TaskUpdateData is the payload of a task_update message.
type TaskUpdateData struct {
	Tasks   []schema.Task `json:"tasks"`
	Count   int           `json:"count"`
	Pending int           `json:"pending"`
}

// QueueData is the payload of a queue message.
type QueueData struct {
	Pending int `json:"pending"`
}

// Source is what the handler subscribes to.
type Source interface {
	Subscribe(fn func(orchestrator.Event))
	Status() orchestrator.Status
}

// Handler turns orchestrator events into dashboard messages.
type Handler struct {
	server *Server
	logger *log.Logger
	now    func() time.Time
}

// NewHandler creates a handler broadcasting through server.
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	return &Handler{server: server, logger: logger, now: time.Now}
}

// Attach subscribes to src and publishes its current status so clients
// connecting before the first sync see something.
func (h *Handler) Attach(src Source) {
	src.Subscribe(h.OnEvent)
	status := src.Status()
	h.OnEvent(orchestrator.Event{Type: orchestrator.EventSyncStatus, Status: &status, Pending: status.Pending})
}

// OnEvent formats and broadcasts one orchestrator event.
func (h *Handler) OnEvent(ev orchestrator.Event) {
	var (
		typ  MessageType
		data any
	)
	switch ev.Type {
	case orchestrator.EventSyncStatus:
		if ev.Status == nil {
			return
		}
		typ, data = MessageTypeSyncStatus, ev.Status
	case orchestrator.EventTaskUpdate:
		tasks := ev.Tasks
		if tasks == nil {
			tasks = []schema.Task{}
		}
		typ, data = MessageTypeTaskUpdate, TaskUpdateData{Tasks: tasks, Count: len(tasks), Pending: ev.Pending}
	case orchestrator.EventQueue:
		typ, data = MessageTypeQueue, QueueData{Pending: ev.Pending}
	default:
		h.logger.Printf("Ignoring unknown event %q", ev.Type)
		return
	}

	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: h.now(), Data: raw})
}
