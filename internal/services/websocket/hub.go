package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"livedetect/internal/classes"
	"livedetect/internal/dto"
	"livedetect/internal/logger"
	"livedetect/internal/pipeline"

	"github.com/gorilla/websocket"
)

const (
	broadcastQueue = 16
	writeWait      = 2 * time.Second
)

// HubService fans detection events out to connected viewers.
type HubService struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	mutex      sync.Mutex
	done       chan struct{}
	names      classes.Names
	logger     *logger.Logger

	// viewers mirrors len(clients) so Publish never waits on mutex.
	viewers atomic.Int64
	dropped atomic.Uint64
}

func NewHubService(names classes.Names, logger *logger.Logger) *HubService {
	return &HubService{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, broadcastQueue),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		names:      names,
		logger:     logger,
	}
}

// Run serves registrations and broadcasts until ctx is done, then disconnects every client.
func (h *HubService) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.viewers.Store(int64(count))
			h.mutex.Unlock()
			h.logger.Info("Viewer connected. Total: %d", count)

		case client := <-h.unregister:
			if h.remove(client) {
				h.logger.Info("Viewer disconnected. Total: %d", h.viewers.Load())
			}

		case message := <-h.broadcast:
			h.send(message)

		case <-ctx.Done():
			h.mutex.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.viewers.Store(0)
			h.mutex.Unlock()
			return
		}
	}
}

// send writes message to every viewer. Writes happen outside the lock, only this
// goroutine writes to the connections.
func (h *HubService) send(message []byte) {
	h.mutex.Lock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
			h.logger.Warning("Error sending to viewer, disconnecting: %v", err)
			h.remove(client)
		}
	}
}

// remove drops and closes client. It reports whether client was still registered.
func (h *HubService) remove(client *websocket.Conn) bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if _, ok := h.clients[client]; !ok {
		return false
	}
	delete(h.clients, client)
	h.viewers.Store(int64(len(h.clients)))
	client.Close()
	return true
}

// Register adds a viewer connection. After the hub stopped the connection is closed instead.
func (h *HubService) Register(client *websocket.Conn) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes and closes a viewer connection.
func (h *HubService) Unregister(client *websocket.Conn) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.Close()
	}
}

// Publish queues an event for res without blocking. Events are dropped while viewers lag behind
// or nobody is watching. It takes no lock shared with the writer.
func (h *HubService) Publish(res pipeline.Result) {
	if h.viewers.Load() == 0 {
		return
	}

	message, err := json.Marshal(dto.NewDetectionEvent(res, h.names))
	if err != nil {
		h.logger.Error("Failed to encode detection event: %v", err)
		return
	}

	select {
	case h.broadcast <- message:
	default:
		h.dropped.Add(1)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (h *HubService) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *HubService) GetClientCount() int {
	return int(h.viewers.Load())
}
