package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"shelly-dtu/internal/schema"
)

const (
	pushInterval  = time.Second
	resendAfter   = 10 * time.Second
	writeDeadline = 5 * time.Second
)

// sockets serves the /livedata websocket: the snapshot is pushed once per
// second when it changed, and at least every ten seconds.
type sockets struct {
	live     LiveSource
	log      logr.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*websocket.Conn
}

func newSockets(live LiveSource, log logr.Logger) *sockets {
	return &sockets{
		live: live,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*websocket.Conn),
	}
}

func (h *sockets) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *sockets) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.clients {
		conn.Close()
		delete(h.clients, id)
	}
}

func (h *sockets) handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error(err, "Websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	h.mu.Lock()
	h.clients[id] = conn
	h.mu.Unlock()
	h.log.Info("Websocket connected", "client", id, "remote", c.Request.RemoteAddr)

	defer func() {
		h.mu.Lock()
		delete(h.clients, id)
		h.mu.Unlock()
		conn.Close()
		h.log.Info("Websocket disconnected", "client", id)
	}()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			h.log.V(1).Info("Websocket message ignored", "client", id, "len", len(msg))
		}
	}()

	h.push(conn, closed, c.Request.Context().Done())
}

func (h *sockets) push(conn *websocket.Conn, closed <-chan struct{}, done <-chan struct{}) {
	ticker := time.NewTicker(pushInterval)
	defer ticker.Stop()

	var last *schema.LiveData
	var lastSent time.Time
	send := func() bool {
		d := h.live.Latest()
		if d == nil {
			return true
		}
		if d == last && time.Since(lastSent) < resendAfter {
			return true
		}
		conn.SetWriteDeadline(time.Now().Add(writeDeadline))
		if err := conn.WriteJSON(d); err != nil {
			h.log.V(1).Info("Websocket write failed", "error", err.Error())
			return false
		}
		last, lastSent = d, time.Now()
		return true
	}

	if !send() {
		return
	}
	for {
		select {
		case <-closed:
			return
		case <-done:
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}
