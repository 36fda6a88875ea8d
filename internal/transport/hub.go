package transport

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const writeTimeout = 200 * time.Millisecond

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans messages out to every connected websocket client. Waves go
// out as binary frames, beats as text frames.
type Hub struct {
	mu     sync.Mutex
	conns  map[*websocket.Conn]bool
	closed bool
	log    *logrus.Entry

	// A websocket connection allows one writer at a time
	writeMu sync.Mutex

	waves atomic.Int64
	beats atomic.Int64
}

// NewHub creates an empty hub.
func NewHub(log *logrus.Entry) *Hub {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Hub{
		conns: make(map[*websocket.Conn]bool),
		log:   log.WithField("component", "hub"),
	}
}

// add registers c. It reports false once the hub is closed.
func (h *Hub) add(c *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c] = true
	return true
}

func (h *Hub) remove(c *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, c)
	h.mu.Unlock()
}

func (h *Hub) snapshot() []*websocket.Conn {
	h.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	return clients
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// BroadcastWave sends a raw wave payload to every client.
func (h *Hub) BroadcastWave(b []byte) {
	h.waves.Add(1)
	h.broadcast(websocket.BinaryMessage, b)
}

// BroadcastBeat sends a beat JSON document to every client.
func (h *Hub) BroadcastBeat(b []byte) {
	h.beats.Add(1)
	h.broadcast(websocket.TextMessage, b)
}

// broadcast drops any client that cannot keep up
func (h *Hub) broadcast(kind int, b []byte) {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	for _, c := range h.snapshot() {
		_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.WriteMessage(kind, b); err != nil {
			h.log.WithError(err).WithField("remote", c.RemoteAddr().String()).Debug("client dropped")
			_ = c.Close()
			h.remove(c)
		}
	}
}

// ServeWS upgrades the request and keeps the client registered until it
// disconnects. Anything the client sends is discarded.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if !h.add(conn) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeTimeout))
		conn.Close()
		return
	}
	defer func() {
		h.remove(conn)
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Close says goodbye to every client and closes its connection, which
// ends the ServeWS loops. http.Server.Shutdown leaves hijacked websocket
// connections alone, so call Close after it. Later upgrades are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range h.snapshot() {
		_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
		_ = c.Close()
		h.remove(c)
	}
}

// ServeMetrics writes plain-text counters.
func (h *Hub) ServeMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "waves %d\n", h.waves.Load())
	fmt.Fprintf(w, "beats %d\n", h.beats.Load())
	fmt.Fprintf(w, "clients %d\n", h.Clients())
}

// Handler routes /ws and /metrics.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.ServeWS)
	mux.HandleFunc("/metrics", h.ServeMetrics)
	return mux
}

// Relay subscribes the hub to every source's waves and beats.
func (h *Hub) Relay(nc *nats.Conn, waveSubject, beatSubject string) ([]*nats.Subscription, error) {
	waves, err := nc.Subscribe(waveSubject+".*", func(msg *nats.Msg) {
		h.BroadcastWave(msg.Data)
	})
	if err != nil {
		return nil, err
	}
	beats, err := nc.Subscribe(beatSubject+".*", func(msg *nats.Msg) {
		h.BroadcastBeat(msg.Data)
	})
	if err != nil {
		_ = waves.Unsubscribe()
		return nil, err
	}
	return []*nats.Subscription{waves, beats}, nil
}
