package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// MaxWSConnectionsTotal is the maximum number of WebSocket connections allowed
	MaxWSConnectionsTotal = 500

	// MaxWSConnectionsPerIP is the maximum WebSocket connections per IP
	MaxWSConnectionsPerIP = 10

	// BroadcastInterval is how often world stats are pushed (10 Hz)
	BroadcastInterval = 100 * time.Millisecond

	wsWriteWait = 2 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if IsAllowedOrigin(origin) {
			return true
		}

		log.Printf("⚠️ WebSocket connection rejected from origin: %s", origin)
		RecordConnectionRejected("origin")
		return false
	},
}

// Codec selects the wire format of a WebSocket client
type Codec uint8

const (
	CodecJSON    Codec = iota // Text frames
	CodecMsgpack              // Binary frames
)

// wsEnvelope is the frame sent to clients in either codec
type wsEnvelope struct {
	Event string      `json:"event" msgpack:"event"`
	Data  interface{} `json:"data" msgpack:"data"`
}

// wsFrame carries one message pre-encoded in both codecs
type wsFrame struct {
	text   []byte
	binary []byte
}

type wsClient struct {
	conn  *websocket.Conn
	ip    string
	codec Codec
}

// WebSocketHub manages all WebSocket connections with DoS protection
type WebSocketHub struct {
	clients    map[*websocket.Conn]*wsClient
	broadcast  chan wsFrame
	register   chan *wsClient
	unregister chan *websocket.Conn
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex

	limits *ClientLimiter
}

// NewWebSocketHub creates a hub that reserves per-IP socket slots in limits
func NewWebSocketHub(limits *ClientLimiter) *WebSocketHub {
	return &WebSocketHub{
		clients:    make(map[*websocket.Conn]*wsClient),
		broadcast:  make(chan wsFrame, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		limits:     limits,
	}
}

// Run serves register, unregister and broadcast until Stop is called
func (h *WebSocketHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for conn, client := range h.clients {
				h.limits.ReleaseSocket(client.ip)
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			UpdateWSConnections(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.conn] = client
			count := len(h.clients)
			h.mu.Unlock()

			log.Printf("📱 Client connected from %s (%d total)", client.ip, count)
			UpdateWSConnections(count)

		case conn := <-h.unregister:
			h.mu.Lock()
			h.drop(conn)
			count := len(h.clients)
			h.mu.Unlock()

			log.Printf("📱 Client disconnected (%d remaining)", count)
			UpdateWSConnections(count)

		case frame := <-h.broadcast:
			var failed []*websocket.Conn

			h.mu.RLock()
			for conn, client := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				var err error
				if client.codec == CodecMsgpack {
					err = conn.WriteMessage(websocket.BinaryMessage, frame.binary)
				} else {
					err = conn.WriteMessage(websocket.TextMessage, frame.text)
				}
				if err != nil {
					failed = append(failed, conn)
				}
			}
			h.mu.RUnlock()

			if len(failed) > 0 {
				h.mu.Lock()
				for _, conn := range failed {
					h.drop(conn)
				}
				UpdateWSConnections(len(h.clients))
				h.mu.Unlock()
			}
			IncrementWSMessages()
		}
	}
}

// drop closes and forgets conn; callers hold the write lock
func (h *WebSocketHub) drop(conn *websocket.Conn) {
	if client, ok := h.clients[conn]; ok {
		h.limits.ReleaseSocket(client.ip)
		delete(h.clients, conn)
		conn.Close()
	}
}

// Stop ends Run and the broadcast loop and closes every connection
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Broadcast sends an event to all connected clients, each in its own codec
func (h *WebSocketHub) Broadcast(event string, data interface{}) {
	msg := wsEnvelope{Event: event, Data: data}

	text, err := json.Marshal(msg)
	if err != nil {
		log.Printf("⚠️ Broadcast %s: %v", event, err)
		return
	}
	binary, err := msgpack.Marshal(msg)
	if err != nil {
		log.Printf("⚠️ Broadcast %s: %v", event, err)
		return
	}

	select {
	case h.broadcast <- wsFrame{text: text, binary: binary}:
	default:
		// Channel full, skip (backpressure)
	}
}

// ClientCount returns the number of connected clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// WorldStats is the payload of the "world:stats" event
type WorldStats struct {
	Tick          uint64  `json:"tick" msgpack:"tick"`
	BodyCount     int     `json:"bodyCount" msgpack:"bodyCount"`
	ContactPairs  int     `json:"contactPairs" msgpack:"contactPairs"`
	BucketCount   int     `json:"bucketCount" msgpack:"bucketCount"`
	LargestBucket int     `json:"largestBucket" msgpack:"largestBucket"`
	AvgPerBucket  float64 `json:"avgPerBucket" msgpack:"avgPerBucket"`
}

// NewWorldStats builds the stats payload from the latest snapshot
func NewWorldStats(world WorldInterface) WorldStats {
	snap := world.GetSnapshot()
	return WorldStats{
		Tick:          snap.TickNumber,
		BodyCount:     snap.BodyCount,
		ContactPairs:  snap.ContactPairs,
		BucketCount:   snap.Index.Buckets,
		LargestBucket: snap.Index.LargestBucket,
		AvgPerBucket:  snap.Index.AvgPerBucket,
	}
}

// StartBroadcastLoop pushes world stats every interval until Stop
func (h *WebSocketHub) StartBroadcastLoop(world WorldInterface, interval time.Duration) {
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-h.done:
				return
			case <-ticker.C:
				if h.ClientCount() == 0 {
					continue
				}
				h.Broadcast("world:stats", NewWorldStats(world))
			}
		}
	}()
}

// HandleWebSocket upgrades the connection. ?codec=msgpack selects binary
// msgpack frames; anything else gets JSON text frames.
func (h *WebSocketHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := ClientIP(r)

	if h.ClientCount() >= MaxWSConnectionsTotal {
		log.Printf("⚠️ WebSocket connection rejected: total limit reached (%d)", MaxWSConnectionsTotal)
		RecordConnectionRejected("ws_total_limit")
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	if !h.limits.AcquireSocket(ip) {
		log.Printf("⚠️ WebSocket connection rejected from %s: per-IP limit reached", ip)
		RecordConnectionRejected("ws_ip_limit")
		http.Error(w, "Too many connections from your IP", http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		h.limits.ReleaseSocket(ip)
		return
	}

	client := &wsClient{conn: conn, ip: ip, codec: CodecJSON}
	if r.URL.Query().Get("codec") == "msgpack" {
		client.codec = CodecMsgpack
	}

	select {
	case h.register <- client:
	case <-h.done:
		h.limits.ReleaseSocket(ip)
		conn.Close()
		return
	}

	// Drain reads so close frames and pings are processed
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
