package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures per-client limits
type RateLimitConfig struct {
	RequestsPerSecond float64       // Requests allowed per second per IP
	Burst             int           // Maximum burst size
	MaxSocketsPerIP   int           // Concurrent WebSocket connections per IP, 0 uses MaxWSConnectionsPerIP
	IdleTimeout       time.Duration // Clients idle this long with no open socket are forgotten
}

// DefaultRateLimitConfig returns production-safe defaults
var DefaultRateLimitConfig = RateLimitConfig{
	RequestsPerSecond: 20,
	Burst:             40,
	MaxSocketsPerIP:   MaxWSConnectionsPerIP,
	IdleTimeout:       10 * time.Minute,
}

// clientState is everything tracked about one client IP: its request
// budget and its open WebSocket connections.
type clientState struct {
	requests *rate.Limiter
	sockets  atomic.Int32
	lastSeen atomic.Int64 // Unix nano
}

// ClientLimiter enforces the per-IP request rate and WebSocket connection
// cap. Both limits share one entry per client so a single sweep expires them.
type ClientLimiter struct {
	cfg      RateLimitConfig
	clients  sync.Map // map[string]*clientState
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewClientLimiter creates a limiter and starts its sweep goroutine. Call
// Stop to end it.
func NewClientLimiter(cfg RateLimitConfig) *ClientLimiter {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultRateLimitConfig.IdleTimeout
	}
	if cfg.MaxSocketsPerIP <= 0 {
		cfg.MaxSocketsPerIP = MaxWSConnectionsPerIP
	}
	l := &ClientLimiter{
		cfg:      cfg,
		stopChan: make(chan struct{}),
	}
	go l.sweepLoop()
	return l
}

// Stop ends the sweep goroutine
func (l *ClientLimiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopChan)
	})
}

func (l *ClientLimiter) client(ip string) *clientState {
	now := time.Now().UnixNano()
	if v, ok := l.clients.Load(ip); ok {
		c := v.(*clientState)
		c.lastSeen.Store(now)
		return c
	}

	c := &clientState{
		requests: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.Burst),
	}
	c.lastSeen.Store(now)
	actual, _ := l.clients.LoadOrStore(ip, c)
	return actual.(*clientState)
}

// AllowRequest spends one request token for ip
func (l *ClientLimiter) AllowRequest(ip string) bool {
	return l.client(ip).requests.Allow()
}

// Middleware rejects clients over their request rate with 429. It expects
// middleware.RealIP to have run first.
func (l *ClientLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.AllowRequest(ClientIP(r)) {
			RecordConnectionRejected("rate_limit")
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AcquireSocket reserves a WebSocket slot for ip if one is free
func (l *ClientLimiter) AcquireSocket(ip string) bool {
	c := l.client(ip)
	for {
		n := c.sockets.Load()
		if int(n) >= l.cfg.MaxSocketsPerIP {
			return false
		}
		if c.sockets.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// ReleaseSocket frees a slot reserved by AcquireSocket
func (l *ClientLimiter) ReleaseSocket(ip string) {
	if v, ok := l.clients.Load(ip); ok {
		c := v.(*clientState)
		c.sockets.Add(-1)
		c.lastSeen.Store(time.Now().UnixNano())
	}
}

// Sockets returns the open WebSocket connections of ip
func (l *ClientLimiter) Sockets(ip string) int {
	if v, ok := l.clients.Load(ip); ok {
		return int(v.(*clientState).sockets.Load())
	}
	return 0
}

func (l *ClientLimiter) sweepLoop() {
	ticker := time.NewTicker(l.cfg.IdleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.sweep(time.Now().Add(-l.cfg.IdleTimeout))
		}
	}
}

// sweep forgets clients not seen since cutoff. A client holding a socket is
// kept, or its slot count would reset while the connection is still open.
func (l *ClientLimiter) sweep(cutoff time.Time) int {
	removed := 0
	l.clients.Range(func(key, value interface{}) bool {
		c := value.(*clientState)
		if c.sockets.Load() == 0 && c.lastSeen.Load() < cutoff.UnixNano() {
			l.clients.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// ClientIP returns the host part of r.RemoteAddr. Behind the router's
// middleware.RealIP that is already the forwarded client address.
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// IsAllowedOrigin checks a WebSocket Origin header. Only local pages may
// connect; an empty Origin (non-browser client) is rejected.
func IsAllowedOrigin(origin string) bool {
	for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "https://localhost"} {
		if origin == prefix || strings.HasPrefix(origin, prefix+":") {
			return true
		}
	}
	return false
}
