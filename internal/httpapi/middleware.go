// Package httpapi exposes the read-only admin HTTP surface: health, room
// and auction snapshots, and operational metrics, separate from the TCP
// protocol port. Grounded on the teacher's
// backend/auction/internal/api/{handler,middleware}.go.
package httpapi

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/rivalapexmediation/auctionhouse/internal/domain"
	"github.com/rivalapexmediation/auctionhouse/internal/session"
)

// --- Admin surface middlewares (all opt-in via env flags) ---

// AdminAuthMiddleware enforces a static Bearer token on /v1 routes when
// ADMIN_API_BEARER is set. Disabled (the route passes through untouched)
// when the operator hasn't configured a token, matching cfg.AdminBearerToken
// in internal/config.
func AdminAuthMiddleware(next http.Handler) http.Handler {
	bearer := strings.TrimSpace(os.Getenv("ADMIN_API_BEARER"))
	if bearer == "" {
		return next
	}
	const prefix = "Bearer "
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, prefix) || strings.TrimSpace(strings.TrimPrefix(auth, prefix)) != bearer {
			writeAdminError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AdminIPAllowlistMiddleware restricts /v1 access to the CIDR/IP list in
// ADMIN_IP_ALLOWLIST (comma-separated) when set; a bare IP is treated as a
// /32 or /128. Disabled when unset.
func AdminIPAllowlistMiddleware(next http.Handler) http.Handler {
	val := strings.TrimSpace(os.Getenv("ADMIN_IP_ALLOWLIST"))
	if val == "" {
		return next
	}
	nets := parseAllowlist(val)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if ip == nil {
			writeAdminError(w, http.StatusForbidden, "unable to determine client IP")
			return
		}
		for _, n := range nets {
			if n.Contains(ip) {
				next.ServeHTTP(w, r)
				return
			}
		}
		writeAdminError(w, http.StatusForbidden, "client IP not allowlisted")
	})
}

func parseAllowlist(val string) []*net.IPNet {
	var nets []*net.IPNet
	for _, part := range strings.Split(val, ",") {
		p := strings.TrimSpace(part)
		if p == "" {
			continue
		}
		if ip := net.ParseIP(p); ip != nil {
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			if _, n, err := net.ParseCIDR(p + "/" + strconv.Itoa(bits)); err == nil {
				nets = append(nets, n)
			}
			continue
		}
		if _, n, err := net.ParseCIDR(p); err == nil {
			nets = append(nets, n)
		}
	}
	return nets
}

// --- Per-route, per-IP token-bucket rate limiting ---

type bucket struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
}

func (b *bucket) take(rate, burst float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	b.tokens += now.Sub(b.last).Seconds() * rate
	if b.tokens > burst {
		b.tokens = burst
	}
	b.last = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

type limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   float64
}

func newLimiter(window time.Duration, burst int) *limiter {
	if window <= 0 {
		window = time.Minute
	}
	if burst <= 0 {
		burst = 60
	}
	return &limiter{
		buckets: make(map[string]*bucket),
		rate:    float64(burst) / window.Seconds(),
		burst:   float64(burst),
	}
}

func (l *limiter) allow(key string) bool {
	l.mu.Lock()
	b := l.buckets[key]
	if b == nil {
		b = &bucket{tokens: l.burst, last: time.Now()}
		l.buckets[key] = b
	}
	l.mu.Unlock()
	return b.take(l.rate, l.burst)
}

// AdminRateLimitMiddleware throttles /v1 requests once both
// ADMIN_RATELIMIT_WINDOW and ADMIN_RATELIMIT_BURST are set, keyed by the
// specific auctionhouse read route (rooms, auctions, or metrics overview)
// plus client IP — so a burst against /v1/auctions never starves a
// concurrent poller of /v1/metrics/overview from the same operator IP.
func AdminRateLimitMiddleware(next http.Handler) http.Handler {
	win := strings.TrimSpace(os.Getenv("ADMIN_RATELIMIT_WINDOW"))
	burstStr := strings.TrimSpace(os.Getenv("ADMIN_RATELIMIT_BURST"))
	if win == "" || burstStr == "" {
		return next
	}
	d, err := time.ParseDuration(win)
	if err != nil {
		d = time.Minute
	}
	b, err := strconv.Atoi(burstStr)
	if err != nil || b <= 0 {
		b = 60
	}
	lim := newLimiter(d, b)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		key := r.URL.Path + "|"
		if ip != nil {
			key += ip.String()
		}
		if !lim.allow(key) {
			writeAdminError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP extracts a best-effort caller IP from proxy headers or RemoteAddr.
func clientIP(r *http.Request) net.IP {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := net.ParseIP(strings.TrimSpace(strings.Split(xff, ",")[0])); ip != nil {
			return ip
		}
	}
	if xr := r.Header.Get("X-Real-IP"); xr != "" {
		if ip := net.ParseIP(strings.TrimSpace(xr)); ip != nil {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return net.ParseIP(host)
	}
	return nil
}

// AdminAuditMiddleware logs every /v1 request alongside a snapshot of the
// live auction house it's observing — sessions online plus active room and
// auction counts pulled straight from store/sessions — so an operator
// reviewing admin access logs can see what state a given read actually saw,
// not just that a request happened. Unlike the three middlewares above this
// one is unconditional: every admin request is audited.
func AdminAuditMiddleware(store *domain.Store, sessions *session.Registry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			ipStr := "unknown"
			if ip != nil {
				ipStr = ip.String()
			}
			var activeRooms, activeAuctions int
			for _, room := range store.AllRooms() {
				if room.Status == domain.RoomActive || room.Status == domain.RoomWaiting {
					activeRooms++
				}
			}
			for _, a := range store.AllAuctions() {
				if a.Status == domain.AuctionActive {
					activeAuctions++
				}
			}
			log.WithFields(log.Fields{
				"route":           r.URL.Path,
				"method":          r.Method,
				"client_ip":       ipStr,
				"sessions_online": sessions.Count(),
				"rooms_active":    activeRooms,
				"auctions_active": activeAuctions,
			}).Info("admin request")
			next.ServeHTTP(w, r)
		})
	}
}

// writeAdminError writes the package's standard error envelope, matching
// respondError's shape elsewhere in httpapi.
func writeAdminError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{"success": false, "error": message})
}
