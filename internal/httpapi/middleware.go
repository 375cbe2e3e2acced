package httpapi

import (
	"crypto/subtle"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

/***************
 * Access log
 ***************/

// accessLog records one line and one metrics sample per request, labelled
// with the matched route pattern rather than the raw path.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		dur := time.Since(start)
		s.metrics.ObserveRequest(route, r.Method, status, dur)
		s.log.Debug("http request", "method", r.Method, "route", route, "path", r.URL.Path,
			"status", status, "bytes", ww.BytesWritten(), "duration", dur, "remote", remoteIP(r))
	})
}

/***************
 * Per-IP rate limiting
 ***************/

const (
	visitorIdleTTL   = 5 * time.Minute
	visitorPruneSize = 1024
)

type visitor struct {
	bucket *rate.Limiter
	seen   time.Time
}

// ipRateLimiter keeps one token bucket per client address. Idle visitors are
// pruned once the table grows past visitorPruneSize. A nil limiter allows
// everything.
type ipRateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor
}

func newIPRateLimiter(rps, burst int) *ipRateLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &ipRateLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		visitors: make(map[string]*visitor),
	}
}

func (l *ipRateLimiter) Allow(ip string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	v := l.visitors[ip]
	if v == nil {
		if len(l.visitors) >= visitorPruneSize {
			l.pruneLocked(now)
		}
		v = &visitor{bucket: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.seen = now
	return v.bucket.AllowN(now, 1)
}

func (l *ipRateLimiter) pruneLocked(now time.Time) {
	for ip, v := range l.visitors {
		if now.Sub(v.seen) > visitorIdleTTL {
			delete(l.visitors, ip)
		}
	}
}

// remoteIP expects middleware.RealIP to have already folded forwarding
// headers into RemoteAddr.
func remoteIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter.Allow(remoteIP(r)) {
			next.ServeHTTP(w, r)
			return
		}
		s.metrics.IncRateLimited()
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "rate limited")
	})
}

/***************
 * CORS policy
 ***************/

// corsPolicy is the dashboard origin allow-list; "*" admits any http(s)
// origin. A nil policy sends no CORS headers.
type corsPolicy struct {
	any     bool
	origins map[string]bool
}

func newCORSPolicy(origins []string) *corsPolicy {
	p := &corsPolicy{origins: make(map[string]bool)}
	for _, o := range origins {
		switch o = strings.TrimSpace(o); o {
		case "":
		case "*":
			p.any = true
		default:
			p.origins[strings.TrimSuffix(o, "/")] = true
		}
	}
	if !p.any && len(p.origins) == 0 {
		return nil
	}
	return p
}

func (p *corsPolicy) allows(origin string) bool {
	if p == nil {
		return false
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}
	return p.any || p.origins[origin]
}

// cors answers preflights and decorates dashboard reads. Requests carrying
// an Origin outside the allow-list are rejected.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if s.origins == nil || origin == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !s.origins.allows(origin) {
			writeError(w, http.StatusForbidden, "origin not allowed")
			return
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
		if r.Method != http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		h.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
			h.Set("Access-Control-Allow-Headers", req)
		}
		h.Set("Access-Control-Max-Age", "300")
		w.WriteHeader(http.StatusNoContent)
	})
}

/***************
 * Admin auth
 ***************/

// requireToken guards admin routes with a static bearer token. An empty
// token leaves them open.
func requireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
