package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/jrsteele09/storefront-auth/internal/metrics"
	"github.com/jrsteele09/storefront-auth/oauth2"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// loginLimiterTTL is how long an idle client IP keeps its bucket.
const loginLimiterTTL = 10 * time.Minute

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// visitorStore keeps one token bucket per client IP and evicts idle ones.
type visitorStore struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	nowFunc  func() time.Time
	done     chan struct{}
	stopOnce sync.Once
}

func newVisitorStore(perSecond float64, burst int, ttl time.Duration) *visitorStore {
	s := &visitorStore{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		ttl:      ttl,
		nowFunc:  time.Now,
		done:     make(chan struct{}),
	}
	go s.cleanupLoop()
	return s
}

// allow spends one token from ip's bucket.
func (s *visitorStore) allow(ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	v, ok := s.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (s *visitorStore) cleanupLoop() {
	ticker := time.NewTicker(s.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.cleanup()
		}
	}
}

func (s *visitorStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	for ip, v := range s.visitors {
		if now.Sub(v.lastSeen) > s.ttl {
			delete(s.visitors, ip)
		}
	}
}

func (s *visitorStore) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// LoginRateLimitMiddleware throttles login attempts per client IP.
func (s *Server) LoginRateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.limiter.allow(ip) {
			metrics.LoginAttempts.WithLabelValues(loginMethod(r), "rate_limited").Inc()
			log.Warn().Str("ip", ip).Str("path", r.URL.Path).Msg("login rate limit exceeded")
			w.Header().Set("Retry-After", "1")
			if wantsJSON(r) || r.URL.Path == RouteAuthToken {
				writeError(w, http.StatusTooManyRequests, oauth2.ErrorRateLimited, "too many login attempts")
				return
			}
			redirectWithError(w, r, RouteLogin, "Too many login attempts, please wait and try again.")
			return
		}
		next(w, r)
	}
}
