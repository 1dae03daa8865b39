package main

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type contextKey int

const requestIDKey contextKey = iota

const requestIDHeader = "X-Request-Id"

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// chain applies middleware in order so that the first one is outermost.
func chain(handler http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

// requestID tags each request with an ID, reusing one sent by a proxy.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// recovery turns a handler panic into a 500.
func recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.WithFields(log.Fields{
					"request_id": requestIDFrom(r.Context()),
					"method":     r.Method,
					"path":       r.URL.Path,
				}).Errorf("panic recovered: %v", rec)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.code = code
	sw.ResponseWriter.WriteHeader(code)
}

// accessLog logs each request at debug level.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.WithFields(log.Fields{
			"request_id": requestIDFrom(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     sw.code,
			"duration":   time.Since(start).String(),
		}).Debug("request")
	})
}

// ipWhitelist restricts next to callers inside allowedCIDRs. An empty list
// disables the check. X-Forwarded-For is consulted only when the direct peer
// is one of trustedProxies; see clientIP.
func ipWhitelist(allowedCIDRs, trustedProxies string, next http.Handler) http.Handler {
	allowed := parseCIDRs(allowedCIDRs)
	if len(allowed) == 0 {
		return next
	}
	trusted := parseCIDRs(trustedProxies)

	log.WithFields(log.Fields{
		"allowed": allowedCIDRs,
		"proxies": trustedProxies,
	}).Info("webhook IP allow-list enabled")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, trusted)
		if ip == nil || !containsIP(allowed, ip) {
			log.WithFields(log.Fields{
				"client": ip,
				"peer":   r.RemoteAddr,
			}).Warn("webhook access denied")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// parseCIDRs reads a comma-separated list; bare addresses become /32 or /128.
func parseCIDRs(raw string) []*net.IPNet {
	var nets []*net.IPNet
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.Contains(s, "/") {
			if strings.Contains(s, ":") {
				s += "/128"
			} else {
				s += "/32"
			}
		}
		_, cidr, err := net.ParseCIDR(s)
		if err != nil {
			log.WithError(err).Warnf("ignoring invalid CIDR %q", s)
			continue
		}
		nets = append(nets, cidr)
	}
	return nets
}

func containsIP(nets []*net.IPNet, ip net.IP) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP returns the address the request came from. The TCP peer is
// authoritative unless it is a trusted proxy, in which case X-Forwarded-For is
// walked right to left and the first hop that is not a trusted proxy wins.
func clientIP(r *http.Request, trusted []*net.IPNet) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer := net.ParseIP(host)
	if peer == nil || !containsIP(trusted, peer) {
		return peer
	}

	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := net.ParseIP(strings.TrimSpace(hops[i]))
		if hop == nil {
			// An unparsable hop cannot be attributed; stop at the last known one.
			return peer
		}
		if !containsIP(trusted, hop) {
			return hop
		}
		peer = hop
	}
	return peer
}
