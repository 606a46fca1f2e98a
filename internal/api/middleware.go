package api

import (
	"bufio"
	"crypto/subtle"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"grimm.is/toggled/internal/i18n"
)

// accessLogWriter wraps http.ResponseWriter to capture the status code.
type accessLogWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (rw *accessLogWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *accessLogWriter) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// Hijack lets websocket upgrades through the access log.
func (rw *accessLogWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &accessLogWriter{ResponseWriter: w, status: http.StatusOK}
		if s.cfg.MaxBodyBytes > 0 {
			r.Body = http.MaxBytesReader(rw, r.Body, s.cfg.MaxBodyBytes)
		}
		next.ServeHTTP(rw, r)

		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", s.clientIP(r),
			"status", rw.status,
			"size", rw.size,
			"duration", time.Since(start),
		)
	})
}

// requireKey rejects requests without the configured API key. With no key
// configured every request passes.
func (s *Server) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" && s.keyHash == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if !s.validKey(key) {
			WriteErrorCtx(w, r, http.StatusUnauthorized, i18n.MsgUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit throttles each client address. Without a limiter every
// request passes.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		ip := s.clientIP(r)
		if !s.limiter.Allow(ip) {
			retry := s.limiter.RetryAfter(ip)
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
			s.logger.Warn("toggle request rate limited", "remote", ip)
			WriteErrorCtx(w, r, http.StatusTooManyRequests, i18n.MsgRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) validKey(key string) bool {
	if key == "" {
		return false
	}
	if s.apiKey != "" {
		return subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) == 1
	}
	return bcrypt.CompareHashAndPassword(s.keyHash, []byte(key)) == nil
}
