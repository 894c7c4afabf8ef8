package audit

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type requestMetaKey struct{}

type requestMeta struct {
	ip        string
	userAgent string
}

// Middleware stores client ip and user agent for later audit entries.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), requestMetaKey{}, requestMeta{ip: ClientIP(r), userAgent: r.UserAgent()})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func fromContext(ctx context.Context, entry Entry) Entry {
	if ctx == nil {
		return entry
	}
	meta, ok := ctx.Value(requestMetaKey{}).(requestMeta)
	if !ok {
		return entry
	}
	if entry.IP == "" {
		entry.IP = meta.ip
	}
	if entry.UserAgent == "" {
		entry.UserAgent = meta.userAgent
	}
	return entry
}

// ClientIP extracts client ip from common headers or RemoteAddr.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
