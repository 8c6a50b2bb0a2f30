package middleware

import (
	"net/http"
	"strings"
)

const (
	corsMethods = "GET, POST, PUT, OPTIONS"
	corsHeaders = "Content-Type, Authorization, X-Trace-ID"
)

// CORSMiddleware lets browser clients on the configured origins call the
// API. Origins are matched exactly, except that an entry starting with "."
// matches every subdomain of that domain and "*" matches anything.
type CORSMiddleware struct {
	exact    map[string]bool
	suffixes []string
	any      bool
}

// NewCORSMiddleware builds the origin matcher from the configured list.
func NewCORSMiddleware(origins []string) *CORSMiddleware {
	m := &CORSMiddleware{exact: make(map[string]bool, len(origins))}
	for _, o := range origins {
		switch {
		case o == "*":
			m.any = true
		case strings.HasPrefix(o, "."):
			m.suffixes = append(m.suffixes, o)
		case o != "":
			m.exact[o] = true
		}
	}
	return m
}

// Handler answers preflights itself and passes everything else on.
func (m *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		h := w.Header()
		h.Add("Vary", "Origin")

		if m.allows(origin) {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", corsMethods)
			h.Set("Access-Control-Allow-Headers", corsHeaders)
			h.Set("Access-Control-Expose-Headers", "X-Trace-ID")
			h.Set("Access-Control-Max-Age", "3600")
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *CORSMiddleware) allows(origin string) bool {
	if origin == "" {
		return false
	}
	if m.any || m.exact[origin] {
		return true
	}
	_, host, ok := strings.Cut(origin, "://")
	if !ok {
		host = origin
	}
	for _, s := range m.suffixes {
		if strings.HasSuffix(host, s) {
			return true
		}
	}
	return false
}
