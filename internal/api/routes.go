package api

import (
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/SpatiumPortae/quickshare/internal/conn"
	"github.com/SpatiumPortae/quickshare/internal/logger"
	"go.uber.org/zap"
)

func (s *Server) routes() {
	s.router.Use(logger.Middleware(s.logger))
	s.router.Use(s.originGuard)
	s.router.HandleFunc("/ping", s.ping()).Methods(http.MethodGet)
	s.router.HandleFunc("/version", s.handleVersion()).Methods(http.MethodGet)
	s.router.HandleFunc("/sessions", s.handleSessions()).Methods(http.MethodGet)
	s.router.HandleFunc("/sessions/{id}", s.handleSession()).Methods(http.MethodGet)
	s.router.HandleFunc("/sessions/{id}", s.handleDismiss()).Methods(http.MethodDelete)
	s.router.HandleFunc("/sessions/{id}/{action:accept|decline|cancel}", s.handleAction()).Methods(http.MethodPost)
	s.router.HandleFunc("/endpoints", s.handleEndpoints()).Methods(http.MethodGet)
	s.router.HandleFunc("/send", s.handleSend()).Methods(http.MethodPost)

	ws := s.router.PathPrefix("/events").Subrouter()
	ws.Use(conn.Middleware(s.origins...))
	ws.HandleFunc("", s.handleEvents())
}

// originGuard refuses browser requests from pages the api was not opened to.
// Requests without an Origin header come from local programs and pass.
func (s *Server) originGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" || s.allowedOrigin(origin, r.Host) {
			next.ServeHTTP(w, r)
			return
		}
		s.logger.Warn("refusing cross origin request", zap.String("origin", origin))
		http.Error(w, "origin not allowed", http.StatusForbidden)
	})
}

func (s *Server) allowedOrigin(origin, host string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, host) {
		return true
	}
	for _, pattern := range s.origins {
		if ok, _ := path.Match(strings.ToLower(pattern), strings.ToLower(u.Host)); ok {
			return true
		}
	}
	return false
}
