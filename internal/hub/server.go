package hub

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agent-collab/backend/internal/session"
	"github.com/agent-collab/backend/internal/wire"
)

// Server mounts the upgrade endpoint and the read-only HTTP surface. The
// caller (router, auth, billing) is expected to have verified the identity
// parameters before traffic reaches us; we still validate their shape.
type Server struct {
	log      *zap.Logger
	registry *session.Registry
	hub      *Hub

	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	paidPlans      map[string]bool
}

func NewServer(log *zap.Logger, registry *session.Registry, hub *Hub, allowedOrigins, paidPlans []string) *Server {
	s := &Server{
		log:            log,
		registry:       registry,
		hub:            hub,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		paidPlans:      make(map[string]bool),
	}

	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}
	for _, plan := range paidPlans {
		if trimmed := strings.TrimSpace(plan); trimmed != "" {
			s.paidPlans[trimmed] = true
		}
	}
	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/sessions/", s.handleWS)
	mux.Handle("/api/sessions", securityHeaders(http.HandlerFunc(s.handleSessions)))
}

// handleWS runs the whole join sequence: parameter validation, plan gate,
// tenant pinning, handshake, registration, snapshot, then the read loop
// until the connection dies.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/ws/sessions/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	tenantID := q.Get("tenant_id")
	memberID := q.Get("member_id")
	planTier := q.Get("plan_tier")
	if planTier == "" {
		planTier = q.Get("plan")
	}

	if tenantID == "" || memberID == "" {
		http.Error(w, "tenant_id and member_id are required", http.StatusBadRequest)
		return
	}
	role, ok := session.ParseRole(q.Get("role"))
	if !ok {
		http.Error(w, "role must be owner, editor or viewer", http.StatusBadRequest)
		return
	}

	// Collaboration is a paid-tier feature; free tier never reaches the
	// registry or the handshake.
	if !s.paidPlans[planTier] {
		http.Error(w, "collaboration requires a paid plan", http.StatusPaymentRequired)
		return
	}

	if err := s.registry.GetOrCreate(sessionID, tenantID); err != nil {
		http.Error(w, "session belongs to another tenant", http.StatusForbidden)
		return
	}

	if !s.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	limits := s.hub.currentLimits()
	if limits.MaxConnections > 0 && s.hub.ClientCount() >= limits.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := wire.Upgrade(w, r)
	if err != nil {
		s.log.Warn("websocket handshake failed",
			zap.String("session_id", sessionID),
			zap.String("remote", r.RemoteAddr),
			zap.Error(err))
		http.Error(w, fmt.Sprintf("handshake failed: %v", err), http.StatusBadRequest)
		return
	}

	c := newClient(sessionID, memberID, conn, limits.QueueCapacity)
	if err := s.hub.register(c); err != nil {
		conn.Close()
		return
	}
	s.registry.SetMember(sessionID, memberID, role)

	s.log.Info("member joined",
		zap.String("conn_id", c.id),
		zap.String("session_id", sessionID),
		zap.String("tenant_id", tenantID),
		zap.String("member_id", memberID),
		zap.String("role", string(role)))

	// The write loop has not started yet, so writing the join snapshot
	// directly here keeps the single-writer rule intact and never delays it
	// behind a batch tick.
	snap, _ := s.registry.Snapshot(sessionID)
	if err := conn.WriteMessage(snapshotMessage{Type: session.TypeSnapshot, Session: snap}); err != nil {
		s.teardown(c)
		return
	}

	go s.hub.writeLoop(c, limits.BatchInterval)
	s.readLoop(c)
	s.teardown(c)
}

// readLoop decodes inbound events, applies their side effects to the
// session, and hands them to the fan-out engine. Any read or decode error is
// fatal to this connection only.
func (s *Server) readLoop(c *client) {
	for {
		payload, _, err := c.conn.ReadMessage()
		if err != nil {
			if err != io.EOF {
				s.log.Debug("read loop ended",
					zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}

		var ev session.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			s.log.Debug("dropping connection on undecodable event",
				zap.String("conn_id", c.id), zap.Error(err))
			return
		}
		ev.SessionID = c.sessionID
		ev.At = time.Now().UTC()

		switch ev.Type {
		case session.TypeRunEvent, session.TypeApproval, session.TypeTaskUpdate:
			if nodeID := ev.NodeID(); nodeID != "" && ev.RunID != "" {
				s.registry.RecordRun(c.sessionID, ev.RunID, nodeID)
			}
			s.hub.Broadcast(c.sessionID, &ev)
		default:
			// Accepted but not fanned out, so newer clients with richer
			// vocabularies don't kill their own connections.
		}
	}
}

// teardown is the single cleanup path for every connection exit cause.
func (s *Server) teardown(c *client) {
	s.hub.unregister(c)
	s.registry.RemoveMember(c.sessionID, c.memberID)
	c.conn.Close()
	s.log.Info("member left",
		zap.String("conn_id", c.id),
		zap.String("session_id", c.sessionID),
		zap.String("member_id", c.memberID))
}

// handleSessions lists session snapshots for one tenant as JSON.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		http.Error(w, "tenant_id is required", http.StatusBadRequest)
		return
	}
	sessions := s.registry.TenantSessions(tenantID)
	if sessions == nil {
		sessions = []*session.Session{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessions) //nolint:errcheck
}

// checkOrigin mirrors browser-facing origin policy: explicit allow-list when
// configured, otherwise same-host plus localhost.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Host
	if host == "" {
		return false
	}
	if host == r.Host {
		return true
	}
	if host == "localhost" || strings.HasPrefix(host, "localhost:") {
		return true
	}
	if host == "127.0.0.1" || strings.HasPrefix(host, "127.0.0.1:") {
		return true
	}
	if host == "::1" || strings.HasPrefix(host, "[::1]:") {
		return true
	}
	return false
}

// securityHeaders wraps plain HTTP endpoints; the upgrade endpoint is left
// alone because the response is consumed by WebSocket clients.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}
