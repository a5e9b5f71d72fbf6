// Package httpapi composes the Auth Coordinator's Remote profile and
// status reporting into a single mountable HTTP surface (§4.4 "Remote
// profile"): a multi-context OAuth callback endpoint, a JSON status
// endpoint, a /connect bootstrap endpoint, and a Prometheus /metrics handle.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcpauth/delegate/internal/coordinator"
	"github.com/mcpauth/delegate/pkg/auth"
)

// Config configures a Server.
type Config struct {
	// Manager owns one Coordinator per context_id (§4.4 "Multi-user
	// isolation"). Required.
	Manager *coordinator.ClientManager

	// CallbackPath is where the OAuth redirect lands. Defaults to
	// "/oauth/callback".
	CallbackPath string

	// StatusPath is where the JSON status document is served. Defaults
	// to "/status".
	StatusPath string

	// MetricsPath is where Prometheus metrics are exposed. Leave empty
	// to omit the /metrics route entirely.
	MetricsPath string

	// ContextParam is the query parameter a caller uses to scope
	// /status to one context_id. Defaults to "context_id"; omitting it
	// returns every context this process currently tracks.
	ContextParam string

	// ConnectPath is where a caller with no context_id of its own mints
	// one and bootstraps a Session against a server_url in a single
	// request. Defaults to "/connect".
	ConnectPath string
}

// Server is the bundled demonstration HTTP surface SPEC_FULL.md's
// ambient stack calls for: a chi-routed callback/status/metrics handle
// an embedding application can mount directly, grounded on
// internal/delegation.Provider's own App(...) composition.
type Server struct {
	cfg Config
}

// New constructs a Server from cfg, filling in path defaults.
func New(cfg Config) *Server {
	if cfg.CallbackPath == "" {
		cfg.CallbackPath = "/oauth/callback"
	}
	if cfg.StatusPath == "" {
		cfg.StatusPath = "/status"
	}
	if cfg.ContextParam == "" {
		cfg.ContextParam = "context_id"
	}
	if cfg.ConnectPath == "" {
		cfg.ConnectPath = "/connect"
	}
	return &Server{cfg: cfg}
}

// Handler returns the composed http.Handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get(s.cfg.CallbackPath, s.handleCallback)
	r.Get(s.cfg.StatusPath, s.handleStatus)
	r.Post(s.cfg.ConnectPath, s.handleConnect)
	if s.cfg.MetricsPath != "" {
		r.Handle(s.cfg.MetricsPath, promhttp.Handler())
	}
	return r
}

// handleCallback routes an incoming OAuth redirect to the Coordinator
// that owns the pending record's context, then renders the shared
// success/error page (§4.4 "Remote profile", ClientManager.CompleteCallback).
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	_, _, err := s.cfg.Manager.CompleteCallback(
		r.Context(),
		query.Get("state"),
		query.Get("code"),
		query.Get("error"),
		query.Get("error_description"),
	)
	coordinator.WriteCallbackResult(w, err)
}

// handleStatus reports every tracked Session's state as JSON (pkg/auth's
// StatusResponse), scoped to one context via the ContextParam query
// parameter, or spanning every context currently known to the Manager.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	var contextIDs []string
	if requested := r.URL.Query().Get(s.cfg.ContextParam); requested != "" {
		contextIDs = []string{requested}
	} else {
		contextIDs = s.cfg.Manager.Contexts()
	}

	resp := auth.StatusResponse{Sessions: []auth.SessionStatus{}}
	for _, contextID := range contextIDs {
		coord := s.cfg.Manager.Get(contextID)
		for _, session := range coord.Sessions() {
			resp.Sessions = append(resp.Sessions, sessionStatus(contextID, session))
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(resp)
}

// connectRequest is the body handleConnect expects.
type connectRequest struct {
	ServerURL string `json:"server_url"`
}

// connectResponse reports the minted context_id alongside the probed
// session, so the caller can reuse it on every subsequent /status or
// callback request for this user.
type connectResponse struct {
	ContextID string             `json:"context_id"`
	Session   auth.SessionStatus `json:"session"`
}

// handleConnect mints a fresh context_id (§11 "context_id defaults... when
// the embedding application doesn't supply its own") and probes server_url
// through that context's Coordinator, for callers with no user identity of
// their own to key sessions by.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ServerURL == "" {
		http.Error(w, `{"error":"invalid_request","error_description":"server_url is required"}`, http.StatusBadRequest)
		return
	}

	contextID := s.cfg.Manager.NewContextID()
	coord := s.cfg.Manager.Get(contextID)
	session, err := coord.EnsureConnected(r.Context(), req.ServerURL)
	if err != nil {
		http.Error(w, `{"error":"connect_failed","error_description":"`+err.Error()+`"}`, http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(connectResponse{
		ContextID: contextID,
		Session:   sessionStatus(contextID, session),
	})
}

func sessionStatus(contextID string, session *coordinator.Session) auth.SessionStatus {
	status := auth.SessionStatus{
		ContextID: contextID,
		ServerURL: session.ServerURL(),
		State:     session.State().String(),
	}
	if challenge := session.Challenge(); challenge != nil && session.State() == coordinator.StateAuthPending {
		status.AuthChallenge = &auth.ChallengeInfo{
			Issuer:  challenge.GetIssuer(),
			Scope:   challenge.Scope,
			AuthURL: session.AuthURL(),
		}
	}
	if err := session.LastError(); err != nil && session.State().IsFailed() {
		status.Error = err.Error()
	}
	return status
}
