// Package coordinator implements the client-side Auth Coordinator (§4.4):
// a per-server Session state machine, pending-authorization and token
// persistence through internal/storage, Local and Remote authentication
// profiles, and multi-user isolation via ClientManager.
package coordinator

import (
	"sync"
	"time"

	"github.com/mcpauth/delegate/internal/metrics"
	"github.com/mcpauth/delegate/pkg/oauth"
)

// State is one of the seven states a Session can be in (§4.4 "Session
// state machine").
type State int

const (
	StateInitializing State = iota
	StateConnecting
	StateConnected
	StateAuthenticating
	StateAuthPending
	StateAuthFailed
	StateConnectionFailed
)

// String renders the wire-friendly lowercase name used in status reports.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthPending:
		return "auth_pending"
	case StateAuthFailed:
		return "auth_failed"
	case StateConnectionFailed:
		return "connection_failed"
	default:
		return "unknown"
	}
}

// IsOperational reports whether tool calls can proceed without further
// action (§4.4 "Derived predicates").
func (s State) IsOperational() bool { return s == StateConnected }

// RequiresUserAction reports whether a human needs to complete a browser
// flow before the session can proceed.
func (s State) RequiresUserAction() bool { return s == StateAuthPending }

// IsFailed reports whether the session has reached a terminal failure.
func (s State) IsFailed() bool { return s == StateAuthFailed || s == StateConnectionFailed }

// CanRetry reports whether calling code may attempt to drive the session
// forward again (re-probe, restart the auth flow). It is the exact
// complement of the non-failed states: CanRetry ⇔ IsFailed (§4.4
// "Derived predicates").
func (s State) CanRetry() bool {
	return s.IsFailed()
}

// Session tracks one MCP server's authentication lifecycle for one
// context. It is safe for concurrent use.
type Session struct {
	mu sync.RWMutex

	serverURL string
	state     State

	challenge *oauth.AuthChallenge
	authURL   string
	token     *oauth.Token
	lastErr   error
}

// NewSession constructs a Session for serverURL, starting in
// StateInitializing.
func NewSession(serverURL string) *Session {
	return &Session{serverURL: serverURL, state: StateInitializing}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ServerURL returns the MCP server this session authenticates against.
func (s *Session) ServerURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serverURL
}

// Challenge returns the auth challenge that put this session into
// StateAuthPending, if any.
func (s *Session) Challenge() *oauth.AuthChallenge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.challenge
}

// AuthURL returns the authorization URL a user should open, once
// startAuthFlow has run.
func (s *Session) AuthURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authURL
}

// LastError returns the error that caused the most recent failed
// transition, if any.
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Token returns the currently stored access token, if the session holds
// one in memory. The authoritative copy lives in the token store; this is
// a cache for the fast path.
func (s *Session) Token() *oauth.Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) transition(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	metrics.RecordSessionTransition(state.String())
}

func (s *Session) toAuthPending(challenge *oauth.AuthChallenge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateAuthPending
	s.challenge = challenge
	s.lastErr = nil
	metrics.RecordSessionTransition(StateAuthPending.String())
}

func (s *Session) toConnected(token *oauth.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateConnected
	s.token = token
	s.authURL = ""
	s.lastErr = nil
	metrics.RecordSessionTransition(StateConnected.String())
}

func (s *Session) toFailed(state State, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.lastErr = err
	metrics.RecordSessionTransition(state.String())
}

func (s *Session) setAuthURL(authURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authURL = authURL
	s.state = StateAuthPending
	metrics.RecordSessionTransition(StateAuthPending.String())
}

func (s *Session) setToken(token *oauth.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// tokenExpiringSoon reports whether the held token needs a refresh before
// the next tool call, per the DefaultExpiryMargin safety window.
func (s *Session) tokenExpiringSoon() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return true
	}
	return s.token.IsExpiredWithMargin(oauth.DefaultExpiryMargin)
}

// pendingRecordTTL bounds how long a started-but-uncompleted authorization
// flow stays valid: consumePending treats an older pending record as
// absent. Reaching the TTL does not by itself change the Session's state.
const pendingRecordTTL = 10 * time.Minute
