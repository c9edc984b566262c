package api

import (
	"errors"
	"net"
	"net/http"

	"github.com/nerrad567/seedgate-core/internal/audit"
	"github.com/nerrad567/seedgate-core/internal/auth"
	"github.com/nerrad567/seedgate-core/internal/infrastructure/influxdb"
)

// Route names reported to the activity recorder.
const (
	routeAuthenticate = "authenticate"
	routeRegister     = "register"
)

// sessionResponse is returned whenever a session cookie is issued.
type sessionResponse struct {
	Success  bool   `json:"success"`
	Token    string `json:"token"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
}

// verifyResponse is the response body for GET /auth/verify.
type verifyResponse struct {
	InitialUser bool   `json:"initialUser"`
	Username    string `json:"username,omitempty"`
	IsAdmin     bool   `json:"isAdmin"`
}

// issueSession signs a token, sets the session cookie and writes the
// session response.
func (s *Server) issueSession(w http.ResponseWriter, status int, username string, isAdmin bool) {
	token, err := s.tokens.Issue(username, auth.SessionClaims{IsAdmin: isAdmin})
	if err != nil {
		s.logger.Error("issuing session token failed", "error", err)
		writeInternalError(w, "failed to issue session")
		return
	}

	s.setSessionCookie(w, token)
	writeJSON(w, status, sessionResponse{
		Success:  true,
		Token:    tokenScheme + " " + token,
		Username: username,
		IsAdmin:  isAdmin,
	})
}

// handleAuthenticate checks credentials and issues a session. Under bypass
// the body is ignored and the config user is signed in.
func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	if s.mode == AuthBypassed {
		id := identityFromContext(r.Context())
		s.issueSession(w, http.StatusOK, id.Username, id.IsAdmin)
		return
	}

	var req authenticateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidationError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}

	matched, isAdmin, err := s.directory.ComparePassword(r.Context(), req.Username, req.Password)
	if err != nil && !errors.Is(err, auth.ErrUserNotFound) {
		s.logger.Error("password comparison failed", "username", req.Username, "error", err)
	}
	if err != nil || !matched {
		s.recordAuth(routeAuthenticate, influxdb.OutcomeFailure)
		s.auditLog(r, audit.ActionLoginFailure, req.Username, "", nil)
		writeUnauthorized(w, msgFailedLogin)
		return
	}

	// Usernames match case-insensitively; the session carries the stored
	// spelling.
	username := req.Username
	if user, err := s.directory.LookupUser(r.Context(), req.Username); err == nil {
		username = user.Username
	}

	s.recordAuth(routeAuthenticate, influxdb.OutcomeSuccess)
	s.auditLog(r, audit.ActionLoginSuccess, username, username, nil)
	s.issueSession(w, http.StatusOK, username, isAdmin)
}

// handleRegister creates an admin account. While no user exists the first
// caller may register without a token; afterwards an admin session is
// required (enforced by the gate).
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())

	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidationError(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeValidationError(w, err)
		return
	}
	target, err := req.connection()
	if err != nil {
		writeValidationError(w, err)
		return
	}

	nu := auth.NewUser{
		Username:   req.Username,
		Password:   req.Password,
		IsAdmin:    true,
		Connection: target,
	}

	var user *auth.User
	if id.Bootstrap {
		user, err = s.directory.CreateInitialUser(r.Context(), nu)
	} else {
		user, err = s.directory.CreateUser(r.Context(), nu)
	}
	if err != nil && !errors.Is(err, auth.ErrLifecycle) {
		s.recordAuth(routeRegister, influxdb.OutcomeFailure)
		s.writeUserError(w, err, "failed to register user")
		return
	}

	s.auditLog(r, audit.ActionRegister, user.Username, id.Username, map[string]any{
		"initialUser": id.Bootstrap,
	})
	if err != nil {
		s.recordAuth(routeRegister, influxdb.OutcomeFailure)
		s.logger.Error("registered user's service failed to start", "username", user.Username, "error", err)
		writeInternalError(w, "user created but service failed to start")
		return
	}

	s.recordAuth(routeRegister, influxdb.OutcomeSuccess)
	s.issueSession(w, http.StatusOK, user.Username, user.IsAdmin)
}

// handleVerify reports whether the caller has a session, or whether the
// gateway is waiting for its first user.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())

	if s.mode == AuthBypassed {
		s.issueSession(w, http.StatusOK, id.Username, id.IsAdmin)
		return
	}

	if id.Bootstrap {
		writeJSON(w, http.StatusOK, verifyResponse{InitialUser: true})
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		InitialUser: false,
		Username:    id.Username,
		IsAdmin:     id.IsAdmin,
	})
}

// handleLogout clears the session cookie. The token itself stays valid
// until it expires.
func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	s.clearSessionCookie(w)
	w.WriteHeader(http.StatusOK)
}

// writeUserError maps directory errors onto HTTP responses.
func (s *Server) writeUserError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, auth.ErrUserExists):
		writeConflict(w, "username already exists")
	case errors.Is(err, auth.ErrUserNotFound):
		writeNotFound(w, "user not found")
	case errors.Is(err, auth.ErrLastUser):
		writeConflict(w, "cannot remove the last user")
	case errors.Is(err, auth.ErrBootstrapClosed):
		writeUnauthorized(w, "authentication required")
	case errors.Is(err, auth.ErrInvalidUsername), errors.Is(err, auth.ErrPasswordRequired),
		errors.Is(err, auth.ErrInvalidConnection):
		writeValidationError(w, err)
	default:
		s.logger.Error(fallback, "error", err)
		writeInternalError(w, fallback)
	}
}

// recordAuth reports an authentication attempt when metrics are enabled.
func (s *Server) recordAuth(route, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordAuthAttempt(route, outcome)
	}
}

// clientIP returns the remote address without its port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
