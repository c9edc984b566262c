package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/nerrad567/seedgate-core/internal/auth"
)

// AuthMode selects how the gateway treats every request.
type AuthMode int

const (
	// AuthEnforced requires credentials and session tokens.
	AuthEnforced AuthMode = iota

	// AuthBypassed serves every request as the config user. User
	// management and registration are unavailable.
	AuthBypassed
)

func (m AuthMode) String() string {
	if m == AuthBypassed {
		return "bypassed"
	}
	return "enforced"
}

// routeClass is the access rule a route is registered under.
type routeClass int

const (
	classAuthenticate routeClass = iota
	classRegister
	classVerify
	classProtected
	classAdmin
)

// Session cookie and header constants.
const (
	sessionCookieName = "jwt"
	tokenScheme       = "JWT"
	bearerScheme      = "Bearer"
)

// identity is the caller as resolved by authorize.
type identity struct {
	Username string
	IsAdmin  bool

	// Bootstrap is set when the request was let through because no user
	// exists yet. Username is empty in that case.
	Bootstrap bool
}

const ctxKeyIdentity contextKey = "identity"

// identityFromContext returns the identity stored by the gate middleware.
func identityFromContext(ctx context.Context) identity {
	id, _ := ctx.Value(ctxKeyIdentity).(identity)
	return id
}

// gateError is a rejection decided by authorize.
type gateError struct {
	status  int
	code    string
	message string
}

func (e *gateError) Error() string { return e.message }

var (
	errGateNotFound     = &gateError{http.StatusNotFound, ErrCodeNotFound, msgNotFound}
	errGateUnauthorized = &gateError{http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required"}
	errGateForbidden    = &gateError{http.StatusForbidden, ErrCodeForbidden, "admin privileges required"}
	errGateInternal     = &gateError{http.StatusInternalServerError, ErrCodeInternal, "internal server error"}
)

// authorize is the single access decision for every route. Bypass is
// decided first, then the initial-user gate, then the session token.
func (s *Server) authorize(r *http.Request, class routeClass) (identity, error) {
	if s.mode == AuthBypassed {
		switch class {
		case classRegister, classAdmin:
			return identity{}, errGateNotFound
		default:
			cu := s.directory.ConfigUser()
			return identity{Username: cu.Username, IsAdmin: cu.IsAdmin}, nil
		}
	}

	switch class {
	case classAuthenticate:
		return identity{}, nil

	case classRegister, classVerify:
		gate, err := s.directory.InitialUserGate(r.Context())
		if err != nil {
			s.logger.Error("initial user gate failed", "error", err)
			return identity{}, errGateInternal
		}
		if gate == auth.GateBootstrap {
			return identity{Bootstrap: true}, nil
		}
		id, err := s.sessionIdentity(r)
		if err != nil {
			return identity{}, err
		}
		if class == classRegister && !id.IsAdmin {
			return identity{}, errGateForbidden
		}
		return id, nil

	case classAdmin:
		id, err := s.sessionIdentity(r)
		if err != nil {
			return identity{}, err
		}
		if !id.IsAdmin {
			return identity{}, errGateForbidden
		}
		return id, nil

	default:
		return s.sessionIdentity(r)
	}
}

// sessionIdentity verifies the request's token and resolves its subject
// against the directory. The directory's admin flag wins over the claim so
// that demotions take effect before the token expires.
func (s *Server) sessionIdentity(r *http.Request) (identity, error) {
	token := tokenFromRequest(r)
	if token == "" {
		return identity{}, errGateUnauthorized
	}

	claims, err := s.tokens.Verify(token)
	if err != nil {
		return identity{}, errGateUnauthorized
	}

	user, err := s.directory.LookupUser(r.Context(), claims.Subject)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			return identity{}, errGateUnauthorized
		}
		s.logger.Error("resolving token subject failed", "error", err)
		return identity{}, errGateInternal
	}

	return identity{Username: user.Username, IsAdmin: user.IsAdmin}, nil
}

// gate wraps a handler with authorize for class.
func (s *Server) gate(class routeClass) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := s.authorize(r, class)
			if err != nil {
				var ge *gateError
				if !errors.As(err, &ge) {
					ge = errGateInternal
				}
				writeError(w, ge.status, ge.code, ge.message)
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyIdentity, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// tokenFromRequest reads the session token from the Authorization header
// or, failing that, the session cookie. A "JWT " or "Bearer " scheme prefix
// is stripped.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return stripScheme(h)
	}
	if c, err := r.Cookie(sessionCookieName); err == nil {
		return stripScheme(c.Value)
	}
	return ""
}

func stripScheme(v string) string {
	v = strings.TrimSpace(v)
	for _, scheme := range []string{tokenScheme, bearerScheme} {
		if len(v) > len(scheme) && strings.EqualFold(v[:len(scheme)], scheme) && v[len(scheme)] == ' ' {
			return strings.TrimSpace(v[len(scheme)+1:])
		}
	}
	return v
}

// setSessionCookie stores token in the session cookie for the issuer's TTL.
func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	ttl := s.tokens.TTL()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    tokenScheme + " " + token,
		Path:     "/",
		Expires:  time.Now().Add(ttl),
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.TLS.Enabled,
		SameSite: http.SameSiteStrictMode,
	})
}

// clearSessionCookie expires the session cookie.
func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.TLS.Enabled,
		SameSite: http.SameSiteStrictMode,
	})
}
