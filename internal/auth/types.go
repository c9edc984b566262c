package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// usernamePattern defines the valid format for usernames:
// alphanumeric, dots, hyphens, underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// maxUsernameLength is the maximum allowed username length.
const maxUsernameLength = 64

// maxPort is the highest valid TCP port.
const maxPort = 65535

// ConfigUsername is the fixed identity of the pseudo-user that serves every
// request when users and auth are disabled. It cannot be registered.
const ConfigUsername = "_config"

// IsValidUsername checks if a username meets format requirements.
// Usernames must be 1-64 characters, alphanumeric with dots, hyphens,
// underscores. "." and ".." are rejected because the username names the
// user's settings directory on disk.
func IsValidUsername(username string) bool {
	if username == "." || username == ".." {
		return false
	}
	return len(username) <= maxUsernameLength && usernamePattern.MatchString(username)
}

// ReservedUsername reports whether a username is taken by the system.
func ReservedUsername(username string) bool {
	return username == ConfigUsername
}

// ConnectionTarget is where a user's torrent client listens.
// It is either a NetworkTarget or a SocketTarget, never both.
type ConnectionTarget interface {
	// Validate reports whether the target is usable.
	Validate() error
	String() string

	isConnectionTarget()
}

// NetworkTarget is a client reachable over TCP.
type NetworkTarget struct {
	Host string
	Port int
}

// Validate implements ConnectionTarget.
func (t NetworkTarget) Validate() error {
	if t.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidConnection)
	}
	if t.Port < 1 || t.Port > maxPort {
		return fmt.Errorf("%w: port must be between 1 and %d", ErrInvalidConnection, maxPort)
	}
	return nil
}

func (t NetworkTarget) String() string {
	return t.Host + ":" + strconv.Itoa(t.Port)
}

func (NetworkTarget) isConnectionTarget() {}

// SocketTarget is a client reachable over a Unix domain socket.
type SocketTarget struct {
	Path string
}

// Validate implements ConnectionTarget.
func (t SocketTarget) Validate() error {
	if t.Path == "" {
		return fmt.Errorf("%w: socket path is required", ErrInvalidConnection)
	}
	return nil
}

func (t SocketTarget) String() string {
	return "unix://" + t.Path
}

func (SocketTarget) isConnectionTarget() {}

// User is a gateway account. The username is the user's ID.
type User struct {
	Username     string
	PasswordHash string // never serialised
	IsAdmin      bool
	Connection   ConnectionTarget
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ID returns the user's identifier, which is the username.
func (u User) ID() string {
	return u.Username
}

// userJSON is the wire shape of a User. The connection is flattened to
// either host/port or socketPath.
type userJSON struct {
	Username   string     `json:"username"`
	IsAdmin    bool       `json:"isAdmin"`
	Host       *string    `json:"host,omitempty"`
	Port       *int       `json:"port,omitempty"`
	SocketPath *string    `json:"socketPath,omitempty"`
	CreatedAt  *time.Time `json:"createdAt,omitempty"`
	UpdatedAt  *time.Time `json:"updatedAt,omitempty"`
}

// MarshalJSON renders the user without its password hash.
func (u User) MarshalJSON() ([]byte, error) {
	out := userJSON{
		Username: u.Username,
		IsAdmin:  u.IsAdmin,
	}
	switch c := u.Connection.(type) {
	case NetworkTarget:
		out.Host, out.Port = &c.Host, &c.Port
	case SocketTarget:
		out.SocketPath = &c.Path
	}
	if !u.CreatedAt.IsZero() {
		out.CreatedAt = &u.CreatedAt
	}
	if !u.UpdatedAt.IsZero() {
		out.UpdatedAt = &u.UpdatedAt
	}
	return json.Marshal(out)
}

// NewUser is the input to Directory.CreateUser.
type NewUser struct {
	Username   string
	Password   string
	IsAdmin    bool
	Connection ConnectionTarget
}

// UserPatch lists the mutable fields of a user. Nil fields are unchanged.
// Setting Connection replaces the previous target whatever its kind.
type UserPatch struct {
	Connection ConnectionTarget
	IsAdmin    *bool
}

// GateState is the result of the initial-user gate.
type GateState int

const (
	// GateSteady means at least one user exists; registration needs an
	// admin token.
	GateSteady GateState = iota

	// GateBootstrap means no user exists yet; the first registration is
	// open.
	GateBootstrap
)

func (s GateState) String() string {
	if s == GateBootstrap {
		return "bootstrap"
	}
	return "steady"
}

// Sentinel errors for auth operations.
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserExists        = errors.New("username already exists")
	ErrInvalidUsername   = errors.New("invalid username")
	ErrInvalidConnection = errors.New("invalid connection target")
	ErrBootstrapClosed   = errors.New("initial user already exists")
	ErrLastUser          = errors.New("cannot remove the last user")
	ErrTokenInvalid      = errors.New("invalid token")
	ErrLifecycle         = errors.New("service lifecycle failed")
	ErrMissingSecret     = errors.New("token signing secret is required")
	ErrPasswordRequired  = errors.New("password is required")
)
