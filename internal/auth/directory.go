package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ServiceLifecycle manages the backend connection that belongs to a user.
// The directory calls it after each committed mutation.
type ServiceLifecycle interface {
	Create(ctx context.Context, user User) error
	Update(ctx context.Context, user User) error
	Destroy(ctx context.Context, user User) error
}

// NopLifecycle is a ServiceLifecycle that does nothing.
type NopLifecycle struct{}

// Create implements ServiceLifecycle.
func (NopLifecycle) Create(context.Context, User) error { return nil }

// Update implements ServiceLifecycle.
func (NopLifecycle) Update(context.Context, User) error { return nil }

// Destroy implements ServiceLifecycle.
func (NopLifecycle) Destroy(context.Context, User) error { return nil }

// Directory is the user directory: account CRUD, credential checks and the
// initial-user gate. Mutations are reported to a ServiceLifecycle.
//
// A directory mutation and its lifecycle call are one operation to the
// caller but are not transactional: if the lifecycle call fails the record
// change stays committed and the returned error wraps ErrLifecycle.
type Directory struct {
	repo       UserRepository
	lifecycle  ServiceLifecycle
	configUser User
	logger     *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

// NewDirectory creates a directory over repo. configTarget is the connection
// of the config user and may be nil when users and auth are enabled.
func NewDirectory(repo UserRepository, lifecycle ServiceLifecycle, configTarget ConnectionTarget, logger *slog.Logger) *Directory {
	if lifecycle == nil {
		lifecycle = NopLifecycle{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		repo:      repo,
		lifecycle: lifecycle,
		configUser: User{
			Username:   ConfigUsername,
			IsAdmin:    true,
			Connection: configTarget,
		},
		logger: logger,
	}
}

// SetLifecycle replaces the lifecycle collaborator. It must be called before
// the directory serves requests.
func (d *Directory) SetLifecycle(lifecycle ServiceLifecycle) {
	if lifecycle == nil {
		lifecycle = NopLifecycle{}
	}
	d.lifecycle = lifecycle
}

// InitialUserGate reports GateBootstrap while no user exists.
func (d *Directory) InitialUserGate(ctx context.Context) (GateState, error) {
	count, err := d.repo.Count(ctx)
	if err != nil {
		return GateSteady, fmt.Errorf("checking initial user: %w", err)
	}
	if count == 0 {
		return GateBootstrap, nil
	}
	return GateSteady, nil
}

// CreateUser adds an account. It returns ErrUserExists if the username is
// taken.
func (d *Directory) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	user, err := d.prepare(nu)
	if err != nil {
		return nil, err
	}
	if err := d.repo.Create(ctx, user); err != nil {
		return nil, err
	}
	return d.afterCreate(ctx, user)
}

// CreateInitialUser adds an account only if the directory is empty. A
// concurrent registration that loses the race gets ErrBootstrapClosed.
func (d *Directory) CreateInitialUser(ctx context.Context, nu NewUser) (*User, error) {
	user, err := d.prepare(nu)
	if err != nil {
		return nil, err
	}
	if err := d.repo.CreateFirst(ctx, user); err != nil {
		return nil, err
	}
	return d.afterCreate(ctx, user)
}

func (d *Directory) prepare(nu NewUser) (*User, error) {
	if !IsValidUsername(nu.Username) || ReservedUsername(nu.Username) {
		return nil, ErrInvalidUsername
	}
	if nu.Password == "" {
		return nil, ErrPasswordRequired
	}
	if nu.Connection == nil {
		return nil, fmt.Errorf("%w: host/port or socket path is required", ErrInvalidConnection)
	}
	if err := nu.Connection.Validate(); err != nil {
		return nil, err
	}

	hash, err := HashPassword(nu.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	return &User{
		Username:     nu.Username,
		PasswordHash: hash,
		IsAdmin:      nu.IsAdmin,
		Connection:   nu.Connection,
	}, nil
}

func (d *Directory) afterCreate(ctx context.Context, user *User) (*User, error) {
	d.logger.Info("user created", "username", user.Username, "is_admin", user.IsAdmin)
	if err := d.lifecycle.Create(ctx, *user); err != nil {
		return user, fmt.Errorf("%w: create %s: %w", ErrLifecycle, user.Username, err)
	}
	return user, nil
}

// ComparePassword checks password against the stored hash for username.
// A wrong password is matched=false with a nil error. An unknown username
// returns ErrUserNotFound after doing the same hashing work as a real
// comparison.
func (d *Directory) ComparePassword(ctx context.Context, username, password string) (matched, isAdmin bool, err error) {
	user, err := d.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_, _ = VerifyPassword(password, d.dummy()) //nolint:errcheck // timing equalisation only
			return false, false, ErrUserNotFound
		}
		return false, false, fmt.Errorf("looking up user: %w", err)
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return false, false, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		return false, false, nil
	}
	return true, user.IsAdmin, nil
}

// dummy returns a throwaway hash, computed once, used for unknown users.
func (d *Directory) dummy() string {
	d.dummyOnce.Do(func() {
		hash, err := HashPassword("seedgate-unknown-user")
		if err != nil {
			d.logger.Error("computing dummy password hash", "error", err)
			return
		}
		d.dummyHash = hash
	})
	return d.dummyHash
}

// LookupUser returns the stored record for username.
func (d *Directory) LookupUser(ctx context.Context, username string) (*User, error) {
	return d.repo.GetByUsername(ctx, username)
}

// UpdateUser applies patch and passes the resulting record to the
// lifecycle's Update hook. Only the fields set in patch are written, so
// concurrent patches of different fields do not undo each other.
func (d *Directory) UpdateUser(ctx context.Context, username string, patch UserPatch) (*User, error) {
	if patch.Connection != nil {
		if err := patch.Connection.Validate(); err != nil {
			return nil, err
		}
	}

	user, err := d.repo.Patch(ctx, username, patch)
	if err != nil {
		return nil, err
	}
	d.logger.Info("user updated", "username", user.Username, "is_admin", user.IsAdmin)

	if err := d.lifecycle.Update(ctx, *user); err != nil {
		return user, fmt.Errorf("%w: update %s: %w", ErrLifecycle, user.Username, err)
	}
	return user, nil
}

// RemoveUser deletes username and passes the removed record to the
// lifecycle's Destroy hook. The last remaining user cannot be removed, so
// the initial-user gate never reopens.
func (d *Directory) RemoveUser(ctx context.Context, username string) error {
	user, err := d.repo.GetByUsername(ctx, username)
	if err != nil {
		return err
	}
	count, err := d.repo.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting users: %w", err)
	}
	if count <= 1 {
		return ErrLastUser
	}
	if err := d.repo.Delete(ctx, username); err != nil {
		return err
	}
	d.logger.Info("user removed", "username", username)

	if err := d.lifecycle.Destroy(ctx, *user); err != nil {
		return fmt.Errorf("%w: destroy %s: %w", ErrLifecycle, username, err)
	}
	return nil
}

// ListUsers returns every account in creation order.
func (d *Directory) ListUsers(ctx context.Context) ([]User, error) {
	return d.repo.List(ctx)
}

// ConfigUser returns the pseudo-user that stands in for everyone when users
// and auth are disabled.
func (d *Directory) ConfigUser() User {
	return d.configUser
}
