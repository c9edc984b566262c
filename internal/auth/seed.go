package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// SeedAdmin creates the first admin account at startup when the directory
// is empty. It reports whether an account was created; an existing user
// directory is not an error.
func SeedAdmin(ctx context.Context, dir *Directory, username, password string, target ConnectionTarget, logger *slog.Logger) (bool, error) {
	_, err := dir.CreateInitialUser(ctx, NewUser{
		Username:   username,
		Password:   password,
		IsAdmin:    true,
		Connection: target,
	})
	switch {
	case errors.Is(err, ErrBootstrapClosed):
		logger.Info("users exist, skipping initial admin seed")
		return false, nil
	case errors.Is(err, ErrLifecycle):
		// The account exists; only its service failed to start.
		logger.Warn("initial admin created but service start failed", "username", username, "error", err)
		return true, nil
	case err != nil:
		return false, fmt.Errorf("seeding initial admin: %w", err)
	}

	logger.Warn("initial admin account created from configuration",
		"username", username,
		"action_required", "remove auth.initial_admin from configuration",
	)
	return true, nil
}
