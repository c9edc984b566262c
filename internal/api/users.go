package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/seedgate-core/internal/audit"
	"github.com/nerrad567/seedgate-core/internal/auth"
)

// handleListUsers returns all user accounts without password hashes.
func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.directory.ListUsers(r.Context())
	if err != nil {
		s.logger.Error("list users failed", "error", err)
		writeInternalError(w, "failed to list users")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"users": users,
		"count": len(users),
	})
}

// handleCreateUser creates an account with the requested admin flag.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
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

	user, err := s.directory.CreateUser(r.Context(), auth.NewUser{
		Username:   req.Username,
		Password:   req.Password,
		IsAdmin:    req.IsAdmin,
		Connection: target,
	})
	if err != nil && !errors.Is(err, auth.ErrLifecycle) {
		s.writeUserError(w, err, "failed to create user")
		return
	}

	s.auditLog(r, audit.ActionUserCreate, user.Username, id.Username, map[string]any{
		"isAdmin":    user.IsAdmin,
		"connection": user.Connection.String(),
	})
	if err != nil {
		s.logger.Error("created user's service failed to start", "username", user.Username, "error", err)
		writeInternalError(w, "user created but service failed to start")
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// handleUpdateUser changes a user's connection target and/or admin flag.
func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	username := chi.URLParam(r, "username")

	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeValidationError(w, err)
		return
	}
	patch, err := req.patch()
	if err != nil {
		writeValidationError(w, err)
		return
	}

	user, err := s.directory.UpdateUser(r.Context(), username, patch)
	if err != nil && !errors.Is(err, auth.ErrLifecycle) {
		s.writeUserError(w, err, "failed to update user")
		return
	}

	details := map[string]any{"isAdmin": user.IsAdmin}
	if patch.Connection != nil {
		details["connection"] = patch.Connection.String()
	}
	s.auditLog(r, audit.ActionUserUpdate, user.Username, id.Username, details)
	if err != nil {
		s.logger.Error("updated user's service failed to restart", "username", user.Username, "error", err)
		writeInternalError(w, "user updated but service failed to restart")
		return
	}

	writeJSON(w, http.StatusOK, user)
}

// handleDeleteUser removes an account and tears down its service.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())
	username := chi.URLParam(r, "username")

	err := s.directory.RemoveUser(r.Context(), username)
	if err != nil && !errors.Is(err, auth.ErrLifecycle) {
		s.writeUserError(w, err, "failed to delete user")
		return
	}

	s.auditLog(r, audit.ActionUserDelete, username, id.Username, nil)
	if err != nil {
		s.logger.Error("deleted user's service failed to stop", "username", username, "error", err)
		writeInternalError(w, "user deleted but service failed to stop")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
