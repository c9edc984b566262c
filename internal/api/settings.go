package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/seedgate-core/internal/settings"
)

// handleGetSettings returns every setting of the caller.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	s.getSettings(w, r, "")
}

// handleGetSetting returns the caller's single setting named by {property}
// as a one-entry map. An unknown property gives an empty map.
func (s *Server) handleGetSetting(w http.ResponseWriter, r *http.Request) {
	s.getSettings(w, r, chi.URLParam(r, "property"))
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request, settingID string) {
	id := identityFromContext(r.Context())

	result, err := s.settings.Get(r.Context(), id.Username, settingID)
	if err != nil {
		s.writeSettingsError(w, err, "failed to read settings")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleSetSettings upserts one {id, data} entry or an array of them.
// Entries are written independently; a failure leaves earlier and later
// entries written.
func (s *Server) handleSetSettings(w http.ResponseWriter, r *http.Request) {
	id := identityFromContext(r.Context())

	body, err := decodeSettingEntries(r)
	if err != nil {
		writeValidationError(w, err)
		return
	}

	entries := make([]settings.Entry, len(body))
	for i, e := range body {
		entries[i] = settings.Entry{ID: e.ID, Data: e.Data}
	}

	err = s.settings.Set(r.Context(), id.Username, entries...)
	if s.metrics != nil {
		s.metrics.RecordSettingsWrite(id.Username, len(entries), err == nil)
	}
	if err != nil {
		s.writeSettingsError(w, err, "failed to save settings")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeSettingsError(w http.ResponseWriter, err error, message string) {
	switch {
	case errors.Is(err, settings.ErrInvalidEntry):
		writeValidationError(w, err)
	default:
		s.logger.Error(message, "error", err)
		writeInternalError(w, message)
	}
}
