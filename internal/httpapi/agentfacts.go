package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"list39.org/internal/audit"
	"list39.org/internal/auth"
	"list39.org/internal/registry"
)

// envelope is the response shape of the management API.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Field   string `json:"field,omitempty"`
}

func (a *API) handleListAgentFacts(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountIDFromContext(r.Context())
	recs, err := a.registry.ListOwned(r.Context(), accountID)
	if err != nil {
		a.handleRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: recs})
}

func (a *API) handleGetAgentFact(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountIDFromContext(r.Context())
	rec, err := a.registry.GetOwned(r.Context(), accountID, chi.URLParam(r, "id"))
	if err != nil {
		a.handleRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: rec})
}

func (a *API) handleCreateAgentFact(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountIDFromContext(r.Context())
	in, err := decodeInput(r)
	if err != nil {
		a.handleRegistryError(w, r, err)
		return
	}
	rec, err := a.registry.Create(r.Context(), accountID, in)
	if err != nil {
		a.handleRegistryError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "agentfact.create", map[string]any{
		"id":       rec.ID,
		"username": rec.Username,
	})
	writeJSON(w, http.StatusCreated, envelope{Success: true, Data: rec})
}

func (a *API) handleUpdateAgentFact(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountIDFromContext(r.Context())
	in, err := decodeInput(r)
	if err != nil {
		a.handleRegistryError(w, r, err)
		return
	}
	rec, err := a.registry.Update(r.Context(), accountID, chi.URLParam(r, "id"), in)
	if err != nil {
		a.handleRegistryError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "agentfact.update", map[string]any{
		"id":       rec.ID,
		"username": rec.Username,
	})
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: rec})
}

func (a *API) handleDeleteAgentFact(w http.ResponseWriter, r *http.Request) {
	accountID, _ := auth.AccountIDFromContext(r.Context())
	id := chi.URLParam(r, "id")
	if err := a.registry.Remove(r.Context(), accountID, id); err != nil {
		a.handleRegistryError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "agentfact.delete", map[string]any{"id": id})
	writeJSON(w, http.StatusOK, envelope{Success: true, Message: "Agent fact deleted successfully"})
}

func decodeInput(r *http.Request) (registry.Input, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return registry.Input{}, &registry.ValidationError{Reason: "request body is too large"}
		}
		return registry.Input{}, &registry.ValidationError{Reason: "request body could not be read"}
	}
	if len(body) == 0 {
		return registry.Input{}, &registry.ValidationError{Reason: "request body is required"}
	}
	return registry.DecodeInput(body)
}

// handleRegistryError maps registry errors onto the management API
// envelope. Store failures are logged and reported without detail.
func (a *API) handleRegistryError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *registry.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: verr.Error(), Field: verr.Field})
	case errors.Is(err, registry.ErrDuplicateUsername):
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: "Username is already taken"})
	case errors.Is(err, registry.ErrValidation):
		writeJSON(w, http.StatusBadRequest, envelope{Success: false, Message: err.Error()})
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, registry.ErrOwnership):
		writeJSON(w, http.StatusNotFound, envelope{Success: false, Message: "Agent fact not found"})
	default:
		a.log.Error().Err(err).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Msg("registry operation failed")
		writeJSON(w, http.StatusInternalServerError, envelope{Success: false, Message: "Server error"})
	}
}
