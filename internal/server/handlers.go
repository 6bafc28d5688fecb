package server

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// handleStartRun creates a new session and runs the free filters. The
// response is the paused session's status, including the stage-one cost
// preview the operator gates on.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	sess, err := s.orch.StartRun(r.Context())
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	status, err := s.orch.Status(sess.ID)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, status)
}

// handleAdvance starts the session's next assessment stage in the
// background and returns 202 immediately.
func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	id, err := s.sessionID(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	if err := s.orch.Advance(r.Context(), id); err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, map[string]string{
		"session_id": id.String(),
		"status":     "started",
	})
}

// excludeRequest is the body of POST /match/{session_id}/exclude.
type excludeRequest struct {
	PairKeys []string `json:"pair_keys"`
}

// handleExclude removes pairs from a paused session's future stages.
func (s *Server) handleExclude(w http.ResponseWriter, r *http.Request) {
	id, err := s.sessionID(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	var req excludeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, &ErrValidation{Field: "body", Message: "invalid JSON"})
		return
	}
	if len(req.PairKeys) == 0 {
		s.errorResponse(w, &ErrValidation{Field: "pair_keys", Message: "must not be empty"})
		return
	}

	n, err := s.orch.ExcludePairs(id, req.PairKeys)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"session_id": id.String(),
		"excluded":   n,
	})
}

// handleStatus returns the operator-facing session view.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := s.sessionID(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	status, err := s.orch.Status(id)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, status)
}

// handleCancel requests a cooperative stop of the session.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := s.sessionID(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	if err := s.orch.Cancel(id); err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, map[string]string{
		"session_id": id.String(),
		"status":     "cancelling",
	})
}

// handleCompare evaluates one ad-hoc pair through the free filters.
// The pair is unordered; entity_a and entity_b may be given in either
// order as long as they are one candidate and one position.
func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	idA, err := uuid.Parse(r.URL.Query().Get("entity_a"))
	if err != nil {
		s.errorResponse(w, &ErrValidation{Field: "entity_a", Message: "must be a UUID"})
		return
	}
	idB, err := uuid.Parse(r.URL.Query().Get("entity_b"))
	if err != nil {
		s.errorResponse(w, &ErrValidation{Field: "entity_b", Message: "must be a UUID"})
		return
	}

	cmp, err := s.orch.ComparePair(r.Context(), idA, idB)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, cmp)
}

// sessionID parses the session_id path segment.
func (s *Server) sessionID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("session_id"))
	if err != nil {
		return uuid.Nil, &ErrValidation{Field: "session_id", Message: "must be a UUID"}
	}
	return id, nil
}
