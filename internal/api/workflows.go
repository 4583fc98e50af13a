package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/adcontextprotocol/salesagent/internal/models"
)

// GetWorkflowHandler handles GET /workflows/{id}.
func (s *Server) GetWorkflowHandler(w http.ResponseWriter, r *http.Request, tc *models.TenantContext) {
	run, err := s.Workflows.Get(r.Context(), tc, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ResumeWorkflowHandler handles POST /workflows/{id}/resume.
func (s *Server) ResumeWorkflowHandler(w http.ResponseWriter, r *http.Request, tc *models.TenantContext) {
	resp, err := s.MediaBuys.Resume(r.Context(), tc, mux.Vars(r)["id"])
	if resp == nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
	}
	writeJSON(w, status, resp)
}
