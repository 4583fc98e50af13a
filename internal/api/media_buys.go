package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/adcontextprotocol/salesagent/internal/mediabuy"
	"github.com/adcontextprotocol/salesagent/internal/middleware"
	"github.com/adcontextprotocol/salesagent/internal/models"
)

// CreateMediaBuyHandler handles POST /media-buys. A workflow that fails
// after the media buy was persisted still returns the response envelope,
// with the failing step and a status derived from the step error.
func (s *Server) CreateMediaBuyHandler(w http.ResponseWriter, r *http.Request, tc *models.TenantContext) {
	var req mediabuy.CreateRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.MediaBuys.Create(r.Context(), tc, req)
	if resp == nil {
		s.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if err != nil {
		status = statusFor(err)
		middleware.LoggerFromRequest(r, s.Logger).Warn("media buy workflow incomplete",
			zap.String("tenant_id", tc.TenantID),
			zap.String("media_buy_id", resp.MediaBuyID),
			zap.Error(err))
	}
	writeJSON(w, status, resp)
}

// GetMediaBuyHandler handles GET /media-buys/{id}.
func (s *Server) GetMediaBuyHandler(w http.ResponseWriter, r *http.Request, tc *models.TenantContext) {
	resp, err := s.MediaBuys.Status(r.Context(), tc, mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// UpdateMediaBuyHandler handles PATCH /media-buys/{id}. Package failures
// are itemised in the body; the request itself succeeds.
func (s *Server) UpdateMediaBuyHandler(w http.ResponseWriter, r *http.Request, tc *models.TenantContext) {
	var req mediabuy.UpdateRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.MediaBuys.Update(r.Context(), tc, mux.Vars(r)["id"], req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
