// Package api exposes the media buy operations over HTTP. Every request
// under /media-buys and /workflows is bound to a tenant before any handler
// logic runs.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/adcontextprotocol/salesagent/internal/config"
	"github.com/adcontextprotocol/salesagent/internal/mediabuy"
	"github.com/adcontextprotocol/salesagent/internal/middleware"
	"github.com/adcontextprotocol/salesagent/internal/models"
	"github.com/adcontextprotocol/salesagent/internal/observability"
	"github.com/adcontextprotocol/salesagent/internal/tenant"
)

// TenantResolver binds a request to a tenant.
type TenantResolver interface {
	Resolve(ctx context.Context, req tenant.Request) (*models.TenantContext, error)
}

// MediaBuys is the media buy orchestration the handlers call into.
type MediaBuys interface {
	Create(ctx context.Context, tc *models.TenantContext, req mediabuy.CreateRequest) (*mediabuy.CreateResponse, error)
	Status(ctx context.Context, tc *models.TenantContext, id string) (*mediabuy.StatusResponse, error)
	Update(ctx context.Context, tc *models.TenantContext, id string, req mediabuy.UpdateRequest) (*mediabuy.UpdateResponse, error)
	Resume(ctx context.Context, tc *models.TenantContext, runID string) (*mediabuy.CreateResponse, error)
}

// Workflows gives read access to workflow runs.
type Workflows interface {
	Get(ctx context.Context, tc *models.TenantContext, runID string) (*models.WorkflowRun, error)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server groups dependencies for HTTP handlers.
type Server struct {
	Logger    *zap.Logger
	Resolver  TenantResolver
	MediaBuys MediaBuys
	Workflows Workflows
	Store     Pinger
	Metrics   observability.MetricsRegistry
	Config    config.Config
	validate  *validator.Validate
}

// NewServer constructs a Server.
func NewServer(logger *zap.Logger, resolver TenantResolver, mediaBuys MediaBuys, workflows Workflows, store Pinger, metrics observability.MetricsRegistry, cfg config.Config) *Server {
	return &Server{
		Logger:    logger,
		Resolver:  resolver,
		MediaBuys: mediaBuys,
		Workflows: workflows,
		Store:     store,
		Metrics:   metrics,
		Config:    cfg,
		validate:  validator.New(),
	}
}

// Router registers every route on a new mux.Router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.WithTraceLogger(s.Logger))

	r.HandleFunc("/health", s.instrument("health", s.HealthHandler)).Methods(http.MethodGet)

	r.HandleFunc("/media-buys", s.instrument("create_media_buy", s.withTenant(s.CreateMediaBuyHandler))).Methods(http.MethodPost)
	r.HandleFunc("/media-buys/{id}", s.instrument("get_media_buy", s.withTenant(s.GetMediaBuyHandler))).Methods(http.MethodGet)
	r.HandleFunc("/media-buys/{id}", s.instrument("update_media_buy", s.withTenant(s.UpdateMediaBuyHandler))).Methods(http.MethodPatch)
	r.HandleFunc("/workflows/{id}", s.instrument("get_workflow", s.withTenant(s.GetWorkflowHandler))).Methods(http.MethodGet)
	r.HandleFunc("/workflows/{id}/resume", s.instrument("resume_workflow", s.withTenant(s.ResumeWorkflowHandler))).Methods(http.MethodPost)
	return r
}

// tenantHandler is a handler that runs with a resolved tenant.
type tenantHandler func(w http.ResponseWriter, r *http.Request, tc *models.TenantContext)

// withTenant resolves the request's tenant and rejects the request when
// resolution fails.
func (s *Server) withTenant(next tenantHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := tenant.RequestFromHTTP(r, s.Config.VirtualHostHeader, s.Config.TenantHeader)
		tc, err := s.Resolver.Resolve(r.Context(), req)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		next(w, r, tc)
	}
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.Metrics.IncrementRequests(endpoint, r.Method, strconv.Itoa(rec.status))
		s.Metrics.RecordRequestLatency(endpoint, r.Method, time.Since(start))
	}
}

// decode reads a JSON body into v and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return &requestError{Message: "invalid json", Err: err}
	}
	if err := s.validate.Struct(v); err != nil {
		re := &requestError{Message: "validation failed", Err: err}
		if ve, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range ve {
				re.Fields = append(re.Fields, fieldMessage(fe))
			}
		}
		return re
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
