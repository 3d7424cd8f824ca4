package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"tally.bridge/internal/core/domain"
	"tally.bridge/internal/core/logger"
	"tally.bridge/internal/core/ports"
	"tally.bridge/internal/core/services"
	"tally.bridge/internal/core/validation"
)

const maxBodyBytes = 10 << 20

// Deps are the services the HTTP adapter exposes. Rejects and Hub may be nil.
type Deps struct {
	Registry     *services.Registry
	Orchestrator *services.Orchestrator
	Config       *services.ConfigService
	Activity     *services.ActivityLog
	Health       *services.HealthService
	Rejects      ports.RejectStore
	Hub          *Hub

	DisableMetrics bool
}

type Server struct {
	router   *chi.Mux
	deps     Deps
	validate *validation.Validator
}

func NewServer(deps Deps) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		deps:     deps,
		validate: validation.New(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogContext)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(MetricsMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if !s.deps.DisableMetrics {
		s.router.Get("/metrics", MetricsHandler().ServeHTTP)
	}

	// Kubernetes probes
	s.router.Get("/health/live", s.handleLiveness)
	s.router.Get("/health/ready", s.handleReadiness)
	s.router.Get("/api/health/detailed", s.handleDetailedHealth)

	if s.deps.Hub != nil {
		s.router.Get("/api/ws", s.handleWS)
	}

	s.router.Route("/api/tally", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/heartbeat", s.handleHeartbeat)
		r.Get("/clients", s.handleListClients)
		r.Get("/logs", s.handleLogs)

		r.Get("/config", s.handleGetConfig)
		r.Post("/config", s.handleUpdateConfig)

		r.Get("/companies", s.handleCompanies)
		r.Post("/test-connection", s.handleTestConnection)
		r.Post("/test-company", s.handleTestCompany)

		r.Route("/sync", func(r chi.Router) {
			r.Get("/status", s.handleSyncStatus)
			r.Post("/start", s.handleSyncStart)
			r.Post("/stop", s.handleSyncStop)
			r.Post("/manual", s.handleSyncManual)
			r.Get("/rejects", s.handleRejects)

			r.Post("/ledgers", s.handleIngest(domain.EntityClient))
			r.Post("/vouchers", s.handleIngest(domain.EntityPayment))
			r.Post("/orders", s.handleIngest(domain.EntityOrder))
			r.Post("/companies", s.handleIngest(domain.EntityCompany))
		})
	})
}

// Handler returns the root handler, for http.Server and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func requestLogContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logger.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	status, code := s.deps.Health.SimpleHealthCheck(r.Context())
	w.WriteHeader(code)
	w.Write([]byte(status))
}

func (s *Server) handleDetailedHealth(w http.ResponseWriter, r *http.Request) {
	report := s.deps.Health.CheckHealth(r.Context())

	statusCode := http.StatusOK
	if report.Status == services.HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, report)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ServeWs(s.deps.Hub, w, r)
}

// decode reads a JSON body into dst and validates it. An empty body is allowed when
// optional is set and leaves dst untouched.
// Bodies over maxBodyBytes fail with a *http.MaxBytesError.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}, optional bool) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return domain.NewValidationError("", "unreadable request body")
	}
	if len(body) == 0 || string(body) == "null" {
		if optional {
			return nil
		}
		return domain.NewValidationError("", "request body is required")
	}
	return s.validate.Decode(body, dst)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to write response", "error", err)
	}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError maps the domain error taxonomy onto HTTP statuses. Unknown errors are
// logged and reported as a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr   *domain.ValidationError
		notFoundErr     *domain.NotFoundError
		conflictErr     *domain.ConflictError
		connectivityErr *domain.ConnectivityError
		tooLargeErr     *http.MaxBytesError
	)
	switch {
	case errors.As(err, &tooLargeErr):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
			Error:   "payload_too_large",
			Message: fmt.Sprintf("request body too large (limit %d bytes)", tooLargeErr.Limit),
		})
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation_error", Message: validationErr.Error()})
	case errors.As(err, &notFoundErr):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Message: notFoundErr.Error()})
	case errors.As(err, &conflictErr):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "conflict", Message: conflictErr.Error()})
	case errors.As(err, &connectivityErr):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "not_connected", Message: connectivityErr.Error()})
	default:
		logger.ErrorContext(r.Context(), "Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal_error", Message: "internal error"})
	}
}
