package http

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"tally.bridge/internal/core/domain"
	"tally.bridge/internal/core/services"
)

type RegisterRequest struct {
	ClientID    string `json:"clientId" validate:"required,max=128"`
	CompanyName string `json:"companyName" validate:"max=255"`
	Version     string `json:"version" validate:"max=64"`
	IPAddress   string `json:"ipAddress" validate:"omitempty,ip"`
}

type RegisterResponse struct {
	Success  bool   `json:"success"`
	ClientID string `json:"clientId"`
	APIKey   string `json:"apiKey"`
	Message  string `json:"message"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := s.decode(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	if req.IPAddress == "" {
		req.IPAddress = remoteIP(r)
	}

	handle, err := s.deps.Registry.Register(r.Context(), req.ClientID, domain.AgentMetadata{
		CompanyName: req.CompanyName,
		Version:     req.Version,
		IPAddress:   req.IPAddress,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.deps.Orchestrator.AutoStart(r.Context())

	writeJSON(w, http.StatusOK, RegisterResponse{
		Success:  true,
		ClientID: handle.ClientID,
		APIKey:   handle.APIKey,
		Message:  "Client registered successfully",
	})
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type HeartbeatRequest struct {
	ClientID string `json:"clientId" validate:"required,max=128"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req HeartbeatRequest
	if err := s.decode(w, r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}
	stamp, err := s.deps.Registry.Heartbeat(r.Context(), req.ClientID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"message":   "Heartbeat received",
		"timestamp": stamp,
	})
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Registry.List())
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	entries := s.deps.Activity.Entries()
	if entries == nil {
		entries = []domain.LogEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Config.Get())
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch domain.BridgeConfigPatch
	if err := s.decode(w, r, &patch, false); err != nil {
		writeError(w, r, err)
		return
	}
	cfg, err := s.deps.Config.Update(r.Context(), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.deps.Activity.Info("", "Bridge configuration updated")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Configuration updated",
		"config":  cfg,
	})
}

func (s *Server) handleCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := s.deps.Orchestrator.Companies(r.Context())
	if errors.Is(err, domain.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error":     "not_found",
			"message":   "No companies have been synced from Tally yet",
			"companies": []services.CompanyView{},
		})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, companies)
}

func (s *Server) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Orchestrator.TestConnection(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type TestCompanyRequest struct {
	Company string `json:"company"`
}

func (s *Server) handleTestCompany(w http.ResponseWriter, r *http.Request) {
	var req TestCompanyRequest
	if err := s.decode(w, r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}
	report, err := s.deps.Orchestrator.TestCompany(r.Context(), req.Company)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.Orchestrator.Status(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSyncStart(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Orchestrator.Start(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Sync started",
		"status":  st,
	})
}

func (s *Server) handleSyncStop(w http.ResponseWriter, r *http.Request) {
	st := s.deps.Orchestrator.Stop(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Sync stopped",
		"status":  st,
	})
}

type ManualSyncRequest struct {
	DataTypes []string `json:"dataTypes" validate:"omitempty,dive,required"`
}

func (s *Server) handleSyncManual(w http.ResponseWriter, r *http.Request) {
	var req ManualSyncRequest
	if err := s.decode(w, r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}
	ack, err := s.deps.Orchestrator.Manual(r.Context(), req.DataTypes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success":      true,
		"message":      "Manual sync started",
		"dataTypes":    ack.DataTypes,
		"totalRecords": ack.TotalRecords,
		"startedAt":    ack.StartedAt,
	})
}

func (s *Server) handleRejects(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rejects == nil {
		writeJSON(w, http.StatusOK, []*domain.RejectedRecord{})
		return
	}
	limit := int64(100)
	if l := r.URL.Query().Get("limit"); l != "" {
		if val, err := strconv.ParseInt(l, 10, 64); err == nil && val > 0 && val <= 1000 {
			limit = val
		}
	}
	recs, err := s.deps.Rejects.ListRejects(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// BatchRequest is a pushed batch of Tally records. ClientID, when present, counts as a
// heartbeat from that agent.
type BatchRequest struct {
	ClientID string            `json:"clientId" validate:"max=128"`
	Entities []json.RawMessage `json:"entities" validate:"required"`
}

type BatchResponse struct {
	Success bool                          `json:"success"`
	Results []domain.ReconciliationRecord `json:"results"`
	Summary domain.ReconcileSummary       `json:"summary"`
}

func (s *Server) handleIngest(entity domain.EntityType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BatchRequest
		if err := s.decode(w, r, &req, false); err != nil {
			writeError(w, r, err)
			return
		}
		res, err := s.deps.Orchestrator.Ingest(r.Context(), req.ClientID, entity, req.Entities)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, BatchResponse{Success: true, Results: res.Results, Summary: res.Summary})
	}
}
