package server

import (
	"net/http"

	"github.com/kathoros-ai/proxenos/internal/core"
)

type createSessionReq struct {
	AgentID    string `json:"agent_id"`
	AgentName  string `json:"agent_name"`
	TrustLevel string `json:"trust_level"`
	AccessMode string `json:"access_mode"`
	RunID      string `json:"run_id,omitempty"`
}

type createSessionResp struct {
	SessionID string `json:"session_id"`
	Nonce     string `json:"nonce"`
}

type agentOutputReq struct {
	Output string `json:"output"`
}

type agentOutputResp struct {
	DisplayText string `json:"display_text"`
	DetectedVia string `json:"detected_via"`
	// Populated only when a tool request was detected.
	RequestID        string   `json:"request_id,omitempty"`
	Decision         string   `json:"decision,omitempty"`
	ValidationErrors []string `json:"validation_errors,omitempty"`
	Output           any      `json:"output,omitempty"`
	Artifacts        []string `json:"artifacts,omitempty"`
}

func (d *Dependencies) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	trust, err := core.ParseTrustLevel(req.TrustLevel)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}
	mode, err := core.ParseAccessMode(req.AccessMode)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}

	s, err := d.Sessions.Create(req.AgentID, req.AgentName, trust, mode, req.RunID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}

	// The nonce is returned once, to the host, over this authenticated
	// channel. The host decides how the agent learns it.
	writeJSON(w, http.StatusCreated, createSessionResp{
		SessionID: s.ID,
		Nonce:     s.Nonce,
	})
}

func (d *Dependencies) handleAgentOutput(w http.ResponseWriter, r *http.Request) {
	s, err := d.Sessions.Get(r.PathValue("session_id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Unknown session"})
		return
	}

	var req agentOutputReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	parseRes, routeRes := s.HandleOutput(req.Output)

	resp := agentOutputResp{
		DisplayText: parseRes.DisplayText,
		DetectedVia: parseRes.DetectedVia,
	}
	if routeRes != nil {
		resp.RequestID = routeRes.RequestID
		resp.Decision = string(routeRes.Decision)
		resp.ValidationErrors = routeRes.ValidationErrors
		resp.Output = routeRes.Output
		resp.Artifacts = routeRes.Artifacts
	}
	writeJSON(w, http.StatusOK, resp)
}
