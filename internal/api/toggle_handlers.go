package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"grimm.is/toggled/internal/audit"
	"grimm.is/toggled/internal/i18n"
	"grimm.is/toggled/internal/registry"
	"grimm.is/toggled/internal/toggle"
)

// ToggleRequest is the body of POST /api/toggles/{entity}.
type ToggleRequest struct {
	State string `json:"state"` // "on" or "off"
}

// ToggleResponse reports a request's result and the state afterwards.
type ToggleResponse struct {
	Result toggle.Result `json:"result"`
	State  toggle.State  `json:"state"`
	Error  string        `json:"error,omitempty"`
}

// StatusResponse summarizes the installed snapshot.
type StatusResponse struct {
	Seq         uint64         `json:"seq"`
	Taken       time.Time      `json:"taken,omitzero"`
	AgeSeconds  float64        `json:"age_seconds"`
	Writable    bool           `json:"writable"`
	Collections map[string]int `json:"collections"`
	Toggles     int            `json:"toggles"`
	LastError   string         `json:"last_error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Collections: make(map[string]int),
		Toggles:     len(s.toggles.List()),
	}
	if s.status != nil {
		snap := s.status.Current()
		resp.Seq = snap.Seq()
		resp.Taken = snap.Taken()
		resp.AgeSeconds = s.status.Age().Seconds()
		resp.Writable = snap.HasAccess(toggle.CapabilityWrite)
		for _, name := range snap.CollectionNames() {
			resp.Collections[name] = len(snap.Collection(name))
		}
		for _, ts := range s.status.Scheduler().GetStatus() {
			if ts.LastError != "" {
				resp.LastError = ts.LastError
			}
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListToggles(w http.ResponseWriter, r *http.Request) {
	states := s.toggles.List()
	if typ := r.URL.Query().Get("type"); typ != "" {
		filtered := states[:0]
		for _, st := range states {
			if st.Type == typ {
				filtered = append(filtered, st)
			}
		}
		states = filtered
	}
	WriteJSON(w, http.StatusOK, states)
}

func (s *Server) handleGetToggle(w http.ResponseWriter, r *http.Request) {
	entity := r.PathValue("entity")
	ctrl, ok := s.toggles.Get(entity)
	if !ok {
		WriteErrorCtx(w, r, http.StatusNotFound, i18n.MsgUnknownEntity, entity)
		return
	}
	WriteJSON(w, http.StatusOK, ctrl.State())
}

func (s *Server) handleSetToggle(w http.ResponseWriter, r *http.Request) {
	entity := r.PathValue("entity")

	var req ToggleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	on, ok := parseState(req.State)
	if !ok {
		WriteErrorCtx(w, r, http.StatusBadRequest, i18n.MsgInvalidState, req.State)
		return
	}

	res, err := s.toggles.Toggle(r.Context(), entity, on, s.clientIP(r))
	if errors.Is(err, registry.ErrUnknownEntity) {
		WriteErrorCtx(w, r, http.StatusNotFound, i18n.MsgUnknownEntity, entity)
		return
	}

	resp := ToggleResponse{Result: res}
	if ctrl, ok := s.toggles.Get(entity); ok {
		resp.State = ctrl.State()
	}
	if err != nil {
		resp.Error = err.Error()
	}
	WriteJSON(w, outcomeStatus(res.Outcome), resp)
}

func parseState(s string) (on, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on", "true", "1":
		return true, true
	case "off", "false", "0":
		return false, true
	}
	return false, false
}

// outcomeStatus maps a toggle outcome to an HTTP status.
func outcomeStatus(o toggle.Outcome) int {
	switch o {
	case toggle.OutcomeApplied:
		return http.StatusOK
	case toggle.OutcomeBusy, toggle.OutcomeManagedElsewhere:
		return http.StatusConflict
	case toggle.OutcomeDenied:
		return http.StatusForbidden
	case toggle.OutcomeRejected:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		WriteErrorCtx(w, r, http.StatusNotFound, i18n.MsgAuditUnavailable)
		return
	}

	q := r.URL.Query()
	f := audit.Filter{
		Entity:  q.Get("entity"),
		Outcome: q.Get("outcome"),
		Limit:   100,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			WriteError(w, http.StatusBadRequest, "invalid limit", v)
			return
		}
		f.Limit = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "invalid since", err.Error())
			return
		}
		f.Since = t
	}

	entries, err := s.audit.Query(r.Context(), f)
	if err != nil {
		s.logger.Error("audit query failed", "error", err)
		WriteError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	WriteJSON(w, http.StatusOK, entries)
}
