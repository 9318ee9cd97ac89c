package httpapi

import (
	"net/http"
	"strconv"

	"github.com/rickgao/auction-intel/internal/model"
)

func queryUserID(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("userId")
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid userId %q", raw)
	}
	return id, nil
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID    int64                `json:"userId"`
		AlertType string               `json:"alertType"`
		Criteria  *model.AlertCriteria `json:"criteria"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.AlertType == "" || body.Criteria == nil {
		s.writeError(w, r, badRequest("Alert type and criteria are required"))
		return
	}

	alert, err := s.deps.Alerts.CreateAlert(r.Context(), body.UserID, body.AlertType, *body.Criteria)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"alert": alert})
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	userID, err := queryUserID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	alerts, err := s.deps.Alerts.UserAlerts(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"alerts": nonNil(alerts)})
}

func (s *Server) handleTriggeredAlerts(w http.ResponseWriter, r *http.Request) {
	userID, err := queryUserID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	days, err := queryInt(r, "days", 7)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	alerts, err := s.deps.Alerts.RecentlyTriggered(r.Context(), userID, days)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"alerts": nonNil(alerts)})
}

func (s *Server) handleUpdateAlert(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body struct {
		Criteria *model.AlertCriteria `json:"criteria"`
		Active   *bool                `json:"active"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	if body.Criteria == nil {
		s.writeError(w, r, badRequest("criteria is required"))
		return
	}

	alert, err := s.deps.Alerts.UpdateAlert(r.Context(), id, *body.Criteria, body.Active)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"message": "Alert updated", "alert": alert})
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.deps.Alerts.DeleteAlert(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Alert deleted")
}

func (s *Server) handleProcessAlerts(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Alerts.ProcessAlerts(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeOK(w, map[string]any{"result": result})
}
