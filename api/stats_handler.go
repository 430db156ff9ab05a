package api

import (
	"net/http"

	"github.com/zendesk/samson-sub001/queue"
)

// QueueResponse describes the scheduler's queue.
type QueueResponse struct {
	queue.Snapshot
	ActiveCount int `json:"active_count"`
	QueuedCount int `json:"queued_count"`
}

func (a *API) queueStatus(w http.ResponseWriter, _ *http.Request) {
	s := a.eng.Scheduler()
	writeJSON(w, http.StatusOK, QueueResponse{
		Snapshot:    s.Debug(),
		ActiveCount: s.ActiveCount(),
		QueuedCount: s.QueuedCount(),
	})
}

// HealthResponse is returned by the health check.
type HealthResponse struct {
	Status  string `json:"status"`
	Enabled bool   `json:"enabled"`
	Error   string `json:"error,omitempty"`
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Enabled: a.eng.Scheduler().Enabled()}
	if err := a.eng.Store().Ping(r.Context()); err != nil {
		resp.Status, resp.Error = "unavailable", err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
