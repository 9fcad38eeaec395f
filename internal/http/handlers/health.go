package handlers

import (
	"net/http"
	"time"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(a.Started).Seconds()),
	}
	if a.Jobs != nil {
		resp["active_jobs"] = a.Jobs.Active()
	}
	a.json(w, http.StatusOK, resp)
}
