package handler

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// Health reports liveness. It does not touch the database.
//
// HTTP: GET /api/health
func Health(now func() time.Time) http.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{
			Message:   "Server is running",
			Timestamp: now().UTC().Format(time.RFC3339Nano),
		})
	}
}
