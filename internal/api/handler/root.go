package handler

import (
	"net/http"

	"github.com/kiranshivaraju/docanalyzer/internal/api/response"
)

// NewRootHandler returns the API banner served at GET /.
func NewRootHandler(version string) http.HandlerFunc {
	banner := map[string]any{
		"message": "Financial Document Analyzer API is running",
		"version": version,
		"endpoints": map[string]string{
			"sync_analyze":   "POST /api/v1/analyze",
			"async_analyze":  "POST /api/v1/analyze/async",
			"check_status":   "GET /api/v1/status/{task_id}",
			"history":        "GET /api/v1/history",
			"get_analysis":   "GET /api/v1/history/{task_id}",
			"delete_history": "DELETE /api/v1/history/{task_id}",
			"health":         "GET /api/v1/health",
		},
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		response.JSON(w, banner)
	}
}
