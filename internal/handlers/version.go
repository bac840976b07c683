package handlers

import (
	"net/http"

	"wa-video-helper/internal/startup"
)

// GetVersion returns the application version and build information
func (h *Handlers) GetVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, startup.GetBuildInfo())
}
