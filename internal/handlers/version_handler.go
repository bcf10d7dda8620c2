package handlers

import (
	"net/http"
	"runtime"
	"runtime/debug"
)

// Version is set at link time with -X
var Version = "dev"

// VersionResponse for GET /api/version
type VersionResponse struct {
	Version   string `json:"version"`
	Revision  string `json:"revision,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"goVersion"`
	Remote    string `json:"remote"`
}

// NewVersionHandler reports the build and the remote flavor this agent replicates to
func NewVersionHandler(remoteKind string) http.HandlerFunc {
	resp := VersionResponse{
		Version:   Version,
		GoVersion: runtime.Version(),
		Remote:    remoteKind,
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				resp.Revision = s.Value
			case "vcs.modified":
				resp.Modified = s.Value == "true"
			}
		}
	}

	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, resp)
	}
}
