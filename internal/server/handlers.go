package server

import (
	"encoding/json"
	"net/http"

	"github.com/sw33tLie/xtmscope/internal/utils"
	"github.com/sw33tLie/xtmscope/pkg/router"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		utils.Log.Debugf("Writing response: %v", err)
	}
}

// reply writes env, turning a failed envelope into a 400.
func reply(w http.ResponseWriter, env router.Envelope) {
	status := http.StatusOK
	if !env.Success {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, env)
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, typ router.MessageType, payload interface{}) {
	req := router.Request{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		req.Payload = raw
	}
	reply(w, s.Router.Dispatch(r.Context(), req))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMessage is the raw message endpoint. The envelope always goes back
// with a 200; only an undecodable request is a 400.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req router.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.Router.Dispatch(r.Context(), req))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, router.GetCacheStats, nil)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, router.RefreshCache, nil)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var p router.ScanPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.dispatch(w, r, router.ScanAll, p)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, router.TestPlatformConnection, router.ConnectionPayload{PlatformID: r.PathValue("id")})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, router.ClearPlatformCache, router.ClearPayload{
		PlatformType: r.PathValue("family"),
		PlatformID:   r.PathValue("id"),
	})
}

func (s *Server) handleEntity(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, router.GetCachedEntity, router.EntityPayload{
		PlatformType: r.PathValue("family"),
		PlatformID:   r.PathValue("platform"),
		EntityID:     r.PathValue("entity"),
	})
}
