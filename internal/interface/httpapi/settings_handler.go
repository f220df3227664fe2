package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/FeishuCampRAG/rag-sys/internal/core/settings"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	current, err := s.services.Settings.Load(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, current)
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var patch settings.Patch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid settings")
		return
	}

	saved, err := s.services.Settings.Save(r.Context(), patch)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeData(w, saved)
}
