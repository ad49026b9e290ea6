package server

import (
	"io"
	"net/http"

	"github.com/vantapoint/liqengine/pkg/settingsblob"
)

const maxSettingsBlobBytes = 1 << 16 // 64 KiB; a strategy row is a few hundred bytes encoded

// handleSettingsExport serializes the named strategy to a MessagePack blob
// the operator can archive or hand to another instance.
func (s *Server) handleSettingsExport(w http.ResponseWriter, r *http.Request) {
	strategy, ok := s.lookupStrategy(w, r)
	if !ok {
		return
	}
	data, err := settingsblob.Marshal(*strategy)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/msgpack")
	w.Header().Set("Content-Disposition", `attachment; filename="strategy-settings.msgpack"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleSettingsImport applies a previously exported blob onto the named
// strategy's mutable fields. The strategy's identity, pause state, and
// active flag are never touched by import.
func (s *Server) handleSettingsImport(w http.ResponseWriter, r *http.Request) {
	existing, ok := s.lookupStrategy(w, r)
	if !ok {
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxSettingsBlobBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body: "+err.Error())
		return
	}
	if len(data) > maxSettingsBlobBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "settings blob too large")
		return
	}

	updated := *existing
	if err := settingsblob.Unmarshal(data, &updated); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	now := s.clock()
	if err := s.strategies.Update(r.Context(), updated, now); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	updated.UpdatedAt = now
	writeJSON(w, http.StatusOK, updated)
}
