package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mikeyg42/camrecorder/internal/recorder/device"
	"github.com/mikeyg42/camrecorder/internal/recorder/recorderlog"
	"github.com/mikeyg42/camrecorder/internal/recorder/storage"
)

// DeviceStatus is the JSON view of a device.
type DeviceStatus struct {
	Name      string               `json:"name"`
	Recording bool                 `json:"recording"`
	Sessions  []device.SessionInfo `json:"sessions"`
}

// TriggerResponse answers start and stop requests.
type TriggerResponse struct {
	Device  string        `json:"device"`
	Reason  device.Reason `json:"reason"`
	Changed bool          `json:"changed"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func status(d Device) DeviceStatus {
	sessions := d.Sessions()
	return DeviceStatus{Name: d.Name(), Recording: len(sessions) > 0, Sessions: sessions}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(s.health))
	code := http.StatusOK
	for name, check := range s.health {
		if err := check(r.Context()); err != nil {
			checks[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	state := "ok"
	if code != http.StatusOK {
		state = "degraded"
	}
	writeJSON(w, code, map[string]any{"status": state, "checks": checks})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	out := make([]DeviceStatus, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, status(s.devices[name]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (Device, bool) {
	d, ok := s.devices[chi.URLParam(r, "name")]
	if !ok {
		writeError(w, http.StatusNotFound, "device not found")
	}
	return d, ok
}

// reasonParam rejects names ParseReason would silently map to Misc.
func reasonParam(w http.ResponseWriter, r *http.Request) (device.Reason, bool) {
	name := chi.URLParam(r, "reason")
	reason := device.ParseReason(name)
	if !strings.EqualFold(reason.String(), name) {
		writeError(w, http.StatusBadRequest, "unknown reason "+strconv.Quote(name))
		return 0, false
	}
	return reason, true
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, status(d))
}

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	s.trigger(w, r, true)
}

func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	s.trigger(w, r, false)
}

func (s *Server) trigger(w http.ResponseWriter, r *http.Request, on bool) {
	d, ok := s.lookup(w, r)
	if !ok {
		return
	}
	reason, ok := reasonParam(w, r)
	if !ok {
		return
	}

	changed, err := d.TriggerRecording(on, reason)
	switch {
	case errors.Is(err, device.ErrClosed):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, device.ErrInsufficientSpace):
		writeError(w, http.StatusInsufficientStorage, err.Error())
		return
	case err != nil:
		s.logger.Error("Trigger failed",
			recorderlog.String("device", d.Name()),
			recorderlog.String("reason", reason.String()),
			recorderlog.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to change recording")
		return
	}

	code := http.StatusOK
	if changed {
		code = http.StatusAccepted
	}
	writeJSON(w, code, TriggerResponse{Device: d.Name(), Reason: reason, Changed: changed})
}

// EnabledResponse answers pause and resume requests.
type EnabledResponse struct {
	Device  string        `json:"device"`
	Reason  device.Reason `json:"reason"`
	Enabled bool          `json:"enabled"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.setEnabled(w, r, false)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.setEnabled(w, r, true)
}

func (s *Server) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	d, ok := s.lookup(w, r)
	if !ok {
		return
	}
	reason, ok := reasonParam(w, r)
	if !ok {
		return
	}
	if !d.SetRecordingEnabled(reason, enabled) {
		writeError(w, http.StatusNotFound, "no recording for reason "+reason.String())
		return
	}
	writeJSON(w, http.StatusOK, EnabledResponse{Device: d.Name(), Reason: reason, Enabled: enabled})
}

func (s *Server) handleStopAll(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookup(w, r)
	if !ok {
		return
	}
	d.StopAllRecordings()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleListArchives(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := storage.ArchiveQuery{
		Device: q.Get("device"),
		Reason: strings.ToUpper(q.Get("reason")),
		Limit:  100,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		query.Limit = min(n, 1000)
	}
	for key, dst := range map[string]*time.Time{"from": &query.From, "to": &query.To} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+key)
			return
		}
		*dst = t
	}

	archives, err := s.archives.List(r.Context(), query)
	if err != nil {
		s.logger.Error("Archive query failed", recorderlog.Error(err))
		writeError(w, http.StatusInternalServerError, "archive query failed")
		return
	}
	if archives == nil {
		archives = []*storage.Archive{}
	}
	writeJSON(w, http.StatusOK, archives)
}
