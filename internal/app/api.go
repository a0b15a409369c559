package app

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hapticphonix/larynx/internal/observe"
	"github.com/hapticphonix/larynx/pkg/audio"
	"github.com/hapticphonix/larynx/pkg/haptic"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// Handler returns the HTTP surface of the application. Websocket routes are
// mounted outside the observability middleware so long-lived connections
// do not skew request latency.
func (a *App) Handler() http.Handler {
	api := http.NewServeMux()
	a.health.Register(api)
	if a.metricsHandler != nil {
		api.Handle("GET /metrics", a.metricsHandler)
	}

	api.HandleFunc("POST /api/session", a.handleStartSession)
	api.HandleFunc("DELETE /api/session", a.handleStopSession)
	api.HandleFunc("GET /api/session", a.handleGetSession)
	api.HandleFunc("PUT /api/foreground", a.handleForeground)
	api.HandleFunc("GET /api/haptics/state", a.handleHapticState)
	api.HandleFunc("GET /api/haptics/config", a.handleGetHapticConfig)
	api.HandleFunc("PATCH /api/haptics/config", a.handlePatchHapticConfig)
	api.HandleFunc("GET /api/pitch/history", a.handleHistory)
	api.HandleFunc("GET /api/presets", a.handlePresets)
	api.HandleFunc("POST /api/presets/{name}/play", a.handlePlayPreset)

	root := http.NewServeMux()
	root.HandleFunc("GET /ws/haptics", a.hub.ServeActuator)
	root.HandleFunc("GET /ws/viewer", a.hub.ServeViewer)
	if mic, ok := a.device.(http.Handler); ok {
		root.Handle("GET /ws/mic", mic)
	}
	root.Handle("/", observe.Middleware(a.metrics)(api))
	return root
}

func (a *App) handleStartSession(w http.ResponseWriter, r *http.Request) {
	info, err := a.sessions.Start(r.Context())
	var devErr *audio.DeviceError
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, info)
	case errors.Is(err, ErrSessionActive):
		writeError(w, http.StatusConflict, err)
	case errors.As(err, &devErr):
		observe.Logger(r.Context()).Warn("capture device unavailable", "kind", devErr.Kind.String(), "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": err.Error(),
			"kind":  devErr.Kind.String(),
		})
	default:
		observe.Logger(r.Context()).Error("start capture session", "err", err)
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (a *App) handleStopSession(w http.ResponseWriter, _ *http.Request) {
	if err := a.sessions.Stop(); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleGetSession(w http.ResponseWriter, _ *http.Request) {
	info, err := a.sessions.Info()
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *App) handleForeground(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Foreground *bool `json:"foreground"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Foreground == nil {
		writeError(w, http.StatusBadRequest, errors.New(`missing "foreground"`))
		return
	}
	writeJSON(w, http.StatusOK, a.setForeground(*req.Foreground))
}

func (a *App) handleHapticState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.State())
}

func (a *App) handleGetHapticConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.Config())
}

func (a *App) handlePatchHapticConfig(w http.ResponseWriter, r *http.Request) {
	var p haptic.Patch
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg, err := a.engine.UpdateConfig(p)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	observe.Logger(r.Context()).Info("haptic config updated", "enabled", cfg.Enabled,
		"min_pitch", cfg.MinPitch, "max_pitch", cfg.MaxPitch)
	writeJSON(w, http.StatusOK, cfg)
}

func (a *App) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := -1
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"frames": a.sessions.History().Last(limit),
	})
}

type presetInfo struct {
	Name       string   `json:"name"`
	Pattern    []uint32 `json:"pattern"`
	DurationMs uint32   `json:"duration_ms"`
}

func (a *App) handlePresets(w http.ResponseWriter, _ *http.Request) {
	all := haptic.Presets()
	out := make([]presetInfo, 0, len(all))
	for _, name := range haptic.PresetNames() {
		p := all[name]
		var total uint32
		for _, ms := range p {
			total += ms
		}
		out = append(out, presetInfo{Name: name, Pattern: p, DurationMs: total})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) handlePlayPreset(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	pattern, ok := haptic.Preset(name)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown preset "+strconv.Quote(name)))
		return
	}
	if !a.engine.PlayPattern(pattern) {
		writeError(w, http.StatusConflict, errors.New("haptics are disabled or backgrounded"))
		return
	}
	writeJSON(w, http.StatusOK, presetInfo{Name: name, Pattern: pattern})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("app: write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
