package playback

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"time"

	"hls-player/internal/catalogue"
	"hls-player/internal/media"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Handler exposes the controller over HTTP using go-chi.
type Handler struct {
	ctrl *Controller
	log  *slog.Logger
}

// NewHandler returns a Handler for ctrl.
func NewHandler(ctrl *Controller, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{ctrl: ctrl, log: log}
}

// Routes mounts the control API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/session", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Get("/qualities", h.GetQualities)
		r.Post("/initialize", h.Initialize)
		r.Post("/play", h.Play)
		r.Post("/pause", h.Pause)
		r.Post("/stop", h.Stop)
		r.Post("/seek", h.Seek)
		r.Post("/speed", h.Speed)
		r.Post("/quality", h.SetQuality)
	})
}

type initializeRequest struct {
	Source string `json:"source" validate:"required"`
	InitOptions
}

type seekRequest struct {
	Position float64 `json:"position" validate:"gte=0"` // seconds
}

type speedRequest struct {
	Rate float64 `json:"rate" validate:"gt=0"`
}

type qualityRequest struct {
	Height int `json:"height" validate:"gte=0"`
}

// decode reads a JSON body into v and validates it.
func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return validate.Struct(v)
}

// Initialize handles POST /session/initialize.
// Body: { "source": "https://cdn/master.m3u8", "auto_play": true, "desired_height": 720 }.
func (h *Handler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := decode(r, &req); err != nil {
		h.log.Debug("invalid initialize body", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	err := h.ctrl.Initialize(r.Context(), media.SourceID(req.Source), req.InitOptions)
	if err != nil {
		status := initErrorStatus(err)
		h.log.Info("initialize failed",
			slog.String("source", req.Source),
			slog.Int("status", status),
			slog.String("error", err.Error()))
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Diagnostics())
}

func initErrorStatus(err error) int {
	switch {
	case errors.Is(err, catalogue.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNoCompatibleVariant):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrDisposed):
		return http.StatusGone
	default:
		return http.StatusBadGateway
	}
}

// GetSession handles GET /session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Diagnostics())
}

// GetQualities handles GET /session/qualities.
func (h *Handler) GetQualities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Qualities())
}

// Play handles POST /session/play.
func (h *Handler) Play(w http.ResponseWriter, r *http.Request) {
	h.command(w, "play", h.ctrl.Play(r.Context()))
}

// Pause handles POST /session/pause.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.command(w, "pause", h.ctrl.Pause(r.Context()))
}

// Stop handles POST /session/stop.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	h.command(w, "stop", h.ctrl.Stop(r.Context()))
}

// Seek handles POST /session/seek. Body: { "position": 12.5 }.
func (h *Handler) Seek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	h.command(w, "seek", h.ctrl.Seek(r.Context(), seconds(req.Position)))
}

// maxSeconds is the largest whole number of seconds a Duration holds.
const maxSeconds = float64(math.MaxInt64 / int64(time.Second))

// seconds converts s to a Duration, saturating where the conversion would
// overflow.
func seconds(s float64) time.Duration {
	if s >= maxSeconds {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(s * float64(time.Second))
}

// Speed handles POST /session/speed. Body: { "rate": 1.5 }.
func (h *Handler) Speed(w http.ResponseWriter, r *http.Request) {
	var req speedRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	h.command(w, "speed", h.ctrl.Speed(r.Context(), req.Rate))
}

// SetQuality handles POST /session/quality. Body: { "height": 720 }, 0 for auto.
func (h *Handler) SetQuality(w http.ResponseWriter, r *http.Request) {
	var req qualityRequest
	if err := decode(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	h.command(w, "quality", h.ctrl.SetQuality(r.Context(), req.Height))
}

func (h *Handler) command(w http.ResponseWriter, name string, err error) {
	if err != nil {
		h.log.Error("command failed", slog.String("command", name), slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": h.ctrl.Status().String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
