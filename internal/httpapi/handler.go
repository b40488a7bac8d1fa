package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/septivank/fleetwatch/internal/analytics"
	"github.com/septivank/fleetwatch/internal/armreport"
	"github.com/septivank/fleetwatch/internal/db"
	"github.com/septivank/fleetwatch/internal/export"
	"github.com/septivank/fleetwatch/internal/ingest"
	"github.com/septivank/fleetwatch/internal/repository"
	"github.com/septivank/fleetwatch/internal/session"
	"go.uber.org/zap"
)

// Config holds HTTP layer settings
type Config struct {
	MaxBodyBytes int64
}

// Deps are the services the HTTP layer delegates to
type Deps struct {
	Gateway  *ingest.Gateway
	Arm      *armreport.Service
	Boards   repository.BoardStore
	Points   repository.PointStore
	Routes   *session.Reconstructor
	Analyzer *analytics.Analyzer
	Gatherer prometheus.Gatherer
}

// Handler serves the telemetry, ARM report and track endpoints
type Handler struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Deps, cfg Config, logger *zap.Logger) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	return &Handler{deps: deps, cfg: cfg, logger: logger, now: time.Now}
}

// SetClock overrides the clock used for route status
func (h *Handler) SetClock(now func() time.Time) {
	h.now = now
}

// Router builds the route table
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.logRequests)

	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)
	if h.deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/telemetry/", h.ingestTelemetry).Methods(http.MethodPost)
	api.HandleFunc("/telemetry/", h.telemetryStatus).Methods(http.MethodGet)
	api.HandleFunc("/arm-report/", h.ingestArmReport).Methods(http.MethodPost)

	track := api.PathPrefix("/track").Subrouter()
	track.HandleFunc("/boards/", h.listBoards).Methods(http.MethodGet)
	track.HandleFunc("/sessions/board/{board:[0-9]+}/", h.listSessions).Methods(http.MethodGet)
	track.HandleFunc("/board/{board:[0-9]+}/session/{sess}/", h.sessionTrack).Methods(http.MethodGet)
	track.HandleFunc("/board/{board:[0-9]+}/last/", h.lastTrack).Methods(http.MethodGet)
	track.HandleFunc("/data/board/{board:[0-9]+}/session/{sess}/", h.sessionData).Methods(http.MethodGet)
	track.HandleFunc("/export/{format:gpx|kml}/board/{board:[0-9]+}/session/{sess}/", h.exportSession).Methods(http.MethodGet)
	return r
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (h *Handler) telemetryStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) ingestTelemetry(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	summary, err := h.deps.Gateway.IngestBody(r.Context(), body,
		r.Header.Get("Content-Type"), r.Header.Get("Content-Encoding"))
	switch {
	case errors.Is(err, ingest.ErrBatchTooLarge):
		h.writeJSON(w, http.StatusRequestEntityTooLarge, errorView{Error: "body too large"})
		return
	case errors.Is(err, ingest.ErrEmptyBatch), errors.Is(err, ingest.ErrUnparseableBatch):
		h.writeJSON(w, http.StatusBadRequest, errorView{Error: "bad batch", Detail: err.Error()})
		return
	case err != nil:
		h.logger.Error("telemetry ingest failed", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, errorView{Error: "internal error"})
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) ingestArmReport(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}

	saved, err := h.deps.Arm.Ingest(r.Context(), body, r.Header.Get("Content-Encoding"))
	switch {
	case errors.Is(err, ingest.ErrBatchTooLarge):
		h.writeJSON(w, http.StatusRequestEntityTooLarge, errorView{Error: "body too large"})
		return
	case errors.Is(err, armreport.ErrEmptyPayload):
		h.writeJSON(w, http.StatusBadRequest, errorView{Error: "empty payload"})
		return
	case err != nil:
		h.logger.Error("arm report ingest failed", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, errorView{Error: "internal error"})
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "saved": saved})
}

func (h *Handler) listBoards(w http.ResponseWriter, r *http.Request) {
	boards, err := h.deps.Boards.ListBoards(r.Context())
	if err != nil {
		h.internalError(w, "failed to list boards", err)
		return
	}

	out := make([]boardView, 0, len(boards))
	for i := range boards {
		out = append(out, newBoardView(&boards[i]))
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	board, ok := h.board(w, r)
	if !ok {
		return
	}

	sessions, err := h.deps.Points.Sessions(r.Context(), board.ID)
	if err != nil {
		h.internalError(w, "failed to list sessions", err)
		return
	}

	out := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, newSessionView(s))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"board":    newBoardView(board),
		"sessions": out,
	})
}

func (h *Handler) sessionTrack(w http.ResponseWriter, r *http.Request) {
	board, ok := h.board(w, r)
	if !ok {
		return
	}
	sess := mux.Vars(r)["sess"]

	points, err := h.deps.Routes.SessionPoints(r.Context(), board.ID, sess)
	if err != nil {
		h.internalError(w, "failed to load session", err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.track(board, &session.Route{
		Session: sess,
		Source:  session.SourceSession,
		Points:  points,
	}))
}

func (h *Handler) lastTrack(w http.ResponseWriter, r *http.Request) {
	board, ok := h.board(w, r)
	if !ok {
		return
	}

	route, err := h.deps.Routes.Reconstruct(r.Context(), session.Request{
		BoardID: board.ID,
		Hint:    board.CurrentSess,
		To:      board.LastTelemetryAt,
	})
	if err != nil {
		h.internalError(w, "failed to reconstruct route", err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.track(board, route))
}

func (h *Handler) sessionData(w http.ResponseWriter, r *http.Request) {
	board, ok := h.board(w, r)
	if !ok {
		return
	}

	points, err := h.deps.Routes.SessionPoints(r.Context(), board.ID, mux.Vars(r)["sess"])
	if err != nil {
		h.internalError(w, "failed to load session", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"points": h.deps.Routes.Downsample(points),
		"status": h.deps.Analyzer.Status(points, h.now()),
	})
}

func (h *Handler) exportSession(w http.ResponseWriter, r *http.Request) {
	board, ok := h.board(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)

	format, err := export.ParseFormat(vars["format"])
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorView{Error: err.Error()})
		return
	}

	points, err := h.deps.Routes.SessionPoints(r.Context(), board.ID, vars["sess"])
	if err != nil {
		h.internalError(w, "failed to load session", err)
		return
	}
	if len(points) == 0 {
		h.writeJSON(w, http.StatusNotFound, errorView{Error: "no points to export"})
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(board.ID, vars["sess"], format)+`"`)
	if err := export.Write(w, format, export.TrackName(board.ID, vars["sess"]), points); err != nil {
		h.logger.Error("failed to write export", zap.Error(err))
	}
}

func (h *Handler) track(board *db.Board, route *session.Route) trackView {
	summary := h.deps.Analyzer.Summarize(route.Points, h.now())
	return trackView{
		BoardID: board.ID,
		Board:   board.Label(),
		Session: route.Session,
		Source:  string(route.Source),
		Points:  h.deps.Routes.Downsample(route.Points),
		Summary: newSummaryView(summary),
	}
}

func (h *Handler) board(w http.ResponseWriter, r *http.Request) (*db.Board, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["board"], 10, 64)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorView{Error: "invalid board id"})
		return nil, false
	}

	b, err := h.deps.Boards.GetBoard(r.Context(), id)
	if errors.Is(err, repository.ErrBoardNotFound) {
		h.writeJSON(w, http.StatusNotFound, errorView{Error: "board not found"})
		return nil, false
	}
	if err != nil {
		h.internalError(w, "failed to load board", err)
		return nil, false
	}
	return b, true
}

func (h *Handler) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeJSON(w, http.StatusRequestEntityTooLarge, errorView{Error: "body too large"})
			return nil, false
		}
		h.writeJSON(w, http.StatusBadRequest, errorView{Error: "failed to read body", Detail: err.Error()})
		return nil, false
	}
	return body, true
}

func (h *Handler) internalError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, zap.Error(err))
	h.writeJSON(w, http.StatusInternalServerError, errorView{Error: "internal error"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to write response", zap.Error(err))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)),
		)
	})
}
