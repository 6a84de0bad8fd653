// Package server exposes the engine's control surface over HTTP: bot
// lifecycle, log reads, backtests and a live log stream.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tradebot-lab/helmsman/internal/config"
	"github.com/tradebot-lab/helmsman/internal/eventlog"
	"github.com/tradebot-lab/helmsman/internal/logger"
	"github.com/tradebot-lab/helmsman/internal/types"
	"github.com/tradebot-lab/helmsman/pkg/errors"
	"github.com/tradebot-lab/helmsman/pkg/schema"
)

// DefaultLogLimit is the number of event log lines returned when the caller
// does not ask for a specific amount.
const DefaultLogLimit = 20

// dateLayout is the wire format for backtest date bounds.
const dateLayout = "2006-01-02"

// BotSupervisor is the lifecycle surface the server drives.
type BotSupervisor interface {
	StartBot(ctx context.Context, botID, symbol, ownerID string) error
	StopBot(ctx context.Context, botID string) error
	RecentLogs(limit int) []eventlog.Entry
	ListBots() []types.BotStatus
}

// Backtester runs one-shot historical evaluations.
type Backtester interface {
	Run(ctx context.Context, strategyRef, symbol string, start, end time.Time) ([]types.EvaluationRow, error)
}

// Server is the HTTP control surface.
type Server struct {
	supervisor BotSupervisor
	backtester Backtester
	events     *eventlog.Log
	log        *logger.Logger
	upgrader   websocket.Upgrader
	router     *mux.Router
}

// New creates a Server and wires its routes.
func New(supervisor BotSupervisor, backtester Backtester, events *eventlog.Log, log *logger.Logger) *Server {
	s := &Server{
		supervisor: supervisor,
		backtester: backtester,
		events:     events,
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/bots", s.handleListBots).Methods(http.MethodGet)
	api.HandleFunc("/bots/{id}/start", s.handleStartBot).Methods(http.MethodPost)
	api.HandleFunc("/bots/{id}/stop", s.handleStopBot).Methods(http.MethodPost)
	api.HandleFunc("/logs", s.handleRecentLogs).Methods(http.MethodGet)
	api.HandleFunc("/logs/stream", s.handleLogStream).Methods(http.MethodGet)
	api.HandleFunc("/backtest", s.handleBacktest).Methods(http.MethodPost)
	api.HandleFunc("/config/schema", s.handleConfigSchema).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	s.router = router

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

type startBotRequest struct {
	Symbol  string `json:"symbol"`
	OwnerID string `json:"owner_id"`
}

func (s *Server) handleStartBot(w http.ResponseWriter, r *http.Request) {
	botID := mux.Vars(r)["id"]

	var req startBotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.Wrap(errors.ErrCodeInvalidParameter, "invalid request body", err))

		return
	}

	if req.Symbol == "" {
		s.writeError(w, errors.New(errors.ErrCodeInvalidParameter, "symbol is required"))

		return
	}

	if err := s.supervisor.StartBot(r.Context(), botID, req.Symbol, req.OwnerID); err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "started",
		"bot_id": botID,
	})
}

func (s *Server) handleStopBot(w http.ResponseWriter, r *http.Request) {
	botID := mux.Vars(r)["id"]

	if err := s.supervisor.StopBot(r.Context(), botID); err != nil {
		s.writeError(w, err)

		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{
		"status": "stopped",
		"bot_id": botID,
	})
}

func (s *Server) handleListBots(w http.ResponseWriter, _ *http.Request) {
	bots := s.supervisor.ListBots()
	s.writeJSON(w, http.StatusOK, map[string]any{"bots": bots})
}

func (s *Server) handleRecentLogs(w http.ResponseWriter, r *http.Request) {
	limit := DefaultLogLimit

	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, errors.Newf(errors.ErrCodeInvalidParameter, "invalid limit: %s", raw))

			return
		}

		limit = parsed
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"logs": s.supervisor.RecentLogs(limit)})
}

func (s *Server) handleLogStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))

		return
	}
	defer conn.Close()

	entries, cancel := s.events.Subscribe(64)
	defer cancel()

	// Readers only subscribe; a read loop is still needed to notice the
	// client going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()

				return
			}
		}
	}()

	for entry := range entries {
		if err := conn.WriteJSON(entry); err != nil {
			return
		}
	}
}

type backtestRequest struct {
	StrategyRef string `json:"strategy_ref"`
	Symbol      string `json:"symbol"`
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req backtestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.Wrap(errors.ErrCodeInvalidParameter, "invalid request body", err))

		return
	}

	if req.StrategyRef == "" || req.Symbol == "" {
		s.writeError(w, errors.New(errors.ErrCodeInvalidParameter, "strategy_ref and symbol are required"))

		return
	}

	start, err := time.Parse(dateLayout, req.StartDate)
	if err != nil {
		s.writeError(w, errors.Wrapf(errors.ErrCodeInvalidParameter, err, "invalid start_date %q", req.StartDate))

		return
	}

	end, err := time.Parse(dateLayout, req.EndDate)
	if err != nil {
		s.writeError(w, errors.Wrapf(errors.ErrCodeInvalidParameter, err, "invalid end_date %q", req.EndDate))

		return
	}

	// The end date is inclusive: cover that whole day.
	end = end.Add(24*time.Hour - time.Nanosecond)

	rows, err := s.backtester.Run(r.Context(), req.StrategyRef, req.Symbol, start, end)
	if err != nil {
		s.writeError(w, err)

		return
	}

	if rows == nil {
		rows = []types.EvaluationRow{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (s *Server) handleConfigSchema(w http.ResponseWriter, _ *http.Request) {
	out, err := schema.ToJSONSchema(config.Config{})
	if err != nil {
		s.writeError(w, errors.Wrap(errors.ErrCodeUnknown, "failed to build config schema", err))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(out))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.log.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusForError(err)

	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}

	s.writeJSON(w, status, map[string]any{
		"error": err.Error(),
		"code":  int(errors.GetCode(err)),
	})
}

// statusForError maps the error taxonomy onto HTTP statuses.
func statusForError(err error) int {
	switch errors.GetCode(err) {
	case errors.ErrCodeBotAlreadyRunning:
		return http.StatusConflict
	case errors.ErrCodeBotNotRunning,
		errors.ErrCodeStrategyNotFound,
		errors.ErrCodeBotConfigNotFound,
		errors.ErrCodeUnknownSymbol:
		return http.StatusNotFound
	case errors.ErrCodeInvalidParameter,
		errors.ErrCodeInvalidOrderIntent,
		errors.ErrCodeInvalidTimeRange:
		return http.StatusBadRequest
	case errors.ErrCodeSupervisorClosed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
