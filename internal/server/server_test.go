package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/tradebot-lab/helmsman/internal/eventlog"
	"github.com/tradebot-lab/helmsman/internal/logger"
	"github.com/tradebot-lab/helmsman/internal/types"
	"github.com/tradebot-lab/helmsman/pkg/errors"
)

// fakeSupervisor records calls and returns scripted errors.
type fakeSupervisor struct {
	events   *eventlog.Log
	startErr error
	stopErr  error
	started  []string
	stopped  []string
	bots     []types.BotStatus
}

func (f *fakeSupervisor) StartBot(_ context.Context, botID, _, _ string) error {
	if f.startErr != nil {
		return f.startErr
	}

	f.started = append(f.started, botID)

	return nil
}

func (f *fakeSupervisor) StopBot(_ context.Context, botID string) error {
	if f.stopErr != nil {
		return f.stopErr
	}

	f.stopped = append(f.stopped, botID)

	return nil
}

func (f *fakeSupervisor) RecentLogs(limit int) []eventlog.Entry {
	return f.events.Recent(limit)
}

func (f *fakeSupervisor) ListBots() []types.BotStatus {
	return f.bots
}

type fakeBacktester struct {
	rows []types.EvaluationRow
	err  error

	gotRef   string
	gotStart time.Time
	gotEnd   time.Time
}

func (f *fakeBacktester) Run(_ context.Context, strategyRef, _ string, start, end time.Time) ([]types.EvaluationRow, error) {
	f.gotRef = strategyRef
	f.gotStart = start
	f.gotEnd = end

	return f.rows, f.err
}

type ServerTestSuite struct {
	suite.Suite
	events     *eventlog.Log
	supervisor *fakeSupervisor
	backtester *fakeBacktester
	server     *Server
}

func (s *ServerTestSuite) SetupTest() {
	s.events = eventlog.New(eventlog.DefaultCapacity)
	s.supervisor = &fakeSupervisor{events: s.events}
	s.backtester = &fakeBacktester{}
	s.server = New(s.supervisor, s.backtester, s.events, logger.NewNopLogger())
}

func (s *ServerTestSuite) do(method, path, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(rec, req)

	return rec
}

func (s *ServerTestSuite) TestStartBot() {
	rec := s.do(http.MethodPost, "/api/v1/bots/bot-1/start", `{"symbol":"SBIN","owner_id":"owner-1"}`)

	s.Equal(http.StatusOK, rec.Code)
	s.Equal([]string{"bot-1"}, s.supervisor.started)
}

func (s *ServerTestSuite) TestStartBotMissingSymbol() {
	rec := s.do(http.MethodPost, "/api/v1/bots/bot-1/start", `{"owner_id":"owner-1"}`)

	s.Equal(http.StatusBadRequest, rec.Code)
	s.Empty(s.supervisor.started)
}

func (s *ServerTestSuite) TestStartBotAlreadyRunning() {
	s.supervisor.startErr = errors.New(errors.ErrCodeBotAlreadyRunning, "bot already running: bot-1")

	rec := s.do(http.MethodPost, "/api/v1/bots/bot-1/start", `{"symbol":"SBIN"}`)

	s.Equal(http.StatusConflict, rec.Code)

	var body map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal(float64(errors.ErrCodeBotAlreadyRunning), body["code"])
}

func (s *ServerTestSuite) TestStartBotUnknownConfig() {
	s.supervisor.startErr = errors.New(errors.ErrCodeBotConfigNotFound, "no configuration for bot: bot-1")

	rec := s.do(http.MethodPost, "/api/v1/bots/bot-1/start", `{"symbol":"SBIN"}`)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *ServerTestSuite) TestStopBot() {
	rec := s.do(http.MethodPost, "/api/v1/bots/bot-1/stop", "")

	s.Equal(http.StatusOK, rec.Code)
	s.Equal([]string{"bot-1"}, s.supervisor.stopped)
}

func (s *ServerTestSuite) TestStopBotNotRunning() {
	s.supervisor.stopErr = errors.New(errors.ErrCodeBotNotRunning, "bot not running: bot-1")

	rec := s.do(http.MethodPost, "/api/v1/bots/bot-1/stop", "")
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *ServerTestSuite) TestListBots() {
	s.supervisor.bots = []types.BotStatus{{BotID: "bot-1", Symbol: "SBIN", State: types.BotStateRunning}}

	rec := s.do(http.MethodGet, "/api/v1/bots", "")
	s.Equal(http.StatusOK, rec.Code)

	var body struct {
		Bots []types.BotStatus `json:"bots"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Require().Len(body.Bots, 1)
	s.Equal("bot-1", body.Bots[0].BotID)
}

func (s *ServerTestSuite) TestRecentLogsDefaultLimit() {
	for i := 0; i < 30; i++ {
		s.events.Appendf("line %d", i)
	}

	rec := s.do(http.MethodGet, "/api/v1/logs", "")
	s.Equal(http.StatusOK, rec.Code)

	var body struct {
		Logs []eventlog.Entry `json:"logs"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Len(body.Logs, DefaultLogLimit)
	s.Equal("line 29", body.Logs[0].Message)
}

func (s *ServerTestSuite) TestRecentLogsExplicitLimit() {
	for i := 0; i < 10; i++ {
		s.events.Appendf("line %d", i)
	}

	rec := s.do(http.MethodGet, "/api/v1/logs?limit=3", "")
	s.Equal(http.StatusOK, rec.Code)

	var body struct {
		Logs []eventlog.Entry `json:"logs"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Len(body.Logs, 3)
}

func (s *ServerTestSuite) TestRecentLogsBadLimit() {
	rec := s.do(http.MethodGet, "/api/v1/logs?limit=banana", "")
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *ServerTestSuite) TestBacktest() {
	s.backtester.rows = []types.EvaluationRow{
		{Time: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), Signal: types.SignalBuy, Price: 100},
	}

	rec := s.do(http.MethodPost, "/api/v1/backtest",
		`{"strategy_ref":"sma.wasm","symbol":"SBIN","start_date":"2025-01-01","end_date":"2025-02-01"}`)

	s.Equal(http.StatusOK, rec.Code)
	s.Equal("sma.wasm", s.backtester.gotRef)
	s.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), s.backtester.gotStart)
	// End date is inclusive.
	s.True(s.backtester.gotEnd.After(time.Date(2025, 2, 1, 23, 0, 0, 0, time.UTC)))

	var body struct {
		Rows []types.EvaluationRow `json:"rows"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Len(body.Rows, 1)
}

func (s *ServerTestSuite) TestBacktestEmptyRowsIsNotNull() {
	rec := s.do(http.MethodPost, "/api/v1/backtest",
		`{"strategy_ref":"sma.wasm","symbol":"SBIN","start_date":"2025-01-01","end_date":"2025-01-02"}`)

	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `"rows":[]`)
}

func (s *ServerTestSuite) TestBacktestBadDate() {
	rec := s.do(http.MethodPost, "/api/v1/backtest",
		`{"strategy_ref":"sma.wasm","symbol":"SBIN","start_date":"01/01/2025","end_date":"2025-01-02"}`)

	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *ServerTestSuite) TestBacktestStrategyNotFound() {
	s.backtester.err = errors.New(errors.ErrCodeStrategyNotFound, "strategy not found: nope.wasm")

	rec := s.do(http.MethodPost, "/api/v1/backtest",
		`{"strategy_ref":"nope.wasm","symbol":"SBIN","start_date":"2025-01-01","end_date":"2025-01-02"}`)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *ServerTestSuite) TestConfigSchema() {
	rec := s.do(http.MethodGet, "/api/v1/config/schema", "")
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "properties")
}

func (s *ServerTestSuite) TestHealth() {
	rec := s.do(http.MethodGet, "/healthz", "")
	s.Equal(http.StatusOK, rec.Code)
}

func TestServerTestSuite(t *testing.T) {
	suite.Run(t, new(ServerTestSuite))
}
