package supervisor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/tradebot-lab/helmsman/internal/bot"
	"github.com/tradebot-lab/helmsman/internal/broker"
	"github.com/tradebot-lab/helmsman/internal/eventlog"
	"github.com/tradebot-lab/helmsman/internal/ledger"
	"github.com/tradebot-lab/helmsman/internal/logger"
	"github.com/tradebot-lab/helmsman/internal/orders"
	"github.com/tradebot-lab/helmsman/internal/strategy"
	"github.com/tradebot-lab/helmsman/internal/types"
	"github.com/tradebot-lab/helmsman/pkg/errors"
)

// holdHandle always reports a hold signal, so it never orders.
type holdHandle struct {
	mu     sync.Mutex
	closed bool
}

func (h *holdHandle) Name() string { return "hold" }

func (h *holdHandle) Evaluate(_ context.Context, _ string, _, end time.Time) ([]types.EvaluationRow, error) {
	return []types.EvaluationRow{{Time: end, Signal: types.SignalHold, Price: 100}}, nil
}

func (h *holdHandle) Close(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true

	return nil
}

func (h *holdHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.closed
}

// failEvalHandle fails its first evaluate, killing the task.
type failEvalHandle struct{}

func (failEvalHandle) Name() string { return "broken" }

func (failEvalHandle) Evaluate(_ context.Context, _ string, _, _ time.Time) ([]types.EvaluationRow, error) {
	return nil, errors.New(errors.ErrCodeEvaluateFailed, "boom")
}

func (failEvalHandle) Close(_ context.Context) error { return nil }

// fakeLoader hands out scripted handles per strategy reference.
type fakeLoader struct {
	mu      sync.Mutex
	handles map[string]func() strategy.Handle
	loads   int
}

func (l *fakeLoader) Load(_ context.Context, ref string) (strategy.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.loads++

	build, ok := l.handles[ref]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeStrategyNotFound, "strategy not found: %s", ref)
	}

	return build(), nil
}

type SupervisorTestSuite struct {
	suite.Suite
	store  *ledger.DuckDBStore
	loader *fakeLoader
	events *eventlog.Log
	sup    *Supervisor
}

func (s *SupervisorTestSuite) SetupTest() {
	store, err := ledger.NewDuckDBStore(":memory:", logger.NewNopLogger())
	s.Require().NoError(err)
	s.store = store

	ctx := context.Background()
	s.Require().NoError(store.RegisterBot(ctx, "bot-1", "hold.wasm"))
	s.Require().NoError(store.RegisterBot(ctx, "bot-2", "hold.wasm"))
	s.Require().NoError(store.RegisterBot(ctx, "broken-bot", "broken.wasm"))

	s.loader = &fakeLoader{handles: map[string]func() strategy.Handle{
		"hold.wasm":   func() strategy.Handle { return &holdHandle{} },
		"broken.wasm": func() strategy.Handle { return failEvalHandle{} },
	}}

	s.events = eventlog.New(eventlog.DefaultCapacity)
	pipeline := orders.NewPipeline(broker.NewPaperSession(), store, s.events, logger.NewNopLogger())

	s.sup = New(s.loader, pipeline, store, s.events, logger.NewNopLogger(), Options{
		Task: bot.Options{PollInterval: 5 * time.Millisecond},
	})
}

func (s *SupervisorTestSuite) TearDownTest() {
	s.Require().NoError(s.sup.Shutdown(context.Background()))
	s.Require().NoError(s.store.Close())
}

func (s *SupervisorTestSuite) TestStartAndStop() {
	ctx := context.Background()

	s.Require().NoError(s.sup.StartBot(ctx, "bot-1", "SBIN", "owner-1"))

	bots := s.sup.ListBots()
	s.Require().Len(bots, 1)
	s.Equal("bot-1", bots[0].BotID)
	s.Equal(types.BotStateRunning, bots[0].State)
	s.Equal("hold.wasm", bots[0].StrategyRef)

	s.Require().NoError(s.sup.StopBot(ctx, "bot-1"))
	s.Empty(s.sup.ListBots())
}

func (s *SupervisorTestSuite) TestStartTwiceFails() {
	ctx := context.Background()

	s.Require().NoError(s.sup.StartBot(ctx, "bot-1", "SBIN", "owner-1"))

	err := s.sup.StartBot(ctx, "bot-1", "SBIN", "owner-1")
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeBotAlreadyRunning))
	s.Len(s.sup.ListBots(), 1)
}

func (s *SupervisorTestSuite) TestConcurrentStartsSingleWinner() {
	ctx := context.Background()

	const racers = 10

	var wg sync.WaitGroup

	results := make(chan error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()
			results <- s.sup.StartBot(ctx, "bot-1", "SBIN", "owner-1")
		}()
	}

	wg.Wait()
	close(results)

	wins := 0

	for err := range results {
		if err == nil {
			wins++
		} else {
			s.True(errors.HasCode(err, errors.ErrCodeBotAlreadyRunning))
		}
	}

	s.Equal(1, wins)
	s.Len(s.sup.ListBots(), 1)
}

func (s *SupervisorTestSuite) TestStopAbsentBot() {
	err := s.sup.StopBot(context.Background(), "ghost")
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeBotNotRunning))
}

func (s *SupervisorTestSuite) TestStartUnknownBotConfig() {
	err := s.sup.StartBot(context.Background(), "unregistered", "SBIN", "owner-1")
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeBotConfigNotFound))
	s.Empty(s.sup.ListBots())
}

func (s *SupervisorTestSuite) TestLoadFailureLeavesRegistryEmpty() {
	ctx := context.Background()
	s.Require().NoError(s.store.RegisterBot(ctx, "bad-ref", "missing.wasm"))

	err := s.sup.StartBot(ctx, "bad-ref", "SBIN", "owner-1")
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeStrategyNotFound))
	s.Empty(s.sup.ListBots())

	// The id is free for a later start.
	s.Require().NoError(s.store.RegisterBot(ctx, "bad-ref", "hold.wasm"))
	s.Require().NoError(s.sup.StartBot(ctx, "bad-ref", "SBIN", "owner-1"))
}

func (s *SupervisorTestSuite) TestStopClosesHandle() {
	ctx := context.Background()

	handle := &holdHandle{}
	s.loader.mu.Lock()
	s.loader.handles["hold.wasm"] = func() strategy.Handle { return handle }
	s.loader.mu.Unlock()

	s.Require().NoError(s.sup.StartBot(ctx, "bot-1", "SBIN", "owner-1"))
	s.Require().NoError(s.sup.StopBot(ctx, "bot-1"))

	s.Eventually(handle.isClosed, time.Second, time.Millisecond)
}

func (s *SupervisorTestSuite) TestFatalEvaluateMarksBotStopped() {
	ctx := context.Background()

	s.Require().NoError(s.sup.StartBot(ctx, "broken-bot", "SBIN", "owner-1"))

	// The task dies on its first evaluate; the entry stays, marked stopped.
	s.Eventually(func() bool {
		bots := s.sup.ListBots()

		return len(bots) == 1 && bots[0].State == types.BotStateStopped
	}, time.Second, time.Millisecond)

	// The next stop sweeps the dead entry.
	s.Require().NoError(s.sup.StopBot(ctx, "broken-bot"))
	s.Empty(s.sup.ListBots())
}

func (s *SupervisorTestSuite) TestConcurrentStopsSingleWinner() {
	ctx := context.Background()
	s.Require().NoError(s.sup.StartBot(ctx, "bot-1", "SBIN", "owner-1"))

	const racers = 5

	var wg sync.WaitGroup

	results := make(chan error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()
			results <- s.sup.StopBot(ctx, "bot-1")
		}()
	}

	wg.Wait()
	close(results)

	wins := 0

	for err := range results {
		if err == nil {
			wins++
		} else {
			s.True(errors.HasCode(err, errors.ErrCodeBotNotRunning))
		}
	}

	s.Equal(1, wins)
	s.Empty(s.sup.ListBots())
}

func (s *SupervisorTestSuite) TestShutdownRejectsNewStarts() {
	ctx := context.Background()

	s.Require().NoError(s.sup.StartBot(ctx, "bot-1", "SBIN", "owner-1"))
	s.Require().NoError(s.sup.StartBot(ctx, "bot-2", "INFY", "owner-2"))

	s.Require().NoError(s.sup.Shutdown(ctx))
	s.Empty(s.sup.ListBots())

	err := s.sup.StartBot(ctx, "bot-1", "SBIN", "owner-1")
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeSupervisorClosed))
}

func (s *SupervisorTestSuite) TestRecentLogs() {
	ctx := context.Background()

	s.Require().NoError(s.sup.StartBot(ctx, "bot-1", "SBIN", "owner-1"))
	s.Require().NoError(s.sup.StopBot(ctx, "bot-1"))

	entries := s.sup.RecentLogs(20)
	s.Require().NotEmpty(entries)
	// Newest first: the stop line precedes the start line.
	s.Equal("Bot bot-1 stopped.", entries[0].Message)
	s.Equal("Bot bot-1 started for SBIN (strategy hold.wasm).", entries[len(entries)-1].Message)
}

func TestSupervisorTestSuite(t *testing.T) {
	suite.Run(t, new(SupervisorTestSuite))
}
