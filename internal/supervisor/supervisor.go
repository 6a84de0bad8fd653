// Package supervisor owns the registry of running bots and their lifecycle:
// at most one task per bot id, atomic starts, joining stops.
package supervisor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tradebot-lab/helmsman/internal/bot"
	"github.com/tradebot-lab/helmsman/internal/eventlog"
	"github.com/tradebot-lab/helmsman/internal/ledger"
	"github.com/tradebot-lab/helmsman/internal/logger"
	"github.com/tradebot-lab/helmsman/internal/orders"
	"github.com/tradebot-lab/helmsman/internal/strategy"
	"github.com/tradebot-lab/helmsman/internal/types"
	"github.com/tradebot-lab/helmsman/pkg/errors"
)

// StrategyLoader is the slice of the strategy loader the supervisor needs.
type StrategyLoader interface {
	Load(ctx context.Context, ref string) (strategy.Handle, error)
}

// Options tune supervisor and task behavior.
type Options struct {
	// Task carries the per-bot loop settings.
	Task bot.Options
	// StopTimeout bounds how long StopBot waits for a task to exit.
	// Zero means wait indefinitely.
	StopTimeout time.Duration
}

// entry is one registry slot. A nil done channel marks a placeholder: the
// start that created it is still loading the strategy.
type entry struct {
	botID       string
	symbol      string
	strategyRef string
	ownerID     string
	state       types.BotState
	startedAt   time.Time
	cancel      context.CancelFunc
	done        chan struct{}
	stopping    bool
}

// Supervisor is the registry of active bots. All registry access is
// serialized on one mutex; the blocking parts of start and stop happen
// outside it.
type Supervisor struct {
	mu     sync.Mutex
	bots   map[string]*entry
	closed bool

	loader   StrategyLoader
	pipeline *orders.Pipeline
	store    ledger.Store
	events   *eventlog.Log
	log      *logger.Logger
	opts     Options
}

// New creates a Supervisor. The brokerage session behind pipeline must
// already be established; the supervisor never logs in.
func New(loader StrategyLoader, pipeline *orders.Pipeline, store ledger.Store,
	events *eventlog.Log, log *logger.Logger, opts Options) *Supervisor {
	return &Supervisor{
		bots:     make(map[string]*entry),
		loader:   loader,
		pipeline: pipeline,
		store:    store,
		events:   events,
		log:      log,
		opts:     opts,
	}
}

// StartBot resolves the bot's strategy, loads it and spawns the task. The
// presence check and insertion are a single atomic step: of any number of
// concurrent starts for the same id, exactly one wins.
func (s *Supervisor) StartBot(ctx context.Context, botID, symbol, ownerID string) error {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()

		return errors.New(errors.ErrCodeSupervisorClosed, "supervisor is shut down")
	}

	if _, exists := s.bots[botID]; exists {
		s.mu.Unlock()

		return errors.Newf(errors.ErrCodeBotAlreadyRunning, "bot already running: %s", botID)
	}

	// Reserve the slot before loading so concurrent starts for the same id
	// fail immediately instead of racing the load.
	placeholder := &entry{
		botID:   botID,
		symbol:  symbol,
		ownerID: ownerID,
		state:   types.BotStateRunning,
	}
	s.bots[botID] = placeholder
	s.mu.Unlock()

	strategyRef, err := s.store.LookupBotStrategy(ctx, botID)
	if err != nil {
		s.release(botID)

		return err
	}

	handle, err := s.loader.Load(ctx, strategyRef)
	if err != nil {
		s.release(botID)

		return err
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	task := bot.NewTask(botID, symbol, ownerID, handle, s.pipeline, s.events, s.log, s.opts.Task)

	s.mu.Lock()
	// Shutdown may have raced the load and dropped the placeholder.
	if current, ok := s.bots[botID]; !ok || current != placeholder {
		s.mu.Unlock()
		cancel()
		_ = handle.Close(ctx)

		return errors.New(errors.ErrCodeSupervisorClosed, "supervisor is shut down")
	}

	placeholder.strategyRef = strategyRef
	placeholder.startedAt = time.Now().UTC()
	placeholder.cancel = cancel
	placeholder.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			if err := handle.Close(context.Background()); err != nil {
				s.log.Warn("failed to close strategy handle",
					zap.String("bot_id", botID), zap.Error(err))
			}
		}()

		task.Run(taskCtx)

		// Mark the slot dead if the task exited on its own; StopBot
		// removes it on the next pass.
		s.mu.Lock()
		if current, ok := s.bots[botID]; ok && current == placeholder && !current.stopping {
			current.state = types.BotStateStopped
		}
		s.mu.Unlock()
	}()

	s.log.Info("bot started",
		zap.String("bot_id", botID),
		zap.String("symbol", symbol),
		zap.String("strategy_ref", strategyRef),
		zap.String("owner_id", ownerID),
	)
	s.events.Appendf("Bot %s started for %s (strategy %s).", botID, symbol, strategyRef)

	return nil
}

// release removes a placeholder after a failed start.
func (s *Supervisor) release(botID string) {
	s.mu.Lock()
	delete(s.bots, botID)
	s.mu.Unlock()
}

// StopBot cancels the bot's task and blocks until it has observably exited,
// then removes the registry entry. Concurrent stops for the same id cannot
// both succeed: the loser sees the bot as not running.
func (s *Supervisor) StopBot(ctx context.Context, botID string) error {
	s.mu.Lock()

	target, exists := s.bots[botID]
	if !exists || target.stopping || target.done == nil {
		s.mu.Unlock()

		return errors.Newf(errors.ErrCodeBotNotRunning, "bot not running: %s", botID)
	}

	target.stopping = true
	target.state = types.BotStateStopping
	s.mu.Unlock()

	target.cancel()

	if err := s.join(ctx, target.done); err != nil {
		// The task is still live; leave the entry so a later stop can
		// retry the join.
		s.mu.Lock()
		target.stopping = false
		s.mu.Unlock()

		return err
	}

	s.mu.Lock()
	delete(s.bots, botID)
	s.mu.Unlock()

	s.log.Info("bot stopped", zap.String("bot_id", botID))

	return nil
}

// join waits for done, bounded by ctx and the configured stop timeout.
func (s *Supervisor) join(ctx context.Context, done <-chan struct{}) error {
	if s.opts.StopTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.opts.StopTimeout)
		defer cancel()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(errors.ErrCodeStopTimeout, "timed out waiting for bot task to exit", ctx.Err())
	}
}

// RecentLogs returns the most recent event log lines, newest first.
func (s *Supervisor) RecentLogs(limit int) []eventlog.Entry {
	return s.events.Recent(limit)
}

// ListBots returns a snapshot of every registered bot.
func (s *Supervisor) ListBots() []types.BotStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.BotStatus, 0, len(s.bots))
	for _, e := range s.bots {
		out = append(out, types.BotStatus{
			BotID:       e.botID,
			Symbol:      e.symbol,
			StrategyRef: e.strategyRef,
			OwnerID:     e.ownerID,
			State:       e.state,
			StartedAt:   e.startedAt,
		})
	}

	return out
}

// Shutdown stops accepting starts, cancels every running task and waits for
// all of them to drain.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true

	draining := make([]*entry, 0, len(s.bots))

	for id, e := range s.bots {
		if e.done == nil {
			// A start in flight will fail its insert against closed.
			delete(s.bots, id)

			continue
		}

		if !e.stopping {
			e.stopping = true
			e.state = types.BotStateStopping
			e.cancel()
		}

		draining = append(draining, e)
	}
	s.mu.Unlock()

	for _, e := range draining {
		if err := s.join(ctx, e.done); err != nil {
			return err
		}

		s.mu.Lock()
		delete(s.bots, e.botID)
		s.mu.Unlock()
	}

	s.log.Info("supervisor shut down")

	return nil
}
