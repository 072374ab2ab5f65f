package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"algopilot/internal/models"
	"algopilot/internal/repository"
	"algopilot/internal/strategy"
	"algopilot/pkg/utils"
)

var (
	ErrInvalidRunState = errors.New("strategy run is not in a startable state")
	ErrRunNotTracked   = errors.New("strategy run is not running")
	ErrCandleQueueFull = errors.New("strategy run event queue is full")
)

// SupervisorConfig - параметры супервизора запусков
type SupervisorConfig struct {
	// MailboxSize - размер очереди рыночных событий одного запуска
	MailboxSize int

	// EventTimeout ограничивает обработку одной свечи или сигнала
	EventTimeout time.Duration
}

// DefaultSupervisorConfig возвращает параметры по умолчанию
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		MailboxSize:  64,
		EventTimeout: 30 * time.Second,
	}
}

// marketEvent - свеча или сигнал индикатора
type marketEvent struct {
	candle *strategy.MarketData
	signal *strategy.Signal
}

// runTask - исполняемая задача одного запуска.
// state принадлежит горутине задачи; mu нужен только для чтения снаружи.
type runTask struct {
	runID    int
	strategy strategy.Strategy
	mailbox  chan marketEvent
	cancel   context.CancelFunc
	done     chan struct{}

	mu    sync.Mutex
	state *strategy.State
}

// Supervisor владеет задачами запущенных стратегий.
//
// Каждый запуск получает свою горутину, очередь событий и State.
// Start и Stop одного запуска сериализуются его блокировкой (lockRun),
// поэтому повторный Start не создаёт вторую задачу, а Stop видит задачу
// целиком. Разные запуски друг друга не ждут.
type Supervisor struct {
	runs       RunStore
	strategies StrategyStore
	registry   *strategy.Registry
	processor  IntentProcessor
	prices     PriceObserver
	notifier   Notifier
	logger     *zap.Logger
	cfg        SupervisorConfig
	now        func() time.Time

	locksMu sync.Mutex
	locks   map[int]*runLock

	mu    sync.RWMutex
	tasks map[int]*runTask
}

// runLock - блокировка жизненного цикла одного запуска; refs считает
// держателей и ожидающих, запись удаляется вместе с последним
type runLock struct {
	mu   sync.Mutex
	refs int
}

// NewSupervisor создаёт супервизор
func NewSupervisor(
	runs RunStore,
	strategies StrategyStore,
	registry *strategy.Registry,
	processor IntentProcessor,
	prices PriceObserver,
	notifier Notifier,
	logger *zap.Logger,
	cfg SupervisorConfig,
) *Supervisor {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultSupervisorConfig()
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = def.MailboxSize
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = def.EventTimeout
	}
	return &Supervisor{
		runs:       runs,
		strategies: strategies,
		registry:   registry,
		processor:  processor,
		prices:     prices,
		notifier:   notifier,
		logger:     logger.With(utils.Component("supervisor")),
		cfg:        cfg,
		now:        time.Now,
		locks:      make(map[int]*runLock),
		tasks:      make(map[int]*runTask),
	}
}

// lockRun захватывает блокировку запуска и возвращает функцию освобождения
func (s *Supervisor) lockRun(runID int) func() {
	s.locksMu.Lock()
	l := s.locks[runID]
	if l == nil {
		l = &runLock{}
		s.locks[runID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, runID)
		}
		s.locksMu.Unlock()
	}
}

// ============================================================
// Жизненный цикл
// ============================================================

// Start запускает исполнение запуска стратегии.
//
// Шаги:
// 1. Уже отслеживаемый запуск - no-op
// 2. Проверка статуса pending и брокерского счёта
// 3. Создание стратегии из реестра по strategy_code
// 4. pending → running в БД (started_at)
// 5. Запуск горутины исполнения
func (s *Supervisor) Start(ctx context.Context, runID int) error {
	defer s.lockRun(runID)()

	if s.lookup(runID) != nil {
		return nil
	}

	run, err := s.runs.GetByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run %d: %w", runID, err)
	}
	if !CanTransitionRun(run.Status, models.RunStatusRunning) {
		return fmt.Errorf("%w: run %d is %s", ErrInvalidRunState, runID, run.Status)
	}
	if run.BrokerAccountID == nil {
		return fmt.Errorf("%w: run %d", ErrNoBrokerAccount, runID)
	}

	def, err := s.strategies.GetByID(ctx, run.StrategyID)
	if err != nil {
		return fmt.Errorf("load strategy %d: %w", run.StrategyID, err)
	}
	impl, err := s.registry.New(def.StrategyCode, run.Config)
	if err != nil {
		return err
	}

	if err := s.runs.MarkRunning(ctx, runID, s.now()); err != nil {
		if errors.Is(err, repository.ErrRunStatusConflict) {
			return fmt.Errorf("%w: run %d changed concurrently", ErrInvalidRunState, runID)
		}
		return fmt.Errorf("mark run %d running: %w", runID, err)
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	t := &runTask{
		runID:    runID,
		strategy: impl,
		mailbox:  make(chan marketEvent, s.cfg.MailboxSize),
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    strategy.NewState(run.Config),
	}

	s.mu.Lock()
	s.tasks[runID] = t
	s.mu.Unlock()
	RunningStrategies.Inc()

	go s.loop(taskCtx, t)

	s.logger.Info("strategy run started",
		utils.StrategyRunID(runID),
		utils.StrategyName(impl.Name()),
		zap.String("mode", string(run.TradingMode)))
	s.notifier.BroadcastRunUpdate(runID, models.RunStatusRunning, "")
	return nil
}

// Stop останавливает запуск: отмена задачи, ожидание её выхода,
// running → stopped. Для неотслеживаемого запуска no-op.
// Текущая свеча дорабатывается до конца, новые намерения не создаются.
//
// Ожидание ограничено ctx: по его истечении возвращается ошибка, задача
// остаётся отменённой и отслеживаемой, повторный Stop завершит остановку.
// Если задача успела упасть в error, статус не перезаписывается.
func (s *Supervisor) Stop(ctx context.Context, runID int) error {
	defer s.lockRun(runID)()

	t := s.lookup(runID)
	if t == nil {
		return nil
	}

	t.cancel()
	select {
	case <-t.done:
	case <-ctx.Done():
		return fmt.Errorf("wait for run %d to stop: %w", runID, ctx.Err())
	}
	if !s.untrack(t) {
		// задачу уже сняла fault: запуск в error
		return nil
	}

	if err := s.runs.MarkStopped(ctx, runID, s.now()); err != nil {
		return fmt.Errorf("mark run %d stopped: %w", runID, err)
	}

	s.logger.Info("strategy run stopped", utils.StrategyRunID(runID))
	s.notifier.BroadcastRunUpdate(runID, models.RunStatusStopped, "")
	return nil
}

// StopAll параллельно останавливает все запуски (graceful shutdown).
// Возвращается не позже истечения ctx.
func (s *Supervisor) StopAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, id := range s.Tracked() {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := s.Stop(ctx, id); err != nil {
				s.logger.Error("failed to stop strategy run", utils.StrategyRunID(id), zap.Error(err))
			}
		}(id)
	}
	wg.Wait()
}

// RecoverOrphanedRuns переводит в error запуски, оставшиеся running
// после аварийного завершения процесса: их задач в памяти больше нет.
func (s *Supervisor) RecoverOrphanedRuns(ctx context.Context) (int, error) {
	runs, err := s.runs.List(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("list runs: %w", err)
	}

	recovered := 0
	for _, run := range runs {
		if run.Status != models.RunStatusRunning || s.lookup(run.ID) != nil {
			continue
		}
		if err := s.runs.MarkError(ctx, run.ID, "execution lost on server restart", s.now()); err != nil {
			s.logger.Error("failed to recover orphaned run", utils.StrategyRunID(run.ID), zap.Error(err))
			continue
		}
		recovered++
		s.logger.Warn("orphaned strategy run marked as error", utils.StrategyRunID(run.ID))
	}
	return recovered, nil
}

// IsTracked возвращает true если у запуска есть задача исполнения
func (s *Supervisor) IsTracked(runID int) bool {
	return s.lookup(runID) != nil
}

// Tracked возвращает id отслеживаемых запусков
func (s *Supervisor) Tracked() []int {
	s.mu.RLock()
	ids := make([]int, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Ints(ids)
	return ids
}

// State возвращает копию позиций и последних намерений запуска
func (s *Supervisor) State(runID int) (map[string]int, []strategy.TradeIntent, bool) {
	t := s.lookup(runID)
	if t == nil {
		return nil, nil, false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	positions := make(map[string]int, len(t.state.Positions))
	for k, v := range t.state.Positions {
		positions[k] = v
	}
	signals := append([]strategy.TradeIntent(nil), t.state.LastSignals...)
	return positions, signals, true
}

func (s *Supervisor) lookup(runID int) *runTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks[runID]
}

// untrack удаляет задачу, если она всё ещё зарегистрирована под своим id
func (s *Supervisor) untrack(t *runTask) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasks[t.runID] != t {
		return false
	}
	delete(s.tasks, t.runID)
	RunningStrategies.Dec()
	return true
}

// ============================================================
// Доставка рыночных событий
// ============================================================

// ProcessCandleClose ставит закрытую свечу в очередь запуска.
// Не блокирует: при полной очереди событие отбрасывается.
func (s *Supervisor) ProcessCandleClose(runID int, md strategy.MarketData) error {
	return s.enqueue(runID, marketEvent{candle: &md})
}

// ProcessIndicatorSignal ставит сигнал индикатора в очередь запуска
func (s *Supervisor) ProcessIndicatorSignal(runID int, sig strategy.Signal) error {
	return s.enqueue(runID, marketEvent{signal: &sig})
}

func (s *Supervisor) enqueue(runID int, ev marketEvent) error {
	t := s.lookup(runID)
	if t == nil {
		return fmt.Errorf("%w: %d", ErrRunNotTracked, runID)
	}
	select {
	case t.mailbox <- ev:
		return nil
	default:
		MailboxOverflows.Inc()
		s.logger.Warn("run mailbox full, market event dropped", utils.StrategyRunID(runID))
		return fmt.Errorf("%w: run %d", ErrCandleQueueFull, runID)
	}
}

// ============================================================
// Горутина исполнения
// ============================================================

func (s *Supervisor) loop(ctx context.Context, t *runTask) {
	defer close(t.done)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in strategy run",
				utils.StrategyRunID(t.runID),
				zap.Any("panic", r),
				zap.Stack("stack"))
			s.fault(t, fmt.Sprintf("strategy panic: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-t.mailbox:
			if err := s.handle(ctx, t, ev); err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("strategy run failed", utils.StrategyRunID(t.runID), zap.Error(err))
				s.fault(t, err.Error())
				return
			}
		}
	}
}

// handle обрабатывает одно событие.
// Обработка не прерывается отменой задачи на середине: цикл по намерениям
// проверяет отмену перед каждым намерением, I/O идёт под EventTimeout.
func (s *Supervisor) handle(ctx context.Context, t *runTask, ev marketEvent) error {
	if ctx.Err() != nil {
		return nil
	}
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.EventTimeout)
	defer cancel()

	run, err := s.runs.GetByID(opCtx, t.runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if !IsActiveRun(run.Status) {
		s.logger.Debug("event for inactive run skipped",
			utils.StrategyRunID(t.runID),
			utils.Status(string(run.Status)))
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var intents []strategy.TradeIntent
	switch {
	case ev.candle != nil:
		md := *ev.candle
		// цена нужна симулятору до отправки рыночных ордеров по этой свече
		if s.prices != nil && run.TradingMode == models.TradingModePaper {
			s.prices.ObservePrice(utils.NormalizeSymbol(md.Symbol), md.Close)
		}
		t.state.MergeIndicators(md.Indicators)
		intents = t.strategy.OnCandleClose(md, t.state)
		RecordCandle(t.strategy.Name())
	case ev.signal != nil:
		intents = t.strategy.OnIndicatorSignal(*ev.signal, t.state)
	}

	for _, intent := range intents {
		if ctx.Err() != nil {
			return nil
		}
		res, err := s.processor.Process(opCtx, run, intent)
		if errors.Is(err, ErrInvalidIntent) {
			s.logger.Warn("invalid trade intent skipped",
				utils.StrategyRunID(t.runID),
				utils.StrategyName(t.strategy.Name()),
				zap.Error(err))
			continue
		}
		if err != nil {
			return fmt.Errorf("process intent: %w", err)
		}
		if res.Outcome == OutcomeAccepted {
			t.state.ApplyIntent(res.Intent)
		}
	}
	if len(intents) > 0 {
		t.state.RecordSignals(intents)
	}
	return nil
}

// fault переводит запуск в error. Вызывается только из горутины задачи.
func (s *Supervisor) fault(t *runTask, message string) {
	if !s.untrack(t) {
		return
	}
	RunFaults.Inc()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.EventTimeout)
	defer cancel()
	if err := s.runs.MarkError(ctx, t.runID, message, s.now()); err != nil {
		s.logger.Error("failed to mark run as error", utils.StrategyRunID(t.runID), zap.Error(err))
	}
	s.notifier.BroadcastRunUpdate(t.runID, models.RunStatusError, message)
}
