package assertion

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"sync"
	"time"

	xerrors "OpenOracle-Chain/internal/errors"
	"OpenOracle-Chain/internal/observability/alerting"
	"OpenOracle-Chain/internal/observability/metrics"
	"OpenOracle-Chain/pkg/logger"
)

// Sweeper 周期性扫描可结算断言并替沉默的参与方触发结算。
// 结算语义完全复用 Ledger.Settle，巡检只是多了一个敲门的人。
type Sweeper struct {
	ledger      *Ledger
	store       Store
	interval    time.Duration
	batchSize   int
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	now         func() time.Time
}

// SweeperOption 定义可选配置。
type SweeperOption func(*Sweeper)

// WithSweepInterval 设置巡检周期。
func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithSweepBatchSize 设置单轮最多处理的断言数。
func WithSweepBatchSize(size int) SweeperOption {
	return func(s *Sweeper) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithSweeperWorkers 设置结算协程数量。
func WithSweeperWorkers(workers int) SweeperOption {
	return func(s *Sweeper) {
		if workers > 0 {
			s.workerCount = workers
		}
	}
}

// WithSweeperLogger 指定调试日志输出。
func WithSweeperLogger(log *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		s.logger = log
	}
}

// WithSweeperAlerts 配置告警派发器。
func WithSweeperAlerts(dispatcher alerting.Dispatcher) SweeperOption {
	return func(s *Sweeper) {
		s.alerter = dispatcher
	}
}

// WithSweeperClock 替换巡检时钟，主要用于测试。
func WithSweeperClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSweeper 构造 Sweeper。
func NewSweeper(ledger *Ledger, store Store, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		ledger:      ledger,
		store:       store,
		interval:    15 * time.Second,
		batchSize:   64,
		workerCount: 4,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.workerCount <= 0 {
		s.workerCount = 1
	}
	return s
}

// Start 启动巡检循环，直到上下文取消。
func (s *Sweeper) Start(ctx context.Context) error {
	if s.ledger == nil || s.store == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "结算巡检未初始化")
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	metrics.IncSweeperRun()

	due, err := s.store.ListSettleable(ctx, s.now().Unix(), s.batchSize)
	if err != nil {
		metrics.IncSweeperFailure()
		logger.L().Error("扫描待结算断言失败", slog.Any("error", err))
		s.emitAlert(ctx, nil, xerrors.CodeOf(err), err, "scan")
		return
	}
	if len(due) == 0 {
		return
	}

	jobs := make(chan *Assertion, len(due))
	for _, a := range due {
		jobs <- a
	}
	close(jobs)

	workers := s.workerCount
	if workers > len(due) {
		workers = len(due)
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for a := range jobs {
				if ctx.Err() != nil {
					return
				}
				s.settleOne(ctx, a)
			}
		}()
	}
	wg.Wait()
}

func (s *Sweeper) settleOne(ctx context.Context, a *Assertion) {
	settled, err := s.ledger.Settle(ctx, a.ID)
	if err == nil {
		s.logDebug("巡检完成结算",
			slog.String("assertion_id", a.ID.Hex()),
			slog.String("status", string(settled.Status)),
		)
		return
	}
	if stdErrors.Is(err, ErrNotYetResolved) || stdErrors.Is(err, ErrAlreadySettled) || stdErrors.Is(err, ErrAssertionNotFound) {
		s.logDebug("跳过断言", slog.String("assertion_id", a.ID.Hex()), slog.String("reason", err.Error()))
		return
	}
	metrics.IncSweeperFailure()
	code := xerrors.CodeOf(err)
	if code == xerrors.CodeUnknown {
		code = CodeSettlement
	}
	logger.L().Error("巡检结算失败",
		slog.Any("error", err),
		slog.String("assertion_id", a.ID.Hex()),
		slog.String("market_id", a.MarketID.Hex()),
	)
	s.emitAlert(ctx, a, code, err, "settle")
}

func (s *Sweeper) logDebug(msg string, attrs ...slog.Attr) {
	if s.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		s.logger.Debug(msg, args...)
	}
}

func (s *Sweeper) emitAlert(ctx context.Context, a *Assertion, code xerrors.Code, cause error, stage string) {
	if s == nil || s.alerter == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	metadata := map[string]string{
		"stage": stage,
	}
	if cause != nil {
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		Stage:      stage,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if a != nil {
		event.AssertionID = a.ID.Hex()
		event.MarketID = a.MarketID.Hex()
	}
	if err := s.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("assertion_id", event.AssertionID),
			slog.String("stage", stage),
		)
	}
}
