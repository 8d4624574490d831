package assertion

import (
	"context"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	xerrors "OpenOracle-Chain/internal/errors"
	"OpenOracle-Chain/internal/events"
	"OpenOracle-Chain/internal/identity"
	"OpenOracle-Chain/internal/market"
	"OpenOracle-Chain/internal/observability/alerting"
	"OpenOracle-Chain/internal/observability/metrics"
	"OpenOracle-Chain/internal/oracle"
	"OpenOracle-Chain/internal/reputation"
	"OpenOracle-Chain/pkg/logger"
)

// OpenRequest 描述开启一笔断言所需的参数。
type OpenRequest struct {
	MarketID common.Hash `json:"market_id"`
	Outcome  string      `json:"outcome"`
	Asserter uint64      `json:"asserter"`
	Bond     *big.Int    `json:"bond"`
}

// DisputeRequest 描述质疑一笔断言所需的参数。
type DisputeRequest struct {
	AssertionID common.Hash `json:"assertion_id"`
	Disputer    uint64      `json:"disputer"`
	CounterBond *big.Int    `json:"counter_bond"`
}

// Ledger 是断言账本的核心：开仓、质疑与结算都经由它完成。
// 同一市场上的写操作以市场为粒度串行化，跨市场互不阻塞。
type Ledger struct {
	self     common.Address
	store    Store
	markets  market.Provider
	agents   identity.Registry
	oracle   oracle.Oracle
	recorder *reputation.Recorder
	producer events.Producer
	alerter  alerting.Dispatcher
	logger   *slog.Logger
	now      func() time.Time
	locks    marketLocks
}

// LedgerOption 定义可选配置。
type LedgerOption func(*Ledger)

// WithLedgerLogger 指定调试日志输出。
func WithLedgerLogger(log *slog.Logger) LedgerOption {
	return func(l *Ledger) {
		l.logger = log
	}
}

// WithLedgerEvents 配置事件发布器。
func WithLedgerEvents(producer events.Producer) LedgerOption {
	return func(l *Ledger) {
		l.producer = producer
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) LedgerOption {
	return func(l *Ledger) {
		l.alerter = dispatcher
	}
}

// WithClock 替换账本时钟，主要用于测试。
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLedger 构造断言账本。self 是账本调用信誉记录器时使用的身份，
// 必须与记录器当前授权的地址一致。
func NewLedger(self common.Address, store Store, markets market.Provider, agents identity.Registry, orc oracle.Oracle, recorder *reputation.Recorder, opts ...LedgerOption) (*Ledger, error) {
	if self == (common.Address{}) {
		return nil, reputation.ErrZeroAddress
	}
	if store == nil || markets == nil || agents == nil || orc == nil || recorder == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "断言账本依赖不完整")
	}
	l := &Ledger{
		self:     self,
		store:    store,
		markets:  markets,
		agents:   agents,
		oracle:   orc,
		recorder: recorder,
		now:      time.Now,
		locks:    marketLocks{locks: make(map[common.Hash]*sync.Mutex)},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l, nil
}

// Open 在市场上开启一笔新断言并托管保证金。
func (l *Ledger) Open(ctx context.Context, req OpenRequest) (*Assertion, error) {
	if l == nil || l.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "断言账本未初始化")
	}
	if req.Asserter == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "代理身份不能为 0")
	}
	if req.Bond == nil || req.Bond.Sign() <= 0 {
		return nil, ErrInsufficientBond
	}
	outcome := strings.TrimSpace(req.Outcome)
	if outcome == "" {
		return nil, ErrInvalidOutcome
	}

	def, err := l.markets.Definition(ctx, req.MarketID)
	if err != nil {
		return nil, err
	}
	exists, err := l.agents.Exists(ctx, req.Asserter)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, identity.ErrAgentNotFound
	}
	if !def.HasOutcome(outcome) {
		return nil, ErrInvalidOutcome
	}
	if req.Bond.Cmp(def.MinimumBond) < 0 {
		return nil, ErrInsufficientBond
	}

	unlock := l.locks.acquire(req.MarketID)
	defer unlock()

	active, err := l.store.ActiveByMarket(ctx, req.MarketID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, ErrMarketBusy
	}

	now := l.now().Unix()
	a := &Assertion{
		ID:        DeriveID(req.MarketID, req.Asserter, uuid.NewString()),
		MarketID:  req.MarketID,
		Outcome:   outcome,
		Asserter:  req.Asserter,
		Bond:      new(big.Int).Set(req.Bond),
		Volume:    new(big.Int).Set(def.Volume),
		Status:    StatusPending,
		ExpiresAt: now + int64(def.Liveness/time.Second),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.store.Create(ctx, a); err != nil {
		return nil, err
	}

	metrics.IncAssertionOpened()
	logger.Audit().Info("断言已开启",
		slog.String("assertion_id", a.ID.Hex()),
		slog.String("market_id", a.MarketID.Hex()),
		slog.Uint64("asserter", a.Asserter),
		slog.String("outcome", a.Outcome),
		slog.String("bond_wei", a.Bond.String()),
		slog.Int64("expires_at", a.ExpiresAt),
	)
	l.publish(ctx, events.New(events.TypeAssertionOpened, map[string]any{
		"assertion_id": a.ID.Hex(),
		"market_id":    a.MarketID.Hex(),
		"asserter":     a.Asserter,
		"outcome":      a.Outcome,
		"bond_wei":     a.Bond.String(),
		"expires_at":   a.ExpiresAt,
	}))
	return cloneAssertion(a), nil
}

// Dispute 在挑战窗口内质疑一笔待定断言。对抗保证金必须与原始保证金相等。
func (l *Ledger) Dispute(ctx context.Context, req DisputeRequest) (*Assertion, error) {
	if l == nil || l.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "断言账本未初始化")
	}
	if req.Disputer == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "代理身份不能为 0")
	}
	if req.CounterBond == nil {
		return nil, ErrBondMismatch
	}
	exists, err := l.agents.Exists(ctx, req.Disputer)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, identity.ErrAgentNotFound
	}

	current, err := l.store.Get(ctx, req.AssertionID)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.acquire(current.MarketID)
	defer unlock()

	// 拿到市场锁后重读，避免基于过期快照做状态判断。
	current, err = l.store.Get(ctx, req.AssertionID)
	if err != nil {
		return nil, err
	}
	if current.Status != StatusPending {
		return current, ErrNotPending
	}
	now := l.now().Unix()
	if now >= current.ExpiresAt {
		return current, ErrNotPending
	}
	if req.CounterBond.Cmp(current.Bond) != 0 {
		return current, ErrBondMismatch
	}

	// 先登记仲裁请求再改状态。Refer 幂等，孤儿登记无副作用；
	// 反过来一旦争议状态落库而仲裁方不知情，裁决将永远不会出现。
	referral := oracle.Referral{
		AssertionID: current.ID,
		MarketID:    current.MarketID,
		Outcome:     current.Outcome,
		Asserter:    current.Asserter,
		Disputer:    req.Disputer,
		ReferredAt:  now,
	}
	if err := l.oracle.Refer(ctx, referral); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeOracleFailure, err, "提交仲裁请求失败")
	}

	updated, err := l.store.MarkDisputed(ctx, req.AssertionID, req.Disputer, req.CounterBond, now)
	if err != nil {
		return updated, err
	}

	metrics.IncAssertionDisputed()
	logger.Audit().Info("断言被质疑",
		slog.String("assertion_id", updated.ID.Hex()),
		slog.String("market_id", updated.MarketID.Hex()),
		slog.Uint64("disputer", updated.Disputer),
		slog.String("counter_bond_wei", updated.CounterBond.String()),
	)
	l.publish(ctx, events.New(events.TypeAssertionDisputed, map[string]any{
		"assertion_id":     updated.ID.Hex(),
		"market_id":        updated.MarketID.Hex(),
		"disputer":         updated.Disputer,
		"counter_bond_wei": updated.CounterBond.String(),
	}))
	return updated, nil
}

// Settle 尝试将断言推入终态并派发保证金池，随后同步断言方的信誉。
// 窗口未到或裁决未出时返回 ErrNotYetResolved；重复结算返回当前
// 终态与 ErrAlreadySettled，且不会再次记账。
func (l *Ledger) Settle(ctx context.Context, id common.Hash) (*Assertion, error) {
	if l == nil || l.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "断言账本未初始化")
	}

	current, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	unlock := l.locks.acquire(current.MarketID)
	defer unlock()

	current, err = l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return current, ErrAlreadySettled
	}

	now := l.now().Unix()
	var outcome FinalOutcome
	var successful bool
	switch current.Status {
	case StatusPending:
		if now < current.ExpiresAt {
			l.logDebug("挑战窗口尚未关闭", slog.String("assertion_id", id.Hex()), slog.Int64("expires_at", current.ExpiresAt))
			return current, ErrNotYetResolved
		}
		// 窗口期满无人质疑，断言成立，保证金原路退回。
		outcome = FinalOutcome{
			Status: StatusResolved,
			Payout: Payout{Winner: current.Asserter, Amount: new(big.Int).Set(current.Bond)},
			At:     now,
		}
		successful = true
	case StatusDisputed:
		verdict, err := l.oracle.Verdict(ctx, id)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeOracleFailure, err, "查询仲裁结果失败")
		}
		if verdict == nil {
			l.logDebug("裁决尚未给出", slog.String("assertion_id", id.Hex()))
			return current, ErrNotYetResolved
		}
		pool := new(big.Int).Add(current.Bond, current.CounterBond)
		if verdict.Upheld {
			outcome = FinalOutcome{
				Status: StatusResolved,
				Payout: Payout{Winner: current.Asserter, Amount: pool},
				At:     now,
			}
			successful = true
		} else {
			outcome = FinalOutcome{
				Status: StatusRejected,
				Payout: Payout{Winner: current.Disputer, Amount: pool},
				At:     now,
			}
		}
	default:
		return current, ErrAlreadySettled
	}

	settled, won, err := l.store.Finalize(ctx, id, outcome)
	if err != nil {
		return nil, err
	}
	if !won {
		return settled, ErrAlreadySettled
	}

	metrics.ObserveSettlement(string(settled.Status))
	logger.Audit().Info("断言已结算",
		slog.String("assertion_id", settled.ID.Hex()),
		slog.String("market_id", settled.MarketID.Hex()),
		slog.String("status", string(settled.Status)),
		slog.Bool("successful", successful),
		slog.Uint64("winner", settled.Payout.Winner),
		slog.String("amount_wei", settled.Payout.Amount.String()),
	)
	l.publish(ctx, events.New(events.TypeAssertionSettled, map[string]any{
		"assertion_id": settled.ID.Hex(),
		"market_id":    settled.MarketID.Hex(),
		"status":       string(settled.Status),
		"successful":   successful,
		"winner":       settled.Payout.Winner,
		"amount_wei":   settled.Payout.Amount.String(),
		"volume_wei":   settled.Volume.String(),
	}))

	// Finalize 的比较并交换已保证记账至多发生一次；
	// 此处失败意味着信誉滞后于账本，需要人工核对审计日志。
	if _, err := l.recorder.Record(ctx, l.self, settled.Asserter, settled.MarketID, successful, settled.Volume); err != nil {
		wrapped := xerrors.Wrap(CodeReputationSync, err, "结算后同步信誉失败")
		logger.L().Error("结算后同步信誉失败",
			slog.Any("error", wrapped),
			slog.String("assertion_id", settled.ID.Hex()),
			slog.Uint64("asserter", settled.Asserter),
		)
		l.emitAlert(ctx, settled, CodeReputationSync, wrapped, "record")
		return settled, wrapped
	}
	metrics.IncReputationUpdate()
	return settled, nil
}

// Get 返回指定断言的状态。
func (l *Ledger) Get(ctx context.Context, id common.Hash) (*Assertion, error) {
	if l == nil || l.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "断言存储未初始化")
	}
	return l.store.Get(ctx, id)
}

// List 返回符合过滤条件的断言列表。
func (l *Ledger) List(ctx context.Context, opts ...ListOption) ([]*Assertion, error) {
	if l == nil || l.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "断言存储未初始化")
	}
	options := buildListOptions(opts)
	return l.store.List(ctx, options)
}

// Stats 返回符合过滤条件的断言统计信息。
func (l *Ledger) Stats(ctx context.Context, opts ...ListOption) (LedgerStats, error) {
	if l == nil || l.store == nil {
		return LedgerStats{}, xerrors.New(xerrors.CodeInitializationFailure, "断言存储未初始化")
	}
	options := buildListOptions(opts)
	return l.store.Stats(ctx, options)
}

// Close 释放资源。
func (l *Ledger) Close() error {
	if l.store != nil {
		if err := l.store.Close(); err != nil {
			return err
		}
	}
	if l.producer != nil {
		return l.producer.Close()
	}
	return nil
}

func (l *Ledger) publish(ctx context.Context, event events.Event) {
	if l.producer == nil {
		return
	}
	if err := l.producer.Publish(ctx, event); err != nil {
		logger.L().Warn("发布账本事件失败",
			slog.Any("error", err),
			slog.String("event_type", string(event.Type)),
		)
	}
}

func (l *Ledger) logDebug(msg string, attrs ...slog.Attr) {
	if l.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		l.logger.Debug(msg, args...)
	}
}

func (l *Ledger) emitAlert(ctx context.Context, a *Assertion, code xerrors.Code, cause error, stage string) {
	if l == nil || l.alerter == nil {
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
	if err := l.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("assertion_id", event.AssertionID),
			slog.String("stage", stage),
		)
	}
}

// marketLocks 以市场为粒度串行化账本写操作。
type marketLocks struct {
	mu    sync.Mutex
	locks map[common.Hash]*sync.Mutex
}

func (m *marketLocks) acquire(id common.Hash) func() {
	m.mu.Lock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	m.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}
