package reputation

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "OpenOracle-Chain/internal/errors"
	"OpenOracle-Chain/internal/events"
	"OpenOracle-Chain/pkg/logger"
)

// Recorder 是声誉分数的唯一写入口。只有持有当前记录员地址的调用方
// 才能入账或轮换权限；其余调用一律拒绝且不产生任何状态变化。
type Recorder struct {
	mu        sync.RWMutex
	authority common.Address

	store    Store
	producer events.Producer
	log      *slog.Logger
}

// RecorderOption 定义可选配置。
type RecorderOption func(*Recorder)

// WithRecorderEvents 配置事件发布器。
func WithRecorderEvents(producer events.Producer) RecorderOption {
	return func(r *Recorder) {
		r.producer = producer
	}
}

// WithRecorderLogger 指定日志输出。
func WithRecorderLogger(log *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		r.log = log
	}
}

// NewRecorder 构造记录员。初始记录员地址不能为零地址。
func NewRecorder(authority common.Address, store Store, opts ...RecorderOption) (*Recorder, error) {
	if authority == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	if store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "声誉存储未初始化")
	}
	r := &Recorder{authority: authority, store: store}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.log == nil {
		r.log = logger.Named("reputation.recorder")
	}
	return r, nil
}

// Authority 返回当前记录员地址。
func (r *Recorder) Authority() common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.authority
}

// Record 为一笔终态断言入账：总数加一、成功数按结果加一、
// 成交量累加、时间戳推进，四个字段一次落库。
func (r *Recorder) Record(ctx context.Context, caller common.Address, agentID uint64, marketID common.Hash, successful bool, volume *big.Int) (*Score, error) {
	if !r.isAuthority(caller) {
		logger.Audit().Warn("声誉记录被拒绝",
			slog.String("caller", caller.Hex()),
			slog.Uint64("agent_id", agentID),
			slog.String("market_id", marketID.Hex()),
		)
		return nil, ErrOnlyRecorder
	}
	if agentID == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "代理身份不能为 0")
	}
	if volume == nil || volume.Sign() < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "成交量必须为非负整数")
	}

	score, err := r.store.Apply(ctx, agentID, Update{
		Successful: successful,
		Volume:     new(big.Int).Set(volume),
		At:         time.Now().Unix(),
	})
	if err != nil {
		return nil, err
	}

	logger.Audit().Info("声誉记录已入账",
		slog.Uint64("agent_id", agentID),
		slog.String("market_id", marketID.Hex()),
		slog.Bool("successful", successful),
		slog.String("volume", volume.String()),
		slog.Uint64("total_assertions", score.TotalAssertions),
		slog.Uint64("successful_assertions", score.SuccessfulAssertions),
	)
	r.publish(ctx, events.New(events.TypeReputationRecorded, map[string]any{
		"agent_id":              agentID,
		"market_id":             marketID.Hex(),
		"successful":            successful,
		"volume":                volume.String(),
		"total_assertions":      score.TotalAssertions,
		"successful_assertions": score.SuccessfulAssertions,
	}))
	return score, nil
}

// Rotate 将记录员权限移交给新地址。只有当前记录员可以发起，
// 且新地址不能为零地址。
func (r *Recorder) Rotate(ctx context.Context, caller, next common.Address) error {
	if next == (common.Address{}) {
		return ErrZeroAddress
	}

	r.mu.Lock()
	if caller != r.authority {
		r.mu.Unlock()
		logger.Audit().Warn("记录员轮换被拒绝",
			slog.String("caller", caller.Hex()),
			slog.String("next", next.Hex()),
		)
		return ErrOnlyRecorder
	}
	previous := r.authority
	r.authority = next
	r.mu.Unlock()

	logger.Audit().Info("记录员身份已轮换",
		slog.String("previous", previous.Hex()),
		slog.String("next", next.Hex()),
	)
	r.publish(ctx, events.New(events.TypeRecorderRotated, map[string]any{
		"previous": previous.Hex(),
		"next":     next.Hex(),
	}))
	return nil
}

func (r *Recorder) isAuthority(caller common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return caller == r.authority
}

// publish 发布事件。事件流只用于链下观测，失败不回滚业务状态。
func (r *Recorder) publish(ctx context.Context, event events.Event) {
	if r.producer == nil {
		return
	}
	if err := r.producer.Publish(ctx, event); err != nil {
		r.log.Warn("发布声誉事件失败",
			slog.Any("error", err),
			slog.String("event_type", string(event.Type)),
		)
	}
}
