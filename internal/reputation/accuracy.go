package reputation

import (
	"context"
	"math/big"

	xerrors "OpenOracle-Chain/internal/errors"
	"OpenOracle-Chain/internal/identity"
)

// accuracyScale 是准确率的万分比基数。
const accuracyScale = 10000

// View 是声誉数据的只读视图：读取前先经身份注册表把关，
// 从未注册的代理直接报错，而已注册但无历史的代理读到零值。
type View struct {
	store    Store
	registry identity.Registry
}

// NewView 构造只读视图。
func NewView(store Store, registry identity.Registry) *View {
	return &View{store: store, registry: registry}
}

// Score 返回代理的完整分数。
func (v *View) Score(ctx context.Context, agentID uint64) (*Score, error) {
	if err := v.gate(ctx, agentID); err != nil {
		return nil, err
	}
	return v.store.Get(ctx, agentID)
}

// Accuracy 返回代理的历史准确率，单位为万分之一，向下取整。
// 无任何终态断言的代理返回 0。
func (v *View) Accuracy(ctx context.Context, agentID uint64) (uint64, error) {
	if err := v.gate(ctx, agentID); err != nil {
		return 0, err
	}
	score, err := v.store.Get(ctx, agentID)
	if err != nil {
		return 0, err
	}
	return AccuracyOf(score), nil
}

// AccuracyOf 计算分数对应的万分比准确率。整数运算保证精确：
// 1/3 得到 3333 而非 3334。
func AccuracyOf(score *Score) uint64 {
	if score == nil || score.TotalAssertions == 0 {
		return 0
	}
	numerator := new(big.Int).SetUint64(score.SuccessfulAssertions)
	numerator.Mul(numerator, big.NewInt(accuracyScale))
	numerator.Quo(numerator, new(big.Int).SetUint64(score.TotalAssertions))
	return numerator.Uint64()
}

func (v *View) gate(ctx context.Context, agentID uint64) error {
	if v == nil || v.store == nil || v.registry == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "声誉视图未初始化")
	}
	if agentID == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "代理身份不能为 0")
	}
	exists, err := v.registry.Exists(ctx, agentID)
	if err != nil {
		return err
	}
	if !exists {
		return identity.ErrAgentNotFound
	}
	return nil
}
