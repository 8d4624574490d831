package assertion

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FinalOutcome 描述一次终态迁移要写入的结算结果。
type FinalOutcome struct {
	Status Status
	Payout Payout
	At     int64
}

// Store 抽象了断言账本的持久化接口。
//
// Finalize 采用比较并交换语义：仅当断言仍处于非终态时写入结算结果，
// 返回值中的布尔量表示本次调用是否赢得了这次迁移。
type Store interface {
	Create(ctx context.Context, a *Assertion) error
	Get(ctx context.Context, id common.Hash) (*Assertion, error)
	ActiveByMarket(ctx context.Context, marketID common.Hash) (*Assertion, error)
	MarkDisputed(ctx context.Context, id common.Hash, disputer uint64, counterBond *big.Int, at int64) (*Assertion, error)
	Finalize(ctx context.Context, id common.Hash, outcome FinalOutcome) (*Assertion, bool, error)
	List(ctx context.Context, opts ListOptions) ([]*Assertion, error)
	ListSettleable(ctx context.Context, now int64, limit int) ([]*Assertion, error)
	Stats(ctx context.Context, opts ListOptions) (LedgerStats, error)
	Close() error
}
