package assertion

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "OpenOracle-Chain/internal/errors"
)

// MemoryStore 以内存方式保存断言状态，主要用于测试与单机部署。
type MemoryStore struct {
	mu         sync.RWMutex
	assertions map[common.Hash]*Assertion
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{assertions: make(map[common.Hash]*Assertion)}
}

// Create 实现 Store 接口。
func (m *MemoryStore) Create(_ context.Context, a *Assertion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "assertion 不能为空")
	}
	if a.ID == (common.Hash{}) {
		return xerrors.New(xerrors.CodeInvalidArgument, "断言标识不能为空")
	}
	if a.Bond == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "保证金不能为空")
	}
	if _, ok := m.assertions[a.ID]; ok {
		return ErrAssertionConflict
	}
	now := time.Now().Unix()
	if a.CreatedAt == 0 {
		a.CreatedAt = now
	}
	if a.UpdatedAt == 0 {
		a.UpdatedAt = now
	}
	if a.Volume == nil {
		a.Volume = new(big.Int)
	}
	m.assertions[a.ID] = cloneAssertion(a)
	return nil
}

// Get 返回断言。
func (m *MemoryStore) Get(_ context.Context, id common.Hash) (*Assertion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assertions[id]
	if !ok {
		return nil, ErrAssertionNotFound
	}
	return cloneAssertion(a), nil
}

// ActiveByMarket 返回市场上仍在进行中的断言，不存在时返回 (nil, nil)。
func (m *MemoryStore) ActiveByMarket(_ context.Context, marketID common.Hash) (*Assertion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.assertions {
		if a.MarketID == marketID && !a.Status.Terminal() {
			return cloneAssertion(a), nil
		}
	}
	return nil, nil
}

// MarkDisputed 将待定断言迁移到争议状态。
func (m *MemoryStore) MarkDisputed(_ context.Context, id common.Hash, disputer uint64, counterBond *big.Int, at int64) (*Assertion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assertions[id]
	if !ok {
		return nil, ErrAssertionNotFound
	}
	if a.Status != StatusPending {
		return cloneAssertion(a), ErrNotPending
	}
	a.Disputer = disputer
	a.CounterBond = copyBig(counterBond)
	a.Status = StatusDisputed
	a.UpdatedAt = at
	return cloneAssertion(a), nil
}

// Finalize 以比较并交换的方式写入终态。断言已终结时返回当前状态与 false。
func (m *MemoryStore) Finalize(_ context.Context, id common.Hash, outcome FinalOutcome) (*Assertion, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.assertions[id]
	if !ok {
		return nil, false, ErrAssertionNotFound
	}
	if a.Status.Terminal() {
		return cloneAssertion(a), false, nil
	}
	if !outcome.Status.Terminal() {
		return nil, false, xerrors.New(xerrors.CodeInvalidArgument, "结算状态必须为终态")
	}
	payout := Payout{Winner: outcome.Payout.Winner, Amount: copyBig(outcome.Payout.Amount)}
	a.Status = outcome.Status
	a.Payout = &payout
	a.UpdatedAt = outcome.At
	return cloneAssertion(a), true, nil
}

// List 返回符合过滤条件的断言。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Assertion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Assertion, 0, len(m.assertions))
	for _, a := range m.assertions {
		if !matchesListFilters(a, opts) {
			continue
		}
		results = append(results, cloneAssertion(a))
	}

	sort.Slice(results, func(i, j int) bool {
		if opts.Order == SortByUpdatedAsc {
			if results[i].UpdatedAt == results[j].UpdatedAt {
				if results[i].CreatedAt == results[j].CreatedAt {
					return results[i].ID.Hex() < results[j].ID.Hex()
				}
				return results[i].CreatedAt < results[j].CreatedAt
			}
			return results[i].UpdatedAt < results[j].UpdatedAt
		}
		if results[i].UpdatedAt == results[j].UpdatedAt {
			if results[i].CreatedAt == results[j].CreatedAt {
				return results[i].ID.Hex() > results[j].ID.Hex()
			}
			return results[i].CreatedAt > results[j].CreatedAt
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})

	if opts.Offset >= len(results) {
		return []*Assertion{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// ListSettleable 返回所有可尝试结算的断言：挑战窗口已关闭的待定断言，
// 以及等待裁决的争议断言。按更新时间从旧到新排序。
func (m *MemoryStore) ListSettleable(_ context.Context, now int64, limit int) ([]*Assertion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 64
	}

	results := make([]*Assertion, 0, limit)
	for _, a := range m.assertions {
		switch a.Status {
		case StatusPending:
			if a.ExpiresAt > now {
				continue
			}
		case StatusDisputed:
		default:
			continue
		}
		results = append(results, cloneAssertion(a))
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].UpdatedAt == results[j].UpdatedAt {
			return results[i].ID.Hex() < results[j].ID.Hex()
		}
		return results[i].UpdatedAt < results[j].UpdatedAt
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的断言数量与更新时间范围。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (LedgerStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	stats := LedgerStats{}
	for _, a := range m.assertions {
		if !matchesListFilters(a, opts) {
			continue
		}
		stats.Total++
		switch a.Status {
		case StatusPending:
			stats.Pending++
		case StatusDisputed:
			stats.Disputed++
		case StatusResolved:
			stats.Resolved++
		case StatusRejected:
			stats.Rejected++
		}
		if a.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = a.UpdatedAt
		}
		if stats.OldestUpdatedAt == 0 || (a.UpdatedAt != 0 && a.UpdatedAt < stats.OldestUpdatedAt) {
			stats.OldestUpdatedAt = a.UpdatedAt
		}
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func matchesListFilters(a *Assertion, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if a.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.MarketID != nil && a.MarketID != *opts.MarketID {
		return false
	}
	if opts.Asserter != 0 && a.Asserter != opts.Asserter {
		return false
	}
	if opts.UpdatedGTE > 0 && a.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && a.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	if opts.HasDispute != nil && (a.Disputer != 0) != *opts.HasDispute {
		return false
	}
	return true
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
