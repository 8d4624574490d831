package oracle

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Manual 是进程内的人工仲裁台：争议通过 Refer 登记，
// 管理端经由 API 调用 Submit 送达裁决，账本轮询 Verdict 取回结果。
type Manual struct {
	mu        sync.RWMutex
	referrals map[common.Hash]Referral
	verdicts  map[common.Hash]*Verdict
	now       func() time.Time
}

// NewManual 创建人工仲裁台。
func NewManual() *Manual {
	return &Manual{
		referrals: make(map[common.Hash]Referral),
		verdicts:  make(map[common.Hash]*Verdict),
		now:       time.Now,
	}
}

// Refer 登记一笔争议。重复登记同一断言是幂等的。
func (m *Manual) Refer(_ context.Context, referral Referral) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.referrals[referral.AssertionID]; ok {
		return nil
	}
	if referral.ReferredAt == 0 {
		referral.ReferredAt = m.now().Unix()
	}
	m.referrals[referral.AssertionID] = referral
	return nil
}

// Verdict 查询裁决。未裁决返回 (nil, nil)。
func (m *Manual) Verdict(_ context.Context, assertionID common.Hash) (*Verdict, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	verdict, ok := m.verdicts[assertionID]
	if !ok {
		return nil, nil
	}
	clone := *verdict
	return &clone, nil
}

// Submit 送达一笔裁决。断言未经移交返回 ErrReferralNotFound，
// 已有裁决返回 ErrVerdictConflict。
func (m *Manual) Submit(assertionID common.Hash, upheld bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.referrals[assertionID]; !ok {
		return ErrReferralNotFound
	}
	if _, ok := m.verdicts[assertionID]; ok {
		return ErrVerdictConflict
	}
	m.verdicts[assertionID] = &Verdict{
		AssertionID: assertionID,
		Upheld:      upheld,
		DecidedAt:   m.now().Unix(),
	}
	return nil
}

// Pending 返回尚未裁决的争议，按移交时间排序。
func (m *Manual) Pending() []Referral {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pending := make([]Referral, 0, len(m.referrals))
	for key, referral := range m.referrals {
		if _, decided := m.verdicts[key]; decided {
			continue
		}
		pending = append(pending, referral)
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].ReferredAt < pending[j].ReferredAt
	})
	return pending
}

// Ensure Manual 实现 Oracle 接口。
var _ Oracle = (*Manual)(nil)
