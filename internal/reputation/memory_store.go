package reputation

import (
	"context"
	"sync"
	"time"

	xerrors "OpenOracle-Chain/internal/errors"
)

// MemoryStore 以内存方式保存声誉分数，主要用于测试和单进程部署。
type MemoryStore struct {
	mu     sync.RWMutex
	scores map[uint64]*Score
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scores: make(map[uint64]*Score)}
}

// Get 返回代理的分数。未知代理返回零值分数。
func (m *MemoryStore) Get(_ context.Context, agentID uint64) (*Score, error) {
	if agentID == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "代理身份不能为 0")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	score, ok := m.scores[agentID]
	if !ok {
		return zeroScore(agentID), nil
	}
	return cloneScore(score), nil
}

// Apply 原子地更新四个分数字段并返回更新后的快照。
func (m *MemoryStore) Apply(_ context.Context, agentID uint64, update Update) (*Score, error) {
	if agentID == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "代理身份不能为 0")
	}
	if update.Volume == nil || update.Volume.Sign() < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "成交量必须为非负整数")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	score, ok := m.scores[agentID]
	if !ok {
		score = zeroScore(agentID)
		m.scores[agentID] = score
	}

	score.TotalAssertions++
	if update.Successful {
		score.SuccessfulAssertions++
	}
	score.TotalVolume.Add(score.TotalVolume, update.Volume)

	at := update.At
	if at == 0 {
		at = time.Now().Unix()
	}
	if at > score.LastUpdated {
		score.LastUpdated = at
	}

	return cloneScore(score), nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
