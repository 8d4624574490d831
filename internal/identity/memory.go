package identity

import (
	"context"
	"sync"
)

// MemoryRegistry 是并发安全的内存注册表，主要用于单进程部署和测试。
type MemoryRegistry struct {
	mu     sync.RWMutex
	agents map[uint64]AgentRecord
}

// NewMemoryRegistry 创建空的内存注册表。
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{agents: make(map[uint64]AgentRecord)}
}

// Register 登记一个代理身份。重复登记会覆盖旧记录。
func (r *MemoryRegistry) Register(record AgentRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[record.ID] = record
}

// Exists 判断代理身份是否存在。
func (r *MemoryRegistry) Exists(_ context.Context, agentID uint64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.agents[agentID]
	return ok, nil
}

var _ Registry = (*MemoryRegistry)(nil)
