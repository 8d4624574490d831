package market

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryProvider 是可变的内存市场目录，主要用于测试和本地演示。
type MemoryProvider struct {
	mu      sync.RWMutex
	markets map[common.Hash]*Definition
}

// NewMemoryProvider 创建空的内存目录。
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{markets: make(map[common.Hash]*Definition)}
}

// Put 写入一个市场定义，缺省字段会被补齐。
func (p *MemoryProvider) Put(def Definition) {
	def.normalize()
	p.mu.Lock()
	defer p.mu.Unlock()
	p.markets[def.ID] = &def
}

// Definition 返回市场定义的拷贝。
func (p *MemoryProvider) Definition(_ context.Context, id common.Hash) (*Definition, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	def, ok := p.markets[id]
	if !ok {
		return nil, ErrMarketNotFound
	}
	return def.clone(), nil
}

var _ Provider = (*MemoryProvider)(nil)
