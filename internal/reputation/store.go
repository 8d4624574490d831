package reputation

import "context"

// Store 抽象了声誉分数的持久化接口。Get 对未知代理返回零值分数，
// 仅在存储故障时报错；Apply 将一次更新原子地落到四个字段上。
type Store interface {
	Get(ctx context.Context, agentID uint64) (*Score, error)
	Apply(ctx context.Context, agentID uint64, update Update) (*Score, error)
	Close() error
}
