package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// AgentRecord 描述静态注册表文件中的一条代理身份。
type AgentRecord struct {
	ID         uint64 `json:"id"`
	Name       string `json:"name"`
	EnrolledAt int64  `json:"enrolled_at"`
}

// StaticRegistry 通过加载 JSON 文件提供只读的身份查询能力。
type StaticRegistry struct {
	agents map[uint64]AgentRecord
}

// NewStaticRegistry 基于给定的身份条目构建注册表。
func NewStaticRegistry(records []AgentRecord) *StaticRegistry {
	agents := make(map[uint64]AgentRecord, len(records))
	for _, record := range records {
		agents[record.ID] = record
	}
	return &StaticRegistry{agents: agents}
}

// LoadStaticRegistry 从 JSON 文件加载身份条目。
func LoadStaticRegistry(path string) (*StaticRegistry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("身份注册表文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析身份注册表路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取身份注册表文件失败: %w", err)
	}
	defer file.Close()

	var records []AgentRecord
	if err := json.NewDecoder(file).Decode(&records); err != nil {
		return nil, fmt.Errorf("解析身份注册表文件失败: %w", err)
	}

	return NewStaticRegistry(records), nil
}

// Exists 判断代理身份是否存在。
func (r *StaticRegistry) Exists(_ context.Context, agentID uint64) (bool, error) {
	if r == nil {
		return false, nil
	}
	_, ok := r.agents[agentID]
	return ok, nil
}

// Size 返回注册表中的身份数量。
func (r *StaticRegistry) Size() int {
	if r == nil {
		return 0
	}
	return len(r.agents)
}

// Ensure StaticRegistry 实现 Registry 接口。
var _ Registry = (*StaticRegistry)(nil)
