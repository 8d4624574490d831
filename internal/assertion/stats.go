package assertion

// LedgerStats 聚合了断言状态的统计信息，常用于仪表盘或健康检查。
type LedgerStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Disputed        int   `json:"disputed"`
	Resolved        int   `json:"resolved"`
	Rejected        int   `json:"rejected"`
	OldestUpdatedAt int64 `json:"oldest_updated_at,omitempty"`
	NewestUpdatedAt int64 `json:"newest_updated_at,omitempty"`
}
