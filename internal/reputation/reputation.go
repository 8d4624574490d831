package reputation

import (
	"math/big"

	xerrors "OpenOracle-Chain/internal/errors"
)

// Score 聚合一个代理的历史断言表现。四个字段在任何读取中
// 都来自同一次原子更新，不会出现撕裂。
type Score struct {
	AgentID              uint64   `json:"agent_id"`
	TotalAssertions      uint64   `json:"total_assertions"`
	SuccessfulAssertions uint64   `json:"successful_assertions"`
	TotalVolume          *big.Int `json:"total_volume"`
	LastUpdated          int64    `json:"last_updated"`
}

// Update 描述一次终态断言带来的分数变更。
type Update struct {
	Successful bool
	Volume     *big.Int
	At         int64
}

var (
	// ErrOnlyRecorder 表示调用方不持有记录员权限。
	ErrOnlyRecorder = xerrors.New(CodeOnlyRecorder, "caller is not the recorder")
	// ErrZeroAddress 表示记录员地址不能为零地址。
	ErrZeroAddress = xerrors.New(CodeZeroAddress, "recorder cannot be zero address")
)

const (
	CodeOnlyRecorder xerrors.Code = "ONLY_RECORDER"
	CodeZeroAddress  xerrors.Code = "ZERO_ADDRESS"
)

func init() {
	xerrors.Register(CodeOnlyRecorder, xerrors.Attributes{
		Message:   "caller is not the recorder",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeZeroAddress, xerrors.Attributes{
		Message:   "recorder cannot be zero address",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// zeroScore 返回代理的零值分数。缺席与零分不可区分。
func zeroScore(agentID uint64) *Score {
	return &Score{
		AgentID:     agentID,
		TotalVolume: new(big.Int),
	}
}

// cloneScore 深拷贝分数，避免调用方观察到内部状态的后续变更。
func cloneScore(score *Score) *Score {
	if score == nil {
		return nil
	}
	clone := *score
	if score.TotalVolume != nil {
		clone.TotalVolume = new(big.Int).Set(score.TotalVolume)
	} else {
		clone.TotalVolume = new(big.Int)
	}
	return &clone
}
