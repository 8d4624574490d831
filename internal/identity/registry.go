package identity

import (
	"context"

	xerrors "OpenOracle-Chain/internal/errors"
)

// 身份注册表相关错误码。
const (
	CodeAgentNotFound xerrors.Code = "AGENT_NOT_FOUND"
)

func init() {
	xerrors.Register(CodeAgentNotFound, xerrors.Attributes{
		Message:   "agent does not exist",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// ErrAgentNotFound 表示注册表中不存在该代理身份。
var ErrAgentNotFound = xerrors.New(CodeAgentNotFound, "agent does not exist")

// Registry 定义代理身份注册表的查询接口。引擎只读不写：
// 身份的签发与注销由外部注册服务完成。
type Registry interface {
	// Exists 判断给定的代理身份令牌是否已注册。
	Exists(ctx context.Context, agentID uint64) (bool, error)
}
