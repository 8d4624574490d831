package oracle

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	xerrors "OpenOracle-Chain/internal/errors"
)

// 仲裁相关错误码。
const (
	CodeReferralNotFound xerrors.Code = "REFERRAL_NOT_FOUND"
	CodeVerdictConflict  xerrors.Code = "VERDICT_CONFLICT"
)

func init() {
	xerrors.Register(CodeReferralNotFound, xerrors.Attributes{
		Message:   "referral not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeVerdictConflict, xerrors.Attributes{
		Message:   "verdict already delivered",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

var (
	// ErrReferralNotFound 表示仲裁方未收到对应断言的争议请求。
	ErrReferralNotFound = xerrors.New(CodeReferralNotFound, "referral not found")
	// ErrVerdictConflict 表示该争议已有裁决，不允许重复提交。
	ErrVerdictConflict = xerrors.New(CodeVerdictConflict, "verdict already delivered")
)

// Referral 描述一笔被争议断言移交仲裁时携带的上下文。
type Referral struct {
	AssertionID common.Hash `json:"assertion_id"`
	MarketID    common.Hash `json:"market_id"`
	Outcome     string      `json:"outcome"`
	Asserter    uint64      `json:"asserter"`
	Disputer    uint64      `json:"disputer"`
	ReferredAt  int64       `json:"referred_at"`
}

// Verdict 是仲裁方对一笔争议的最终裁决。
type Verdict struct {
	AssertionID common.Hash `json:"assertion_id"`
	Upheld      bool        `json:"upheld"`
	DecidedAt   int64       `json:"decided_at"`
}

// Oracle 定义账本与外部仲裁方交互的接口。账本只轮询、从不阻塞：
// Verdict 在裁决未出时返回 (nil, nil)。
type Oracle interface {
	// Refer 将被争议的断言移交仲裁。
	Refer(ctx context.Context, referral Referral) error
	// Verdict 查询裁决结果。尚未裁决时返回 (nil, nil)。
	Verdict(ctx context.Context, assertionID common.Hash) (*Verdict, error)
}
