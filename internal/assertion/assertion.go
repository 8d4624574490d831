package assertion

import (
	"encoding/binary"
	stdErrors "errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "OpenOracle-Chain/internal/errors"
)

// Status 表示断言在生命周期中的状态。
type Status string

const (
	StatusPending  Status = "pending"
	StatusDisputed Status = "disputed"
	StatusResolved Status = "resolved"
	StatusRejected Status = "rejected"
)

// Payout 记录结算时保证金池的归属。
type Payout struct {
	Winner uint64   `json:"winner"`
	Amount *big.Int `json:"amount"`
}

// Assertion 描述一笔带保证金的市场断言。
// Disputer 为 0 表示尚无质疑方；Payout 仅在终态下存在。
type Assertion struct {
	ID          common.Hash `json:"id"`
	MarketID    common.Hash `json:"market_id"`
	Outcome     string      `json:"outcome"`
	Asserter    uint64      `json:"asserter"`
	Disputer    uint64      `json:"disputer,omitempty"`
	Bond        *big.Int    `json:"bond"`
	CounterBond *big.Int    `json:"counter_bond,omitempty"`
	Volume      *big.Int    `json:"volume"`
	Status      Status      `json:"status"`
	ExpiresAt   int64       `json:"expires_at"`
	Payout      *Payout     `json:"payout,omitempty"`
	CreatedAt   int64       `json:"created_at"`
	UpdatedAt   int64       `json:"updated_at"`
}

var (
	// ErrAssertionNotFound 表示指定的断言不存在。
	ErrAssertionNotFound = xerrors.New(CodeAssertionNotFound, "assertion not found")
	// ErrAssertionConflict 表示断言标识已被占用。
	ErrAssertionConflict = xerrors.New(CodeAssertionConflict, "assertion conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrMarketBusy 表示市场上已有未终结的断言。
	ErrMarketBusy = xerrors.New(CodeMarketBusy, "market already has an active assertion", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrNotPending 表示断言已离开待定状态，无法质疑。
	ErrNotPending = xerrors.New(CodeNotPending, "assertion is not pending", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrAlreadySettled 表示断言已经终结。
	ErrAlreadySettled = xerrors.New(CodeAlreadySettled, "assertion already settled", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrInvalidOutcome 表示断言结果不在市场声明的结果集合内。
	ErrInvalidOutcome = xerrors.New(CodeInvalidOutcome, "outcome not allowed for market", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrInsufficientBond 表示保证金低于市场门槛。
	ErrInsufficientBond = xerrors.New(CodeInsufficientBond, "bond below market minimum", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrBondMismatch 表示对抗保证金与原始保证金不相等。
	ErrBondMismatch = xerrors.New(CodeBondMismatch, "counter bond must equal bond", xerrors.WithSeverity(xerrors.SeverityInfo))
	// ErrNotYetResolved 表示裁决条件尚未满足，稍后重试即可。
	ErrNotYetResolved = xerrors.New(CodeNotYetResolved, "assertion not yet resolvable", xerrors.WithRetryable(true))
)

const (
	CodeAssertionNotFound xerrors.Code = "ASSERTION_NOT_FOUND"
	CodeAssertionConflict xerrors.Code = "ASSERTION_CONFLICT"
	CodeMarketBusy        xerrors.Code = "MARKET_BUSY"
	CodeNotPending        xerrors.Code = "ASSERTION_NOT_PENDING"
	CodeAlreadySettled    xerrors.Code = "ASSERTION_ALREADY_SETTLED"
	CodeInvalidOutcome    xerrors.Code = "INVALID_OUTCOME"
	CodeInsufficientBond  xerrors.Code = "INSUFFICIENT_BOND"
	CodeBondMismatch      xerrors.Code = "BOND_MISMATCH"
	CodeNotYetResolved    xerrors.Code = "NOT_YET_RESOLVED"
	CodeReputationSync    xerrors.Code = "REPUTATION_SYNC_FAILED"
	CodeSettlement        xerrors.Code = "SETTLEMENT_FAILED"
)

func init() {
	xerrors.Register(CodeAssertionNotFound, xerrors.Attributes{
		Message:   "assertion not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeAssertionConflict, xerrors.Attributes{
		Message:   "assertion conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeMarketBusy, xerrors.Attributes{
		Message:   "market already has an active assertion",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeNotPending, xerrors.Attributes{
		Message:   "assertion is not pending",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeAlreadySettled, xerrors.Attributes{
		Message:   "assertion already settled",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeInvalidOutcome, xerrors.Attributes{
		Message:   "outcome not allowed for market",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeInsufficientBond, xerrors.Attributes{
		Message:   "bond below market minimum",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeBondMismatch, xerrors.Attributes{
		Message:   "counter bond must equal bond",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeNotYetResolved, xerrors.Attributes{
		Message:   "assertion not yet resolvable",
		Severity:  xerrors.SeverityInfo,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeReputationSync, xerrors.Attributes{
		Message:   "failed to sync reputation after settlement",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeSettlement, xerrors.Attributes{
		Message:   "settlement failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}

// IsAssertionError 判断错误是否为指定的账本错误。
func IsAssertionError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	if stdErrors.Is(err, ErrAssertionNotFound) {
		return target == CodeAssertionNotFound
	}
	if stdErrors.Is(err, ErrMarketBusy) {
		return target == CodeMarketBusy
	}
	if stdErrors.Is(err, ErrNotPending) {
		return target == CodeNotPending
	}
	if stdErrors.Is(err, ErrAlreadySettled) {
		return target == CodeAlreadySettled
	}
	if stdErrors.Is(err, ErrNotYetResolved) {
		return target == CodeNotYetResolved
	}
	return false
}

// Terminal 判断状态是否为终态。
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusRejected
}

// IsValidStatus 检查给定的断言状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusDisputed, StatusResolved, StatusRejected:
		return true
	default:
		return false
	}
}

// DeriveID 由市场、断言方与一次性随机串计算断言标识。
func DeriveID(marketID common.Hash, asserter uint64, nonce string) common.Hash {
	var agent [8]byte
	binary.BigEndian.PutUint64(agent[:], asserter)
	return crypto.Keccak256Hash(marketID.Bytes(), agent[:], []byte(nonce))
}

func copyBig(value *big.Int) *big.Int {
	if value == nil {
		return nil
	}
	return new(big.Int).Set(value)
}

func cloneAssertion(a *Assertion) *Assertion {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Bond = copyBig(a.Bond)
	clone.CounterBond = copyBig(a.CounterBond)
	clone.Volume = copyBig(a.Volume)
	if a.Payout != nil {
		payout := Payout{Winner: a.Payout.Winner, Amount: copyBig(a.Payout.Amount)}
		clone.Payout = &payout
	}
	return &clone
}
