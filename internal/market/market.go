package market

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"

	xerrors "OpenOracle-Chain/internal/errors"
)

// 市场目录相关错误码。
const (
	CodeMarketNotFound xerrors.Code = "MARKET_NOT_FOUND"
)

func init() {
	xerrors.Register(CodeMarketNotFound, xerrors.Attributes{
		Message:   "market not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
}

// ErrMarketNotFound 表示目录中不存在该市场。
var ErrMarketNotFound = xerrors.New(CodeMarketNotFound, "market not found")

// 未显式配置时采用的默认参数。
var (
	defaultOutcomes = []string{"Yes", "No", "Unresolvable"}
)

const (
	defaultLiveness = 2 * time.Hour
)

// DefaultMinimumBond 返回默认的最小保证金（0.1 ether）。
func DefaultMinimumBond() *big.Int {
	return big.NewInt(params.Ether / 10)
}

// Definition 描述一个可被断言的市场：结果集合、保证金门槛、
// 挑战窗口时长以及用于声誉记账的成交量快照。
type Definition struct {
	ID          common.Hash
	Description string
	Outcomes    []string
	MinimumBond *big.Int
	Liveness    time.Duration
	Volume      *big.Int
}

// HasOutcome 判断给定结果是否属于该市场声明的结果集合。
func (d *Definition) HasOutcome(outcome string) bool {
	if d == nil {
		return false
	}
	for _, candidate := range d.Outcomes {
		if candidate == outcome {
			return true
		}
	}
	return false
}

// clone 返回定义的深拷贝，避免调用方修改目录内部状态。
func (d *Definition) clone() *Definition {
	if d == nil {
		return nil
	}
	copied := &Definition{
		ID:          d.ID,
		Description: d.Description,
		Outcomes:    append([]string(nil), d.Outcomes...),
		Liveness:    d.Liveness,
	}
	if d.MinimumBond != nil {
		copied.MinimumBond = new(big.Int).Set(d.MinimumBond)
	}
	if d.Volume != nil {
		copied.Volume = new(big.Int).Set(d.Volume)
	}
	return copied
}

// normalize 补齐缺省字段。
func (d *Definition) normalize() {
	if len(d.Outcomes) == 0 {
		d.Outcomes = append([]string(nil), defaultOutcomes...)
	}
	if d.MinimumBond == nil || d.MinimumBond.Sign() <= 0 {
		d.MinimumBond = DefaultMinimumBond()
	}
	if d.Liveness <= 0 {
		d.Liveness = defaultLiveness
	}
	if d.Volume == nil {
		d.Volume = new(big.Int)
	}
}

// Provider 定义账本在开仓时查询市场定义的接口。
type Provider interface {
	// Definition 返回市场定义。市场不存在时返回 ErrMarketNotFound。
	Definition(ctx context.Context, id common.Hash) (*Definition, error)
}
