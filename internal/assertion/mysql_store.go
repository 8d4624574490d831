package assertion

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-sql-driver/mysql"

	xerrors "OpenOracle-Chain/internal/errors"
	storage "OpenOracle-Chain/internal/storage/mysql"
)

// MySQLStore 使用 MySQL 持久化断言账本。wei 数值以十进制字符串
// 存放在 VARCHAR(78) 列中，状态迁移依赖带条件的 UPDATE 保证原子性。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 建立连接池并应用嵌入式迁移。
func NewMySQLStore(ctx context.Context, cfg storage.Config) (*MySQLStore, error) {
	db, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化断言存储失败")
	}
	if err := storage.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "应用断言存储迁移失败")
	}
	return &MySQLStore{db: db}, nil
}

const assertionColumns = `id, market_id, outcome, asserter, disputer, bond, counter_bond, volume,
        status, expires_at, payout_winner, payout_amount, created_at, updated_at`

// Create 插入新的断言记录。
func (s *MySQLStore) Create(ctx context.Context, a *Assertion) error {
	if a == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "assertion 不能为空")
	}
	if a.ID == (common.Hash{}) {
		return xerrors.New(xerrors.CodeInvalidArgument, "断言标识不能为空")
	}
	if a.Bond == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "保证金不能为空")
	}

	now := time.Now().Unix()
	if a.CreatedAt == 0 {
		a.CreatedAt = now
	}
	if a.UpdatedAt == 0 {
		a.UpdatedAt = now
	}
	volume := a.Volume
	if volume == nil {
		volume = new(big.Int)
	}

	const stmt = `INSERT INTO assertions
        (id, market_id, outcome, asserter, disputer, bond, counter_bond, volume, status, expires_at, payout_winner, payout_amount, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, '', ?, ?)`

	_, err := s.db.ExecContext(ctx, stmt,
		a.ID.Hex(),
		a.MarketID.Hex(),
		a.Outcome,
		a.Asserter,
		a.Disputer,
		a.Bond.String(),
		formatWei(a.CounterBond),
		volume.String(),
		string(a.Status),
		a.ExpiresAt,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrAssertionConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入断言失败")
	}
	return nil
}

// Get 查询指定断言。
func (s *MySQLStore) Get(ctx context.Context, id common.Hash) (*Assertion, error) {
	stmt := `SELECT ` + assertionColumns + ` FROM assertions WHERE id = ?`

	row := s.db.QueryRowContext(ctx, stmt, id.Hex())
	a, err := scanAssertion(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrAssertionNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询断言失败")
	}
	return a, nil
}

// ActiveByMarket 返回市场上仍在进行中的断言，不存在时返回 (nil, nil)。
func (s *MySQLStore) ActiveByMarket(ctx context.Context, marketID common.Hash) (*Assertion, error) {
	stmt := `SELECT ` + assertionColumns + ` FROM assertions
        WHERE market_id = ? AND status IN (?, ?) ORDER BY created_at DESC LIMIT 1`

	row := s.db.QueryRowContext(ctx, stmt, marketID.Hex(), string(StatusPending), string(StatusDisputed))
	a, err := scanAssertion(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询活跃断言失败")
	}
	return a, nil
}

// MarkDisputed 将待定断言迁移到争议状态。
func (s *MySQLStore) MarkDisputed(ctx context.Context, id common.Hash, disputer uint64, counterBond *big.Int, at int64) (*Assertion, error) {
	const stmt = `UPDATE assertions SET disputer = ?, counter_bond = ?, status = ?, updated_at = ?
        WHERE id = ? AND status = ?`

	res, err := s.db.ExecContext(ctx, stmt,
		disputer,
		formatWei(counterBond),
		string(StatusDisputed),
		at,
		id.Hex(),
		string(StatusPending),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新断言争议状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		a, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return a, ErrNotPending
	}
	return s.Get(ctx, id)
}

// Finalize 以比较并交换的方式写入终态。断言已终结时返回当前状态与 false。
func (s *MySQLStore) Finalize(ctx context.Context, id common.Hash, outcome FinalOutcome) (*Assertion, bool, error) {
	if !outcome.Status.Terminal() {
		return nil, false, xerrors.New(xerrors.CodeInvalidArgument, "结算状态必须为终态")
	}

	const stmt = `UPDATE assertions SET status = ?, payout_winner = ?, payout_amount = ?, updated_at = ?
        WHERE id = ? AND status IN (?, ?)`

	res, err := s.db.ExecContext(ctx, stmt,
		string(outcome.Status),
		outcome.Payout.Winner,
		formatWei(outcome.Payout.Amount),
		outcome.At,
		id.Hex(),
		string(StatusPending),
		string(StatusDisputed),
	)
	if err != nil {
		return nil, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入结算结果失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	a, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, false, getErr
	}
	if affected == 0 {
		if a.Status.Terminal() {
			return a, false, nil
		}
		return nil, false, xerrors.New(xerrors.CodeStorageFailure, "结算更新未生效")
	}
	return a, true, nil
}

// List 返回符合过滤条件的断言。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Assertion, error) {
	opts.applyDefaults()

	query := `SELECT ` + assertionColumns + ` FROM assertions`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	order := " ORDER BY updated_at DESC, created_at DESC, id DESC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, created_at ASC, id ASC"
	}
	query += order + " LIMIT ? OFFSET ?"

	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询断言列表失败")
	}
	defer rows.Close()

	assertions := make([]*Assertion, 0, opts.Limit)
	for rows.Next() {
		a, err := scanAssertion(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析断言记录失败")
		}
		assertions = append(assertions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历断言失败")
	}
	return assertions, nil
}

// ListSettleable 返回所有可尝试结算的断言。
func (s *MySQLStore) ListSettleable(ctx context.Context, now int64, limit int) ([]*Assertion, error) {
	if limit <= 0 {
		limit = 64
	}

	query := `SELECT ` + assertionColumns + ` FROM assertions
        WHERE (status = ? AND expires_at <= ?) OR status = ?
        ORDER BY updated_at ASC, id ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, string(StatusPending), now, string(StatusDisputed), limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询待结算断言失败")
	}
	defer rows.Close()

	assertions := make([]*Assertion, 0, limit)
	for rows.Next() {
		a, err := scanAssertion(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析待结算断言失败")
		}
		assertions = append(assertions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历待结算断言失败")
	}
	return assertions, nil
}

// Stats 返回符合过滤条件的断言聚合信息。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (LedgerStats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS pending,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS disputed,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS resolved,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS rejected,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM assertions`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}

	args := []any{string(StatusPending), string(StatusDisputed), string(StatusResolved), string(StatusRejected)}
	args = append(args, filterArgs...)

	row := s.db.QueryRowContext(ctx, query, args...)

	var stats LedgerStats
	if err := row.Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Disputed,
		&stats.Resolved,
		&stats.Rejected,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return LedgerStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询断言统计失败")
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssertion(scanner rowScanner) (*Assertion, error) {
	var (
		a            Assertion
		id           string
		marketID     string
		status       string
		bond         string
		counterBond  string
		volume       string
		payoutWinner uint64
		payoutAmount string
	)
	if err := scanner.Scan(
		&id,
		&marketID,
		&a.Outcome,
		&a.Asserter,
		&a.Disputer,
		&bond,
		&counterBond,
		&volume,
		&status,
		&a.ExpiresAt,
		&payoutWinner,
		&payoutAmount,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}

	a.ID = common.HexToHash(id)
	a.MarketID = common.HexToHash(marketID)
	a.Status = Status(status)

	var err error
	if a.Bond, err = parseWei(bond); err != nil {
		return nil, fmt.Errorf("解析 bond 列失败: %w", err)
	}
	if a.CounterBond, err = parseOptionalWei(counterBond); err != nil {
		return nil, fmt.Errorf("解析 counter_bond 列失败: %w", err)
	}
	if a.Volume, err = parseWei(volume); err != nil {
		return nil, fmt.Errorf("解析 volume 列失败: %w", err)
	}
	if a.Status.Terminal() {
		amount, err := parseOptionalWei(payoutAmount)
		if err != nil {
			return nil, fmt.Errorf("解析 payout_amount 列失败: %w", err)
		}
		if amount == nil {
			amount = new(big.Int)
		}
		a.Payout = &Payout{Winner: payoutWinner, Amount: amount}
	}
	return &a, nil
}

func formatWei(value *big.Int) string {
	if value == nil {
		return ""
	}
	return value.String()
}

func parseWei(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("无效的 wei 数值: %q", raw)
	}
	return value, nil
}

func parseOptionalWei(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	return parseWei(trimmed)
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 6)
	args := make([]any, 0, 8)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for range opts.Statuses {
			placeholders = append(placeholders, "?")
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
		for _, status := range opts.Statuses {
			args = append(args, string(status))
		}
	}
	if opts.MarketID != nil {
		conditions = append(conditions, "market_id = ?")
		args = append(args, opts.MarketID.Hex())
	}
	if opts.Asserter != 0 {
		conditions = append(conditions, "asserter = ?")
		args = append(args, opts.Asserter)
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.HasDispute != nil {
		if *opts.HasDispute {
			conditions = append(conditions, "disputer <> 0")
		} else {
			conditions = append(conditions, "disputer = 0")
		}
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

var _ Store = (*MySQLStore)(nil)
