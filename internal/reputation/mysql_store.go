package reputation

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"math/big"
	"time"

	xerrors "OpenOracle-Chain/internal/errors"
	storage "OpenOracle-Chain/internal/storage/mysql"
)

// MySQLStore 使用 MySQL 持久化声誉分数。wei 数值以十进制字符串
// 存放在 VARCHAR(78) 列中，加法在 Go 侧用 big.Int 精确完成。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 建立连接池并应用嵌入式迁移。
func NewMySQLStore(ctx context.Context, cfg storage.Config) (*MySQLStore, error) {
	db, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化声誉存储失败")
	}
	if err := storage.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "应用声誉存储迁移失败")
	}
	return &MySQLStore{db: db}, nil
}

// Get 查询代理分数。未知代理返回零值分数。
func (s *MySQLStore) Get(ctx context.Context, agentID uint64) (*Score, error) {
	if agentID == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "代理身份不能为 0")
	}

	const stmt = `SELECT agent_id, total_assertions, successful_assertions, total_volume, last_updated
        FROM reputation_scores WHERE agent_id = ?`

	row := s.db.QueryRowContext(ctx, stmt, agentID)
	score, err := scanScore(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return zeroScore(agentID), nil
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询声誉分数失败")
	}
	return score, nil
}

// Apply 在一个事务内读改写全部四个字段。行锁保证并发更新互不覆盖。
func (s *MySQLStore) Apply(ctx context.Context, agentID uint64, update Update) (*Score, error) {
	if agentID == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "代理身份不能为 0")
	}
	if update.Volume == nil || update.Volume.Sign() < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "成交量必须为非负整数")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启声誉更新事务失败")
	}

	const selectStmt = `SELECT agent_id, total_assertions, successful_assertions, total_volume, last_updated
        FROM reputation_scores WHERE agent_id = ? FOR UPDATE`

	score, err := scanScore(tx.QueryRowContext(ctx, selectStmt, agentID))
	if err != nil {
		if !stdErrors.Is(err, sql.ErrNoRows) {
			tx.Rollback()
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "锁定声誉分数失败")
		}
		score = zeroScore(agentID)
	}

	score.TotalAssertions++
	if update.Successful {
		score.SuccessfulAssertions++
	}
	score.TotalVolume.Add(score.TotalVolume, update.Volume)

	at := update.At
	if at == 0 {
		at = time.Now().Unix()
	}
	if at > score.LastUpdated {
		score.LastUpdated = at
	}

	const upsertStmt = `INSERT INTO reputation_scores
        (agent_id, total_assertions, successful_assertions, total_volume, last_updated)
        VALUES (?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE total_assertions = ?, successful_assertions = ?, total_volume = ?, last_updated = ?`

	volumeValue := score.TotalVolume.String()
	if _, err := tx.ExecContext(ctx, upsertStmt,
		agentID,
		score.TotalAssertions,
		score.SuccessfulAssertions,
		volumeValue,
		score.LastUpdated,
		score.TotalAssertions,
		score.SuccessfulAssertions,
		volumeValue,
		score.LastUpdated,
	); err != nil {
		tx.Rollback()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入声誉分数失败")
	}

	if err := tx.Commit(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交声誉更新事务失败")
	}
	return score, nil
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

func scanScore(row rowScanner) (*Score, error) {
	var score Score
	var volume string
	if err := row.Scan(
		&score.AgentID,
		&score.TotalAssertions,
		&score.SuccessfulAssertions,
		&volume,
		&score.LastUpdated,
	); err != nil {
		return nil, err
	}
	parsed, ok := new(big.Int).SetString(volume, 10)
	if !ok {
		return nil, xerrors.New(xerrors.CodeStorageFailure, "声誉分数中的成交量格式损坏")
	}
	score.TotalVolume = parsed
	return &score, nil
}

var _ Store = (*MySQLStore)(nil)
