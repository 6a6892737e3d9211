package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lvdashuaibi/chainvote/config"
	"github.com/lvdashuaibi/chainvote/internal/model"
)

type MySQLRepository struct {
	masterDB *sql.DB
	slaveDB  *sql.DB
}

func NewMySQLRepository() (*MySQLRepository, error) {
	masterDB, err := sql.Open("mysql", config.AppConfig.MySQL.Master)
	if err != nil {
		return nil, fmt.Errorf("连接主数据库失败: %w", err)
	}

	masterDB.SetMaxOpenConns(config.AppConfig.MySQL.MaxOpenConns)
	masterDB.SetMaxIdleConns(config.AppConfig.MySQL.MaxIdleConns)
	masterDB.SetConnMaxLifetime(time.Hour)

	if err = masterDB.Ping(); err != nil {
		return nil, fmt.Errorf("主数据库连接测试失败: %w", err)
	}

	slaveDB, err := sql.Open("mysql", config.AppConfig.MySQL.Slave)
	if err != nil {
		return nil, fmt.Errorf("连接从数据库失败: %w", err)
	}

	slaveDB.SetMaxOpenConns(config.AppConfig.MySQL.MaxOpenConns)
	slaveDB.SetMaxIdleConns(config.AppConfig.MySQL.MaxIdleConns)
	slaveDB.SetConnMaxLifetime(time.Hour)

	if err = slaveDB.Ping(); err != nil {
		log.Printf("从数据库连接测试失败: %v，将使用主数据库代替", err)
		slaveDB = masterDB
	}

	return &MySQLRepository{
		masterDB: masterDB,
		slaveDB:  slaveDB,
	}, nil
}

// CreatePoll 写入投票行
func (r *MySQLRepository) CreatePoll(poll *model.Poll) (int64, error) {
	query := `INSERT INTO poll (title, description, startTime, endTime, status, is_restricted, allow_live_results)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`
	result, err := r.masterDB.Exec(query,
		poll.Title,
		poll.Description,
		poll.StartTime,
		poll.EndTime,
		poll.Status,
		poll.IsRestricted,
		poll.AllowLiveResults,
	)
	if err != nil {
		return 0, fmt.Errorf("写入投票失败: %w", err)
	}

	pollID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("获取投票ID失败: %w", err)
	}

	return pollID, nil
}

// CreatePollOptions 写入投票选项
func (r *MySQLRepository) CreatePollOptions(pollID int64, labels []string) error {
	tx, err := r.masterDB.Begin()
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO poll_options (poll_id, label) VALUES (?, ?)")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("准备选项插入语句失败: %w", err)
	}
	defer stmt.Close()

	for _, label := range labels {
		if _, err := stmt.Exec(pollID, label); err != nil {
			tx.Rollback()
			return fmt.Errorf("写入选项 %s 失败: %w", label, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}

	return nil
}

// CreateWhitelist 写入受限投票的白名单
func (r *MySQLRepository) CreateWhitelist(pollID int64, emails []string) error {
	tx, err := r.masterDB.Begin()
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO poll_whitelist (poll_id, email) VALUES (?, ?)")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("准备白名单插入语句失败: %w", err)
	}
	defer stmt.Close()

	for _, email := range emails {
		if _, err := stmt.Exec(pollID, email); err != nil {
			tx.Rollback()
			return fmt.Errorf("写入白名单 %s 失败: %w", email, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}

	return nil
}

// SaveTokenBatch 批量持久化原始令牌
func (r *MySQLRepository) SaveTokenBatch(pollID int64, rawTokens []string) error {
	tx, err := r.masterDB.Begin()
	if err != nil {
		return fmt.Errorf("开始事务失败: %w", err)
	}

	stmt, err := tx.Prepare("INSERT INTO poll_token (poll_id, token, issued) VALUES (?, ?, FALSE)")
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("准备令牌插入语句失败: %w", err)
	}
	defer stmt.Close()

	for _, raw := range rawTokens {
		if _, err := stmt.Exec(pollID, raw); err != nil {
			tx.Rollback()
			return fmt.Errorf("写入令牌失败: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交事务失败: %w", err)
	}

	return nil
}

// GetPoll 查询单个投票
func (r *MySQLRepository) GetPoll(pollID int64) (*model.Poll, error) {
	query := `SELECT id, title, description, startTime, endTime, status, is_restricted, allow_live_results, blockchain_poll_id
			 FROM poll WHERE id = ?`
	return r.scanPoll(r.slaveDB.QueryRow(query, pollID))
}

func (r *MySQLRepository) scanPoll(row *sql.Row) (*model.Poll, error) {
	var poll model.Poll
	var blockchainPollID sql.NullInt64
	err := row.Scan(
		&poll.ID,
		&poll.Title,
		&poll.Description,
		&poll.StartTime,
		&poll.EndTime,
		&poll.Status,
		&poll.IsRestricted,
		&poll.AllowLiveResults,
		&blockchainPollID,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, model.ErrPollNotFound
		}
		return nil, fmt.Errorf("查询投票失败: %w", err)
	}

	if blockchainPollID.Valid {
		poll.BlockchainPollID = &blockchainPollID.Int64
	}

	return &poll, nil
}

// GetPollOptions 查询投票选项
func (r *MySQLRepository) GetPollOptions(pollID int64) ([]model.PollOption, error) {
	query := "SELECT id, poll_id, label FROM poll_options WHERE poll_id = ? ORDER BY id"
	rows, err := r.slaveDB.Query(query, pollID)
	if err != nil {
		return nil, fmt.Errorf("查询投票选项失败: %w", err)
	}
	defer rows.Close()

	var options []model.PollOption
	for rows.Next() {
		var option model.PollOption
		if err := rows.Scan(&option.ID, &option.PollID, &option.Label); err != nil {
			return nil, fmt.Errorf("扫描投票选项失败: %w", err)
		}
		options = append(options, option)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代投票选项失败: %w", err)
	}

	return options, nil
}

// ListPolls 查询全部投票，按结束时间倒序
func (r *MySQLRepository) ListPolls() ([]*model.Poll, error) {
	query := `SELECT id, title, description, startTime, endTime, status, is_restricted, allow_live_results, blockchain_poll_id
			 FROM poll ORDER BY endTime DESC`
	rows, err := r.slaveDB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("查询投票列表失败: %w", err)
	}
	defer rows.Close()

	return r.scanPolls(rows)
}

func (r *MySQLRepository) scanPolls(rows *sql.Rows) ([]*model.Poll, error) {
	var polls []*model.Poll
	for rows.Next() {
		var poll model.Poll
		var blockchainPollID sql.NullInt64
		err := rows.Scan(
			&poll.ID,
			&poll.Title,
			&poll.Description,
			&poll.StartTime,
			&poll.EndTime,
			&poll.Status,
			&poll.IsRestricted,
			&poll.AllowLiveResults,
			&blockchainPollID,
		)
		if err != nil {
			return nil, fmt.Errorf("扫描投票失败: %w", err)
		}
		if blockchainPollID.Valid {
			poll.BlockchainPollID = &blockchainPollID.Int64
		}
		polls = append(polls, &poll)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("迭代投票失败: %w", err)
	}

	return polls, nil
}

// IsWhitelisted 判断邮箱是否在投票白名单中
func (r *MySQLRepository) IsWhitelisted(pollID int64, email string) (bool, error) {
	query := "SELECT COUNT(1) FROM poll_whitelist WHERE poll_id = ? AND email = ?"
	var count int
	if err := r.slaveDB.QueryRow(query, pollID, email).Scan(&count); err != nil {
		return false, fmt.Errorf("查询白名单失败: %w", err)
	}
	return count > 0, nil
}

// IssueToken 原子签发一个令牌
// 整个序列在单个事务中执行：
// 1. 校验该身份对该投票没有签发记录
// 2. 在行锁下随机选中一个未签发令牌(随机选取避免通过签发顺序推断令牌归属)
// 3. 翻转issued标记
// 4. 落签发记录(只记录"领取过"，不记录令牌值)
func (r *MySQLRepository) IssueToken(pollID int64, userID int64) (string, error) {
	tx, err := r.masterDB.Begin()
	if err != nil {
		return "", fmt.Errorf("开始事务失败: %w", err)
	}

	var issuedCount int
	err = tx.QueryRow("SELECT COUNT(1) FROM token_issuance WHERE user_id = ? AND poll_id = ?", userID, pollID).Scan(&issuedCount)
	if err != nil {
		tx.Rollback()
		return "", fmt.Errorf("查询签发记录失败: %w", err)
	}
	if issuedCount > 0 {
		tx.Rollback()
		return "", model.ErrAlreadyIssued
	}

	var tokenID int64
	var rawToken string
	query := `SELECT id, token FROM poll_token
			 WHERE poll_id = ? AND issued = FALSE
			 ORDER BY RAND() LIMIT 1 FOR UPDATE`
	err = tx.QueryRow(query, pollID).Scan(&tokenID, &rawToken)
	if err != nil {
		tx.Rollback()
		if err == sql.ErrNoRows {
			return "", model.ErrTokenExhausted
		}
		return "", fmt.Errorf("选取未签发令牌失败: %w", err)
	}

	result, err := tx.Exec("UPDATE poll_token SET issued = TRUE WHERE id = ? AND issued = FALSE", tokenID)
	if err != nil {
		tx.Rollback()
		return "", fmt.Errorf("标记令牌已签发失败: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		tx.Rollback()
		return "", fmt.Errorf("获取更新结果失败: %w", err)
	}
	if rowsAffected == 0 {
		// 行锁之下不应发生，发生即认为是并发冲突
		tx.Rollback()
		return "", fmt.Errorf("令牌 %d 已被并发签发", tokenID)
	}

	_, err = tx.Exec("INSERT INTO token_issuance (user_id, poll_id, issued_at) VALUES (?, ?, NOW())", userID, pollID)
	if err != nil {
		tx.Rollback()
		// (user_id, poll_id)主键兜底并发重复请求
		if isDuplicateKeyError(err) {
			return "", model.ErrAlreadyIssued
		}
		return "", fmt.Errorf("写入签发记录失败: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("提交事务失败: %w", err)
	}

	return rawToken, nil
}

// SetBlockchainPollID 回写账本侧投票ID，至多设置一次
func (r *MySQLRepository) SetBlockchainPollID(pollID int64, blockchainPollID int64) error {
	query := "UPDATE poll SET blockchain_poll_id = ? WHERE id = ? AND blockchain_poll_id IS NULL"
	result, err := r.masterDB.Exec(query, blockchainPollID, pollID)
	if err != nil {
		return fmt.Errorf("回写账本投票ID失败: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("获取更新结果失败: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("投票 %d 不存在或账本投票ID已设置", pollID)
	}

	return nil
}

// MarkPollClosed 将投票状态翻转为closed
func (r *MySQLRepository) MarkPollClosed(pollID int64) error {
	query := "UPDATE poll SET status = ? WHERE id = ? AND status = ?"
	result, err := r.masterDB.Exec(query, model.PollStatusClosed, pollID, model.PollStatusOpen)
	if err != nil {
		return fmt.Errorf("关闭投票失败: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("获取更新结果失败: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("投票 %d 不存在或已关闭", pollID)
	}

	return nil
}

// GetExpiredOpenPolls 查询已到期但仍开放的投票
func (r *MySQLRepository) GetExpiredOpenPolls(now time.Time) ([]*model.Poll, error) {
	query := `SELECT id, title, description, startTime, endTime, status, is_restricted, allow_live_results, blockchain_poll_id
			 FROM poll WHERE status = ? AND endTime <= ?`
	rows, err := r.masterDB.Query(query, model.PollStatusOpen, now)
	if err != nil {
		return nil, fmt.Errorf("查询到期投票失败: %w", err)
	}
	defer rows.Close()

	return r.scanPolls(rows)
}

// isDuplicateKeyError 判断是否为MySQL唯一键冲突(1062)
func isDuplicateKeyError(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// Close 关闭数据库连接
func (r *MySQLRepository) Close() {
	if r.masterDB != nil {
		r.masterDB.Close()
	}
	if r.slaveDB != nil && r.slaveDB != r.masterDB {
		r.slaveDB.Close()
	}
}
