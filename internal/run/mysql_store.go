package run

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"AgentFi-Mesh/deploy/migrations"
	xerrors "AgentFi-Mesh/internal/errors"
	"AgentFi-Mesh/internal/workflow"
)

// MySQLStore 使用 MySQL 记录运行状态。params 与 result
// 以 JSON 文本落盘，查询侧不需要在数据库内检索其字段。
type MySQLStore struct {
	db *sql.DB
}

// MySQLConfig 描述 MySQL 连接参数。
type MySQLConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewMySQLStore 创建 MySQLStore 并初始化表结构。
func NewMySQLStore(cfg MySQLConfig) (*MySQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 20
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 10
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 10 * time.Minute
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// initSchema 按字典序应用内嵌的迁移文件。驱动默认不开启
// 多语句模式，因此每个迁移文件只包含一条语句。
func (s *MySQLStore) initSchema() error {
	names, err := fs.Glob(migrations.Files, "*.sql")
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "枚举迁移文件失败")
	}
	sort.Strings(names)

	for _, name := range names {
		content, err := migrations.Files.ReadFile(name)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取迁移文件 "+name+" 失败")
		}
		stmt := strings.TrimSuffix(strings.TrimSpace(string(content)), ";")
		if stmt == "" {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "应用迁移 "+name+" 失败")
		}
	}
	return nil
}

// Create 插入新的运行记录。
func (s *MySQLStore) Create(ctx context.Context, r *Run) error {
	if r == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "run 不能为空")
	}
	if strings.TrimSpace(r.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "运行 ID 不能为空")
	}

	now := time.Now().Unix()
	r.CreatedAt = now
	r.UpdatedAt = now

	paramsValue, err := marshalJSON(r.Params)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码运行参数失败")
	}

	const stmt = `INSERT INTO workflow_runs
        (id, template_id, task, params, status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		r.ID,
		r.TemplateID,
		r.Task,
		paramsValue,
		r.Status,
		r.Attempts,
		r.MaxRetries,
		r.CreatedAt,
		r.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrRunConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入运行记录失败")
	}
	return nil
}

const selectColumns = `id, template_id, task, params, status, attempts, max_retries, last_error, error_code, result, created_at, updated_at`

// Get 查询指定运行。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM workflow_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询运行记录失败")
	}
	return r, nil
}

// Claim 将运行标记为运行中并返回最新状态。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Run, error) {
	const updateStmt = `UPDATE workflow_runs SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, updateStmt,
		StatusRunning,
		now,
		id,
		StatusPending,
		StatusFailed,
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新运行状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		r, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		switch r.Status {
		case StatusCompleted, StatusPartial:
			return r, ErrRunCompleted
		case StatusRunning:
			return r, ErrRunConflict
		default:
			if r.Attempts >= r.MaxRetries {
				return r, ErrRunExhausted
			}
			return r, ErrRunConflict
		}
	}
	return s.Get(ctx, id)
}

// MarkDone 记录执行结果。
func (s *MySQLStore) MarkDone(ctx context.Context, id string, result *workflow.RunResult) error {
	resultValue, err := marshalJSON(result)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码运行结果失败")
	}

	const stmt = `UPDATE workflow_runs SET status = ?, result = ?, updated_at = ?, last_error = '', error_code = '' WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt, StatusFromResult(result), resultValue, time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "记录运行结果失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrRunNotFound
	}
	return nil
}

// MarkFailed 将运行标记为失败。terminal 为真时耗尽重试预算。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	stmt := `UPDATE workflow_runs SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`
	if terminal {
		stmt = `UPDATE workflow_runs SET status = ?, last_error = ?, error_code = ?, updated_at = ?, attempts = max_retries WHERE id = ?`
	}
	res, err := s.db.ExecContext(ctx, stmt, StatusFailed, lastError, string(code), time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记运行失败状态出错")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrRunNotFound
	}
	return nil
}

// List 返回最近更新的运行。
func (s *MySQLStore) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM workflow_runs ORDER BY updated_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询运行列表失败")
	}
	defer rows.Close()

	runs := make([]*Run, 0, limit)
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析运行记录失败")
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历运行记录失败")
	}
	return runs, nil
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

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	var params, result, lastError sql.NullString
	if err := row.Scan(
		&r.ID,
		&r.TemplateID,
		&r.Task,
		&params,
		&r.Status,
		&r.Attempts,
		&r.MaxRetries,
		&lastError,
		&r.ErrorCode,
		&result,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	r.LastError = lastError.String

	if params.Valid && strings.TrimSpace(params.String) != "" {
		if err := json.Unmarshal([]byte(params.String), &r.Params); err != nil {
			return nil, err
		}
	}
	if result.Valid && strings.TrimSpace(result.String) != "" {
		var decoded workflow.RunResult
		if err := json.Unmarshal([]byte(result.String), &decoded); err != nil {
			return nil, err
		}
		r.Result = &decoded
	}
	return &r, nil
}

func marshalJSON(value any) (sql.NullString, error) {
	if value == nil {
		return sql.NullString{}, nil
	}
	bytes, err := json.Marshal(value)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(bytes), Valid: true}, nil
}

var _ Store = (*MySQLStore)(nil)
