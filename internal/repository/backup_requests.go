package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"evvos-field/internal/models"

	"go.uber.org/zap"
)

var (
	// ErrRequestNotFound 支援请求不存在
	ErrRequestNotFound = errors.New("backup request not found")
	// ErrStatusConflict 状态条件不满足（并发修改或流程顺序错误）
	ErrStatusConflict = errors.New("backup request status conflict")
)

// BackupRequestsRepository 紧急支援请求仓库
type BackupRequestsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewBackupRequestsRepository 创建支援请求仓库
func NewBackupRequestsRepository(db *sql.DB, logger *zap.Logger) *BackupRequestsRepository {
	return &BackupRequestsRepository{
		db:     db,
		logger: logger,
	}
}

// BackupRequestFilters 支援请求过滤条件
type BackupRequestFilters struct {
	Status    *string    // 状态过滤
	UserID    *string    // 发起警员过滤
	StartTime *time.Time // created_at >= StartTime
	EndTime   *time.Time // created_at <= EndTime
}

// CreateBackupRequest 创建支援请求
func (r *BackupRequestsRepository) CreateBackupRequest(ctx context.Context, req *models.BackupRequest) error {
	if req == nil {
		return fmt.Errorf("request is required")
	}
	if req.RequestID == "" {
		return fmt.Errorf("request_id is required")
	}

	query := `
		INSERT INTO backup_requests (
			request_id,
			user_id,
			enforcer,
			location,
			time,
			responders,
			status,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	_, err := r.db.ExecContext(ctx,
		query,
		req.RequestID,
		req.UserID,
		req.Enforcer,
		req.Location,
		req.Time,
		req.Responders,
		req.Status,
		req.CreatedAt,
		req.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create backup request: %w", err)
	}

	return nil
}

// GetBackupRequest 根据 request_id 获取支援请求
func (r *BackupRequestsRepository) GetBackupRequest(ctx context.Context, requestID string) (*models.BackupRequest, error) {
	if requestID == "" {
		return nil, fmt.Errorf("request_id is required")
	}

	query := `
		SELECT
			request_id,
			user_id,
			enforcer,
			location,
			time,
			responders,
			status,
			created_at,
			updated_at
		FROM backup_requests
		WHERE request_id = $1
	`

	var req models.BackupRequest
	err := r.db.QueryRowContext(ctx, query, requestID).Scan(
		&req.RequestID,
		&req.UserID,
		&req.Enforcer,
		&req.Location,
		&req.Time,
		&req.Responders,
		&req.Status,
		&req.CreatedAt,
		&req.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get backup request: %w", err)
	}

	return &req, nil
}

// GetStatus 读取单个状态字段（监视器使用，避免整行扫描）
func (r *BackupRequestsRepository) GetStatus(ctx context.Context, requestID string) (string, error) {
	if requestID == "" {
		return "", fmt.Errorf("request_id is required")
	}

	var status string
	err := r.db.QueryRowContext(ctx,
		`SELECT status FROM backup_requests WHERE request_id = $1`,
		requestID,
	).Scan(&status)

	if err == sql.ErrNoRows {
		return "", ErrRequestNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get backup request status: %w", err)
	}

	return status, nil
}

// GetResponders 读取当前响应人数
func (r *BackupRequestsRepository) GetResponders(ctx context.Context, requestID string) (int, error) {
	if requestID == "" {
		return 0, fmt.Errorf("request_id is required")
	}

	var responders int
	err := r.db.QueryRowContext(ctx,
		`SELECT responders FROM backup_requests WHERE request_id = $1`,
		requestID,
	).Scan(&responders)

	if err == sql.ErrNoRows {
		return 0, ErrRequestNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get backup request responders: %w", err)
	}

	return responders, nil
}

// AddResponders 原子增减响应人数（下限钳制为 0）
// 单条 UPDATE 语句在存储端完成读改写，规避多终端并发时的丢失更新；
// 仅对未终结（resolved/cancelled 以外）的请求生效。
func (r *BackupRequestsRepository) AddResponders(ctx context.Context, requestID string, delta int) (int, error) {
	if requestID == "" {
		return 0, fmt.Errorf("request_id is required")
	}

	query := `
		UPDATE backup_requests
		SET responders = GREATEST(0, responders + $1),
		    updated_at = CURRENT_TIMESTAMP
		WHERE request_id = $2
		  AND status NOT IN ('resolved', 'cancelled')
		RETURNING responders
	`

	var responders int
	err := r.db.QueryRowContext(ctx, query, delta, requestID).Scan(&responders)

	if err == sql.ErrNoRows {
		// 没有命中可能是行不存在，也可能是状态已终结；查一次状态区分两者
		if _, serr := r.GetStatus(ctx, requestID); serr != nil {
			if errors.Is(serr, ErrRequestNotFound) {
				return 0, ErrRequestNotFound
			}
			return 0, fmt.Errorf("failed to update responders: %w", serr)
		}
		return 0, ErrStatusConflict
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update responders: %w", err)
	}

	return responders, nil
}

// SetResponders 直接写入响应人数
// 旧版读-改-写路径的写半段，仅保留用于演示/对照丢失更新问题；业务路径一律使用 AddResponders
func (r *BackupRequestsRepository) SetResponders(ctx context.Context, requestID string, responders int) error {
	if requestID == "" {
		return fmt.Errorf("request_id is required")
	}
	if responders < 0 {
		responders = 0
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE backup_requests SET responders = $1, updated_at = CURRENT_TIMESTAMP WHERE request_id = $2`,
		responders, requestID,
	)
	if err != nil {
		return fmt.Errorf("failed to set responders: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRequestNotFound
	}

	return nil
}

// UpdateStatus 条件状态迁移（from → to）
// WHERE 携带 from 条件保证迁移原子性；不满足时返回 ErrStatusConflict
func (r *BackupRequestsRepository) UpdateStatus(ctx context.Context, requestID, from, to string) error {
	if requestID == "" {
		return fmt.Errorf("request_id is required")
	}
	if from == "" || to == "" {
		return fmt.Errorf("from and to statuses are required")
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE backup_requests
		 SET status = $1, updated_at = CURRENT_TIMESTAMP
		 WHERE request_id = $2 AND status = $3`,
		to, requestID, from,
	)
	if err != nil {
		return fmt.Errorf("failed to update backup request status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrStatusConflict
	}

	return nil
}

// ListBackupRequests 查询支援请求列表（支持过滤和分页，按创建时间倒序）
func (r *BackupRequestsRepository) ListBackupRequests(ctx context.Context, filters BackupRequestFilters, page, size int) ([]*models.BackupRequest, int, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}

	args := []interface{}{}
	argN := 1
	conditions := []string{}

	if filters.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argN))
		args = append(args, *filters.Status)
		argN++
	}
	if filters.UserID != nil {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", argN))
		args = append(args, *filters.UserID)
		argN++
	}
	if filters.StartTime != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argN))
		args = append(args, *filters.StartTime)
		argN++
	}
	if filters.EndTime != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argN))
		args = append(args, *filters.EndTime)
		argN++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	// 先查总数
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM backup_requests %s`, whereClause)
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count backup requests: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT
			request_id,
			user_id,
			enforcer,
			location,
			time,
			responders,
			status,
			created_at,
			updated_at
		FROM backup_requests
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argN, argN+1)

	args = append(args, size, (page-1)*size)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list backup requests: %w", err)
	}
	defer rows.Close()

	requests := []*models.BackupRequest{}
	for rows.Next() {
		var req models.BackupRequest
		if err := rows.Scan(
			&req.RequestID,
			&req.UserID,
			&req.Enforcer,
			&req.Location,
			&req.Time,
			&req.Responders,
			&req.Status,
			&req.CreatedAt,
			&req.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan backup request: %w", err)
		}
		requests = append(requests, &req)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate backup requests: %w", err)
	}

	return requests, total, nil
}
