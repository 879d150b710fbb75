package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"evvos-field/internal/models"

	"go.uber.org/zap"
)

// DeviceCredentialsRepository 记录仪凭证仓库
// 凭证行由设备端联网成功后写入；本服务只读、只打断开标记，从不删除
type DeviceCredentialsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeviceCredentialsRepository 创建记录仪凭证仓库
func NewDeviceCredentialsRepository(db *sql.DB, logger *zap.Logger) *DeviceCredentialsRepository {
	return &DeviceCredentialsRepository{
		db:     db,
		logger: logger,
	}
}

// GetFreshCredential 查询新鲜度窗口内最近一条凭证记录
// 窗口内无记录返回 (nil, nil)，供确认轮询按"尚未命中"处理
func (r *DeviceCredentialsRepository) GetFreshCredential(ctx context.Context, userID string, window time.Duration) (*models.DeviceCredential, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if window <= 0 {
		return nil, fmt.Errorf("freshness window must be positive")
	}

	cutoff := time.Now().Add(-window)

	query := `
		SELECT
			device_id,
			device_name,
			user_id,
			ssid,
			encrypted_password,
			device_status,
			disconnect_requested,
			last_seen,
			provisioned_at,
			created_at,
			updated_at
		FROM device_credentials
		WHERE user_id = $1
		  AND COALESCE(provisioned_at, updated_at, created_at) >= $2
		ORDER BY COALESCE(provisioned_at, updated_at, created_at) DESC
		LIMIT 1
	`

	var cred models.DeviceCredential
	var lastSeen, provisionedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, userID, cutoff).Scan(
		&cred.DeviceID,
		&cred.DeviceName,
		&cred.UserID,
		&cred.SSID,
		&cred.EncryptedPassword,
		&cred.DeviceStatus,
		&cred.DisconnectRequested,
		&lastSeen,
		&provisionedAt,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fresh device credential: %w", err)
	}

	if lastSeen.Valid {
		cred.LastSeen = &lastSeen.Time
	}
	if provisionedAt.Valid {
		cred.ProvisionedAt = &provisionedAt.Time
	}

	return &cred, nil
}

// RequestDisconnect 标记断开请求（设备端轮询该标记后自行清理并回到配网模式）
func (r *DeviceCredentialsRepository) RequestDisconnect(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE device_credentials
		 SET disconnect_requested = TRUE, updated_at = CURRENT_TIMESTAMP
		 WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to request disconnect: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("no device credential found for user: %s", userID)
	}

	return nil
}

// ListCredentials 查询某警员名下全部凭证记录（按更新时间倒序，审计用）
func (r *DeviceCredentialsRepository) ListCredentials(ctx context.Context, userID string) ([]*models.DeviceCredential, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	query := `
		SELECT
			device_id,
			device_name,
			user_id,
			ssid,
			encrypted_password,
			device_status,
			disconnect_requested,
			last_seen,
			provisioned_at,
			created_at,
			updated_at
		FROM device_credentials
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list device credentials: %w", err)
	}
	defer rows.Close()

	credentials := []*models.DeviceCredential{}
	for rows.Next() {
		var cred models.DeviceCredential
		var lastSeen, provisionedAt sql.NullTime

		if err := rows.Scan(
			&cred.DeviceID,
			&cred.DeviceName,
			&cred.UserID,
			&cred.SSID,
			&cred.EncryptedPassword,
			&cred.DeviceStatus,
			&cred.DisconnectRequested,
			&lastSeen,
			&provisionedAt,
			&cred.CreatedAt,
			&cred.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan device credential: %w", err)
		}

		if lastSeen.Valid {
			cred.LastSeen = &lastSeen.Time
		}
		if provisionedAt.Valid {
			cred.ProvisionedAt = &provisionedAt.Time
		}

		credentials = append(credentials, &cred)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate device credentials: %w", err)
	}

	return credentials, nil
}
