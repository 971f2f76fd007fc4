package fhir

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PostgresStore 基于 PostgreSQL 的资源存储
// 表结构见 migrations/001_create_fhir_resources.sql：
// fhir_resources(resource_type, resource_id, record_status, content jsonb, created_at, updated_at)
// record_status 冗余存储，避免等值过滤时解析 jsonb
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresStore 创建 PostgreSQL 资源存储
func NewPostgresStore(db *sql.DB, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// CreateResource 创建资源（自动分配 id）
func (s *PostgresStore) CreateResource(ctx context.Context, res Resource) (Resource, error) {
	if res.ResourceType == "" {
		return Resource{}, fmt.Errorf("resourceType is required")
	}
	if res.ID == "" {
		res.ID = uuid.NewString()
	}

	content, err := json.Marshal(res)
	if err != nil {
		return Resource{}, fmt.Errorf("failed to marshal resource: %w", err)
	}

	query := `
		INSERT INTO fhir_resources (resource_type, resource_id, record_status, content)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.db.ExecContext(ctx, query, res.ResourceType, res.ID, res.Status, content); err != nil {
		return Resource{}, fmt.Errorf("failed to insert resource: %w", err)
	}

	return res, nil
}

// ReadResource 读取资源
func (s *PostgresStore) ReadResource(ctx context.Context, resourceType, id string) (Resource, error) {
	query := `
		SELECT content
		FROM fhir_resources
		WHERE resource_type = $1 AND resource_id = $2
	`
	var content []byte
	err := s.db.QueryRowContext(ctx, query, resourceType, id).Scan(&content)
	if err == sql.ErrNoRows {
		return Resource{}, ErrNotFound
	}
	if err != nil {
		return Resource{}, fmt.Errorf("failed to read resource: %w", err)
	}

	var res Resource
	if err := json.Unmarshal(content, &res); err != nil {
		return Resource{}, fmt.Errorf("failed to unmarshal resource: %w", err)
	}
	return res, nil
}

// UpdateResource 更新资源（整体覆盖写，last-writer-wins）
func (s *PostgresStore) UpdateResource(ctx context.Context, res Resource) (Resource, error) {
	if res.ID == "" {
		return Resource{}, fmt.Errorf("resource id is required for update")
	}

	content, err := json.Marshal(res)
	if err != nil {
		return Resource{}, fmt.Errorf("failed to marshal resource: %w", err)
	}

	query := `
		UPDATE fhir_resources
		SET record_status = $3, content = $4, updated_at = NOW()
		WHERE resource_type = $1 AND resource_id = $2
	`
	result, err := s.db.ExecContext(ctx, query, res.ResourceType, res.ID, res.Status, content)
	if err != nil {
		return Resource{}, fmt.Errorf("failed to update resource: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return Resource{}, ErrNotFound
	}

	return res, nil
}

// DeleteResource 删除资源
func (s *PostgresStore) DeleteResource(ctx context.Context, resourceType, id string) error {
	query := `
		DELETE FROM fhir_resources
		WHERE resource_type = $1 AND resource_id = $2
	`
	result, err := s.db.ExecContext(ctx, query, resourceType, id)
	if err != nil {
		return fmt.Errorf("failed to delete resource: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SearchResources 按类型列出资源，支持 status 等值过滤
// 按 created_at 排序保证结果顺序稳定（重复清理依赖稳定顺序）
func (s *PostgresStore) SearchResources(ctx context.Context, resourceType string, params map[string]string) ([]Resource, error) {
	query := `
		SELECT content
		FROM fhir_resources
		WHERE resource_type = $1
	`
	args := []any{resourceType}
	if status, ok := params["status"]; ok {
		query += ` AND record_status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at, resource_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search resources: %w", err)
	}
	defer rows.Close()

	var results []Resource
	for rows.Next() {
		var content []byte
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		var res Resource
		if err := json.Unmarshal(content, &res); err != nil {
			// 损坏的记录跳过，不中断整个查询
			s.logger.Warn("Skipping unparseable resource content", zap.Error(err))
			continue
		}
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate resources: %w", err)
	}

	return results, nil
}
