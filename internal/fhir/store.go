package fhir

import (
	"context"
	"errors"
)

// ErrNotFound 表示资源不存在
var ErrNotFound = errors.New("resource not found")

// Store 通用资源存储接口（create/read/update/delete/search）
// 核心只依赖两种查询能力：按字段等值过滤、按类型列出全部
type Store interface {
	CreateResource(ctx context.Context, res Resource) (Resource, error)
	ReadResource(ctx context.Context, resourceType, id string) (Resource, error)
	UpdateResource(ctx context.Context, res Resource) (Resource, error)
	DeleteResource(ctx context.Context, resourceType, id string) error
	// SearchResources 按类型列出资源；params 为字段等值过滤（可为空）
	SearchResources(ctx context.Context, resourceType string, params map[string]string) ([]Resource, error)
}
