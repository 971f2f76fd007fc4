package fhir

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore 内存资源存储（用于单元测试和 demo 模式）
// 行为与远程存储对齐：返回副本、缺失返回 ErrNotFound、列表按插入顺序稳定
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Resource // key: resourceType/id
	seq  map[string]int      // 插入序号（保证 Search 结果顺序稳定）
	next int
}

// NewMemoryStore 创建内存资源存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]Resource),
		seq:  make(map[string]int),
	}
}

func storeKey(resourceType, id string) string {
	return resourceType + "/" + id
}

// CreateResource 创建资源（自动分配 id）
func (s *MemoryStore) CreateResource(ctx context.Context, res Resource) (Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res.ResourceType == "" {
		return Resource{}, fmt.Errorf("resourceType is required")
	}
	if res.ID == "" {
		res.ID = uuid.NewString()
	}

	key := storeKey(res.ResourceType, res.ID)
	s.data[key] = res.Clone()
	s.seq[key] = s.next
	s.next++

	return res.Clone(), nil
}

// ReadResource 读取资源
func (s *MemoryStore) ReadResource(ctx context.Context, resourceType, id string) (Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res, ok := s.data[storeKey(resourceType, id)]
	if !ok {
		return Resource{}, ErrNotFound
	}
	return res.Clone(), nil
}

// UpdateResource 更新资源（整体覆盖写，last-writer-wins）
func (s *MemoryStore) UpdateResource(ctx context.Context, res Resource) (Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if res.ID == "" {
		return Resource{}, fmt.Errorf("resource id is required for update")
	}
	key := storeKey(res.ResourceType, res.ID)
	if _, ok := s.data[key]; !ok {
		return Resource{}, ErrNotFound
	}
	s.data[key] = res.Clone()
	return res.Clone(), nil
}

// DeleteResource 删除资源
func (s *MemoryStore) DeleteResource(ctx context.Context, resourceType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storeKey(resourceType, id)
	if _, ok := s.data[key]; !ok {
		return ErrNotFound
	}
	delete(s.data, key)
	delete(s.seq, key)
	return nil
}

// SearchResources 按类型列出资源，支持 status 等值过滤
func (s *MemoryStore) SearchResources(ctx context.Context, resourceType string, params map[string]string) ([]Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type entry struct {
		res Resource
		seq int
	}
	var entries []entry
	for key, res := range s.data {
		if res.ResourceType != resourceType {
			continue
		}
		if status, ok := params["status"]; ok && res.Status != status {
			continue
		}
		entries = append(entries, entry{res: res.Clone(), seq: s.seq[key]})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})

	results := make([]Resource, len(entries))
	for i, e := range entries {
		results[i] = e.res
	}
	return results, nil
}
