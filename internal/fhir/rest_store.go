package fhir

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Bundle FHIR 搜索结果集
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Total        int           `json:"total"`
	Entry        []BundleEntry `json:"entry"`
}

// BundleEntry 搜索结果条目
type BundleEntry struct {
	Resource Resource `json:"resource"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// RestStore 远程 FHIR 资源存储客户端
// 认证：OAuth2 client_credentials，token 缓存在内存，401 时重新获取并重试一次
type RestStore struct {
	httpClient   *resty.Client
	clientID     string
	clientSecret string
	logger       *zap.Logger

	mu          sync.RWMutex
	accessToken string
}

// NewRestStore 创建远程 FHIR 存储客户端
func NewRestStore(baseURL, clientID, clientSecret string, timeout time.Duration, logger *zap.Logger) *RestStore {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(3).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/fhir+json").
		SetHeader("Accept", "application/fhir+json")

	return &RestStore{
		httpClient:   client,
		clientID:     clientID,
		clientSecret: clientSecret,
		logger:       logger,
	}
}

// authenticate 获取 OAuth2 访问令牌
func (c *RestStore) authenticate(ctx context.Context) error {
	var token tokenResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/x-www-form-urlencoded").
		SetFormData(map[string]string{
			"grant_type":    "client_credentials",
			"client_id":     c.clientID,
			"client_secret": c.clientSecret,
		}).
		SetResult(&token).
		Post("/oauth2/token")

	if err != nil {
		return fmt.Errorf("failed to authenticate: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("authentication failed: status %d", resp.StatusCode())
	}

	c.mu.Lock()
	c.accessToken = token.AccessToken
	c.mu.Unlock()

	c.logger.Debug("Obtained FHIR access token")
	return nil
}

func (c *RestStore) token(ctx context.Context) (string, error) {
	c.mu.RLock()
	tok := c.accessToken
	c.mu.RUnlock()

	if tok != "" {
		return tok, nil
	}
	if c.clientID == "" {
		// 未配置凭证时走匿名访问（本地 FHIR 服务）
		return "", nil
	}
	if err := c.authenticate(ctx); err != nil {
		return "", err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken, nil
}

// do 执行一次请求；401 时刷新 token 重试一次
func (c *RestStore) do(ctx context.Context, build func(r *resty.Request) (*resty.Response, error)) (*resty.Response, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return nil, err
	}

	req := c.httpClient.R().SetContext(ctx)
	if tok != "" {
		req.SetAuthToken(tok)
	}
	resp, err := build(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode() == http.StatusUnauthorized && c.clientID != "" {
		c.logger.Info("FHIR token rejected, re-authenticating")
		if err := c.authenticate(ctx); err != nil {
			return nil, err
		}
		c.mu.RLock()
		tok = c.accessToken
		c.mu.RUnlock()

		req = c.httpClient.R().SetContext(ctx).SetAuthToken(tok)
		resp, err = build(req)
		if err != nil {
			return nil, err
		}
	}

	return resp, nil
}

// CreateResource 创建资源
func (c *RestStore) CreateResource(ctx context.Context, res Resource) (Resource, error) {
	var created Resource
	resp, err := c.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(res).SetResult(&created).Post("/fhir/R4/" + res.ResourceType)
	})
	if err != nil {
		return Resource{}, fmt.Errorf("failed to create %s: %w", res.ResourceType, err)
	}
	if resp.IsError() {
		return Resource{}, fmt.Errorf("create %s failed: status %d", res.ResourceType, resp.StatusCode())
	}
	return created, nil
}

// ReadResource 读取资源
func (c *RestStore) ReadResource(ctx context.Context, resourceType, id string) (Resource, error) {
	var res Resource
	resp, err := c.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetResult(&res).Get("/fhir/R4/" + resourceType + "/" + id)
	})
	if err != nil {
		return Resource{}, fmt.Errorf("failed to read %s/%s: %w", resourceType, id, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return Resource{}, ErrNotFound
	}
	if resp.IsError() {
		return Resource{}, fmt.Errorf("read %s/%s failed: status %d", resourceType, id, resp.StatusCode())
	}
	return res, nil
}

// UpdateResource 更新资源（整体覆盖写）
func (c *RestStore) UpdateResource(ctx context.Context, res Resource) (Resource, error) {
	if res.ID == "" {
		return Resource{}, fmt.Errorf("resource id is required for update")
	}

	var updated Resource
	resp, err := c.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(res).SetResult(&updated).Put("/fhir/R4/" + res.ResourceType + "/" + res.ID)
	})
	if err != nil {
		return Resource{}, fmt.Errorf("failed to update %s/%s: %w", res.ResourceType, res.ID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return Resource{}, ErrNotFound
	}
	if resp.IsError() {
		return Resource{}, fmt.Errorf("update %s/%s failed: status %d", res.ResourceType, res.ID, resp.StatusCode())
	}
	return updated, nil
}

// DeleteResource 删除资源
func (c *RestStore) DeleteResource(ctx context.Context, resourceType, id string) error {
	resp, err := c.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.Delete("/fhir/R4/" + resourceType + "/" + id)
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", resourceType, id, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.IsError() {
		return fmt.Errorf("delete %s/%s failed: status %d", resourceType, id, resp.StatusCode())
	}
	return nil
}

// SearchResources 搜索资源（等值过滤，单页最多 1000 条）
func (c *RestStore) SearchResources(ctx context.Context, resourceType string, params map[string]string) ([]Resource, error) {
	query := map[string]string{"_count": "1000"}
	for k, v := range params {
		query[k] = v
	}

	var bundle Bundle
	resp, err := c.do(ctx, func(r *resty.Request) (*resty.Response, error) {
		return r.SetQueryParams(query).SetResult(&bundle).Get("/fhir/R4/" + resourceType)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", resourceType, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("search %s failed: status %d", resourceType, resp.StatusCode())
	}

	results := make([]Resource, 0, len(bundle.Entry))
	for _, entry := range bundle.Entry {
		results = append(results, entry.Resource)
	}
	return results, nil
}
