package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/callmeahab/energy-management-sub000/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// UserAgent 请求头中的客户端标识
const UserAgent = "energy-sync/1.0"

// ErrGraphQL 远端返回了 GraphQL errors（HTTP 200）
var ErrGraphQL = errors.New("graphql error")

// Source 远端元数据与遥测数据源（只读）
type Source interface {
	FetchHierarchy(ctx context.Context) ([]models.Building, error)
	FetchSites(ctx context.Context) ([]models.Site, error)
	FetchSensorSeries(ctx context.Context, buildingIDs []string, pointTypes []string) ([]models.SensorPoint, error)
}

// Options 客户端参数
type Options struct {
	URL        string
	APIKey     string
	Timeout    time.Duration // 单次调用超时（含重试）
	RetryCount int
	RetryWait  time.Duration
	RateLimit  float64 // 每秒请求数，<=0 不限速
	RateBurst  int
}

// Client Mapped GraphQL 客户端
type Client struct {
	httpClient *resty.Client
	endpoint   string
	timeout    time.Duration
	limiter    *rate.Limiter
	logger     *zap.Logger
}

var _ Source = (*Client)(nil)

// NewClient 创建远端客户端
func NewClient(opts Options, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = 500 * time.Millisecond
	}

	httpClient := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.RetryCount).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(5*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if r == nil {
				return err != nil
			}
			return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", UserAgent)
	if opts.APIKey != "" {
		httpClient.SetHeader("Authorization", "token "+opts.APIKey)
	}

	c := &Client{
		httpClient: httpClient,
		endpoint:   opts.URL,
		timeout:    opts.Timeout,
		logger:     logger,
	}
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	return c
}

// FetchHierarchy 拉取 Building → Floor → Space 层级
func (c *Client) FetchHierarchy(ctx context.Context) ([]models.Building, error) {
	var data buildingsData
	if err := execute(ctx, c, "GetBuildings", queryBuildings, nil, &data); err != nil {
		return nil, err
	}

	buildings := make([]models.Building, 0, len(data.Buildings))
	for _, wb := range data.Buildings {
		buildings = append(buildings, wb.toModel())
	}
	c.logger.Info("Fetched building hierarchy", zap.Int("buildings", len(buildings)))
	return buildings, nil
}

// FetchSites 拉取站点及其下的建筑层级（层级查询为空时的回退来源）
func (c *Client) FetchSites(ctx context.Context) ([]models.Site, error) {
	var data sitesData
	if err := execute(ctx, c, "GetSites", querySites, nil, &data); err != nil {
		return nil, err
	}

	sites := make([]models.Site, 0, len(data.Sites))
	for _, ws := range data.Sites {
		site := models.Site{ID: ws.ID, Name: ws.Name}
		for _, wb := range ws.Buildings {
			site.Buildings = append(site.Buildings, wb.toModel())
		}
		sites = append(sites, site)
	}
	c.logger.Info("Fetched sites", zap.Int("sites", len(sites)))
	return sites, nil
}

// FetchSensorSeries 拉取指定建筑下各级点位的最新读数
// pointTypes 非空时按单位名或 exactType 过滤（不区分大小写）
func (c *Client) FetchSensorSeries(ctx context.Context, buildingIDs []string, pointTypes []string) ([]models.SensorPoint, error) {
	if len(buildingIDs) == 0 {
		return nil, nil
	}

	var data buildingsData
	vars := map[string]any{"ids": buildingIDs}
	if err := execute(ctx, c, "GetEnergyPoints", queryEnergyPoints, vars, &data); err != nil {
		return nil, err
	}

	var points []models.SensorPoint
	for _, wb := range data.Buildings {
		for _, p := range wb.flattenPoints() {
			if matchesPointType(p, pointTypes) {
				points = append(points, p)
			}
		}
	}
	c.logger.Debug("Fetched sensor series",
		zap.Int("buildings", len(buildingIDs)),
		zap.Int("points", len(points)),
	)
	return points, nil
}

func matchesPointType(p models.SensorPoint, pointTypes []string) bool {
	if len(pointTypes) == 0 {
		return true
	}
	for _, t := range pointTypes {
		if strings.EqualFold(t, p.Unit) || strings.EqualFold(t, p.ExactType) {
			return true
		}
	}
	return false
}

// execute 发送一次 GraphQL 请求：限速、超时、重试
func execute[T any](ctx context.Context, c *Client, operation, query string, vars map[string]any, out *T) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("failed to wait for rate limiter (%s): %w", operation, err)
		}
	}

	var result graphQLResponse[T]
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(graphQLRequest{Query: query, Variables: vars}).
		SetResult(&result).
		ForceContentType("application/json").
		Post(c.endpoint)
	if err != nil {
		c.logger.Error("Remote API call failed",
			zap.String("operation", operation),
			zap.Error(err),
		)
		return fmt.Errorf("failed to call remote API (%s): %w", operation, err)
	}
	if resp.IsError() {
		c.logger.Error("Remote API returned error status",
			zap.String("operation", operation),
			zap.Int("status_code", resp.StatusCode()),
		)
		return fmt.Errorf("remote API %s returned HTTP %d", operation, resp.StatusCode())
	}
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, e := range result.Errors {
			msgs = append(msgs, e.Message)
		}
		c.logger.Warn("Remote API returned GraphQL errors",
			zap.String("operation", operation),
			zap.Strings("errors", msgs),
		)
		return fmt.Errorf("%w in %s: %s", ErrGraphQL, operation, strings.Join(msgs, "; "))
	}

	*out = result.Data
	return nil
}
