package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/model"
	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/search"
)

const (
	providerName = "serper"
	baseURL      = "https://google.serper.dev/news"
)

// Client Serper.dev 新闻搜索客户端
type Client struct {
	apiKey   string
	endpoint string
	region   string
	client   *http.Client
}

// Option 客户端可选项
type Option func(*Client)

// WithEndpoint 替换接口地址（测试时指向 httptest）
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

// WithHTTPClient 替换 HTTP 客户端
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// NewClient 创建一个新的 Serper 客户端
func NewClient(apiKey, region string, opts ...Option) *Client {
	c := &Client{
		apiKey:   apiKey,
		endpoint: baseURL,
		region:   region,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Ensure Client implements search.Searcher
var _ search.Searcher = (*Client)(nil)

// SearchRequest Serper 请求体
type SearchRequest struct {
	Q   string `json:"q"`
	GL  string `json:"gl,omitempty"`
	Num int    `json:"num,omitempty"`
}

// SearchResponse Serper 响应体
type SearchResponse struct {
	News []NewsItem `json:"news"`
}

// NewsItem 单条新闻
type NewsItem struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
	Date    string `json:"date"`
	Source  string `json:"source"`
}

// Search implements search.Searcher
func (c *Client) Search(ctx context.Context, req *search.Request) (*search.Response, error) {
	region := req.Region
	if region == "" {
		region = c.region
	}
	num := req.MaxResults
	if num == 0 {
		num = 20
	}

	resp, err := c.doSearch(ctx, SearchRequest{
		Q:   buildQuery(req.Query, req.StartDate, req.EndDate),
		GL:  region,
		Num: num,
	})
	if err != nil {
		return nil, err
	}

	now := req.ReferenceTime()
	results := make([]model.RawResult, 0, len(resp.News))
	for _, n := range resp.News {
		published, dayOnly := search.ParsePublished(n.Date, now)
		results = append(results, model.RawResult{
			Title:        strings.TrimSpace(n.Title),
			Source:       strings.TrimSpace(n.Source),
			PublishedAt:  published,
			DayPrecision: dayOnly,
			DateText:     strings.TrimSpace(n.Date),
			URL:          strings.TrimSpace(n.Link),
			Snippet:      strings.TrimSpace(n.Snippet),
			Keyword:      req.Query,
		})
	}
	return &search.Response{Results: results}, nil
}

// buildQuery 用 Google 的 after:/before: 运算符限定日期范围
func buildQuery(query string, start, end time.Time) string {
	var sb strings.Builder
	sb.WriteString(query)
	if !start.IsZero() {
		sb.WriteString(" after:")
		sb.WriteString(start.Format(time.DateOnly))
	}
	if !end.IsZero() {
		sb.WriteString(" before:")
		// before: 不包含当天，向后推一天以覆盖窗口终点所在日期
		sb.WriteString(end.AddDate(0, 0, 1).Format(time.DateOnly))
	}
	return sb.String()
}

func (c *Client) doSearch(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request failed: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	httpReq.Header.Set("X-API-KEY", c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return nil, search.TransportError(providerName, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, search.TransportError(providerName, fmt.Errorf("read body failed: %w", err))
	}

	if res.StatusCode != http.StatusOK {
		return nil, search.StatusError(providerName, res.StatusCode, body)
	}

	var searchResp SearchResponse
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("unmarshal response failed: %w", err)
	}
	return &searchResp, nil
}
