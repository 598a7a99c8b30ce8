package searxng

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/model"
	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/search"
)

const providerName = "searxng"

// Client SearXNG API 客户端
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient 创建一个新的 SearXNG 客户端
func NewClient(baseURL string, timeout int) *Client {
	t := time.Duration(timeout) * time.Second
	if t == 0 {
		t = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: t},
	}
}

// Ensure Client implements search.Searcher
var _ search.Searcher = (*Client)(nil)

// SearchResponse SearXNG 响应结构
type SearchResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

// SearchResult SearXNG 单条结果
type SearchResult struct {
	Title         string   `json:"title"`
	URL           string   `json:"url"`
	Content       string   `json:"content"`
	PublishedDate string   `json:"publishedDate"`
	Engines       []string `json:"engines"`
	Score         float64  `json:"score"`
}

// Search 执行搜索
func (c *Client) Search(ctx context.Context, req *search.Request) (*search.Response, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/search"

	q := u.Query()
	q.Set("q", req.Query)
	q.Set("format", "json")
	q.Set("categories", "news")
	if req.Region != "" {
		q.Set("language", "en-"+strings.ToUpper(req.Region))
	}
	if tr := timeRange(req.StartDate, req.ReferenceTime()); tr != "" {
		q.Set("time_range", tr)
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}

	// 添加 User-Agent 避免被简单的反爬虫策略拦截
	httpReq.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return nil, search.TransportError(providerName, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(res.Body)
		return nil, search.StatusError(providerName, res.StatusCode, body)
	}

	var searchResp SearchResponse
	if err := json.NewDecoder(res.Body).Decode(&searchResp); err != nil {
		return nil, fmt.Errorf("decode response failed: %w", err)
	}

	now := req.ReferenceTime()
	results := make([]model.RawResult, 0, len(searchResp.Results))
	for _, r := range searchResp.Results {
		source := ""
		if len(r.Engines) > 0 {
			source = r.Engines[0]
		}
		if pu, err := url.Parse(r.URL); err == nil && pu.Hostname() != "" {
			source = strings.TrimPrefix(strings.ToLower(pu.Hostname()), "www.")
		}
		if req.MaxResults > 0 && len(results) >= req.MaxResults {
			break
		}
		published, dayOnly := search.ParsePublished(r.PublishedDate, now)
		results = append(results, model.RawResult{
			Title:        strings.TrimSpace(r.Title),
			Source:       source,
			PublishedAt:  published,
			DayPrecision: dayOnly,
			DateText:     strings.TrimSpace(r.PublishedDate),
			URL:          strings.TrimSpace(r.URL),
			Snippet:      strings.TrimSpace(r.Content),
			Keyword:      req.Query,
		})
	}

	return &search.Response{Results: results}, nil
}

// timeRange SearXNG 只支持 day/week/month/year 粒度，取能覆盖窗口的最小粒度
func timeRange(start, now time.Time) string {
	if start.IsZero() {
		return ""
	}
	span := now.Sub(start)
	switch {
	case span <= 24*time.Hour:
		return "day"
	case span <= 7*24*time.Hour:
		return "week"
	case span <= 31*24*time.Hour:
		return "month"
	case span <= 366*24*time.Hour:
		return "year"
	default:
		return ""
	}
}
