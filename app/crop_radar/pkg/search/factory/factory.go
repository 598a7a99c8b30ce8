package factory

import (
	"fmt"

	"golang.org/x/time/rate"

	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/config"
	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/logger"
	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/search"
	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/searxng"
	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/serper"
	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/tavily"
)

// NewSearcher 根据配置创建搜索实例，并按 search_rpm 限流
func NewSearcher(cfg *config.Config) (search.Searcher, error) {
	var s search.Searcher

	switch cfg.Search.Provider {
	case "serper":
		if cfg.Search.Serper.APIKey == "" {
			return nil, fmt.Errorf("serper api key is missing")
		}
		s = serper.NewClient(cfg.Search.Serper.APIKey, cfg.Search.Serper.Region)

	case "tavily":
		if cfg.Search.Tavily.APIKey == "" {
			return nil, fmt.Errorf("tavily api key is missing")
		}
		s = tavily.NewClient(cfg.Search.Tavily.APIKey)

	case "searxng":
		if cfg.Search.SearXNG.BaseURL == "" {
			return nil, fmt.Errorf("searxng base url is missing")
		}
		s = searxng.NewClient(cfg.Search.SearXNG.BaseURL, cfg.Search.SearXNG.Timeout)

	default:
		return nil, fmt.Errorf("unknown search provider: %s", cfg.Search.Provider)
	}

	if rpm := cfg.Concurrency.SearchRPM; rpm > 0 {
		limit := rate.Limit(float64(rpm) / 60.0)
		logger.Log.Infof("搜索限流器已配置: provider=%s, Limit=%.2f req/s", cfg.Search.Provider, limit)
		s = search.WithLimiter(s, rate.NewLimiter(limit, 1))
	}
	return s, nil
}
