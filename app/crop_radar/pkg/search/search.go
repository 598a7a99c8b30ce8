package search

import (
	"context"
	"time"

	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/model"
)

// Searcher 定义通用的搜索接口
type Searcher interface {
	Search(ctx context.Context, req *Request) (*Response, error)
}

// Request 通用搜索请求
type Request struct {
	Query      string
	Region     string // 例如 "gh"
	MaxResults int
	StartDate  time.Time // 搜索窗口起点，零值表示不限
	EndDate    time.Time // 搜索窗口终点，零值表示不限
	Now        time.Time // 解析 "3 days ago" 这类相对日期的参考时间
}

// Response 通用搜索响应，结果顺序即服务返回顺序
type Response struct {
	Results []model.RawResult
}

// ReferenceTime 相对日期的参考时间
func (r *Request) ReferenceTime() time.Time {
	if r.Now.IsZero() {
		return time.Now()
	}
	return r.Now
}
