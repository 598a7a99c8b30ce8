package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/search"
)

// Mode 运行模式
type Mode string

const (
	// ModeBackfill 从指定日期回填到当前时间
	ModeBackfill Mode = "backfill"
	// ModeIncremental 从上次成功运行的结束时间处理到当前时间
	ModeIncremental Mode = "incremental"
)

// ParseMode 解析运行模式，空字符串视为回填
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeBackfill:
		return ModeBackfill, nil
	case ModeIncremental:
		return ModeIncremental, nil
	default:
		return "", fmt.Errorf("unknown run mode: %q", s)
	}
}

// Window 一次运行的处理窗口 [Start, End)
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains 判断时间是否落在窗口内
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Admits 判断发布时间是否属于本次运行。
// 只精确到天的日期按天比较，窗口起点所在的那一天整天都算在内；
// 重复处理由去重索引兜底。
func (w Window) Admits(t time.Time, dayOnly bool) bool {
	if !dayOnly {
		return w.Contains(t)
	}
	day := search.StartOfDay(t)
	return !day.Before(search.StartOfDay(w.Start)) && day.Before(w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// resolveWindow 确定本次运行的窗口；增量模式没有水位线时回退到回填起点
func (e *Engine) resolveWindow(ctx context.Context, log *logrus.Entry, ro RunOptions, now time.Time) (Window, error) {
	start := e.opts.BackfillStart
	switch ro.Mode {
	case ModeBackfill, "":
		if !ro.Start.IsZero() {
			start = ro.Start
		}
	case ModeIncremental:
		wm, ok, err := e.deps.Store.ReadWatermark(ctx)
		if err != nil {
			return Window{}, &FatalError{Op: "read watermark", Err: err}
		}
		if ok {
			start = wm
		} else {
			log.Warnf("没有上次运行记录，增量模式回退到回填起点 %s", start.Format(time.DateOnly))
		}
	default:
		return Window{}, fmt.Errorf("unknown run mode: %q", ro.Mode)
	}

	w := Window{Start: start, End: now}
	if !w.Start.Before(w.End) {
		return Window{}, fmt.Errorf("empty run window %s", w)
	}
	return w, nil
}
