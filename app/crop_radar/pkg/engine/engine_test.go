package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"

	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/classifier"
	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/model"
	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/search"
	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/storage"
)

var (
	backfillStart = time.Date(2025, 11, 1, 0, 0, 0, 0, time.UTC)
	runEnd        = time.Date(2025, 11, 8, 0, 0, 0, 0, time.UTC)
)

func day(m time.Month, d int) time.Time {
	return time.Date(2025, m, d, 0, 0, 0, 0, time.UTC)
}

func article(title, link string, published time.Time) model.RawResult {
	return model.RawResult{
		Title:       title,
		Source:      "GhanaWeb",
		PublishedAt: published,
		URL:         link,
		Snippet:     "snippet for " + title,
	}
}

type fakeSearcher struct {
	results  map[string][]model.RawResult
	errs     map[string][]error
	calls    map[string]int
	requests []*search.Request
}

func newFakeSearcher() *fakeSearcher {
	return &fakeSearcher{
		results: map[string][]model.RawResult{},
		errs:    map[string][]error{},
		calls:   map[string]int{},
	}
}

func (f *fakeSearcher) Search(_ context.Context, req *search.Request) (*search.Response, error) {
	i := f.calls[req.Query]
	f.calls[req.Query]++
	f.requests = append(f.requests, req)
	if errs := f.errs[req.Query]; i < len(errs) && errs[i] != nil {
		return nil, errs[i]
	}
	return &search.Response{Results: append([]model.RawResult(nil), f.results[req.Query]...)}, nil
}

type fakeClassifier struct {
	calls map[string]int
	judge func(raw model.RawResult) (model.Judgment, error)
}

func newFakeClassifier() *fakeClassifier {
	return &fakeClassifier{calls: map[string]int{}}
}

func (f *fakeClassifier) Classify(_ context.Context, raw model.RawResult) (model.Judgment, error) {
	f.calls[raw.Title]++
	if f.judge != nil {
		return f.judge(raw)
	}
	return model.Judgment{
		Outcome:   model.OutcomeRelevant,
		Category:  model.CategoryCocoa,
		Companies: []string{"COCOBOD"},
		Summary:   "summary of " + raw.Title,
	}, nil
}

func (f *fakeClassifier) total() int {
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// flakyStore 在第 failAt 次追加时返回错误
type flakyStore struct {
	*storage.MemoryStore
	appends int
	failAt  int
}

func (s *flakyStore) AppendRecord(ctx context.Context, rec model.ClassifiedRecord) error {
	s.appends++
	if s.failAt > 0 && s.appends >= s.failAt {
		return errors.New("sheets: 503 backend unavailable")
	}
	return s.MemoryStore.AppendRecord(ctx, rec)
}

// conflictStore 模拟带唯一约束的存储：指定标题的记录已存在
type conflictStore struct {
	*storage.MemoryStore
	existing map[string]bool
}

func (s *conflictStore) AppendRecord(ctx context.Context, rec model.ClassifiedRecord) error {
	if s.existing[rec.Title] {
		return fmt.Errorf("%w: %q", storage.ErrDuplicateRecord, rec.Title)
	}
	return s.MemoryStore.AppendRecord(ctx, rec)
}

// dated 按搜索服务返回的日期文本构造结果
func dated(title, link, text string, now time.Time) model.RawResult {
	raw := article(title, link, time.Time{})
	raw.PublishedAt, raw.DayPrecision = search.ParsePublished(text, now)
	return raw
}

func newEngine(s search.Searcher, c Classifier, st storage.Store, keywords ...string) *Engine {
	return New(Deps{
		Searcher:   s,
		Classifier: c,
		Store:      st,
		Now:        func() time.Time { return runEnd },
	}, Options{
		Keywords:          keywords,
		Region:            "gh",
		MaxResults:        20,
		SearchMaxAttempts: 2,
		IncludeUndated:    true,
		BackfillStart:     backfillStart,
	})
}

func titles(t *testing.T, st storage.Store) []string {
	t.Helper()
	recs, err := st.ListRecords(context.Background())
	require.NoError(t, err)
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Title
	}
	return out
}

func TestRunIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newFakeSearcher()
	s.results["Ghana cocoa news"] = []model.RawResult{
		article("COCOBOD secures loan", "https://ghanaweb.com/a", day(11, 3)),
		article("Cocoa smuggling rises", "https://ghanaweb.com/b", day(11, 4)),
	}
	s.results["Ghana cashew export"] = []model.RawResult{
		article("Cashew exports double", "https://ghanaweb.com/c", day(11, 5)),
	}
	c := newFakeClassifier()
	st := storage.NewMemoryStore()
	e := newEngine(s, c, st, "Ghana cocoa news", "Ghana cashew export")

	res, err := e.Run(ctx, RunOptions{Mode: ModeBackfill})
	require.NoError(t, err)
	require.Equal(t, 3, res.Added())
	first := titles(t, st)

	res, err = e.Run(ctx, RunOptions{Mode: ModeBackfill})
	require.NoError(t, err)
	require.Equal(t, 0, res.Added())
	require.Equal(t, 3, res.Warm)
	require.Equal(t, first, titles(t, st))
	// 第二次运行全部命中去重，不再调用分类器
	require.Equal(t, 3, c.total())
}

func TestCrossKeywordDedup(t *testing.T) {
	s := newFakeSearcher()
	s.results["Ghana cocoa news"] = []model.RawResult{
		article("Cocoa Prices  Rise", "https://x.com/a?ref=1", day(11, 6)),
	}
	s.results["cocoa price Ghana"] = []model.RawResult{
		article("cocoa prices rise", "https://x.com/a", day(11, 6)),
	}
	c := newFakeClassifier()
	st := storage.NewMemoryStore()

	res, err := newEngine(s, c, st, "Ghana cocoa news", "cocoa price Ghana").Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Len(t, titles(t, st), 1)
	require.Equal(t, 1, c.total())
	require.Equal(t, 1, res.Keywords[1].Duplicate)
}

func TestDateWindowFiltering(t *testing.T) {
	s := newFakeSearcher()
	s.results["Ghana cocoa news"] = []model.RawResult{
		article("Dated Oct 31", "https://x.com/oct31", day(10, 31)),
		article("Dated Nov 7", "https://x.com/nov7", day(11, 7)),
		article("Undated", "https://x.com/undated", time.Time{}),
		article("Dated Nov 8", "https://x.com/nov8", day(11, 8)),
	}
	c := newFakeClassifier()
	st := storage.NewMemoryStore()

	res, err := newEngine(s, c, st, "Ghana cocoa news").Run(context.Background(), RunOptions{Mode: ModeBackfill})
	require.NoError(t, err)
	require.Equal(t, Window{Start: backfillStart, End: runEnd}, res.Window)
	require.Equal(t, []string{"Dated Nov 7", "Undated"}, titles(t, st))
	require.Equal(t, 2, res.Keywords[0].OutOfWindow)
	require.Zero(t, c.calls["Dated Oct 31"])

	recs, err := st.ListRecords(context.Background())
	require.NoError(t, err)
	require.Equal(t, "2025-11-07", recs[0].Date)
	require.Equal(t, runEnd, recs[0].AddedAt)
}

func TestUndatedExcludedWhenConfigured(t *testing.T) {
	s := newFakeSearcher()
	s.results["Ghana cocoa news"] = []model.RawResult{
		article("Undated", "https://x.com/undated", time.Time{}),
	}
	st := storage.NewMemoryStore()
	e := newEngine(s, newFakeClassifier(), st, "Ghana cocoa news")
	e.opts.IncludeUndated = false

	res, err := e.Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Empty(t, titles(t, st))
	require.Equal(t, 1, res.Keywords[0].OutOfWindow)
}

type scriptedGenerator struct {
	calls map[string]int
}

func (g *scriptedGenerator) Generate(_ context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	prompt := input[len(input)-1].Content
	key := "ok"
	if strings.Contains(prompt, "Broken feed item") {
		key = "broken"
	}
	g.calls[key]++
	if key == "broken" {
		return nil, errors.New("read tcp: connection reset by peer")
	}
	return &schema.Message{Role: schema.Assistant, Content: `{"relevance": true, "category": "shea"}`}, nil
}

func TestClassifierFailsOpen(t *testing.T) {
	s := newFakeSearcher()
	s.results["Ghana shea butter industry"] = []model.RawResult{
		article("Shea cooperative expands", "https://x.com/1", day(11, 2)),
		article("Broken feed item", "https://x.com/2", day(11, 3)),
		article("Shea exports climb", "https://x.com/3", day(11, 4)),
	}
	gen := &scriptedGenerator{calls: map[string]int{}}
	c := classifier.New(gen, classifier.Options{MaxAttempts: 3})
	st := storage.NewMemoryStore()

	res, err := newEngine(s, c, st, "Ghana shea butter industry").Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 3, gen.calls["broken"])
	require.Equal(t, []string{"Shea cooperative expands", "Shea exports climb"}, titles(t, st))
	require.Equal(t, 1, res.Keywords[0].Unclassifiable)
	require.True(t, res.WatermarkAdvanced)
}

func TestNotRelevantAndUnclassifiableSkipped(t *testing.T) {
	s := newFakeSearcher()
	s.results["Ghana cocoa news"] = []model.RawResult{
		article("Football results", "https://x.com/f", day(11, 2)),
		article("Gold mining", "https://x.com/g", day(11, 2)),
	}
	c := newFakeClassifier()
	c.judge = func(raw model.RawResult) (model.Judgment, error) {
		if raw.Title == "Football results" {
			return model.Judgment{Outcome: model.OutcomeNotRelevant}, nil
		}
		return model.Judgment{Outcome: model.OutcomeUnclassifiable}, nil
	}
	st := storage.NewMemoryStore()

	res, err := newEngine(s, c, st, "Ghana cocoa news").Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Empty(t, titles(t, st))
	require.Equal(t, 1, res.Keywords[0].NotRelevant)
	require.Equal(t, 1, res.Keywords[0].Unclassifiable)
}

func TestWatermarkAdvancesOnSuccess(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()
	prior := day(11, 5)
	require.NoError(t, st.WriteWatermark(ctx, prior))

	s := newFakeSearcher()
	res, err := newEngine(s, newFakeClassifier(), st, "Ghana cocoa news").Run(ctx, RunOptions{Mode: ModeIncremental})
	require.NoError(t, err)
	require.Equal(t, Window{Start: prior, End: runEnd}, res.Window)
	require.Equal(t, prior, s.requests[0].StartDate)

	wm, ok, err := st.ReadWatermark(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, runEnd, wm)
}

func TestFatalStoreErrorKeepsWatermark(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{MemoryStore: storage.NewMemoryStore(), failAt: 2}
	prior := day(11, 5)
	require.NoError(t, st.WriteWatermark(ctx, prior))

	s := newFakeSearcher()
	s.results["Ghana cocoa news"] = []model.RawResult{
		article("First", "https://x.com/1", day(11, 6)),
		article("Second", "https://x.com/2", day(11, 6)),
		article("Third", "https://x.com/3", day(11, 6)),
	}
	s.results["Ghana Cocoa Board"] = []model.RawResult{
		article("Fourth", "https://x.com/4", day(11, 6)),
	}
	c := newFakeClassifier()

	res, err := newEngine(s, c, st, "Ghana cocoa news", "Ghana Cocoa Board").Run(ctx, RunOptions{Mode: ModeIncremental})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrFatal)
	var fatal *FatalError
	require.True(t, errors.As(err, &fatal))
	require.Equal(t, "append record", fatal.Op)
	require.False(t, res.WatermarkAdvanced)

	wm, ok, err := st.ReadWatermark(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, prior, wm)

	// 中止后不再处理剩余结果和关键词
	require.Zero(t, c.calls["Third"])
	require.Zero(t, s.calls["Ghana Cocoa Board"])
	require.Equal(t, []string{"First"}, titles(t, st))
}

func TestIncrementalWithoutWatermarkFallsBack(t *testing.T) {
	s := newFakeSearcher()
	res, err := newEngine(s, newFakeClassifier(), storage.NewMemoryStore(), "Ghana cocoa news").
		Run(context.Background(), RunOptions{Mode: ModeIncremental})
	require.NoError(t, err)
	require.Equal(t, backfillStart, res.Window.Start)
}

func TestBackfillExplicitStart(t *testing.T) {
	s := newFakeSearcher()
	start := day(10, 1)
	res, err := newEngine(s, newFakeClassifier(), storage.NewMemoryStore(), "Ghana cocoa news").
		Run(context.Background(), RunOptions{Mode: ModeBackfill, Start: start})
	require.NoError(t, err)
	require.Equal(t, start, res.Window.Start)
	require.Equal(t, start, s.requests[0].StartDate)
	require.Equal(t, runEnd, s.requests[0].EndDate)
	require.Equal(t, "gh", s.requests[0].Region)
}

func TestEmptyWindowRejected(t *testing.T) {
	st := storage.NewMemoryStore()
	_, err := newEngine(newFakeSearcher(), newFakeClassifier(), st, "Ghana cocoa news").
		Run(context.Background(), RunOptions{Mode: ModeBackfill, Start: runEnd.AddDate(0, 0, 1)})
	require.Error(t, err)

	_, ok, err := st.ReadWatermark(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSearchFailureSkipsKeyword(t *testing.T) {
	s := newFakeSearcher()
	s.errs["Ghana cocoa news"] = []error{search.StatusError("serper", 429, []byte(`{"message":"Not enough credits"}`))}
	s.errs["COCOBOD announcement"] = []error{search.StatusError("serper", 400, []byte("bad query"))}
	s.results["Ghana coffee farming"] = []model.RawResult{
		article("Coffee revival in Volta", "https://x.com/coffee", day(11, 2)),
	}
	st := storage.NewMemoryStore()

	res, err := newEngine(s, newFakeClassifier(), st, "Ghana cocoa news", "COCOBOD announcement", "Ghana coffee farming").
		Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.True(t, res.WatermarkAdvanced)
	require.Equal(t, []string{"Coffee revival in Volta"}, titles(t, st))

	require.ErrorIs(t, res.Keywords[0].SearchErr, search.ErrQuotaExceeded)
	require.ErrorIs(t, res.Keywords[1].SearchErr, search.ErrRejected)
	// 配额和请求错误不重试
	require.Equal(t, 1, s.calls["Ghana cocoa news"])
	require.Equal(t, 1, s.calls["COCOBOD announcement"])
}

func TestSearchRetriesTransientError(t *testing.T) {
	s := newFakeSearcher()
	s.errs["Ghana cocoa news"] = []error{search.StatusError("serper", 502, nil)}
	s.results["Ghana cocoa news"] = []model.RawResult{
		article("Recovered", "https://x.com/r", day(11, 2)),
	}
	st := storage.NewMemoryStore()

	_, err := newEngine(s, newFakeClassifier(), st, "Ghana cocoa news").Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, s.calls["Ghana cocoa news"])
	require.Equal(t, []string{"Recovered"}, titles(t, st))
}

func TestMalformedResultSkipped(t *testing.T) {
	s := newFakeSearcher()
	s.results["Ghana cocoa news"] = []model.RawResult{
		article("", "https://x.com/notitle", day(11, 2)),
		article("No link", " ", day(11, 2)),
		article("Fine", "https://x.com/fine", day(11, 2)),
	}
	c := newFakeClassifier()
	st := storage.NewMemoryStore()

	res, err := newEngine(s, c, st, "Ghana cocoa news").Run(context.Background(), RunOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, res.Keywords[0].Malformed)
	require.Equal(t, 1, c.total())
	require.Equal(t, []string{"Fine"}, titles(t, st))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	require.Equal(t, ModeBackfill, m)

	m, err = ParseMode(" Incremental ")
	require.NoError(t, err)
	require.Equal(t, ModeIncremental, m)

	_, err = ParseMode("weekly")
	require.Error(t, err)
}

func TestWindowContains(t *testing.T) {
	w := Window{Start: backfillStart, End: runEnd}
	require.True(t, w.Contains(backfillStart))
	require.True(t, w.Contains(day(11, 7)))
	require.False(t, w.Contains(day(10, 31)))
	require.False(t, w.Contains(runEnd))
}

func TestIncrementalKeepsSameDayDates(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemoryStore()
	prior := time.Date(2025, 11, 7, 10, 0, 0, 0, time.UTC)
	require.NoError(t, st.WriteWatermark(ctx, prior))

	s := newFakeSearcher()
	s.results["Ghana cocoa news"] = []model.RawResult{
		dated("Cocoa farmgate price raised", "https://x.com/nov7", "Nov 7, 2025", runEnd),
		dated("Older cocoa story", "https://x.com/nov6", "Nov 6, 2025", runEnd),
	}

	res, err := newEngine(s, newFakeClassifier(), st, "Ghana cocoa news").Run(ctx, RunOptions{Mode: ModeIncremental})
	require.NoError(t, err)
	require.Equal(t, prior, res.Window.Start)
	// 水位线当天只有日期的结果仍然入库
	require.Equal(t, []string{"Cocoa farmgate price raised"}, titles(t, st))
	require.Equal(t, 1, res.Keywords[0].OutOfWindow)
}

func TestRelativeDatesAtRunTime(t *testing.T) {
	s := newFakeSearcher()
	now := time.Date(2025, 11, 8, 6, 0, 0, 0, time.UTC)
	s.results["Ghana cocoa news"] = []model.RawResult{
		dated("Posted today", "https://x.com/today", "today", now),
		dated("Posted just now", "https://x.com/now", "just now", now),
		dated("Posted an hour ago", "https://x.com/hour", "1 hour ago", now),
		dated("Posted yesterday", "https://x.com/yesterday", "yesterday", now),
	}
	st := storage.NewMemoryStore()
	e := newEngine(s, newFakeClassifier(), st, "Ghana cocoa news")
	e.deps.Now = func() time.Time { return now }

	res, err := e.Run(context.Background(), RunOptions{Mode: ModeBackfill})
	require.NoError(t, err)
	require.Zero(t, res.Keywords[0].OutOfWindow)
	require.Equal(t, 4, res.Added())
	require.Len(t, titles(t, st), 4)
}

func TestStoreConflictCountedAsDuplicate(t *testing.T) {
	ctx := context.Background()
	st := &conflictStore{
		MemoryStore: storage.NewMemoryStore(),
		existing:    map[string]bool{"Already stored": true},
	}
	s := newFakeSearcher()
	s.results["Ghana cocoa news"] = []model.RawResult{
		article("Already stored", "https://x.com/old", day(11, 3)),
		article("Fresh story", "https://x.com/new", day(11, 4)),
	}
	s.results["Ghana Cocoa Board"] = []model.RawResult{
		article("Already stored", "https://x.com/old", day(11, 3)),
	}
	c := newFakeClassifier()

	res, err := newEngine(s, c, st, "Ghana cocoa news", "Ghana Cocoa Board").Run(ctx, RunOptions{})
	require.NoError(t, err)
	require.True(t, res.WatermarkAdvanced)
	require.Equal(t, 1, res.Keywords[0].Duplicate)
	require.Equal(t, 1, res.Keywords[0].Added)
	require.Equal(t, 1, res.Added())
	// 冲突后写入索引，第二个关键词不再分类
	require.Equal(t, 1, res.Keywords[1].Duplicate)
	require.Equal(t, 1, c.calls["Already stored"])
	require.Equal(t, []string{"Fresh story"}, titles(t, st))
}

func TestWindowAdmits(t *testing.T) {
	w := Window{Start: time.Date(2025, 11, 7, 10, 0, 0, 0, time.UTC), End: runEnd}
	require.True(t, w.Admits(day(11, 7), true))
	require.False(t, w.Admits(day(11, 7), false))
	require.False(t, w.Admits(day(11, 6), true))
	require.False(t, w.Admits(runEnd, true))
	require.True(t, w.Admits(time.Date(2025, 11, 7, 23, 0, 0, 0, time.UTC), false))
}
