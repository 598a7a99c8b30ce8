package model

import (
	"strings"
	"time"
)

// Category 文章分类，取值限定在固定集合内
type Category string

const (
	CategoryCocoa              Category = "cocoa"
	CategoryShea               Category = "shea"
	CategoryCashew             Category = "cashew"
	CategoryCoffee             Category = "coffee"
	CategoryGeneralAgriculture Category = "general_agriculture"
	CategoryFundingInvestment  Category = "funding_investment"
)

// Categories 全部合法分类，顺序与提示词保持一致
var Categories = []Category{
	CategoryCocoa,
	CategoryShea,
	CategoryCashew,
	CategoryCoffee,
	CategoryGeneralAgriculture,
	CategoryFundingInvestment,
}

// ParseCategory 宽松解析分类名称（忽略大小写，空格和连字符视为下划线）
func ParseCategory(raw string) (Category, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "_", "-", "_", "/", "_").Replace(s)
	for _, c := range Categories {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// RawResult 搜索接口返回的单条结果，只在一次运行内存在
type RawResult struct {
	Title        string
	Source       string
	PublishedAt  time.Time // 零值表示发布时间未知
	DayPrecision bool      // PublishedAt 只精确到天（当天 UTC 零点）
	DateText     string    // 搜索服务返回的原始日期文本
	URL          string
	Snippet      string
	Keyword      string // 命中该结果的关键词，仅用于日志
}

// HasDate 发布时间是否已知
func (r RawResult) HasDate() bool {
	return !r.PublishedAt.IsZero()
}

// Valid 标题和链接是必填字段
func (r RawResult) Valid() bool {
	return strings.TrimSpace(r.Title) != "" && strings.TrimSpace(r.URL) != ""
}

// Outcome 分类结果
type Outcome string

const (
	OutcomeRelevant       Outcome = "relevant"
	OutcomeNotRelevant    Outcome = "not_relevant"
	OutcomeUnclassifiable Outcome = "unclassifiable"
)

// Judgment LLM 对单篇文章的判断
type Judgment struct {
	Outcome       Outcome
	Category      Category
	Companies     []string
	FundingAmount string
	Summary       string
	KeyEntities   []string
}

// Relevant 是否需要入库
func (j Judgment) Relevant() bool {
	return j.Outcome == OutcomeRelevant
}

// ClassifiedRecord 持久化的一行记录，创建后不再修改
type ClassifiedRecord struct {
	Date               string
	Title              string
	Source             string
	Category           Category
	CompaniesMentioned []string
	FundingAmount      string
	Summary            string
	URL                string
	KeyEntities        []string
	AddedAt            time.Time
}

// NewRecord 由原始结果和判断结果构造记录
func NewRecord(raw RawResult, j Judgment, addedAt time.Time) ClassifiedRecord {
	date := raw.DateText
	if raw.HasDate() {
		date = raw.PublishedAt.Format(time.DateOnly)
	}
	return ClassifiedRecord{
		Date:               date,
		Title:              strings.TrimSpace(raw.Title),
		Source:             strings.TrimSpace(raw.Source),
		Category:           j.Category,
		CompaniesMentioned: UniqueStrings(j.Companies),
		FundingAmount:      strings.TrimSpace(j.FundingAmount),
		Summary:            strings.TrimSpace(j.Summary),
		URL:                strings.TrimSpace(raw.URL),
		KeyEntities:        UniqueStrings(j.KeyEntities),
		AddedAt:            addedAt,
	}
}

// UniqueStrings 去除空白项和重复项，保留首次出现的顺序
func UniqueStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
