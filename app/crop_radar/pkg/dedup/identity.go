package dedup

import (
	"net/url"
	"strings"
	"unicode"

	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/model"
)

// Separator 标题与链接之间的分隔符（ASCII Unit Separator）。
// 归一化时会删除所有控制字符，因此分隔符不可能出现在任一部分内部。
const Separator = "\x1f"

// Identity 文章的规范化身份，用作去重键
type Identity string

// IdentityOf 由标题和链接计算规范化身份
func IdentityOf(title, rawURL string) Identity {
	return Identity(NormalizeTitle(title) + Separator + NormalizeURL(rawURL))
}

// FromRaw 计算搜索结果的身份
func FromRaw(r model.RawResult) Identity {
	return IdentityOf(r.Title, r.URL)
}

// FromRecord 由已入库记录的 Title/URL 列还原身份
func FromRecord(rec model.ClassifiedRecord) Identity {
	return IdentityOf(rec.Title, rec.URL)
}

// Parts 拆分出归一化后的标题和链接
func (id Identity) Parts() (title, link string) {
	title, link, _ = strings.Cut(string(id), Separator)
	return title, link
}

// NormalizeTitle 转小写，连续空白折叠为单个空格，去除首尾空白和控制字符
func NormalizeTitle(title string) string {
	fields := strings.Fields(strings.ToLower(title))
	out := fields[:0]
	for _, f := range fields {
		if f = stripControl(f); f != "" {
			out = append(out, f)
		}
	}
	return strings.Join(out, " ")
}

// NormalizeURL 去掉协议、查询串、片段和末尾斜杠，host 转小写。
// 无法解析的链接退化为小写文本，并在第一个 '?' 或 '#' 处截断。
func NormalizeURL(raw string) string {
	raw = stripControl(strings.TrimSpace(raw))
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return normalizeLoose(raw)
	}

	return strings.ToLower(u.Host) + strings.TrimRight(u.EscapedPath(), "/")
}

func normalizeLoose(raw string) string {
	s := strings.ToLower(raw)
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+len("://"):]
	}
	return strings.TrimRight(s, "/")
}

func stripControl(s string) string {
	if strings.IndexFunc(s, unicode.IsControl) < 0 {
		return s
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
