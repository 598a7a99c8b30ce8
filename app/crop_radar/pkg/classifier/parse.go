package classifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/model"
)

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// llmResponse LLM 返回的 JSON；字段类型不稳定，统一用宽松类型接收
type llmResponse struct {
	Relevance     flexBool   `json:"relevance"`
	Category      string     `json:"category"`
	Companies     flexList   `json:"companies_mentioned"`
	FundingAmount flexString `json:"funding_amount"`
	KeyEntities   flexList   `json:"key_entities"`
	Summary       string     `json:"summary"`
}

// parseJudgment 清理并解析 LLM 输出
func parseJudgment(text string) (model.Judgment, error) {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return model.Judgment{}, fmt.Errorf("%w: empty content", ErrMalformedResponse)
	}

	var resp llmResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return model.Judgment{}, fmt.Errorf("%w: %v, content: %.200s", ErrMalformedResponse, err, cleaned)
	}

	if !resp.Relevance {
		return model.Judgment{Outcome: model.OutcomeNotRelevant}, nil
	}

	category, ok := model.ParseCategory(resp.Category)
	if !ok {
		// 分类不在固定集合内，无法入库
		return model.Judgment{Outcome: model.OutcomeUnclassifiable}, nil
	}

	return model.Judgment{
		Outcome:       model.OutcomeRelevant,
		Category:      category,
		Companies:     model.UniqueStrings(resp.Companies),
		FundingAmount: strings.TrimSpace(string(resp.FundingAmount)),
		Summary:       strings.TrimSpace(resp.Summary),
		KeyEntities:   model.UniqueStrings(resp.KeyEntities),
	}, nil
}

// cleanJSON 去掉 markdown 代码块，截取最外层对象，删除尾随逗号
func cleanJSON(text string) string {
	s := strings.TrimSpace(text)
	if _, after, ok := strings.Cut(s, "```json"); ok {
		s, _, _ = strings.Cut(after, "```")
	} else if _, after, ok := strings.Cut(s, "```"); ok {
		s, _, _ = strings.Cut(after, "```")
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	s = s[start : end+1]

	return trailingComma.ReplaceAllString(s, "$1")
}

// flexList 接受字符串数组、单个字符串或 null
type flexList []string

func (l *flexList) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		*l = nil
	case string:
		if strings.TrimSpace(t) != "" {
			*l = flexList{t}
		}
	case []any:
		out := make(flexList, 0, len(t))
		for _, item := range t {
			if item == nil {
				continue
			}
			out = append(out, fmt.Sprint(item))
		}
		*l = out
	default:
		*l = flexList{fmt.Sprint(t)}
	}
	return nil
}

// flexString 接受字符串、数字或 null
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = flexString(str)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(data, &num); err == nil {
		*s = flexString(num.String())
		return nil
	}
	*s = ""
	return nil
}

// flexBool 接受布尔值或 "true"/"yes" 字符串
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*b = flexBool(t)
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes":
			*b = true
		default:
			*b = false
		}
	default:
		*b = false
	}
	return nil
}
