package classifier

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/iWorld-y/crop_radar/app/crop_radar/pkg/model"
)

const systemPrompt = "You are a JSON generator. Output a single JSON object and nothing else."

const promptTpl = `Analyze this news search result about Ghana agriculture. Return ONLY a JSON object.

Output exactly this structure:
{"relevance":true,"category":"cocoa","companies_mentioned":[],"funding_amount":null,"key_entities":[],"summary":"<one or two sentences>"}

Categories: %s
Set relevance=true only if the article is about Ghana/Africa cash crops or agricultural investment.
funding_amount is a free-form string such as "$2.5 million", or null when no amount is mentioned.

Article:
%s

JSON object:`

const maxSnippetLen = 1000

// buildMessages 构造单篇文章的提示词
func buildMessages(raw model.RawResult) []*schema.Message {
	snippet := raw.Snippet
	if r := []rune(snippet); len(r) > maxSnippetLen {
		snippet = string(r[:maxSnippetLen])
	}

	article, _ := json.Marshal(struct {
		Title   string `json:"title"`
		Source  string `json:"source"`
		Date    string `json:"date"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	}{
		Title:   raw.Title,
		Source:  raw.Source,
		Date:    raw.DateText,
		Link:    raw.URL,
		Snippet: snippet,
	})

	names := make([]string, len(model.Categories))
	for i, c := range model.Categories {
		names[i] = string(c)
	}

	return []*schema.Message{
		{Role: schema.System, Content: systemPrompt},
		{Role: schema.User, Content: fmt.Sprintf(promptTpl, strings.Join(names, ", "), article)},
	}
}
