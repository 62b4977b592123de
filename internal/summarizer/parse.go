package summarizer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hitoshi/stockast/internal/model"
)

// cleanJSONResponse はコードフェンスや前後の説明文を取り除き、最も外側のJSONオブジェクトを取り出す。
func cleanJSONResponse(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		content = content[start : end+1]
	}
	return content
}

// parseContent はLLMの応答テキストをBriefingContentに変換する。
func parseContent(raw string) (*model.BriefingContent, error) {
	content := cleanJSONResponse(raw)
	if content == "" {
		return nil, fmt.Errorf("empty response")
	}

	var parsed model.BriefingContent
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	for i := range parsed.StockSummaries {
		s := &parsed.StockSummaries[i]
		s.Ticker = strings.ToUpper(strings.TrimSpace(s.Ticker))
		if s.NewsHighlights == nil {
			s.NewsHighlights = []string{}
		}
	}
	return &parsed, nil
}
