package summarizer

import (
	"fmt"
	"strings"

	"github.com/hitoshi/stockast/internal/model"
)

const baseSystemPrompt = `あなたはプロの金融アナリストです。米国株のデイリーブリーフィングを日本語で作成します。

要件:
- 簡潔で読みやすい日本語
- 絵文字の使用: 📈（上昇）、📉（下落）、⚠️（注意）
- 投資助言はしない
- 客観的な情報提供に徹する
- %s
- %s
- 出力はJSONのみ`

const outputFormat = `### 出力形式
次のJSONのみを出力してください。stockSummariesは市場データと同じ銘柄を同じ順序で含めてください:
{
  "marketOverview": "市場全体の動向（2〜3文）",
  "stockSummaries": [
    {
      "ticker": "ティッカー",
      "name": "会社名",
      "priceContext": "株価状況の簡単な説明",
      "newsHighlights": ["ニュースのハイライト1", "ニュースのハイライト2"],
      "outlook": "短期的な見通し（1〜2文）"
    }
  ],
  "dailySummary": "今日の要点（1文）"
}`

// SystemPrompt は文体と観点を反映したシステムプロンプトを返す。
func SystemPrompt(p model.Preferences) string {
	p = p.Normalize()

	style := "要点を最大3つに絞って要約してください。"
	if p.Style == model.StyleDetailed {
		style = "詳しい分析とともに複数のポイントを含めてください。"
	}

	var focus string
	switch p.Focus {
	case model.FocusPrice:
		focus = "株価の変動に焦点を当てて分析してください。"
	case model.FocusNews:
		focus = "ニュースの内容に焦点を当てて分析してください。"
	default:
		focus = "株価とニュースの両方をバランスよく分析してください。"
	}
	return fmt.Sprintf(baseSystemPrompt, style, focus)
}

// UserPrompt は銘柄ごとの市場データを含むユーザープロンプトを返す。
func UserPrompt(req Request) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s版の米国株ブリーフィングを作成してください。\n\n### 市場データ\n", req.EditionDate)

	for _, s := range req.Stocks {
		fmt.Fprintf(&sb, "\n## %s (%s)\n", s.Ticker, s.Name)
		if s.HasQuote {
			fmt.Fprintf(&sb, "- 現在値: $%.2f (%s, %.2f%%)\n", s.Price, signed(s.Change), s.ChangePercent)
		} else {
			sb.WriteString("- 現在値: データなし\n")
		}

		headlines := s.Headlines
		if len(headlines) > MaxHeadlinesPerStock {
			headlines = headlines[:MaxHeadlinesPerStock]
		}
		fmt.Fprintf(&sb, "- 主要ニュース (%d件):\n", len(headlines))
		for _, h := range headlines {
			fmt.Fprintf(&sb, "  - %s\n", h)
		}
	}

	sb.WriteString("\n")
	sb.WriteString(outputFormat)
	return sb.String()
}

func signed(v float64) string {
	if v >= 0 {
		return fmt.Sprintf("+%.2f", v)
	}
	return fmt.Sprintf("%.2f", v)
}
