package summarizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// DefaultAnthropicModel はANTHROPIC_MODEL未設定時のモデル。
const DefaultAnthropicModel = string(anthropic.ModelClaudeHaiku4_5)

// Anthropic はMessages APIでブリーフィングを生成する。
type Anthropic struct {
	client *anthropic.Client
	model  anthropic.Model
}

// NewAnthropic はAnthropicの新しいインスタンスを生成する。
func NewAnthropic(apiKey, modelName string, opts ...option.RequestOption) *Anthropic {
	if modelName == "" {
		modelName = DefaultAnthropicModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := anthropic.NewClient(opts...)
	return &Anthropic{
		client: &client,
		model:  anthropic.Model(modelName),
	}
}

// Summarize はプロンプトを送信し、テキストブロックを連結した応答を解釈する。
func (c *Anthropic) Summarize(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 2000,
		System: []anthropic.TextBlockParam{
			{Text: SystemPrompt(req.Preferences)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(UserPrompt(req))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic API error: %w", err)
	}
	if len(resp.Content) == 0 {
		return nil, fmt.Errorf("no response from anthropic")
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		sb.WriteString(block.Text)
	}
	content, err := parseContent(sb.String())
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	return &Response{Content: *content, Model: string(c.model)}, nil
}

var _ Summarizer = (*Anthropic)(nil)
