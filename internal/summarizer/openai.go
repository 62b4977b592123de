package summarizer

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultOpenAIModel はOPENAI_MODEL未設定時のモデル。
const DefaultOpenAIModel = "gpt-4o-mini"

// OpenAI はChat Completions APIでブリーフィングを生成する。
type OpenAI struct {
	client *openai.Client
	model  openai.ChatModel
}

// NewOpenAI はOpenAIの新しいインスタンスを生成する。optsはテスト時のベースURL差し替えなどに使う。
func NewOpenAI(apiKey, modelName string, opts ...option.RequestOption) *OpenAI {
	if modelName == "" {
		modelName = DefaultOpenAIModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := openai.NewClient(opts...)
	return &OpenAI{
		client: &client,
		model:  openai.ChatModel(modelName),
	}
}

// Summarize はプロンプトを送信し、応答をBriefingContentとして解釈する。
func (c *OpenAI) Summarize(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemPrompt(req.Preferences)),
			openai.UserMessage(UserPrompt(req)),
		},
		Temperature: openai.Float(0.7),
		MaxTokens:   openai.Int(2000),
	})
	if err != nil {
		return nil, fmt.Errorf("openai API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from openai")
	}

	content, err := parseContent(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	return &Response{Content: *content, Model: string(c.model)}, nil
}

var _ Summarizer = (*OpenAI)(nil)
