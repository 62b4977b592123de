package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	openaiopt "github.com/openai/openai-go/option"
)

const briefingJSON = `{"marketOverview":"堅調","stockSummaries":[{"ticker":"AAPL","name":"Apple","priceContext":"上昇","newsHighlights":[],"outlook":"堅調"}],"dailySummary":"要点"}`

func TestOpenAI_Summarize(t *testing.T) {
	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &body)

		content, _ := json.Marshal("```json\n" + briefingJSON + "\n```")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":` + string(content) + `}}]}`))
	}))
	defer ts.Close()

	c := NewOpenAI("test-key", "", openaiopt.WithBaseURL(ts.URL+"/"), openaiopt.WithMaxRetries(0))
	resp, err := c.Summarize(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if resp.Model != DefaultOpenAIModel {
		t.Errorf("Model = %q", resp.Model)
	}
	if resp.Content.MarketOverview != "堅調" || len(resp.Content.StockSummaries) != 1 {
		t.Errorf("content = %+v", resp.Content)
	}
	if body["model"] != DefaultOpenAIModel {
		t.Errorf("request model = %v", body["model"])
	}
	if msgs, ok := body["messages"].([]any); !ok || len(msgs) != 2 {
		t.Errorf("request messages = %v", body["messages"])
	}
}

func TestOpenAI_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"quota exceeded","type":"insufficient_quota"}}`))
	}))
	defer ts.Close()

	c := NewOpenAI("test-key", "gpt-4o", openaiopt.WithBaseURL(ts.URL+"/"), openaiopt.WithMaxRetries(0))
	if _, err := c.Summarize(context.Background(), testRequest()); err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestAnthropic_Summarize(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			t.Errorf("path = %s", r.URL.Path)
		}
		text, _ := json.Marshal("ブリーフィングです。\n" + briefingJSON)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-haiku-4-5","content":[{"type":"text","text":` + string(text) + `}],"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":10}}`))
	}))
	defer ts.Close()

	c := NewAnthropic("test-key", "", anthropicopt.WithBaseURL(ts.URL+"/"), anthropicopt.WithMaxRetries(0))
	resp, err := c.Summarize(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if resp.Model != DefaultAnthropicModel {
		t.Errorf("Model = %q", resp.Model)
	}
	if resp.Content.DailySummary != "要点" {
		t.Errorf("content = %+v", resp.Content)
	}
}

func TestAnthropic_MalformedResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-haiku-4-5","content":[{"type":"text","text":"申し訳ありません"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer ts.Close()

	c := NewAnthropic("test-key", "", anthropicopt.WithBaseURL(ts.URL+"/"), anthropicopt.WithMaxRetries(0))
	if _, err := c.Summarize(context.Background(), testRequest()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDisabled(t *testing.T) {
	if _, err := (Disabled{}).Summarize(context.Background(), testRequest()); !errors.Is(err, ErrDisabled) {
		t.Errorf("err = %v, want ErrDisabled", err)
	}
}
