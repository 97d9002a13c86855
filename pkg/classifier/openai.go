package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/ReaganKibet/chatbot-trial/pkg/models"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o-mini"
)

const systemPrompt = `You classify customer messages for an online shop chatbot.
Reply with a single JSON object and nothing else, with exactly these fields:
{"intent": string, "confidence": number between 0 and 1,
 "entities": {"products": [string], "categories": [string], "price": number or null,
              "price_qualifier": "under" | "over" | "around" | "exact" | "", "quantity": integer},
 "sentiment": {"score": number between -1 and 1, "label": "positive" | "neutral" | "negative"}}
intent must be one of: greeting, browse_catalog, product_search, product_info,
recommendation, faq, support, fallback.`

// ErrMalformedResponse is returned when the NLP reply does not match the expected shape
var ErrMalformedResponse = errors.New("malformed classification response")

var primaryIntents = map[string]struct{}{
	models.IntentGreeting:       {},
	models.IntentBrowse:         {},
	models.IntentSearch:         {},
	models.IntentProductInfo:    {},
	models.IntentRecommendation: {},
	models.IntentFAQ:            {},
	models.IntentSupport:        {},
	models.IntentFallback:       {},
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// OpenAIProvider classifies through an OpenAI-compatible chat completions endpoint
type OpenAIProvider struct {
	client openai.Client
	model  string
}

func NewOpenAIProvider(cfg OpenAIConfig, httpClient *http.Client) *OpenAIProvider {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")),
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
		// the caller falls back locally, retries would only eat the timeout budget
		option.WithMaxRetries(0),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  strings.TrimSpace(cfg.Model),
	}
}

func (p *OpenAIProvider) Classify(ctx context.Context, text string) (models.Classification, error) {
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(text),
		},
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return models.Classification{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return models.Classification{}, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}

	return parsePrimary(resp.Choices[0].Message.Content)
}

type primaryReply struct {
	Intent     *string          `json:"intent"`
	Confidence *float64         `json:"confidence"`
	Entities   models.Entities  `json:"entities"`
	Sentiment  models.Sentiment `json:"sentiment"`
}

// parsePrimary accepts exactly the classification object; extra fields,
// trailing data or out-of-range values are rejected.
func parsePrimary(content string) (models.Classification, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(strings.TrimSpace(content))))
	dec.DisallowUnknownFields()

	var reply primaryReply
	if err := dec.Decode(&reply); err != nil {
		return models.Classification{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if dec.More() {
		return models.Classification{}, fmt.Errorf("%w: trailing data", ErrMalformedResponse)
	}

	if reply.Intent == nil || reply.Confidence == nil {
		return models.Classification{}, fmt.Errorf("%w: intent and confidence are required", ErrMalformedResponse)
	}
	if _, ok := primaryIntents[*reply.Intent]; !ok {
		return models.Classification{}, fmt.Errorf("%w: unknown intent %q", ErrMalformedResponse, *reply.Intent)
	}
	if *reply.Confidence < 0 || *reply.Confidence > 1 {
		return models.Classification{}, fmt.Errorf("%w: confidence %v out of range", ErrMalformedResponse, *reply.Confidence)
	}
	if reply.Sentiment.Score < -1 || reply.Sentiment.Score > 1 {
		return models.Classification{}, fmt.Errorf("%w: sentiment %v out of range", ErrMalformedResponse, reply.Sentiment.Score)
	}

	sentiment := reply.Sentiment
	switch sentiment.Label {
	case models.SentimentPositive, models.SentimentNeutral, models.SentimentNegative:
	case "":
		sentiment.Label = models.SentimentLabel(sentiment.Score)
	default:
		return models.Classification{}, fmt.Errorf("%w: unknown sentiment label %q", ErrMalformedResponse, sentiment.Label)
	}

	return models.Classification{
		Intent:     *reply.Intent,
		Confidence: *reply.Confidence,
		Scored:     true,
		Source:     models.SourcePrimary,
		Entities:   reply.Entities,
		Sentiment:  sentiment,
	}, nil
}
