package vendors

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/inkwell-app/inkwell/ingest"
	"github.com/inkwell-app/inkwell/log"
	"github.com/inkwell-app/inkwell/utils"
)

var openaiLogger = log.GetLogger("OpenAI")

// visionConfidence is reported for every successful extraction. The vision
// API does not expose per-token confidence, so a flat high value stands in.
const visionConfidence = 90

const (
	maxThemes = 5
	maxTags   = 8
)

// OpenAIClient wraps the OpenAI chat API as the pipeline's extraction and
// analysis collaborator.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient builds a client from explicit settings. Returns nil when no
// API key is configured; callers treat a nil client as "vendor disabled".
func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	if apiKey == "" {
		openaiLogger.Warn().Msg("OPENAI_API_KEY not configured, OpenAI disabled")
		return nil
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" && baseURL != "https://api.openai.com/v1" {
		clientConfig.BaseURL = baseURL
	}

	openaiLogger.Info().Str("model", model).Str("baseURL", baseURL).Msg("OpenAI initialized")

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		model:  model,
	}
}

// Extract sends the page image to the vision model and returns the
// transcribed text verbatim.
func (o *OpenAIClient) Extract(ctx context.Context, image []byte) (*ingest.ExtractionResult, error) {
	if o == nil {
		return nil, fmt.Errorf("openai not configured")
	}

	mime := http.DetectContentType(image)
	dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image)

	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: extractSystemPrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: extractUserPrompt,
					},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: dataURL},
					},
				},
			},
		},
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		openaiLogger.Error().Err(err).Msg("vision extraction failed")
		return nil, err
	}

	if len(resp.Choices) == 0 {
		openaiLogger.Error().Interface("response", resp).Msg("openai response has no choices")
		return &ingest.ExtractionResult{}, nil
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)

	openaiLogger.Debug().
		Int("textLen", len(text)).
		Int("promptTokens", resp.Usage.PromptTokens).
		Int("completionTokens", resp.Usage.CompletionTokens).
		Msg("vision extraction complete")

	return &ingest.ExtractionResult{
		Text:       text,
		Confidence: visionConfidence,
	}, nil
}

// Analyze runs the journal-analysis prompt in JSON mode and decodes the
// structured result.
func (o *OpenAIClient) Analyze(ctx context.Context, text string) (*ingest.AnalysisResult, error) {
	if o == nil {
		return nil, fmt.Errorf("openai not configured")
	}

	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.1,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: analyzeSystemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: "Transcript:\n\n" + text,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		openaiLogger.Error().Err(err).Msg("analysis completion failed")
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai response has no choices")
	}

	content := resp.Choices[0].Message.Content
	if resp.Choices[0].FinishReason == openai.FinishReasonLength {
		openaiLogger.Warn().
			Int("completionTokens", resp.Usage.CompletionTokens).
			Msg("analysis response was truncated")
	}

	var result ingest.AnalysisResult
	if err := utils.DecodeJSONFromLLMResponse(content, &result); err != nil {
		openaiLogger.Error().Err(err).Str("content", content).Msg("failed to parse analysis JSON")
		return nil, err
	}

	clampAnalysis(&result)
	return &result, nil
}

// clampAnalysis enforces the advertised caps and keeps sentiment scores
// consistent even when the model drifts from the prompt contract.
func clampAnalysis(r *ingest.AnalysisResult) {
	if len(r.Themes) > maxThemes {
		r.Themes = r.Themes[:maxThemes]
	}

	tags := make([]string, 0, len(r.Tags))
	for _, t := range r.Tags {
		t = strings.TrimSpace(strings.ToLower(t))
		if t != "" {
			tags = append(tags, t)
		}
		if len(tags) == maxTags {
			break
		}
	}
	r.Tags = tags

	s := &r.Sentiment
	if s.Positive < 0 {
		s.Positive = 0
	}
	if s.Neutral < 0 {
		s.Neutral = 0
	}
	if s.Concern < 0 {
		s.Concern = 0
	}
	if sum := s.Positive + s.Neutral + s.Concern; sum != 100 {
		if sum <= 0 {
			s.Positive, s.Neutral, s.Concern = 0, 100, 0
		} else {
			s.Neutral += 100 - sum
			if s.Neutral < 0 {
				s.Neutral = 0
			}
		}
	}
	if s.Overall == "" {
		switch {
		case s.Positive >= s.Neutral && s.Positive >= s.Concern:
			s.Overall = "positive"
		case s.Concern > s.Neutral:
			s.Overall = "concern"
		default:
			s.Overall = "neutral"
		}
	}
}
