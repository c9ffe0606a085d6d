package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"

	openai "github.com/sashabaranov/go-openai"

	"github.com/reelworks/shortgen/internal/models"
)

type OpenAIService struct {
	client *openai.Client
}

func NewOpenAIService(apiKey string) *OpenAIService {
	return &OpenAIService{client: openai.NewClient(apiKey)}
}

// scriptPlan is the JSON shape the model is asked to produce.
type scriptPlan struct {
	Sections []scriptSection `json:"sections"`
}

type scriptSection struct {
	Text            string  `json:"text"`
	DurationSeconds float64 `json:"duration_seconds"`
	VoiceStyle      string  `json:"voice_style"`
}

// GenerateScript turns a topic into narrated sections via chat completion
// with JSON output. Section durations are the model's estimates — the
// duration allocator fits them to the real budget afterwards.
func (s *OpenAIService) GenerateScript(ctx context.Context, topic string, targetSeconds float64) ([]models.Section, error) {
	systemPrompt := fmt.Sprintf(`You are a short-form video scriptwriter.
Write a narrated script for a vertical video of about %.0f seconds on the given topic.

Rules:
- Split the narration into 3-8 sections. Open with a hook, close with a payoff.
- Each section is 1-3 short conversational sentences, written to be spoken aloud.
- duration_seconds is your estimate of the spoken length (typically 5-12).
- voice_style is a short English delivery hint for the narrator (e.g. "curious and building", "calm, reflective close").

Respond as JSON: {"sections": [{"text": ..., "duration_seconds": ..., "voice_style": ...}, ...]}.
Every field is required.`, targetSeconds)

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: "gpt-4o-mini",
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Topic: %q. Target duration: %.0f seconds.", topic, targetSeconds)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from openai")
	}

	var plan scriptPlan
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &plan); err != nil {
		log.Printf("[OpenAI script] parse failed: %v", err)
		return nil, fmt.Errorf("failed to parse script: %w", err)
	}
	if len(plan.Sections) == 0 {
		return nil, fmt.Errorf("script has no sections")
	}

	sections := make([]models.Section, 0, len(plan.Sections))
	for i, sec := range plan.Sections {
		if sec.Text == "" {
			return nil, fmt.Errorf("section %d has empty text", i)
		}
		if sec.DurationSeconds <= 0 {
			sec.DurationSeconds = 8
		}
		sections = append(sections, models.Section{
			Text:       sec.Text,
			Duration:   sec.DurationSeconds,
			VoiceStyle: sec.VoiceStyle,
		})
	}

	log.Printf("[OpenAI script] %d sections generated for %q", len(sections), topic)
	return sections, nil
}

// ---------------------------------------------------------------------------
// OpenAI speech — fallback TTS provider when ElevenLabs is not configured.
// ---------------------------------------------------------------------------

type OpenAITTSService struct {
	client *openai.Client
	voice  openai.SpeechVoice
}

var _ TTSService = (*OpenAITTSService)(nil)

func NewOpenAITTSService(apiKey string) *OpenAITTSService {
	return &OpenAITTSService{
		client: openai.NewClient(apiKey),
		voice:  openai.VoiceNova,
	}
}

// GenerateSpeech synthesizes narration with the OpenAI speech API. The
// voiceStyle hint is unused — the API does not take delivery instructions.
func (s *OpenAITTSService) GenerateSpeech(ctx context.Context, text, voiceStyle string) (*TTSResponse, error) {
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          s.voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech request failed: %w", err)
	}
	defer resp.Close()

	audioData, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read openai speech response: %w", err)
	}
	if len(audioData) == 0 {
		return nil, fmt.Errorf("openai speech returned empty audio")
	}

	return &TTSResponse{AudioData: audioData, Format: "mp3"}, nil
}
