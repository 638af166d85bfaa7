package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-4o-mini"

// OpenAIClient translates segment batches through the OpenAI chat
// completion API. Segments travel as a JSON array in both directions so
// that segment boundaries survive the round-trip.
type OpenAIClient struct {
	client *openai.Client
	logger *logrus.Logger
}

// NewOpenAIClient creates a translation client. The API key is required
// and checked here, before any network activity happens.
func NewOpenAIClient(apiKey string, logger *logrus.Logger) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	return &OpenAIClient{
		client: openai.NewClient(apiKey),
		logger: logger,
	}, nil
}

// Translate sends one batch of segments and returns the equal-length
// ordered list of translations.
func (c *OpenAIClient) Translate(ctx context.Context, req Request) ([]string, error) {
	payload, err := json.Marshal(req.Segments)
	if err != nil {
		return nil, fmt.Errorf("failed to encode segments: %w", err)
	}

	model := req.Model
	if model == "" {
		model = DefaultModel
	}

	prompt := buildPrompt(req.SourceLang, req.TargetLang, string(payload))
	c.logger.Debugf("dispatching %d segments (%d bytes) to %s", len(req.Segments), len(payload), model)

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("translation request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	translations, err := parseSegments(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	if len(translations) != len(req.Segments) {
		return nil, fmt.Errorf("%w: sent %d, received %d", ErrSegmentCount, len(req.Segments), len(translations))
	}
	return translations, nil
}

func buildPrompt(sourceLang, targetLang, payload string) string {
	source := "the original language"
	if sourceLang != "" && sourceLang != "auto" {
		source = languageName(sourceLang)
	}

	return fmt.Sprintf(`Translate the following text segments from %s to %s.

The input is a JSON array of strings. Respond with only a JSON array of
the translated strings, in the same order and with the same number of
elements. Preserve leading and trailing whitespace of each segment and
leave any markup or placeholder tokens exactly as they appear. Do not
add explanations.

%s`, source, languageName(targetLang), payload)
}

// parseSegments decodes the backend response into a string array. A
// response wrapped in Markdown code fences gets one unwrap attempt
// before parsing is declared failed.
func parseSegments(content string) ([]string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyResponse
	}

	var segments []string
	if err := json.Unmarshal([]byte(content), &segments); err == nil {
		return segments, nil
	}

	unwrapped := unwrapCodeFence(content)
	if err := json.Unmarshal([]byte(unwrapped), &segments); err != nil {
		return nil, fmt.Errorf("failed to parse translation response: %w", err)
	}
	return segments, nil
}

// unwrapCodeFence strips an enclosing ``` or ```json fence. Only this
// bounded pattern set is attempted; anything else is passed through.
func unwrapCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && strings.EqualFold(strings.TrimSpace(s[:i]), "json") {
		s = s[i+1:]
	} else if i >= 0 && strings.TrimSpace(s[:i]) == "" {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// languageName maps an ISO 639-1 code to a readable language name for
// prompting. Unknown codes are passed through as-is.
func languageName(code string) string {
	names := map[string]string{
		"en": "English",
		"es": "Spanish",
		"fr": "French",
		"de": "German",
		"it": "Italian",
		"pt": "Portuguese",
		"ru": "Russian",
		"uk": "Ukrainian",
		"pl": "Polish",
		"nl": "Dutch",
		"sv": "Swedish",
		"cs": "Czech",
		"el": "Greek",
		"tr": "Turkish",
		"ja": "Japanese",
		"ko": "Korean",
		"zh": "Chinese",
		"ar": "Arabic",
		"he": "Hebrew",
		"hi": "Hindi",
		"vi": "Vietnamese",
	}
	if name, ok := names[code]; ok {
		return name
	}
	return code
}
