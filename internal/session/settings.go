package session

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/zulandar/cohost/internal/apperr"
)

// MaxPromptLength is the rune limit for persona and context prompts.
const MaxPromptLength = 5000

// Settings configures the realtime co-host for one session. It is fixed once
// the first connection starts.
type Settings struct {
	Model         string  `json:"model"`
	Voice         string  `json:"voice"`
	Temperature   float64 `json:"temperature" binding:"gte=0,lte=1"`
	TopP          float64 `json:"top_p" binding:"gte=0,lte=1"`
	Language      string  `json:"language"`
	SilenceMs     int     `json:"silence_ms" binding:"gt=0"`
	PersonaPrompt string  `json:"persona_prompt" binding:"max=5000"`
	ContextPrompt string  `json:"context_prompt" binding:"max=5000"`
}

// Default returns the settings used for any field a client omits.
func Default() Settings {
	return Settings{
		Model:       "gpt-4o-realtime-preview",
		Voice:       "alloy",
		Temperature: 0.8,
		TopP:        1.0,
		Language:    "en",
		SilenceMs:   500,
	}
}

// ParseSettings decodes a possibly partial JSON object over Default and
// validates the result. Empty input yields Default.
func ParseSettings(raw []byte) (Settings, error) {
	s := Default()
	if len(raw) == 0 || string(raw) == "null" {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return Settings{}, apperr.Validation("settings", fmt.Sprintf("is not valid JSON: %v", err))
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks every range constraint and names the first bad field.
func (s Settings) Validate() error {
	switch {
	case s.Temperature < 0 || s.Temperature > 1:
		return apperr.Validation("temperature", "must be between 0 and 1")
	case s.TopP < 0 || s.TopP > 1:
		return apperr.Validation("top_p", "must be between 0 and 1")
	case s.SilenceMs <= 0:
		return apperr.Validation("silence_ms", "must be greater than 0")
	case utf8.RuneCountInString(s.PersonaPrompt) > MaxPromptLength:
		return apperr.Validation("persona_prompt", fmt.Sprintf("must be at most %d characters", MaxPromptLength))
	case utf8.RuneCountInString(s.ContextPrompt) > MaxPromptLength:
		return apperr.Validation("context_prompt", fmt.Sprintf("must be at most %d characters", MaxPromptLength))
	}
	return nil
}

// Encode renders the settings for storage on the session row.
func (s Settings) Encode() string {
	b, _ := json.Marshal(s)
	return string(b)
}

// DecodeSettings reads stored settings. Rows written before a field existed
// pick up its default.
func DecodeSettings(stored string) (Settings, error) {
	s := Default()
	if stored == "" {
		return s, nil
	}
	if err := json.Unmarshal([]byte(stored), &s); err != nil {
		return Settings{}, fmt.Errorf("session: decode settings: %w", err)
	}
	return s, nil
}
