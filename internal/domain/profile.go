package domain

import "time"

// Locale selects the language the assistant speaks and the closing message.
type Locale string

const (
	LocaleEnglish    Locale = "en"
	LocalePortuguese Locale = "pt"
)

// Normalize maps empty and unknown locales to English.
func (l Locale) Normalize() Locale {
	switch l {
	case LocalePortuguese:
		return LocalePortuguese
	default:
		return LocaleEnglish
	}
}

// Profile is the persona configured for a caller.
type Profile struct {
	Topic           string    `json:"topic"`
	Personality     string    `json:"personality"`
	Tone            string    `json:"tone,omitempty"`
	Locale          Locale    `json:"locale,omitempty"`
	VoiceID         string    `json:"voiceId,omitempty"`
	ContinuityToken string    `json:"continuityToken,omitempty"`
	Active          bool      `json:"active,omitempty"`
	LastUsed        time.Time `json:"lastUsed,omitempty"`
}
