package persona

import (
	"fmt"
	"strings"

	"github.com/soyeahso/owlvin/internal/domain"
)

// DefaultOpeningTurn is the synthetic caller turn that makes the assistant
// speak first.
const DefaultOpeningTurn = "Hi there!"

// Policy holds the formatting constraints applied to every persona.
type Policy struct {
	MaxWords         int
	RequireQuestion  bool
	AllowPunctuation bool
	AllowEmoji       bool
	OpeningTurn      string
}

// DefaultPolicy returns the constraints voice calls are tuned for: short
// answers ending in a question, with nothing the TTS engine would read out.
func DefaultPolicy() Policy {
	return Policy{
		MaxWords:        15,
		RequireQuestion: true,
		OpeningTurn:     DefaultOpeningTurn,
	}
}

// languageDirectives force the response language per locale.
var languageDirectives = map[domain.Locale]string{
	domain.LocaleEnglish:    "IMPORTANT: Always respond only in English",
	domain.LocalePortuguese: "IMPORTANT: Always respond only in Brazilian Portuguese",
}

// RenderSystemInstruction renders a profile into the system turn. It is pure:
// the same profile and policy always produce the same string.
func RenderSystemInstruction(p domain.Profile, pol Policy) string {
	var b strings.Builder

	b.WriteString(languageDirectives[p.Locale.Normalize()])
	b.WriteString("\n")

	if pol.MaxWords > 0 {
		fmt.Fprintf(&b, "IMPORTANT: Your response must be %d words or less", pol.MaxWords)
		if !pol.AllowPunctuation {
			b.WriteString(" no punctuation")
		}
		if pol.RequireQuestion {
			b.WriteString(" always end with a question")
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "You are a chat bot who will discuss %s with the caller\n", p.Topic)
	fmt.Fprintf(&b, "You have a very strong %s personality and you incorporate that personality in each response\n", p.Personality)

	if !pol.AllowPunctuation {
		b.WriteString("Never include punctuation or exclamation marks in your responses\n")
	}
	if !pol.AllowEmoji {
		b.WriteString("Never include emoji in your responses\n")
	}

	switch {
	case pol.MaxWords > 0 && pol.RequireQuestion:
		fmt.Fprintf(&b, "Keep responses short no more than %d words and always end each response with a question\n", pol.MaxWords)
	case pol.MaxWords > 0:
		fmt.Fprintf(&b, "Keep responses short no more than %d words\n", pol.MaxWords)
	case pol.RequireQuestion:
		b.WriteString("Always end each response with a question\n")
	}
	if pol.MaxWords > 0 {
		fmt.Fprintf(&b, "If you cannot answer in %d words or less say I can only answer in %d words or less Please rephrase\n", pol.MaxWords, pol.MaxWords)
	}

	b.WriteString("Feel free to discuss anything discussed previously in the chat")
	return b.String()
}

// Seed returns the two turns every conversation starts with.
func Seed(p domain.Profile, pol Policy) []domain.Turn {
	opening := pol.OpeningTurn
	if opening == "" {
		opening = DefaultOpeningTurn
	}
	return []domain.Turn{
		{Role: domain.RoleSystem, Content: RenderSystemInstruction(p, pol)},
		{Role: domain.RoleUser, Content: opening},
	}
}
