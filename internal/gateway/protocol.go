package gateway

import (
	"encoding/json"
	"fmt"
)

// Inbound message types sent by the voice gateway.
const (
	MessageSetup     = "setup"
	MessagePrompt    = "prompt"
	MessageInterrupt = "interrupt"
	MessageDTMF      = "dtmf"
	MessageError     = "error"
)

// Outbound message types sent to the voice gateway.
const (
	MessageText = "text"
	MessageEnd  = "end"
)

// InboundMessage is the union of every message the voice gateway sends.
// Only the fields for the given Type are populated.
type InboundMessage struct {
	Type string `json:"type"`

	// setup
	SessionID        string            `json:"sessionId,omitempty"`
	CallSID          string            `json:"callSid,omitempty"`
	From             string            `json:"from,omitempty"`
	To               string            `json:"to,omitempty"`
	Direction        string            `json:"direction,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`

	// prompt
	VoicePrompt string `json:"voicePrompt,omitempty"`
	Lang        string `json:"lang,omitempty"`
	Last        bool   `json:"last,omitempty"`

	// interrupt
	UtteranceUntilInterrupt  string `json:"utteranceUntilInterrupt,omitempty"`
	DurationUntilInterruptMs int    `json:"durationUntilInterruptMs,omitempty"`

	// dtmf
	Digit string `json:"digit,omitempty"`

	// error
	Description string `json:"description,omitempty"`
}

// TextMessage carries one token of a reply. Last marks the end of a turn.
type TextMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
	Last  bool   `json:"last"`
}

// EndMessage asks the voice gateway to end the call.
type EndMessage struct {
	Type        string `json:"type"`
	HandoffData string `json:"handoffData,omitempty"`
}

// ParseInbound decodes one inbound message.
func ParseInbound(data []byte) (InboundMessage, error) {
	var msg InboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return InboundMessage{}, fmt.Errorf("decoding message: %w", err)
	}
	if msg.Type == "" {
		return InboundMessage{}, fmt.Errorf("message has no type")
	}
	return msg, nil
}

// NewText creates a text message.
func NewText(token string, last bool) TextMessage {
	return TextMessage{Type: MessageText, Token: token, Last: last}
}

// NewEnd creates an end message.
func NewEnd(handoffData string) EndMessage {
	return EndMessage{Type: MessageEnd, HandoffData: handoffData}
}
