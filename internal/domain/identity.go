package domain

// Channel identifies which transport a caller address arrived on.
type Channel string

const (
	ChannelVoice    Channel = "voice"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
)

// Prefix returns the address prefix the messaging provider expects for the
// channel, or "" for plain phone numbers.
func (c Channel) Prefix() string {
	switch c {
	case ChannelWhatsApp:
		return "whatsapp:"
	case ChannelSMS:
		return "sms:"
	default:
		return ""
	}
}

// CallerIdentity is the normalized form of a caller address. It is derived
// once per session and never changes afterwards.
type CallerIdentity struct {
	Raw       string  `json:"raw"`
	Channel   Channel `json:"channel"`
	Canonical string  `json:"canonical"`
}

// Valid reports whether the identity carries a usable canonical address.
func (id CallerIdentity) Valid() bool {
	return id.Canonical != ""
}

// Address returns the canonical address with the channel prefix re-applied,
// suitable as a "to" address for outbound messages.
func (id CallerIdentity) Address() string {
	if id.Channel == ChannelSMS {
		// SMS replies go to the bare number.
		return id.Canonical
	}
	return id.Channel.Prefix() + id.Canonical
}
