// Package identity normalizes caller addresses and derives the persona-store
// lookup key from them.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/soyeahso/owlvin/internal/domain"
)

// DefaultSalt is the salt the persona store was originally populated with.
// Changing it orphans every stored profile.
const DefaultSalt = "apples_are_not_yellow"

// channelPrefixes maps transport address prefixes to their channel.
var channelPrefixes = []struct {
	prefix  string
	channel domain.Channel
}{
	{"whatsapp:", domain.ChannelWhatsApp},
	{"sms:", domain.ChannelSMS},
}

// formatting characters tolerated (and dropped) inside a phone number.
var numberFormatting = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")

// Resolve normalizes a raw caller address. The channel prefix is stripped and
// recorded; formatting characters are removed. If what remains is not a phone
// number the returned identity is not Valid and persona lookup must be
// skipped.
func Resolve(raw string) domain.CallerIdentity {
	id := domain.CallerIdentity{Raw: raw, Channel: domain.ChannelVoice}

	addr := strings.TrimSpace(raw)
	lower := strings.ToLower(addr)
	for _, p := range channelPrefixes {
		if strings.HasPrefix(lower, p.prefix) {
			id.Channel = p.channel
			addr = addr[len(p.prefix):]
			break
		}
	}

	addr = numberFormatting.Replace(addr)
	if isPhoneNumber(addr) {
		id.Canonical = addr
	}
	return id
}

// isPhoneNumber accepts an optional leading "+" followed by at least one digit.
func isPhoneNumber(s string) bool {
	s = strings.TrimPrefix(s, "+")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Hasher derives persona-store keys from canonical addresses.
type Hasher struct {
	salt string
}

// NewHasher creates a Hasher. An empty salt selects DefaultSalt.
func NewHasher(salt string) *Hasher {
	if salt == "" {
		salt = DefaultSalt
	}
	return &Hasher{salt: salt}
}

// Hash returns the lowercase hex SHA-256 of the address concatenated with the
// salt.
func (h *Hasher) Hash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical + h.salt))
	return hex.EncodeToString(sum[:])
}

// Key returns the lookup key for an identity, or "" if it is not Valid.
func (h *Hasher) Key(id domain.CallerIdentity) string {
	if !id.Valid() {
		return ""
	}
	return h.Hash(id.Canonical)
}
