// Package notify sends the closing message after a call ends.
package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/soyeahso/owlvin/internal/domain"
	"github.com/soyeahso/owlvin/internal/hooks"
	"github.com/soyeahso/owlvin/internal/logging"
	"github.com/soyeahso/owlvin/internal/persona"
)

const sendTimeout = 15 * time.Second

var closingMessages = map[domain.Locale]string{
	domain.LocaleEnglish:    "Dear creator feel free to call me back anytime",
	domain.LocalePortuguese: "Caro criador sinta-se à vontade para me ligar de volta a qualquer momento",
}

// ClosingMessage returns the closing text for locale, defaulting to English.
func ClosingMessage(locale domain.Locale) string {
	return closingMessages[locale.Normalize()]
}

// Dispatcher sends closing messages asynchronously.
type Dispatcher struct {
	resolver *persona.Resolver
	sender   Sender
	from     string
	hooks    *hooks.Manager
	log      *logging.Logger

	wg sync.WaitGroup
}

// NewDispatcher creates a dispatcher. resolver may be nil, in which case the
// session's locale is always used. hooks may be nil.
func NewDispatcher(resolver *persona.Resolver, sender Sender, from string, hm *hooks.Manager, log *logging.Logger) *Dispatcher {
	return &Dispatcher{
		resolver: resolver,
		sender:   sender,
		from:     from,
		hooks:    hm,
		log:      log.Sub("notify"),
	}
}

// NotifyClose schedules the closing message for a finished call. It returns
// immediately; failures are logged and never reach the caller.
func (d *Dispatcher) NotifyClose(id domain.CallerIdentity, fallback domain.Locale) {
	if !id.Valid() {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		d.dispatch(ctx, id, fallback)
	}()
}

func (d *Dispatcher) dispatch(ctx context.Context, id domain.CallerIdentity, fallback domain.Locale) {
	locale := d.locale(ctx, id, fallback)
	to, from := Addresses(id, d.from)
	body := ClosingMessage(locale)

	err := d.sender.Send(ctx, to, from, body)
	outcome := "ok"
	if err != nil {
		outcome = "failed"
		d.log.Error().Err(err).Str("channel", string(id.Channel)).Msg("closing message failed")
	} else {
		d.log.Info().Str("channel", string(id.Channel)).Str("locale", string(locale)).Msg("closing message sent")
	}

	if d.hooks != nil {
		data := map[string]any{
			hooks.KeyChannel:  string(id.Channel),
			hooks.KeyOutcome:  outcome,
			hooks.KeyProvider: d.sender.Name(),
		}
		if err != nil {
			data[hooks.KeyError] = err.Error()
		}
		d.hooks.Emit(ctx, hooks.EventNotifySent, data)
	}
}

// locale re-reads the caller's profile so an edit made during the call is
// honoured, falling back to the session's locale.
func (d *Dispatcher) locale(ctx context.Context, id domain.CallerIdentity, fallback domain.Locale) domain.Locale {
	if d.resolver != nil {
		p, err := d.resolver.Fetch(ctx, id)
		switch {
		case err == nil:
			return p.Locale.Normalize()
		case !errors.Is(err, persona.ErrNotFound):
			d.log.Warn().Err(err).Msg("profile re-fetch failed, using session locale")
		}
	}
	return fallback.Normalize()
}

// Addresses returns the to and from addresses for id. WhatsApp callers get
// the whatsapp: prefix on both sides.
func Addresses(id domain.CallerIdentity, from string) (string, string) {
	to := id.Address()
	if id.Channel == domain.ChannelWhatsApp {
		from = domain.ChannelWhatsApp.Prefix() + strings.TrimPrefix(from, domain.ChannelWhatsApp.Prefix())
	}
	return to, from
}

// Wait blocks until every scheduled message has been handled or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
