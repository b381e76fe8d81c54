package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soyeahso/owlvin/internal/hooks"
	"github.com/soyeahso/owlvin/internal/identity"
	"github.com/soyeahso/owlvin/internal/logging"
	"github.com/soyeahso/owlvin/internal/persona"
	"github.com/soyeahso/owlvin/internal/relay"
)

const (
	maxMessageBytes  = 64 * 1024
	personaFetchTime = 5 * time.Second
)

// handleConnection upgrades a voice gateway request and relays its call.
func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	socket, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	socket.SetReadLimit(maxMessageBytes)

	conn := NewConn(socket, time.Duration(s.cfg.WriteTimeoutSeconds)*time.Second, s.log.Sub("ws"))
	log := s.log.With("conn", conn.ConnID)
	log.Debug().Str("remote", r.RemoteAddr).Msg("new relay connection")

	session := s.sessions.GetOrCreate(conn.ConnID, conn)
	started := false
	defer func() {
		session.Close()
		s.sessions.Remove(conn.ConnID)
		conn.Close()
		if started {
			s.emit(hooks.EventCallEnd, map[string]any{
				hooks.KeyConnID:   conn.ConnID,
				hooks.KeyDuration: time.Since(conn.ConnectedAt),
			})
		}
		log.Info().Dur("duration", time.Since(conn.ConnectedAt)).Msg("relay connection closed")
	}()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Msg("voice gateway closed connection")
			} else {
				log.Warn().Err(err).Msg("read error")
			}
			return
		}

		msg, err := ParseInbound(data)
		if err != nil {
			log.Warn().Err(err).Msg("malformed message ignored")
			continue
		}

		switch msg.Type {
		case MessageSetup:
			if session.State() != relay.StateUninitialized {
				log.Warn().Msg("duplicate setup ignored")
				continue
			}
			var declined bool
			started, declined = s.setup(r.Context(), session, msg, log)
			if declined {
				return
			}
		case MessagePrompt:
			if err := session.HandlePrompt(msg.VoicePrompt); err != nil {
				log.Warn().Err(err).Msg("prompt not accepted")
			}
		case MessageInterrupt:
			log.Info().Str("utterance", msg.UtteranceUntilInterrupt).Msg("caller interrupted")
		case MessageDTMF:
			log.Info().Str("digit", msg.Digit).Msg("dtmf received")
		case MessageError:
			log.Warn().Str("description", msg.Description).Msg("voice gateway reported error")
		default:
			log.Warn().Str("type", msg.Type).Msg("unknown message type ignored")
		}
	}
}

// setup resolves the caller and either seeds the session or declines it.
// It reports whether call_start was emitted and whether the call was
// declined. The persona read happens before any session operation so the
// session lock is never held across I/O.
func (s *Server) setup(ctx context.Context, session *relay.Session, msg InboundMessage, log *logging.Logger) (started, declined bool) {
	id := identity.Resolve(msg.From)

	fetchCtx, cancel := context.WithTimeout(ctx, personaFetchTime)
	profile, err := s.personas.Fetch(fetchCtx, id)
	cancel()

	data := map[string]any{
		hooks.KeyConnID:  session.ID(),
		hooks.KeyChannel: string(id.Channel),
	}

	if err != nil {
		switch {
		case errors.Is(err, persona.ErrNoIdentity):
			log.Info().Str("from", msg.From).Msg("caller has no usable address")
		case errors.Is(err, persona.ErrNotFound):
			log.Info().Str("channel", string(id.Channel)).Msg("no profile for caller")
		default:
			log.Error().Err(err).Msg("profile lookup failed")
		}
		if err := session.Decline(s.notFoundMessage); err != nil {
			log.Warn().Err(err).Msg("decline failed")
		}
		data[hooks.KeyOutcome] = "declined"
		s.emit(hooks.EventCallStart, data)
		return true, true
	}

	if err := session.HandleSetup(id, profile); err != nil {
		log.Warn().Err(err).Msg("setup not accepted")
		return false, false
	}
	log.Info().Str("callSid", msg.CallSID).Str("channel", string(id.Channel)).Msg("call started")
	data[hooks.KeyOutcome] = "accepted"
	s.emit(hooks.EventCallStart, data)
	return true, false
}

func (s *Server) emit(event string, data map[string]any) {
	if s.hooks != nil {
		s.hooks.Emit(context.Background(), event, data)
	}
}
