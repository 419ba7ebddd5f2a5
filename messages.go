package offlineagent

import (
	"context"

	"github.com/always-cache/offline-agent/bus"
)

type Message = bus.Message

// Bus delivers messages to the sessions attached to the agent.
// Delivery is fire-and-forget: at most once, no acknowledgement.
type Bus interface {
	Broadcast(ctx context.Context, msg Message, includeUncontrolled bool) error
}

// Host is the environment that decides which sessions the agent controls.
type Host interface {
	// SkipWaiting makes the new generation take over without waiting for old sessions to go away.
	SkipWaiting()
	// ClaimSessions takes control of every currently open session.
	ClaimSessions(ctx context.Context) error
}

type noopBus struct{}

func (noopBus) Broadcast(context.Context, Message, bool) error { return nil }

type noopHost struct{}

func (noopHost) SkipWaiting()                       {}
func (noopHost) ClaimSessions(context.Context) error { return nil }

// HandleMessage applies an inbound message from a session.
// It implements bus.Handler.
func (a *Agent) HandleMessage(ctx context.Context, from bus.Sender, msg Message) {
	switch {
	case msg.StatusUpdate != nil:
		a.applyStatusUpdate(from, *msg.StatusUpdate)
	case msg.RequestStatusUpdate:
		reply := bus.StatusUpdate(a.status.Snapshot())
		if from != nil {
			err := from.Send(reply)
			if err == nil {
				return
			}
			a.log.Debug().Err(err).Str("session", from.ID()).Msg("Could not reply with status, broadcasting")
		}
		if err := a.bus.Broadcast(ctx, reply, false); err != nil {
			a.log.Warn().Err(err).Msg("Could not broadcast status")
		}
	case msg.ForceLogout:
		a.log.Debug().Msg("Ignoring inbound force-logout")
	}
}

func (a *Agent) applyStatusUpdate(from bus.Sender, update Status) {
	trusted := from == nil || from.Controlled()
	if trusted {
		a.status.Replace(update)
	} else {
		a.status.applyUntrusted(update)
	}
	a.log.Debug().
		Bool("online", update.Online).
		Bool("loggedIn", update.LoggedIn).
		Bool("trusted", trusted).
		Int("version", a.version).
		Msg("Status update")
}
