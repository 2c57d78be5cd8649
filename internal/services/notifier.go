package services

import (
	"time"

	"fixmarket/internal/domain"
)

// Notifier is the realtime fan-out collaborator. Publish is fire-and-forget:
// it must never block a command or fail it after commit.
type Notifier interface {
	Publish(channel string, ev domain.Event)
}

// NopNotifier drops everything; used where no realtime wiring exists.
type NopNotifier struct{}

func (NopNotifier) Publish(string, domain.Event) {}

func publishAll(n Notifier, channels []string, ev domain.Event) {
	if n == nil {
		return
	}
	seen := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		if _, dup := seen[ch]; dup || ch == "" {
			continue
		}
		seen[ch] = struct{}{}
		n.Publish(ch, ev)
	}
}

func event(t domain.EventType, entityID, status string, version int64, at time.Time) domain.Event {
	return domain.Event{Type: t, EntityID: entityID, NewStatus: status, Version: version, At: at}
}
