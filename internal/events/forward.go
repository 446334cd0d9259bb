package events

import (
	"context"

	"github.com/Hatles/rx-home-sub002/internal/infrastructure/mqtt"
)

// JSONPublisher is the slice of *mqtt.Client the forwarder needs.
type JSONPublisher interface {
	PublishJSON(topic string, v any) error
}

// WarnLogger reports forwarding failures.
type WarnLogger interface {
	Warn(msg string, args ...any)
}

// ForwardToMQTT subscribes to every event and republishes it as JSON on
// rxhome/{site}/auth/events/{type}. Publish failures are logged and dropped.
// The returned func stops forwarding.
func ForwardToMQTT(bus *Bus, pub JSONPublisher, site string, logger WarnLogger) func() {
	topics := mqtt.Topics{Site: site}
	return bus.Subscribe(MatchAll, func(_ context.Context, ev Event) {
		if err := pub.PublishJSON(topics.AuthEvent(ev.Type), ev); err != nil && logger != nil {
			logger.Warn("forwarding event to MQTT failed",
				"event_type", ev.Type,
				"error", err,
			)
		}
	})
}
