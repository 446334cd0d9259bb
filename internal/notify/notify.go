// Package notify delivers short messages to users through named
// notification services.
//
// The auth core uses it to send one-time login codes. Delivery is fire and
// forget: a nil error means the message left this process, not that it
// reached the user.
package notify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Hatles/rx-home-sub002/internal/infrastructure/mqtt"
)

// Sentinel errors.
var (
	ErrUnknownService = errors.New("unknown notification service")
	ErrDelivery       = errors.New("notification delivery failed")
)

// Message is one notification.
type Message struct {
	Title  string    `json:"title"`
	Body   string    `json:"message"`
	Target string    `json:"target,omitempty"`
	SentAt time.Time `json:"sent_at"`
}

// Notifier sends messages through named services.
type Notifier interface {
	// Services lists the services messages can be sent through.
	Services() []string
	Notify(ctx context.Context, service string, msg Message) error
}

// Logger is the logging surface used by notifiers.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// JSONPublisher is the slice of *mqtt.Client the MQTT notifier needs.
type JSONPublisher interface {
	PublishJSON(topic string, v any) error
}

// MQTTNotifier publishes messages as JSON on rxhome/{site}/notify/{service}.
// A companion app or bridge subscribed to that topic does the last hop.
type MQTTNotifier struct {
	pub      JSONPublisher
	topics   mqtt.Topics
	services []string
	now      func() time.Time
}

// NewMQTTNotifier creates a notifier for the given services.
func NewMQTTNotifier(pub JSONPublisher, site string, services []string) *MQTTNotifier {
	return &MQTTNotifier{
		pub:      pub,
		topics:   mqtt.Topics{Site: site},
		services: slices.Clone(services),
		now:      time.Now,
	}
}

// Services returns the configured services.
func (n *MQTTNotifier) Services() []string {
	return slices.Clone(n.services)
}

// Notify publishes msg on the service topic.
func (n *MQTTNotifier) Notify(ctx context.Context, service string, msg Message) error {
	if !slices.Contains(n.services, service) {
		return fmt.Errorf("%w: %s", ErrUnknownService, service)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = n.now().UTC()
	}
	if err := n.pub.PublishJSON(n.topics.Notify(service), msg); err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return nil
}

// LogNotifier writes messages to the log instead of delivering them.
// It stands in when MQTT is disabled, so codes can still be read by an
// operator with access to the logs.
type LogNotifier struct {
	logger   Logger
	services []string
}

// NewLogNotifier creates a notifier that logs through logger.
func NewLogNotifier(logger Logger, services []string) *LogNotifier {
	return &LogNotifier{logger: logger, services: slices.Clone(services)}
}

// Services returns the configured services.
func (n *LogNotifier) Services() []string {
	return slices.Clone(n.services)
}

// Notify logs msg at Info.
func (n *LogNotifier) Notify(_ context.Context, service string, msg Message) error {
	if !slices.Contains(n.services, service) {
		return fmt.Errorf("%w: %s", ErrUnknownService, service)
	}
	n.logger.Info("notification",
		"service", service,
		"title", msg.Title,
		"message", msg.Body,
	)
	return nil
}
