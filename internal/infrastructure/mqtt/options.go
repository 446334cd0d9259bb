package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Hatles/rx-home-sub002/internal/infrastructure/config"
)

// Connection constants.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is in milliseconds.
	defaultDisconnectQuiesce = 1000

	defaultKeepAlive = 60 * time.Second

	maxQoS = 2

	tlsMinVersion = tls.VersionTLS12
)

// ServiceName identifies the auth core in status payloads and default
// client ids.
const ServiceName = "auth"

// Status values and disconnect reasons published on Topics.Status.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"

	ReasonUnexpectedDisconnect = "unexpected_disconnect"
	ReasonGracefulShutdown     = "graceful_shutdown"
)

// ClientID returns the configured client id, or one derived from the site
// so that auth services of several sites can share a broker.
func ClientID(cfg config.MQTTConfig, site string) string {
	if cfg.Broker.ClientID != "" {
		return cfg.Broker.ClientID
	}
	return fmt.Sprintf("%s-%s-%s", TopicPrefix, ServiceName, site)
}

// buildClientOptions creates paho options from the MQTT config section.
func buildClientOptions(cfg config.MQTTConfig, clientID string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(clientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	// Auth events are fire-and-forget; no broker session is resumed.
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tlsMinVersion})
	}

	return opts
}

// statusPayload is the retained document on the auth status topic.
type statusPayload struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Site      string `json:"site"`
	ClientID  string `json:"client_id"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func buildStatusPayload(status, reason, site, clientID string) []byte {
	payload, _ := json.Marshal(statusPayload{ //nolint:errcheck // plain strings always encode
		Status:    status,
		Service:   ServiceName,
		Site:      site,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	return payload
}

// configureLWT registers the offline status the broker publishes, retained,
// when the auth service drops without a clean disconnect.
func configureLWT(opts *pahomqtt.ClientOptions, site, clientID string, qos byte) {
	payload := buildStatusPayload(StatusOffline, ReasonUnexpectedDisconnect, site, clientID)
	opts.SetBinaryWill(Topics{Site: site}.Status(), payload, qos, true)
}

func buildOnlinePayload(site, clientID string) []byte {
	return buildStatusPayload(StatusOnline, "", site, clientID)
}

func buildOfflinePayload(site, clientID string) []byte {
	return buildStatusPayload(StatusOffline, ReasonGracefulShutdown, site, clientID)
}
