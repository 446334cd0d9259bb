package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/Hatles/rx-home-sub002/internal/infrastructure/config"
)

// testConfig returns a valid MQTT configuration for testing.
// Tests that need a broker expect one at 127.0.0.1:1883 and skip otherwise.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled: true,
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "rxhome-auth-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// connectOrSkip connects to the local broker or skips the test.
func connectOrSkip(t *testing.T) *Client {
	t.Helper()
	client, err := Connect(testConfig(), "site-test")
	if err != nil {
		t.Skipf("MQTT broker not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestBuildClientOptions(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*config.MQTTConfig)
		wantBroker string
		wantUser   string
	}{
		{
			name:       "plain tcp",
			mutate:     func(*config.MQTTConfig) {},
			wantBroker: "tcp://127.0.0.1:1883",
		},
		{
			name: "tls with credentials",
			mutate: func(c *config.MQTTConfig) {
				c.Broker.TLS = true
				c.Broker.Port = 8883
				c.Auth.Username = "auth"
				c.Auth.Password = "secret"
			},
			wantBroker: "ssl://127.0.0.1:8883",
			wantUser:   "auth",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)

			opts := buildClientOptions(cfg, ClientID(cfg, "site-test"))

			if len(opts.Servers) != 1 || opts.Servers[0].String() != tt.wantBroker {
				t.Errorf("Servers = %v, want [%s]", opts.Servers, tt.wantBroker)
			}
			if opts.ClientID != "rxhome-auth-test" {
				t.Errorf("ClientID = %q", opts.ClientID)
			}
			if opts.Username != tt.wantUser {
				t.Errorf("Username = %q, want %q", opts.Username, tt.wantUser)
			}
			if cfg.Broker.TLS && opts.TLSConfig == nil {
				t.Error("TLSConfig not set for TLS broker")
			}
		})
	}
}

func TestClientID(t *testing.T) {
	cfg := testConfig()
	if got := ClientID(cfg, "site-001"); got != "rxhome-auth-test" {
		t.Errorf("ClientID(configured) = %q, want rxhome-auth-test", got)
	}
	cfg.Broker.ClientID = ""
	if got := ClientID(cfg, "site-001"); got != "rxhome-auth-site-001" {
		t.Errorf("ClientID(derived) = %q, want rxhome-auth-site-001", got)
	}
}

func TestConfigureLWT(t *testing.T) {
	cfg := testConfig()
	opts := buildClientOptions(cfg, "rxhome-auth")
	configureLWT(opts, "site-001", "rxhome-auth", byte(cfg.QoS))

	if !opts.WillEnabled {
		t.Fatal("WillEnabled = false")
	}
	if opts.WillTopic != "rxhome/site-001/auth/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}
	if !opts.WillRetained || opts.WillQos != 1 {
		t.Errorf("WillRetained = %v, WillQos = %d, want retained at QoS 1", opts.WillRetained, opts.WillQos)
	}

	var payload map[string]string
	if err := json.Unmarshal(opts.WillPayload, &payload); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if payload["status"] != StatusOffline || payload["reason"] != ReasonUnexpectedDisconnect {
		t.Errorf("will payload = %v", payload)
	}
	if payload["service"] != ServiceName || payload["site"] != "site-001" {
		t.Errorf("will payload = %v, want auth service of site-001", payload)
	}
}

func TestStatusPayloads(t *testing.T) {
	tests := []struct {
		status     string
		raw        []byte
		wantReason string
	}{
		{StatusOnline, buildOnlinePayload("site-001", "c1"), ""},
		{StatusOffline, buildOfflinePayload("site-001", "c1"), ReasonGracefulShutdown},
	}
	for _, tt := range tests {
		var payload map[string]string
		if err := json.Unmarshal(tt.raw, &payload); err != nil {
			t.Fatalf("%s payload: %v", tt.status, err)
		}
		if payload["status"] != tt.status || payload["client_id"] != "c1" || payload["site"] != "site-001" {
			t.Errorf("%s payload = %v", tt.status, payload)
		}
		if payload["reason"] != tt.wantReason {
			t.Errorf("%s reason = %q, want %q", tt.status, payload["reason"], tt.wantReason)
		}
		if payload["timestamp"] == "" {
			t.Errorf("%s payload has no timestamp", tt.status)
		}
	}
}

func TestPublishValidation(t *testing.T) {
	c := &Client{cfg: testConfig()}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{"empty topic", "", []byte("x"), 1, ErrInvalidTopic},
		{"invalid qos", "rxhome/t", []byte("x"), 3, ErrInvalidQoS},
		{"oversized payload", "rxhome/t", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"disconnected", "rxhome/t", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPublishJSON_Unencodable(t *testing.T) {
	c := &Client{cfg: testConfig()}
	err := c.PublishJSON("rxhome/t", map[string]any{"ch": make(chan int)})
	if !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON() error = %v, want ErrPublishFailed", err)
	}
}

func TestCloseUnconnected(t *testing.T) {
	var nilClient *Client
	if err := nilClient.Close(); err != nil {
		t.Errorf("nil Close() = %v", err)
	}
	if err := (&Client{}).Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	c := &Client{}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck(cancelled) = %v, want context.Canceled", err)
	}
}

func TestTopicBuilders(t *testing.T) {
	topics := Topics{Site: "site-001"}

	tests := []struct {
		got  string
		want string
	}{
		{topics.Status(), "rxhome/site-001/auth/status"},
		{topics.AuthEvent("user_added"), "rxhome/site-001/auth/events/user_added"},
		{topics.AllAuthEvents(), "rxhome/site-001/auth/events/#"},
		{topics.Notify("phone"), "rxhome/site-001/notify/phone"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
		if !strings.HasPrefix(tt.got, TopicPrefix+"/") {
			t.Errorf("%q lacks prefix %q", tt.got, TopicPrefix)
		}
	}
}

func TestConnectAndPublish(t *testing.T) {
	client := connectOrSkip(t)

	if !client.IsConnected() {
		t.Fatal("IsConnected() = false after Connect")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}

	topic := Topics{Site: client.Site()}.AuthEvent("test")
	if err := client.PublishJSON(topic, map[string]string{"user_id": "u1"}); err != nil {
		t.Errorf("PublishJSON() = %v", err)
	}
}
