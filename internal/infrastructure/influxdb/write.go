package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementLogin holds one point per finished login flow.
const MeasurementLogin = "auth_login"

// LoginAttempt is one finished login flow.
type LoginAttempt struct {
	ProviderType string
	ProviderID   string
	Result       string
	Reason       string
	UserID       string
	IPAddress    string
	Time         time.Time
}

// WriteLoginAttempt records a finished login flow. Provider and result are
// tags; user, address and reason are fields to keep series cardinality low.
func (c *Client) WriteLoginAttempt(a LoginAttempt) {
	tags := map[string]string{
		"provider_type": a.ProviderType,
		"result":        a.Result,
	}
	if a.ProviderID != "" {
		tags["provider_id"] = a.ProviderID
	}

	fields := map[string]any{"count": 1}
	if a.UserID != "" {
		fields["user_id"] = a.UserID
	}
	if a.IPAddress != "" {
		fields["ip_address"] = a.IPAddress
	}
	if a.Reason != "" {
		fields["reason"] = a.Reason
	}

	ts := a.Time
	if ts.IsZero() {
		ts = c.now()
	}
	c.WritePointWithTime(MeasurementLogin, tags, fields, ts)
}

// WritePoint writes a point stamped now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.WritePointWithTime(measurement, tags, fields, c.now())
}

// WritePointWithTime writes a point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
