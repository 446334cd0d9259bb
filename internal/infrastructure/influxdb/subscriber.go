package influxdb

import (
	"context"

	"github.com/Hatles/rx-home-sub002/internal/auth"
	"github.com/Hatles/rx-home-sub002/internal/events"
)

// LoginWriter receives login attempts. *Client satisfies it.
type LoginWriter interface {
	WriteLoginAttempt(a LoginAttempt)
}

// SubscribeLoginAttempts writes every login_attempt event on bus to w.
// The returned func stops it.
func SubscribeLoginAttempts(bus *events.Bus, w LoginWriter) func() {
	return bus.Subscribe(auth.EventLoginAttempt, func(_ context.Context, ev events.Event) {
		w.WriteLoginAttempt(loginAttemptFrom(ev))
	})
}

func loginAttemptFrom(ev events.Event) LoginAttempt {
	str := func(key string) string {
		s, _ := ev.Data[key].(string)
		return s
	}
	return LoginAttempt{
		ProviderType: str("provider_type"),
		ProviderID:   str("provider_id"),
		Result:       str("result"),
		Reason:       str("reason"),
		UserID:       str("user_id"),
		IPAddress:    str("ip_address"),
		Time:         ev.Time,
	}
}
